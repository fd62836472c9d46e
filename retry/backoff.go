package retry

import (
	"math"
	"math/rand"
	"time"
)

const (
	// DefaultRetries bounds attempts when no Policy is configured: the
	// initial attempt plus up to three retries.
	DefaultRetries = 3

	// DefaultBackoffBase is the first retry delay under DefaultDelay.
	DefaultBackoffBase = time.Second

	// DefaultBackoffCap bounds DefaultDelay growth.
	DefaultBackoffCap = 30 * time.Second
)

// Policy decides whether a failed attempt may be retried. failures is the
// number of failures so far, starting at zero for the first; err is the
// error the attempt returned.
type Policy func(failures int, err error) bool

// RetryNever disallows all retries; the first failure is terminal.
func RetryNever() Policy {
	return func(int, error) bool { return false }
}

// RetryAlways retries every failure without bound. Use with a Policy-aware
// cancel path; an execution under RetryAlways only ends on success or
// cancellation.
func RetryAlways() Policy {
	return func(int, error) bool { return true }
}

// RetryMax allows up to n retries after the initial attempt.
func RetryMax(n int) Policy {
	return func(failures int, _ error) bool { return failures < n }
}

// DelayFunc computes the wait before the next attempt. failures counts
// failures so far starting at zero, so the first retry sees failures == 0.
type DelayFunc func(failures int, err error) time.Duration

// DefaultDelay doubles from DefaultBackoffBase per failure and caps at
// DefaultBackoffCap.
func DefaultDelay(failures int, err error) time.Duration {
	return ExponentialDelay(DefaultBackoffBase, DefaultBackoffCap)(failures, err)
}

// ConstantDelay waits the same duration before every attempt.
func ConstantDelay(d time.Duration) DelayFunc {
	return func(int, error) time.Duration { return d }
}

// ExponentialDelay doubles from base per failure, capped at limit.
func ExponentialDelay(base, limit time.Duration) DelayFunc {
	return func(failures int, _ error) time.Duration {
		d := time.Duration(float64(base) * math.Pow(2, float64(failures)))
		if d <= 0 || d > limit {
			return limit
		}
		return d
	}
}

// JitterDelay spreads another DelayFunc's output by up to fraction of its
// value in either direction, to avoid synchronized retry storms across many
// executions. fraction outside (0, 1] disables the jitter.
func JitterDelay(fn DelayFunc, fraction float64) DelayFunc {
	if fraction <= 0 || fraction > 1 {
		return fn
	}
	return func(failures int, err error) time.Duration {
		d := fn(failures, err)
		if d <= 0 {
			return d
		}
		spread := float64(d) * fraction
		jittered := float64(d) - spread + rand.Float64()*2*spread
		if jittered < 0 {
			return 0
		}
		return time.Duration(jittered)
	}
}
