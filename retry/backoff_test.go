package retry

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultDelay_DoublesAndCaps(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := DefaultDelay(tc.failures, nil); got != tc.want {
			t.Errorf("DefaultDelay(%d) = %v, want %v", tc.failures, got, tc.want)
		}
	}
}

func TestExponentialDelay_CustomBase(t *testing.T) {
	fn := ExponentialDelay(100*time.Millisecond, time.Second)

	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{30, time.Second},
	}
	for _, tc := range cases {
		if got := fn(tc.failures, nil); got != tc.want {
			t.Errorf("ExponentialDelay(100ms, 1s)(%d) = %v, want %v", tc.failures, got, tc.want)
		}
	}
}

func TestExponentialDelay_OverflowClampsToLimit(t *testing.T) {
	fn := ExponentialDelay(time.Second, 30*time.Second)
	if got := fn(500, nil); got != 30*time.Second {
		t.Errorf("ExponentialDelay at huge failure count = %v, want the limit", got)
	}
}

func TestConstantDelay(t *testing.T) {
	fn := ConstantDelay(42 * time.Millisecond)
	for _, failures := range []int{0, 1, 100} {
		if got := fn(failures, nil); got != 42*time.Millisecond {
			t.Errorf("ConstantDelay(42ms)(%d) = %v, want 42ms", failures, got)
		}
	}
}

func TestJitterDelay_StaysWithinSpread(t *testing.T) {
	base := 100 * time.Millisecond
	fn := JitterDelay(ConstantDelay(base), 0.5)

	lo := 50 * time.Millisecond
	hi := 150 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := fn(0, nil)
		if got < lo || got > hi {
			t.Fatalf("JitterDelay produced %v, want within [%v, %v]", got, lo, hi)
		}
	}
}

func TestJitterDelay_InvalidFractionPassesThrough(t *testing.T) {
	inner := ConstantDelay(time.Second)
	for _, fraction := range []float64{0, -1, 1.5} {
		fn := JitterDelay(inner, fraction)
		if got := fn(3, nil); got != time.Second {
			t.Errorf("JitterDelay(fraction=%v)(3) = %v, want 1s", fraction, got)
		}
	}
}

func TestRetryMax(t *testing.T) {
	p := RetryMax(3)
	err := errors.New("boom")

	for failures := 0; failures < 3; failures++ {
		if !p(failures, err) {
			t.Errorf("RetryMax(3)(%d) = false, want true", failures)
		}
	}
	if p(3, err) {
		t.Error("RetryMax(3)(3) = true, want false")
	}
}

func TestRetryNeverAndAlways(t *testing.T) {
	err := errors.New("boom")

	if RetryNever()(0, err) {
		t.Error("RetryNever()(0) = true, want false")
	}
	if !RetryAlways()(1000, err) {
		t.Error("RetryAlways()(1000) = false, want true")
	}
}
