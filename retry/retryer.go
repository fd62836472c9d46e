package retry

import (
	"sync"
	"time"

	"github.com/jonwraymond/querykit/readiness"
)

// Func performs one producer invocation.
type Func func() (any, error)

// Config configures a Retryer. The zero value is usable: defaults are
// applied by New.
type Config struct {
	// Policy decides whether a failed attempt may be retried.
	// Defaults to RetryMax(DefaultRetries).
	Policy Policy

	// Delay computes the wait between attempts. Defaults to DefaultDelay.
	Delay DelayFunc

	// Online gates retry scheduling on connectivity.
	// Defaults to readiness.Online().
	Online *readiness.Tracker

	// Focused gates retry scheduling on visibility.
	// Defaults to readiness.Focused().
	Focused *readiness.Tracker

	// OnSuccess runs once if the execution resolves, before waiters on
	// the Future observe the value.
	OnSuccess func(value any)

	// OnError runs once if the execution rejects, with the final producer
	// error or a *CanceledError, before waiters observe the rejection.
	OnError func(err error)

	// OnFail runs after each failed attempt with the updated failure count
	// and that attempt's error. Terminal outcomes go to OnError instead.
	OnFail func(failures int, err error)

	// OnPause and OnContinue bracket suspensions waiting for a favorable
	// environment transition.
	OnPause    func()
	OnContinue func()
}

// Retryer governs one asynchronous execution: bounded retries with backoff,
// suspension while the environment is unfavorable, and cooperative
// cancellation. One Retryer corresponds to exactly one Start call and one
// Future settlement.
//
// Contract:
//   - All methods are safe for concurrent use.
//   - Callbacks run without internal locks held; they may call back into
//     the Retryer.
//   - Cancel settles the Future immediately. An attempt already running is
//     not preempted; its late outcome is discarded.
//   - Time spent paused never consumes the attempt budget or the delay.
type Retryer struct {
	cfg    Config
	future *Future

	mu         sync.Mutex
	failures   int
	paused     bool
	stopRetry  bool
	canceled   bool
	consumed   bool
	registered bool
	cancelFn   func()

	abort     chan struct{}
	abortOnce sync.Once
}

// New returns a Retryer for one execution, applying Config defaults.
func New(cfg Config) *Retryer {
	if cfg.Policy == nil {
		cfg.Policy = RetryMax(DefaultRetries)
	}
	if cfg.Delay == nil {
		cfg.Delay = DefaultDelay
	}
	if cfg.Online == nil {
		cfg.Online = readiness.Online()
	}
	if cfg.Focused == nil {
		cfg.Focused = readiness.Focused()
	}
	return &Retryer{
		cfg:    cfg,
		future: newFuture(),
		abort:  make(chan struct{}),
	}
}

// Start launches the execution on its own goroutine and returns its Future.
// It must be called exactly once.
func (r *Retryer) Start(fn Func) *Future {
	go r.run(fn)
	return r.future
}

// Future returns the settlement handle shared by everyone interested in
// this execution.
func (r *Retryer) Future() *Future { return r.future }

// FailureCount returns the number of failed attempts so far.
func (r *Retryer) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// IsPaused reports whether the execution is suspended waiting for a
// favorable environment transition.
func (r *Retryer) IsPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// IsResolved reports whether the execution has settled.
func (r *Retryer) IsResolved() bool { return r.future.IsSettled() }

// AbortSignal returns the channel closed when the execution is canceled,
// recording that the producer consumed the token. Owners use Cancelable to
// tell producers that engaged with cancellation apart from those that
// ignored it.
func (r *Retryer) AbortSignal() <-chan struct{} {
	r.mu.Lock()
	r.consumed = true
	r.mu.Unlock()
	return r.abort
}

// RegisterCancel installs the producer's own cancel capability, invoked on
// Cancel. Registering after cancellation runs fn immediately.
func (r *Retryer) RegisterCancel(fn func()) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.registered = true
	alreadyCanceled := r.canceled
	if !alreadyCanceled {
		r.cancelFn = fn
	}
	r.mu.Unlock()

	if alreadyCanceled {
		fn()
	}
}

// Cancelable reports whether the producer engaged with cooperative
// cancellation, either by consuming the abort signal or by registering a
// cancel capability.
func (r *Retryer) Cancelable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consumed || r.registered
}

// CancelOptions qualifies a cancellation.
type CancelOptions struct {
	// Revert asks the execution's owner to restore its pre-execution
	// state instead of recording the cancellation as a failure.
	Revert bool

	// Silent suppresses error dispatch for this cancellation.
	Silent bool
}

// Cancel aborts the execution: the Future settles immediately with a
// *CanceledError carrying opts, the abort signal fires, and any registered
// cancel capability is invoked once. A running attempt continues in the
// background to natural completion; its outcome is discarded. Canceling a
// settled execution is a no-op.
func (r *Retryer) Cancel(opts CancelOptions) {
	r.mu.Lock()
	if r.future.isClaimed() {
		r.mu.Unlock()
		return
	}
	r.canceled = true
	r.stopRetry = true
	cancelFn := r.cancelFn
	r.cancelFn = nil
	r.mu.Unlock()

	r.reject(&CanceledError{Revert: opts.Revert, Silent: opts.Silent})
	r.abortOnce.Do(func() { close(r.abort) })
	if cancelFn != nil {
		cancelFn()
	}
}

// CancelRetry stops future attempts without settling the execution: an
// attempt already in flight finishes and commits its outcome, and any
// subsequent failure becomes terminal.
func (r *Retryer) CancelRetry() {
	r.mu.Lock()
	r.stopRetry = true
	r.mu.Unlock()
}

// ContinueRetry re-allows attempts after CancelRetry, for owners whose
// interest returned while the execution was still in flight.
func (r *Retryer) ContinueRetry() {
	r.mu.Lock()
	if !r.canceled {
		r.stopRetry = false
	}
	r.mu.Unlock()
}

func (r *Retryer) resolve(value any) {
	if !r.future.claim() {
		return
	}
	if r.cfg.OnSuccess != nil {
		r.cfg.OnSuccess(value)
	}
	r.future.publish(value, nil)
}

func (r *Retryer) reject(err error) {
	if !r.future.claim() {
		return
	}
	if r.cfg.OnError != nil {
		r.cfg.OnError(err)
	}
	r.future.publish(nil, err)
}

func (r *Retryer) run(fn Func) {
	for {
		if r.future.isClaimed() {
			return
		}

		value, err := fn()
		if err == nil {
			r.resolve(value)
			return
		}
		if r.future.isClaimed() {
			// Canceled while the attempt ran; the late outcome is
			// discarded.
			return
		}

		r.mu.Lock()
		failures := r.failures
		stop := r.stopRetry
		r.mu.Unlock()

		if stop || !r.cfg.Policy(failures, err) {
			r.reject(err)
			return
		}

		delay := r.cfg.Delay(failures, err)

		r.mu.Lock()
		r.failures++
		failures = r.failures
		r.mu.Unlock()
		if r.cfg.OnFail != nil {
			r.cfg.OnFail(failures, err)
		}

		// An unfavorable environment suspends the execution before the
		// delay, so paused time never counts against the attempt budget.
		if !r.waitReady() {
			return
		}
		if !r.sleep(delay) {
			return
		}

		r.mu.Lock()
		stop = r.stopRetry
		r.mu.Unlock()
		if stop {
			r.reject(err)
			return
		}
	}
}

// waitReady blocks while the environment is unfavorable. It returns false
// when the execution was canceled during the wait.
func (r *Retryer) waitReady() bool {
	if r.cfg.Online.Value() && r.cfg.Focused.Value() {
		return true
	}

	wake := make(chan struct{}, 1)
	favorable := func(v bool) {
		if v {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
	cancelOnline := r.cfg.Online.Subscribe(favorable)
	defer cancelOnline()
	cancelFocused := r.cfg.Focused.Subscribe(favorable)
	defer cancelFocused()

	// Re-check after subscribing so a transition in between is not lost.
	if r.cfg.Online.Value() && r.cfg.Focused.Value() {
		return true
	}

	r.setPaused(true)
	if r.cfg.OnPause != nil {
		r.cfg.OnPause()
	}

	select {
	case <-wake:
		r.setPaused(false)
		if r.cfg.OnContinue != nil {
			r.cfg.OnContinue()
		}
		return true
	case <-r.abort:
		r.setPaused(false)
		return false
	}
}

func (r *Retryer) setPaused(v bool) {
	r.mu.Lock()
	r.paused = v
	r.mu.Unlock()
}

// sleep waits out the retry delay. It returns false when the execution was
// canceled during the wait.
func (r *Retryer) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.abort:
		return false
	}
}
