package retry

import "errors"

// ErrPending is returned by Future.Result before the execution settles.
var ErrPending = errors.New("retry: execution has not settled")

// CanceledError is the settlement error of a deliberately canceled
// execution, distinct from any error the producer returned.
type CanceledError struct {
	// Revert asks the owner of the execution to restore the state it held
	// before the execution began, rather than recording the cancellation
	// as a failure.
	Revert bool

	// Silent suppresses error dispatch for this cancellation; the Future
	// still rejects, but owners skip committing or reporting the error.
	Silent bool
}

func (e *CanceledError) Error() string { return "retry: execution canceled" }

// IsCanceled reports whether err is or wraps a *CanceledError.
func IsCanceled(err error) bool {
	var ce *CanceledError
	return errors.As(err, &ce)
}

// AsCanceled returns the *CanceledError in err's chain, if any.
func AsCanceled(err error) (*CanceledError, bool) {
	var ce *CanceledError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
