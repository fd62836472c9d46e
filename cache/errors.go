package cache

import "errors"

var (
	// ErrEmptyKey indicates a query key with no segments.
	ErrEmptyKey = errors.New("cache: query key is empty")

	// ErrNoFetchFunc indicates a fetch was dispatched for a query that has
	// no fetch function configured.
	ErrNoFetchFunc = errors.New("cache: no fetch function")

	// ErrAlreadySubscribed indicates Subscribe was called on an observer
	// that already has an active subscription.
	ErrAlreadySubscribed = errors.New("cache: observer already subscribed")

	// ErrNotSubscribed indicates an operation that requires an active
	// subscription, such as Observer.Refetch, was called without one.
	ErrNotSubscribed = errors.New("cache: observer is not subscribed")
)
