package app

import "errors"

// ErrNotFound and related errors describe lookup and contention failures.
var (
	ErrNotFound         = errors.New("not found")
	ErrConcurrentUpdate = errors.New("concurrent update")
	ErrNothingClaimed   = errors.New("none of the requested work units are available")
)
