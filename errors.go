package stampede

import "errors"

// ErrLockTimeout is returned by GetMutex when the rebuild lock could not be
// acquired before the configured wait deadline. Callers may retry or fall
// back to the backend directly.
var ErrLockTimeout = errors.New("stampede: rebuild lock wait deadline exceeded")
