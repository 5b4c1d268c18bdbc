package storage

import (
	"errors"
)

// ErrWouldBlock signals that a non-blocking lock attempt failed because
// another process holds the lock.
var ErrWouldBlock = errors.New("file lock would block")
