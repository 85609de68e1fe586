package storage

import "errors"

// ErrNotFound is returned when a call record does not exist.
var ErrNotFound = errors.New("call not found")
