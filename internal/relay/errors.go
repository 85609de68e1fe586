package relay

import "errors"

// ErrClosed is returned by Send and Terminate after Close.
var ErrClosed = errors.New("relay closed")
