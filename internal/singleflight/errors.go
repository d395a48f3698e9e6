package singleflight

import "errors"

// ErrPanicked wraps a panic raised by a call's function so every waiter
// receives an error instead of blocking forever.
var ErrPanicked = errors.New("singleflight: call panicked")
