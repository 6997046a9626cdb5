// Package iox provides I/O helpers for pipe and file cleanup.
package iox

import (
	"io"
	"sync"
)

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(w))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and discards the returned error.
// Use for cleanup calls on shutdown paths where errors are unactionable:
//
//	iox.DiscardErr(w.stdinC.Close)
func DiscardErr(fn func() error) { _ = fn() }

// OnceCloser wraps a closer so that only the first Close reaches it.
// Later calls return the first call's error. Closed reports whether Close
// has run, so owners can check before re-closing a pipe end.
type OnceCloser struct {
	c    io.Closer
	once sync.Once
	mu   sync.Mutex
	err  error
	done bool
}

// NewOnceCloser wraps c.
func NewOnceCloser(c io.Closer) *OnceCloser {
	return &OnceCloser{c: c}
}

// Close closes the wrapped closer on first call only.
func (o *OnceCloser) Close() error {
	o.once.Do(func() {
		err := o.c.Close()
		o.mu.Lock()
		o.err = err
		o.done = true
		o.mu.Unlock()
	})
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Closed reports whether Close has been called.
func (o *OnceCloser) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}
