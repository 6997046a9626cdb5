package runtime

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Capture selects where a worker's stderr goes. It is either NoCapture or
// CaptureToFile; no other implementations exist.
type Capture interface {
	isCapture()
}

// NoCapture leaves the worker's stderr inherited from the harness.
type NoCapture struct{}

// CaptureToFile redirects the worker's stderr to Path (created or truncated).
type CaptureToFile struct {
	Path string
}

func (NoCapture) isCapture()     {}
func (CaptureToFile) isCapture() {}

// Diagnostics reads a worker's captured stderr and checks it against
// expectations. It implements ipc.DiagnosticSource.
//
// The file is written only by the worker, so Contents must only be called once
// the worker has finished producing the output of an exchange.
type Diagnostics struct {
	capture          Capture
	ignoreUnexpected bool

	mu       sync.Mutex
	armed    bool
	expected string
}

// NewDiagnostics creates a Diagnostics for capture. ignoreUnexpected disables
// the implicit check done after each read.
func NewDiagnostics(capture Capture, ignoreUnexpected bool) *Diagnostics {
	if capture == nil {
		capture = NoCapture{}
	}
	return &Diagnostics{capture: capture, ignoreUnexpected: ignoreUnexpected}
}

// Capture returns the capture mode in effect.
func (d *Diagnostics) Capture() Capture {
	return d.capture
}

// Capturing reports whether stderr goes to a file.
func (d *Diagnostics) Capturing() bool {
	_, ok := d.capture.(CaptureToFile)
	return ok
}

// Contents returns the captured output with one trailing newline removed.
// The boolean is false when nothing is captured. A capture file that does not
// exist yet reads as empty. An unreadable file is reported as its read error
// so that it can never pass as empty.
func (d *Diagnostics) Contents() (string, bool) {
	file, ok := d.capture.(CaptureToFile)
	if !ok {
		return "", false
	}
	data, err := os.ReadFile(file.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", true
		}
		return fmt.Sprintf("(unreadable diagnostic file: %v)", err), true
	}
	return chomp(string(data)), true
}

// Unexpected implements ipc.DiagnosticSource: output is unexpected when it is
// non-empty, no expectation is armed, and the check is not ignored.
func (d *Diagnostics) Unexpected() (string, bool) {
	if d.ignoreUnexpected || !d.Capturing() {
		return "", false
	}
	d.mu.Lock()
	armed := d.armed
	d.mu.Unlock()
	if armed {
		return "", false
	}
	text, _ := d.Contents()
	return text, text != ""
}

// Armed reports whether an expectation is currently armed.
func (d *Diagnostics) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Expect runs op with the expectation that, afterward, the captured output
// equals text (or "" when text is nil). The comparison and disarming happen
// unconditionally after op, even when op fails or panics. When nothing is
// captured the expectation is never armed and the scope always passes.
//
// A mismatch is returned as *DiagnosticMismatchError, joined with op's own
// error when both fail.
func (d *Diagnostics) Expect(text *string, op func() error) (err error) {
	if d.Capturing() {
		expected := ""
		if text != nil {
			expected = *text
		}
		d.mu.Lock()
		d.armed = true
		d.expected = expected
		d.mu.Unlock()
	}

	defer func() {
		mismatch := d.settle()
		switch {
		case mismatch == nil:
		case err == nil:
			err = mismatch
		default:
			err = errors.Join(err, mismatch)
		}
	}()

	return op()
}

// settle compares the captured output with the armed expectation and disarms.
func (d *Diagnostics) settle() error {
	d.mu.Lock()
	armed, expected := d.armed, d.expected
	d.armed = false
	d.expected = ""
	d.mu.Unlock()

	if !armed {
		return nil
	}
	actual, _ := d.Contents()
	if actual != expected {
		return &DiagnosticMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}

// chomp removes one trailing "\r\n", "\n", or "\r".
func chomp(s string) string {
	if strings.HasSuffix(s, "\r\n") {
		return s[:len(s)-2]
	}
	if strings.HasSuffix(s, "\n") || strings.HasSuffix(s, "\r") {
		return s[:len(s)-1]
	}
	return s
}
