// Package ipc implements the command channel spoken with worker processes.
//
// Every message is one msgpack value. A command is a verb message, zero or
// more argument-group messages (arrays), and exactly one empty array as the
// terminator. Replies use the same framing without the verb.
package ipc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/spawnwire/types"
)

// DiagnosticSource exposes a worker's captured diagnostic output to the
// channel so it can refuse to return results while unexpected stderr is
// pending.
type DiagnosticSource interface {
	// Contents returns the captured text, or false when nothing is captured.
	Contents() (string, bool)
	// Unexpected returns the captured text and true when there is non-empty
	// output that no armed expectation covers.
	Unexpected() (string, bool)
}

// Channel sends and reads framed commands over a pipe pair.
// Writes are serialized; a command is encoded in full before the single
// write that puts it on the pipe.
type Channel struct {
	wmu sync.Mutex
	w   io.Writer

	rmu sync.Mutex
	dec *msgpack.Decoder

	diag     DiagnosticSource
	quitVerb any
}

// Option configures a Channel.
type Option func(*Channel)

// WithDiagnostics attaches a diagnostic source for the post-read check.
func WithDiagnostics(d DiagnosticSource) Option {
	return func(c *Channel) { c.diag = d }
}

// WithQuitVerb overrides the verb sent by Quit.
func WithQuitVerb(verb any) Option {
	return func(c *Channel) { c.quitVerb = verb }
}

// NewChannel binds a channel to r (the peer's output) and w (the peer's input).
// The channel owns a buffered decoder over r for its whole lifetime.
func NewChannel(r io.Reader, w io.Writer, opts ...Option) *Channel {
	c := &Channel{
		w:        w,
		dec:      newDecoder(r),
		quitVerb: types.DefaultQuitVerb,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QuitVerb returns the verb Quit sends.
func (c *Channel) QuitVerb() any {
	return c.quitVerb
}

// SendCommand writes verb, each group, and the terminator.
func (c *Channel) SendCommand(verb any, groups ...types.Group) error {
	return c.send(true, verb, groups)
}

// SendResults writes each group and the terminator, without a verb.
func (c *Channel) SendResults(groups ...types.Group) error {
	return c.send(false, nil, groups)
}

// Quit asks the worker to leave its command loop.
func (c *Channel) Quit() error {
	return c.SendCommand(c.quitVerb)
}

func (c *Channel) send(hasVerb bool, verb any, groups []types.Group) error {
	var buf bytes.Buffer
	if err := encodeCommand(&buf, hasVerb, verb, groups); err != nil {
		if errors.Is(err, ErrEmptyGroup) {
			return err
		}
		return &ProtocolError{Kind: ProtocolErrorEncode, Msg: "failed to encode command", Err: err}
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(buf.Bytes()); err != nil {
		return &ProtocolError{Kind: ProtocolErrorTransport, Msg: "failed to write command", Err: err}
	}
	return nil
}

// ReadCommand reads one verb and then groups until the terminator.
//
// Errors:
//   - *ProtocolError{Kind: ProtocolErrorEndOfStream}: the stream ended first
//   - *ProtocolError{Kind: ProtocolErrorMalformed}: a group was not an array
//   - *ProtocolError{Kind: ProtocolErrorUnexpectedDiagnostic}: the worker
//     wrote stderr output that no expectation covers
func (c *Channel) ReadCommand() (*types.ResultBatch, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	// A stream that ends here ends cleanly, between commands.
	if _, err := c.dec.PeekCode(); err != nil {
		return nil, c.readError(err, nil)
	}
	// The verb is read unconditionally, even when it looks like an empty array.
	verb, err := c.dec.DecodeInterfaceLoose()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, c.readError(err, nil)
	}
	batch := &types.ResultBatch{Verb: verb}

	for {
		msg, err := c.dec.DecodeInterfaceLoose()
		if err != nil {
			return nil, c.readError(err, batch)
		}
		if types.IsTerminator(msg) {
			break
		}
		group, ok := msg.([]any)
		if !ok {
			return nil, &ProtocolError{
				Kind:    ProtocolErrorMalformed,
				Msg:     fmt.Sprintf("argument group is %T, want array", msg),
				Partial: batch,
			}
		}
		batch.Groups = append(batch.Groups, normalizeGroup(group))
	}

	if c.diag != nil {
		if text, unexpected := c.diag.Unexpected(); unexpected {
			return nil, &ProtocolError{
				Kind:        ProtocolErrorUnexpectedDiagnostic,
				Msg:         "unexpected diagnostic output",
				Partial:     batch,
				Diagnostics: text,
			}
		}
	}
	return batch, nil
}

// ReadExpectedCommand reads a command and fails unless its verb equals verb.
func (c *Channel) ReadExpectedCommand(verb any) (*types.ResultBatch, error) {
	batch, err := c.ReadCommand()
	if err != nil {
		return nil, err
	}
	if !SameVerb(batch.Verb, verb) {
		return nil, &ProtocolError{
			Kind:    ProtocolErrorUnexpectedVerb,
			Msg:     fmt.Sprintf("expected verb %v, got %v", verb, batch.Verb),
			Partial: batch,
		}
	}
	return batch, nil
}

func (c *Channel) readError(err error, partial *types.ResultBatch) error {
	perr := &ProtocolError{Partial: partial, Err: err}
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		perr.Kind = ProtocolErrorEndOfStream
		perr.Msg = "unexpected end of stream"
	case errors.Is(err, os.ErrClosed), errors.Is(err, io.ErrClosedPipe), isPathError(err):
		perr.Kind = ProtocolErrorTransport
		perr.Msg = "failed to read command"
	default:
		perr.Kind = ProtocolErrorMalformed
		perr.Msg = "failed to decode message"
	}
	if c.diag != nil {
		if text, ok := c.diag.Contents(); ok {
			perr.Diagnostics = text
		}
	}
	return perr
}

func isPathError(err error) bool {
	var pathErr *fs.PathError
	return errors.As(err, &pathErr)
}

// SameVerb compares verbs across integer widths: a verb sent as int and read
// back as int64 or uint64 is the same verb.
func SameVerb(a, b any) bool {
	ai, aok := asInt(a)
	bi, bok := asInt(b)
	if aok && bok {
		return ai == bi
	}
	if ab, ok := a.([]byte); ok {
		a = string(ab)
	}
	if bb, ok := b.([]byte); ok {
		b = string(bb)
	}
	return reflect.DeepEqual(a, b)
}

func asInt(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > 1<<63-1 {
			return 0, false
		}
		return int64(u), true
	default:
		return 0, false
	}
}
