package ipc

import (
	"errors"
	"fmt"
	"io"

	"github.com/justapithecus/spawnwire/types"
)

// ErrEmptyGroup is returned when a caller tries to send an empty argument
// group. An empty group is indistinguishable from the terminator on the wire.
var ErrEmptyGroup = errors.New("argument group must not be empty")

// ProtocolErrorKind classifies protocol failures.
type ProtocolErrorKind int

const (
	// ProtocolErrorEndOfStream indicates the stream ended before a terminator.
	ProtocolErrorEndOfStream ProtocolErrorKind = iota
	// ProtocolErrorUnexpectedDiagnostic indicates the worker wrote diagnostic
	// output that no expectation covered.
	ProtocolErrorUnexpectedDiagnostic
	// ProtocolErrorUnexpectedVerb indicates a command arrived with a different
	// verb than the caller required.
	ProtocolErrorUnexpectedVerb
	// ProtocolErrorMalformed indicates an undecodable message or a group
	// message that is not an array.
	ProtocolErrorMalformed
	// ProtocolErrorTransport indicates the pipe itself failed (closed, broken).
	ProtocolErrorTransport
	// ProtocolErrorEncode indicates a value could not be msgpack-encoded.
	ProtocolErrorEncode
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case ProtocolErrorEndOfStream:
		return "end_of_stream"
	case ProtocolErrorUnexpectedDiagnostic:
		return "unexpected_diagnostic"
	case ProtocolErrorUnexpectedVerb:
		return "unexpected_verb"
	case ProtocolErrorMalformed:
		return "malformed"
	case ProtocolErrorTransport:
		return "transport"
	case ProtocolErrorEncode:
		return "encode"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ProtocolError reports a framing failure. Partial holds whatever was decoded
// before the failure and Diagnostics the worker's captured stderr at that
// point, both for debugging.
type ProtocolError struct {
	Kind        ProtocolErrorKind
	Msg         string
	Partial     *types.ResultBatch
	Diagnostics string
	Err         error
}

func (e *ProtocolError) Error() string {
	msg := e.Msg
	if e.Diagnostics != "" {
		msg = fmt.Sprintf("%s; diagnostic output: %q", msg, e.Diagnostics)
	}
	if e.Partial != nil {
		msg = fmt.Sprintf("%s (results were %v)", msg, e.Partial.Values())
	}
	if e.Err != nil && e.Kind != ProtocolErrorEndOfStream {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsEndOfStream reports whether err is a premature end-of-stream error.
func IsEndOfStream(err error) bool {
	return hasKind(err, ProtocolErrorEndOfStream)
}

// IsCleanClose reports whether err is an end of stream that fell between
// commands, before any byte of a verb was read.
func IsCleanClose(err error) bool {
	var perr *ProtocolError
	return asProtocolError(err, &perr) &&
		perr.Kind == ProtocolErrorEndOfStream &&
		perr.Partial == nil &&
		errors.Is(perr.Err, io.EOF)
}

// IsUnexpectedDiagnostic reports whether err flags unexpected diagnostic output.
func IsUnexpectedDiagnostic(err error) bool {
	return hasKind(err, ProtocolErrorUnexpectedDiagnostic)
}

func hasKind(err error, kind ProtocolErrorKind) bool {
	var perr *ProtocolError
	if asProtocolError(err, &perr) {
		return perr.Kind == kind
	}
	return false
}

func asProtocolError(err error, target **ProtocolError) bool {
	return errors.As(err, target)
}
