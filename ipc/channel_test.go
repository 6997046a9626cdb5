package ipc

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"

	"github.com/justapithecus/spawnwire/types"
)

// fakeDiagnostics is a DiagnosticSource with fixed answers.
type fakeDiagnostics struct {
	text       string
	capturing  bool
	unexpected bool
}

func (f *fakeDiagnostics) Contents() (string, bool)   { return f.text, f.capturing }
func (f *fakeDiagnostics) Unexpected() (string, bool) { return f.text, f.unexpected }

// encodeRaw writes each value as one message, with no framing rules applied.
func encodeRaw(t *testing.T, values ...any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	enc := newEncoder(&buf)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			t.Fatalf("encode %v: %v", v, err)
		}
	}
	return &buf
}

func TestChannel_RoundTripGroups(t *testing.T) {
	tests := []struct {
		name   string
		verb   any
		groups []types.Group
	}{
		{"verb only", int64(5), nil},
		{"one group", "RANGE", []types.Group{{int64(1), int64(2)}}},
		{"two groups", "PING", []types.Group{{int64(1), int64(2)}, {int64(3)}}},
		{"nested and nil", int64(9), []types.Group{{[]any{int64(1), nil}, true}, {nil}, {int64(-4), uint64(1 << 63)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			sender := NewChannel(nil, &buf)
			if err := sender.SendCommand(tt.verb, tt.groups...); err != nil {
				t.Fatalf("SendCommand failed: %v", err)
			}

			reader := NewChannel(&buf, nil)
			batch, err := reader.ReadCommand()
			if err != nil {
				t.Fatalf("ReadCommand failed: %v", err)
			}

			want := (&types.ResultBatch{Verb: tt.verb, Groups: tt.groups}).Values()
			if got := batch.Values(); !reflect.DeepEqual(got, want) {
				t.Errorf("Values() = %#v, want %#v", got, want)
			}
			if buf.Len() != 0 {
				t.Errorf("%d bytes left unread after terminator", buf.Len())
			}
		})
	}
}

func TestChannel_SendCommandWireBytes(t *testing.T) {
	var buf bytes.Buffer
	c := NewChannel(nil, &buf)
	if err := c.SendCommand(1, types.Group{2}); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	want := []byte{0x01, 0x91, 0x02, 0x90}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("wire bytes = % x, want % x", buf.Bytes(), want)
	}
}

func TestChannel_SendResultsHasNoVerb(t *testing.T) {
	var buf bytes.Buffer
	c := NewChannel(nil, &buf)
	if err := c.SendResults(types.Group{int64(7)}); err != nil {
		t.Fatalf("SendResults failed: %v", err)
	}
	want := []byte{0x91, 0x07, 0x90}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("wire bytes = % x, want % x", buf.Bytes(), want)
	}
}

func TestChannel_SendResultsNoGroupsIsTerminatorOnly(t *testing.T) {
	var buf bytes.Buffer
	c := NewChannel(nil, &buf)
	if err := c.SendResults(); err != nil {
		t.Fatalf("SendResults failed: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{0x90}) {
		t.Errorf("wire bytes = % x, want 90", buf.Bytes())
	}
}

func TestChannel_QuitSendsReservedVerb(t *testing.T) {
	var buf bytes.Buffer
	c := NewChannel(nil, &buf)
	if err := c.Quit(); err != nil {
		t.Fatalf("Quit failed: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{0x00, 0x90}) {
		t.Errorf("wire bytes = % x, want 00 90", buf.Bytes())
	}
}

func TestChannel_WithQuitVerb(t *testing.T) {
	var buf bytes.Buffer
	c := NewChannel(nil, &buf, WithQuitVerb("QUIT"))
	if err := c.Quit(); err != nil {
		t.Fatalf("Quit failed: %v", err)
	}
	batch, err := NewChannel(&buf, nil).ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand failed: %v", err)
	}
	if batch.Verb != "QUIT" || len(batch.Groups) != 0 {
		t.Errorf("batch = %#v, want QUIT with no groups", batch)
	}
}

func TestChannel_EmptyGroupRejectedBeforeWrite(t *testing.T) {
	var buf bytes.Buffer
	c := NewChannel(nil, &buf)
	err := c.SendCommand("ROWS", types.Group{int64(1)}, types.Group{})
	if !errors.Is(err, ErrEmptyGroup) {
		t.Fatalf("SendCommand error = %v, want ErrEmptyGroup", err)
	}
	if buf.Len() != 0 {
		t.Errorf("%d bytes written for rejected command, want 0", buf.Len())
	}
}

func TestChannel_VerbReadUnconditionally(t *testing.T) {
	// An empty array in verb position is a verb, not a terminator.
	buf := encodeRaw(t, []any{}, []any{int64(1)}, []any{})
	batch, err := NewChannel(buf, nil).ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand failed: %v", err)
	}
	if !types.IsTerminator(batch.Verb) {
		t.Errorf("Verb = %#v, want empty array", batch.Verb)
	}
	if len(batch.Groups) != 1 {
		t.Fatalf("len(Groups) = %d, want 1", len(batch.Groups))
	}
}

func TestChannel_NormalizesStringsToBytes(t *testing.T) {
	buf := encodeRaw(t, "ROWS", []any{"abc", int64(1), []byte{0xff, 0x00}}, []any{})
	batch, err := NewChannel(buf, nil).ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand failed: %v", err)
	}
	if batch.Verb != "ROWS" {
		t.Errorf("Verb = %#v, want %q (verbs are not normalized)", batch.Verb, "ROWS")
	}
	group := batch.Groups[0]
	if b, ok := group[0].([]byte); !ok || string(b) != "abc" {
		t.Errorf("group[0] = %#v, want []byte(\"abc\")", group[0])
	}
	if group[1] != int64(1) {
		t.Errorf("group[1] = %#v, want int64(1)", group[1])
	}
	if b, ok := group[2].([]byte); !ok || !bytes.Equal(b, []byte{0xff, 0x00}) {
		t.Errorf("group[2] = %#v, want ff 00", group[2])
	}
}

func TestChannel_EndOfStream(t *testing.T) {
	tests := []struct {
		name        string
		values      []any
		wantPartial bool
		wantGroups  int
	}{
		{"before verb", nil, false, 0},
		{"after verb", []any{"PING"}, true, 0},
		{"after one group", []any{"PING", []any{int64(1)}}, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := encodeRaw(t, tt.values...)
			batch, err := NewChannel(buf, nil).ReadCommand()
			if batch != nil {
				t.Errorf("batch = %#v, want nil on truncated stream", batch)
			}
			if !IsEndOfStream(err) {
				t.Fatalf("error = %v, want end of stream", err)
			}
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("error type = %T, want *ProtocolError", err)
			}
			if perr.Msg != "unexpected end of stream" {
				t.Errorf("Msg = %q, want %q", perr.Msg, "unexpected end of stream")
			}
			if (perr.Partial != nil) != tt.wantPartial {
				t.Fatalf("Partial = %#v, wantPartial %v", perr.Partial, tt.wantPartial)
			}
			if perr.Partial != nil && len(perr.Partial.Groups) != tt.wantGroups {
				t.Errorf("partial groups = %d, want %d", len(perr.Partial.Groups), tt.wantGroups)
			}
		})
	}
}

func TestChannel_EndOfStreamMidValue(t *testing.T) {
	buf := encodeRaw(t, "PING", []any{int64(1), int64(2)})
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-1])
	_, err := NewChannel(truncated, nil).ReadCommand()
	if !IsEndOfStream(err) {
		t.Fatalf("error = %v, want end of stream", err)
	}
}

func TestChannel_EndOfStreamAttachesDiagnostics(t *testing.T) {
	buf := encodeRaw(t, "PING")
	diag := &fakeDiagnostics{text: "segfault", capturing: true}
	_, err := NewChannel(buf, nil, WithDiagnostics(diag)).ReadCommand()
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ProtocolError", err)
	}
	if perr.Diagnostics != "segfault" {
		t.Errorf("Diagnostics = %q, want %q", perr.Diagnostics, "segfault")
	}
}

func TestChannel_GroupNotArray(t *testing.T) {
	buf := encodeRaw(t, "PING", int64(5), []any{})
	_, err := NewChannel(buf, nil).ReadCommand()
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Kind != ProtocolErrorMalformed {
		t.Fatalf("error = %v, want malformed protocol error", err)
	}
}

func TestChannel_UndecodableMessage(t *testing.T) {
	// 0xc1 is reserved and never valid msgpack.
	_, err := NewChannel(bytes.NewReader([]byte{0xc1}), nil).ReadCommand()
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Kind != ProtocolErrorMalformed {
		t.Fatalf("error = %v, want malformed protocol error", err)
	}
}

func TestChannel_UnexpectedDiagnostics(t *testing.T) {
	buf := encodeRaw(t, "PING", []any{int64(1)}, []any{})
	diag := &fakeDiagnostics{text: "warn: low memory", capturing: true, unexpected: true}
	batch, err := NewChannel(buf, nil, WithDiagnostics(diag)).ReadCommand()
	if batch != nil {
		t.Errorf("batch = %#v, want nil", batch)
	}
	if !IsUnexpectedDiagnostic(err) {
		t.Fatalf("error = %v, want unexpected diagnostic", err)
	}
	var perr *ProtocolError
	errors.As(err, &perr)
	if perr.Diagnostics != "warn: low memory" {
		t.Errorf("Diagnostics = %q, want %q", perr.Diagnostics, "warn: low memory")
	}
	if perr.Partial == nil || len(perr.Partial.Groups) != 1 {
		t.Errorf("Partial = %#v, want the decoded results", perr.Partial)
	}
}

func TestChannel_ExpectedDiagnosticsPass(t *testing.T) {
	buf := encodeRaw(t, "PING", []any{})
	diag := &fakeDiagnostics{text: "covered", capturing: true, unexpected: false}
	if _, err := NewChannel(buf, nil, WithDiagnostics(diag)).ReadCommand(); err != nil {
		t.Fatalf("ReadCommand failed: %v", err)
	}
}

func TestChannel_ReadExpectedCommand(t *testing.T) {
	var buf bytes.Buffer
	c := NewChannel(&buf, &buf)
	if err := c.SendCommand(int64(32), types.Group{int64(8)}); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if err := c.SendCommand(int64(33)); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}

	if _, err := c.ReadExpectedCommand(32); err != nil {
		t.Fatalf("ReadExpectedCommand(32) failed: %v", err)
	}
	_, err := c.ReadExpectedCommand(32)
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Kind != ProtocolErrorUnexpectedVerb {
		t.Fatalf("error = %v, want unexpected verb", err)
	}
}

func TestChannel_ReadAfterCloseIsTransportError(t *testing.T) {
	r, w := io.Pipe()
	_ = w.Close()
	_ = r.Close()
	_, err := NewChannel(r, nil).ReadCommand()
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Kind != ProtocolErrorTransport {
		t.Fatalf("error = %v, want transport protocol error", err)
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("error = %v, want to wrap io.ErrClosedPipe", err)
	}
}

func TestChannel_WriteAfterCloseFails(t *testing.T) {
	r, w := io.Pipe()
	_ = r.Close()
	err := NewChannel(nil, w).SendCommand("PING")
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Kind != ProtocolErrorTransport {
		t.Fatalf("error = %v, want transport protocol error", err)
	}
}

func TestChannel_ConcurrentSendersDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	c := NewChannel(&buf, &buf)

	const senders = 8
	var wg sync.WaitGroup
	for i := range senders {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = c.SendCommand(int64(n), types.Group{int64(n), int64(n)}, types.Group{int64(n)})
		}(i)
	}
	wg.Wait()

	for range senders {
		batch, err := c.ReadCommand()
		if err != nil {
			t.Fatalf("ReadCommand failed: %v", err)
		}
		n := batch.Verb.(int64)
		want := []any{n, []any{n, n}, []any{n}}
		if got := batch.Values(); !reflect.DeepEqual(got, want) {
			t.Errorf("interleaved command: got %#v, want %#v", got, want)
		}
	}
}

func TestSameVerb(t *testing.T) {
	tests := []struct {
		a, b any
		want bool
	}{
		{0, int64(0), true},
		{int64(3), uint64(3), true},
		{int8(-1), int64(-1), true},
		{uint64(1 << 63), int64(-1), false},
		{"QUIT", []byte("QUIT"), true},
		{"QUIT", "quit", false},
		{nil, nil, true},
		{int64(0), nil, false},
	}
	for _, tt := range tests {
		if got := SameVerb(tt.a, tt.b); got != tt.want {
			t.Errorf("SameVerb(%#v, %#v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	data, err := Marshal([]any{int64(1), "x"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	v, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(v, []any{int64(1), "x"}) {
		t.Errorf("Unmarshal = %#v", v)
	}
}
