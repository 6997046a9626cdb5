package ipc

import (
	"bytes"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/spawnwire/types"
)

// newEncoder returns an encoder that writes ints in their smallest form,
// matching what msgpack implementations in other languages emit.
func newEncoder(w io.Writer) *msgpack.Encoder {
	enc := msgpack.NewEncoder(w)
	enc.UseCompactInts(true)
	return enc
}

// newDecoder returns a decoder that widens integers to int64/uint64 so that
// callers never see int8 vs int16 depending on magnitude.
func newDecoder(r io.Reader) *msgpack.Decoder {
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)
	return dec
}

// Marshal encodes v as a single message.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := newEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes one message using the same loose rules as the channel.
func Unmarshal(data []byte) (any, error) {
	return newDecoder(bytes.NewReader(data)).DecodeInterfaceLoose()
}

// encodeCommand appends the wire form of one command (or reply when hasVerb
// is false) to buf: verb, each group, then the empty-array terminator.
func encodeCommand(buf *bytes.Buffer, hasVerb bool, verb any, groups []types.Group) error {
	for _, g := range groups {
		if len(g) == 0 {
			return ErrEmptyGroup
		}
	}

	enc := newEncoder(buf)
	if hasVerb {
		if err := enc.Encode(verb); err != nil {
			return err
		}
	}
	for _, g := range groups {
		if err := enc.Encode([]any(g)); err != nil {
			return err
		}
	}
	return enc.EncodeArrayLen(0)
}

// normalizeGroup folds str values into []byte. Worker payloads are binary row
// data and a peer may tag them either way.
func normalizeGroup(group []any) types.Group {
	for i, v := range group {
		if s, ok := v.(string); ok {
			group[i] = []byte(s)
		}
	}
	return types.Group(group)
}
