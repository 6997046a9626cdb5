// Package types defines the wire-level value shapes shared by the channel,
// the worker controller, and the transcript store.
//
//nolint:revive // types is a common Go package naming convention
package types

import "strconv"

// DefaultQuitVerb is the verb that asks a worker to leave its command loop.
const DefaultQuitVerb int64 = 0

// Group is one argument group: an ordered sequence of msgpack values.
// An empty Group is the terminator and never carries arguments.
type Group []any

// IsTerminator reports whether a decoded message is the canonical empty
// sequence that ends a command's group list.
func IsTerminator(v any) bool {
	switch g := v.(type) {
	case []any:
		return len(g) == 0
	case Group:
		return len(g) == 0
	default:
		return false
	}
}

// ParseVerb interprets a verb written as text, as on a command line:
// decimal integers become int64, anything else stays a string.
func ParseVerb(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

// Command is a verb followed by its argument groups.
type Command struct {
	Verb   any
	Groups []Group
}

// ResultBatch is one command as read back from a peer: the verb followed by
// every group received before the terminator, in arrival order.
type ResultBatch struct {
	Verb   any     `json:"verb" yaml:"verb"`
	Groups []Group `json:"groups" yaml:"groups"`
}

// Values flattens the batch into [verb, group1, group2, ...].
func (b *ResultBatch) Values() []any {
	if b == nil {
		return nil
	}
	out := make([]any, 0, len(b.Groups)+1)
	out = append(out, b.Verb)
	for _, g := range b.Groups {
		out = append(out, []any(g))
	}
	return out
}

// Command converts the batch back into a Command, e.g. for echoing.
func (b *ResultBatch) Command() Command {
	return Command{Verb: b.Verb, Groups: b.Groups}
}
