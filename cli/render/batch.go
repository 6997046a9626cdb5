package render

import (
	"encoding/hex"
	"fmt"
	"strings"
	"text/tabwriter"
	"unicode"
	"unicode/utf8"

	"github.com/justapithecus/spawnwire/lode"
	"github.com/justapithecus/spawnwire/types"
)

// BatchView is the printable form of a result batch.
type BatchView struct {
	Verb   any     `json:"verb" yaml:"verb"`
	Groups [][]any `json:"groups" yaml:"groups"`
}

// NewBatchView converts a batch for display. Byte strings are shown as text
// when they read as text and as 0x-prefixed hex otherwise.
func NewBatchView(batch *types.ResultBatch) BatchView {
	view := BatchView{Groups: make([][]any, len(batch.Groups))}
	view.Verb = DisplayValue(batch.Verb)
	for i, g := range batch.Groups {
		row := make([]any, len(g))
		for j, v := range g {
			row[j] = DisplayValue(v)
		}
		view.Groups[i] = row
	}
	return view
}

// DisplayValue converts a decoded wire value into something every output
// format can print.
func DisplayValue(v any) any {
	switch x := v.(type) {
	case []byte:
		if isText(x) {
			return string(x)
		}
		return "0x" + hex.EncodeToString(x)
	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			out[i] = DisplayValue(elem)
		}
		return out
	case types.Group:
		return DisplayValue([]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			out[k] = DisplayValue(elem)
		}
		return out
	default:
		return v
	}
}

// isText reports whether b reads as text: valid UTF-8 made of printable
// characters and whitespace, not opening with a combining mark.
func isText(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for i, r := range string(b) {
		if i == 0 && unicode.IsMark(r) {
			return false
		}
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// RenderBatch outputs one result batch.
func (r *Renderer) RenderBatch(batch *types.ResultBatch) error {
	view := NewBatchView(batch)
	if r.format != FormatTable {
		return r.Render(view)
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "verb:\t%s\n", formatInline(view.Verb))
	if len(view.Groups) == 0 {
		fmt.Fprintln(w, "groups:\t(none)")
	}
	for i, g := range view.Groups {
		fmt.Fprintf(w, "group %d:\t%s\n", i, formatInline(g))
	}
	return w.Flush()
}

// TranscriptRow is one line of the transcript table.
type TranscriptRow struct {
	Seq       int64  `json:"seq"`
	Direction string `json:"direction"`
	Verb      string `json:"verb"`
	Groups    string `json:"groups"`
	Error     string `json:"error"`
	Ts        string `json:"ts"`
}

// RenderTranscript outputs transcript records. Table output shows one row per
// record; JSON and YAML output the records unchanged.
func (r *Renderer) RenderTranscript(records []lode.TranscriptRecord) error {
	if r.format != FormatTable {
		if records == nil {
			records = []lode.TranscriptRecord{}
		}
		return r.Render(records)
	}

	rows := make([]TranscriptRow, len(records))
	for i, rec := range records {
		row := TranscriptRow{
			Seq:       rec.Seq,
			Direction: rec.Direction,
			Groups:    formatInline(rec.Groups),
			Error:     rec.Error,
			Ts:        rec.Ts,
		}
		if rec.HasVerb {
			row.Verb = formatInline(rec.Verb)
		}
		rows[i] = row
	}
	return r.Render(rows)
}

// formatInline prints a value on one line: arrays in brackets, strings
// quoted only when they contain spaces.
func formatInline(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		if x == "" || strings.ContainsAny(x, " \t\n") {
			return fmt.Sprintf("%q", x)
		}
		return x
	case []any:
		parts := make([]string, len(x))
		for i, elem := range x {
			parts[i] = formatInline(elem)
		}
		return "[" + strings.Join(parts, " ") + "]"
	default:
		return fmt.Sprint(x)
	}
}
