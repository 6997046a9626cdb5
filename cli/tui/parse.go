package tui

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/justapithecus/spawnwire/types"
)

// InputKind classifies a console input line.
type InputKind int

const (
	// InputCommand sends a command and reads the answer.
	InputCommand InputKind = iota
	// InputQuit sends the quit verb and leaves the console.
	InputQuit
	// InputDiagnostics shows the captured worker stderr.
	InputDiagnostics
	// InputHelp shows the input syntax.
	InputHelp
	// InputEmpty is a blank line.
	InputEmpty
)

// Input is a parsed console line.
type Input struct {
	Kind   InputKind
	Verb   any
	Groups []types.Group
}

// Console meta commands.
const (
	metaQuit        = ":quit"
	metaDiagnostics = ":stderr"
	metaHelp        = ":help"
)

// helpText describes the input syntax.
const helpText = `VERB [group]...   send a command; VERB is an integer or a word,
                  each group a JSON array, e.g.  PING [1, 2] ["x"]
:stderr           show captured worker stderr
:quit             send the quit verb and exit`

// ParseInput parses a console line: a verb followed by zero or more JSON
// arrays, one per argument group. Integer literals become int64 and JSON
// strings stay strings, so they go on the wire as msgpack str. Empty groups
// are rejected because they read as the end of the command.
func ParseInput(line string) (Input, error) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return Input{Kind: InputEmpty}, nil
	case metaQuit:
		return Input{Kind: InputQuit}, nil
	case metaDiagnostics:
		return Input{Kind: InputDiagnostics}, nil
	case metaHelp:
		return Input{Kind: InputHelp}, nil
	}
	if strings.HasPrefix(line, ":") {
		return Input{}, fmt.Errorf("unknown console command %q (try %s)", line, metaHelp)
	}

	verbText, rest, _ := strings.Cut(line, " ")
	groups, err := ParseGroups(rest)
	if err != nil {
		return Input{}, err
	}
	return Input{Kind: InputCommand, Verb: types.ParseVerb(verbText), Groups: groups}, nil
}

// ParseGroups parses a sequence of JSON arrays, one per argument group.
// Integer literals become int64. Empty groups are rejected because they
// read as the end of the command.
func ParseGroups(text string) ([]types.Group, error) {
	var groups []types.Group
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	for {
		var raw any
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			return groups, nil
		}
		if err != nil {
			return nil, fmt.Errorf("group %d: %w", len(groups)+1, err)
		}
		arr, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("group %d: want a JSON array, got %s", len(groups)+1, jsonKind(raw))
		}
		if len(arr) == 0 {
			return nil, fmt.Errorf("group %d: groups must not be empty", len(groups)+1)
		}
		groups = append(groups, types.Group(convertJSON(arr).([]any)))
	}
}

// convertJSON turns json.Number into int64 or float64, recursively.
func convertJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = convertJSON(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = convertJSON(x[k])
		}
		return x
	default:
		return v
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "an object"
	case string:
		return "a string"
	case json.Number:
		return "a number"
	case bool:
		return "a boolean"
	default:
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(v)
		return strings.TrimSpace(buf.String())
	}
}
