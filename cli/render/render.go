// Package render prints command results for the spawnwire CLI.
//
// Output goes to stdout as a table when stdout is a terminal and as JSON
// otherwise, unless --format says which. --no-color turns off header styling
// in tables; JSON and YAML output never carry styling.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format is an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a --format value. The empty string parses to the empty
// format, which NewRenderer replaces with the terminal default.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(s))
	switch f {
	case "", FormatJSON, FormatTable, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
}

var headerStyle = lipgloss.NewStyle().Bold(true)

// Renderer writes values in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer builds a stdout renderer from the --format and --no-color flags.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatJSON
		if isatty.IsTerminal(os.Stdout.Fd()) {
			format = FormatTable
		}
	}
	return NewRendererWithWriter(format, c.Bool("no-color"), os.Stdout), nil
}

// NewRendererWithWriter builds a renderer that writes to out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Format returns the format in effect.
func (r *Renderer) Format() Format {
	return r.format
}

// Render writes data. Tables accept a struct, a map, or a slice of either.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.writeTable(tableOf(reflect.ValueOf(data)))
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// table is a grid of cells. A table without a header prints as "key: value"
// lines.
type table struct {
	header []string
	rows   [][]string
}

func (r *Renderer) writeTable(t table) error {
	if t.header != nil && len(t.rows) == 0 {
		_, err := fmt.Fprintln(r.out, "(no results)")
		return err
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	if t.header != nil {
		fmt.Fprintln(w, strings.Join(t.header, "\t"))
	}
	for _, row := range t.rows {
		if t.header == nil {
			fmt.Fprintf(w, "%s:\t%s\n", row[0], row[1])
			continue
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	// Styled after alignment so escape codes do not count toward widths.
	out := buf.String()
	if t.header != nil && !r.noColor {
		first, rest, _ := strings.Cut(out, "\n")
		out = headerStyle.Render(first) + "\n" + rest
	}
	_, err := io.WriteString(r.out, out)
	return err
}

// tableOf lays v out as a table: one row per element for slices, one
// "key: value" row per field or map entry otherwise.
func tableOf(v reflect.Value) table {
	v = indirect(v)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		t := table{header: []string{}}
		for i := range v.Len() {
			fields := fieldsOf(v.Index(i))
			if i == 0 {
				for _, f := range fields {
					t.header = append(t.header, f[0])
				}
			}
			row := make([]string, len(fields))
			for j, f := range fields {
				row[j] = f[1]
			}
			t.rows = append(t.rows, row)
		}
		return t
	case reflect.Struct, reflect.Map:
		return table{rows: fieldsOf(v)}
	default:
		return table{rows: [][]string{{"value", cell(v)}}}
	}
}

// fieldsOf returns name/value pairs for the fields of a struct or the
// entries of a map, maps sorted by key.
func fieldsOf(v reflect.Value) [][]string {
	v = indirect(v)
	var out [][]string
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			if !t.Field(i).IsExported() {
				continue
			}
			out = append(out, []string{fieldName(t.Field(i)), cell(v.Field(i))})
		}
	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		for _, k := range keys {
			out = append(out, []string{fmt.Sprint(k.Interface()), cell(v.MapIndex(k))})
		}
	default:
		out = append(out, []string{"value", cell(v)})
	}
	return out
}

// fieldName is the json name of f, or its lowercased Go name.
func fieldName(f reflect.StructField) string {
	if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
		return name
	}
	return strings.ToLower(f.Name)
}

func cell(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}
	return formatInline(v.Interface())
}

// indirect follows pointers and interfaces to the value they hold.
func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}
