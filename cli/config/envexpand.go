package config

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envRef matches $${...} (an escaped reference), ${VAR}, ${VAR:-default}
// and ${VAR:?message}.
var envRef = regexp.MustCompile(`\$?\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:[-?])([^}]*))?\}`)

// ExpandEnv expands environment references in input using lookup, or
// os.LookupEnv when lookup is nil:
//
//	${VAR}            value of VAR, empty if unset
//	${VAR:-default}   value of VAR, default if unset or empty
//	${VAR:?message}   value of VAR, an error naming message if unset or empty
//	$${VAR}           the literal text ${VAR}
//
// Every missing required variable is reported.
func ExpandEnv(input string, lookup func(string) (string, bool)) (string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var (
		out     strings.Builder
		missing []error
		last    int
	)
	for _, m := range envRef.FindAllStringSubmatchIndex(input, -1) {
		out.WriteString(input[last:m[0]])
		last = m[1]

		ref := input[m[0]:m[1]]
		if strings.HasPrefix(ref, "$$") {
			out.WriteString(ref[1:])
			continue
		}

		name := input[m[2]:m[3]]
		var op, arg string
		if m[4] >= 0 {
			op, arg = input[m[4]:m[5]], input[m[6]:m[7]]
		}

		value, _ := lookup(name)
		switch {
		case value != "":
			out.WriteString(value)
		case op == ":-":
			out.WriteString(arg)
		case op == ":?":
			missing = append(missing, fmt.Errorf("%s: %s", name, cmp.Or(arg, "required but not set")))
		}
	}
	out.WriteString(input[last:])

	if len(missing) > 0 {
		return "", errors.Join(missing...)
	}
	return out.String(), nil
}
