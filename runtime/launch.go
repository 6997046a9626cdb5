package runtime

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// MemCheckMode selects whether the worker runs under a memory checker.
type MemCheckMode string

const (
	// MemCheckOff runs the worker directly.
	MemCheckOff MemCheckMode = ""
	// MemCheckOn wraps the worker in the memory checker.
	MemCheckOn MemCheckMode = "on"
	// MemCheckFull wraps the worker with leak checking enabled.
	MemCheckFull MemCheckMode = "full"
)

// DefaultMemCheckTool is the wrapper binary used for MemCheckOn/MemCheckFull.
const DefaultMemCheckTool = "valgrind"

// mallocDebugEnv is injected when ExecOptions.MallocDebug is set.
var mallocDebugEnv = map[string]string{
	"MallocStackLogging":   "1",
	"MallocScribble":       "1",
	"MallocPreScribble":    "1",
	"MallocGuardEdges":     "1",
	"MallocCheckHeapStart": "1",
	"MallocCheckHeapEach":  "1",
}

// Environment toggles read by ExecOptionsFromEnv.
const (
	EnvMemCheck          = "VALGRIND"
	EnvMallocDebug       = "OS_X_MALLOC_CHECKS"
	EnvIgnoreDiagnostics = "IGNORE_NONEMPTY_STDERR"
)

// ExecOptions are the execution toggles, resolved once before spawn.
type ExecOptions struct {
	// MemCheck wraps the worker in a memory checker. Disables diagnostic capture
	// because the checker reports on the worker's stderr.
	MemCheck MemCheckMode
	// MemCheckTool overrides DefaultMemCheckTool.
	MemCheckTool string
	// MallocDebug injects allocator-debugging variables. Disables diagnostic
	// capture since the allocator reports on stderr.
	MallocDebug bool
	// IgnoreDiagnostics suppresses the implicit unexpected-output check after
	// each read. Explicit Expect scopes still apply.
	IgnoreDiagnostics bool
}

// ParseMemCheckMode parses a memcheck setting: "", "off", "false", "0" mean
// off; "full" enables leak checking; any other non-empty value means on.
func ParseMemCheckMode(s string) MemCheckMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "false", "0", "no":
		return MemCheckOff
	case "full":
		return MemCheckFull
	default:
		return MemCheckOn
	}
}

// ExecOptionsFromEnv resolves toggles from environment variables.
// Any non-empty value enables a boolean toggle.
func ExecOptionsFromEnv(lookup func(string) (string, bool)) ExecOptions {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) string {
		v, _ := lookup(key)
		return v
	}
	return ExecOptions{
		MemCheck:          ParseMemCheckMode(get(EnvMemCheck)),
		MallocDebug:       get(EnvMallocDebug) != "",
		IgnoreDiagnostics: get(EnvIgnoreDiagnostics) != "",
	}
}

// Merge returns o with any toggle enabled in other switched on as well.
func (o ExecOptions) Merge(other ExecOptions) ExecOptions {
	if other.MemCheck != MemCheckOff {
		o.MemCheck = other.MemCheck
	}
	if other.MemCheckTool != "" {
		o.MemCheckTool = other.MemCheckTool
	}
	o.MallocDebug = o.MallocDebug || other.MallocDebug
	o.IgnoreDiagnostics = o.IgnoreDiagnostics || other.IgnoreDiagnostics
	return o
}

// LaunchSpec is everything needed to spawn one worker.
type LaunchSpec struct {
	// Executable is the worker binary. Must be an executable file.
	Executable string
	// Args are passed after the executable, in order.
	Args []string
	// Env is overlaid on the harness's own environment; entries here win.
	Env map[string]string
	// Capture selects where the worker's stderr goes.
	Capture Capture
	// Exec holds the execution toggles.
	Exec ExecOptions
}

// resolvedLaunch is a LaunchSpec after the execution toggles were applied.
type resolvedLaunch struct {
	argv    []string
	env     []string
	capture Capture
}

// resolve applies the execution toggles to the spec. base is the inherited
// environment in os.Environ form.
func (s LaunchSpec) resolve(base []string) resolvedLaunch {
	capture := s.Capture
	if capture == nil {
		capture = NoCapture{}
	}

	argv := make([]string, 0, len(s.Args)+3)
	if s.Exec.MemCheck != MemCheckOff {
		tool := s.Exec.MemCheckTool
		if tool == "" {
			tool = DefaultMemCheckTool
		}
		argv = append(argv, tool)
		if s.Exec.MemCheck == MemCheckFull {
			argv = append(argv, "--leak-check=full")
		}
		capture = NoCapture{}
	}
	argv = append(argv, s.Executable)
	argv = append(argv, s.Args...)

	env := append([]string(nil), base...)
	env = append(env, sortedEnv(s.Env)...)
	if s.Exec.MallocDebug {
		env = append(env, sortedEnv(mallocDebugEnv)...)
		capture = NoCapture{}
	}

	return resolvedLaunch{
		argv:    argv,
		env:     deduplicateEnv(env),
		capture: capture,
	}
}

// sortedEnv renders a map as KEY=value entries in key order.
func sortedEnv(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

// deduplicateEnv keeps the last occurrence of each env var key, so explicit
// entries win over inherited ones.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}

// ValidateExecutable checks that path names an executable regular file.
func ValidateExecutable(path string) error {
	if path == "" {
		return &ConfigurationError{Path: path, Reason: "no executable path given"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ConfigurationError{Path: path, Reason: "no program binary at this path"}
		}
		return &ConfigurationError{Path: path, Reason: "cannot stat program binary", Err: err}
	}
	if info.IsDir() {
		return &ConfigurationError{Path: path, Reason: "path is a directory"}
	}
	if info.Mode().Perm()&0o111 == 0 {
		return &ConfigurationError{Path: path, Reason: fmt.Sprintf("not executable (mode %v)", info.Mode().Perm())}
	}
	return nil
}
