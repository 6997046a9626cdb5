// Package main provides the spawnwire CLI entrypoint.
//
// Usage:
//
//	spawnwire <command> [options]
//
// Exit codes for `exchange`:
//   - 0: success
//   - 1: protocol error (stream ended, malformed message, broken pipe)
//   - 2: configuration error (bad config, missing or non-executable worker)
//   - 3: diagnostic mismatch (unexpected or wrong worker stderr)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/spawnwire/cli/cmd"
	"github.com/justapithecus/spawnwire/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already exited for every non-nil error.
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "spawnwire",
		Usage:          "Spawn worker processes and talk to them over msgpack pipes",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		// --group values are JSON and --arg values are passed through as-is,
		// so commas must not split them.
		DisableSliceFlagSeparator: true,
		Commands: []*cli.Command{
			cmd.ExchangeCommand(),
			cmd.ConsoleCommand(),
			cmd.TranscriptCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	msg, code := exitMessage(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitMessage returns what to print and the process exit code for err.
// cli.Exit("", N) prints nothing; other errors exit 1 with an "Error:" line.
func exitMessage(err error) (string, int) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		// cli.Exit("", N).Error() returns "exit status N"; skip those
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return msg, code
	}
	return fmt.Sprintf("Error: %v", err), 1
}
