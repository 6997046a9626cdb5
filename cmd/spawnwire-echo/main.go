// Package main provides spawnwire-echo, a reference worker that sends every
// command it reads straight back and exits on the quit verb or end of input.
//
// Usage:
//
//	spawnwire-echo [--stderr TEXT] [--quit-verb VERB]
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/spawnwire/ipc"
	"github.com/justapithecus/spawnwire/types"
)

func main() {
	app := &cli.App{
		Name:    "spawnwire-echo",
		Usage:   "Reference worker: echoes each command back on stdout",
		Version: types.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "stderr",
				Usage: "Write this line to stderr once at startup",
			},
			&cli.StringFlag{
				Name:  "quit-verb",
				Usage: "Verb that ends the loop (integer or word, default 0)",
			},
		},
		Action: echoAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "spawnwire-echo: %v\n", err)
		os.Exit(1)
	}
}

func echoAction(c *cli.Context) error {
	if text := c.String("stderr"); text != "" {
		fmt.Fprintln(os.Stderr, text)
	}

	var opts []ipc.Option
	if c.IsSet("quit-verb") {
		opts = append(opts, ipc.WithQuitVerb(types.ParseVerb(c.String("quit-verb"))))
	}
	return ipc.Echo(ipc.NewChannel(os.Stdin, os.Stdout, opts...))
}
