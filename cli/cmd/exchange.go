package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/spawnwire/cli/render"
	"github.com/justapithecus/spawnwire/cli/tui"
	"github.com/justapithecus/spawnwire/ipc"
	"github.com/justapithecus/spawnwire/runtime"
	"github.com/justapithecus/spawnwire/types"
)

// Exit codes of the exchange command.
const (
	exitProtocolError      = 1
	exitConfigError        = 2
	exitDiagnosticMismatch = 3
)

// ExchangeCommand returns the exchange command: spawn a worker, send one
// command, print the result batch, then quit and wait for the worker to exit.
func ExchangeCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "verb",
			Usage:    "Command verb (integer or word)",
			Required: true,
		},
		&cli.StringSliceFlag{
			Name:  "group",
			Usage: `Argument group as a JSON array, e.g. '[1, "two"]' (repeatable)`,
		},
		&cli.StringFlag{
			Name:  "expect-stderr",
			Usage: "Fail unless the worker's captured stderr equals this text afterwards",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Stop the worker if the exchange takes longer (0 means no limit)",
		},
	}
	flags = append(flags, WorkerFlags()...)
	flags = append(flags, OutputFlags()...)

	return &cli.Command{
		Name:   "exchange",
		Usage:  "Send one command to a worker and print its answer",
		Flags:  flags,
		Action: exchangeAction,
	}
}

// exchangeRequest is a parsed exchange invocation.
type exchangeRequest struct {
	verb   any
	groups []types.Group
	expect *string
}

func parseExchangeRequest(c *cli.Context) (exchangeRequest, error) {
	verbText := strings.TrimSpace(c.String("verb"))
	if verbText == "" {
		return exchangeRequest{}, errors.New("--verb must not be empty")
	}
	groups, err := tui.ParseGroups(strings.Join(c.StringSlice("group"), " "))
	if err != nil {
		return exchangeRequest{}, fmt.Errorf("invalid --group: %w", err)
	}
	req := exchangeRequest{verb: types.ParseVerb(verbText), groups: groups}
	if c.IsSet("expect-stderr") {
		text := c.String("expect-stderr")
		req.expect = &text
	}
	return req, nil
}

func exchangeAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	req, err := parseExchangeRequest(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	timeout := cfg.Worker.Timeout.Duration
	if c.IsSet("timeout") {
		timeout = c.Duration("timeout")
	}

	ctx, cancel := signalContext(timeout)
	defer cancel()

	session, err := openSession(ctx, c, cfg, false)
	if err != nil {
		if isSetupError(err) {
			return cli.Exit(err.Error(), exitConfigError)
		}
		return cli.Exit(err.Error(), exitProtocolError)
	}
	defer session.release()

	if session.store != nil && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "session: %s\n", session.id)
	}

	batch, exchangeErr := runExchange(session.Session, req)
	if exchangeErr != nil && ctx.Err() != nil {
		exchangeErr = fmt.Errorf("exchange interrupted (%v): %w", context.Cause(ctx), exchangeErr)
	}
	if batch != nil {
		if err := r.RenderBatch(batch); err != nil {
			return err
		}
	}

	if exchangeErr == nil {
		if err := session.Quit(); err != nil {
			exchangeErr = fmt.Errorf("failed to send quit: %w", err)
		} else if err := session.Wait(); err != nil {
			exchangeErr = fmt.Errorf("worker did not exit after quit: %w", err)
		}
	}
	if err := session.close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	code := 0
	if exchangeErr != nil {
		code = exchangeExitCode(exchangeErr)
	}
	publishCompletion(cfg, session, outcomeForExitCode(code))

	if exchangeErr != nil {
		return cli.Exit(exchangeErr.Error(), code)
	}
	return nil
}

// runExchange sends the command and reads the answer, inside an Expect scope
// when an expectation was given.
func runExchange(session *runtime.Session, req exchangeRequest) (*types.ResultBatch, error) {
	var batch *types.ResultBatch
	op := func() error {
		var err error
		batch, err = session.Exchange(req.verb, req.groups...)
		return err
	}
	var err error
	if req.expect == nil {
		err = op()
	} else {
		err = session.Expect(req.expect, op)
	}
	return batch, err
}

// exchangeExitCode maps an exchange failure to an exit code.
func exchangeExitCode(err error) int {
	switch {
	case runtime.IsDiagnosticMismatch(err), ipc.IsUnexpectedDiagnostic(err):
		return exitDiagnosticMismatch
	case runtime.IsConfigurationError(err):
		return exitConfigError
	default:
		return exitProtocolError
	}
}

// signalContext returns a context cancelled on SIGINT, SIGTERM, or after
// timeout when it is positive.
func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		parent := cancel
		cancel = func() {
			cancelTimeout()
			parent()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
