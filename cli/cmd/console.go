package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/spawnwire/cli/tui"
)

// ConsoleCommand returns the console command: an interactive session with
// one worker.
func ConsoleCommand() *cli.Command {
	return &cli.Command{
		Name:   "console",
		Usage:  "Drive a worker interactively",
		Flags:  WorkerFlags(),
		Action: consoleAction,
	}
}

func consoleAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	ctx, cancel := signalContext(0)
	defer cancel()

	// Logs would draw over the console, so they go to --log-file or nowhere.
	session, err := openSession(ctx, c, cfg, true)
	if err != nil {
		if isSetupError(err) {
			return cli.Exit(err.Error(), exitConfigError)
		}
		return cli.Exit(err.Error(), exitProtocolError)
	}
	defer session.release()

	title := fmt.Sprintf("spawnwire: %s (pid %d)", filepath.Base(cfg.Worker.Executable), session.Worker().Pid())
	runErr := tui.RunConsole(title, session.Session)
	if runErr == nil {
		// Quit was sent; SIGINT or SIGTERM still cut the wait short.
		if err := session.Wait(); err != nil {
			runErr = fmt.Errorf("worker did not exit after quit: %w", err)
		}
	}

	if err := session.close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if status := session.Worker().ExitStatus(); status != nil {
		fmt.Fprintf(os.Stderr, "worker %s\n", status)
	}
	if session.store != nil {
		fmt.Fprintf(os.Stderr, "session: %s\n", session.id)
	}

	outcome := outcomeSuccess
	if runErr != nil {
		outcome = outcomeProtocolError
	}
	publishCompletion(cfg, session, outcome)

	if runErr != nil {
		return cli.Exit(runErr.Error(), exitProtocolError)
	}
	return nil
}
