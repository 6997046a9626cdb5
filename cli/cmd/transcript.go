package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	lodelibrary "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/spawnwire/cli/config"
	"github.com/justapithecus/spawnwire/cli/render"
	"github.com/justapithecus/spawnwire/lode"
)

// transcriptReadTimeout bounds one transcript query.
const transcriptReadTimeout = 30 * time.Second

// TranscriptCommand returns the transcript command, which reads a recorded
// session back from the transcript store.
func TranscriptCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:  "metrics",
			Usage: "Show the session's final metrics instead of its exchanges",
		},
	}
	flags = append(flags, StoreFlags()...)
	flags = append(flags, OutputFlags()...)

	return &cli.Command{
		Name:      "transcript",
		Usage:     "Show the recorded exchanges of a session",
		ArgsUsage: "<session-id>",
		Flags:     flags,
		Action:    transcriptAction,
	}
}

func transcriptAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("session-id required", 1)
	}
	sessionID := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), transcriptReadTimeout)
	defer cancel()

	ds, err := buildReadDataset(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize transcript reader: %w", err)
	}

	if c.Bool("metrics") {
		record, err := lode.QueryLatestMetrics(ctx, ds, sessionID)
		if errors.Is(err, lode.ErrNoMetricsFound) {
			return cli.Exit(fmt.Sprintf("no metrics recorded for session %s", sessionID), 1)
		}
		if err != nil {
			return fmt.Errorf("failed to read metrics: %w", err)
		}
		return r.Render(record)
	}

	records, err := lode.QueryTranscript(ctx, ds, sessionID)
	if err != nil {
		return fmt.Errorf("failed to read transcript: %w", err)
	}
	if len(records) == 0 {
		return cli.Exit(fmt.Sprintf("no transcript recorded for session %s", sessionID), 1)
	}
	return r.RenderTranscript(records)
}

// buildReadDataset opens the configured transcript store for reading.
func buildReadDataset(ctx context.Context, cfg *config.Config) (lodelibrary.Dataset, error) {
	switch cfg.Transcript.Backend {
	case config.BackendFS:
		return lode.NewReadDatasetFS(cfg.Transcript.Dataset, cfg.Transcript.Path)
	case config.BackendS3:
		return lode.NewReadDatasetS3(ctx, cfg.Transcript.Dataset, cfg.S3Config())
	default:
		return nil, errors.New("no transcript store configured (use --transcript-path or the transcript section of " + config.DefaultPath + ")")
	}
}
