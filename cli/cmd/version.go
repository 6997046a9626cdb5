package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/spawnwire/cli/render"
	"github.com/justapithecus/spawnwire/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version          string `json:"version"`
	Commit           string `json:"commit"`
	TranscriptSchema string `json:"transcript_schema"`
}

// VersionCommand returns the version command. It never spawns a worker.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  OutputFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		resp := VersionResponse{
			Version:          types.Version,
			Commit:           commit,
			TranscriptSchema: types.TranscriptSchemaVersion,
		}

		return r.Render(resp)
	}
}
