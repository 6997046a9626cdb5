package runtime

import (
	"fmt"
	"os"
	"testing"

	"github.com/justapithecus/spawnwire/ipc"
	"github.com/justapithecus/spawnwire/types"
)

// The test binary doubles as the worker: when helperModeEnv is set, TestMain
// runs a worker loop on stdin/stdout instead of the tests.
const (
	helperModeEnv   = "SPAWNWIRE_TEST_WORKER"
	helperStderrEnv = "SPAWNWIRE_TEST_STDERR"
	helperValueEnv  = "SPAWNWIRE_TEST_VALUE"
)

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperModeEnv); mode != "" {
		os.Exit(runHelperWorker(mode))
	}
	os.Exit(m.Run())
}

func runHelperWorker(mode string) int {
	if text := os.Getenv(helperStderrEnv); text != "" {
		fmt.Fprint(os.Stderr, text)
	}
	ch := ipc.NewChannel(os.Stdin, os.Stdout)

	var err error
	switch mode {
	case "echo":
		err = ipc.Echo(ch)
	case "truncate":
		// A verb with no groups and no terminator, then exit.
		data, _ := ipc.Marshal("PING")
		_, err = os.Stdout.Write(data)
	case "env":
		err = ch.SendCommand("ENV", types.Group{os.Getenv(helperValueEnv)})
		if err == nil {
			err = ipc.Echo(ch)
		}
	case "stderr-echo":
		err = stderrEcho(ch)
	default:
		err = fmt.Errorf("unknown helper mode %q", mode)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// stderrEcho echoes commands, writing "saw <verb>" to stderr before each reply.
func stderrEcho(ch *ipc.Channel) error {
	for {
		batch, err := ch.ReadCommand()
		if err != nil {
			if ipc.IsEndOfStream(err) {
				return nil
			}
			return err
		}
		if ipc.SameVerb(batch.Verb, ch.QuitVerb()) {
			return nil
		}
		fmt.Fprintf(os.Stderr, "saw %v\n", batch.Verb)
		if err := ch.SendCommand(batch.Verb, batch.Groups...); err != nil {
			return err
		}
	}
}

// helperSpec returns a LaunchSpec that re-executes the test binary in mode.
func helperSpec(t *testing.T, mode string, env map[string]string) LaunchSpec {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable failed: %v", err)
	}
	merged := map[string]string{helperModeEnv: mode}
	for k, v := range env {
		merged[k] = v
	}
	return LaunchSpec{Executable: exe, Env: merged, Capture: NoCapture{}}
}

// startHelper starts a helper worker and stops it at test cleanup.
func startHelper(t *testing.T, spec LaunchSpec) *Worker {
	t.Helper()
	w, err := StartWorker(t.Context(), spec)
	if err != nil {
		t.Fatalf("StartWorker failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func strPtr(s string) *string { return &s }
