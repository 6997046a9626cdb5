package runtime

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/justapithecus/spawnwire/ipc"
	"github.com/justapithecus/spawnwire/types"
)

func TestStartWorker_ConfigurationError(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(plain, []byte("not a program"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"missing", filepath.Join(dir, "nope")},
		{"directory", dir},
		{"not executable", plain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := StartWorker(t.Context(), LaunchSpec{Executable: tt.path})
			if w != nil {
				t.Error("worker returned for invalid executable")
			}
			if !IsConfigurationError(err) {
				t.Fatalf("error = %v, want ConfigurationError", err)
			}
			var cfgErr *ConfigurationError
			errors.As(err, &cfgErr)
			if cfgErr.Path != tt.path {
				t.Errorf("Path = %q, want %q", cfgErr.Path, tt.path)
			}
		})
	}
}

func TestWorker_EchoScenario(t *testing.T) {
	w := startHelper(t, helperSpec(t, "echo", nil))
	ch := ipc.NewChannel(w.Stdout(), w.Stdin())

	if err := ch.SendCommand("PING", types.Group{1, 2}, types.Group{3}); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	batch, err := ch.ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand failed: %v", err)
	}

	want := []any{"PING", []any{int64(1), int64(2)}, []any{int64(3)}}
	if got := batch.Values(); !reflect.DeepEqual(got, want) {
		t.Errorf("Values() = %#v, want %#v", got, want)
	}
}

func TestWorker_ZeroGroupsRoundTrip(t *testing.T) {
	w := startHelper(t, helperSpec(t, "echo", nil))
	ch := ipc.NewChannel(w.Stdout(), w.Stdin())

	for i := range 3 {
		if err := ch.SendCommand(int64(10 + i)); err != nil {
			t.Fatalf("SendCommand failed: %v", err)
		}
		batch, err := ch.ReadCommand()
		if err != nil {
			t.Fatalf("ReadCommand failed: %v", err)
		}
		if batch.Verb != int64(10+i) || len(batch.Groups) != 0 {
			t.Errorf("batch = %#v, want verb %d only", batch, 10+i)
		}
	}
}

func TestWorker_QuitThenWait(t *testing.T) {
	w := startHelper(t, helperSpec(t, "echo", nil))
	ch := ipc.NewChannel(w.Stdout(), w.Stdin())

	if err := ch.Quit(); err != nil {
		t.Fatalf("Quit failed: %v", err)
	}
	if err := w.Wait(); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if w.Running() {
		t.Error("Running() = true after Wait")
	}
	status := w.ExitStatus()
	if status == nil || status.Code != 0 || status.Signaled {
		t.Errorf("ExitStatus = %v, want exit 0", status)
	}

	// Wait and Stop after reaping are no-ops.
	if err := w.Wait(); err != nil {
		t.Errorf("second Wait failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop after Wait failed: %v", err)
	}
}

func TestWorker_StopIdempotent(t *testing.T) {
	w := startHelper(t, helperSpec(t, "echo", nil))

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	first := w.ExitStatus()
	if first == nil {
		t.Fatal("ExitStatus = nil after Stop")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if w.ExitStatus() != first {
		t.Error("second Stop reaped again")
	}
}

func TestWorker_IOAfterStopFails(t *testing.T) {
	w := startHelper(t, helperSpec(t, "echo", nil))
	ch := ipc.NewChannel(w.Stdout(), w.Stdin())

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := ch.SendCommand("PING"); err == nil {
		t.Error("SendCommand after Stop succeeded, want error")
	}
	if _, err := ch.ReadCommand(); err == nil {
		t.Error("ReadCommand after Stop succeeded, want error")
	}
}

func TestWorker_TruncatedStream(t *testing.T) {
	w := startHelper(t, helperSpec(t, "truncate", nil))
	ch := ipc.NewChannel(w.Stdout(), w.Stdin())

	batch, err := ch.ReadCommand()
	if batch != nil {
		t.Errorf("batch = %#v, want nil", batch)
	}
	if !ipc.IsEndOfStream(err) {
		t.Fatalf("error = %v, want end of stream", err)
	}
	var perr *ipc.ProtocolError
	errors.As(err, &perr)
	if perr.Partial == nil || perr.Partial.Verb != "PING" {
		t.Errorf("Partial = %#v, want verb PING", perr.Partial)
	}
}

func TestWorker_PassesEnvironment(t *testing.T) {
	w := startHelper(t, helperSpec(t, "env", map[string]string{helperValueEnv: "from-harness"}))
	ch := ipc.NewChannel(w.Stdout(), w.Stdin())

	batch, err := ch.ReadExpectedCommand("ENV")
	if err != nil {
		t.Fatalf("ReadExpectedCommand failed: %v", err)
	}
	got, ok := batch.Groups[0][0].([]byte)
	if !ok || string(got) != "from-harness" {
		t.Errorf("env value = %#v, want %q", batch.Groups[0][0], "from-harness")
	}
}

func TestWorker_CloseStdinEndsEcho(t *testing.T) {
	w := startHelper(t, helperSpec(t, "echo", nil))

	if err := w.CloseStdin(); err != nil {
		t.Fatalf("CloseStdin failed: %v", err)
	}
	if err := w.CloseStdin(); err != nil {
		t.Fatalf("second CloseStdin failed: %v", err)
	}
	if err := w.Wait(); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if status := w.ExitStatus(); status == nil || status.Code != 0 {
		t.Errorf("ExitStatus = %v, want exit 0", status)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop after exit failed: %v", err)
	}
}

func TestExitStatus_String(t *testing.T) {
	if got := (ExitStatus{Code: 3}).String(); got != "exit 3" {
		t.Errorf("String() = %q, want %q", got, "exit 3")
	}
}
