// Package runtime manages worker processes: spawning them with their pipes
// wired up, capturing and checking their diagnostic output, and stopping and
// reaping them. Session ties a worker to an ipc.Channel.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/justapithecus/spawnwire/iox"
)

// ExitStatus describes how a reaped worker ended.
type ExitStatus struct {
	// Code is the exit code, or -1 when the worker was killed by a signal.
	Code int
	// Signal is the terminating signal, if any.
	Signal syscall.Signal
	// Signaled is true when the worker was terminated by Signal.
	Signaled bool
}

func (s ExitStatus) String() string {
	if s.Signaled {
		return fmt.Sprintf("signal %s", s.Signal)
	}
	return fmt.Sprintf("exit %d", s.Code)
}

// Worker owns one worker process and the harness ends of its stdin and
// stdout pipes. The zero value is not usable; call StartWorker.
//
// Lifecycle: running after StartWorker; Stop or Wait reaps it, after which
// the process handle is cleared, pipe I/O fails, and both are no-ops.
type Worker struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	pid     int
	capture Capture

	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stdinC  *iox.OnceCloser
	stdoutC *iox.OnceCloser

	status *ExitStatus
}

// StartWorker validates spec, applies its execution toggles, and spawns the
// worker with fresh stdin and stdout pipes. Only stdin, stdout, and stderr
// are passed to the child; os/exec closes every other descriptor.
func StartWorker(ctx context.Context, spec LaunchSpec) (*Worker, error) {
	if err := ValidateExecutable(spec.Executable); err != nil {
		return nil, err
	}

	launch := spec.resolve(os.Environ())

	cmd := exec.CommandContext(ctx, launch.argv[0], launch.argv[1:]...)
	cmd.Env = launch.env
	// Context cancellation asks the worker to terminate, like Stop does.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		iox.DiscardClose(stdin)
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	var stderrFile *os.File
	switch c := launch.capture.(type) {
	case CaptureToFile:
		stderrFile, err = os.OpenFile(c.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			iox.DiscardClose(stdin)
			iox.DiscardClose(stdout)
			return nil, fmt.Errorf("failed to open diagnostic file: %w", err)
		}
		cmd.Stderr = stderrFile
	default:
		cmd.Stderr = os.Stderr
	}

	err = cmd.Start()
	if stderrFile != nil {
		// The child holds its own descriptor; ours is no longer needed.
		iox.DiscardClose(stderrFile)
	}
	if err != nil {
		iox.DiscardClose(stdin)
		iox.DiscardClose(stdout)
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}

	return &Worker{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		capture: launch.capture,
		stdin:   stdin,
		stdout:  stdout,
		stdinC:  iox.NewOnceCloser(stdin),
		stdoutC: iox.NewOnceCloser(stdout),
	}, nil
}

// Pid returns the worker's process id. It stays valid after reaping for
// logging purposes.
func (w *Worker) Pid() int {
	return w.pid
}

// Capture returns the capture mode the worker was actually started with,
// after execution toggles were applied.
func (w *Worker) Capture() Capture {
	return w.capture
}

// Stdin returns the writer feeding the worker's stdin.
func (w *Worker) Stdin() io.Writer {
	return w.stdin
}

// Stdout returns the reader draining the worker's stdout.
func (w *Worker) Stdout() io.Reader {
	return w.stdout
}

// CloseStdin closes the worker's stdin so it sees end of input. Safe to call
// more than once and before Stop.
func (w *Worker) CloseStdin() error {
	return w.stdinC.Close()
}

// Running reports whether the worker is still tracked (not yet reaped).
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cmd != nil
}

// ExitStatus returns how the worker ended, or nil if it has not been reaped.
func (w *Worker) ExitStatus() *ExitStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Stop sends SIGTERM to a tracked worker, closes both pipe ends, and blocks
// until the worker is reaped. It is a no-op once the worker has been reaped,
// so no signal ever reaches a reaped pid.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cmd == nil {
		return nil
	}

	var errs []error
	if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		errs = append(errs, fmt.Errorf("failed to signal worker: %w", err))
	}
	if !w.stdinC.Closed() {
		iox.DiscardErr(w.stdinC.Close)
	}
	iox.DiscardErr(w.stdoutC.Close)

	if err := w.reapLocked(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Wait blocks until the worker exits and reaps it. No-op when not running.
// A non-zero exit is not an error; inspect ExitStatus.
func (w *Worker) Wait() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cmd == nil {
		return nil
	}
	return w.reapLocked()
}

func (w *Worker) reapLocked() error {
	err := w.cmd.Wait()
	state := w.cmd.ProcessState
	w.cmd = nil

	if state != nil {
		w.status = exitStatusOf(state)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		if state != nil {
			// Exited, but closing a pipe or the context reported an error.
			return nil
		}
		return fmt.Errorf("worker wait failed: %w", err)
	}
	return nil
}

func exitStatusOf(state *os.ProcessState) *ExitStatus {
	status := &ExitStatus{Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		status.Signaled = true
		status.Signal = ws.Signal()
	}
	return status
}
