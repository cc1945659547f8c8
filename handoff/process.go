package handoff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// KillAfter is how long a cancelled producer process gets to exit after
// SIGINT before it is killed.
const KillAfter = 5 * time.Second

// Process is a Handle for a producer running in a child process. The
// child writes readings to its stdout as a CBOR stream which is pumped
// into a Queue.
type Process struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// StartProcess runs path with args and env and pumps its stdout into q.
// The child's stderr is shared with this process. The handle reports
// the producer as terminated only after the child has been reaped and
// its stream fully read. Cancelling ctx cancels the producer.
func StartProcess(ctx context.Context, path string, args, env []string, q *Queue, logger *slog.Logger) (*Process, error) {
	ctx, cancel := context.WithCancel(ctx)

	pr, pw, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("producer pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = env
	cmd.Stdout = pw
	cmd.Stderr = os.Stderr
	// own process group, so a terminal Ctrl-C reaches only this process
	// and the child is stopped through Cancel
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = KillAfter

	if err := cmd.Start(); err != nil {
		cancel()
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start producer process: %w", err)
	}
	// only the child holds the write end now, so its exit ends the stream
	pw.Close()

	p := &Process{cmd: cmd, cancel: cancel, done: make(chan struct{})}
	logger.Debug("producer process started", "pid", cmd.Process.Pid)

	go func() {
		defer close(p.done)

		pumped := make(chan error, 1)
		go func() {
			err := Pump(pr, q)
			if err != nil {
				// the stream is unusable, stop the writer and keep it from
				// blocking on a full pipe meanwhile
				cancel()
				io.Copy(io.Discard, pr)
			}
			pumped <- err
		}()

		waitErr := cmd.Wait()
		pumpErr := <-pumped
		pr.Close()
		requested := ctx.Err() != nil
		cancel()

		switch {
		case pumpErr != nil:
			p.err = fmt.Errorf("producer stream: %w", pumpErr)
		case requested:
			p.err = nil
		case waitErr != nil:
			p.err = fmt.Errorf("producer process: %w", waitErr)
		default:
			p.err = errors.New("producer process exited")
		}
		logger.Debug("producer process terminated", "pid", cmd.Process.Pid, "state", cmd.ProcessState.String())
	}()

	return p, nil
}

func (p *Process) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *Process) Cancel() { p.cancel() }

func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}
