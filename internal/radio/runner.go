package radio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultStopGrace is how long Stop waits after SIGTERM before SIGKILL.
const DefaultStopGrace = 5 * time.Second

// Runner executes the wireless tooling. Production code uses ExecRunner;
// tests substitute a fake.
type Runner interface {
	// Output runs a command to completion and returns its stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	// Start launches a long-running daemon.
	Start(ctx context.Context, name string, args ...string) (Process, error)
}

// Process is a running daemon started by a Runner.
type Process interface {
	// Stop asks the process to exit, escalates to a kill after a grace
	// period, and waits for it to exit.
	Stop() error
	// Done is closed when the process exits for any reason.
	Done() <-chan struct{}
}

// ExecRunner runs real binaries via os/exec.
type ExecRunner struct {
	// StopGrace bounds the SIGTERM-to-SIGKILL wait. Zero means
	// DefaultStopGrace.
	StopGrace time.Duration
}

// Output implements Runner.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// Start implements Runner. The process is not tied to ctx beyond startup;
// callers stop it explicitly.
func (r ExecRunner) Start(_ context.Context, name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	grace := r.StopGrace
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{}), grace: grace}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	done  chan struct{}
	err   error
	grace time.Duration
	once  sync.Once
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Stop() error {
	var err error
	p.once.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		// hostapd and wpa_supplicant restore interface state on SIGTERM.
		if p.cmd.Process.Signal(syscall.SIGTERM) == nil {
			timer := time.NewTimer(p.grace)
			defer timer.Stop()
			select {
			case <-p.done:
				return
			case <-timer.C:
			}
		}
		if killErr := p.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			err = killErr
			return
		}
		<-p.done
	})
	return err
}
