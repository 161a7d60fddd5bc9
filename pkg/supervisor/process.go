package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"croft/pkg/protocol"
)

// Process is a running worker. Stdin carries supervisor messages and Stdout
// the worker's replies, one JSON line each.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Wait blocks until the process exits. It must only be called after
	// Stdout has been read to EOF.
	Wait() error
	// Kill terminates the process without waiting for it.
	Kill() error
}

// Spawner starts one worker process per account.
type Spawner interface {
	Spawn(accountID string) (Process, error)
}

// ExecSpawner spawns worker subprocesses. Each worker gets its own process
// group so Kill reaches any descendants, and its stderr is appended to
// home/workers/<id>/output.log.
type ExecSpawner struct {
	home      string
	killGrace time.Duration

	// cmdFactory builds the exec.Cmd for an account.
	// Defaults to `<self> worker --account <id>`.
	cmdFactory func(accountID string) *exec.Cmd
}

// NewExecSpawner returns a spawner that re-executes the running binary in
// worker mode.
func NewExecSpawner(home string, extraArgs ...string) *ExecSpawner {
	self := os.Args[0]
	return NewExecSpawnerWithFactory(home, func(id string) *exec.Cmd {
		args := append([]string{"worker", "--account", id}, extraArgs...)
		//nolint:gosec // intentionally spawning worker subprocess
		return exec.CommandContext(context.Background(), self, args...)
	})
}

// NewExecSpawnerWithFactory returns a spawner using factory to build each
// worker command.
func NewExecSpawnerWithFactory(home string, factory func(accountID string) *exec.Cmd) *ExecSpawner {
	return &ExecSpawner{
		home:       home,
		killGrace:  3 * time.Second,
		cmdFactory: factory,
	}
}

// Spawn starts the worker for accountID.
func (sp *ExecSpawner) Spawn(accountID string) (Process, error) {
	cmd := sp.cmdFactory(accountID)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %s stdin: %w", accountID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("worker %s stdout: %w", accountID, err)
	}

	var logFile *os.File
	if sp.home == "" {
		cmd.Stderr = os.Stderr
	} else {
		logDir := filepath.Join(sp.home, protocol.WorkersDir, accountID)
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			return nil, fmt.Errorf("create worker log dir %s: %w", logDir, err)
		}
		logPath := filepath.Join(logDir, "output.log")
		logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // log path is deterministic
		if err != nil {
			return nil, fmt.Errorf("open worker log %s: %w", logPath, err)
		}
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, fmt.Errorf("spawn worker %s: %w", accountID, err)
	}
	// The child inherited the log fd; the parent's copy is no longer needed.
	if logFile != nil {
		_ = logFile.Close()
	}

	return &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		grace:  sp.killGrace,
		done:   make(chan struct{}),
	}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	grace  time.Duration

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader      { return p.stdout }

func (p *execProcess) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.done)
	})
	return p.waitErr
}

// Kill sends SIGTERM to the worker's process group and escalates to SIGKILL
// if the process has not been reaped after the grace period.
func (p *execProcess) Kill() error {
	_ = p.stdin.Close()

	pgid := p.cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		_ = p.cmd.Process.Kill()
		return nil //nolint:nilerr // SIGTERM failure means process already exited; not an error
	}

	go func() {
		select {
		case <-p.done:
		case <-time.After(p.grace):
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		}
	}()
	return nil
}
