package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ExitSignaled is the exit code reported for a process terminated by a
// signal. It stands for "no exit code".
const ExitSignaled = -1

// Command describes a child process invocation.
type Command struct {
	Launcher string
	Args     []string
	Dir      string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Launcher + " " + strings.Join(c.Args, " "))
}

// Process is a started child process.
type Process interface {
	PID() int
	Stdout() io.Reader
	Stderr() io.Reader
	// Signal delivers sig. An error means delivery failed; the process may
	// still be running.
	Signal(sig os.Signal) error
	// Wait blocks until the process exits. It may run while Stdout and
	// Stderr are still being read; a descendant holding the streams open does
	// not delay it.
	Wait() (code int, err error)
	// Close releases the output streams and unblocks pending reads.
	Close() error
}

// Spawner starts processes.
type Spawner interface {
	Spawn(ctx context.Context, cmd Command) (Process, error)
}

// ExecSpawner starts real child processes with os/exec. The context is not
// bound to the child's lifetime: cancelling it never kills a running child.
type ExecSpawner struct{}

// Spawn starts cmd with its output streams piped back to the caller.
func (ExecSpawner) Spawn(ctx context.Context, cmd Command) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := exec.Command(cmd.Launcher, cmd.Args...)
	c.Dir = cmd.Dir

	// The child gets the write ends as plain files, so Wait returns on exit
	// instead of waiting for every holder of the pipes to close them.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("supervisor: stderr pipe: %w", err)
	}
	c.Stdout = stdoutW
	c.Stderr = stderrW

	startErr := c.Start()
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if startErr != nil {
		_ = stdoutR.Close()
		_ = stderrR.Close()
		return nil, fmt.Errorf("supervisor: start %s: %w", cmd.Launcher, startErr)
	}
	return &execProcess{cmd: c, stdout: stdoutR, stderr: stderrR}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *os.File
}

func (p *execProcess) PID() int          { return p.cmd.Process.Pid }
func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Close() error {
	return errors.Join(p.stdout.Close(), p.stderr.Close())
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if p.cmd.ProcessState == nil {
		return ExitSignaled, err
	}
	code := p.cmd.ProcessState.ExitCode()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return code, err
	}
	return code, nil
}
