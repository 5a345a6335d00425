// Package fake provides an in-memory supervisor.Spawner for tests.
package fake

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/starford/hexobridge/internal/supervisor"
)

// Call is one recorded interaction, in the order it happened.
type Call struct {
	Op     string // "spawn" or "signal"
	PID    int
	Cmd    supervisor.Command
	Signal os.Signal
}

// Spawner records spawns and hands out controllable processes.
type Spawner struct {
	// SpawnErr, when set, fails every Spawn.
	SpawnErr error
	// SignalErr is copied into every new process.
	SignalErr error
	// ExitOnSignal makes new processes exit with ExitSignaled when signalled.
	ExitOnSignal bool

	mu      sync.Mutex
	nextPID int
	calls   []Call
	procs   []*Process
}

// Spawn records the call and returns a new Process.
func (s *Spawner) Spawn(_ context.Context, cmd supervisor.Command) (supervisor.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: "spawn", Cmd: cmd})
	if s.SpawnErr != nil {
		return nil, s.SpawnErr
	}
	s.nextPID++
	p := newProcess(s, 1000+s.nextPID)
	p.signalErr = s.SignalErr
	p.exitOnSignal = s.ExitOnSignal
	s.calls[len(s.calls)-1].PID = p.pid
	s.procs = append(s.procs, p)
	return p, nil
}

// Calls returns the recorded calls.
func (s *Spawner) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Processes returns every process spawned so far.
func (s *Spawner) Processes() []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Process, len(s.procs))
	copy(out, s.procs)
	return out
}

// Last returns the most recently spawned process, or nil.
func (s *Spawner) Last() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil
	}
	return s.procs[len(s.procs)-1]
}

func (s *Spawner) record(c Call) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
}

// Process is a child whose output and exit are driven by the test.
type Process struct {
	spawner      *Spawner
	pid          int
	signalErr    error
	exitOnSignal bool

	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter

	exitOnce sync.Once
	exitCh   chan int

	mu      sync.Mutex
	signals []os.Signal
}

func newProcess(s *Spawner, pid int) *Process {
	p := &Process{spawner: s, pid: pid, exitCh: make(chan int, 1)}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *Process) PID() int          { return p.pid }
func (p *Process) Stdout() io.Reader { return p.stdoutR }
func (p *Process) Stderr() io.Reader { return p.stderrR }

// Signal records sig and fails with the configured SignalErr.
func (p *Process) Signal(sig os.Signal) error {
	p.spawner.record(Call{Op: "signal", PID: p.pid, Signal: sig})
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	if p.signalErr != nil {
		return p.signalErr
	}
	if p.exitOnSignal {
		go p.Exit(supervisor.ExitSignaled)
	}
	return nil
}

// Signals returns the signals delivered so far.
func (p *Process) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]os.Signal, len(p.signals))
	copy(out, p.signals)
	return out
}

// Wait blocks until Exit is called.
func (p *Process) Wait() (int, error) {
	return <-p.exitCh, nil
}

// Close closes the read side of both streams.
func (p *Process) Close() error {
	_ = p.stdoutR.Close()
	_ = p.stderrR.Close()
	return nil
}

// WriteStdout writes one line to the process's standard output.
func (p *Process) WriteStdout(line string) error {
	_, err := fmt.Fprintln(p.stdoutW, line)
	return err
}

// WriteStderr writes one line to the process's standard error.
func (p *Process) WriteStderr(line string) error {
	_, err := fmt.Fprintln(p.stderrW, line)
	return err
}

// Exit closes both streams and makes Wait return code. Later calls are ignored.
func (p *Process) Exit(code int) {
	p.exitOnce.Do(func() {
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		p.exitCh <- code
	})
}
