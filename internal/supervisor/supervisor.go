// Package supervisor runs at most one child process per role and turns its
// output and exit into state transitions and notices.
package supervisor

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/hexobridge/internal/models"
	"github.com/starford/hexobridge/internal/notify"
)

// RoleConfig tells the supervisor how to treat one role's process.
//
// Hooks run on the supervisor's event loop and must not call back into the
// Supervisor.
type RoleConfig struct {
	// Label names the process in notices, e.g. "Local Hexo Server".
	Label string
	// ReadyMarker, when set, is searched for in each stdout line. The first
	// hit moves the role to StateReady and runs OnReady.
	ReadyMarker string
	OnReady     func()
	// ExitNotice, when set, is sent as an info notice on every exit.
	ExitNotice string
	// OnExit runs when the current process of the role exits.
	OnExit func(code int)
}

type slot struct {
	gen       int
	proc      Process
	done      chan struct{} // closed when proc exits or fails to spawn
	state     models.State
	exitCode  *int
	startedAt time.Time
}

func (s *slot) live() bool {
	return s.proc != nil && (s.state == models.StateRunning || s.state == models.StateReady)
}

type startReq struct {
	ctx  context.Context
	role models.Role
	cmd  Command
	resp chan error
}

type stopReq struct {
	role models.Role
	resp chan error
}

type statusReq struct {
	role models.Role
	resp chan models.ProcessStatus
}

type doneReq struct {
	role models.Role
	resp chan (<-chan struct{})
}

type eventKind int

const (
	evStdout eventKind = iota
	evStderr
	evExit
)

type procEvent struct {
	role models.Role
	gen  int
	kind eventKind
	line string
	code int
	err  error
	done chan struct{}
}

// Supervisor owns one process slot per role.
//
// Concurrency model: a single internal event loop (goroutine) owns every slot.
// Public methods and the per-process monitor goroutines communicate with the
// loop through channels, so slot state is never shared.
type Supervisor struct {
	spawner  Spawner
	notifier notify.Notifier
	logger   *slog.Logger
	roles    map[models.Role]RoleConfig

	startCh  chan startReq
	stopCh   chan stopReq
	statusCh chan statusReq
	doneCh   chan doneReq
	eventCh  chan procEvent

	closeCh chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// New creates a Supervisor and starts its event loop.
func New(spawner Spawner, notifier notify.Notifier, logger *slog.Logger, roles map[models.Role]RoleConfig) *Supervisor {
	s := &Supervisor{
		spawner:  spawner,
		notifier: notifier,
		logger:   logger,
		roles:    roles,
		startCh:  make(chan startReq),
		stopCh:   make(chan stopReq),
		statusCh: make(chan statusReq),
		doneCh:   make(chan doneReq),
		eventCh:  make(chan procEvent, 256),
		closeCh:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Supervisor) run() {
	defer close(s.stopped)

	slots := make(map[models.Role]*slot)
	get := func(role models.Role) *slot {
		sl, ok := slots[role]
		if !ok {
			sl = &slot{state: models.StateIdle}
			slots[role] = sl
		}
		return sl
	}

	for {
		select {
		case <-s.closeCh:
			for role, sl := range slots {
				if sl.live() {
					_ = s.signal(role, sl)
				}
			}
			return

		case req := <-s.startCh:
			req.resp <- s.start(req, get(req.role))

		case req := <-s.stopCh:
			req.resp <- s.stop(req.role, get(req.role))

		case req := <-s.statusCh:
			req.resp <- status(req.role, get(req.role))

		case req := <-s.doneCh:
			sl := get(req.role)
			if sl.done == nil {
				req.resp <- closedCh
			} else {
				req.resp <- sl.done
			}

		case ev := <-s.eventCh:
			s.handle(ev, get(ev.role))
		}
	}
}

func (s *Supervisor) label(role models.Role) string {
	if l := s.roles[role].Label; l != "" {
		return l
	}
	return string(role)
}

// start kills a live predecessor, then spawns. A failed kill is reported and
// the spawn still happens.
func (s *Supervisor) start(req startReq, sl *slot) error {
	if sl.live() {
		if err := s.signal(req.role, sl); err != nil {
			notify.Error(s.notifier, "Failed to kill %s process.", req.role)
		}
	}

	sl.gen++
	sl.done = make(chan struct{})
	sl.proc = nil
	sl.exitCode = nil
	sl.startedAt = time.Now()
	sl.state = models.StateStarting

	proc, err := s.spawner.Spawn(req.ctx, req.cmd)
	if err != nil {
		sl.state = models.StateExited
		close(sl.done)
		s.logger.Error("supervisor: spawn failed",
			slog.String("role", string(req.role)),
			slog.String("command", req.cmd.String()),
			slog.String("error", err.Error()))
		notify.Error(s.notifier, "%s Error: %s", s.label(req.role), err.Error())
		return err
	}

	sl.proc = proc
	sl.state = models.StateRunning
	s.logger.Info("supervisor: started",
		slog.String("role", string(req.role)),
		slog.Int("pid", proc.PID()),
		slog.String("command", req.cmd.String()),
		slog.String("dir", req.cmd.Dir))

	go s.monitor(req.role, sl.gen, proc, sl.done)
	return nil
}

func (s *Supervisor) stop(role models.Role, sl *slot) error {
	switch {
	case sl.state == models.StateIdle:
		return ErrNoProcess
	case !sl.live():
		return nil
	}
	if err := s.signal(role, sl); err != nil {
		notify.Error(s.notifier, "Failed to stop %s.", s.label(role))
		return err
	}
	return nil
}

// signal sends os.Interrupt to the slot's process.
func (s *Supervisor) signal(role models.Role, sl *slot) error {
	pid := sl.proc.PID()
	if err := sl.proc.Signal(os.Interrupt); err != nil {
		s.logger.Warn("supervisor: signal failed",
			slog.String("role", string(role)),
			slog.Int("pid", pid),
			slog.String("error", err.Error()))
		return &SignalError{Role: role, PID: pid, Err: err}
	}
	s.logger.Info("supervisor: interrupt sent", slog.String("role", string(role)), slog.Int("pid", pid))
	return nil
}

func (s *Supervisor) handle(ev procEvent, sl *slot) {
	current := ev.gen == sl.gen
	cfg := s.roles[ev.role]

	switch ev.kind {
	case evStdout:
		s.logger.Debug("supervisor: stdout", slog.String("role", string(ev.role)), slog.String("line", ev.line))
		if !current || cfg.ReadyMarker == "" || sl.state != models.StateRunning {
			return
		}
		if strings.Contains(ev.line, cfg.ReadyMarker) {
			sl.state = models.StateReady
			s.logger.Info("supervisor: ready", slog.String("role", string(ev.role)))
			if cfg.OnReady != nil {
				cfg.OnReady()
			}
		}

	case evStderr:
		notify.Error(s.notifier, "%s Error: %s", s.label(ev.role), ev.line)

	case evExit:
		defer close(ev.done)
		s.logger.Info("supervisor: exited",
			slog.String("role", string(ev.role)),
			slog.Int("code", ev.code),
			slog.Bool("current", current))
		if ev.err != nil {
			notify.Error(s.notifier, "%s Error: %s", s.label(ev.role), ev.err.Error())
		}
		if ev.code != 0 && ev.code != ExitSignaled {
			notify.Error(s.notifier, "%s Error: Code %d", s.label(ev.role), ev.code)
		}
		if cfg.ExitNotice != "" {
			notify.Info(s.notifier, "%s", cfg.ExitNotice)
		}
		if !current {
			return
		}
		sl.state = models.StateExited
		if ev.code != ExitSignaled {
			code := ev.code
			sl.exitCode = &code
		}
		if cfg.OnExit != nil {
			cfg.OnExit(ev.code)
		}
	}
}

func status(role models.Role, sl *slot) models.ProcessStatus {
	st := models.ProcessStatus{
		Role:      role,
		State:     sl.state,
		StartedAt: sl.startedAt,
	}
	if sl.proc != nil {
		st.PID = sl.proc.PID()
	}
	if sl.exitCode != nil {
		code := *sl.exitCode
		st.ExitCode = &code
	}
	return st
}

// drainTimeout bounds how long output is still read after the process has
// exited before the exit is reported.
var drainTimeout = 500 * time.Millisecond

// monitor scans both output streams line by line while waiting for the exit.
// Output left unread drainTimeout after the exit is dropped.
func (s *Supervisor) monitor(role models.Role, gen int, proc Process, done chan struct{}) {
	var wg sync.WaitGroup
	scan := func(r io.Reader, kind eventKind) {
		defer wg.Done()
		if r == nil {
			return
		}
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			s.post(procEvent{role: role, gen: gen, kind: kind, line: sc.Text()})
		}
		// Drain whatever is left so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
	wg.Add(2)
	go scan(proc.Stdout(), evStdout)
	go scan(proc.Stderr(), evStderr)
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	code, err := proc.Wait()
	timer := time.NewTimer(drainTimeout)
	select {
	case <-drained:
	case <-timer.C:
		s.logger.Debug("supervisor: output still open after exit", slog.String("role", string(role)))
	}
	timer.Stop()
	if cerr := proc.Close(); cerr != nil {
		s.logger.Debug("supervisor: close output", slog.String("role", string(role)), slog.String("error", cerr.Error()))
	}
	s.post(procEvent{role: role, gen: gen, kind: evExit, code: code, err: err, done: done})
}

func (s *Supervisor) post(ev procEvent) {
	select {
	case s.eventCh <- ev:
	case <-s.stopped:
	}
}

// Start replaces the role's process with a new one running cmd. A live
// predecessor is interrupted first.
func (s *Supervisor) Start(ctx context.Context, role models.Role, cmd Command) error {
	if s.closed.Load() {
		return ErrClosed
	}
	resp := make(chan error, 1)
	select {
	case s.startCh <- startReq{ctx: ctx, role: role, cmd: cmd, resp: resp}:
	case <-s.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-resp
}

// Stop interrupts the role's process. It returns ErrNoProcess when nothing
// was ever started, nil when the process already exited, and a *SignalError
// when the interrupt could not be delivered.
func (s *Supervisor) Stop(role models.Role) error {
	if s.closed.Load() {
		return ErrClosed
	}
	resp := make(chan error, 1)
	select {
	case s.stopCh <- stopReq{role: role, resp: resp}:
	case <-s.stopped:
		return ErrClosed
	}
	return <-resp
}

// Status returns a snapshot of the role's slot.
func (s *Supervisor) Status(role models.Role) models.ProcessStatus {
	idle := models.ProcessStatus{Role: role, State: models.StateIdle}
	if s.closed.Load() {
		return idle
	}
	resp := make(chan models.ProcessStatus, 1)
	select {
	case s.statusCh <- statusReq{role: role, resp: resp}:
	case <-s.stopped:
		return idle
	}
	return <-resp
}

// Done returns a channel that is closed once the role's current process has
// exited and its OnExit hook has returned. It is already closed when nothing
// was started, when the spawn failed, and after Close.
func (s *Supervisor) Done(role models.Role) <-chan struct{} {
	if s.closed.Load() {
		return closedCh
	}
	resp := make(chan (<-chan struct{}), 1)
	select {
	case s.doneCh <- doneReq{role: role, resp: resp}:
	case <-s.stopped:
		return closedCh
	}
	return <-resp
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Close interrupts every live child and stops the event loop. Exits that
// happen afterwards are not reported.
func (s *Supervisor) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.closeCh)
	}
	<-s.stopped
}
