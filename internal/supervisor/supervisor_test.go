package supervisor_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/hexobridge/internal/models"
	"github.com/starford/hexobridge/internal/notify"
	"github.com/starford/hexobridge/internal/supervisor"
	"github.com/starford/hexobridge/internal/supervisor/fake"
	"github.com/starford/hexobridge/internal/testutil"
)

const marker = "Press Ctrl+C to stop."

type env struct {
	sup     *supervisor.Supervisor
	spawner *fake.Spawner
	rec     *notify.Recorder
	ready   atomic.Int32
	exits   chan int
}

func newEnv(t *testing.T, spawner *fake.Spawner) *env {
	t.Helper()
	e := &env{spawner: spawner, rec: notify.NewRecorder(0), exits: make(chan int, 16)}
	e.sup = supervisor.New(spawner, e.rec, testutil.Logger(), map[models.Role]supervisor.RoleConfig{
		models.RolePreview: {
			Label:       "Local Hexo Server",
			ReadyMarker: marker,
			OnReady:     func() { e.ready.Add(1) },
			ExitNotice:  "Local Hexo Server Stopped",
		},
		models.RolePublish: {
			Label:  "Hexo Publish",
			OnExit: func(code int) { e.exits <- code },
		},
	})
	t.Cleanup(e.sup.Close)
	return e
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

var previewCmd = supervisor.Command{
	Launcher: "/usr/bin/npx",
	Args:     []string{"hexo", "serve", "--draft", "-g", "-i", "127.0.0.1", "-p", "4000"},
	Dir:      "/blog",
}

func (e *env) waitState(t *testing.T, role models.Role, want models.State) {
	t.Helper()
	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return e.sup.Status(role).State == want
	}, "role "+string(role)+" never reached "+string(want))
}

func TestStart_SpawnsCommand(t *testing.T) {
	e := newEnv(t, &fake.Spawner{})
	if err := e.sup.Start(context.Background(), models.RolePreview, previewCmd); err != nil {
		t.Fatalf("Start: %v", err)
	}
	calls := e.spawner.Calls()
	if len(calls) != 1 || calls[0].Op != "spawn" {
		t.Fatalf("calls = %+v", calls)
	}
	got := calls[0].Cmd
	if got.Launcher != previewCmd.Launcher || got.Dir != "/blog" || strings.Join(got.Args, " ") != strings.Join(previewCmd.Args, " ") {
		t.Errorf("cmd = %+v", got)
	}
	st := e.sup.Status(models.RolePreview)
	if st.State != models.StateRunning || st.PID == 0 || st.ExitCode != nil {
		t.Errorf("status = %+v", st)
	}
	if e.sup.Status(models.RolePublish).State != models.StateIdle {
		t.Error("publish role should be untouched")
	}
}

func TestStart_StopsPreviousBeforeSpawn(t *testing.T) {
	e := newEnv(t, &fake.Spawner{})
	ctx := context.Background()
	_ = e.sup.Start(ctx, models.RolePreview, previewCmd)
	first := e.spawner.Last()
	if err := e.sup.Start(ctx, models.RolePreview, previewCmd); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	calls := e.spawner.Calls()
	if len(calls) != 3 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Op != "spawn" || calls[1].Op != "signal" || calls[2].Op != "spawn" {
		t.Errorf("order = %s, %s, %s; want spawn, signal, spawn", calls[0].Op, calls[1].Op, calls[2].Op)
	}
	if calls[1].PID != first.PID() || calls[1].Signal != os.Interrupt {
		t.Errorf("signal call = %+v", calls[1])
	}
}

func TestStart_KillFailureWarnsAndProceeds(t *testing.T) {
	e := newEnv(t, &fake.Spawner{SignalErr: errors.New("operation not permitted")})
	ctx := context.Background()
	_ = e.sup.Start(ctx, models.RolePreview, previewCmd)
	if err := e.sup.Start(ctx, models.RolePreview, previewCmd); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if n := len(e.spawner.Processes()); n != 2 {
		t.Errorf("spawned %d processes, want 2", n)
	}
	errs := testutil.NoticesAt(e.rec, notify.LevelError)
	if len(errs) != 1 || !strings.Contains(errs[0].Text, "Failed to kill preview process") {
		t.Errorf("errors = %+v", errs)
	}
}

func TestReadyMarker(t *testing.T) {
	e := newEnv(t, &fake.Spawner{})
	_ = e.sup.Start(context.Background(), models.RolePreview, previewCmd)
	p := e.spawner.Last()

	_ = p.WriteStdout("INFO  Validating config")
	_ = p.WriteStdout("INFO  Start processing")
	time.Sleep(50 * time.Millisecond)
	if st := e.sup.Status(models.RolePreview).State; st != models.StateRunning {
		t.Fatalf("state = %s before marker", st)
	}

	_ = p.WriteStdout("INFO  Hexo is running at http://127.0.0.1:4000/ . " + marker)
	e.waitState(t, models.RolePreview, models.StateReady)
	_ = p.WriteStdout(marker)
	time.Sleep(50 * time.Millisecond)
	if n := e.ready.Load(); n != 1 {
		t.Errorf("OnReady called %d times, want 1", n)
	}
}

func TestReadyMarker_IgnoredWithoutMarkerConfig(t *testing.T) {
	e := newEnv(t, &fake.Spawner{})
	_ = e.sup.Start(context.Background(), models.RolePublish, supervisor.Command{Launcher: "npx"})
	_ = e.spawner.Last().WriteStdout(marker)
	time.Sleep(50 * time.Millisecond)
	if st := e.sup.Status(models.RolePublish).State; st != models.StateRunning {
		t.Errorf("state = %s, want running", st)
	}
}

func TestStderrLinesNotify(t *testing.T) {
	e := newEnv(t, &fake.Spawner{})
	_ = e.sup.Start(context.Background(), models.RolePreview, previewCmd)
	p := e.spawner.Last()
	_ = p.WriteStderr("ERROR something broke")
	_ = p.WriteStderr("ERROR again")

	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(testutil.NoticesAt(e.rec, notify.LevelError)) == 2
	}, "expected two stderr notices")
	errs := testutil.NoticesAt(e.rec, notify.LevelError)
	if len(errs) == 2 && errs[0].Text != "[Hexo Helper] Local Hexo Server Error: ERROR something broke" {
		t.Errorf("text = %q", errs[0].Text)
	}
	if st := e.sup.Status(models.RolePreview).State; st != models.StateRunning {
		t.Errorf("stderr changed state to %s", st)
	}
}

func TestPreviewExitZero_NoError(t *testing.T) {
	e := newEnv(t, &fake.Spawner{})
	_ = e.sup.Start(context.Background(), models.RolePreview, previewCmd)
	e.spawner.Last().Exit(0)
	e.waitState(t, models.RolePreview, models.StateExited)

	if errs := testutil.NoticesAt(e.rec, notify.LevelError); len(errs) != 0 {
		t.Errorf("unexpected errors: %+v", errs)
	}
	st := e.sup.Status(models.RolePreview)
	if st.ExitCode == nil || *st.ExitCode != 0 {
		t.Errorf("exit code = %v", st.ExitCode)
	}
	eventually(t, time.Second, 10*time.Millisecond, func() bool {
		for _, n := range e.rec.Notices() {
			if strings.Contains(n.Text, "Local Hexo Server Stopped") {
				return true
			}
		}
		return false
	}, "expected stopped notice")
}

func TestPreviewExitOne_SingleError(t *testing.T) {
	e := newEnv(t, &fake.Spawner{})
	_ = e.sup.Start(context.Background(), models.RolePreview, previewCmd)
	e.spawner.Last().Exit(1)
	e.waitState(t, models.RolePreview, models.StateExited)

	errs := testutil.NoticesAt(e.rec, notify.LevelError)
	if len(errs) != 1 {
		t.Fatalf("errors = %+v, want exactly one", errs)
	}
	if !strings.Contains(errs[0].Text, "1") {
		t.Errorf("error %q does not mention the code", errs[0].Text)
	}
}

func TestPublishOnExitReceivesCode(t *testing.T) {
	e := newEnv(t, &fake.Spawner{})
	_ = e.sup.Start(context.Background(), models.RolePublish, supervisor.Command{Launcher: "npx"})
	e.spawner.Last().Exit(2)
	select {
	case code := <-e.exits:
		if code != 2 {
			t.Errorf("code = %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnExit not called")
	}
}

func TestSignaledExitHasNoCode(t *testing.T) {
	e := newEnv(t, &fake.Spawner{ExitOnSignal: true})
	_ = e.sup.Start(context.Background(), models.RolePreview, previewCmd)
	if err := e.sup.Stop(models.RolePreview); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	e.waitState(t, models.RolePreview, models.StateExited)
	if st := e.sup.Status(models.RolePreview); st.ExitCode != nil {
		t.Errorf("exit code = %d, want nil", *st.ExitCode)
	}
	if errs := testutil.NoticesAt(e.rec, notify.LevelError); len(errs) != 0 {
		t.Errorf("unexpected errors: %+v", errs)
	}
}

func TestStop(t *testing.T) {
	e := newEnv(t, &fake.Spawner{})

	if err := e.sup.Stop(models.RolePreview); !errors.Is(err, supervisor.ErrNoProcess) {
		t.Errorf("idle stop err = %v, want ErrNoProcess", err)
	}

	_ = e.sup.Start(context.Background(), models.RolePreview, previewCmd)
	p := e.spawner.Last()
	if err := e.sup.Stop(models.RolePreview); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sigs := p.Signals(); len(sigs) != 1 || sigs[0] != os.Interrupt {
		t.Errorf("signals = %v", sigs)
	}

	p.Exit(0)
	e.waitState(t, models.RolePreview, models.StateExited)
	if err := e.sup.Stop(models.RolePreview); err != nil {
		t.Errorf("stop after exit err = %v, want nil", err)
	}
	if sigs := p.Signals(); len(sigs) != 1 {
		t.Errorf("stop after exit sent another signal: %v", sigs)
	}
}

func TestStop_SignalFailure(t *testing.T) {
	e := newEnv(t, &fake.Spawner{SignalErr: os.ErrProcessDone})
	_ = e.sup.Start(context.Background(), models.RolePreview, previewCmd)

	err := e.sup.Stop(models.RolePreview)
	var sigErr *supervisor.SignalError
	if !errors.As(err, &sigErr) {
		t.Fatalf("err = %v, want *SignalError", err)
	}
	if sigErr.Role != models.RolePreview || !errors.Is(err, os.ErrProcessDone) {
		t.Errorf("signal error = %+v", sigErr)
	}
	errs := testutil.NoticesAt(e.rec, notify.LevelError)
	if len(errs) != 1 || !strings.Contains(errs[0].Text, "Failed to stop Local Hexo Server") {
		t.Errorf("errors = %+v", errs)
	}
}

func TestSpawnFailure(t *testing.T) {
	e := newEnv(t, &fake.Spawner{SpawnErr: errors.New("exec: \"npx\": not found")})
	err := e.sup.Start(context.Background(), models.RolePublish, supervisor.Command{Launcher: "npx"})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if st := e.sup.Status(models.RolePublish).State; st != models.StateExited {
		t.Errorf("state = %s, want exited", st)
	}
	errs := testutil.NoticesAt(e.rec, notify.LevelError)
	if len(errs) != 1 || !strings.Contains(errs[0].Text, "Hexo Publish Error") {
		t.Errorf("errors = %+v", errs)
	}
	if err := e.sup.Stop(models.RolePublish); err != nil {
		t.Errorf("stop after failed spawn = %v, want nil", err)
	}
}

func TestStaleExitKeepsNewProcessState(t *testing.T) {
	e := newEnv(t, &fake.Spawner{})
	ctx := context.Background()
	_ = e.sup.Start(ctx, models.RolePreview, previewCmd)
	old := e.spawner.Last()
	_ = e.sup.Start(ctx, models.RolePreview, previewCmd)

	old.Exit(1)
	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(testutil.NoticesAt(e.rec, notify.LevelError)) == 1
	}, "stale exit should still be reported")

	st := e.sup.Status(models.RolePreview)
	if st.State != models.StateRunning || st.PID != e.spawner.Last().PID() {
		t.Errorf("status = %+v", st)
	}
}

func TestCloseInterruptsLiveChildren(t *testing.T) {
	spawner := &fake.Spawner{}
	rec := notify.NewRecorder(0)
	sup := supervisor.New(spawner, rec, testutil.Logger(), nil)
	ctx := context.Background()
	_ = sup.Start(ctx, models.RolePreview, previewCmd)
	_ = sup.Start(ctx, models.RolePublish, supervisor.Command{Launcher: "npx"})

	sup.Close()
	for _, p := range spawner.Processes() {
		if len(p.Signals()) != 1 {
			t.Errorf("process %d signals = %v", p.PID(), p.Signals())
		}
	}
	if err := sup.Start(ctx, models.RolePreview, previewCmd); !errors.Is(err, supervisor.ErrClosed) {
		t.Errorf("Start after Close = %v", err)
	}
	if err := sup.Stop(models.RolePreview); !errors.Is(err, supervisor.ErrClosed) {
		t.Errorf("Stop after Close = %v", err)
	}
	sup.Close()
}

func TestExecSpawner_RealProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not found")
	}

	rec := notify.NewRecorder(0)
	var ready atomic.Int32
	exits := make(chan int, 1)
	sup := supervisor.New(supervisor.ExecSpawner{}, rec, testutil.Logger(), map[models.Role]supervisor.RoleConfig{
		models.RolePreview: {
			Label:       "Local Hexo Server",
			ReadyMarker: marker,
			OnReady:     func() { ready.Add(1) },
			OnExit:      func(code int) { exits <- code },
		},
	})
	defer sup.Close()

	dir := t.TempDir()
	err = sup.Start(context.Background(), models.RolePreview, supervisor.Command{
		Launcher: sh,
		Args:     []string{"-c", "echo 'INFO  " + marker + "'; echo oops 1>&2; exit 3"},
		Dir:      dir,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case code := <-exits:
		if code != 3 {
			t.Errorf("code = %d, want 3", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	if ready.Load() != 1 {
		t.Error("ready marker not detected")
	}
	var texts []string
	for _, n := range testutil.NoticesAt(rec, notify.LevelError) {
		texts = append(texts, n.Text)
	}
	joined := strings.Join(texts, "\n")
	if !strings.Contains(joined, "Error: oops") || !strings.Contains(joined, "Code 3") {
		t.Errorf("errors = %q", joined)
	}
}

func TestExecSpawner_MissingLauncher(t *testing.T) {
	_, err := supervisor.ExecSpawner{}.Spawn(context.Background(), supervisor.Command{
		Launcher: "/nonexistent/hexobridge-launcher",
	})
	if err == nil {
		t.Fatal("expected start error")
	}
}

func TestDone(t *testing.T) {
	e := newEnv(t, &fake.Spawner{})
	select {
	case <-e.sup.Done(models.RolePublish):
	default:
		t.Fatal("Done should be closed before any start")
	}

	if err := e.sup.Start(context.Background(), models.RolePublish, supervisor.Command{Launcher: "npx"}); err != nil {
		t.Fatal(err)
	}
	done := e.sup.Done(models.RolePublish)
	select {
	case <-done:
		t.Fatal("Done closed while the process runs")
	default:
	}

	e.spawner.Last().Exit(0)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after exit")
	}
	// OnExit has returned by the time Done is closed.
	select {
	case code := <-e.exits:
		if code != 0 {
			t.Errorf("code = %d", code)
		}
	default:
		t.Error("OnExit had not run when Done closed")
	}
}

func TestExecSpawner_ExitNotDelayedByDescendant(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not found")
	}

	exits := make(chan int, 1)
	sup := supervisor.New(supervisor.ExecSpawner{}, notify.NewRecorder(0), testutil.Logger(), map[models.Role]supervisor.RoleConfig{
		models.RolePublish: {
			Label:  "Hexo Publish",
			OnExit: func(code int) { exits <- code },
		},
	})
	defer sup.Close()

	// The background sleep inherits stdout and keeps it open after sh exits.
	start := time.Now()
	err = sup.Start(context.Background(), models.RolePublish, supervisor.Command{
		Launcher: sh,
		Args:     []string{"-c", "sleep 3 & exit 0"},
		Dir:      t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-sup.Done(models.RolePublish):
	case <-time.After(2 * time.Second):
		t.Fatal("exit was held back by the descendant's open output")
	}
	if elapsed := time.Since(start); elapsed >= 2*time.Second {
		t.Errorf("exit observed after %s", elapsed)
	}
	select {
	case code := <-exits:
		if code != 0 {
			t.Errorf("code = %d, want 0", code)
		}
	default:
		t.Error("OnExit had not run when Done closed")
	}
	if st := sup.Status(models.RolePublish); st.State != models.StateExited {
		t.Errorf("state = %s, want exited", st.State)
	}
}
