package notify

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestInfoAndErrorPrefix(t *testing.T) {
	r := NewRecorder(0)
	Info(r, "Local Hexo Server Running.")
	Error(r, "Hexo Publish Error: Code %d", 2)

	got := r.Notices()
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Level != LevelInfo || got[0].Text != "[Hexo Helper] Local Hexo Server Running." {
		t.Errorf("info notice = %+v", got[0])
	}
	if got[1].Level != LevelError || got[1].Text != "[Hexo Helper] Hexo Publish Error: Code 2" {
		t.Errorf("error notice = %+v", got[1])
	}
	if got[0].Time.IsZero() {
		t.Error("time not set")
	}
}

func TestNilNotifierIsSafe(t *testing.T) {
	Info(nil, "ignored")
}

func TestRecorderBound(t *testing.T) {
	r := NewRecorder(2)
	Info(r, "a")
	Info(r, "b")
	Error(r, "c")
	got := r.Notices()
	if len(got) != 2 || !strings.HasSuffix(got[0].Text, "b") || !strings.HasSuffix(got[1].Text, "c") {
		t.Errorf("got %+v", got)
	}
	if got[1].Level != LevelError {
		t.Errorf("level = %s, want error", got[1].Level)
	}
}

func TestMultiFansOut(t *testing.T) {
	a, b := NewRecorder(0), NewRecorder(0)
	var called int
	m := Multi{a, nil, b, Func(func(Notice) { called++ })}
	Info(m, "hello")
	if len(a.Notices()) != 1 || len(b.Notices()) != 1 || called != 1 {
		t.Error("notice not delivered to every sink")
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	l := Log{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	Error(l, "boom")
	out := buf.String()
	if !strings.Contains(out, `"level":"ERROR"`) || !strings.Contains(out, "[Hexo Helper] boom") {
		t.Errorf("log output = %q", out)
	}
}

func TestTerminalSink(t *testing.T) {
	var buf bytes.Buffer
	Info(NewTerminal(&buf), "Blog Published")
	if !strings.Contains(buf.String(), "[Hexo Helper] Blog Published") {
		t.Errorf("terminal output = %q", buf.String())
	}
}
