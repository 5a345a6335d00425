// Package notify delivers short-lived status and error messages to the user.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Prefix is prepended to every notice text.
const Prefix = "[Hexo Helper] "

// Level classifies a notice.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notice is one user-facing message.
type Notice struct {
	Level Level     `json:"level"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
}

// Notifier is a side-effecting sink for notices.
type Notifier interface {
	Notify(n Notice)
}

// Func adapts a function to Notifier.
type Func func(Notice)

func (f Func) Notify(n Notice) { f(n) }

// Info sends an informational notice built from format and args.
func Info(n Notifier, format string, args ...any) {
	send(n, LevelInfo, format, args...)
}

// Error sends an error notice built from format and args.
func Error(n Notifier, format string, args ...any) {
	send(n, LevelError, format, args...)
}

func send(n Notifier, level Level, format string, args ...any) {
	if n == nil {
		return
	}
	n.Notify(Notice{
		Level: level,
		Text:  Prefix + fmt.Sprintf(format, args...),
		Time:  time.Now(),
	})
}

// Multi fans a notice out to every sink in order.
type Multi []Notifier

func (m Multi) Notify(n Notice) {
	for _, s := range m {
		if s != nil {
			s.Notify(n)
		}
	}
}

// Log writes notices to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(n Notice) {
	lvl := slog.LevelInfo
	if n.Level == LevelError {
		lvl = slog.LevelError
	}
	l.Logger.Log(context.Background(), lvl, "notice", slog.String("text", n.Text))
}

var (
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// Terminal prints one styled line per notice, for the one-shot CLI commands.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminal returns a Terminal sink writing to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) Notify(n Notice) {
	style := infoStyle
	if n.Level == LevelError {
		style = errorStyle
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintln(t.w, style.Render(n.Text))
}

// Recorder keeps the most recent notices in memory.
type Recorder struct {
	mu      sync.Mutex
	max     int
	notices []Notice
}

// NewRecorder keeps at most max notices; max <= 0 keeps all.
func NewRecorder(max int) *Recorder {
	return &Recorder{max: max}
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	if r.max > 0 && len(r.notices) > r.max {
		r.notices = r.notices[len(r.notices)-r.max:]
	}
}

// Notices returns a copy of the retained notices, oldest first.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}
