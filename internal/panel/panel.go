// Package panel manages the single preview panel that frames the local
// generator server.
package panel

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/hexobridge/internal/apperr"
	"github.com/starford/hexobridge/internal/models"
	"github.com/starford/hexobridge/internal/sse"
	"github.com/starford/hexobridge/internal/supervisor"
)

// ViewType identifies the preview panel. At most one instance exists.
const ViewType = "hexo-view"

// DisplayText is the panel title.
const DisplayText = "Hexo Preview"

// Instance is one opened panel.
type Instance struct {
	ID       string    `json:"id"`
	ViewType string    `json:"view_type"`
	OpenedAt time.Time `json:"opened_at"`
}

// Publisher receives panel lifecycle events.
type Publisher interface {
	Publish(event sse.Event)
}

// Stopper stops a supervised role.
type Stopper interface {
	Stop(role models.Role) error
}

// Opener shows a URL to the user, typically in the system browser.
type Opener func(url string) error

// Manager keeps 0 or 1 panel instance.
type Manager struct {
	events  Publisher
	stopper Stopper
	opener  Opener
	baseURL string // control server URL serving /panel
	logger  *slog.Logger

	mu      sync.Mutex
	current *Instance
}

// NewManager creates a panel manager. opener may be nil, in which case
// opening a panel only announces it on the event stream.
func NewManager(events Publisher, stopper Stopper, opener Opener, baseURL string, logger *slog.Logger) *Manager {
	return &Manager{
		events:  events,
		stopper: stopper,
		opener:  opener,
		baseURL: baseURL,
		logger:  logger,
	}
}

// Open detaches any existing instance, creates a new one, and brings it to
// the front.
func (m *Manager) Open() Instance {
	m.mu.Lock()
	m.detachLocked()
	inst := Instance{
		ID:       uuid.NewString(),
		ViewType: ViewType,
		OpenedAt: time.Now(),
	}
	m.current = &inst
	m.mu.Unlock()

	url := m.URL(inst.ID)
	m.publish(sse.TypePanelOpened, inst, url)
	m.logger.Info("panel: opened", slog.String("id", inst.ID), slog.String("url", url))

	if m.opener != nil {
		if err := m.opener(url); err != nil {
			m.logger.Warn("panel: open browser failed",
				slog.String("url", url),
				slog.String("error", err.Error()))
		}
	}
	return inst
}

// Detach removes the current instance without touching the preview process.
func (m *Manager) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detachLocked()
}

func (m *Manager) detachLocked() {
	if m.current == nil {
		return
	}
	old := *m.current
	m.current = nil
	m.publish(sse.TypePanelClosed, old, "")
	m.logger.Debug("panel: detached", slog.String("id", old.ID))
}

// Close removes the instance with the given id and stops the preview process
// if it is still running. A failed stop is reported by the supervisor and
// does not keep the panel open.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	if m.current == nil || m.current.ID != id {
		m.mu.Unlock()
		return apperr.ErrNotFound
	}
	old := *m.current
	m.current = nil
	m.mu.Unlock()

	m.publish(sse.TypePanelClosed, old, "")
	m.logger.Info("panel: closed", slog.String("id", id))

	if err := m.stopper.Stop(models.RolePreview); err != nil && !errors.Is(err, supervisor.ErrNoProcess) {
		m.logger.Warn("panel: stop preview failed", slog.String("error", err.Error()))
	}
	return nil
}

// Current returns the open instance, if any.
func (m *Manager) Current() (Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Instance{}, false
	}
	return *m.current, true
}

// URL is the address of the panel page for the instance id.
func (m *Manager) URL(id string) string {
	return m.baseURL + "/panel?id=" + id
}

func (m *Manager) publish(kind string, inst Instance, url string) {
	if m.events == nil {
		return
	}
	data := map[string]string{"id": inst.ID, "view_type": inst.ViewType}
	if url != "" {
		data["url"] = url
	}
	m.events.Publish(sse.Event{Type: kind, Data: data})
}
