package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/starford/hexobridge/internal/apperr"
	"github.com/starford/hexobridge/internal/models"
	"github.com/starford/hexobridge/internal/notify"
	"github.com/starford/hexobridge/internal/session"
	"github.com/starford/hexobridge/internal/settings"
	"github.com/starford/hexobridge/internal/supervisor"
)

// Controller is the session surface the API drives. *session.Session
// implements it.
type Controller interface {
	Preview(ctx context.Context, notePath string) (models.NoteRef, error)
	Publish(ctx context.Context, notePath string) (models.NoteRef, error)
	StopPreview() error
	ClosePanel(id string) error
	SetActive(rel string) error
	Status() session.Status
	Settings() settings.Settings
	UpdateSettings(ctx context.Context, st settings.Settings) error
}

// NoticeLister returns recent notices, oldest first.
type NoticeLister interface {
	Notices() []notify.Notice
}

// Handler holds API route handlers.
type Handler struct {
	ctrl    Controller
	notices NoticeLister
}

// NewHandler creates a new Handler.
func NewHandler(ctrl Controller, notices NoticeLister) *Handler {
	return &Handler{ctrl: ctrl, notices: notices}
}

type noteRequest struct {
	Note string `json:"note"`
}

type noteResponse struct {
	Note models.NoteRef `json:"note"`
}

// writeError maps domain errors to HTTP statuses. Unknown errors are logged
// and reported as 500.
func writeError(w http.ResponseWriter, op string, err error) {
	var sigErr *supervisor.SignalError
	switch {
	case errors.Is(err, apperr.ErrNoGeneratorRoot), errors.Is(err, apperr.ErrNoLauncher):
		writeJSON(w, http.StatusPreconditionFailed, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNoActiveNote),
		errors.Is(err, apperr.ErrNotMarkdown),
		errors.Is(err, apperr.ErrInvalidPath):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, os.ErrNotExist):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, supervisor.ErrNoProcess):
		writeJSON(w, http.StatusConflict, errorBody("no process running"))
	case errors.Is(err, supervisor.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("shutting down"))
	case errors.As(err, &sigErr):
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// StartPreview handles POST /api/preview.
//
//	@Summary		Stage a note as a draft and (re)start the preview server
//	@Tags			preview
//	@Accept			json
//	@Produce		json
//	@Param			body	body		noteRequest	false	"Vault-relative note path; the active note when omitted"
//	@Success		202		{object}	noteResponse
//	@Failure		400		{object}	errResponse
//	@Failure		412		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/preview [post]
func (h *Handler) StartPreview(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := readOptionalJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	note, err := h.ctrl.Preview(r.Context(), req.Note)
	if err != nil {
		writeError(w, "preview", err)
		return
	}
	writeJSON(w, http.StatusAccepted, noteResponse{Note: note})
}

// StopPreview handles DELETE /api/preview.
//
//	@Summary		Stop the preview server
//	@Tags			preview
//	@Success		204
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/preview [delete]
func (h *Handler) StopPreview(w http.ResponseWriter, _ *http.Request) {
	if err := h.ctrl.StopPreview(); err != nil {
		writeError(w, "stop preview", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Publish handles POST /api/publish.
//
//	@Summary		Stage a note as a post and deploy the blog
//	@Tags			publish
//	@Accept			json
//	@Produce		json
//	@Param			body	body		noteRequest	false	"Vault-relative note path; the active note when omitted"
//	@Success		202		{object}	noteResponse
//	@Failure		400		{object}	errResponse
//	@Failure		412		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/publish [post]
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := readOptionalJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	note, err := h.ctrl.Publish(r.Context(), req.Note)
	if err != nil {
		writeError(w, "publish", err)
		return
	}
	writeJSON(w, http.StatusAccepted, noteResponse{Note: note})
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// Notices handles GET /api/notices.
func (h *Handler) Notices(w http.ResponseWriter, _ *http.Request) {
	list := []notify.Notice{}
	if h.notices != nil {
		list = append(list, h.notices.Notices()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"notices": list})
}

// SetActive handles PUT /api/active. An empty path clears the focus.
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := readOptionalJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.ctrl.SetActive(req.Path); err != nil {
		writeError(w, "set active", err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// GetSettings handles GET /api/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Settings())
}

// UpdateSettings handles PUT /api/settings.
//
// Keys missing from the body keep their current value. Values are stored as
// given; an unusable port only fails once a preview uses it.
//
//	@Summary		Update the generator settings
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		settings.Settings	true	"Settings"
//	@Success		200		{object}	settings.Settings
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings [put]
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	st := h.ctrl.Settings()
	if err := readJSON(w, r, &st); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.ctrl.UpdateSettings(r.Context(), st); err != nil {
		writeError(w, "update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ClosePanel handles DELETE /api/panel/{id}.
func (h *Handler) ClosePanel(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.ClosePanel(chi.URLParam(r, "id")); err != nil {
		writeError(w, "close panel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
