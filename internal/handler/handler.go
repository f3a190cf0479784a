// Package handler exposes storefront sessions over HTTP and WebSocket.
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/AikioCorp/buy-web-sub002/internal/session"
	"github.com/AikioCorp/buy-web-sub002/pkg/httpmiddleware"
)

// Sessions is the session registry used by the handlers.
type Sessions interface {
	Create(ctx context.Context) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Delete(id string) error
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in responses.
	// When empty, image paths are returned as received from the backend.
	ImageBaseURL string
	// MaxBodyBytes caps request bodies. Defaults to 64 KiB.
	MaxBodyBytes int64
}

// Handler serves the storefront edge API.
type Handler struct {
	sessions     Sessions
	imageBaseURL string
	maxBody      int64
	upgrader     websocket.Upgrader
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, sessions Sessions) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Handler{
		sessions:     sessions,
		imageBaseURL: cfg.ImageBaseURL,
		maxBody:      cfg.MaxBodyBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin checks are done by the CORS middleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.deleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/query", h.query)
	mux.HandleFunc("GET /api/sessions/{id}/suggestions", h.suggestions)
	mux.HandleFunc("POST /api/sessions/{id}/suggestions/select", h.selectSuggestion)
	mux.HandleFunc("PUT /api/sessions/{id}/filter", h.setFilter)
	mux.HandleFunc("POST /api/sessions/{id}/sentinel", h.sentinel)
	mux.HandleFunc("POST /api/sessions/{id}/feed/retry", h.retry)
	mux.HandleFunc("GET /api/sessions/{id}/feed", h.feed)
	mux.HandleFunc("GET /api/sessions/{id}/stream", h.stream)
}

// session resolves the {id} path value, writing a 404 when it is unknown.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return s, true
}

// fail maps err to a status code and writes the error body.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var bad *badRequestError
	switch {
	case errors.As(err, &bad):
		httpmiddleware.WriteError(w, http.StatusBadRequest, bad.Error())
	case errors.Is(err, session.ErrNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrClosed):
		httpmiddleware.WriteError(w, http.StatusGone, "session closed")
	case errors.Is(err, session.ErrTooManySessions):
		httpmiddleware.WriteError(w, http.StatusServiceUnavailable, "too many sessions")
	case errors.Is(err, context.Canceled):
		// Client went away.
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) image(ref string) string {
	if ref == "" || h.imageBaseURL == "" || strings.Contains(ref, "://") {
		return ref
	}
	return strings.TrimSuffix(h.imageBaseURL, "/") + "/" + strings.TrimPrefix(ref, "/")
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
