// Package httpapi provides the HTTP API for a livecoder session.
// It delegates all business logic to the engine.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jxucoder/livecoder/action"
	"github.com/jxucoder/livecoder/engine"
	"github.com/jxucoder/livecoder/model"
	"github.com/jxucoder/livecoder/store"
)

const (
	maxBodyBytes   = 1 << 20
	maxContentLen  = 10000
	requestTimeout = 2 * time.Minute
)

// Handler provides the HTTP API.
type Handler struct {
	engine *engine.Engine
	logger *zap.Logger
	router chi.Router
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New creates a new HTTP API handler.
func New(eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{engine: eng, logger: zap.NewNop()}
	for _, o := range opts {
		o(h)
	}
	h.router = h.buildRouter()
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Get("/state", h.handleGetState)
		r.Put("/script", h.handleSetScript)
		r.Post("/run", h.handleRun)
		r.Post("/stop", h.handleStop)
		r.Get("/messages", h.handleGetMessages)
		r.Post("/messages", h.handleSendMessage)
		r.Delete("/messages", h.handleClearMessages)
		r.Get("/executions", h.handleGetExecutions)
		r.Get("/actions", h.handleListActions)
		r.Post("/actions/{name}", h.handleDispatch)
		r.Get("/events", h.handleGetEvents)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// --- Request/Response types ---

type setScriptRequest struct {
	Script *string `json:"script"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type stateResponse struct {
	model.AppState
	Live []string `json:"live"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	live := h.engine.Live()
	if live == nil {
		live = []string{}
	}
	writeJSON(w, http.StatusOK, stateResponse{AppState: h.engine.State(), Live: live})
}

func (h *Handler) handleSetScript(w http.ResponseWriter, r *http.Request) {
	var req setScriptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Script == nil {
		writeError(w, http.StatusBadRequest, "script is required")
		return
	}
	h.engine.SetScript(*req.Script)
	writeJSON(w, http.StatusOK, h.engine.State())
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	rec := h.engine.Run(r.Context())
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	h.engine.Stop(r.Context())
	writeJSON(w, http.StatusOK, h.engine.State())
}

func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.State().Messages)
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len([]rune(req.Content)) > maxContentLen {
		writeError(w, http.StatusBadRequest, "content exceeds 10000 characters")
		return
	}

	reply := h.engine.SendMessage(r.Context(), req.Content)
	writeJSON(w, http.StatusOK, reply)
}

func (h *Handler) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearMessages()
	writeJSON(w, http.StatusOK, h.engine.State().Messages)
}

func (h *Handler) handleGetExecutions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.State().ExecutionHistory)
}

func (h *Handler) handleListActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Actions())
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := action.Describe(name); !ok {
		writeError(w, http.StatusNotFound, "Unknown action: "+name)
		return
	}

	var params map[string]any
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	writeJSON(w, http.StatusOK, h.engine.Dispatch(r.Context(), name, params))
}

func (h *Handler) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	after, err := queryInt(r, "after", 0)
	if err != nil || after < 0 {
		writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", store.DefaultEventLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	events, err := h.engine.Events(r.Context(), int64(after), limit)
	if err != nil {
		h.logger.Error("loading events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Helpers ---

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
