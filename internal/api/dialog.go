package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/bookspirit/internal/dialog"
	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/identity"
)

const (
	defaultMaxRequestBodySize = 64 << 10
	maxMessageRunes           = 2000
	maxHistoryMessages        = 40
)

// Engine is the dialog pipeline as seen by transport handlers.
type Engine interface {
	HandleMessage(ctx context.Context, req dialog.Request) dialog.Reply
	Context(ctx context.Context, userID string) domain.UserContext
}

// PlanStore persists accepted study plans.
type PlanStore interface {
	SaveActivePlan(ctx context.Context, userID string, plan *domain.StudyPlan) error
}

// MessageRequest is the body of POST /api/dialog/messages.
type MessageRequest struct {
	Message  string                  `json:"message"`
	History  []domain.HistoryMessage `json:"history"`
	BookName string                  `json:"bookName,omitempty"`
	Chapter  string                  `json:"chapter,omitempty"`
}

// Validate checks the request shape and trims history to the most recent
// turns.
func (m *MessageRequest) Validate() error {
	m.Message = strings.TrimSpace(m.Message)
	if m.Message == "" {
		return errors.New("message is required")
	}
	if utf8.RuneCountInString(m.Message) > maxMessageRunes {
		return errors.New("message is too long")
	}
	if len(m.History) > maxHistoryMessages {
		m.History = m.History[len(m.History)-maxHistoryMessages:]
	}
	return nil
}

// PlanRequest is the body of POST /api/plans.
type PlanRequest struct {
	Plan *domain.StudyPlan `json:"plan"`
}

// DialogConfig tunes DialogHandler.
type DialogConfig struct {
	MaxBodyBytes int64
	Limiter      *RateLimiter
}

// DialogHandler serves the book-spirit HTTP surface.
type DialogHandler struct {
	engine   Engine
	plans    PlanStore
	limiter  *RateLimiter
	maxBytes int64
	logger   *slog.Logger
}

// NewDialogHandler creates a DialogHandler. A nil limiter disables rate
// limiting.
func NewDialogHandler(engine Engine, plans PlanStore, cfg DialogConfig, logger *slog.Logger) *DialogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxRequestBodySize
	}
	return &DialogHandler{
		engine:   engine,
		plans:    plans,
		limiter:  cfg.Limiter,
		maxBytes: cfg.MaxBodyBytes,
		logger:   logger,
	}
}

// RegisterRoutes mounts the dialog endpoints.
func (h *DialogHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/dialog/messages", h.HandleMessage)
		r.Post("/plans", h.SavePlan)
		r.Get("/context", h.GetContext)
	})
}

// HandleMessage handles POST /api/dialog/messages.
func (h *DialogHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.limiter != nil && !h.limiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req MessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("Dialog request",
		"user_id", userID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message),
		"history_length", len(req.History),
	)

	reply := h.engine.HandleMessage(r.Context(), dialog.Request{
		UserID:   userID,
		Message:  req.Message,
		History:  req.History,
		BookName: req.BookName,
		Chapter:  req.Chapter,
	})
	JSON(w, http.StatusOK, reply)
}

// SavePlan handles POST /api/plans.
func (h *DialogHandler) SavePlan(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req PlanRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Plan == nil || len(req.Plan.DailyTasks) == 0 {
		Error(w, http.StatusBadRequest, "plan with daily_tasks is required")
		return
	}

	if err := h.plans.SaveActivePlan(r.Context(), userID, req.Plan); err != nil {
		h.logger.Error("Failed to save plan", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save plan")
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"status": "saved"})
}

// GetContext handles GET /api/context.
func (h *DialogHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, h.engine.Context(r.Context(), userID))
}

func (h *DialogHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
