package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/coder/websocket"

	"github.com/ashureev/bookspirit/internal/dialog"
	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/identity"
)

const (
	maxHistory      = 40
	maxMessageBytes = 64 << 10
)

// Engine is the dialog pipeline.
type Engine interface {
	HandleMessage(ctx context.Context, req dialog.Request) dialog.Reply
}

// Frame types.
const (
	FrameMessage = "message"
	FramePing    = "ping"
	FramePong    = "pong"
	FrameReset   = "reset"
	FrameError   = "error"
)

// inbound is a client frame. An empty Type means a message.
type inbound struct {
	Type     string `json:"type,omitempty"`
	Message  string `json:"message"`
	BookName string `json:"bookName,omitempty"`
	Chapter  string `json:"chapter,omitempty"`
}

// Handler upgrades GET /ws/dialog and runs one conversation per connection.
// The server keeps the running history, so clients send only new messages.
type Handler struct {
	engine         Engine
	registry       *Registry
	allowedOrigins []string
	logger         *slog.Logger
}

// NewHandler creates a WebSocket dialog handler. An empty origin list
// accepts any origin.
func NewHandler(engine Engine, registry *Registry, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Handler{engine: engine, registry: registry, allowedOrigins: allowedOrigins, logger: logger}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin is checked above against the configured list.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	conn.SetReadLimit(maxMessageBytes)
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "conversation ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.registry.Register(userID, conn)
	defer h.registry.Unregister(userID, conn)

	h.logger.Info("Dialog connection opened", "user_id", userID, "ip", identity.IPFromRequest(r))
	h.loop(r.Context(), conn, userID)
	h.logger.Info("Dialog connection closed", "user_id", userID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 || slices.Contains(h.allowedOrigins, "*") {
		return true
	}
	if slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

func (h *Handler) loop(ctx context.Context, conn *websocket.Conn, userID string) {
	var history []domain.HistoryMessage
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}
		if typ != websocket.MessageText {
			h.writeError(ctx, conn, "text frames only")
			continue
		}

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			h.writeError(ctx, conn, "invalid frame")
			continue
		}

		switch in.Type {
		case FramePing:
			h.write(ctx, conn, map[string]string{"type": FramePong})
		case FrameReset:
			history = nil
		case "", FrameMessage:
			msg := strings.TrimSpace(in.Message)
			if msg == "" {
				h.writeError(ctx, conn, "message is required")
				continue
			}
			reply := h.engine.HandleMessage(ctx, dialog.Request{
				UserID:   userID,
				Message:  msg,
				History:  history,
				BookName: in.BookName,
				Chapter:  in.Chapter,
			})
			if !h.write(ctx, conn, reply) {
				return
			}
			history = appendHistory(history,
				domain.HistoryMessage{Role: "user", Content: msg},
				domain.HistoryMessage{Role: "assistant", Content: reply.Reply},
			)
		default:
			h.writeError(ctx, conn, "unknown frame type")
		}
	}
}

func appendHistory(history []domain.HistoryMessage, msgs ...domain.HistoryMessage) []domain.HistoryMessage {
	history = append(history, msgs...)
	if len(history) > maxHistory {
		history = slices.Clone(history[len(history)-maxHistory:])
	}
	return history
}

func (h *Handler) writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	h.write(ctx, conn, map[string]string{"type": FrameError, "error": msg})
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode frame", "error", err)
		return false
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("WebSocket write error", "error", err)
		return false
	}
	return true
}
