// Package dialog turns one reader message into one book-spirit reply:
// context snapshot, intent resolution, capability routing, tiered chat
// generation, response synthesis and dialog logging.
package dialog

import (
	"errors"

	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/intent"
)

// ResponseType classifies an AgentResponse for the presentation layer.
type ResponseType string

// Response types.
const (
	TypeChat     ResponseType = "chat"
	TypePlan     ResponseType = "plan"
	TypeOptimize ResponseType = "optimize"
	TypeError    ResponseType = "error"
)

// Provenance tags carried in AgentResponse.Source.
const (
	SourceCozeRAG               = "coze_rag"
	SourceCozeTimeout           = "coze_timeout"
	SourceDeepSeekFallback      = "deepseek_fallback"
	SourceDeepSeekPlanner       = "deepseek_planner"
	SourceDeepSeekOptimizer     = "deepseek_optimizer"
	SourceDeepSeekEncouragement = "deepseek_encouragement"
	SourceSystem                = "system"
	SourceRouterError           = "router_error"
)

// AcceptPlanPhrase is the literal message the client sends when the reader
// accepts a freshly generated plan.
const AcceptPlanPhrase = "就按这个计划来吧！"

// ErrAllTiersFailed is returned by Fallback when every tier failed.
var ErrAllTiersFailed = errors.New("dialog: all chat tiers failed")

// AgentResponse is what a capability handler produces.
type AgentResponse struct {
	Type    ResponseType      `json:"type"`
	Message string            `json:"message"`
	Plan    *domain.StudyPlan `json:"plan,omitempty"`
	Source  string            `json:"source"`
}

// Request is one inbound message.
type Request struct {
	UserID   string                  `json:"user_id"`
	Message  string                  `json:"message"`
	History  []domain.HistoryMessage `json:"history"`
	BookName string                  `json:"book_name,omitempty"`
	Chapter  string                  `json:"chapter,omitempty"`
}

// Reply is the result of HandleMessage.
type Reply struct {
	Reply      string            `json:"reply"`
	Type       ResponseType      `json:"type"`
	Intent     intent.Intent     `json:"intent"`
	Confidence float64           `json:"confidence"`
	Fallback   bool              `json:"fallback"`
	Plan       *domain.StudyPlan `json:"plan,omitempty"`
	Source     string            `json:"source"`
}
