package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/bookspirit/internal/coze"
	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/llm"
	"github.com/ashureev/bookspirit/internal/prompt"
)

const (
	cozeTimeoutMessage  = "唔，我翻书翻太久了，能再问一遍吗？"
	emptyChatMessage    = "唔，我刚才走神了…"
	directChatTemp      = 0.7
	defaultCozeBudget   = 40 * time.Second
	anonymousCozeUserID = "anonymous"
)

// ChatInput is what a chat tier generates from.
type ChatInput struct {
	UserID  string
	Message string
	History []domain.HistoryMessage
	Context domain.UserContext
}

// Tier is one chat generation strategy.
type Tier interface {
	Name() string
	Generate(ctx context.Context, in ChatInput) (AgentResponse, error)
}

type fallbackChain struct {
	tiers  []Tier
	logger *slog.Logger
}

// Fallback tries tiers in order and returns the first success. Later tiers
// run only after earlier ones fail; there is no promotion back.
func Fallback(logger *slog.Logger, tiers ...Tier) Tier {
	if logger == nil {
		logger = slog.Default()
	}
	return &fallbackChain{tiers: tiers, logger: logger}
}

func (f *fallbackChain) Name() string { return "fallback" }

func (f *fallbackChain) Generate(ctx context.Context, in ChatInput) (AgentResponse, error) {
	var errs []error
	for i, tier := range f.tiers {
		resp, err := tier.Generate(ctx, in)
		if err == nil {
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", tier.Name(), err))
		if i < len(f.tiers)-1 {
			f.logger.Warn("Chat tier failed, falling back",
				"user_id", in.UserID,
				"tier", tier.Name(),
				"next", f.tiers[i+1].Name(),
				"error", err,
			)
		}
	}
	return AgentResponse{}, fmt.Errorf("%w: %w", ErrAllTiersFailed, errors.Join(errs...))
}

// ragTier asks the retrieval-augmented agent, bounded by a total budget
// covering submission and every poll.
type ragTier struct {
	agent   *coze.Agent
	prompts *prompt.Set
	budget  time.Duration
}

// NewRAGTier wraps a Coze agent as a chat tier.
func NewRAGTier(agent *coze.Agent, prompts *prompt.Set, budget time.Duration) Tier {
	if prompts == nil {
		prompts = prompt.Default()
	}
	if budget <= 0 {
		budget = defaultCozeBudget
	}
	return &ragTier{agent: agent, prompts: prompts, budget: budget}
}

func (t *ragTier) Name() string { return "coze" }

func (t *ragTier) Generate(ctx context.Context, in ChatInput) (AgentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, t.budget)
	defer cancel()

	query, err := t.prompts.Render(prompt.RAGQuery, prompt.Vars{
		BookName: in.Context.BookName,
		Chapter:  in.Context.Chapter,
		Message:  in.Message,
	})
	if err != nil {
		return AgentResponse{}, err
	}

	messages := make([]coze.Message, 0, len(in.History)+1)
	for _, h := range in.History {
		role := h.NormalizedRole()
		if role == "system" {
			continue
		}
		messages = append(messages, coze.Message{Role: role, Content: h.Body(), ContentType: "text"})
	}
	messages = append(messages, coze.Message{Role: "user", Content: query, ContentType: "text"})

	userID := in.UserID
	if userID == "" {
		userID = anonymousCozeUserID
	}

	out, err := t.agent.Run(ctx, userID, messages)
	if err != nil {
		return AgentResponse{}, err
	}
	if out.State == coze.StateTimedOut {
		return AgentResponse{Type: TypeChat, Message: cozeTimeoutMessage, Source: SourceCozeTimeout}, nil
	}
	return AgentResponse{Type: TypeChat, Message: out.Answer, Source: SourceCozeRAG}, nil
}

// directTier is a single completion call with the book-spirit persona.
type directTier struct {
	completer llm.Completer
	prompts   *prompt.Set
}

// NewDirectTier wraps a completion endpoint as a chat tier.
func NewDirectTier(completer llm.Completer, prompts *prompt.Set) Tier {
	if prompts == nil {
		prompts = prompt.Default()
	}
	return &directTier{completer: completer, prompts: prompts}
}

func (t *directTier) Name() string { return "deepseek" }

func (t *directTier) Generate(ctx context.Context, in ChatInput) (AgentResponse, error) {
	vars := prompt.Vars{BookName: in.Context.BookName, Chapter: in.Context.Chapter, Message: in.Message}

	system, err := t.prompts.Render(prompt.Chat, vars)
	if err != nil {
		return AgentResponse{}, err
	}

	messages := make([]llm.Message, 0, len(in.History)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, h := range in.History {
		// Client history never supplies system instructions.
		role := h.NormalizedRole()
		if role == llm.RoleSystem {
			continue
		}
		messages = append(messages, llm.Message{Role: role, Content: h.Body()})
	}

	userContent := in.Message
	if len(in.History) == 0 {
		if userContent, err = t.prompts.Render(prompt.FirstTurn, vars); err != nil {
			return AgentResponse{}, err
		}
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userContent})

	content, err := t.completer.Complete(ctx, llm.Request{Messages: messages, Temperature: directChatTemp})
	if errors.Is(err, llm.ErrEmptyCompletion) {
		return AgentResponse{Type: TypeChat, Message: emptyChatMessage, Source: SourceDeepSeekFallback}, nil
	}
	if err != nil {
		return AgentResponse{}, err
	}
	return AgentResponse{Type: TypeChat, Message: content, Source: SourceDeepSeekFallback}, nil
}
