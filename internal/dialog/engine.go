package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/bookspirit/internal/coze"
	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/intent"
	"github.com/ashureev/bookspirit/internal/llm"
	"github.com/ashureev/bookspirit/internal/prompt"
	"github.com/ashureev/bookspirit/internal/store"
)

const (
	routerErrorMessage = "唔，我刚才走神了，能再说一遍吗？"
	acceptPlanMessage  = "✅ 我已经记下啦！那我们就按这个新计划努力吧！如果你准备好了，随时可以继续跟我聊聊书里的内容哦～"
)

// Recommender ranks catalogue books for a reader.
type Recommender interface {
	Recommend(ctx context.Context, levelCeiling int, topic string, limit int) ([]domain.Book, error)
}

// readerRecommender serves recommendations straight from the store.
type readerRecommender struct {
	reader store.Reader
}

func (r readerRecommender) Recommend(ctx context.Context, levelCeiling int, _ string, limit int) ([]domain.Book, error) {
	return r.reader.GetRecommendedBooks(ctx, levelCeiling, limit)
}

// Deps are the collaborators of an Engine. Reader and Completer are
// required; Coze may be nil, which disables the retrieval tier.
type Deps struct {
	Reader      store.Reader
	Completer   llm.Completer
	Coze        *coze.Agent
	Recommender Recommender
	DialogLog   DialogLogger
	Prompts     *prompt.Set
	Logger      *slog.Logger

	// CozeBudget bounds the whole retrieval tier, submission and polls.
	CozeBudget time.Duration
	// ContextTimeout bounds context aggregation and each store read a
	// handler makes. Zero means defaultReadTimeout.
	ContextTimeout time.Duration
}

// Engine turns one inbound message into one reply. It holds no per-user
// state and is safe for concurrent use.
type Engine struct {
	reader      store.Reader
	completer   llm.Completer
	recommender Recommender
	dialogLog   DialogLogger
	prompts     *prompt.Set
	log         *slog.Logger
	readTimeout time.Duration

	aggregator *Aggregator
	matcher    intent.Matcher
	classifier *intent.Classifier
	chat       Tier
	routes     map[intent.Intent]handlerFunc
}

// NewEngine wires an Engine from deps.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Reader == nil {
		return nil, errors.New("dialog engine: reader is required")
	}
	if deps.Completer == nil {
		return nil, errors.New("dialog engine: completer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Prompts == nil {
		deps.Prompts = prompt.Default()
	}
	if deps.Recommender == nil {
		deps.Recommender = readerRecommender{reader: deps.Reader}
	}
	if deps.DialogLog == nil {
		deps.DialogLog = NoopLogger{}
	}
	if deps.ContextTimeout <= 0 {
		deps.ContextTimeout = defaultReadTimeout
	}

	var tiers []Tier
	if deps.Coze != nil {
		tiers = append(tiers, NewRAGTier(deps.Coze, deps.Prompts, deps.CozeBudget))
	}
	tiers = append(tiers, NewDirectTier(deps.Completer, deps.Prompts))

	e := &Engine{
		reader:      deps.Reader,
		completer:   deps.Completer,
		recommender: deps.Recommender,
		dialogLog:   deps.DialogLog,
		prompts:     deps.Prompts,
		log:         deps.Logger,
		readTimeout: deps.ContextTimeout,
		aggregator:  NewAggregator(deps.Reader, deps.ContextTimeout, deps.Logger),
		classifier:  intent.NewClassifier(deps.Completer, deps.Prompts, deps.Logger),
		chat:        Fallback(deps.Logger, tiers...),
	}
	e.routes = e.handlers()
	return e, nil
}

const defaultReadTimeout = 5 * time.Second

// readCtx bounds one store read made while handling a message.
func (e *Engine) readCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.readTimeout)
}

// Context returns the reader's current context snapshot.
func (e *Engine) Context(ctx context.Context, userID string) domain.UserContext {
	return e.aggregator.Build(ctx, userID, "", "")
}

// HandleMessage runs the full pipeline for one message. It never returns an
// error: every failure is folded into the reply.
func (e *Engine) HandleMessage(ctx context.Context, req Request) Reply {
	message := strings.TrimSpace(req.Message)
	uc := e.aggregator.Build(ctx, req.UserID, req.BookName, req.Chapter)

	var (
		result intent.Result
		resp   AgentResponse
	)
	if message == AcceptPlanPhrase {
		// Logged as reporting so the acceptance is not recorded as a new
		// planning request.
		result = intent.Result{
			Intent:     intent.Reporting,
			Confidence: 1.0,
			Entities:   map[string]any{},
			Source:     intent.SourceShortcut,
		}
		resp = AgentResponse{Type: TypeChat, Message: acceptPlanMessage, Source: SourceSystem}
	} else {
		result = e.resolveIntent(ctx, message, uc)
		resp = e.route(ctx, &turn{
			userID:  req.UserID,
			message: message,
			history: req.History,
			uc:      uc,
			result:  result,
		})
	}

	resp = Synthesize(resp, uc, result.Intent, len(req.History) == 0)

	e.log.Info("Dialog handled",
		"user_id", req.UserID,
		"intent", result.Intent,
		"confidence", result.Confidence,
		"intent_source", result.Source,
		"source", resp.Source,
		"type", resp.Type,
	)

	e.dialogLog.Log(domain.DialogEntry{
		UserID:           req.UserID,
		UserMessage:      message,
		AssistantMessage: resp.Message,
		ResponseType:     string(resp.Type),
		Intent:           string(result.Intent),
		Confidence:       result.Confidence,
		BookName:         uc.BookName,
		Chapter:          uc.Chapter,
		Source:           resp.Source,
		CreatedAt:        time.Now(),
	})

	return Reply{
		Reply:      resp.Message,
		Type:       resp.Type,
		Intent:     result.Intent,
		Confidence: result.Confidence,
		Fallback:   result.Fallback,
		Plan:       resp.Plan,
		Source:     resp.Source,
	}
}

func (e *Engine) resolveIntent(ctx context.Context, message string, uc domain.UserContext) intent.Result {
	if result, ok := e.matcher.Match(message); ok {
		return result
	}
	return e.classifier.Classify(ctx, message, intent.Hints{
		BookName:  uc.BookName,
		Chapter:   uc.Chapter,
		Streak:    uc.Streak,
		DaysSince: uc.DaysSinceCheckin,
	})
}

// route dispatches to the handler for t's intent. Handler errors and panics
// become the generic apology.
func (e *Engine) route(ctx context.Context, t *turn) (resp AgentResponse) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Handler panicked", "user_id", t.userID, "intent", t.result.Intent, "panic", fmt.Sprint(r))
			resp = routerError()
		}
	}()

	handle, ok := e.routes[t.result.Intent]
	if !ok {
		handle = e.handleChat
	}

	out, err := handle(ctx, t)
	if err != nil {
		e.log.Error("Handler failed", "user_id", t.userID, "intent", t.result.Intent, "error", err)
		return routerError()
	}
	return out
}

func routerError() AgentResponse {
	return AgentResponse{Type: TypeError, Message: routerErrorMessage, Source: SourceRouterError}
}
