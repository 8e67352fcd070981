package coze

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// State is a position in the chat job lifecycle.
type State string

// Job states. Completed, Failed and TimedOut are terminal.
const (
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Defaults matching the agent platform's expected pacing.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxPolls     = 8
)

// Outcome is the terminal result of Agent.Run.
type Outcome struct {
	State State
	// Answer is set only when State is StateCompleted.
	Answer string
	// Attempts counts retrieve calls made while polling.
	Attempts int
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// AgentConfig configures an Agent.
type AgentConfig struct {
	BotID        string
	PollInterval time.Duration
	MaxPolls     int
	// Sleep replaces the real timer, for tests.
	Sleep  SleepFunc
	Logger *slog.Logger
}

// Agent drives one chat job from submission to a terminal state.
type Agent struct {
	api      API
	botID    string
	interval time.Duration
	maxPolls int
	sleep    SleepFunc
	logger   *slog.Logger
}

// NewAgent creates an Agent over api.
func NewAgent(api API, cfg AgentConfig) *Agent {
	a := &Agent{
		api:      api,
		botID:    cfg.BotID,
		interval: cfg.PollInterval,
		maxPolls: cfg.MaxPolls,
		sleep:    cfg.Sleep,
		logger:   cfg.Logger,
	}
	if a.interval <= 0 {
		a.interval = DefaultPollInterval
	}
	if a.maxPolls <= 0 {
		a.maxPolls = DefaultMaxPolls
	}
	if a.sleep == nil {
		a.sleep = sleepContext
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run submits messages and polls until the job reaches a terminal state.
//
// A nil error comes with StateCompleted or StateTimedOut. Exhausting the
// poll budget is not an error; the caller decides what to say. Submission
// errors, agent-reported failures, answerless completions and context
// cancellation return StateFailed with a non-nil error. Transport errors
// during a poll are logged and consume one attempt.
func (a *Agent) Run(ctx context.Context, userID string, messages []Message) (Outcome, error) {
	state := StateSubmitted
	chat, err := a.api.Submit(ctx, a.botID, userID, messages)
	if err != nil {
		return Outcome{State: StateFailed}, fmt.Errorf("submit chat: %w", err)
	}
	a.logger.Debug("Coze chat submitted", "chat_id", chat.ID, "status", chat.Status)

	switch chat.Status {
	case StatusCompleted:
		return a.complete(ctx, chat, 0)
	case StatusCreated, StatusInProgress:
		if chat.ID == "" {
			return Outcome{State: StateFailed}, fmt.Errorf("%w: submit returned no chat id", ErrChatFailed)
		}
		state = StatePolling
	default:
		return Outcome{State: StateFailed}, fmt.Errorf("%w: unexpected submit status %q", ErrChatFailed, chat.Status)
	}

	for attempt := 1; attempt <= a.maxPolls; attempt++ {
		if err := a.sleep(ctx, a.interval); err != nil {
			return Outcome{State: StateFailed, Attempts: attempt - 1}, fmt.Errorf("poll wait: %w", err)
		}

		current, err := a.api.Retrieve(ctx, chat.ID, chat.ConversationID)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{State: StateFailed, Attempts: attempt}, fmt.Errorf("poll: %w", ctx.Err())
			}
			a.logger.Warn("Coze poll failed", "attempt", attempt, "max", a.maxPolls, "error", err)
			continue
		}
		a.logger.Debug("Coze poll", "attempt", attempt, "state", state, "status", current.Status)

		switch current.Status {
		case StatusCompleted:
			return a.complete(ctx, chat, attempt)
		case StatusFailed, StatusCanceled, StatusRequiresAction:
			return Outcome{State: StateFailed, Attempts: attempt},
				fmt.Errorf("%w: status %s: %s", ErrChatFailed, current.Status, current.LastError)
		}
	}

	a.logger.Warn("Coze poll budget exhausted", "attempts", a.maxPolls, "chat_id", chat.ID)
	return Outcome{State: StateTimedOut, Attempts: a.maxPolls}, nil
}

// complete extracts the final answer from a completed chat, fetching the
// message list unless the submit response already carried it.
func (a *Agent) complete(ctx context.Context, chat Chat, attempts int) (Outcome, error) {
	messages := chat.Messages
	if len(messages) == 0 {
		if chat.ID == "" {
			return Outcome{State: StateFailed, Attempts: attempts}, ErrNoAnswer
		}
		var err error
		messages, err = a.api.ListMessages(ctx, chat.ID, chat.ConversationID)
		if err != nil {
			return Outcome{State: StateFailed, Attempts: attempts}, fmt.Errorf("list messages: %w", err)
		}
	}

	answer, ok := LastAnswer(messages)
	if !ok || strings.TrimSpace(answer) == "" {
		return Outcome{State: StateFailed, Attempts: attempts}, ErrNoAnswer
	}
	return Outcome{State: StateCompleted, Answer: answer, Attempts: attempts}, nil
}
