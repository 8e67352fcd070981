package dialog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/bookspirit/internal/coze"
	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/llm"
)

// fakeRepo is an in-memory store.Reader and store.DialogWriter.
type fakeRepo struct {
	mu sync.Mutex

	profile  *domain.UserProfile
	progress *domain.ReadingProgress
	books    map[string]*domain.Book
	quizzes  []domain.QuizResult
	plan     *domain.StudyPlan
	notes    []domain.Note
	catalog  []domain.Book

	profileErr error
	planErr    error
	notesErr   error
	recErr     error
	appendErr  error

	dialogs []domain.DialogEntry
}

func (f *fakeRepo) GetUserProfile(context.Context, string) (*domain.UserProfile, error) {
	return f.profile, f.profileErr
}

func (f *fakeRepo) GetActiveReadingProgress(context.Context, string) (*domain.ReadingProgress, error) {
	return f.progress, nil
}

func (f *fakeRepo) GetBookMeta(_ context.Context, bookID string) (*domain.Book, error) {
	return f.books[bookID], nil
}

func (f *fakeRepo) GetRecentQuizResults(_ context.Context, _ string, limit int) ([]domain.QuizResult, error) {
	if len(f.quizzes) > limit {
		return f.quizzes[:limit], nil
	}
	return f.quizzes, nil
}

func (f *fakeRepo) GetActivePlan(context.Context, string) (*domain.StudyPlan, error) {
	return f.plan, f.planErr
}

func (f *fakeRepo) GetRecentNotes(_ context.Context, _ string, limit int) ([]domain.Note, error) {
	if len(f.notes) > limit {
		return f.notes[:limit], f.notesErr
	}
	return f.notes, f.notesErr
}

func (f *fakeRepo) GetRecommendedBooks(_ context.Context, ceiling, limit int) ([]domain.Book, error) {
	if f.recErr != nil {
		return nil, f.recErr
	}
	var out []domain.Book
	for _, b := range f.catalog {
		if b.RecommendLevel <= ceiling && len(out) < limit {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeRepo) AppendDialogLog(_ context.Context, entry *domain.DialogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.dialogs = append(f.dialogs, *entry)
	return nil
}

func (f *fakeRepo) loggedDialogs() []domain.DialogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.DialogEntry(nil), f.dialogs...)
}

// Completion call kinds, told apart by the system prompt.
const (
	kindClassify      = "classify"
	kindChat          = "chat"
	kindPlanner       = "planner"
	kindOptimizer     = "optimizer"
	kindEncouragement = "encouragement"
)

func completionKind(req llm.Request) string {
	if len(req.Messages) == 0 {
		return ""
	}
	system := req.Messages[0].Content
	switch {
	case strings.HasPrefix(system, "你是儿童阅读应用里的意图识别器"):
		return kindClassify
	case strings.HasPrefix(system, "你是深谙"):
		return kindChat
	case strings.HasPrefix(system, "你是一位儿童阅读规划师"):
		return kindPlanner
	case strings.HasPrefix(system, "你是一位温和的儿童阅读教练"):
		return kindOptimizer
	case strings.HasPrefix(system, "你是一位温柔"):
		return kindEncouragement
	}
	return ""
}

type completion struct {
	content string
	err     error
}

// fakeCompleter answers by call kind and records every request.
type fakeCompleter struct {
	mu      sync.Mutex
	replies map[string]completion
	calls   []llm.Request
}

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{replies: map[string]completion{
		kindClassify: {content: `{"intent":"chatting","confidence":0.9,"entities":{}}`},
		kindChat:     {content: "孙悟空为什么要大闹天宫呢？"},
	}}
}

func (f *fakeCompleter) on(kind, content string, err error) *fakeCompleter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[kind] = completion{content: content, err: err}
	return f
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	r, ok := f.replies[completionKind(req)]
	if !ok {
		return "", errors.New("unexpected completion")
	}
	return r.content, r.err
}

func (f *fakeCompleter) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if completionKind(c) == kind {
			n++
		}
	}
	return n
}

func (f *fakeCompleter) last(kind string) llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if completionKind(f.calls[i]) == kind {
			return f.calls[i]
		}
	}
	return llm.Request{}
}

// fakeCozeAPI scripts the agent platform.
type fakeCozeAPI struct {
	mu        sync.Mutex
	submit    coze.Chat
	submitErr error
	polls     []coze.Chat
	messages  []coze.Message

	submitted [][]coze.Message
	pollCount int
}

func (f *fakeCozeAPI) Submit(_ context.Context, _, _ string, messages []coze.Message) (coze.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, messages)
	return f.submit, f.submitErr
}

func (f *fakeCozeAPI) Retrieve(context.Context, string, string) (coze.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCount++
	if f.pollCount <= len(f.polls) {
		return f.polls[f.pollCount-1], nil
	}
	return coze.Chat{Status: coze.StatusInProgress}, nil
}

func (f *fakeCozeAPI) ListMessages(context.Context, string, string) ([]coze.Message, error) {
	return f.messages, nil
}

func (f *fakeCozeAPI) polled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCount
}

func pendingChat() coze.Chat {
	return coze.Chat{ID: "chat-1", ConversationID: "conv-1", Status: coze.StatusCreated}
}

func answerMessages(answer string) []coze.Message {
	return []coze.Message{
		{Role: "assistant", Type: "verbose", Content: "{}"},
		{Role: "assistant", Type: "answer", Content: answer},
	}
}

func newTestAgent(api coze.API) *coze.Agent {
	return coze.NewAgent(api, coze.AgentConfig{
		BotID: "bot",
		Sleep: func(context.Context, time.Duration) error { return nil },
	})
}

// recordingLogger captures entries synchronously.
type recordingLogger struct {
	mu      sync.Mutex
	entries []domain.DialogEntry
}

func (r *recordingLogger) Log(entry domain.DialogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingLogger) Close() error { return nil }

func (r *recordingLogger) only(t *testing.T) domain.DialogEntry {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) != 1 {
		t.Fatalf("expected 1 logged entry, got %d", len(r.entries))
	}
	return r.entries[0]
}

type engineFixture struct {
	repo      *fakeRepo
	completer *fakeCompleter
	cozeAPI   *fakeCozeAPI
	log       *recordingLogger
	engine    *Engine
}

// newFixture builds an engine without the retrieval tier unless withCoze is set.
func newFixture(t *testing.T, withCoze bool) *engineFixture {
	t.Helper()
	f := &engineFixture{
		repo:      &fakeRepo{},
		completer: newFakeCompleter(),
		log:       &recordingLogger{},
	}
	deps := Deps{
		Reader:    f.repo,
		Completer: f.completer,
		DialogLog: f.log,
	}
	if withCoze {
		f.cozeAPI = &fakeCozeAPI{}
		deps.Coze = newTestAgent(f.cozeAPI)
	}
	e, err := NewEngine(deps)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	f.engine = e
	return f
}
