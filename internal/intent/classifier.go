package intent

import (
	"context"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/ashureev/bookspirit/internal/llm"
	"github.com/ashureev/bookspirit/internal/prompt"
)

const classifierTemperature = 0.1

// Hints carries the reader state embedded into the classification prompt.
type Hints struct {
	BookName  string
	Chapter   string
	Streak    int
	DaysSince int
}

// Classifier asks a completion model for a structured intent.
type Classifier struct {
	completer llm.Completer
	prompts   *prompt.Set
	logger    *slog.Logger
}

// NewClassifier creates a Classifier. A nil prompt set uses the embedded defaults.
func NewClassifier(completer llm.Completer, prompts *prompt.Set, logger *slog.Logger) *Classifier {
	if prompts == nil {
		prompts = prompt.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{completer: completer, prompts: prompts, logger: logger}
}

// Classify never fails: transport errors, empty replies and malformed JSON
// all resolve to Default(). Confidence below ConfidenceFloor is downgraded
// to Chatting with the reported confidence and entities kept.
func (c *Classifier) Classify(ctx context.Context, message string, hints Hints) Result {
	bookName := hints.BookName
	if bookName == "" {
		bookName = "当前读物"
	}
	chapter := hints.Chapter
	if chapter == "" {
		chapter = "当前章节"
	}

	system, err := c.prompts.Render(prompt.Intent, prompt.Vars{
		BookName:  bookName,
		Chapter:   chapter,
		Streak:    hints.Streak,
		DaysSince: hints.DaysSince,
		Message:   message,
	})
	if err != nil {
		c.logger.Error("Intent prompt render failed", "error", err)
		return Default()
	}

	content, err := c.completer.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: message},
		},
		Temperature: classifierTemperature,
		JSONMode:    true,
	})
	if err != nil {
		c.logger.Warn("Intent classification failed, using default", "error", err)
		return Default()
	}

	return parseClassification(content, c.logger)
}

func parseClassification(content string, logger *slog.Logger) Result {
	if !gjson.Valid(content) {
		logger.Warn("Intent classification returned invalid JSON", "content_len", len(content))
		return Default()
	}
	parsed := gjson.Parse(content)
	if !parsed.IsObject() {
		return Default()
	}

	entities := map[string]any{}
	if e := parsed.Get("entities"); e.IsObject() {
		if m, ok := e.Value().(map[string]any); ok {
			entities = m
		}
	}

	confidence := max(0, min(parsed.Get("confidence").Float(), 1))
	if confidence < ConfidenceFloor {
		logger.Debug("Intent confidence below floor", "confidence", confidence, "reported", parsed.Get("intent").String())
		return Result{
			Intent:     Chatting,
			Confidence: confidence,
			Entities:   entities,
			Source:     SourceLLM,
			Fallback:   true,
		}
	}

	label := parsed.Get("intent").String()
	resolved := Chatting
	if label != "" {
		resolved = Parse(label)
	}

	return Result{
		Intent:     resolved,
		Confidence: confidence,
		Entities:   entities,
		Source:     SourceLLM,
	}
}
