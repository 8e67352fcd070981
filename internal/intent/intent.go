// Package intent resolves the purpose of a user message, first through a
// keyword rule table and then through a language-model classifier.
package intent

// Intent is the closed set of message purposes the router understands.
type Intent string

// Known intents.
const (
	Unspecified        Intent = "unspecified"
	Chatting           Intent = "chatting"
	Planning           Intent = "planning"
	QueryPlan          Intent = "query_plan"
	QueryProgress      Intent = "query_progress"
	QueryNotes         Intent = "query_notes"
	BookRecommendation Intent = "book_recommendation"
	QuizRequest        Intent = "quiz_request"
	Encouragement      Intent = "encouragement"
	Adjusting          Intent = "adjusting"
	Reporting          Intent = "reporting"
	SeekingHelp        Intent = "seeking_help"
	OffTopic           Intent = "off_topic"
)

// All lists every intent other than Unspecified.
var All = []Intent{
	Chatting, Planning, QueryPlan, QueryProgress, QueryNotes, BookRecommendation,
	QuizRequest, Encouragement, Adjusting, Reporting, SeekingHelp, OffTopic,
}

// Parse maps a label onto an Intent. Unknown labels yield Unspecified.
func Parse(label string) Intent {
	for _, in := range All {
		if string(in) == label {
			return in
		}
	}
	return Unspecified
}

// Source records which stage produced a Result.
type Source string

// Result sources.
const (
	SourceFastRegex Source = "fast_regex"
	SourceLLM       Source = "llm"
	SourceDefault   Source = "default"
	// SourceShortcut marks results that bypassed classification entirely.
	SourceShortcut Source = "shortcut"
)

// ConfidenceFloor is the minimum classifier confidence accepted as-is.
const ConfidenceFloor = 0.5

// Result is a resolved intent.
type Result struct {
	Intent     Intent         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Entities   map[string]any `json:"entities"`
	Source     Source         `json:"source"`
	// Fallback is set when the classifier could not be trusted.
	Fallback bool `json:"fallback"`
}

// Default is the result used when classification fails outright.
func Default() Result {
	return Result{
		Intent:   Chatting,
		Entities: map[string]any{},
		Source:   SourceDefault,
		Fallback: true,
	}
}

// Entity returns the first non-empty string entity among keys.
func (r Result) Entity(keys ...string) string {
	for _, k := range keys {
		if v, ok := r.Entities[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
