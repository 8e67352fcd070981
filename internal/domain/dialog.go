package domain

import (
	"strings"
	"time"
)

// HistoryMessage is one prior turn of a conversation as sent by the client.
// Older clients send the body in "text" and use "ai" for the assistant role.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Body returns the message text, preferring Content over Text.
func (m HistoryMessage) Body() string {
	if m.Content != "" {
		return m.Content
	}
	return m.Text
}

// NormalizedRole maps client role names onto user/assistant/system.
func (m HistoryMessage) NormalizedRole() string {
	switch strings.ToLower(strings.TrimSpace(m.Role)) {
	case "ai", "assistant", "bot":
		return "assistant"
	case "system":
		return "system"
	default:
		return "user"
	}
}

// DialogEntry is one persisted exchange between a user and the book spirit.
type DialogEntry struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	UserMessage      string    `json:"user_message"`
	AssistantMessage string    `json:"assistant_message"`
	ResponseType     string    `json:"response_type"`
	Intent           string    `json:"intent"`
	Confidence       float64   `json:"confidence"`
	BookName         string    `json:"book_name"`
	Chapter          string    `json:"chapter"`
	Source           string    `json:"source"`
	CreatedAt        time.Time `json:"created_at"`
}
