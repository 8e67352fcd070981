// Package coze talks to the Coze v3 chat API, the retrieval-augmented agent
// that answers questions grounded in the book's text.
package coze

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Chat statuses reported by the API.
const (
	StatusCreated        = "created"
	StatusInProgress     = "in_progress"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusRequiresAction = "requires_action"
	StatusCanceled       = "canceled"
)

var (
	// ErrNoAnswer is returned when a chat completes without an answer message.
	ErrNoAnswer = errors.New("coze: chat completed without answer")
	// ErrChatFailed is returned when the agent reports a terminal failure.
	ErrChatFailed = errors.New("coze: chat failed")
)

// APIError is returned for non-2xx responses and non-zero envelope codes.
// Extractable via errors.As().
type APIError struct {
	Operation  string
	StatusCode int
	Code       int64
	Msg        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coze: %s failed (status %d, code %d): %s", e.Operation, e.StatusCode, e.Code, e.Msg)
}

// Message is one entry of a chat's additional_messages or message list.
type Message struct {
	Role        string `json:"role"`
	Type        string `json:"type,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

// Chat is the job handle returned by submit and retrieve.
type Chat struct {
	ID             string
	ConversationID string
	Status         string
	Messages       []Message
	LastError      string
}

// API is the subset of the Coze chat API the Agent drives.
type API interface {
	Submit(ctx context.Context, botID, userID string, messages []Message) (Chat, error)
	Retrieve(ctx context.Context, chatID, conversationID string) (Chat, error)
	ListMessages(ctx context.Context, chatID, conversationID string) ([]Message, error)
}

// HTTPClient implements API over HTTP with bearer-token auth.
type HTTPClient struct {
	baseURL        string
	token          string
	httpClient     *http.Client
	requestTimeout time.Duration
}

// NewHTTPClient creates a client rooted at baseURL (e.g. https://api.coze.cn).
// requestTimeout bounds each individual call.
func NewHTTPClient(baseURL, token string, requestTimeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          token,
		httpClient:     &http.Client{},
		requestTimeout: requestTimeout,
	}
}

type submitRequest struct {
	BotID              string    `json:"bot_id"`
	UserID             string    `json:"user_id"`
	Stream             bool      `json:"stream"`
	AdditionalMessages []Message `json:"additional_messages"`
}

// Submit starts a non-streaming chat.
func (c *HTTPClient) Submit(ctx context.Context, botID, userID string, messages []Message) (Chat, error) {
	body, err := json.Marshal(submitRequest{
		BotID:              botID,
		UserID:             userID,
		Stream:             false,
		AdditionalMessages: messages,
	})
	if err != nil {
		return Chat{}, fmt.Errorf("coze: encode submit: %w", err)
	}

	data, err := c.do(ctx, "submit", http.MethodPost, "/v3/chat", nil, body)
	if err != nil {
		return Chat{}, err
	}
	return parseChat(data), nil
}

// Retrieve fetches the current status of a chat.
func (c *HTTPClient) Retrieve(ctx context.Context, chatID, conversationID string) (Chat, error) {
	data, err := c.do(ctx, "retrieve", http.MethodGet, "/v3/chat/retrieve", chatQuery(chatID, conversationID), nil)
	if err != nil {
		return Chat{}, err
	}
	return parseChat(data), nil
}

// ListMessages returns every message produced by a chat.
func (c *HTTPClient) ListMessages(ctx context.Context, chatID, conversationID string) ([]Message, error) {
	data, err := c.do(ctx, "list_messages", http.MethodGet, "/v3/chat/message/list", chatQuery(chatID, conversationID), nil)
	if err != nil {
		return nil, err
	}
	return parseMessages(data), nil
}

func chatQuery(chatID, conversationID string) url.Values {
	q := url.Values{}
	q.Set("chat_id", chatID)
	q.Set("conversation_id", conversationID)
	return q
}

// do performs one request and returns the envelope's data field.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, query url.Values, body []byte) (gjson.Result, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("coze: build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("coze: %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("coze: read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, &APIError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Code:       gjson.GetBytes(raw, "code").Int(),
			Msg:        gjson.GetBytes(raw, "msg").String(),
		}
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("coze: %s: malformed response body", op)
	}

	envelope := gjson.ParseBytes(raw)
	if code := envelope.Get("code").Int(); code != 0 {
		return gjson.Result{}, &APIError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Code:       code,
			Msg:        envelope.Get("msg").String(),
		}
	}
	data := envelope.Get("data")
	if !data.Exists() {
		return gjson.Result{}, fmt.Errorf("coze: %s: response missing data", op)
	}
	return data, nil
}

func parseChat(data gjson.Result) Chat {
	chat := Chat{
		ID:             data.Get("id").String(),
		ConversationID: data.Get("conversation_id").String(),
		Status:         data.Get("status").String(),
		LastError:      data.Get("last_error.msg").String(),
	}
	if msgs := data.Get("messages"); msgs.IsArray() {
		chat.Messages = parseMessages(msgs)
	}
	return chat
}

func parseMessages(data gjson.Result) []Message {
	var out []Message
	data.ForEach(func(_, m gjson.Result) bool {
		out = append(out, Message{
			Role:        m.Get("role").String(),
			Type:        m.Get("type").String(),
			Content:     m.Get("content").String(),
			ContentType: m.Get("content_type").String(),
		})
		return true
	})
	return out
}

// LastAnswer returns the content of the last assistant message typed
// "answer", skipping intermediate thought and tool messages.
func LastAnswer(messages []Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == "assistant" && m.Type == "answer" {
			return m.Content, true
		}
	}
	return "", false
}

var _ API = (*HTTPClient)(nil)
