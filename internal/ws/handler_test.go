package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/bookspirit/internal/dialog"
	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/identity"
)

type echoEngine struct {
	mu   sync.Mutex
	reqs []dialog.Request
}

func (e *echoEngine) HandleMessage(_ context.Context, req dialog.Request) dialog.Reply {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs = append(e.reqs, req)
	return dialog.Reply{Reply: "回声：" + req.Message, Type: dialog.TypeChat, Source: dialog.SourceSystem}
}

func (e *echoEngine) requests() []dialog.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]dialog.Request(nil), e.reqs...)
}

func startServer(t *testing.T, engine Engine, registry *Registry, origins []string) *httptest.Server {
	t.Helper()
	h := NewHandler(engine, registry, origins, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(identity.WithUserID(r.Context(), "u1")))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, frame string) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHandler_KeepsConversationHistory(t *testing.T) {
	engine := &echoEngine{}
	conn := dial(t, startServer(t, engine, nil, nil), nil)

	first := roundTrip(t, conn, `{"message":"你好","bookName":"西游记"}`)
	assert.Equal(t, "回声：你好", first["reply"])

	second := roundTrip(t, conn, `{"type":"message","message":"孙悟空呢"}`)
	assert.Equal(t, "回声：孙悟空呢", second["reply"])

	reqs := engine.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "u1", reqs[0].UserID)
	assert.Equal(t, "西游记", reqs[0].BookName)
	assert.Empty(t, reqs[0].History)
	require.Len(t, reqs[1].History, 2)
	assert.Equal(t, "user", reqs[1].History[0].Role)
	assert.Equal(t, "回声：你好", reqs[1].History[1].Content)
}

func TestHandler_ResetClearsHistory(t *testing.T) {
	engine := &echoEngine{}
	conn := dial(t, startServer(t, engine, nil, nil), nil)

	roundTrip(t, conn, `{"message":"一"}`)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"reset"}`)))
	roundTrip(t, conn, `{"message":"二"}`)

	reqs := engine.requests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[1].History)
}

func TestHandler_ControlFrames(t *testing.T) {
	conn := dial(t, startServer(t, &echoEngine{}, nil, nil), nil)

	assert.Equal(t, FramePong, roundTrip(t, conn, `{"type":"ping"}`)["type"])

	out := roundTrip(t, conn, `{"message":"   "}`)
	assert.Equal(t, FrameError, out["type"])

	out = roundTrip(t, conn, `not json`)
	assert.Equal(t, "invalid frame", out["error"])

	out = roundTrip(t, conn, `{"type":"dance"}`)
	assert.Equal(t, "unknown frame type", out["error"])
}

func TestHandler_RejectsUnlistedOrigin(t *testing.T) {
	srv := startServer(t, &echoEngine{}, nil, []string{"https://app.example"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{HTTPHeader: header})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandler_RegistersConnection(t *testing.T) {
	registry := NewRegistry()
	conn := dial(t, startServer(t, &echoEngine{}, registry, nil), nil)
	roundTrip(t, conn, `{"type":"ping"}`)

	assert.Equal(t, 1, registry.Count("u1"))

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	assert.Eventually(t, func() bool { return registry.Count("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestAppendHistory_Caps(t *testing.T) {
	var h []domain.HistoryMessage
	for range maxHistory {
		h = appendHistory(h, domain.HistoryMessage{Role: "user", Content: "x"}, domain.HistoryMessage{Role: "assistant", Content: "y"})
	}
	assert.Len(t, h, maxHistory)
}
