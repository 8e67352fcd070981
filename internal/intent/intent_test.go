package intent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/bookspirit/internal/llm"
)

type stubCompleter struct {
	content string
	err     error
	calls   atomic.Int32
	last    llm.Request
}

func (s *stubCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	s.calls.Add(1)
	s.last = req
	return s.content, s.err
}

func TestMatcher_Rules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  string
		want Intent
	}{
		{"我的计划是什么", QueryPlan},
		{"  下一步读什么  ", QueryPlan},
		{"我现在多少分", QueryProgress},
		{"给我看看笔记", QueryNotes},
		{"推荐几本好看的书", BookRecommendation},
		{"考考我吧", QuizRequest},
		{"来个quiz", QuizRequest},
		{"我读完第三回了", Reporting},
		{"帮助", SeekingHelp},
		{"帮我规划一下", Planning},
		// Rule order: query_plan is tested before planning.
		{"帮我规划一下我的计划", QueryPlan},
		// Rule order: query_progress is tested before quiz_request.
		{"测试进度", QueryProgress},
	}

	var m Matcher
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			t.Parallel()
			got, ok := m.Match(tt.msg)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Intent)
			assert.Equal(t, 1.0, got.Confidence)
			assert.Equal(t, SourceFastRegex, got.Source)
			assert.False(t, got.Fallback)
		})
	}
}

func TestMatcher_Miss(t *testing.T) {
	t.Parallel()

	var m Matcher
	for _, msg := range []string{"", "   ", "孙悟空为什么要大闹天宫", "请问帮助在哪里", "Quiz"} {
		_, ok := m.Match(msg)
		assert.False(t, ok, msg)
	}
}

func TestClassifier_AcceptsConfidentResult(t *testing.T) {
	t.Parallel()

	stub := &stubCompleter{content: `{"intent":"encouragement","confidence":0.82,"entities":{"topic":"西游记"}}`}
	c := NewClassifier(stub, nil, nil)

	got := c.Classify(context.Background(), "我不想读了", Hints{BookName: "西游记", Chapter: "第2回", Streak: 3})
	assert.Equal(t, Encouragement, got.Intent)
	assert.InDelta(t, 0.82, got.Confidence, 1e-9)
	assert.Equal(t, SourceLLM, got.Source)
	assert.False(t, got.Fallback)
	assert.Equal(t, "西游记", got.Entity("topic"))

	assert.True(t, stub.last.JSONMode)
	assert.InDelta(t, 0.1, stub.last.Temperature, 1e-9)
	require.Len(t, stub.last.Messages, 2)
	assert.Contains(t, stub.last.Messages[0].Content, "《西游记》第2回")
}

func TestClassifier_LowConfidenceForcesChatting(t *testing.T) {
	t.Parallel()

	for _, content := range []string{
		`{"intent":"planning","confidence":0.49,"entities":{"days":"7"}}`,
		`{"intent":"off_topic","confidence":0}`,
		`{"intent":"quiz_request"}`,
	} {
		stub := &stubCompleter{content: content}
		got := NewClassifier(stub, nil, nil).Classify(context.Background(), "嗯", Hints{})
		assert.Equal(t, Chatting, got.Intent, content)
		assert.True(t, got.Fallback, content)
	}

	stub := &stubCompleter{content: `{"intent":"planning","confidence":0.3,"entities":{"days":"7"}}`}
	got := NewClassifier(stub, nil, nil).Classify(context.Background(), "嗯", Hints{})
	assert.InDelta(t, 0.3, got.Confidence, 1e-9)
	assert.Equal(t, "7", got.Entity("days"))
}

func TestClassifier_ClampsConfidence(t *testing.T) {
	t.Parallel()

	stub := &stubCompleter{content: `{"intent":"planning","confidence":-0.4}`}
	got := NewClassifier(stub, nil, nil).Classify(context.Background(), "嗯", Hints{})
	assert.Equal(t, 0.0, got.Confidence)
	assert.Equal(t, Chatting, got.Intent)
	assert.True(t, got.Fallback)

	stub = &stubCompleter{content: `{"intent":"planning","confidence":1.7}`}
	got = NewClassifier(stub, nil, nil).Classify(context.Background(), "嗯", Hints{})
	assert.Equal(t, 1.0, got.Confidence)
	assert.Equal(t, Planning, got.Intent)
	assert.False(t, got.Fallback)
}

func TestClassifier_FailuresDegradeToDefault(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		stub *stubCompleter
	}{
		{"transport error", &stubCompleter{err: errors.New("dial tcp: connection refused")}},
		{"empty completion", &stubCompleter{err: llm.ErrEmptyCompletion}},
		{"malformed json", &stubCompleter{content: `{"intent": "planning",`}},
		{"non-object json", &stubCompleter{content: `["planning"]`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NewClassifier(tt.stub, nil, nil).Classify(context.Background(), "随便聊聊", Hints{})
			assert.Equal(t, Chatting, got.Intent)
			assert.Equal(t, 0.0, got.Confidence)
			assert.Equal(t, SourceDefault, got.Source)
			assert.True(t, got.Fallback)
			assert.NotNil(t, got.Entities)
		})
	}
}

func TestClassifier_UnknownLabelIsUnspecified(t *testing.T) {
	t.Parallel()

	stub := &stubCompleter{content: `{"intent":"time_travel","confidence":0.9}`}
	got := NewClassifier(stub, nil, nil).Classify(context.Background(), "hi", Hints{})
	assert.Equal(t, Unspecified, got.Intent)
}

func TestParse(t *testing.T) {
	t.Parallel()

	for _, in := range All {
		assert.Equal(t, in, Parse(string(in)))
	}
	assert.Equal(t, Unspecified, Parse(""))
	assert.Equal(t, Unspecified, Parse("CHATTING"))
}
