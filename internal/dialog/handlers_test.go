package dialog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/intent"
	"github.com/ashureev/bookspirit/internal/llm"
)

func newTurn(uc domain.UserContext) *turn {
	return &turn{userID: "u1", message: "hi", uc: uc, result: intent.Default()}
}

func TestHandleQueryProgress(t *testing.T) {
	f := newFixture(t, false)

	resp, err := f.engine.handleQueryProgress(context.Background(), newTurn(domain.UserContext{
		BookName: "西游记", Chapter: "第5回", ChapterIndex: 4, TotalChapters: 10,
		Streak: 3, Points: 42, QuizAccuracy: 80,
	}))
	require.NoError(t, err)

	plain := StripMarkdown(resp.Message)
	assert.Contains(t, plain, "• 正在阅读：《西游记》")
	assert.Contains(t, plain, "累计积分：42 分")
	assert.Contains(t, plain, "闯关准确率：80%")
	assert.Contains(t, plain, "大约还需要 5 天")
	assert.Contains(t, plain, "每一天的坚持都在闪闪发光")
}

func TestHandleQueryProgress_Finished(t *testing.T) {
	f := newFixture(t, false)

	resp, err := f.engine.handleQueryProgress(context.Background(), newTurn(domain.UserContext{
		BookName: "草房子", ChapterIndex: 9, TotalChapters: 10,
	}))
	require.NoError(t, err)

	assert.Contains(t, resp.Message, "你已经读完这本书啦")
	assert.Contains(t, resp.Message, "还没开始正式打卡吗")
}

func TestHandleQueryProgress_UnknownTotal(t *testing.T) {
	f := newFixture(t, false)

	resp, err := f.engine.handleQueryProgress(context.Background(), newTurn(domain.UserContext{BookName: "草房子"}))
	require.NoError(t, err)

	assert.NotContains(t, resp.Message, "预计剩余")
	assert.NotContains(t, resp.Message, "读完这本书")
}

func TestHandleReporting_StreakLines(t *testing.T) {
	f := newFixture(t, false)
	tests := []struct {
		streak int
		want   string
	}{
		{8, "太厉害了！你已经连续打卡 8 天"},
		{4, "连续 4 天了，继续保持"},
		{1, ""},
	}
	for _, tt := range tests {
		resp, err := f.engine.handleReporting(context.Background(), newTurn(domain.UserContext{
			BookName: "西游记", Chapter: "第2回", Streak: tt.streak,
		}))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(resp.Message, "📖 收到！你正在读《西游记》第2回。"))
		assert.True(t, strings.HasSuffix(resp.Message, "或者聊聊这一章的内容？"))
		if tt.want != "" {
			assert.Contains(t, resp.Message, tt.want)
		} else {
			assert.NotContains(t, resp.Message, "连续")
		}
	}
}

func TestHandleQueryNotes(t *testing.T) {
	f := newFixture(t, false)
	day := time.Date(2026, 5, 4, 9, 0, 0, 0, time.Local)
	f.repo.notes = []domain.Note{
		{BookName: "西游记", Chapter: "第1回", Text: "猴王出世", CreatedAt: day},
		{BookName: "西游记", Chapter: "第2回", Text: "拜师学艺", CreatedAt: day},
		{BookName: "西游记", Chapter: "第3回", Text: "龙宫借宝", CreatedAt: day},
		{BookName: "西游记", Chapter: "第4回", Text: "弼马温", CreatedAt: day},
	}

	resp, err := f.engine.handleQueryNotes(context.Background(), newTurn(domain.UserContext{}))
	require.NoError(t, err)

	assert.Contains(t, resp.Message, "【西游记 - 第1回】(2026/5/4)\n猴王出世")
	assert.Contains(t, resp.Message, "龙宫借宝")
	assert.NotContains(t, resp.Message, "弼马温")
	assert.Contains(t, resp.Message, "仅显示最近3条")
}

func TestHandleQueryNotes_EmptyAndError(t *testing.T) {
	f := newFixture(t, false)

	resp, err := f.engine.handleQueryNotes(context.Background(), newTurn(domain.UserContext{}))
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "还没看到写下的感悟")

	f.repo.notesErr = errors.New("disk I/O error")
	resp, err = f.engine.handleQueryNotes(context.Background(), newTurn(domain.UserContext{}))
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "笔记由于某种魔法暂时打不开了")
}

func TestHandleQueryPlan_Error(t *testing.T) {
	f := newFixture(t, false)
	f.repo.planErr = errors.New("no such table")

	resp, err := f.engine.handleQueryPlan(context.Background(), newTurn(domain.UserContext{}))
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "计划本没找到")
}

func TestHandleRecommendation(t *testing.T) {
	f := newFixture(t, false)
	f.repo.catalog = []domain.Book{
		{Title: "小王子", Description: "关于爱与责任", RecommendLevel: 2},
		{Title: "三国演义", RecommendLevel: 5},
		{Title: "安徒生童话", RecommendLevel: 1},
	}

	resp, err := f.engine.handleRecommendation(context.Background(), newTurn(domain.UserContext{Level: 2}))
	require.NoError(t, err)

	assert.Contains(t, resp.Message, "当前的等级 L2")
	assert.Contains(t, resp.Message, "1. 《小王子》：关于爱与责任")
	assert.Contains(t, resp.Message, "2. 《安徒生童话》：开启智慧之旅")
	assert.NotContains(t, resp.Message, "三国演义")
}

func TestHandleRecommendation_StaticFallbackAndError(t *testing.T) {
	f := newFixture(t, false)

	resp, err := f.engine.handleRecommendation(context.Background(), newTurn(domain.UserContext{}))
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "当前的等级 L1")
	assert.Contains(t, resp.Message, "《西游记》")
	assert.Contains(t, resp.Message, "《草房子》")

	f.repo.recErr = errors.New("boom")
	resp, err = f.engine.handleRecommendation(context.Background(), newTurn(domain.UserContext{}))
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "正在努力为你翻找适合的书籍")
}

type topicRecommender struct{ topic string }

func (r *topicRecommender) Recommend(_ context.Context, _ int, topic string, _ int) ([]domain.Book, error) {
	r.topic = topic
	return []domain.Book{{Title: "海底两万里"}}, nil
}

func TestHandleRecommendation_PassesTopicEntity(t *testing.T) {
	rec := &topicRecommender{}
	e, err := NewEngine(Deps{Reader: &fakeRepo{}, Completer: newFakeCompleter(), Recommender: rec})
	require.NoError(t, err)

	tr := newTurn(domain.UserContext{Level: 3})
	tr.result = intent.Result{Intent: intent.BookRecommendation, Entities: map[string]any{"genre": "科幻"}}

	resp, err := e.handleRecommendation(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, "科幻", rec.topic)
	assert.Contains(t, resp.Message, "《海底两万里》")
}

func TestHandleEncouragement(t *testing.T) {
	f := newFixture(t, false)
	f.completer.on(kindEncouragement, "你一定可以的！", nil)

	resp, err := f.engine.handleEncouragement(context.Background(), newTurn(domain.UserContext{BookName: "西游记"}))
	require.NoError(t, err)
	assert.Equal(t, "你一定可以的！", resp.Message)
	assert.Equal(t, SourceDeepSeekEncouragement, resp.Source)
	assert.InDelta(t, 0.8, f.completer.last(kindEncouragement).Temperature, 1e-9)

	f.completer.on(kindEncouragement, "", errors.New("timeout"))
	resp, err = f.engine.handleEncouragement(context.Background(), newTurn(domain.UserContext{BookName: "西游记"}))
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "在《西游记》的世界里")
	assert.Equal(t, SourceSystem, resp.Source)

	f.completer.on(kindEncouragement, "", llm.ErrEmptyCompletion)
	resp, err = f.engine.handleEncouragement(context.Background(), newTurn(domain.UserContext{BookName: "西游记"}))
	require.NoError(t, err)
	assert.Equal(t, SourceDeepSeekEncouragement, resp.Source)
	assert.Contains(t, resp.Message, "你已经做得很棒了")
}

func TestHandleAdjusting(t *testing.T) {
	f := newFixture(t, false)
	f.completer.on(kindOptimizer, "我们每天少读一点吧。", nil)

	resp, err := f.engine.handleAdjusting(context.Background(), newTurn(domain.UserContext{DaysSinceCheckin: 4, QuizAccuracy: 60}))
	require.NoError(t, err)
	assert.Equal(t, TypeOptimize, resp.Type)
	assert.Equal(t, SourceDeepSeekOptimizer, resp.Source)

	system := f.completer.last(kindOptimizer).Messages[0].Content
	assert.Contains(t, system, "距上次打卡：4 天")
	assert.Contains(t, system, "最近闯关准确率：60%")

	f.completer.on(kindOptimizer, "", errors.New("timeout"))
	_, err = f.engine.handleAdjusting(context.Background(), newTurn(domain.UserContext{}))
	require.Error(t, err)
}

func TestHandleStaticReplies(t *testing.T) {
	f := newFixture(t, false)
	uc := domain.UserContext{BookName: "西游记", ChapterIndex: 6}

	resp, err := f.engine.handleOffTopic(context.Background(), newTurn(uc))
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "住在《西游记》里的书灵")
	assert.Contains(t, resp.Message, "聊聊第7回的故事吧")

	resp, err = f.engine.handleHelp(context.Background(), newTurn(uc))
	require.NoError(t, err)
	assert.Contains(t, StripMarkdown(resp.Message), "打卡：在「打卡」页面点击打卡按钮")

	resp, err = f.engine.handleQuizRequest(context.Background(), newTurn(uc))
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "闯关")
	assert.Empty(t, f.completer.calls)
}

// stallingRepo blocks plan and note reads until the caller gives up.
type stallingRepo struct {
	*fakeRepo
}

func (stallingRepo) GetActivePlan(ctx context.Context, _ string) (*domain.StudyPlan, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stallingRepo) GetRecentNotes(ctx context.Context, _ string, _ int) ([]domain.Note, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type stallingRecommender struct{}

func (stallingRecommender) Recommend(ctx context.Context, _ int, _ string, _ int) ([]domain.Book, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHandlers_StoreReadsAreBounded(t *testing.T) {
	e, err := NewEngine(Deps{
		Reader:         stallingRepo{fakeRepo: &fakeRepo{}},
		Completer:      newFakeCompleter(),
		Recommender:    stallingRecommender{},
		ContextTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		handler handlerFunc
		want    string
	}{
		{"plan", e.handleQueryPlan, "我翻了一下计划本没找到"},
		{"notes", e.handleQueryNotes, "笔记由于某种魔法暂时打不开了"},
		{"recommendation", e.handleRecommendation, "正在努力为你翻找适合的书籍"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			resp, err := tt.handler(context.Background(), newTurn(domain.UserContext{}))
			require.NoError(t, err)
			assert.Less(t, time.Since(start), 2*time.Second)
			assert.Contains(t, resp.Message, tt.want)
			assert.Equal(t, SourceSystem, resp.Source)
		})
	}
}
