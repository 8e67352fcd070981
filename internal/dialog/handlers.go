package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/intent"
	"github.com/ashureev/bookspirit/internal/llm"
	"github.com/ashureev/bookspirit/internal/prompt"
)

const (
	plannerTemp       = 0.3
	optimizerTemp     = 0.7
	encouragementTemp = 0.8

	notesLimit           = 3
	recommendationsLimit = 3
)

// turn is the per-request state a handler sees.
type turn struct {
	userID  string
	message string
	history []domain.HistoryMessage
	uc      domain.UserContext
	result  intent.Result
}

type handlerFunc func(ctx context.Context, t *turn) (AgentResponse, error)

// handlers maps every intent onto its capability. Unspecified and unknown
// intents use chat.
func (e *Engine) handlers() map[intent.Intent]handlerFunc {
	return map[intent.Intent]handlerFunc{
		intent.Chatting:           e.handleChat,
		intent.Unspecified:        e.handleChat,
		intent.Planning:           e.handlePlanning,
		intent.QueryPlan:          e.handleQueryPlan,
		intent.QueryProgress:      e.handleQueryProgress,
		intent.QueryNotes:         e.handleQueryNotes,
		intent.BookRecommendation: e.handleRecommendation,
		intent.QuizRequest:        e.handleQuizRequest,
		intent.Encouragement:      e.handleEncouragement,
		intent.Adjusting:          e.handleAdjusting,
		intent.Reporting:          e.handleReporting,
		intent.SeekingHelp:        e.handleHelp,
		intent.OffTopic:           e.handleOffTopic,
	}
}

func (e *Engine) handleChat(ctx context.Context, t *turn) (AgentResponse, error) {
	return e.chat.Generate(ctx, ChatInput{
		UserID:  t.userID,
		Message: t.message,
		History: t.history,
		Context: t.uc,
	})
}

func (e *Engine) handlePlanning(ctx context.Context, t *turn) (AgentResponse, error) {
	system, err := e.prompts.Render(prompt.Planner, prompt.Vars{
		BookName:     t.uc.BookName,
		Chapter:      t.uc.Chapter,
		ReadingSpeed: t.uc.ReadingSpeed,
		Streak:       t.uc.Streak,
		Message:      t.message,
	})
	if err != nil {
		return AgentResponse{}, err
	}

	content, err := e.completer.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: t.message},
		},
		Temperature: plannerTemp,
		JSONMode:    true,
	})
	if err != nil && !errors.Is(err, llm.ErrEmptyCompletion) {
		return AgentResponse{}, fmt.Errorf("planner: %w", err)
	}

	plan, ok := ParsePlan(content)
	if !ok {
		e.log.Warn("Planner returned unparseable plan", "user_id", t.userID, "content_len", len(content))
		msg := content
		if strings.TrimSpace(msg) == "" {
			msg = "抱歉，我暂时无法生成计划，请稍后再试。"
		}
		return AgentResponse{Type: TypeChat, Message: msg, Source: SourceDeepSeekPlanner}, nil
	}

	return AgentResponse{
		Type:    TypePlan,
		Message: fmt.Sprintf("✅ 学习计划已生成！\n\n%s\n\n你觉得这个计划怎么样？", FormatPlan(plan)),
		Plan:    plan,
		Source:  SourceDeepSeekPlanner,
	}, nil
}

func (e *Engine) handleAdjusting(ctx context.Context, t *turn) (AgentResponse, error) {
	system, err := e.prompts.Render(prompt.Optimizer, prompt.Vars{
		DaysSince:      t.uc.DaysSinceCheckin,
		CompletionRate: "未知",
		QuizAccuracy:   t.uc.QuizAccuracy,
		Message:        t.message,
	})
	if err != nil {
		return AgentResponse{}, err
	}

	content, err := e.completer.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: t.message},
		},
		Temperature: optimizerTemp,
	})
	if errors.Is(err, llm.ErrEmptyCompletion) {
		content, err = "我可以帮你调整学习计划，减轻压力～", nil
	}
	if err != nil {
		return AgentResponse{}, fmt.Errorf("optimizer: %w", err)
	}
	return AgentResponse{Type: TypeOptimize, Message: content, Source: SourceDeepSeekOptimizer}, nil
}

func (e *Engine) handleEncouragement(ctx context.Context, t *turn) (AgentResponse, error) {
	system, err := e.prompts.Render(prompt.Encouragement, prompt.Vars{
		BookName: t.uc.BookName,
		Streak:   t.uc.Streak,
		Emotion:  t.result.Entity("emotion"),
	})
	if err == nil {
		var content string
		content, err = e.completer.Complete(ctx, llm.Request{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: system},
				{Role: llm.RoleUser, Content: t.message},
			},
			Temperature: encouragementTemp,
		})
		if errors.Is(err, llm.ErrEmptyCompletion) {
			content, err = "你已经做得很棒了！我会一直陪在你身边的。🌟", nil
		}
		if err == nil {
			return AgentResponse{Type: TypeChat, Message: content, Source: SourceDeepSeekEncouragement}, nil
		}
	}

	e.log.Warn("Encouragement generation failed, using canned reply", "user_id", t.userID, "error", err)
	return AgentResponse{
		Type: TypeChat,
		Message: fmt.Sprintf("✨ 你真的很厉害哦！哪怕是一小步，也是通往智慧的重要一步。在《%s》的世界里，每个读者都是最伟大的探险家！加油！",
			t.uc.BookName),
		Source: SourceSystem,
	}, nil
}

func (e *Engine) handleReporting(_ context.Context, t *turn) (AgentResponse, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "📖 收到！你正在读《%s》%s。", t.uc.BookName, t.uc.Chapter)
	switch {
	case t.uc.Streak >= 7:
		fmt.Fprintf(&b, "\n\n🔥 太厉害了！你已经连续打卡 %d 天，坚持就是胜利！", t.uc.Streak)
	case t.uc.Streak >= 3:
		fmt.Fprintf(&b, "\n\n👍 连续 %d 天了，继续保持！", t.uc.Streak)
	}
	b.WriteString("\n\n要不要我帮你制定下一阶段的学习计划？或者聊聊这一章的内容？")
	return AgentResponse{Type: TypeChat, Message: b.String(), Source: SourceSystem}, nil
}

func (e *Engine) handleQueryPlan(ctx context.Context, t *turn) (AgentResponse, error) {
	readCtx, cancel := e.readCtx(ctx)
	plan, err := e.reader.GetActivePlan(readCtx, t.userID)
	cancel()
	if err != nil {
		e.log.Error("Active plan lookup failed", "user_id", t.userID, "error", err)
		return AgentResponse{Type: TypeChat, Message: "唔，我翻了一下计划本没找到，能稍后再试试吗？", Source: SourceSystem}, nil
	}
	if plan == nil {
		return AgentResponse{
			Type:    TypeChat,
			Message: "📢 我还没看到你近期的学习计划呢。要不要我现在帮你做一个？你可以告诉我你想在几天内读完这本书。",
			Source:  SourceSystem,
		}, nil
	}
	return AgentResponse{
		Type:    TypeChat,
		Message: fmt.Sprintf("📅 这是你现在的学习计划：\n\n%s\n\n加油，只要每天坚持一点点，目标就能实现！", FormatPlan(plan)),
		Source:  SourceSystem,
	}, nil
}

func (e *Engine) handleQueryProgress(_ context.Context, t *turn) (AgentResponse, error) {
	uc := t.uc

	var remaining string
	if uc.TotalChapters > 0 {
		left := max(0, uc.TotalChapters-(uc.ChapterIndex+1))
		if left == 0 {
			remaining = "\n\n🎉 哇！你已经读完这本书啦！太棒了！"
		} else {
			remaining = fmt.Sprintf("\n\n🕒 **预计剩余**：由于你每天读 1 回，大约还需要 **%d** 天就能读完《%s》啦！加油哦！", left, uc.BookName)
		}
	}

	footer := "🌱 还没开始正式打卡吗？没关系，现在就开始第一步吧！"
	if uc.Streak > 0 {
		footer = "✨ 每一天的坚持都在闪闪发光！"
	}

	msg := fmt.Sprintf("📊 你的阅读“成绩单”来啦：\n\n"+
		"- **正在阅读**：《%s》\n"+
		"- **当前进度**：%s\n"+
		"- **连续打卡**：%d 天\n"+
		"- **累计积分**：%d 分\n"+
		"- **闯关准确率**：%d%%%s\n\n%s",
		uc.BookName, uc.Chapter, uc.Streak, uc.Points, uc.QuizAccuracy, remaining, footer)

	return AgentResponse{Type: TypeChat, Message: msg, Source: SourceSystem}, nil
}

func (e *Engine) handleQueryNotes(ctx context.Context, t *turn) (AgentResponse, error) {
	readCtx, cancel := e.readCtx(ctx)
	notes, err := e.reader.GetRecentNotes(readCtx, t.userID, notesLimit)
	cancel()
	if err != nil {
		e.log.Error("Notes lookup failed", "user_id", t.userID, "error", err)
		return AgentResponse{Type: TypeChat, Message: "唔，笔记由于某种魔法暂时打不开了，请稍后再试试吧！", Source: SourceSystem}, nil
	}
	if len(notes) == 0 {
		return AgentResponse{
			Type:    TypeChat,
			Message: "🎨 我翻遍了你的日记本，还没看到写下的感悟呢。要不要读完今天的章节后去“感悟”页面留下一段文字？我会帮你润色得很漂亮哦！",
			Source:  SourceSystem,
		}, nil
	}

	var b strings.Builder
	b.WriteString("📝 我帮你找到了之前写下的感悟：\n")
	for _, n := range notes {
		fmt.Fprintf(&b, "\n【%s - %s】(%s)\n%s\n", n.BookName, n.Chapter, n.CreatedAt.Format("2006/1/2"), n.Text)
	}
	if len(notes) >= notesLimit {
		b.WriteString("\n（仅显示最近3条，去“感悟”页面可以看全部哦～）")
	}
	return AgentResponse{Type: TypeChat, Message: b.String(), Source: SourceSystem}, nil
}

var staticRecommendations = []string{
	"《西游记》：感受齐天大圣的七十二变与取经路上的奇幻冒险！",
	"《草房子》：走进曹文轩老师笔下的纯净童年世界。",
	"《中国古代神话》：探索中华文明的起源与浪漫想象。",
}

func (e *Engine) handleRecommendation(ctx context.Context, t *turn) (AgentResponse, error) {
	level := max(t.uc.Level, 1)
	topic := t.result.Entity("topic", "genre", "keyword")

	readCtx, cancel := e.readCtx(ctx)
	books, err := e.recommender.Recommend(readCtx, level, topic, recommendationsLimit)
	cancel()
	if err != nil {
		e.log.Error("Recommendation lookup failed", "user_id", t.userID, "error", err)
		return AgentResponse{
			Type:    TypeChat,
			Message: "唔，正在努力为你翻找适合的书籍...我们可以先继续聊聊现在的这本书哦！",
			Source:  SourceSystem,
		}, nil
	}

	lines := make([]string, 0, len(books))
	for _, book := range books {
		desc := book.Description
		if desc == "" {
			desc = "开启智慧之旅"
		}
		lines = append(lines, fmt.Sprintf("《%s》：%s", book.Title, desc))
	}
	if len(lines) == 0 {
		lines = staticRecommendations
	}

	var b strings.Builder
	fmt.Fprintf(&b, "💡 根据你当前的等级 L%d，我为你挑选了以下好书：\n\n", level)
	for i, line := range lines {
		fmt.Fprintf(&b, "%d. %s\n", i+1, line)
	}
	b.WriteString("\n这些书都非常适合在这个阶段阅读哦！")
	return AgentResponse{Type: TypeChat, Message: b.String(), Source: SourceSystem}, nil
}

func (e *Engine) handleQuizRequest(context.Context, *turn) (AgentResponse, error) {
	return AgentResponse{
		Type:    TypeChat,
		Message: "🎮 准备好接受挑战了吗？点击下方的“闯关”标签页，就可以开始今天的知识大闯关啦！我在终点等你哦～",
		Source:  SourceSystem,
	}, nil
}

const helpGuide = `📚 智慧之匙使用指南：

1. **打卡**：在「打卡」页面点击打卡按钮即可记录今日阅读
2. **书灵**：就是我们现在聊天的地方！你可以和我讨论书里的内容
3. **感悟**：在「感悟」页面回答几个小问题，我帮你生成读后感
4. **闯关**：在「闯关」页面完成答题挑战获得积分
5. **积分**：打卡+1分，闯关根据答对题数得分，在「我的」页面查看

还有什么不明白的，随时问我！😊`

func (e *Engine) handleHelp(context.Context, *turn) (AgentResponse, error) {
	return AgentResponse{Type: TypeChat, Message: helpGuide, Source: SourceSystem}, nil
}

func (e *Engine) handleOffTopic(_ context.Context, t *turn) (AgentResponse, error) {
	return AgentResponse{
		Type: TypeChat,
		Message: fmt.Sprintf("🤫 嘘...我是住在《%s》里的书灵，外面的世界我不太懂呢。\n\n我们还是来做个小侦探，聊聊第%d回的故事吧！你准备好了吗？",
			t.uc.BookName, t.uc.ChapterIndex+1),
		Source: SourceSystem,
	}, nil
}
