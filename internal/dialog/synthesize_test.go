package dialog

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/intent"
)

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "孙悟空是一只猴子。", "孙悟空是一只猴子。"},
		{"bold", "**bold**", "bold"},
		{"italic", "*轻轻地*走了", "轻轻地走了"},
		{"underscore", "__粗__ 和 _斜_", "粗 和 斜"},
		{"strike", "~~删掉~~", "删掉"},
		{"heading", "## 第一回\n正文", "第一回\n正文"},
		{"inline code", "用 `fmt` 包", "用 fmt 包"},
		{"fenced code", "```go\nfmt.Println()\n```", "go\nfmt.Println()"},
		{"link", "看[这里](https://example.com)", "看这里"},
		{"blockquote", "> 名言", "名言"},
		{"bullets", "- 一\n- 二", "• 一\n• 二"},
		{"ordered", "1. 一\n2. 二", "一\n二"},
		{"rule", "上\n---\n下", "上\n\n下"},
		{"blank lines", "a\n\n\n\n\nb", "a\n\nb"},
		{"empty", "", ""},
		{"snake case", "file_name_v2 and user_id", "file_name_v2 and user_id"},
		{"multiplication", "3 * 4 * 5 = 60", "3 * 4 * 5 = 60"},
		{"lone asterisk", "a * b", "a * b"},
		{"bold inside sentence", "这是**重点**内容", "这是重点内容"},
		{"adjacent emphasis", "*甲* *乙*", "甲 乙"},
		{"nested quote", ">> 深层引用", "深层引用"},
		{"star rule", "上\n***\n下", "上\n\n下"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripMarkdown(tt.in))
		})
	}
}

func TestStripMarkdown_Idempotent(t *testing.T) {
	inputs := []string{
		"**书灵**说：\n\n- 第一点\n- 第二点\n\n\n\n> 引用",
		"普通的一句话。",
		"1. 读书\n2. 思考",
		">>]1\n.*#`a(",
		"*甲* *乙* _丙_ _丁_",
		"***粗斜***",
		"> > - **嵌套**",
		"- \n- \n\n\n",
	}
	for _, in := range inputs {
		once := StripMarkdown(in)
		assert.Equal(t, once, StripMarkdown(once), "input %q", in)
	}
}

func TestStripMarkdown_IdempotentRandom(t *testing.T) {
	alphabet := []rune("*_#>-+[]()`~.1 a\n\t孙")
	rng := rand.New(rand.NewPCG(1, 2))
	for range 2000 {
		b := make([]rune, rng.IntN(24))
		for i := range b {
			b[i] = alphabet[rng.IntN(len(alphabet))]
		}
		in := string(b)
		once := StripMarkdown(in)
		if !assert.Equal(t, once, StripMarkdown(once), "input %q", in) {
			return
		}
	}
}

func FuzzStripMarkdown(f *testing.F) {
	for _, seed := range []string{"**a**", "_b_", ">>]1\n.*#`a(", "- x\n1. y", "file_name"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		once := StripMarkdown(in)
		if again := StripMarkdown(once); again != once {
			t.Fatalf("not idempotent: %q -> %q -> %q", in, once, again)
		}
	})
}

func TestSynthesize_WelcomeBack(t *testing.T) {
	resp := AgentResponse{Type: TypeChat, Message: "好呀"}

	tests := []struct {
		name     string
		days     int
		resolved intent.Intent
		first    bool
		want     bool
	}{
		{"away three days", 3, intent.Chatting, true, true},
		{"away two days", 2, intent.Chatting, true, false},
		{"second message", 5, intent.Chatting, false, false},
		{"adjusting", 5, intent.Adjusting, true, false},
		{"seeking help", 5, intent.SeekingHelp, true, false},
		{"reporting", 5, intent.Reporting, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Synthesize(resp, domain.UserContext{DaysSinceCheckin: tt.days}, tt.resolved, tt.first)
			assert.Equal(t, tt.want, out.Message != "好呀", out.Message)
			if tt.want {
				assert.Contains(t, out.Message, "欢迎回来")
			}
		})
	}
}

func TestSynthesize_Milestone(t *testing.T) {
	resp := AgentResponse{Type: TypeChat, Message: "收到"}
	for streak, want := range map[int]bool{0: false, 1: false, 4: false, 5: true, 6: false, 10: true, 15: true} {
		out := Synthesize(resp, domain.UserContext{Streak: streak}, intent.Reporting, true)
		assert.Equal(t, want, out.Message != "收到", "streak %d", streak)
	}

	out := Synthesize(resp, domain.UserContext{Streak: 5}, intent.Chatting, true)
	assert.Equal(t, "收到", out.Message)

	out = Synthesize(resp, domain.UserContext{Streak: 5}, intent.Reporting, false)
	assert.Equal(t, "收到", out.Message)
}

func TestSynthesize_WelcomeBackWinsOverMilestone(t *testing.T) {
	out := Synthesize(AgentResponse{Type: TypeChat, Message: "收到"},
		domain.UserContext{Streak: 5, DaysSinceCheckin: 3}, intent.Reporting, true)

	assert.Contains(t, out.Message, "欢迎回来")
	assert.NotContains(t, out.Message, "恭喜")
}

func TestSynthesize_ErrorGetsNoBanner(t *testing.T) {
	out := Synthesize(AgentResponse{Type: TypeError, Message: routerErrorMessage},
		domain.UserContext{DaysSinceCheckin: 9}, intent.Chatting, true)

	assert.Equal(t, routerErrorMessage, out.Message)
}
