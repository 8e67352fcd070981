package dialog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/intent"
)

type replacement struct {
	re   *regexp.Regexp
	with string
}

// Applied in order; horizontal rules run before bold and bold before italic. Emphasis
// needs a non-space just inside each delimiter, and single delimiters must
// not touch a word character outside, so snake_case and "3 * 4" survive.
var markdownRules = []replacement{
	{regexp.MustCompile(`(?m)^#{1,6}[ \t]+`), ""},
	{regexp.MustCompile(`(?m)^[ \t]*[-*_]{3,}[ \t]*$`), ""},
	{regexp.MustCompile(`\*\*(\S(?:.*?\S)?)\*\*`), "$1"},
	{regexp.MustCompile(`(?m)(^|[^\w*])\*(\S(?:.*?\S)?)\*([^\w*]|$)`), "$1$2$3"},
	{regexp.MustCompile(`(?m)(^|[^\w_])__(\S(?:.*?\S)?)__([^\w_]|$)`), "$1$2$3"},
	{regexp.MustCompile(`(?m)(^|[^\w_])_(\S(?:.*?\S)?)_([^\w_]|$)`), "$1$2$3"},
	{regexp.MustCompile(`~~(.+?)~~`), "$1"},
	{regexp.MustCompile("`{1,3}([^`]+)`{1,3}"), "$1"},
	{regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`), "• "},
	{regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]+`), ""},
	{regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`), "$1"},
	{regexp.MustCompile(`(?m)^(?:>[ \t]?)+`), ""},
	{regexp.MustCompile(`\n{3,}`), "\n\n"},
}

// StripMarkdown converts markdown to plain chat-bubble text. Passes repeat
// until the text stops changing, so StripMarkdown(StripMarkdown(s)) equals
// StripMarkdown(s).
func StripMarkdown(text string) string {
	if text == "" {
		return text
	}
	// Every pass that changes the text removes at least one ASCII byte.
	for passes := len(text); passes >= 0; passes-- {
		next := stripPass(text)
		if next == text {
			break
		}
		text = next
	}
	return text
}

func stripPass(text string) string {
	for _, r := range markdownRules {
		text = r.re.ReplaceAllString(text, r.with)
	}
	return strings.TrimSpace(text)
}

const (
	welcomeBackThreshold = 3
	milestoneEvery       = 5
)

// Synthesize applies the final presentation transform to resp: markdown is
// stripped, then on the first message of a conversation either a
// welcome-back banner is prepended or a streak milestone suffix appended.
// Welcome-back wins when both apply. Error replies get no banner.
func Synthesize(resp AgentResponse, uc domain.UserContext, resolved intent.Intent, firstMessage bool) AgentResponse {
	resp.Message = StripMarkdown(resp.Message)

	if !firstMessage || resp.Type == TypeError {
		return resp
	}

	if uc.DaysSinceCheckin >= welcomeBackThreshold &&
		resolved != intent.Adjusting && resolved != intent.SeekingHelp {
		resp.Message = fmt.Sprintf("👋 欢迎回来！你已经 %d 天没来了，没关系，我们继续～\n\n%s", uc.DaysSinceCheckin, resp.Message)
		return resp
	}

	if resolved == intent.Reporting && uc.Streak > 0 && uc.Streak%milestoneEvery == 0 {
		resp.Message = fmt.Sprintf("%s\n\n🎉 恭喜！你已经连续打卡 %d 天了！要不要挑战一下闯关？", resp.Message, uc.Streak)
	}
	return resp
}
