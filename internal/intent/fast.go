package intent

import (
	"regexp"
	"strings"
)

type rule struct {
	intent  Intent
	pattern *regexp.Regexp
}

// Order matters: earlier rules win on ambiguous text.
var fastRules = []rule{
	{QueryPlan, regexp.MustCompile(`我的计划|计划是什么|看看计划|之前的安排|剩多少|该读哪|下一步读什么`)},
	{QueryProgress, regexp.MustCompile(`进度|几天了|多少分|积分|读到哪了|打卡天数|成绩单`)},
	{QueryNotes, regexp.MustCompile(`感悟|笔记|读后感|写过什么|之前的感言|我的感笔`)},
	{BookRecommendation, regexp.MustCompile(`推荐.*书|读什么书|有什么好书|适合.*读的书|书单`)},
	{QuizRequest, regexp.MustCompile(`闯关|测试|考考我|题目|做题|quiz|答题`)},
	{Reporting, regexp.MustCompile(`我读完了|搞定|任务完成|读完第.*回`)},
	{SeekingHelp, regexp.MustCompile(`^(怎么用|在哪里|怎么操作|帮助|指南|说明书)$`)},
	{Planning, regexp.MustCompile(`制定计划|帮我规划|制定个计划`)},
}

// Matcher is the zero-cost keyword stage. The zero value is ready to use.
type Matcher struct{}

// Match tests the trimmed message against the rule table and returns the
// first hit. ok is false when no rule matches.
func (Matcher) Match(message string) (Result, bool) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return Result{}, false
	}
	for _, r := range fastRules {
		if r.pattern.MatchString(msg) {
			return Result{
				Intent:     r.intent,
				Confidence: 1.0,
				Entities:   map[string]any{},
				Source:     SourceFastRegex,
			}, true
		}
	}
	return Result{}, false
}
