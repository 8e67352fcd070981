package dialog

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ashureev/bookspirit/internal/domain"
)

// FormatPlan renders a study plan as checklist text.
func FormatPlan(plan *domain.StudyPlan) string {
	if plan == nil || len(plan.DailyTasks) == 0 {
		return "暂无计划详情"
	}

	var b strings.Builder
	name := plan.PlanName
	if name == "" {
		name = "学习计划"
	}
	fmt.Fprintf(&b, "📅 %s\n", name)
	if plan.Strategy != "" {
		fmt.Fprintf(&b, "💡 策略：%s\n\n", plan.Strategy)
	}
	for i, task := range plan.DailyTasks {
		day := task.Day
		if day == "" {
			day = fmt.Sprintf("第%d天", i+1)
		}
		est := task.EstimatedTime
		if est == "" {
			est = "20分钟"
		}
		fmt.Fprintf(&b, "□ %s - %s (%s)\n", day, task.Task, est)
	}
	return b.String()
}

// ParsePlan reads a model-produced plan object. Scalar fields are read
// leniently so that numeric days ("day": 1) still parse.
func ParsePlan(content string) (*domain.StudyPlan, bool) {
	if !gjson.Valid(content) {
		return nil, false
	}
	root := gjson.Parse(content)
	if !root.IsObject() {
		return nil, false
	}

	plan := &domain.StudyPlan{
		PlanName: root.Get("plan_name").String(),
		Strategy: root.Get("strategy").String(),
	}
	root.Get("daily_tasks").ForEach(func(_, t gjson.Result) bool {
		plan.DailyTasks = append(plan.DailyTasks, domain.DailyTask{
			Day:           t.Get("day").String(),
			Task:          t.Get("task").String(),
			EstimatedTime: t.Get("estimated_time").String(),
		})
		return true
	})
	return plan, true
}
