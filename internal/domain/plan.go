package domain

// StudyPlan is a generated reading plan. The dialog engine only formats it.
type StudyPlan struct {
	PlanName   string      `json:"plan_name"`
	Strategy   string      `json:"strategy,omitempty"`
	DailyTasks []DailyTask `json:"daily_tasks"`
}

// DailyTask is a single day's entry in a StudyPlan.
type DailyTask struct {
	Day           string `json:"day,omitempty"`
	Task          string `json:"task"`
	EstimatedTime string `json:"estimated_time,omitempty"`
}
