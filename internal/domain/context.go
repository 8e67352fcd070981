package domain

// UserContext is the read-only snapshot of a reader's state, rebuilt for
// every inbound message.
type UserContext struct {
	UserID           string `json:"user_id"`
	BookName         string `json:"book_name"`
	Chapter          string `json:"chapter"`
	ChapterIndex     int    `json:"chapter_index"`
	TotalChapters    int    `json:"total_chapters"`
	Level            int    `json:"level"`
	Streak           int    `json:"streak"`
	DaysSinceCheckin int    `json:"days_since_checkin"`
	QuizAccuracy     int    `json:"quiz_accuracy"`
	Points           int    `json:"points"`
	ReadingSpeed     string `json:"reading_speed"`
}
