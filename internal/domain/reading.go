package domain

import (
	"time"
)

// Reading progress statuses.
const (
	ProgressReading  = "reading"
	ProgressFinished = "finished"
)

// Book is catalogue metadata for a readable book.
type Book struct {
	BookID         string `json:"book_id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	TotalChapters  int    `json:"total_chapters"`
	RecommendLevel int    `json:"recommend_level"`
}

// ReadingProgress tracks where a user is in a book.
type ReadingProgress struct {
	UserID       string    `json:"user_id"`
	BookID       string    `json:"book_id"`
	BookName     string    `json:"book_name"`
	ChapterIndex int       `json:"chapter_index"`
	Status       string    `json:"status"`
	LastReadAt   time.Time `json:"last_read_at"`
}

// QuizResult is one completed quiz attempt.
// TotalQuestions is 0 when the attempt record did not carry a total.
type QuizResult struct {
	UserID         string    `json:"user_id"`
	CorrectCount   int       `json:"correct_count"`
	TotalQuestions int       `json:"total_questions"`
	CreatedAt      time.Time `json:"created_at"`
}

// Note is a generated reading reflection.
type Note struct {
	UserID    string    `json:"user_id"`
	BookName  string    `json:"book_name"`
	Chapter   string    `json:"chapter"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
