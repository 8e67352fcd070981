// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/bookspirit/internal/domain"
)

// Reader is the read side consumed by the dialog engine. Lookups for a
// missing record return (nil, nil) rather than an error.
type Reader interface {
	// GetUserProfile retrieves a user's engagement record.
	GetUserProfile(ctx context.Context, userID string) (*domain.UserProfile, error)

	// GetActiveReadingProgress returns the most recently read in-progress book.
	GetActiveReadingProgress(ctx context.Context, userID string) (*domain.ReadingProgress, error)

	// GetBookMeta retrieves catalogue metadata for a book.
	GetBookMeta(ctx context.Context, bookID string) (*domain.Book, error)

	// GetRecentQuizResults returns up to limit quiz attempts, newest first.
	GetRecentQuizResults(ctx context.Context, userID string, limit int) ([]domain.QuizResult, error)

	// GetActivePlan returns the user's current study plan.
	GetActivePlan(ctx context.Context, userID string) (*domain.StudyPlan, error)

	// GetRecentNotes returns up to limit reading notes, newest first.
	GetRecentNotes(ctx context.Context, userID string, limit int) ([]domain.Note, error)

	// GetRecommendedBooks returns up to limit books whose recommend level
	// does not exceed levelCeiling.
	GetRecommendedBooks(ctx context.Context, levelCeiling, limit int) ([]domain.Book, error)
}

// DialogWriter persists dialog exchanges.
type DialogWriter interface {
	// AppendDialogLog stores one exchange. A missing ID is generated.
	AppendDialogLog(ctx context.Context, entry *domain.DialogEntry) error
}

// Repository defines the full persistence surface.
type Repository interface {
	Reader
	DialogWriter

	// UpsertUserProfile creates or updates a user's engagement record.
	UpsertUserProfile(ctx context.Context, profile *domain.UserProfile) error

	// UpsertBook creates or updates a catalogue entry.
	UpsertBook(ctx context.Context, book *domain.Book) error

	// ListBooks returns the full catalogue.
	ListBooks(ctx context.Context) ([]domain.Book, error)

	// UpsertReadingProgress creates or updates progress for (user, book).
	UpsertReadingProgress(ctx context.Context, progress *domain.ReadingProgress) error

	// AddQuizResult records one quiz attempt.
	AddQuizResult(ctx context.Context, result *domain.QuizResult) error

	// AddNote records a reading note.
	AddNote(ctx context.Context, note *domain.Note) error

	// SaveActivePlan stores plan as the user's only active plan, marking
	// earlier active plans as superseded.
	SaveActivePlan(ctx context.Context, userID string, plan *domain.StudyPlan) error

	// RecentDialogs returns up to limit logged exchanges, newest first.
	RecentDialogs(ctx context.Context, userID string, limit int) ([]domain.DialogEntry, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
