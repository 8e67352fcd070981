package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	_ "modernc.org/sqlite"

	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/shared"
	"github.com/ashureev/bookspirit/internal/store/migrations"
)

const (
	planStatusActive     = "active"
	planStatusSuperseded = "superseded"

	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens the database at dbPath, applies pending migrations and
// returns a ready repository. Use ":memory:" for an ephemeral store.
func NewSQLite(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dsn := "file::memory:?_pragma=busy_timeout(5000)"
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + dbPath +
			"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Migrate applies every pending schema migration to db.
func Migrate(ctx context.Context, db *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("store: create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	for _, r := range results {
		slog.Debug("Applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// withRetry runs op, retrying with exponential backoff while SQLite
// reports the database as busy or locked.
func (s *SQLiteStore) withRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(writeRetries, retry.NewExponential(writeBaseDelay))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if err != nil && shared.IsSQLiteConflictError(err) {
			slog.Debug("SQLite busy, retrying", "op", name, "attempt", attempt)
			return retry.RetryableError(err)
		}
		return err
	})
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUserProfile retrieves a user's engagement record.
func (s *SQLiteStore) GetUserProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	query := `
		SELECT user_id, nickname, level, streak, points,
		       last_checkin_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var profile domain.UserProfile
	var lastCheckin sql.NullInt64
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&profile.UserID, &profile.Nickname, &profile.Level, &profile.Streak, &profile.Points,
		&lastCheckin, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	if lastCheckin.Valid {
		ts := time.UnixMilli(lastCheckin.Int64)
		profile.LastCheckinDate = &ts
	}
	profile.CreatedAt = time.UnixMilli(createdAt)
	profile.UpdatedAt = time.UnixMilli(updatedAt)

	return &profile, nil
}

// UpsertUserProfile creates or updates a user's engagement record.
func (s *SQLiteStore) UpsertUserProfile(ctx context.Context, profile *domain.UserProfile) error {
	query := `
	INSERT INTO users (user_id, nickname, level, streak, points, last_checkin_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		nickname = excluded.nickname,
		level = excluded.level,
		streak = excluded.streak,
		points = excluded.points,
		last_checkin_at = excluded.last_checkin_at,
		updated_at = excluded.updated_at`

	now := s.now()
	created := profile.CreatedAt
	if created.IsZero() {
		created = now
	}

	var lastCheckin any
	if profile.LastCheckinDate != nil {
		lastCheckin = profile.LastCheckinDate.UnixMilli()
	}

	return s.withRetry(ctx, "upsert_user", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			profile.UserID, profile.Nickname, profile.Level, profile.Streak, profile.Points,
			lastCheckin, created.UnixMilli(), now.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// GetActiveReadingProgress returns the most recently read in-progress book.
func (s *SQLiteStore) GetActiveReadingProgress(ctx context.Context, userID string) (*domain.ReadingProgress, error) {
	query := `
		SELECT user_id, book_id, book_name, chapter_index, status, last_read_at
		FROM user_progress
		WHERE user_id = ? AND status = ?
		ORDER BY last_read_at DESC
		LIMIT 1`

	var progress domain.ReadingProgress
	var lastRead int64

	err := s.db.QueryRowContext(ctx, query, userID, domain.ProgressReading).Scan(
		&progress.UserID, &progress.BookID, &progress.BookName,
		&progress.ChapterIndex, &progress.Status, &lastRead,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan progress row: %w", err)
	}
	progress.LastReadAt = time.UnixMilli(lastRead)

	return &progress, nil
}

// UpsertReadingProgress creates or updates progress for (user, book).
func (s *SQLiteStore) UpsertReadingProgress(ctx context.Context, progress *domain.ReadingProgress) error {
	query := `
	INSERT INTO user_progress (user_id, book_id, book_name, chapter_index, status, last_read_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, book_id) DO UPDATE SET
		book_name = excluded.book_name,
		chapter_index = excluded.chapter_index,
		status = excluded.status,
		last_read_at = excluded.last_read_at`

	status := progress.Status
	if status == "" {
		status = domain.ProgressReading
	}
	lastRead := progress.LastReadAt
	if lastRead.IsZero() {
		lastRead = s.now()
	}

	return s.withRetry(ctx, "upsert_progress", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			progress.UserID, progress.BookID, progress.BookName,
			progress.ChapterIndex, status, lastRead.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("upsert progress: %w", err)
		}
		return nil
	})
}

// GetBookMeta retrieves catalogue metadata for a book.
func (s *SQLiteStore) GetBookMeta(ctx context.Context, bookID string) (*domain.Book, error) {
	query := `
		SELECT book_id, title, description, total_chapters, recommend_level
		FROM books WHERE book_id = ?`

	var book domain.Book
	err := s.db.QueryRowContext(ctx, query, bookID).Scan(
		&book.BookID, &book.Title, &book.Description, &book.TotalChapters, &book.RecommendLevel,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan book row: %w", err)
	}
	return &book, nil
}

// UpsertBook creates or updates a catalogue entry.
func (s *SQLiteStore) UpsertBook(ctx context.Context, book *domain.Book) error {
	query := `
	INSERT INTO books (book_id, title, description, total_chapters, recommend_level)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(book_id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		total_chapters = excluded.total_chapters,
		recommend_level = excluded.recommend_level`

	return s.withRetry(ctx, "upsert_book", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			book.BookID, book.Title, book.Description, book.TotalChapters, book.RecommendLevel,
		)
		if err != nil {
			return fmt.Errorf("upsert book: %w", err)
		}
		return nil
	})
}

// ListBooks returns the full catalogue ordered by level then title.
func (s *SQLiteStore) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return s.queryBooks(ctx, `
		SELECT book_id, title, description, total_chapters, recommend_level
		FROM books ORDER BY recommend_level, title`)
}

// GetRecommendedBooks returns up to limit books whose recommend level
// does not exceed levelCeiling.
func (s *SQLiteStore) GetRecommendedBooks(ctx context.Context, levelCeiling, limit int) ([]domain.Book, error) {
	return s.queryBooks(ctx, `
		SELECT book_id, title, description, total_chapters, recommend_level
		FROM books WHERE recommend_level <= ?
		ORDER BY recommend_level DESC, title
		LIMIT ?`, levelCeiling, limit)
}

func (s *SQLiteStore) queryBooks(ctx context.Context, query string, args ...any) ([]domain.Book, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close book rows", "error", closeErr)
		}
	}()

	var books []domain.Book
	for rows.Next() {
		var book domain.Book
		if err := rows.Scan(
			&book.BookID, &book.Title, &book.Description, &book.TotalChapters, &book.RecommendLevel,
		); err != nil {
			return nil, fmt.Errorf("scan book row: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}
	return books, nil
}

// GetRecentQuizResults returns up to limit quiz attempts, newest first.
func (s *SQLiteStore) GetRecentQuizResults(ctx context.Context, userID string, limit int) ([]domain.QuizResult, error) {
	query := `
		SELECT user_id, correct_count, total_questions, created_at
		FROM quiz_records WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query quiz records: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close quiz rows", "error", closeErr)
		}
	}()

	var results []domain.QuizResult
	for rows.Next() {
		var r domain.QuizResult
		var createdAt int64
		if err := rows.Scan(&r.UserID, &r.CorrectCount, &r.TotalQuestions, &createdAt); err != nil {
			return nil, fmt.Errorf("scan quiz row: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quiz records: %w", err)
	}
	return results, nil
}

// AddQuizResult records one quiz attempt.
func (s *SQLiteStore) AddQuizResult(ctx context.Context, result *domain.QuizResult) error {
	created := result.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	id := ulid.Make().String()

	return s.withRetry(ctx, "add_quiz", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO quiz_records (id, user_id, correct_count, total_questions, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			id, result.UserID, result.CorrectCount, result.TotalQuestions, created.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert quiz record: %w", err)
		}
		return nil
	})
}

// GetActivePlan returns the user's current study plan.
func (s *SQLiteStore) GetActivePlan(ctx context.Context, userID string) (*domain.StudyPlan, error) {
	query := `
		SELECT plan_json FROM study_plans
		WHERE user_id = ? AND status = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	var planJSON string
	err := s.db.QueryRowContext(ctx, query, userID, planStatusActive).Scan(&planJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan row: %w", err)
	}

	var plan domain.StudyPlan
	if err := json.Unmarshal([]byte(planJSON), &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &plan, nil
}

// SaveActivePlan stores plan as the user's only active plan.
func (s *SQLiteStore) SaveActivePlan(ctx context.Context, userID string, plan *domain.StudyPlan) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	id := ulid.Make().String()
	created := s.now().UnixMilli()

	return s.withRetry(ctx, "save_plan", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin plan tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`UPDATE study_plans SET status = ? WHERE user_id = ? AND status = ?`,
			planStatusSuperseded, userID, planStatusActive,
		); err != nil {
			return fmt.Errorf("supersede plans: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO study_plans (id, user_id, plan_json, status, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			id, userID, string(planJSON), planStatusActive, created,
		); err != nil {
			return fmt.Errorf("insert plan: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit plan tx: %w", err)
		}
		return nil
	})
}

// GetRecentNotes returns up to limit reading notes, newest first.
func (s *SQLiteStore) GetRecentNotes(ctx context.Context, userID string, limit int) ([]domain.Note, error) {
	query := `
		SELECT user_id, book_name, chapter, text, created_at
		FROM notes WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close note rows", "error", closeErr)
		}
	}()

	var notes []domain.Note
	for rows.Next() {
		var n domain.Note
		var createdAt int64
		if err := rows.Scan(&n.UserID, &n.BookName, &n.Chapter, &n.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan note row: %w", err)
		}
		n.CreatedAt = time.UnixMilli(createdAt)
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return notes, nil
}

// AddNote records a reading note.
func (s *SQLiteStore) AddNote(ctx context.Context, note *domain.Note) error {
	created := note.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	id := ulid.Make().String()

	return s.withRetry(ctx, "add_note", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO notes (id, user_id, book_name, chapter, text, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, note.UserID, note.BookName, note.Chapter, note.Text, created.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert note: %w", err)
		}
		return nil
	})
}

// AppendDialogLog stores one exchange. A missing ID or timestamp is filled in.
func (s *SQLiteStore) AppendDialogLog(ctx context.Context, entry *domain.DialogEntry) error {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	return s.withRetry(ctx, "append_dialog", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO dialogs (
				id, user_id, user_message, assistant_message, response_type,
				intent, confidence, book_name, chapter, source, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.UserID, entry.UserMessage, entry.AssistantMessage, entry.ResponseType,
			entry.Intent, entry.Confidence, entry.BookName, entry.Chapter, entry.Source,
			entry.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert dialog: %w", err)
		}
		return nil
	})
}

// RecentDialogs returns up to limit logged exchanges, newest first.
func (s *SQLiteStore) RecentDialogs(ctx context.Context, userID string, limit int) ([]domain.DialogEntry, error) {
	query := `
		SELECT id, user_id, user_message, assistant_message, response_type,
		       intent, confidence, book_name, chapter, source, created_at
		FROM dialogs WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query dialogs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close dialog rows", "error", closeErr)
		}
	}()

	var entries []domain.DialogEntry
	for rows.Next() {
		var e domain.DialogEntry
		var createdAt int64
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.UserMessage, &e.AssistantMessage, &e.ResponseType,
			&e.Intent, &e.Confidence, &e.BookName, &e.Chapter, &e.Source, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan dialog row: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dialogs: %w", err)
	}
	return entries, nil
}

var _ Repository = (*SQLiteStore)(nil)
