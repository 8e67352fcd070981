package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/store"
)

const (
	recentQuizWindow    = 5
	defaultBookName     = "当前读物"
	unknownChapter      = "当前章节"
	defaultReadingSpeed = "每天约1回"
	unknownReadingSpeed = "未知"
)

// Aggregator builds the per-request UserContext snapshot.
type Aggregator struct {
	reader  store.Reader
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewAggregator creates an Aggregator. A zero timeout disables the bound.
func NewAggregator(reader store.Reader, timeout time.Duration, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{reader: reader, timeout: timeout, now: time.Now, logger: logger}
}

// Build never fails. Missing records yield neutral defaults and a store
// error yields the degraded snapshot. Explicit bookName and chapter from the
// client win over stored progress.
func (a *Aggregator) Build(ctx context.Context, userID, bookName, chapter string) domain.UserContext {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	uc, err := a.build(ctx, userID, bookName, chapter)
	if err != nil {
		a.logger.Warn("Context aggregation failed, using degraded snapshot", "user_id", userID, "error", err)
		return degradedContext(userID, bookName, chapter)
	}
	return uc
}

func (a *Aggregator) build(ctx context.Context, userID, bookName, chapter string) (domain.UserContext, error) {
	var (
		profile  *domain.UserProfile
		progress *domain.ReadingProgress
		quizzes  []domain.QuizResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profile, err = a.reader.GetUserProfile(gctx, userID)
		if err != nil {
			return fmt.Errorf("user profile: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		progress, err = a.reader.GetActiveReadingProgress(gctx, userID)
		if err != nil {
			return fmt.Errorf("reading progress: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		quizzes, err = a.reader.GetRecentQuizResults(gctx, userID, recentQuizWindow)
		if err != nil {
			return fmt.Errorf("quiz results: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.UserContext{}, err
	}

	uc := domain.UserContext{
		UserID:       userID,
		Level:        1,
		ReadingSpeed: defaultReadingSpeed,
		QuizAccuracy: QuizAccuracy(quizzes),
	}

	if profile != nil {
		if profile.Level > 0 {
			uc.Level = profile.Level
		}
		uc.Streak = profile.Streak
		uc.Points = profile.Points
		uc.DaysSinceCheckin = profile.DaysSinceCheckin(a.now())
	}

	storedBook := ""
	if progress != nil {
		uc.ChapterIndex = progress.ChapterIndex
		storedBook = progress.BookName
		if progress.BookID != "" {
			book, err := a.reader.GetBookMeta(ctx, progress.BookID)
			if err != nil {
				return domain.UserContext{}, fmt.Errorf("book meta: %w", err)
			}
			if book != nil {
				uc.TotalChapters = book.TotalChapters
				if storedBook == "" {
					storedBook = book.Title
				}
			}
		}
	}

	uc.BookName = firstNonEmpty(bookName, storedBook, defaultBookName)
	uc.Chapter = firstNonEmpty(chapter, fmt.Sprintf("第%d回", uc.ChapterIndex+1))
	return uc, nil
}

func degradedContext(userID, bookName, chapter string) domain.UserContext {
	return domain.UserContext{
		UserID:       userID,
		BookName:     firstNonEmpty(bookName, defaultBookName),
		Chapter:      firstNonEmpty(chapter, unknownChapter),
		Level:        1,
		ReadingSpeed: unknownReadingSpeed,
	}
}

// QuizAccuracy is the rounded percentage of correct answers across results.
// Records without a positive question total are skipped rather than
// counted as single-question attempts.
func QuizAccuracy(results []domain.QuizResult) int {
	var correct, total int
	for _, r := range results {
		if r.TotalQuestions <= 0 {
			continue
		}
		correct += max(r.CorrectCount, 0)
		total += r.TotalQuestions
	}
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
