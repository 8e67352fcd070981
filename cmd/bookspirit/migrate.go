package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/store"
)

var migrateSeed bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Create or upgrade the SQLite schema.

With --seed, a small demo catalogue and a "demo" reader halfway through
西游记 are written as well. Seeding is idempotent.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateSeed, "seed", false, "Load the demo catalogue and reader")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	repo, err := store.NewSQLite(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	out := cmd.OutOrStdout()
	printSuccess(out, "Schema up to date: %s", cfg.DBPath)

	if !migrateSeed {
		return nil
	}
	if err := seed(ctx, repo, time.Now()); err != nil {
		return err
	}
	printSuccess(out, "Seeded %d books and reader %q", len(demoBooks), demoUserID)
	return nil
}

const demoUserID = "demo"

var demoBooks = []domain.Book{
	{BookID: "xiyouji", Title: "西游记", Description: "唐僧师徒四人西天取经，一路降妖除魔的神话冒险故事。", TotalChapters: 100, RecommendLevel: 3},
	{BookID: "caofangzi", Title: "草房子", Description: "油麻地小学里桑桑和伙伴们的童年成长故事。", TotalChapters: 9, RecommendLevel: 2},
	{BookID: "xiaowangzi", Title: "小王子", Description: "来自B612星球的小王子讲述友谊、爱与责任的童话。", TotalChapters: 27, RecommendLevel: 1},
	{BookID: "hailun", Title: "假如给我三天光明", Description: "海伦·凯勒克服盲聋困境、热爱生活的自传。", TotalChapters: 23, RecommendLevel: 3},
	{BookID: "chaoxi", Title: "朝花夕拾", Description: "鲁迅回忆童年与青年时代的散文集。", TotalChapters: 10, RecommendLevel: 4},
	{BookID: "sanguo", Title: "三国演义", Description: "魏蜀吴三国群雄争霸的历史演义小说。", TotalChapters: 120, RecommendLevel: 5},
	{BookID: "kunchongji", Title: "昆虫记", Description: "法布尔观察昆虫生活习性的科普名著。", TotalChapters: 30, RecommendLevel: 2},
}

func seed(ctx context.Context, repo store.Repository, now time.Time) error {
	for i := range demoBooks {
		if err := repo.UpsertBook(ctx, &demoBooks[i]); err != nil {
			return fmt.Errorf("seed book %s: %w", demoBooks[i].BookID, err)
		}
	}

	lastCheckin := now.Add(-24 * time.Hour)
	if err := repo.UpsertUserProfile(ctx, &domain.UserProfile{
		UserID:          demoUserID,
		Nickname:        "小书虫",
		Level:           3,
		Streak:          4,
		Points:          120,
		LastCheckinDate: &lastCheckin,
	}); err != nil {
		return fmt.Errorf("seed reader: %w", err)
	}

	if err := repo.UpsertReadingProgress(ctx, &domain.ReadingProgress{
		UserID:       demoUserID,
		BookID:       "xiyouji",
		BookName:     "西游记",
		ChapterIndex: 49,
		Status:       domain.ProgressReading,
		LastReadAt:   now,
	}); err != nil {
		return fmt.Errorf("seed progress: %w", err)
	}
	return nil
}
