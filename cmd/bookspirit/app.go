package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/bookspirit/internal/catalog"
	"github.com/ashureev/bookspirit/internal/config"
	"github.com/ashureev/bookspirit/internal/coze"
	"github.com/ashureev/bookspirit/internal/dialog"
	"github.com/ashureev/bookspirit/internal/llm"
	"github.com/ashureev/bookspirit/internal/store"
)

// app holds the wired dialog stack shared by serve, ask and mcp.
type app struct {
	cfg       *config.Config
	repo      *store.SQLiteStore
	catalog   *catalog.Recommender
	dialogLog dialog.DialogLogger
	engine    *dialog.Engine
	logger    *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	repo, err := store.NewSQLite(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.repo = repo

	rec, err := catalog.New(repo, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.catalog = rec
	if err := rec.Refresh(ctx); err != nil {
		logger.Warn("Catalog index refresh failed, recommendations use the store", "error", err)
	}

	a.dialogLog = dialog.NoopLogger{}
	if cfg.DialogLog.Enabled {
		sl, err := dialog.NewStoreLogger(repo, dialog.LogConfig{
			QueueSize:    cfg.DialogLog.QueueSize,
			WriteTimeout: cfg.DialogLog.WriteTimeout,
			Dir:          cfg.DialogLog.Dir,
		}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("initialize dialog logger: %w", err)
		}
		a.dialogLog = sl
	}

	var agent *coze.Agent
	if cfg.CozeEnabled() {
		api := coze.NewHTTPClient(cfg.Coze.BaseURL, cfg.Coze.APIToken, cfg.Coze.RequestTimeout)
		agent = coze.NewAgent(api, coze.AgentConfig{
			BotID:        cfg.Coze.BotID,
			PollInterval: cfg.Coze.PollInterval,
			MaxPolls:     cfg.Coze.MaxPolls,
			Logger:       logger,
		})
	}
	if !cfg.AIEnabled() {
		logger.Warn("AI_API_KEY not set, generation falls back to canned replies")
	}

	engine, err := dialog.NewEngine(dialog.Deps{
		Reader: repo,
		Completer: llm.NewClient(llm.Config{
			APIKey:  cfg.AI.APIKey,
			BaseURL: cfg.AI.BaseURL,
			Model:   cfg.AI.Model,
			Timeout: cfg.AI.Timeout,
		}, logger),
		Coze:           agent,
		Recommender:    rec,
		DialogLog:      a.dialogLog,
		Logger:         logger,
		CozeBudget:     cfg.Coze.Budget,
		ContextTimeout: cfg.ContextTimeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = engine

	logger.Info("Dialog engine ready", "rag", agent != nil, "ai", cfg.AIEnabled(), "dialog_log", cfg.DialogLog.Enabled)
	return a, nil
}

// Close drains the dialog log before closing the database it writes to.
func (a *app) Close() {
	if a.dialogLog != nil {
		if err := a.dialogLog.Close(); err != nil {
			a.logger.Error("Failed to close dialog logger", "error", err)
		}
	}
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			a.logger.Error("Failed to close catalog index", "error", err)
		}
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.logger.Error("Failed to close repository", "error", err)
		}
	}
}
