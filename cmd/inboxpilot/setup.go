package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/edgard/inboxpilot/internal/config"
	"github.com/edgard/inboxpilot/internal/database"
	"github.com/edgard/inboxpilot/internal/gemini"
	"github.com/edgard/inboxpilot/internal/llm"
	"github.com/edgard/inboxpilot/internal/logger"
	"github.com/edgard/inboxpilot/internal/openai"
	"github.com/edgard/inboxpilot/internal/pipeline"
)

// core holds what both serve and sandbox need.
type core struct {
	cfg    *config.Config
	log    *slog.Logger
	db     *sqlx.DB
	store  database.Store
	client llm.Client
}

func (c *core) Close() {
	database.CloseDB(c.db, c.log)
}

// setup loads the configuration and opens the database and the LLM client.
func setup(ctx context.Context, path string) (*core, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		slog.Error("Failed to load configuration", "path", path, "error", err)
		return nil, err
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path, log)
	if err != nil {
		log.Error("Failed to open database", "path", cfg.Database.Path, "error", err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	client, err := newLLMClient(ctx, cfg.LLM, log)
	if err != nil {
		database.CloseDB(db, log)
		log.Error("Failed to initialize LLM client", "provider", cfg.LLM.Provider, "error", err)
		return nil, err
	}

	return &core{cfg: cfg, log: log, db: db, store: database.NewStore(db, log), client: client}, nil
}

// newLLMClient picks the provider. Without credentials every component runs
// on its fallback path.
func newLLMClient(ctx context.Context, cfg config.LLMConfig, log *slog.Logger) (llm.Client, error) {
	if cfg.Provider == "none" || cfg.APIKey == "" {
		log.Warn("No LLM provider configured, replies will use fallbacks", "provider", cfg.Provider)
		return llm.Disabled{}, nil
	}
	if cfg.Provider == "openai" {
		client, err := openai.New(cfg, log)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	client, err := gemini.NewClient(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		HistoryLimit:        cfg.Engine.HistoryLimit,
		CycleTimeout:        cfg.Engine.CycleTimeout,
		LLMTimeout:          cfg.LLM.Timeout,
		KnowledgeTopK:       cfg.Engine.KnowledgeTopK,
		KnowledgeMaxTokens:  cfg.Engine.KnowledgeMaxTokens,
		RepetitionThreshold: cfg.Engine.RepetitionThreshold,
		RepetitionWords:     cfg.Engine.RepetitionWords,
		ReplyWindow:         cfg.FollowUp.ReplyWindow,
		LeadTime:            cfg.FollowUp.LeadTime,
	}
}
