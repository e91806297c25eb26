package main

import (
	"context"
	"fmt"
	"net/http"

	tgbot "github.com/go-telegram/bot"
	"github.com/spf13/cobra"

	"github.com/edgard/inboxpilot/internal/bot"
	"github.com/edgard/inboxpilot/internal/bot/handlers"
	"github.com/edgard/inboxpilot/internal/bot/tasks"
	"github.com/edgard/inboxpilot/internal/buffer"
	"github.com/edgard/inboxpilot/internal/followup"
	"github.com/edgard/inboxpilot/internal/httpapi"
	"github.com/edgard/inboxpilot/internal/logger"
	"github.com/edgard/inboxpilot/internal/notify"
	"github.com/edgard/inboxpilot/internal/pipeline"
	"github.com/edgard/inboxpilot/internal/report"
	"github.com/edgard/inboxpilot/internal/sandbox"
	"github.com/edgard/inboxpilot/internal/telegram"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram channel, the job scheduler and the ops API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context(), configPath)
	},
}

func serve(ctx context.Context, path string) error {
	c, err := setup(ctx, path)
	if err != nil {
		return err
	}
	defer c.Close()
	cfg, log := c.cfg, c.log

	var notifier notify.Notifier = notify.Noop{}
	if cfg.NATS.URL != "" {
		n, err := notify.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			log.Error("Failed to connect to NATS", "error", err)
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer n.Close()
		notifier = n
	} else {
		log.Warn("NATS not configured, escalation alerts are disabled")
	}

	// The buffer is built before the engine so the inbound handler can hold it;
	// nothing is flushed until the scheduler starts.
	var engine *pipeline.Engine
	buf := buffer.New(buffer.Config{
		Debounce:    cfg.Buffer.Debounce,
		MaxWait:     cfg.Buffer.MaxWait,
		Concurrency: cfg.Buffer.FlushConcurrency,
	}, func(ctx context.Context, e buffer.Entry) error {
		return engine.FlushBuffered(ctx, e)
	}, log)

	hDeps := handlers.HandlerDeps{
		Logger: log,
		Config: cfg,
		Store:  c.store,
		Buffer: buf,
	}

	var (
		tg       *tgbot.Bot
		listener bot.Listener
		sender   pipeline.Sender
	)
	if cfg.Telegram.Token != "" {
		tg, err = telegram.NewTelegramBot(cfg.Telegram.Token, log,
			tgbot.WithMiddlewares(logger.Middleware(log)),
			tgbot.WithDefaultHandler(handlers.NewInboundHandler(hDeps)),
		)
		if err != nil {
			return err
		}
		listener = tg
		sender = telegram.NewSender(tg, log)
	} else {
		log.Warn("Telegram token not configured, the channel is disabled")
	}

	pipeCfg := pipelineConfig(cfg)
	engine = pipeline.New(pipeline.Deps{
		Store:    c.store,
		LLM:      c.client,
		Sender:   sender,
		Notifier: notifier,
	}, pipeCfg, log)

	followups := followup.New(c.store, sender, cfg.FollowUp.BatchSize, log)
	followups.SetLocker(engine)

	taskMap := tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:             log,
		Store:              c.store,
		FollowUps:          followups,
		Buffer:             buf,
		Reports:            report.New(c.store, log),
		FollowUpStaleAfter: cfg.FollowUp.StaleAfter,
		FollowUpRetention:  cfg.FollowUp.Retention,
	})
	scheduler := bot.NewScheduler(log, cfg.Scheduler, taskMap)

	if tg != nil {
		hDeps.Resolver = engine
		hDeps.Jobs = scheduler
		if err := telegram.RegisterHandlers(tg, log, handlers.RegisterAllCommands(hDeps)); err != nil {
			log.Error("Failed to register Telegram handlers", "error", err)
			return err
		}
	}

	var server *http.Server
	if cfg.HTTP.Enabled {
		server = httpapi.NewServer(cfg.HTTP.Addr, httpapi.Deps{
			Store:    c.store,
			Jobs:     scheduler,
			Resolver: engine,
			Sandbox:  sandbox.NewRunner(c.store, c.client, pipeCfg, log),
		}, log)
	}

	runErr := bot.NewBot(log, listener, scheduler, server).Run(ctx)

	// ctx is already cancelled here; pending bursts get a fresh bounded one.
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.CycleTimeout)
	buf.Drain(drainCtx)
	cancel()

	if runErr != nil {
		log.Error("Application run failed", "error", runErr)
		return runErr
	}
	log.Info("Application shutting down gracefully")
	return nil
}
