package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/agoracloud/agora/internal/app"
	"github.com/agoracloud/agora/internal/audit"
	"github.com/agoracloud/agora/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	c, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("init container", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("close container", slog.Any("error", err))
		}
	}()

	if cfg.EventTransport != app.TransportAsynq {
		logger.Info("events are delivered in-process, worker only runs scheduled jobs")
	}

	events := jobs.NewEventTaskHandler(c.Dispatcher, logger)
	prune := audit.NewPruneJob(c.AuditRepo, logger, c.JobMetrics)

	var cron []jobs.CronRegistration
	if cfg.AuditRetentionDays > 0 {
		pruneTask, err := audit.NewPruneTask(cfg.AuditRetentionDays)
		if err != nil {
			logger.Error("build prune task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.AuditPruneCron,
			Task:    pruneTask,
			Options: []asynq.Option{asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.RedisOpts(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskEventDeliver, Handler: events.Handle},
			{Type: audit.TaskPrune, Handler: prune.Handle},
		},
		Cron:            cron,
		ErrorHandler:    events.ErrorHandler(),
		ShutdownTimeout: cfg.AppShutdownGrace,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
