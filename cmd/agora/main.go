package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/agoracloud/agora/cmd/agora/cli"
	"github.com/agoracloud/agora/internal/app"
	"github.com/agoracloud/agora/internal/audit"
	audithttp "github.com/agoracloud/agora/internal/audit/http"
	"github.com/agoracloud/agora/internal/auth"
	"github.com/agoracloud/agora/internal/authz"
	"github.com/agoracloud/agora/internal/platform/db"
	"github.com/agoracloud/agora/internal/proxy"
	"github.com/agoracloud/agora/internal/users"
	"github.com/agoracloud/agora/internal/workspaces"
	"github.com/agoracloud/agora/jobs"
	"github.com/agoracloud/agora/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		jobsCLI := cli.NewJobsCLI(cfg.RedisOpts(), cfg.AuditRetentionDays)
		err := cli.RunJobs(ctx, jobsCLI, os.Args[2:], os.Stdout)
		_ = jobsCLI.Close()
		if err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := migrateCmd(ctx, cfg, logger, os.Args[2:]); err != nil {
			logger.Error("migrate command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("agora", slog.Any("error", err))
		os.Exit(1)
	}
}

func migrateCmd(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	dir := db.Up
	if len(args) > 0 {
		dir = db.Direction(args[0])
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return db.Migrate(pool, migrations.FS, dir, logger)
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	c, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("close container", slog.Any("error", err))
		}
	}()

	if cfg.PGAutoMigrate {
		if err := db.Migrate(c.Pool, migrations.FS, db.Up, logger); err != nil {
			return err
		}
	}
	if err := c.EnsureAdmin(ctx); err != nil {
		return err
	}

	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		if err := c.RunBus(ctx); err != nil {
			logger.Error("event bus", slog.Any("error", err))
		}
	}()

	guard := authz.Middleware{Service: c.Authz, Logger: logger}
	audited := audit.Middleware{Recorder: c.Recorder}
	permissions := authz.NewHandler(c.Authz, logger)
	inspector := asynq.NewInspector(cfg.RedisOpts())
	defer inspector.Close()

	resolver := proxy.DNSResolver{
		Scheme:        cfg.ProxyScheme,
		Prefix:        cfg.ProxyPrefix,
		ClusterDomain: cfg.ProxyClusterDomain,
		Port:          cfg.ProxyPort,
	}

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Metrics:           c.Metrics,
		Authenticate:      auth.Middleware{Tokens: c.Tokens, Logger: logger}.Authenticate,
		Guard:             guard,
		Audit:             audited,
		AuthHandler:       auth.NewHandler(logger, c.Users, c.Tokens, cfg.IsProduction()),
		UsersHandler:      users.NewHandler(c.Users, guard, audited, permissions, logger),
		WorkspacesHandler: workspaces.NewHandler(c.Workspaces, guard, audited, permissions, logger),
		AuditHandler:      audithttp.NewHandler(logger, audit.NewService(c.AuditRepo)),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Proxy: proxy.NewRouter(c.Deployments, c.Authz, resolver, proxy.Config{
			CacheSize: cfg.ProxyCacheSize,
			CacheTTL:  cfg.ProxyCacheTTL,
		}, c.Metrics, logger).WithAuditor(c.Recorder),
		Readiness: c.Readiness(),
	})

	// No WriteTimeout: proxied streams and WebSockets stay open.
	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.AppReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("events", cfg.EventTransport))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.AppShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	<-busDone
	return nil
}
