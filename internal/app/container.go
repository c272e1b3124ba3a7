package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/agoracloud/agora/internal/audit"
	"github.com/agoracloud/agora/internal/auth"
	"github.com/agoracloud/agora/internal/authz"
	"github.com/agoracloud/agora/internal/deployments"
	"github.com/agoracloud/agora/internal/events"
	jobmetrics "github.com/agoracloud/agora/internal/jobs"
	"github.com/agoracloud/agora/internal/observability"
	"github.com/agoracloud/agora/internal/platform/cache"
	"github.com/agoracloud/agora/internal/platform/db"
	"github.com/agoracloud/agora/internal/users"
	"github.com/agoracloud/agora/internal/workspaces"
	"github.com/agoracloud/agora/jobs"
)

// Container holds the services shared by the API server and the worker.
type Container struct {
	Config     *Config
	Logger     *slog.Logger
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Metrics    *observability.Metrics
	JobMetrics *jobmetrics.Metrics

	Dispatcher  *events.Dispatcher
	Publisher   events.Publisher
	Bus         *events.Bus
	QueueClient *jobs.Client

	Authz       *authz.Service
	Users       *users.Service
	Workspaces  *workspaces.Service
	Deployments *deployments.PostgresRegistry
	Tokens      *auth.TokenStore
	AuditRepo   *audit.PostgresRepository
	Recorder    *audit.Recorder
}

// NewContainer connects to Postgres and Redis and builds every service. The
// event transport follows cfg.EventTransport: the in-process bus must be
// started with RunBus, asynq deliveries happen in the worker.
func NewContainer(ctx context.Context, cfg *Config, logger *slog.Logger) (*Container, error) {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, err
	}
	rdb, err := cache.New(ctx, cache.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		pool.Close()
		return nil, err
	}

	c := &Container{Config: cfg, Logger: logger, Pool: pool, Redis: rdb}
	c.Metrics = observability.NewMetrics()
	c.JobMetrics = jobmetrics.NewMetrics(c.Metrics.Registerer())
	c.Dispatcher = events.NewDispatcher(events.NewRedisDeduper(rdb, cfg.EventDedupTTL), c.JobMetrics, logger)

	switch cfg.EventTransport {
	case TransportAsynq:
		client, err := jobs.NewClient(cfg.RedisOpts())
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("app: queue client: %w", err)
		}
		c.QueueClient = client
		c.Publisher = jobs.NewEventPublisher(client, c.Dispatcher, cfg.EventMaxRetry)
	default:
		c.Bus = events.NewBus(c.Dispatcher, events.BusConfig{
			Partitions: cfg.EventBusShards,
			MaxRetries: uint64(cfg.EventMaxRetry),
		}, logger)
		c.Publisher = c.Bus
	}

	c.Authz = authz.NewService(authz.NewPostgresStore(pool), logger)
	c.Users = users.NewService(users.NewRepository(pool), c.Publisher, logger)
	c.Workspaces = workspaces.NewService(workspaces.NewPostgresRepository(pool), c.Authz, c.Users, c.Publisher, logger)
	c.Deployments = deployments.NewPostgresRegistry(pool)
	c.Tokens = auth.NewTokenStore(rdb, cfg.TokenTTL)
	c.AuditRepo = audit.NewPostgresRepository(pool)
	c.Recorder = audit.NewRecorder(c.AuditRepo, logger, cfg.AuditWriteTimeout)

	c.registerConsumers()
	return c, nil
}

// registerConsumers subscribes every event consumer. Both binaries register
// the same set: the API needs the subscription names to enqueue deliveries,
// the worker to run them.
func (c *Container) registerConsumers() {
	authz.NewConsumer(c.Authz, c.Logger).WithDirectory(c.Users, c.Workspaces).Register(c.Dispatcher)
	workspaces.NewConsumer(c.Workspaces, c.Logger).Register(c.Dispatcher)
	deployments.NewConsumer(c.Deployments, c.Logger).Register(c.Dispatcher)
	auth.NewConsumer(c.Tokens, c.Logger).Register(c.Dispatcher)
}

// RunBus drives the in-process bus until ctx ends. It returns immediately
// when events travel through asynq.
func (c *Container) RunBus(ctx context.Context) error {
	if c.Bus == nil {
		return nil
	}
	return c.Bus.Run(ctx)
}

// EnsureAdmin creates the bootstrap super admin when configured.
func (c *Container) EnsureAdmin(ctx context.Context) error {
	if c.Config.AdminEmail == "" {
		return nil
	}
	_, err := c.Users.EnsureAdmin(ctx, c.Config.AdminEmail, c.Config.AdminPassword)
	return err
}

// Readiness returns the dependency checks served on /readyz.
func (c *Container) Readiness() map[string]ReadinessCheck {
	return map[string]ReadinessCheck{
		"postgres": func(ctx context.Context) error { return c.Pool.Ping(ctx) },
		"redis":    func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() },
	}
}

// Close waits for pending audit writes and releases connections.
func (c *Container) Close() error {
	if c.Recorder != nil {
		c.Recorder.Wait()
	}
	var errs []error
	if c.QueueClient != nil {
		errs = append(errs, c.QueueClient.Close())
	}
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
	return errors.Join(errs...)
}
