package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-portal/internal/auth"
	jobmetrics "github.com/odyssey-erp/odyssey-portal/internal/jobs"
	"github.com/odyssey-erp/odyssey-portal/internal/observability"
	"github.com/odyssey-erp/odyssey-portal/internal/platform/broker"
	"github.com/odyssey-erp/odyssey-portal/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-portal/internal/platform/db"
	"github.com/odyssey-erp/odyssey-portal/internal/policy"
	"github.com/odyssey-erp/odyssey-portal/internal/rbac"
	"github.com/odyssey-erp/odyssey-portal/internal/roles"
	"github.com/odyssey-erp/odyssey-portal/internal/shared"
	"github.com/odyssey-erp/odyssey-portal/internal/users"
	"github.com/odyssey-erp/odyssey-portal/jobs"
)

// Runtime holds the wired services shared by the portal binaries.
type Runtime struct {
	Config  *Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics

	RBAC     *rbac.Service
	Users    *users.Service
	Roles    *roles.Service
	Auth     *auth.Service
	Sessions *shared.SessionManager
	Audit    *shared.AuditLogger
	Policies policy.Middleware

	producer *broker.Producer
}

// Bootstrap connects to Postgres, Redis and optionally Kafka, then builds
// the services on top of them.
func Bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, PingAttempts: 10})
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		pool.Close()
		return nil, err
	}

	rt := &Runtime{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Redis:   redisClient,
		Metrics: observability.NewMetrics(),
	}

	rbacCfg := rbac.ServiceConfig{Logger: logger}
	if cfg.SyncLock {
		rbacCfg.Locker = contentionCounter{
			inner:   rbac.NewRedisLocker(redisClient, cfg.SyncLockTTL),
			metrics: rt.Metrics,
		}
	}
	if cfg.EventsEnabled() {
		rt.producer = broker.NewProducer(logger, cfg.KafkaBrokers, cfg.KafkaRoleTopic)
		rbacCfg.Publisher = rbac.NewBrokerPublisher(rt.producer)
	}
	rt.RBAC = rbac.NewService(rbac.NewRepository(pool), rbacCfg)
	rt.Users = users.NewService(users.NewRepository(pool))
	rt.Roles = roles.NewService(roles.NewRepository(pool))
	rt.Auth = auth.NewService(cfg.JWTSecret, cfg.JWTIssuer, rt.Users)
	rt.Sessions = shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	rt.Audit = shared.NewAuditLogger(pool)
	rt.Policies = NewPolicies(cfg, logger, rt.RBAC, rt.Users, rt.Metrics)

	return rt, nil
}

// NewPolicies assembles the convention resolver, evaluator and authorizer.
func NewPolicies(cfg *Config, logger *slog.Logger, checker policy.PermissionChecker, finder policy.UserFinder, recorder policy.DecisionRecorder) policy.Middleware {
	convention := cfg.PolicyConvention()
	resolver := policy.NewConventionResolver(convention, policy.NewCatalog())
	evaluator := policy.NewEvaluator(checker, finder, logger)
	return policy.Middleware{
		Authorizer: policy.NewAuthorizer(resolver, evaluator, logger),
		Logger:     logger,
		Recorder:   recorder,
		Convention: convention,
	}
}

// AsynqRedisOpt returns the queue connection settings.
func (rt *Runtime) AsynqRedisOpt() asynq.RedisClientOpt {
	return rt.Config.RedisOptions().QueueOpt()
}

// RoleSyncJob builds the asynq handler for role synchronization.
func (rt *Runtime) RoleSyncJob() *jobs.RoleSyncJob {
	return jobs.NewRoleSyncJob(rt.RBAC, rt.Logger, jobmetrics.NewMetrics(rt.Metrics.Registerer()))
}

// Router builds the HTTP handler. inspector may be nil.
func (rt *Runtime) Router(inspector jobs.QueueInspector) http.Handler {
	return NewRouter(RouterParams{
		Logger:         rt.Logger,
		Config:         rt.Config,
		AuthMiddleware: auth.NewMiddleware(rt.Logger, rt.Auth, rt.Sessions),
		AuthHandler:    auth.NewHandler(rt.Logger, rt.Auth, rt.Sessions),
		UsersHandler:   users.NewHandler(rt.Logger, rt.Users, rt.Policies),
		RolesHandler:   roles.NewHandler(rt.Logger, rt.Roles, rt.Policies, rt.Audit),
		RBACHandler:    rbac.NewHandler(rt.Logger, rt.RBAC, rt.Policies, rt.Audit),
		JobHandler:     jobs.NewHandler(inspector, rt.Logger),
		Policies:       rt.Policies,
		Metrics:        rt.Metrics,
		Checks: map[string]HealthCheck{
			"postgres": rt.Pool.Ping,
			"redis":    cache.Ping(rt.Redis),
		},
	})
}

// Close releases connections in reverse order of creation.
func (rt *Runtime) Close() {
	if rt.producer != nil {
		rt.producer.Close()
	}
	if err := rt.Redis.Close(); err != nil {
		rt.Logger.Warn("redis close", slog.Any("error", err))
	}
	rt.Pool.Close()
}

// contentionCounter counts lock acquisitions refused because another
// update for the same user is in flight.
type contentionCounter struct {
	inner   rbac.Locker
	metrics *observability.Metrics
}

func (c contentionCounter) Lock(ctx context.Context, userID int64) (func(), error) {
	unlock, err := c.inner.Lock(ctx, userID)
	if errors.Is(err, rbac.ErrConcurrentUpdate) {
		c.metrics.RecordLockContention()
	}
	return unlock, err
}
