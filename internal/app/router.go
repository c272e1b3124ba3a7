package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/agoracloud/agora/internal/audit"
	audithttp "github.com/agoracloud/agora/internal/audit/http"
	"github.com/agoracloud/agora/internal/auth"
	"github.com/agoracloud/agora/internal/authz"
	"github.com/agoracloud/agora/internal/observability"
	"github.com/agoracloud/agora/internal/platform/httpx"
	"github.com/agoracloud/agora/internal/proxy"
	"github.com/agoracloud/agora/internal/users"
	"github.com/agoracloud/agora/internal/workspaces"
	"github.com/agoracloud/agora/jobs"
)

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Metrics           *observability.Metrics
	Authenticate      func(http.Handler) http.Handler
	Guard             authz.Middleware
	Audit             audit.Middleware
	AuthHandler       *auth.Handler
	UsersHandler      *users.Handler
	WorkspacesHandler *workspaces.Handler
	AuditHandler      *audithttp.Handler
	JobHandler        *jobs.Handler
	Proxy             *proxy.Router
	Readiness         map[string]ReadinessCheck
}

// NewRouter constructs the chi.Router with Agora defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	mwCfg := MiddlewareConfig{Logger: params.Logger, Config: params.Config, Metrics: params.Metrics}

	r := chi.NewRouter()
	for _, mw := range BaseStack(mwCfg) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", readinessHandler(params.Readiness, params.Logger))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		for _, mw := range APIStack(mwCfg) {
			r.Use(mw)
		}
		if params.AuthHandler != nil {
			r.Route("/auth", params.AuthHandler.MountRoutes)
		}
		r.Group(func(r chi.Router) {
			r.Use(params.Authenticate)
			if params.UsersHandler != nil {
				r.Route("/users", params.UsersHandler.MountRoutes)
			}
			if params.WorkspacesHandler != nil {
				r.Route("/workspaces", params.WorkspacesHandler.MountRoutes)
			}
			if params.AuditHandler != nil {
				r.Route("/audit", func(r chi.Router) {
					r.Use(params.Audit.Audit(authz.ReadAuditLog), params.Guard.Require(authz.ReadAuditLog))
					params.AuditHandler.MountRoutes(r)
				})
			}
			if params.JobHandler != nil {
				r.Route("/jobs", func(r chi.Router) {
					r.Use(params.Audit.Audit(authz.ManageUsers), params.Guard.Require(authz.ManageUsers))
					params.JobHandler.MountRoutes(r)
				})
			}
		})
	})

	if params.Proxy != nil {
		r.Route("/proxy", func(r chi.Router) {
			r.Use(params.Authenticate)
			params.Proxy.MountRoutes(r)
		})
	}

	return r
}

type readinessReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func readinessHandler(checks map[string]ReadinessCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		results := make(map[string]string, len(checks))
		errs := make(map[string]error, len(checks))
		var g errgroup.Group
		type outcome struct {
			name string
			err  error
		}
		out := make(chan outcome, len(checks))
		for name, check := range checks {
			g.Go(func() error {
				out <- outcome{name: name, err: check(ctx)}
				return nil
			})
		}
		_ = g.Wait()
		close(out)
		for o := range out {
			if o.err != nil {
				results[o.name] = "unavailable"
				errs[o.name] = o.err
				continue
			}
			results[o.name] = "ok"
		}

		report := readinessReport{Status: "ok", Checks: results}
		status := http.StatusOK
		if len(errs) > 0 {
			report.Status = "degraded"
			status = http.StatusServiceUnavailable
			for name, err := range errs {
				logger.Warn("readiness check failed", slog.String("check", name), slog.Any("error", err))
			}
		}
		httpx.JSON(w, status, report)
	}
}
