package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/agoracloud/agora/internal/audit"
	"github.com/agoracloud/agora/internal/auth"
	"github.com/agoracloud/agora/internal/authz"
	"github.com/agoracloud/agora/internal/deployments"
	"github.com/agoracloud/agora/internal/observability"
	"github.com/agoracloud/agora/internal/platform/httpx"
	"github.com/agoracloud/agora/internal/shared"
)

// DeploymentParam is the chi route parameter carrying the deployment id.
const DeploymentParam = "deploymentID"

// ErrDeploymentNotRunning is returned for deployments outside the Running
// state. It is reported before any backend connection is attempted.
var ErrDeploymentNotRunning = fmt.Errorf("%w: deployment not running", httpx.ErrConflict)

// AccessChecker decides whether a user may act inside a workspace.
type AccessChecker interface {
	Can(ctx context.Context, userID string, required authz.ActionSet, workspaceID string) (authz.Decision, error)
}

// Auditor stores audit entries.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

// Config tunes the router.
type Config struct {
	CacheSize     int
	CacheTTL      time.Duration
	Transport     http.RoundTripper
	FlushInterval time.Duration
}

// Router forwards HTTP requests and WebSocket upgrades to deployments.
type Router struct {
	registry deployments.Registry
	access   AccessChecker
	resolver Resolver
	proxy    *httputil.ReverseProxy
	cache    *expirable.LRU[string, deployments.Deployment]
	lookups  singleflight.Group
	metrics  *observability.Metrics
	auditor  Auditor
	logger   *slog.Logger
}

type targetContextKey struct{}

type target struct {
	url    *url.URL
	prefix string
}

// NewRouter constructs a Router.
func NewRouter(registry deployments.Registry, access AccessChecker, resolver Resolver, cfg Config, metrics *observability.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Second
	}
	rt := &Router{
		registry: registry,
		access:   access,
		resolver: resolver,
		cache:    expirable.NewLRU[string, deployments.Deployment](cfg.CacheSize, nil, cfg.CacheTTL),
		metrics:  metrics,
		logger:   logger,
	}
	rt.proxy = &httputil.ReverseProxy{
		Rewrite:       rt.rewrite,
		Transport:     cfg.Transport,
		FlushInterval: cfg.FlushInterval,
		ErrorHandler:  rt.backendError,
	}
	return rt
}

// WithAuditor records an entry for every proxied request, denied or not.
func (rt *Router) WithAuditor(a Auditor) *Router {
	rt.auditor = a
	return rt
}

// MountRoutes registers the proxy routes. The caller supplies authentication.
func (rt *Router) MountRoutes(r chi.Router) {
	r.Handle("/{"+DeploymentParam+"}", rt)
	r.Handle("/{"+DeploymentParam+"}/*", rt)
}

// ServeHTTP admits the request and forwards it to the deployment.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rt.auditor == nil {
		rt.serve(w, r)
		return
	}
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	workspaceID, upgraded := rt.serve(ww, r)
	status := ww.Status()
	if status == 0 && upgraded {
		// the backend's 101 is written on the hijacked connection
		status = http.StatusSwitchingProtocols
	}
	rt.auditor.Record(r.Context(), audit.NewEntry(r, status, workspaceID, authz.ProxyDeployment))
}

// serve returns the deployment's workspace once it is known and whether the
// request was forwarded as an upgrade.
func (rt *Router) serve(w http.ResponseWriter, r *http.Request) (workspaceID string, upgraded bool) {
	id := chi.URLParam(r, DeploymentParam)
	if err := httpx.ValidateID(DeploymentParam, id); err != nil {
		rt.metrics.ProxyOutcome("invalid")
		httpx.RespondError(w, err)
		return "", false
	}
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		rt.metrics.ProxyOutcome("unauthorized")
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return "", false
	}
	dep, err := rt.lookup(r.Context(), id)
	if err != nil {
		rt.reject(w, "lookup", id, err)
		return "", false
	}
	decision, err := rt.access.Can(r.Context(), principal.UserID, authz.NewActionSet(authz.ProxyDeployment), dep.WorkspaceID)
	if err != nil {
		if errors.Is(err, authz.ErrWorkspaceNotFound) {
			// Non-members learn nothing about the deployment.
			err = deployments.ErrNotFound
		}
		rt.reject(w, "authorize", id, err)
		return dep.WorkspaceID, false
	}
	if !decision.Granted {
		rt.metrics.ProxyOutcome("forbidden")
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return dep.WorkspaceID, false
	}
	if !dep.Running() {
		rt.reject(w, "status", id, fmt.Errorf("%w: %s is %s", ErrDeploymentNotRunning, id, dep.Status))
		return dep.WorkspaceID, false
	}

	kind := "http"
	upgraded = isUpgrade(r)
	if upgraded {
		kind = "websocket"
		// Upgraded streams outlive the server's request deadlines.
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})
	}
	done := rt.metrics.ProxyStarted(kind)
	defer done()

	t := target{url: rt.resolver.ResolveTarget(dep.WorkspaceID, dep.ID), prefix: "/proxy/" + id}
	rt.metrics.ProxyOutcome("forwarded")
	rt.proxy.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), targetContextKey{}, t)))
	return dep.WorkspaceID, upgraded
}

func (rt *Router) lookup(ctx context.Context, id string) (deployments.Deployment, error) {
	if dep, ok := rt.cache.Get(id); ok {
		return dep, nil
	}
	v, err, _ := rt.lookups.Do(id, func() (any, error) {
		// Detached so one caller's cancellation does not fail the others.
		dep, err := rt.registry.Lookup(context.WithoutCancel(ctx), id)
		if err != nil {
			return deployments.Deployment{}, err
		}
		rt.cache.Add(id, *dep)
		return *dep, nil
	})
	if err != nil {
		return deployments.Deployment{}, err
	}
	return v.(deployments.Deployment), nil
}

// rewrite points the request at the deployment. Client headers pass through
// except the caller's bearer token and session cookie, which are agora
// credentials the deployment must never see.
func (rt *Router) rewrite(pr *httputil.ProxyRequest) {
	t := pr.In.Context().Value(targetContextKey{}).(target)
	pr.Out.URL.Path = stripPrefix(pr.Out.URL.Path, t.prefix)
	if pr.Out.URL.RawPath != "" {
		pr.Out.URL.RawPath = stripPrefix(pr.Out.URL.RawPath, t.prefix)
	}
	pr.SetURL(t.url)
	pr.SetXForwarded()
	pr.Out.Header.Del("Authorization")
	stripSessionCookie(pr.Out)
}

func (rt *Router) backendError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		rt.logger.Debug("proxy client went away", slog.String("path", r.URL.Path))
		rt.metrics.ProxyOutcome("canceled")
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	rt.logger.Warn("proxy error",
		slog.String("deployment_id", chi.URLParam(r, DeploymentParam)),
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
	rt.metrics.ProxyOutcome("backend_error")
	httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "proxy error")
}

func (rt *Router) reject(w http.ResponseWriter, stage, id string, err error) {
	switch {
	case errors.Is(err, ErrDeploymentNotRunning):
		rt.metrics.ProxyOutcome("not_running")
	case errors.Is(err, httpx.ErrNotFound):
		rt.metrics.ProxyOutcome("not_found")
	default:
		rt.metrics.ProxyOutcome("error")
		rt.logger.Error("proxy "+stage, slog.String("deployment_id", id), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func stripPrefix(path, prefix string) string {
	rest := strings.TrimPrefix(path, prefix)
	if rest == "" || rest[0] != '/' {
		rest = "/" + rest
	}
	return rest
}

func stripSessionCookie(r *http.Request) {
	cookies := r.Cookies()
	if len(cookies) == 0 {
		return
	}
	r.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name == auth.CookieName {
			continue
		}
		r.AddCookie(c)
	}
}

func isUpgrade(r *http.Request) bool {
	for _, v := range r.Header.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return r.Header.Get("Upgrade") != ""
			}
		}
	}
	return false
}
