package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/agoracloud/agora/internal/audit"
	"github.com/agoracloud/agora/internal/auth"
	"github.com/agoracloud/agora/internal/authz"
	"github.com/agoracloud/agora/internal/deployments"
	"github.com/agoracloud/agora/internal/events"
	"github.com/agoracloud/agora/internal/observability"
	"github.com/agoracloud/agora/internal/proxy"
	"github.com/agoracloud/agora/internal/users"
	"github.com/agoracloud/agora/internal/workspaces"
	"github.com/agoracloud/agora/jobs"
	_ "github.com/agoracloud/agora/testing"
)

type stack struct {
	server   *httptest.Server
	bus      *events.Bus
	registry *deployments.MemoryRegistry
	audit    *auditLog
}

// auditLog is an audit.Repository keeping entries in memory.
type auditLog struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (l *auditLog) Insert(_ context.Context, e audit.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *auditLog) List(context.Context, audit.ListParams) ([]audit.Entry, error) { return nil, nil }

func (l *auditLog) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

// find returns the entries recorded for path.
func (l *auditLog) find(path string) []audit.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []audit.Entry
	for _, e := range l.entries {
		if e.Path == path {
			out = append(out, e)
		}
	}
	return out
}

func newStack(t *testing.T, backend *url.URL) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	logger := NewLogger(&Config{LogLevel: "error"})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	metrics := observability.NewMetrics()
	dispatcher := events.NewDispatcher(events.NewRedisDeduper(rdb, time.Hour), nil, logger)
	bus := events.NewBus(dispatcher, events.BusConfig{InitialInterval: time.Millisecond, MaxInterval: 10 * time.Millisecond}, logger)
	done := make(chan struct{})
	go func() {
		_ = bus.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	authzSvc := authz.NewService(authz.NewMemoryStore(), logger)
	usersSvc := users.NewService(users.NewMemoryRepository(), bus, logger).WithHashCost(bcrypt.MinCost)
	wsSvc := workspaces.NewService(workspaces.NewMemoryRepository(), authzSvc, usersSvc, bus, logger)
	registry := deployments.NewMemoryRegistry()
	tokens := auth.NewTokenStore(rdb, time.Hour)

	authz.NewConsumer(authzSvc, logger).WithDirectory(usersSvc, wsSvc).Register(dispatcher)
	workspaces.NewConsumer(wsSvc, logger).Register(dispatcher)
	deployments.NewConsumer(registry, logger).Register(dispatcher)
	auth.NewConsumer(tokens, logger).Register(dispatcher)

	_, err := usersSvc.EnsureAdmin(ctx, "admin@example.com", "bootstrap-secret")
	require.NoError(t, err)
	require.NoError(t, bus.Flush(ctx))

	guard := authz.Middleware{Service: authzSvc, Logger: logger}
	log := &auditLog{}
	recorder := audit.NewRecorder(log, logger, time.Second)
	t.Cleanup(recorder.Wait)
	audited := audit.Middleware{Recorder: recorder}
	permissions := authz.NewHandler(authzSvc, logger)
	router := NewRouter(RouterParams{
		Logger:            logger,
		Config:            &Config{AppRequestTimeout: 5 * time.Second},
		Metrics:           metrics,
		Authenticate:      auth.Middleware{Tokens: tokens, Logger: logger}.Authenticate,
		Guard:             guard,
		Audit:             audited,
		AuthHandler:       auth.NewHandler(logger, usersSvc, tokens, false),
		UsersHandler:      users.NewHandler(usersSvc, guard, audited, permissions, logger),
		WorkspacesHandler: workspaces.NewHandler(wsSvc, guard, audited, permissions, logger),
		JobHandler:        jobs.NewHandler(nil, logger),
		Proxy: proxy.NewRouter(registry, authzSvc, proxy.ResolverFunc(func(string, string) *url.URL { return backend }),
			proxy.Config{}, metrics, logger).WithAuditor(recorder),
		Readiness: map[string]ReadinessCheck{
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &stack{server: srv, bus: bus, registry: registry, audit: log}
}

func (s *stack) call(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, s.bus.Flush(context.Background()))
	return resp, data
}

func (s *stack) login(t *testing.T, email, password string) string {
	t.Helper()
	resp, data := s.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	return out.Token
}

func TestEndToEndWorkspaceAndProxy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello from "+r.URL.Path)
	}))
	t.Cleanup(backend.Close)
	backendURL, err := url.Parse(backend.URL)
	require.NoError(t, err)
	s := newStack(t, backendURL)

	admin := s.login(t, "admin@example.com", "bootstrap-secret")
	resp, data := s.call(t, http.MethodPost, "/api/users", admin, map[string]string{
		"email": "bob@example.com", "name": "Bob", "password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	bob := s.login(t, "bob@example.com", "correct-horse")
	resp, _ = s.call(t, http.MethodGet, "/api/users", bob, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, data = s.call(t, http.MethodPost, "/api/workspaces", bob, map[string]string{"name": "Research"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var ws workspaces.Workspace
	require.NoError(t, json.Unmarshal(data, &ws))

	resp, _ = s.call(t, http.MethodGet, "/api/workspaces/"+ws.ID, bob, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	depID := "5b0e7c1e-8f5e-4bb8-9c1a-3f1f6f8f0a01"
	s.registry.Put(deployments.Deployment{ID: depID, WorkspaceID: ws.ID, Status: deployments.StatusRunning})
	resp, data = s.call(t, http.MethodGet, "/proxy/"+depID+"/hello", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello from /hello", string(data))

	resp, _ = s.call(t, http.MethodGet, "/proxy/"+depID+"/hello", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Deleting the workspace stops routing to its deployments.
	resp, _ = s.call(t, http.MethodDelete, "/api/workspaces/"+ws.ID, bob, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	dep, err := s.registry.Lookup(context.Background(), depID)
	require.NoError(t, err)
	assert.Equal(t, deployments.StatusDeleting, dep.Status)
}

func TestAuditCoversJobsAndProxy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(backend.Close)
	backendURL, err := url.Parse(backend.URL)
	require.NoError(t, err)
	s := newStack(t, backendURL)

	admin := s.login(t, "admin@example.com", "bootstrap-secret")
	resp, data := s.call(t, http.MethodPost, "/api/users", admin, map[string]string{
		"email": "bob@example.com", "name": "Bob", "password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	bob := s.login(t, "bob@example.com", "correct-horse")

	resp, _ = s.call(t, http.MethodGet, "/api/jobs/health", bob, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = s.call(t, http.MethodGet, "/api/jobs/health", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	wsID := "5b0e7c1e-8f5e-4bb8-9c1a-3f1f6f8f0aff"
	depID := "5b0e7c1e-8f5e-4bb8-9c1a-3f1f6f8f0a02"
	s.registry.Put(deployments.Deployment{ID: depID, WorkspaceID: wsID, Status: deployments.StatusRunning})
	resp, _ = s.call(t, http.MethodGet, "/proxy/"+depID+"/", bob, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = s.call(t, http.MethodGet, "/proxy/"+depID+"/", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		return len(s.audit.find("/api/jobs/health")) == 2 && len(s.audit.find("/proxy/"+depID+"/")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	outcomes := map[int]audit.Entry{}
	for _, e := range s.audit.find("/api/jobs/health") {
		assert.Equal(t, []string{string(authz.ManageUsers)}, e.Actions)
		outcomes[e.Status] = e
	}
	assert.False(t, outcomes[http.StatusForbidden].IsSuccessful)
	assert.True(t, outcomes[http.StatusOK].IsSuccessful)

	outcomes = map[int]audit.Entry{}
	for _, e := range s.audit.find("/proxy/" + depID + "/") {
		assert.Equal(t, []string{string(authz.ProxyDeployment)}, e.Actions)
		assert.Equal(t, wsID, e.WorkspaceID)
		outcomes[e.Status] = e
	}
	assert.False(t, outcomes[http.StatusNotFound].IsSuccessful)
	assert.True(t, outcomes[http.StatusOK].IsSuccessful)
}

func TestHealthAndReadiness(t *testing.T) {
	s := newStack(t, &url.URL{Scheme: "http", Host: "127.0.0.1:1"})

	resp, data := s.call(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))

	resp, data = s.call(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","checks":{"redis":"ok"}}`, string(data))

	resp, _ = s.call(t, http.MethodGet, "/api/workspaces", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestReadinessReportsFailures(t *testing.T) {
	h := readinessHandler(map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return errors.New("down") },
	}, NewLogger(nil))
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"postgres":"unavailable"}}`, rec.Body.String())
}

func TestConfigValidate(t *testing.T) {
	valid := Config{EventTransport: TransportMemory, TokenTTL: time.Hour, AuditRetentionDays: 30}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.EventTransport = "kafka"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.AdminEmail = "admin@example.com"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.EventMaxRetry = -1
	assert.Error(t, bad.Validate())

	bad = valid
	bad.AuditRetentionDays = -1
	assert.Error(t, bad.Validate())

	keepForever := valid
	keepForever.AuditRetentionDays = 0
	assert.NoError(t, keepForever.Validate())
}
