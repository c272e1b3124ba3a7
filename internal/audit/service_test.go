package audit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoracloud/agora/internal/authz"
	"github.com/agoracloud/agora/internal/shared"
)

type stubRepo struct {
	mu        sync.Mutex
	entries   []Entry
	rows      []Entry
	lastList  ListParams
	insertErr error
	cutoff    time.Time
}

func (s *stubRepo) Insert(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *stubRepo) List(ctx context.Context, p ListParams) ([]Entry, error) {
	s.lastList = p
	return s.rows, nil
}

func (s *stubRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return 3, nil
}

func (s *stubRepo) recorded() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubRepo{rows: []Entry{{ID: "1"}, {ID: "2"}, {ID: "3"}}}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Entries, 2)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 2, result.Paging.NextPage)
	assert.Equal(t, 3, repo.lastList.Limit)
	assert.Equal(t, 0, repo.lastList.Offset)

	_, err = svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 51, repo.lastList.Limit)
	assert.Equal(t, 100, repo.lastList.Offset)

	_, err = svc.Export(context.Background(), TimelineFilters{Page: 3, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, ExportLimit, repo.lastList.Limit)
	assert.Equal(t, 0, repo.lastList.Offset)
}

func auditedRouter(rec *Recorder, svc *authz.Service) chi.Router {
	guard := authz.Middleware{Service: svc}
	audited := Middleware{Recorder: rec}
	r := chi.NewRouter()
	r.With(audited.Audit(authz.ReadWorkspace), guard.RequireInWorkspace(authz.ReadWorkspace)).
		Get("/workspaces/{workspaceID}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	return r
}

func TestMiddlewareRecordsOutcome(t *testing.T) {
	const (
		member = "6f1c1d8e-0a51-4c59-9d7c-3e2f0f0b7a01"
		ws     = "0d5a3f63-2f0b-4b0e-8f5b-1c9a0d7e4b10"
		other  = "0d5a3f63-2f0b-4b0e-8f5b-1c9a0d7e4b11"
	)
	ctx := context.Background()
	svc := authz.NewService(authz.NewMemoryStore(), nil)
	_, err := svc.CreateDocument(ctx, member, authz.RoleUser, nil)
	require.NoError(t, err)
	require.NoError(t, svc.AddWorkspaceEntry(ctx, member, ws, authz.ExplicitGrant(authz.NewActionSet(authz.ReadWorkspace))))

	repo := &stubRepo{}
	rec := NewRecorder(repo, nil, time.Second)
	r := auditedRouter(rec, svc)

	for _, target := range []string{ws, other} {
		req := httptest.NewRequest(http.MethodGet, "/workspaces/"+target, nil)
		req.Header.Set("User-Agent", "agora-test")
		req.RemoteAddr = "10.1.2.3:5555"
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: member}))
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	rec.Wait()

	entries := repo.recorded()
	require.Len(t, entries, 2)
	byWorkspace := map[string]Entry{}
	for _, e := range entries {
		byWorkspace[e.WorkspaceID] = e
	}

	ok := byWorkspace[ws]
	assert.True(t, ok.IsSuccessful)
	assert.Equal(t, []string{string(authz.ReadWorkspace)}, ok.Actions)
	assert.Equal(t, member, ok.UserID)
	assert.Equal(t, "agora-test", ok.UserAgent)
	assert.Equal(t, "10.1.2.3", ok.IP)
	assert.NotEmpty(t, ok.ID)

	denied := byWorkspace[other]
	assert.False(t, denied.IsSuccessful)
	assert.Equal(t, http.StatusNotFound, denied.Status)
}

func TestMiddlewareRecordsMalformedWorkspaceID(t *testing.T) {
	const member = "6f1c1d8e-0a51-4c59-9d7c-3e2f0f0b7a01"
	svc := authz.NewService(authz.NewMemoryStore(), nil)
	_, err := svc.CreateDocument(context.Background(), member, authz.RoleUser, nil)
	require.NoError(t, err)

	repo := &stubRepo{}
	rec := NewRecorder(repo, nil, time.Second)
	req := httptest.NewRequest(http.MethodGet, "/workspaces/not-a-uuid", nil)
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: member}))
	resp := httptest.NewRecorder()
	auditedRouter(rec, svc).ServeHTTP(resp, req)
	rec.Wait()

	require.Equal(t, http.StatusBadRequest, resp.Code)
	entries := repo.recorded()
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].WorkspaceID)
	assert.Equal(t, "/workspaces/not-a-uuid", entries[0].Path)
	assert.False(t, entries[0].IsSuccessful)
}

func TestRecorderSwallowsFailuresAndOutlivesRequest(t *testing.T) {
	repo := &stubRepo{}
	rec := NewRecorder(repo, nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	rec.Record(ctx, Entry{Path: "/x", Status: 200, IsSuccessful: true})
	cancel()
	rec.Wait()
	assert.Len(t, repo.recorded(), 1)

	failing := &stubRepo{insertErr: errors.New("db down")}
	rec = NewRecorder(failing, nil, time.Second)
	rec.Record(context.Background(), Entry{Path: "/y"})
	rec.Wait()
	assert.Empty(t, failing.recorded())
}

func TestWriteCSV(t *testing.T) {
	out, err := WriteCSV([]Entry{{
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UserID:       "u1",
		Actions:      []string{"wiki:read", "wiki:update"},
		IsSuccessful: true,
		Method:       "GET",
		Path:         "/api/x",
		Status:       200,
	}})
	require.NoError(t, err)
	assert.Contains(t, string(out), "created_at,user_id")
	assert.Contains(t, string(out), "2026-01-02T03:04:05Z,u1,,wiki:read wiki:update,true,GET,/api/x,200,,")
}

func TestPruneJob(t *testing.T) {
	repo := &stubRepo{}
	job := NewPruneJob(repo, nil, nil)
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	task, err := NewPruneTask(30)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, now.AddDate(0, 0, -30), repo.cutoff)

	disabled, err := NewPruneTask(0)
	require.NoError(t, err)
	assert.ErrorIs(t, job.Handle(context.Background(), disabled), asynq.SkipRetry)
	assert.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskPrune, []byte("{"))), asynq.SkipRetry)
}
