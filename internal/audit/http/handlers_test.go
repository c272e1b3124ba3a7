package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoracloud/agora/internal/audit"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.Entry
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.Entry, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

func newTestRouter(svc *stubTimelineService) http.Handler {
	h := NewHandler(nil, svc)
	h.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/api/audit", h.MountRoutes)
	return r
}

func TestTimelineDefaultsAndJSON(t *testing.T) {
	svc := &stubTimelineService{result: audit.Result{
		Entries: []audit.Entry{{ID: "e1", Actions: []string{"audit:read"}, IsSuccessful: true}},
		Paging:  audit.PagingInfo{Page: 1, PageSize: 20},
	}}
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body audit.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "e1", body.Entries[0].ID)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), svc.lastFilters.From)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), svc.lastFilters.To)
	assert.Equal(t, 20, svc.lastFilters.PageSize)
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	for _, q := range []string{"?from=2026-03-10&to=2026-03-01", "?page=0", "?workspace_id=nope", "?to=yesterday"} {
		rec := httptest.NewRecorder()
		newTestRouter(&stubTimelineService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestExportCSV(t *testing.T) {
	svc := &stubTimelineService{exportRows: []audit.Entry{{UserID: "u1", Method: "GET", Path: "/x", Status: 200}}}
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit/export.csv", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "created_at,"))
}
