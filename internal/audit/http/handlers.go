package audithttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agoracloud/agora/internal/audit"
	"github.com/agoracloud/agora/internal/platform/httpx"
)

const (
	defaultPageSize   = 20
	maxPageSize       = 50
	defaultDateRange  = 7 * 24 * time.Hour
	maxDateRangeHours = 24 * 90
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.Entry, error)
}

// Handler serves the audit log.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	now     func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:  logger,
		service: service,
		now:     time.Now,
	}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "load audit timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "export audit timeline", err)
		return
	}
	csvBytes, err := audit.WriteCSV(entries)
	if err != nil {
		h.handleServerError(w, "encode csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-log.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	to, err := parseDay(q.Get("to"), h.now().UTC(), "to")
	if err != nil {
		return audit.TimelineFilters{}, err
	}
	from, err := parseDay(q.Get("from"), to.Add(-defaultDateRange), "from")
	if err != nil {
		return audit.TimelineFilters{}, err
	}
	if from.After(to) || to.Sub(from) > maxDateRangeHours*time.Hour {
		return audit.TimelineFilters{}, validationError("range")
	}
	page, err := parsePositive(q.Get("page"), 1, "page")
	if err != nil {
		return audit.TimelineFilters{}, err
	}
	pageSize, err := parsePositive(q.Get("page_size"), defaultPageSize, "page_size")
	if err != nil {
		return audit.TimelineFilters{}, err
	}

	filters := audit.TimelineFilters{
		From:     from,
		To:       to.Add(24 * time.Hour),
		Action:   strings.TrimSpace(q.Get("action")),
		Page:     page,
		PageSize: min(pageSize, maxPageSize),
	}
	for name, dst := range map[string]*string{"user_id": &filters.UserID, "workspace_id": &filters.WorkspaceID} {
		v := strings.TrimSpace(q.Get(name))
		if v == "" {
			continue
		}
		if err := httpx.ValidateID(name, v); err != nil {
			return audit.TimelineFilters{}, err
		}
		*dst = v
	}
	return filters, nil
}

// parseDay reads a YYYY-MM-DD value, truncating fallback to its day when raw
// is empty.
func parseDay(raw string, fallback time.Time, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = fallback.Format(time.DateOnly)
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, validationError(field)
	}
	return t, nil
}

func parsePositive(raw string, fallback int, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, validationError(field)
	}
	return n, nil
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	if h.logger != nil {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func validationError(field string) error {
	return fmt.Errorf("%w: invalid %s", httpx.ErrValidation, field)
}
