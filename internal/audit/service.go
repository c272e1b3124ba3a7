package audit

import (
	"context"
	"fmt"
	"time"
)

// ExportLimit caps the rows returned by one CSV export.
const ExportLimit = 10000

// Repository persists and queries entries.
type Repository interface {
	Insert(ctx context.Context, e Entry) error
	List(ctx context.Context, p ListParams) ([]Entry, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service reads the audit log.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of entries.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	params := listParams(filters)
	params.Offset = (page - 1) * pageSize
	params.Limit = pageSize + 1
	rows, err := s.repo.List(ctx, params)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []Entry{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: rows, Paging: paging}, nil
}

// Export returns every entry matching filters, ignoring paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	params := listParams(filters)
	params.Limit = ExportLimit
	return s.repo.List(ctx, params)
}

func listParams(filters TimelineFilters) ListParams {
	return ListParams{
		From:        filters.From,
		To:          filters.To,
		UserID:      filters.UserID,
		WorkspaceID: filters.WorkspaceID,
		Action:      filters.Action,
	}
}
