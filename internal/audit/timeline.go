package audit

import "time"

// Entry is one audited request.
type Entry struct {
	ID           string    `json:"id"`
	Actions      []string  `json:"actions"`
	IsSuccessful bool      `json:"isSuccessful"`
	UserID       string    `json:"userId,omitempty"`
	WorkspaceID  string    `json:"workspaceId,omitempty"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	Status       int       `json:"status"`
	UserAgent    string    `json:"userAgent,omitempty"`
	IP           string    `json:"ip,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TimelineFilters narrows a listing of entries.
type TimelineFilters struct {
	From        time.Time
	To          time.Time
	UserID      string
	WorkspaceID string
	Action      string
	Page        int
	PageSize    int
}

// PagingInfo holds simple page metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"hasNext"`
	PageSize int  `json:"pageSize"`
	PrevPage int  `json:"prevPage,omitempty"`
	NextPage int  `json:"nextPage,omitempty"`
}

// Result wraps a page of entries.
type Result struct {
	Entries []Entry    `json:"entries"`
	Paging  PagingInfo `json:"paging"`
}
