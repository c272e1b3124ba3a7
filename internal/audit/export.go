package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
	"time"
)

// WriteCSV renders entries as CSV with a header row.
func WriteCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"created_at", "user_id", "workspace_id", "actions", "successful", "method", "path", "status", "ip", "user_agent"}); err != nil {
		return nil, err
	}
	for _, e := range entries {
		record := []string{
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.UserID,
			e.WorkspaceID,
			strings.Join(e.Actions, " "),
			strconv.FormatBool(e.IsSuccessful),
			e.Method,
			e.Path,
			strconv.Itoa(e.Status),
			e.IP,
			e.UserAgent,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
