package query

import (
	"fmt"
	"strings"
	"time"

	"signoff/internal/domain"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Cursor encodes the position after the last item of a page as "created_at|id".
func Cursor(r domain.Request) string {
	return r.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + r.ID
}

// Page slices an already sorted result. It returns the next cursor, empty on
// the last page.
func Page(reqs []domain.Request, cursor string, limit int) ([]domain.Request, string, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	start := 0
	if cursor != "" {
		at, id, err := parseCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		start = len(reqs)
		for i, r := range reqs {
			if r.CreatedAt.Before(at) || (r.CreatedAt.Equal(at) && r.ID < id) {
				start = i
				break
			}
		}
	}
	end := start + limit
	if end >= len(reqs) {
		return reqs[start:], "", nil
	}
	return reqs[start:end], Cursor(reqs[end-1]), nil
}

func parseCursor(cursor string) (time.Time, string, error) {
	ts, id, ok := strings.Cut(cursor, "|")
	var verr domain.ValidationError
	if !ok || id == "" {
		verr.Add("cursor", "malformed cursor")
		return time.Time{}, "", verr
	}
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		verr.Add("cursor", fmt.Sprintf("bad cursor timestamp: %v", err))
		return time.Time{}, "", verr
	}
	return at, id, nil
}
