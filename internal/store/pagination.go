package store

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/harborfresh/orderflow/internal/models"
)

const defaultPageSize = 20

// ListFilter narrows order listings. A zero Status matches everything.
type ListFilter struct {
	Status   models.OrderStatus
	PageSize int
}

func (f ListFilter) limit() int {
	if f.PageSize < 1 || f.PageSize > 100 {
		return defaultPageSize
	}
	return f.PageSize
}

type CursorPage struct {
	Items      []models.Order `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

type OffsetPage struct {
	Items      []models.Order `json:"items"`
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
}

type OrderCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        int64     `json:"id"`
}

func EncodeCursor(cursor OrderCursor) string {
	data, err := json.Marshal(cursor)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

func DecodeCursor(encoded string) (OrderCursor, error) {
	var cursor OrderCursor
	if encoded == "" {
		// Sentinel past any real row. Seeding with the app clock
		// instead would race the database clock and could hide
		// just-inserted rows from the first page.
		return OrderCursor{
			CreatedAt: time.Date(9999, time.January, 1, 0, 0, 0, 0, time.UTC),
			ID:        int64(1<<63 - 1),
		}, nil
	}

	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return cursor, err
	}

	err = json.Unmarshal(data, &cursor)
	return cursor, err
}
