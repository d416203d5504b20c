package server

import (
	"fmt"
	"time"

	"planline/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

type CreateSectionRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name"`
}

type CreateItemRequest struct {
	ID          *string           `json:"id,omitempty"`
	SectionID   string            `json:"section_id"`
	Type        domain.ItemType   `json:"type" enum:"task,milestone,event,goal,habit,note,document,review"`
	Title       string            `json:"title"`
	Description *string           `json:"description,omitempty"`
	StartDate   *string           `json:"start_date,omitempty" doc:"YYYY-MM-DD or RFC3339"`
	EndDate     *string           `json:"end_date,omitempty" doc:"YYYY-MM-DD or RFC3339"`
	Status      *string           `json:"status,omitempty" enum:"not_started,in_progress,blocked,completed,archived"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type AttachRequest struct {
	ParentItemID string `json:"parent_item_id"`
}

type MoveRequest struct {
	// NewParentID absent or null detaches the item.
	NewParentID *string `json:"new_parent_id,omitempty" nullable:"true"`
}

// Response payloads

type DeleteItemResponse struct {
	Deleted string `json:"deleted"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type itemList struct {
	Items []domain.Item `json:"items"`
}

// parseDate accepts a calendar date or a full RFC3339 timestamp.
func parseDate(field string, raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, *raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be YYYY-MM-DD or RFC3339", field)
	}
	return &t, nil
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func itemsOrEmpty(items []domain.Item) []domain.Item {
	if items == nil {
		return []domain.Item{}
	}
	return items
}
