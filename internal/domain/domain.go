package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("not found")

type ItemType string

const (
	ItemTypeTask      ItemType = "task"
	ItemTypeMilestone ItemType = "milestone"
	ItemTypeEvent     ItemType = "event"
	ItemTypeGoal      ItemType = "goal"
	ItemTypeHabit     ItemType = "habit"
	ItemTypeNote      ItemType = "note"
	ItemTypeDocument  ItemType = "document"
	ItemTypeReview    ItemType = "review"
)

// ItemTypes lists every known planning-item kind.
var ItemTypes = []ItemType{
	ItemTypeTask,
	ItemTypeMilestone,
	ItemTypeEvent,
	ItemTypeGoal,
	ItemTypeHabit,
	ItemTypeNote,
	ItemTypeDocument,
	ItemTypeReview,
}

func (t ItemType) Valid() bool {
	for _, known := range ItemTypes {
		if t == known {
			return true
		}
	}
	return false
}

type ItemStatus string

const (
	StatusNotStarted ItemStatus = "not_started"
	StatusInProgress ItemStatus = "in_progress"
	StatusBlocked    ItemStatus = "blocked"
	StatusCompleted  ItemStatus = "completed"
	StatusArchived   ItemStatus = "archived"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusBlocked, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

type Project struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Section struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Item is a node of a section's planning forest. ParentItemID and ItemDepth
// are owned by the hierarchy engine; everything else is written by the host.
type Item struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"project_id"`
	SectionID    string            `json:"section_id"`
	Type         ItemType          `json:"type" enum:"task,milestone,event,goal,habit,note,document,review"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	StartDate    *time.Time        `json:"start_date,omitempty"`
	EndDate      *time.Time        `json:"end_date,omitempty"`
	Status       ItemStatus        `json:"status" enum:"not_started,in_progress,blocked,completed,archived"`
	ParentItemID *string           `json:"parent_item_id,omitempty"`
	ItemDepth    int               `json:"item_depth"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    string            `json:"created_at" format:"date-time"`
	UpdatedAt    string            `json:"updated_at" format:"date-time"`
}

// IsRoot reports whether the item has no parent.
func (i Item) IsRoot() bool {
	return i.ParentItemID == nil || *i.ParentItemID == ""
}

// TreeNode is a read-side view of an item with its materialized children.
type TreeNode struct {
	Item            Item        `json:"item"`
	Children        []*TreeNode `json:"children"`
	ChildCount      int         `json:"child_count"`
	DescendantCount int         `json:"descendant_count"`
}

// PathEntry is one hop of the root-first ancestor chain of an item.
type PathEntry struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Type  ItemType `json:"type"`
	Depth int      `json:"depth"`
}

type DepthUpdate struct {
	ID    string `json:"id"`
	Depth int    `json:"depth"`
}

// TreeFilter selects the roots of a tree view. ItemID wins over SectionID,
// SectionID wins over ProjectID.
type TreeFilter struct {
	ProjectID       string `json:"project_id,omitempty"`
	SectionID       string `json:"section_id,omitempty"`
	ItemID          string `json:"item_id,omitempty"`
	IncludeArchived bool   `json:"include_archived,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
