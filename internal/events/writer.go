package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	ProjectCreated = "project.created"
	ConfigUpdated  = "project.config_updated"
	SectionCreated = "section.created"
	ItemCreated    = "item.created"
	ItemDeleted    = "item.deleted"
	ItemAttached   = "item.attached"
	ItemDetached   = "item.detached"
	ItemMoved      = "item.moved"
)

const (
	KindProject = "project"
	KindSection = "section"
	KindItem    = "item"
)

// Writer appends audit rows inside the caller's transaction, so an event
// exists exactly when the change it describes was committed.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
