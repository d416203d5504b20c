package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/hierarchy"
	"planline/internal/repo"
)

// ItemCreateOptions are parameters for creating an item. New items are
// always roots; use AttachChildItem to place them.
type ItemCreateOptions struct {
	ID          string
	ProjectID   string
	SectionID   string
	Type        domain.ItemType
	Title       string
	Description string
	StartDate   *time.Time
	EndDate     *time.Time
	Status      domain.ItemStatus
	Metadata    map[string]string
	ActorID     string
}

func (e Engine) CreateItem(ctx context.Context, opts ItemCreateOptions) (domain.Item, error) {
	if opts.ProjectID == "" {
		return domain.Item{}, invalidf("project is required")
	}
	if opts.SectionID == "" {
		return domain.Item{}, invalidf("section is required")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Item{}, invalidf("title is required")
	}
	if !opts.Type.Valid() {
		return domain.Item{}, invalidf("unknown item type %q", opts.Type)
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return domain.Item{}, invalidf("unknown status %q", opts.Status)
	}
	if opts.StartDate != nil && opts.EndDate != nil && opts.EndDate.Before(*opts.StartDate) {
		return domain.Item{}, invalidf("end date is before start date")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)

	section, err := r.GetSection(ctx, opts.SectionID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("section %s: %w", opts.SectionID, err)
	}
	if section.ProjectID != opts.ProjectID {
		return domain.Item{}, invalidf("section %s is not in project %s", opts.SectionID, opts.ProjectID)
	}
	status := opts.Status
	if status == "" {
		cfg, err := e.configFor(ctx, r, opts.ProjectID)
		if err != nil {
			return domain.Item{}, err
		}
		status = cfg.DefaultItemStatus()
	}
	now := e.timestamp()
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.SectionID+"|"+opts.Title+"|"+now+"|"+uuid.NewString())).String()
	}
	it := domain.Item{
		ID:          id,
		ProjectID:   opts.ProjectID,
		SectionID:   opts.SectionID,
		Type:        opts.Type,
		Title:       opts.Title,
		Description: opts.Description,
		StartDate:   opts.StartDate,
		EndDate:     opts.EndDate,
		Status:      status,
		ItemDepth:   0,
		Metadata:    opts.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.InsertItem(ctx, it); err != nil {
		return domain.Item{}, fmt.Errorf("insert item: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ItemCreated, it.ProjectID, events.KindItem, it.ID, actorOrDefault(opts.ActorID), events.EventPayload{
		"section_id": it.SectionID,
		"type":       it.Type,
		"title":      it.Title,
	}); err != nil {
		return domain.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

func (e Engine) GetItem(ctx context.Context, id string) (domain.Item, error) {
	it, err := e.Repo.GetItem(ctx, id)
	if err != nil {
		return it, fmt.Errorf("item %s: %w", id, err)
	}
	return it, nil
}

func (e Engine) ListItems(ctx context.Context, f repo.ItemFilters) ([]domain.Item, error) {
	return e.Repo.ListItems(ctx, f)
}

// DeleteItem removes an item. Its direct children are detached first, in
// the same transaction, so each becomes the root of its own subtree.
func (e Engine) DeleteItem(ctx context.Context, id, actorID string) error {
	unlock := e.lockItemSection(ctx, id)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)

	it, err := r.GetItem(ctx, id)
	if err != nil {
		return fmt.Errorf("item %s: %w", id, err)
	}
	children, err := r.GetChildrenOf(ctx, id)
	if err != nil {
		return fmt.Errorf("load children of %s: %w", id, err)
	}
	rules, err := e.rulesFor(ctx, r, it.ProjectID)
	if err != nil {
		return err
	}
	m := hierarchy.NewMutator(r, rules)
	detached := make([]string, 0, len(children))
	for _, c := range children {
		if _, err := m.Detach(ctx, c.ID); err != nil {
			return fmt.Errorf("detach %s: %w", c.ID, err)
		}
		detached = append(detached, c.ID)
	}
	if err := r.DeleteItem(ctx, id); err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	if err := e.Events.Append(ctx, tx, events.ItemDeleted, it.ProjectID, events.KindItem, it.ID, actorOrDefault(actorID), events.EventPayload{
		"section_id":        it.SectionID,
		"parent_item_id":    it.ParentItemID,
		"detached_children": detached,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
