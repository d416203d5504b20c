package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/hierarchy"
	"planline/internal/logging"
	"planline/internal/repo"
)

const (
	OpAttach = "attach"
	OpDetach = "detach"
	OpMove   = "move"
)

type AttachInput struct {
	ChildItemID  string `json:"child_item_id"`
	ParentItemID string `json:"parent_item_id"`
	ActorID      string `json:"-"`
}

type DetachInput struct {
	ChildItemID string `json:"child_item_id"`
	ActorID     string `json:"-"`
}

type MoveInput struct {
	ItemID      string  `json:"item_id"`
	NewParentID *string `json:"new_parent_id"`
	ActorID     string  `json:"-"`
}

// MutationResult is the outcome of a hierarchy mutation. Exactly one of
// Item and Error is set.
type MutationResult struct {
	Success  bool             `json:"success"`
	Item     *domain.Item     `json:"item,omitempty"`
	Repaired int              `json:"repaired,omitempty"`
	Error    *hierarchy.Error `json:"error,omitempty"`
}

// Err returns the result's error as an error value, or nil.
func (r MutationResult) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

func (e Engine) AttachChildItem(ctx context.Context, in AttachInput) MutationResult {
	return e.mutate(ctx, OpAttach, in.ChildItemID, in.ActorID, func(ctx context.Context, m *hierarchy.Mutator) (hierarchy.Change, error) {
		return m.Attach(ctx, in.ChildItemID, in.ParentItemID)
	})
}

func (e Engine) DetachChildItem(ctx context.Context, in DetachInput) MutationResult {
	return e.mutate(ctx, OpDetach, in.ChildItemID, in.ActorID, func(ctx context.Context, m *hierarchy.Mutator) (hierarchy.Change, error) {
		return m.Detach(ctx, in.ChildItemID)
	})
}

// MoveItemToNewParent reparents an item, or detaches it when NewParentID is
// nil. Both halves share one transaction.
func (e Engine) MoveItemToNewParent(ctx context.Context, in MoveInput) MutationResult {
	return e.mutate(ctx, OpMove, in.ItemID, in.ActorID, func(ctx context.Context, m *hierarchy.Mutator) (hierarchy.Change, error) {
		return m.Move(ctx, in.ItemID, in.NewParentID)
	})
}

type mutation func(ctx context.Context, m *hierarchy.Mutator) (hierarchy.Change, error)

func (e Engine) mutate(ctx context.Context, op, itemID, actorID string, fn mutation) MutationResult {
	start := time.Now()
	actorID = actorOrDefault(actorID)
	ctx = logging.WithActorID(ctx, actorID)
	log := logging.Component("engine").With().Str("op", op).Str("item_id", itemID).Logger()

	unlock := e.lockItemSection(ctx, itemID)
	defer unlock()

	ch, err := e.runMutation(ctx, op, itemID, actorID, fn)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		res := failure(err)
		e.Metrics.RecordOperation(op, string(res.Error.Kind), elapsed)
		logFailure(ctx, log, res.Error, err)
		return res
	}
	e.Metrics.RecordOperation(op, "ok", elapsed)
	e.Metrics.ObserveRepairs(ch.Repaired)
	log.Info().Ctx(ctx).
		Str("parent_item_id", deref(ch.Item.ParentItemID)).
		Int("depth", ch.Item.ItemDepth).
		Int("repaired", ch.Repaired).
		Msg("hierarchy updated")
	item := ch.Item
	return MutationResult{Success: true, Item: &item, Repaired: ch.Repaired}
}

func (e Engine) runMutation(ctx context.Context, op, itemID, actorID string, fn mutation) (hierarchy.Change, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return hierarchy.Change{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)

	it, err := r.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return hierarchy.Change{}, hierarchy.ItemNotFound(itemID)
		}
		return hierarchy.Change{}, fmt.Errorf("load item %s: %w", itemID, err)
	}
	rules, err := e.rulesFor(ctx, r, it.ProjectID)
	if err != nil {
		return hierarchy.Change{}, err
	}
	ch, err := fn(ctx, hierarchy.NewMutator(r, rules))
	if err != nil {
		return hierarchy.Change{}, err
	}
	if changed(ch) {
		evtType, payload := mutationEvent(op, ch)
		if err := e.Events.Append(ctx, tx, evtType, ch.Item.ProjectID, events.KindItem, ch.Item.ID, actorID, payload); err != nil {
			return hierarchy.Change{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return hierarchy.Change{}, fmt.Errorf("commit %s: %w", op, err)
	}
	return ch, nil
}

func (e Engine) rulesFor(ctx context.Context, r repo.Repo, projectID string) (*hierarchy.RuleTable, error) {
	cfg, err := e.configFor(ctx, r, projectID)
	if err != nil {
		return nil, err
	}
	rules, err := cfg.RuleTable()
	if err != nil {
		return nil, fmt.Errorf("hierarchy policy of %s: %w", projectID, err)
	}
	return rules, nil
}

func mutationEvent(op string, ch hierarchy.Change) (string, events.EventPayload) {
	payload := events.EventPayload{
		"previous_parent_id": ch.PreviousParentID,
		"parent_item_id":     ch.Item.ParentItemID,
		"previous_depth":     ch.PreviousDepth,
		"depth":              ch.Item.ItemDepth,
		"repaired":           ch.Repaired,
	}
	switch {
	case op == OpAttach:
		return events.ItemAttached, payload
	case op == OpDetach, ch.Item.IsRoot():
		return events.ItemDetached, payload
	default:
		return events.ItemMoved, payload
	}
}

// changed is false for a move onto the current parent.
func changed(ch hierarchy.Change) bool {
	return deref(ch.PreviousParentID) != deref(ch.Item.ParentItemID) || ch.PreviousDepth != ch.Item.ItemDepth
}

func failure(err error) MutationResult {
	if he, ok := hierarchy.AsError(err); ok {
		return MutationResult{Error: he}
	}
	return MutationResult{Error: &hierarchy.Error{Kind: hierarchy.KindInternal, Message: err.Error()}}
}

func logFailure(ctx context.Context, log zerolog.Logger, he *hierarchy.Error, err error) {
	switch he.Kind {
	case hierarchy.KindInternal, hierarchy.KindDataIntegrity:
		log.Error().Ctx(ctx).Err(err).Str("code", string(he.Kind)).Msg("hierarchy mutation failed")
	default:
		log.Warn().Ctx(ctx).Str("code", string(he.Kind)).Str("reason", he.Message).Msg("hierarchy mutation rejected")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// GetRoadmapItemTree materializes the forest selected by filter.
func (e Engine) GetRoadmapItemTree(ctx context.Context, filter domain.TreeFilter) ([]*domain.TreeNode, error) {
	start := time.Now()
	q, err := e.queryForFilter(ctx, filter)
	if err != nil {
		return nil, err
	}
	forest, err := q.BuildTree(ctx, filter)
	e.observeQuery("tree", start, err)
	if err != nil {
		return nil, err
	}
	nodes := len(forest)
	for _, n := range forest {
		nodes += n.DescendantCount
	}
	e.Metrics.ObserveTree(nodes)
	return forest, nil
}

func (e Engine) GetItemPath(ctx context.Context, itemID string) ([]domain.PathEntry, error) {
	q, err := e.queryForItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	path, err := q.GetPath(ctx, itemID)
	e.observeQuery("path", start, err)
	return path, err
}

func (e Engine) GetAllDescendants(ctx context.Context, itemID string) ([]domain.Item, error) {
	q, err := e.queryForItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	items, err := q.GetAllDescendants(ctx, itemID)
	e.observeQuery("descendants", start, err)
	return items, err
}

func (e Engine) GetRoot(ctx context.Context, itemID string) (domain.Item, error) {
	q, err := e.queryForItem(ctx, itemID)
	if err != nil {
		return domain.Item{}, err
	}
	return q.GetRoot(ctx, itemID)
}

func (e Engine) GetChildren(ctx context.Context, itemID string) ([]domain.Item, error) {
	q, err := e.queryForItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return q.GetChildren(ctx, itemID)
}

// GetParent returns nil for roots.
func (e Engine) GetParent(ctx context.Context, itemID string) (*domain.Item, error) {
	q, err := e.queryForItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return q.GetParent(ctx, itemID)
}

func (e Engine) observeQuery(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(hierarchy.KindInternal)
		if kind := hierarchy.KindOf(err); kind != "" {
			outcome = string(kind)
		}
	}
	e.Metrics.RecordOperation(op, outcome, time.Since(start).Seconds())
}

// queryForItem bounds traversals by the policy of the item's project.
func (e Engine) queryForItem(ctx context.Context, itemID string) (*hierarchy.Query, error) {
	it, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, hierarchy.ItemNotFound(itemID)
		}
		return nil, fmt.Errorf("load item %s: %w", itemID, err)
	}
	return e.queryForProject(ctx, it.ProjectID)
}

func (e Engine) queryForFilter(ctx context.Context, filter domain.TreeFilter) (*hierarchy.Query, error) {
	switch {
	case filter.ItemID != "":
		return e.queryForItem(ctx, filter.ItemID)
	case filter.ProjectID != "":
		return e.queryForProject(ctx, filter.ProjectID)
	case filter.SectionID != "":
		s, err := e.Repo.GetSection(ctx, filter.SectionID)
		if err == nil {
			return e.queryForProject(ctx, s.ProjectID)
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("load section %s: %w", filter.SectionID, err)
		}
	}
	return e.queryForProject(ctx, "")
}

func (e Engine) queryForProject(ctx context.Context, projectID string) (*hierarchy.Query, error) {
	policy := hierarchy.DefaultPolicy()
	if e.Config != nil {
		policy = e.Config.Hierarchy
	}
	if projectID != "" {
		cfg, err := e.configFor(ctx, e.Repo, projectID)
		if err != nil {
			return nil, err
		}
		policy = cfg.Hierarchy
	}
	return hierarchy.NewQuery(e.Repo, policy), nil
}
