package hierarchy

import (
	"context"
	"fmt"

	"planline/internal/domain"
)

// Change describes a successful mutation.
type Change struct {
	Item             domain.Item `json:"item"`
	PreviousParentID *string     `json:"previous_parent_id,omitempty"`
	PreviousDepth    int         `json:"previous_depth"`
	// Repaired counts descendants whose cached depth was rewritten.
	Repaired int `json:"repaired"`
}

// Mutator is the only writer of parent pointers and cached depths. Every
// operation validates against the current repository state before writing,
// and a rejected operation performs no writes.
type Mutator struct {
	repo  Repository
	rules *RuleTable
}

func NewMutator(repo Repository, rules *RuleTable) *Mutator {
	return &Mutator{repo: repo, rules: rules}
}

// Attach makes childID a child of parentID. The child must currently be a
// root; a child whose parent row no longer exists counts as one and has the
// stale pointer replaced.
func (m *Mutator) Attach(ctx context.Context, childID, parentID string) (Change, error) {
	var ch Change
	err := m.unit(ctx, func(ctx context.Context, o *operation) error {
		var err error
		ch, err = o.attach(ctx, childID, parentID)
		return err
	})
	return ch, err
}

// Detach turns childID into a root of its section. A stale pointer to a
// deleted parent is cleared as well, so Detach doubles as the repair for
// items the tree queries already list as roots.
func (m *Mutator) Detach(ctx context.Context, childID string) (Change, error) {
	var ch Change
	err := m.unit(ctx, func(ctx context.Context, o *operation) error {
		var err error
		ch, err = o.detach(ctx, childID)
		return err
	})
	return ch, err
}

// Move reparents itemID under newParentID, or detaches it when newParentID
// is nil. All attach checks run before the item leaves its old parent.
func (m *Mutator) Move(ctx context.Context, itemID string, newParentID *string) (Change, error) {
	var ch Change
	err := m.unit(ctx, func(ctx context.Context, o *operation) error {
		var err error
		if newParentID == nil || *newParentID == "" {
			ch, err = o.detach(ctx, itemID)
		} else {
			ch, err = o.move(ctx, itemID, *newParentID)
		}
		return err
	})
	return ch, err
}

// unit runs fn inside a repository transaction when one is available.
func (m *Mutator) unit(ctx context.Context, fn func(context.Context, *operation) error) error {
	if tx, ok := m.repo.(Transactor); ok {
		return tx.WithinTx(ctx, func(ctx context.Context, r Repository) error {
			return fn(ctx, newOperation(r, m.rules))
		})
	}
	return fn(ctx, newOperation(m.repo, m.rules))
}

type operation struct {
	repo     Repository
	rules    *RuleTable
	ancestry *Ancestry
	depths   *DepthRepair
}

func newOperation(repo Repository, rules *RuleTable) *operation {
	anc := NewAncestry(repo, rules.Policy().TraversalLimit())
	return &operation{
		repo:     repo,
		rules:    rules,
		ancestry: anc,
		depths:   NewDepthRepair(repo, anc),
	}
}

type attachPlan struct {
	child    domain.Item
	parent   domain.Item
	newDepth int
	subtree  []SubtreeNode
}

func (o *operation) attach(ctx context.Context, childID, parentID string) (Change, error) {
	if childID == parentID {
		return Change{}, newError(KindSelfReference, map[string]any{"item_id": childID}, "item %s cannot be its own parent", childID)
	}
	child, parent, err := o.loadPair(ctx, childID, parentID)
	if err != nil {
		return Change{}, err
	}
	attached, err := o.hasLiveParent(ctx, child)
	if err != nil {
		return Change{}, err
	}
	if attached {
		return Change{}, newError(KindAlreadyHasParent,
			map[string]any{"item_id": childID, "parent_item_id": *child.ParentItemID},
			"item %s already has parent %s; detach it first", childID, *child.ParentItemID)
	}
	plan, err := o.plan(ctx, child, parent)
	if err != nil {
		return Change{}, err
	}
	return o.apply(ctx, plan)
}

func (o *operation) move(ctx context.Context, itemID, parentID string) (Change, error) {
	if itemID == parentID {
		return Change{}, newError(KindSelfReference, map[string]any{"item_id": itemID}, "item %s cannot be its own parent", itemID)
	}
	item, parent, err := o.loadPair(ctx, itemID, parentID)
	if err != nil {
		return Change{}, err
	}
	if !item.IsRoot() && *item.ParentItemID == parentID {
		return Change{Item: item, PreviousParentID: item.ParentItemID, PreviousDepth: item.ItemDepth}, nil
	}
	plan, err := o.plan(ctx, item, parent)
	if err != nil {
		return Change{}, err
	}
	return o.apply(ctx, plan)
}

func (o *operation) detach(ctx context.Context, childID string) (Change, error) {
	child, err := loadItem(ctx, o.repo, childID)
	if err != nil {
		return Change{}, err
	}
	if child.IsRoot() {
		return Change{}, newError(KindNoParent, map[string]any{"item_id": childID}, "item %s has no parent to detach from", childID)
	}
	subtree, err := o.ancestry.Subtree(ctx, child)
	if err != nil {
		return Change{}, err
	}
	updated, err := o.repo.UpdateItemParentAndDepth(ctx, child.ID, nil, 0)
	if err != nil {
		return Change{}, fmt.Errorf("detach %s: %w", child.ID, err)
	}
	n, err := o.depths.Apply(ctx, PlanDepths(subtree, 0))
	if err != nil {
		return Change{}, err
	}
	return Change{Item: updated, PreviousParentID: child.ParentItemID, PreviousDepth: child.ItemDepth, Repaired: n}, nil
}

// hasLiveParent reports whether item points at a parent row that still
// exists. A pointer to a deleted item counts as no parent, matching the
// tree queries.
func (o *operation) hasLiveParent(ctx context.Context, item domain.Item) (bool, error) {
	if item.IsRoot() {
		return false, nil
	}
	found, err := o.repo.GetItemsByIDs(ctx, []string{*item.ParentItemID})
	if err != nil {
		return false, fmt.Errorf("load parent %s: %w", *item.ParentItemID, err)
	}
	return len(found) > 0, nil
}

func (o *operation) loadPair(ctx context.Context, childID, parentID string) (domain.Item, domain.Item, error) {
	items, err := o.repo.GetItemsByIDs(ctx, []string{childID, parentID})
	if err != nil {
		return domain.Item{}, domain.Item{}, fmt.Errorf("load items: %w", err)
	}
	var child, parent *domain.Item
	for i := range items {
		switch items[i].ID {
		case childID:
			child = &items[i]
		case parentID:
			parent = &items[i]
		}
	}
	if child == nil {
		return domain.Item{}, domain.Item{}, notFound(childID)
	}
	if parent == nil {
		return domain.Item{}, domain.Item{}, notFound(parentID)
	}
	return *child, *parent, nil
}

// plan runs every attach check that does not depend on the child's current
// parent and collects the subtree whose depths will shift.
func (o *operation) plan(ctx context.Context, child, parent domain.Item) (attachPlan, error) {
	if child.SectionID != parent.SectionID {
		return attachPlan{}, newError(KindDifferentSection,
			map[string]any{"child_section_id": child.SectionID, "parent_section_id": parent.SectionID},
			"item %s is in section %s but parent %s is in section %s", child.ID, child.SectionID, parent.ID, parent.SectionID)
	}
	cycle, err := o.ancestry.IsAncestor(ctx, child.ID, parent.ID)
	if err != nil {
		return attachPlan{}, err
	}
	if cycle {
		return attachPlan{}, newError(KindCycleDetected, map[string]any{"item_id": child.ID, "parent_item_id": parent.ID},
			"item %s is an ancestor of %s; attaching would create a cycle", child.ID, parent.ID)
	}
	maxDepth := o.rules.MaxDepth()
	newDepth := parent.ItemDepth + 1
	if newDepth > maxDepth {
		return attachPlan{}, newError(KindMaxDepthExceeded, map[string]any{"depth": newDepth, "max_depth": maxDepth},
			"item %s would sit at depth %d, maximum is %d", child.ID, newDepth, maxDepth)
	}
	subtree, err := o.ancestry.Subtree(ctx, child)
	if err != nil {
		return attachPlan{}, err
	}
	if deepest := newDepth + Height(subtree); deepest > maxDepth {
		return attachPlan{}, newError(KindMaxDepthExceeded,
			map[string]any{"depth": deepest, "max_depth": maxDepth, "subtree_height": Height(subtree)},
			"subtree of %s would reach depth %d, maximum is %d", child.ID, deepest, maxDepth)
	}
	if res := o.rules.IsCompositionAllowed(parent.Type, child.Type, newDepth); !res.Valid {
		return attachPlan{}, newError(KindCompositionInvalid,
			map[string]any{"parent_type": parent.Type, "child_type": child.Type, "depth": newDepth, "errors": res.Errors},
			"cannot attach %s %s under %s %s: %s", child.Type, child.ID, parent.Type, parent.ID, res.Errors[0])
	}
	for _, n := range subtree {
		depth := newDepth + n.Relative
		if res := o.rules.IsCompositionAllowed(n.ParentType, n.Item.Type, depth); !res.Valid {
			return attachPlan{}, newError(KindCompositionInvalid,
				map[string]any{"descendant_id": n.Item.ID, "parent_type": n.ParentType, "child_type": n.Item.Type, "depth": depth, "errors": res.Errors},
				"descendant %s would break composition at depth %d: %s", n.Item.ID, depth, res.Errors[0])
		}
	}
	if !o.rules.EnvelopeExempt(parent.Type, child.Type) {
		env := o.rules.CheckEnvelope(parent.StartDate, parent.EndDate, child.StartDate, child.EndDate)
		if !env.WithinWindow {
			return attachPlan{}, newError(KindParentEnvelopeViolation,
				map[string]any{"violation": env.Violation, "item_id": child.ID, "parent_item_id": parent.ID},
				"item %s escapes the dates of %s: %s", child.ID, parent.ID, env.Description)
		}
	}
	return attachPlan{child: child, parent: parent, newDepth: newDepth, subtree: subtree}, nil
}

func (o *operation) apply(ctx context.Context, p attachPlan) (Change, error) {
	parentID := p.parent.ID
	updated, err := o.repo.UpdateItemParentAndDepth(ctx, p.child.ID, &parentID, p.newDepth)
	if err != nil {
		return Change{}, fmt.Errorf("attach %s to %s: %w", p.child.ID, parentID, err)
	}
	n, err := o.depths.Apply(ctx, PlanDepths(p.subtree, p.newDepth))
	if err != nil {
		return Change{}, err
	}
	return Change{Item: updated, PreviousParentID: p.child.ParentItemID, PreviousDepth: p.child.ItemDepth, Repaired: n}, nil
}
