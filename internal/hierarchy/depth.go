package hierarchy

import (
	"context"
	"fmt"

	"planline/internal/domain"
)

// DepthRepair rewrites the cached depth of every descendant of a subtree root
// after the root's own depth changed.
type DepthRepair struct {
	repo     Repository
	ancestry *Ancestry
}

func NewDepthRepair(repo Repository, ancestry *Ancestry) *DepthRepair {
	return &DepthRepair{repo: repo, ancestry: ancestry}
}

// Repair recomputes depths below rootID given the root now sits at newDepth.
// The full update set is built before anything is written. It returns the
// number of descendants written.
func (d *DepthRepair) Repair(ctx context.Context, rootID string, newDepth int) (int, error) {
	root, err := loadItem(ctx, d.repo, rootID)
	if err != nil {
		return 0, err
	}
	nodes, err := d.ancestry.Subtree(ctx, root)
	if err != nil {
		return 0, err
	}
	return d.Apply(ctx, PlanDepths(nodes, newDepth))
}

// Apply writes a precomputed plan in one batch.
func (d *DepthRepair) Apply(ctx context.Context, plan []domain.DepthUpdate) (int, error) {
	if len(plan) == 0 {
		return 0, nil
	}
	if err := d.repo.BulkUpdateDepths(ctx, plan); err != nil {
		return 0, fmt.Errorf("bulk update depths: %w", err)
	}
	return len(plan), nil
}

// PlanDepths maps every subtree node to rootDepth + its relative depth,
// skipping nodes whose stored depth is already right.
func PlanDepths(nodes []SubtreeNode, rootDepth int) []domain.DepthUpdate {
	plan := make([]domain.DepthUpdate, 0, len(nodes))
	for _, n := range nodes {
		want := rootDepth + n.Relative
		if n.Item.ItemDepth == want {
			continue
		}
		plan = append(plan, domain.DepthUpdate{ID: n.Item.ID, Depth: want})
	}
	return plan
}
