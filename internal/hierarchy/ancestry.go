package hierarchy

import (
	"context"
	"errors"
	"fmt"

	"planline/internal/domain"
)

// SubtreeNode is one descendant found by a downward walk. Relative is the
// number of hops from the walk's root.
type SubtreeNode struct {
	Item       domain.Item
	Relative   int
	ParentType domain.ItemType
}

// Ancestry answers ancestor/descendant questions against the parent
// pointers currently persisted in the repository. Every walk is iterative
// and gives up after limit hops.
type Ancestry struct {
	repo  Repository
	limit int
}

func NewAncestry(repo Repository, limit int) *Ancestry {
	return &Ancestry{repo: repo, limit: limit}
}

// IsAncestor reports whether ancestorID is a proper ancestor of descendantID.
func (a *Ancestry) IsAncestor(ctx context.Context, ancestorID, descendantID string) (bool, error) {
	if ancestorID == descendantID {
		return false, nil
	}
	start, err := loadItem(ctx, a.repo, descendantID)
	if err != nil {
		return false, err
	}
	found := false
	err = a.walkUp(ctx, start, func(parent domain.Item) bool {
		if parent.ID == ancestorID {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// Ancestors returns the chain above item, nearest parent first. A parent
// pointer to a deleted item ends the chain.
func (a *Ancestry) Ancestors(ctx context.Context, item domain.Item) ([]domain.Item, error) {
	var chain []domain.Item
	err := a.walkUp(ctx, item, func(parent domain.Item) bool {
		chain = append(chain, parent)
		return true
	})
	return chain, err
}

func (a *Ancestry) walkUp(ctx context.Context, start domain.Item, visit func(domain.Item) bool) error {
	visited := map[string]bool{start.ID: true}
	cur := start
	for hops := 1; !cur.IsRoot(); hops++ {
		parentID := *cur.ParentItemID
		if visited[parentID] {
			return newError(KindDataIntegrity, map[string]any{"item_id": start.ID, "repeated_id": parentID},
				"parent chain of %s loops through %s", start.ID, parentID)
		}
		if hops > a.limit {
			return newError(KindDataIntegrity, map[string]any{"item_id": start.ID, "limit": a.limit},
				"parent chain of %s is deeper than %d hops", start.ID, a.limit)
		}
		visited[parentID] = true
		parent, err := a.repo.GetItem(ctx, parentID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load parent %s: %w", parentID, err)
		}
		if !visit(parent) {
			return nil
		}
		cur = parent
	}
	return nil
}

// Subtree walks breadth-first below root and returns every descendant.
func (a *Ancestry) Subtree(ctx context.Context, root domain.Item) ([]SubtreeNode, error) {
	type entry struct {
		item     domain.Item
		relative int
	}
	var out []SubtreeNode
	visited := map[string]bool{root.ID: true}
	queue := []entry{{item: root}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := a.repo.GetChildrenOf(ctx, cur.item.ID)
		if err != nil {
			return nil, fmt.Errorf("load children of %s: %w", cur.item.ID, err)
		}
		if len(children) > 0 && cur.relative+1 > a.limit {
			return nil, newError(KindDataIntegrity, map[string]any{"item_id": root.ID, "limit": a.limit},
				"subtree of %s is deeper than %d levels", root.ID, a.limit)
		}
		for _, child := range children {
			if visited[child.ID] {
				return nil, newError(KindDataIntegrity, map[string]any{"item_id": root.ID, "repeated_id": child.ID},
					"subtree of %s reaches %s twice", root.ID, child.ID)
			}
			visited[child.ID] = true
			out = append(out, SubtreeNode{Item: child, Relative: cur.relative + 1, ParentType: cur.item.Type})
			queue = append(queue, entry{item: child, relative: cur.relative + 1})
		}
	}
	return out, nil
}

// Height is the largest Relative in nodes, 0 for a leaf.
func Height(nodes []SubtreeNode) int {
	h := 0
	for _, n := range nodes {
		if n.Relative > h {
			h = n.Relative
		}
	}
	return h
}

func loadItem(ctx context.Context, repo Repository, id string) (domain.Item, error) {
	item, err := repo.GetItem(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Item{}, notFound(id)
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("load item %s: %w", id, err)
	}
	return item, nil
}
