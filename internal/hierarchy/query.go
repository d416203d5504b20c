package hierarchy

import (
	"context"
	"fmt"

	"planline/internal/domain"
)

// Query is the read-only view over item trees.
type Query struct {
	repo     Repository
	ancestry *Ancestry
	limit    int
}

func NewQuery(repo Repository, policy Policy) *Query {
	limit := policy.TraversalLimit()
	return &Query{repo: repo, ancestry: NewAncestry(repo, limit), limit: limit}
}

func (q *Query) GetChildren(ctx context.Context, itemID string) ([]domain.Item, error) {
	if _, err := loadItem(ctx, q.repo, itemID); err != nil {
		return nil, err
	}
	children, err := q.repo.GetChildrenOf(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load children of %s: %w", itemID, err)
	}
	return children, nil
}

// GetParent returns nil for roots and for items whose parent was deleted.
func (q *Query) GetParent(ctx context.Context, itemID string) (*domain.Item, error) {
	item, err := loadItem(ctx, q.repo, itemID)
	if err != nil {
		return nil, err
	}
	if item.IsRoot() {
		return nil, nil
	}
	items, err := q.repo.GetItemsByIDs(ctx, []string{*item.ParentItemID})
	if err != nil {
		return nil, fmt.Errorf("load parent of %s: %w", itemID, err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// GetPath returns the ancestor chain of itemID, root first, ending with the
// item itself.
func (q *Query) GetPath(ctx context.Context, itemID string) ([]domain.PathEntry, error) {
	item, err := loadItem(ctx, q.repo, itemID)
	if err != nil {
		return nil, err
	}
	chain, err := q.ancestry.Ancestors(ctx, item)
	if err != nil {
		return nil, err
	}
	path := make([]domain.PathEntry, 0, len(chain)+1)
	for i := len(chain) - 1; i >= 0; i-- {
		path = append(path, pathEntry(chain[i]))
	}
	return append(path, pathEntry(item)), nil
}

func (q *Query) GetRoot(ctx context.Context, itemID string) (domain.Item, error) {
	item, err := loadItem(ctx, q.repo, itemID)
	if err != nil {
		return domain.Item{}, err
	}
	chain, err := q.ancestry.Ancestors(ctx, item)
	if err != nil {
		return domain.Item{}, err
	}
	if len(chain) == 0 {
		return item, nil
	}
	return chain[len(chain)-1], nil
}

// GetAllDescendants returns every item below itemID in breadth-first order.
func (q *Query) GetAllDescendants(ctx context.Context, itemID string) ([]domain.Item, error) {
	item, err := loadItem(ctx, q.repo, itemID)
	if err != nil {
		return nil, err
	}
	nodes, err := q.ancestry.Subtree(ctx, item)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Item, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Item)
	}
	return out, nil
}

// BuildTree materializes the forest selected by filter depth-first.
// Archived items and everything below them are left out unless
// filter.IncludeArchived is set.
func (q *Query) BuildTree(ctx context.Context, filter domain.TreeFilter) ([]*domain.TreeNode, error) {
	if filter.ItemID != "" {
		if _, err := loadItem(ctx, q.repo, filter.ItemID); err != nil {
			return nil, err
		}
	}
	roots, err := q.repo.ListRootItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list roots: %w", err)
	}
	type frame struct {
		node  *domain.TreeNode
		level int
	}
	forest := make([]*domain.TreeNode, 0, len(roots))
	visited := map[string]bool{}
	var order []*domain.TreeNode
	var stack []frame
	for _, r := range roots {
		if !includeInTree(r, filter) {
			continue
		}
		node := &domain.TreeNode{Item: r, Children: []*domain.TreeNode{}}
		forest = append(forest, node)
		visited[r.ID] = true
		stack = append(stack, frame{node: node})
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, cur.node)
		children, err := q.repo.GetChildrenOf(ctx, cur.node.Item.ID)
		if err != nil {
			return nil, fmt.Errorf("load children of %s: %w", cur.node.Item.ID, err)
		}
		for _, c := range children {
			if !includeInTree(c, filter) {
				continue
			}
			if visited[c.ID] {
				return nil, newError(KindDataIntegrity, map[string]any{"repeated_id": c.ID},
					"item %s appears twice in the tree", c.ID)
			}
			if cur.level+1 > q.limit {
				return nil, newError(KindDataIntegrity, map[string]any{"item_id": c.ID, "limit": q.limit},
					"tree below %s is deeper than %d levels", cur.node.Item.ID, q.limit)
			}
			visited[c.ID] = true
			child := &domain.TreeNode{Item: c, Children: []*domain.TreeNode{}}
			cur.node.Children = append(cur.node.Children, child)
		}
		cur.node.ChildCount = len(cur.node.Children)
		for i := len(cur.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: cur.node.Children[i], level: cur.level + 1})
		}
	}
	// order is pre-order, so walking it backwards sees children first.
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		n.DescendantCount = 0
		for _, c := range n.Children {
			n.DescendantCount += c.DescendantCount + 1
		}
	}
	return forest, nil
}

func includeInTree(item domain.Item, filter domain.TreeFilter) bool {
	return filter.IncludeArchived || item.Status != domain.StatusArchived
}

func pathEntry(item domain.Item) domain.PathEntry {
	return domain.PathEntry{ID: item.ID, Title: item.Title, Type: item.Type, Depth: item.ItemDepth}
}
