package hierarchy

import (
	"context"

	"planline/internal/domain"
)

// Repository is the storage surface the engine needs. GetItem returns an
// error wrapping domain.ErrNotFound when the id is unknown.
type Repository interface {
	GetItem(ctx context.Context, id string) (domain.Item, error)
	// GetItemsByIDs returns the items that exist; missing ids are skipped.
	GetItemsByIDs(ctx context.Context, ids []string) ([]domain.Item, error)
	GetChildrenOf(ctx context.Context, parentID string) ([]domain.Item, error)
	UpdateItemParentAndDepth(ctx context.Context, id string, parentID *string, depth int) (domain.Item, error)
	BulkUpdateDepths(ctx context.Context, updates []domain.DepthUpdate) error
	SectionOf(ctx context.Context, id string) (string, error)
	// ListRootItems returns the parentless items selected by filter. When
	// filter.ItemID is set it returns that single item whether or not it is
	// a root.
	ListRootItems(ctx context.Context, filter domain.TreeFilter) ([]domain.Item, error)
}

// Transactor is implemented by repositories that can run several writes as
// one unit: either fn's writes all persist or none do.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, r Repository) error) error
}
