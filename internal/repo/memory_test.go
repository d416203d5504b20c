package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planline/internal/domain"
	"planline/internal/hierarchy"
)

func TestMemoryWithinTxRestoresOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertItem(ctx, newItem("a", domain.ItemTypeGoal, "s1")))
	require.NoError(t, m.InsertItem(ctx, newItem("b", domain.ItemTypeTask, "s1")))

	boom := errors.New("boom")
	err := m.WithinTx(ctx, func(ctx context.Context, r hierarchy.Repository) error {
		a := "a"
		if _, err := r.UpdateItemParentAndDepth(ctx, "b", &a, 1); err != nil {
			return err
		}
		// nested units join the outer one
		return r.(hierarchy.Transactor).WithinTx(ctx, func(ctx context.Context, r hierarchy.Repository) error {
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	b, err := m.GetItem(ctx, "b")
	require.NoError(t, err)
	assert.True(t, b.IsRoot())
	assert.Equal(t, 0, b.ItemDepth)
}

func TestMemoryBulkUpdateIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertItem(ctx, newItem("a", domain.ItemTypeGoal, "s1")))

	err := m.BulkUpdateDepths(ctx, []domain.DepthUpdate{{ID: "a", Depth: 2}, {ID: "ghost", Depth: 1}})
	assert.ErrorIs(t, err, ErrNotFound)
	a, err := m.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, a.ItemDepth)
}

func TestMemoryFaultInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertItem(ctx, newItem("a", domain.ItemTypeGoal, "s1")))

	down := errors.New("down")
	m.InjectFault("GetItem", down)
	_, err := m.GetItem(ctx, "a")
	assert.ErrorIs(t, err, down)

	m.InjectFault("GetItem", nil)
	_, err = m.GetItem(ctx, "a")
	assert.NoError(t, err)
}

func TestMemoryOrderingAndFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, it := range []domain.Item{
		newItem("z", domain.ItemTypeGoal, "s1"),
		newItem("a", domain.ItemTypeGoal, "s2"),
		newItem("k", domain.ItemTypeTask, "s1"),
	} {
		require.NoError(t, m.InsertItem(ctx, it))
	}
	require.Error(t, m.InsertItem(ctx, newItem("z", domain.ItemTypeGoal, "s1")))

	roots, err := m.ListRootItems(ctx, domain.TreeFilter{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "k"}, itemIDs(roots))

	tasks, err := m.ListItems(ctx, ItemFilters{Type: domain.ItemTypeTask})
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, itemIDs(tasks))

	require.NoError(t, m.DeleteItem(ctx, "a"))
	assert.ErrorIs(t, m.DeleteItem(ctx, "a"), ErrNotFound)
	_, err = m.SectionOf(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}
