package hierarchy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planline/internal/domain"
	"planline/internal/hierarchy"
)

func ptr(s string) *string { return &s }

func TestIsAncestor(t *testing.T) {
	f := newFixture(t)
	ids := f.chain("g", 3)
	f.add("x", domain.ItemTypeGoal)
	anc := hierarchy.NewAncestry(f.repo, 7)

	ok, err := anc.IsAncestor(f.ctx, ids[0], ids[3])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = anc.IsAncestor(f.ctx, ids[3], ids[0])
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = anc.IsAncestor(f.ctx, ids[1], ids[1])
	require.NoError(t, err)
	assert.False(t, ok, "an item is not its own proper ancestor")

	ok, err = anc.IsAncestor(f.ctx, "x", ids[2])
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = anc.IsAncestor(f.ctx, ids[0], "ghost")
	assert.ErrorIs(t, err, hierarchy.ErrNotFound)
}

func TestAncestorsNearestFirst(t *testing.T) {
	f := newFixture(t)
	ids := f.chain("g", 3)
	anc := hierarchy.NewAncestry(f.repo, 7)

	chain, err := anc.Ancestors(f.ctx, f.item(ids[3]))
	require.NoError(t, err)
	var got []string
	for _, it := range chain {
		got = append(got, it.ID)
	}
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, got)
}

func TestWalkUpDetectsStoredLoop(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(domain.Item{ID: "a", SectionID: "s1", Type: domain.ItemTypeTask, ParentItemID: ptr("b"), ItemDepth: 1})
	f.repo.Put(domain.Item{ID: "b", SectionID: "s1", Type: domain.ItemTypeTask, ParentItemID: ptr("a"), ItemDepth: 1})
	f.add("c", domain.ItemTypeTask)
	anc := hierarchy.NewAncestry(f.repo, 7)

	_, err := anc.IsAncestor(f.ctx, "c", "a")
	assert.ErrorIs(t, err, hierarchy.ErrDataIntegrity)

	_, err = f.m.Attach(f.ctx, "c", "a")
	assert.ErrorIs(t, err, hierarchy.ErrDataIntegrity)
}

func TestWalkUpGivesUpPastLimit(t *testing.T) {
	f := newFixture(t)
	ids := f.chain("g", 5)
	anc := hierarchy.NewAncestry(f.repo, 3)

	_, err := anc.IsAncestor(f.ctx, "nope", ids[5])
	he, ok := hierarchy.AsError(err)
	require.True(t, ok)
	assert.Equal(t, hierarchy.KindDataIntegrity, he.Kind)
	assert.Equal(t, 3, he.Details["limit"])
}

func TestDanglingParentEndsChain(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(domain.Item{ID: "orphan", SectionID: "s1", Type: domain.ItemTypeTask, ParentItemID: ptr("deleted"), ItemDepth: 1})
	anc := hierarchy.NewAncestry(f.repo, 7)

	chain, err := anc.Ancestors(f.ctx, f.item("orphan"))
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestSubtreeRelativeDepths(t *testing.T) {
	f := newFixture(t)
	f.add("g", domain.ItemTypeGoal)
	f.add("m", domain.ItemTypeMilestone)
	f.add("t1", domain.ItemTypeTask)
	f.add("t2", domain.ItemTypeTask)
	f.add("n", domain.ItemTypeNote)
	f.attach("m", "g")
	f.attach("t1", "m")
	f.attach("t2", "m")
	f.attach("n", "t2")
	anc := hierarchy.NewAncestry(f.repo, 7)

	nodes, err := anc.Subtree(f.ctx, f.item("g"))
	require.NoError(t, err)
	rel := map[string]int{}
	parents := map[string]domain.ItemType{}
	for _, n := range nodes {
		rel[n.Item.ID] = n.Relative
		parents[n.Item.ID] = n.ParentType
	}
	assert.Equal(t, map[string]int{"m": 1, "t1": 2, "t2": 2, "n": 3}, rel)
	assert.Equal(t, domain.ItemTypeTask, parents["n"])
	assert.Equal(t, 3, hierarchy.Height(nodes))
	assert.Equal(t, 0, hierarchy.Height(nil))
}

func TestSubtreeDetectsStoredLoop(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(domain.Item{ID: "a", SectionID: "s1", Type: domain.ItemTypeTask, ParentItemID: ptr("b"), ItemDepth: 1})
	f.repo.Put(domain.Item{ID: "b", SectionID: "s1", Type: domain.ItemTypeTask, ParentItemID: ptr("a"), ItemDepth: 1})
	anc := hierarchy.NewAncestry(f.repo, 7)

	_, err := anc.Subtree(f.ctx, f.item("a"))
	assert.ErrorIs(t, err, hierarchy.ErrDataIntegrity)
}

func TestDepthRepairFixesStaleDepths(t *testing.T) {
	f := newFixture(t)
	f.add("g", domain.ItemTypeGoal)
	f.add("t", domain.ItemTypeTask)
	f.attach("t", "g")
	f.repo.Put(domain.Item{ID: "stale", SectionID: "s1", Type: domain.ItemTypeNote, ParentItemID: ptr("t"), ItemDepth: 4})
	anc := hierarchy.NewAncestry(f.repo, 7)

	n, err := hierarchy.NewDepthRepair(f.repo, anc).Repair(f.ctx, "g", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, f.item("stale").ItemDepth)

	n, err = hierarchy.NewDepthRepair(f.repo, anc).Repair(f.ctx, "g", 0)
	require.NoError(t, err)
	assert.Zero(t, n, "second pass has nothing to fix")
}

func TestPlanDepthsSkipsCorrectRows(t *testing.T) {
	nodes := []hierarchy.SubtreeNode{
		{Item: domain.Item{ID: "a", ItemDepth: 2}, Relative: 1},
		{Item: domain.Item{ID: "b", ItemDepth: 2}, Relative: 2},
	}
	plan := hierarchy.PlanDepths(nodes, 1)
	assert.Equal(t, []domain.DepthUpdate{{ID: "b", Depth: 3}}, plan)
}
