package hierarchy_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planline/internal/domain"
	"planline/internal/hierarchy"
	"planline/internal/repo"
)

func TestAttachSetsParentAndDepth(t *testing.T) {
	f := newFixture(t)
	f.add("g", domain.ItemTypeGoal)
	f.add("m", domain.ItemTypeMilestone)

	ch, err := f.m.Attach(f.ctx, "m", "g")
	require.NoError(t, err)
	assert.Equal(t, "g", *ch.Item.ParentItemID)
	assert.Equal(t, 1, ch.Item.ItemDepth)
	assert.Nil(t, ch.PreviousParentID)
	assert.Equal(t, 0, ch.PreviousDepth)
	assert.Equal(t, "g", f.parentOf("m"))
	f.requireWellFormed()
}

func TestAttachRejections(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture) (child, parent string)
		kind   hierarchy.Kind
		detail map[string]any
	}{
		{
			name: "self reference",
			setup: func(f *fixture) (string, string) {
				f.add("t", domain.ItemTypeTask)
				return "t", "t"
			},
			kind: hierarchy.KindSelfReference,
		},
		{
			name: "missing child",
			setup: func(f *fixture) (string, string) {
				f.add("g", domain.ItemTypeGoal)
				return "ghost", "g"
			},
			kind:   hierarchy.KindNotFound,
			detail: map[string]any{"item_id": "ghost"},
		},
		{
			name: "missing parent",
			setup: func(f *fixture) (string, string) {
				f.add("t", domain.ItemTypeTask)
				return "t", "ghost"
			},
			kind:   hierarchy.KindNotFound,
			detail: map[string]any{"item_id": "ghost"},
		},
		{
			name: "already has parent",
			setup: func(f *fixture) (string, string) {
				f.add("g", domain.ItemTypeGoal)
				f.add("g2", domain.ItemTypeGoal)
				f.add("m", domain.ItemTypeMilestone)
				f.attach("m", "g")
				return "m", "g2"
			},
			kind: hierarchy.KindAlreadyHasParent,
		},
		{
			name: "different section",
			setup: func(f *fixture) (string, string) {
				f.add("g", domain.ItemTypeGoal)
				f.add("t", domain.ItemTypeTask, inSection("s2"))
				return "t", "g"
			},
			kind: hierarchy.KindDifferentSection,
		},
		{
			name: "cycle",
			setup: func(f *fixture) (string, string) {
				ids := f.chain("g", 1)
				return ids[0], ids[1]
			},
			kind: hierarchy.KindCycleDetected,
		},
		{
			name: "parent at max depth",
			setup: func(f *fixture) (string, string) {
				ids := f.chain("g", 5)
				f.add("t", domain.ItemTypeTask)
				return "t", ids[5]
			},
			kind:   hierarchy.KindMaxDepthExceeded,
			detail: map[string]any{"depth": 6, "max_depth": 5},
		},
		{
			name: "subtree would overflow",
			setup: func(f *fixture) (string, string) {
				ids := f.chain("a", 4)
				f.add("b", domain.ItemTypeGoal)
				f.add("c", domain.ItemTypeGoal)
				f.attach("c", "b")
				return "b", ids[4]
			},
			kind:   hierarchy.KindMaxDepthExceeded,
			detail: map[string]any{"subtree_height": 1},
		},
		{
			name: "type pairing",
			setup: func(f *fixture) (string, string) {
				f.add("t", domain.ItemTypeTask)
				f.add("m", domain.ItemTypeMilestone)
				return "m", "t"
			},
			kind: hierarchy.KindCompositionInvalid,
		},
		{
			name: "leaf type parent",
			setup: func(f *fixture) (string, string) {
				f.add("n", domain.ItemTypeNote)
				f.add("t", domain.ItemTypeTask)
				return "t", "n"
			},
			kind: hierarchy.KindCompositionInvalid,
		},
		{
			name: "descendant pairing at shifted depth",
			setup: func(f *fixture) (string, string) {
				ids := f.chain("g", 3)
				f.add("h", domain.ItemTypeHabit)
				f.add("n", domain.ItemTypeNote)
				f.attach("n", "h")
				return "h", ids[3]
			},
			kind:   hierarchy.KindCompositionInvalid,
			detail: map[string]any{"descendant_id": "n"},
		},
		{
			name: "date envelope",
			setup: func(f *fixture) (string, string) {
				f.add("m", domain.ItemTypeMilestone, dated("2026-01-01", "2026-01-31"))
				f.add("t", domain.ItemTypeTask, dated("2026-01-15", "2026-02-10"))
				return "t", "m"
			},
			kind:   hierarchy.KindParentEnvelopeViolation,
			detail: map[string]any{"violation": hierarchy.ViolationEndsAfterParent},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			child, parent := tc.setup(f)
			before, err := f.repo.ListItems(f.ctx, repo.ItemFilters{})
			require.NoError(t, err)

			_, err = f.m.Attach(f.ctx, child, parent)
			require.Error(t, err)
			he, ok := hierarchy.AsError(err)
			require.True(t, ok, "expected hierarchy error, got %v", err)
			assert.Equal(t, tc.kind, he.Kind)
			assert.NotEmpty(t, he.Message)
			for k, v := range tc.detail {
				assert.Equal(t, v, he.Details[k], "detail %s", k)
			}

			after, err := f.repo.ListItems(f.ctx, repo.ItemFilters{})
			require.NoError(t, err)
			assert.Equal(t, before, after, "rejected attach must not write")
		})
	}
}

func TestAttachEnvelopeExemptChild(t *testing.T) {
	f := newFixture(t)
	f.add("m", domain.ItemTypeMilestone, dated("2026-01-01", "2026-01-31"))
	f.add("n", domain.ItemTypeNote, dated("2025-06-01", "2027-01-01"))

	f.attach("n", "m")
	assert.Equal(t, "m", f.parentOf("n"))
}

func TestAttachUndatedChildUnderDatedParent(t *testing.T) {
	f := newFixture(t)
	f.add("m", domain.ItemTypeMilestone, dated("2026-01-01", "2026-01-31"))
	f.add("t", domain.ItemTypeTask)

	f.attach("t", "m")
	f.requireWellFormed()
}

func TestAttachRepairsSubtreeDepths(t *testing.T) {
	f := newFixture(t)
	f.add("a", domain.ItemTypeGoal)
	f.add("b", domain.ItemTypeGoal)
	f.add("c", domain.ItemTypeMilestone)
	f.add("d", domain.ItemTypeTask)
	f.attach("c", "b")
	f.attach("d", "c")

	ch, err := f.m.Attach(f.ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, ch.Repaired)
	assert.Equal(t, 1, f.item("b").ItemDepth)
	assert.Equal(t, 2, f.item("c").ItemDepth)
	assert.Equal(t, 3, f.item("d").ItemDepth)
	f.requireWellFormed()
}

func TestAttachShiftsWholeSubtreeByParentOffset(t *testing.T) {
	f := newFixture(t)
	chain := f.chain("p", 2)
	f.add("r", domain.ItemTypeGoal)
	f.add("m", domain.ItemTypeMilestone)
	f.add("t", domain.ItemTypeTask)
	f.attach("m", "r")
	f.attach("t", "m")

	subtree := []string{"r", "m", "t"}
	before := map[string]int{}
	for _, id := range subtree {
		before[id] = f.item(id).ItemDepth
	}
	require.Equal(t, map[string]int{"r": 0, "m": 1, "t": 2}, before)

	ch, err := f.m.Attach(f.ctx, "r", chain[2])
	require.NoError(t, err)
	offset := ch.Item.ItemDepth - ch.PreviousDepth
	assert.Equal(t, 3, offset)
	for _, id := range subtree {
		assert.Equal(t, offset, f.item(id).ItemDepth-before[id], "depth shift of %s", id)
	}
	assert.Equal(t, 5, f.item("t").ItemDepth)
	assert.Equal(t, 2, ch.Repaired)
	f.requireWellFormed()
}

func TestAttachReplacesDanglingParent(t *testing.T) {
	f := newFixture(t)
	f.add("g", domain.ItemTypeGoal)
	f.repo.Put(domain.Item{ID: "orphan", ProjectID: "p1", SectionID: "s1", Type: domain.ItemTypeTask, Status: domain.StatusNotStarted, ParentItemID: ptr("deleted"), ItemDepth: 3})
	f.repo.Put(domain.Item{ID: "leaf", ProjectID: "p1", SectionID: "s1", Type: domain.ItemTypeNote, Status: domain.StatusNotStarted, ParentItemID: ptr("orphan"), ItemDepth: 4})

	root, err := f.q.GetRoot(f.ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, "orphan", root.ID)

	ch, err := f.m.Attach(f.ctx, "orphan", "g")
	require.NoError(t, err)
	require.NotNil(t, ch.PreviousParentID)
	assert.Equal(t, "deleted", *ch.PreviousParentID)
	assert.Equal(t, "g", f.parentOf("orphan"))
	assert.Equal(t, 1, f.item("orphan").ItemDepth)
	assert.Equal(t, 2, f.item("leaf").ItemDepth)
	f.requireWellFormed()
}

func TestDetachClearsDanglingParent(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(domain.Item{ID: "orphan", ProjectID: "p1", SectionID: "s1", Type: domain.ItemTypeTask, Status: domain.StatusNotStarted, ParentItemID: ptr("deleted"), ItemDepth: 2})

	ch, err := f.m.Detach(f.ctx, "orphan")
	require.NoError(t, err)
	assert.True(t, ch.Item.IsRoot())
	assert.Equal(t, 0, f.item("orphan").ItemDepth)
	f.requireWellFormed()
}

func TestDetachMakesRootAndRepairs(t *testing.T) {
	f := newFixture(t)
	f.add("a", domain.ItemTypeGoal)
	f.add("b", domain.ItemTypeMilestone)
	f.add("c", domain.ItemTypeTask)
	f.add("d", domain.ItemTypeNote)
	f.attach("b", "a")
	f.attach("c", "b")
	f.attach("d", "c")

	ch, err := f.m.Detach(f.ctx, "b")
	require.NoError(t, err)
	assert.True(t, ch.Item.IsRoot())
	assert.Equal(t, 0, ch.Item.ItemDepth)
	require.NotNil(t, ch.PreviousParentID)
	assert.Equal(t, "a", *ch.PreviousParentID)
	assert.Equal(t, 1, ch.PreviousDepth)
	assert.Equal(t, 2, ch.Repaired)
	assert.Equal(t, 1, f.item("c").ItemDepth)
	assert.Equal(t, 2, f.item("d").ItemDepth)
	assert.Equal(t, "b", f.parentOf("c"))
	f.requireWellFormed()
}

func TestDetachErrors(t *testing.T) {
	f := newFixture(t)
	f.add("a", domain.ItemTypeGoal)

	_, err := f.m.Detach(f.ctx, "a")
	assert.ErrorIs(t, err, hierarchy.ErrNoParent)

	_, err = f.m.Detach(f.ctx, "ghost")
	assert.ErrorIs(t, err, hierarchy.ErrNotFound)
}

func TestDetachThenReattachRestoresDepths(t *testing.T) {
	f := newFixture(t)
	f.add("a", domain.ItemTypeGoal)
	f.add("b", domain.ItemTypeGoal)
	f.add("c", domain.ItemTypeTask)
	f.attach("b", "a")
	f.attach("c", "b")
	before := []int{f.item("a").ItemDepth, f.item("b").ItemDepth, f.item("c").ItemDepth}

	_, err := f.m.Detach(f.ctx, "b")
	require.NoError(t, err)
	f.attach("b", "a")

	after := []int{f.item("a").ItemDepth, f.item("b").ItemDepth, f.item("c").ItemDepth}
	assert.Equal(t, before, after)
}

func TestMoveBetweenParents(t *testing.T) {
	f := newFixture(t)
	f.add("g1", domain.ItemTypeGoal)
	f.add("g3", domain.ItemTypeGoal)
	f.add("g2", domain.ItemTypeGoal)
	f.add("m", domain.ItemTypeMilestone)
	f.add("t", domain.ItemTypeTask)
	f.attach("g2", "g3")
	f.attach("m", "g1")
	f.attach("t", "m")

	target := "g2"
	ch, err := f.m.Move(f.ctx, "m", &target)
	require.NoError(t, err)
	require.NotNil(t, ch.PreviousParentID)
	assert.Equal(t, "g1", *ch.PreviousParentID)
	assert.Equal(t, "g2", f.parentOf("m"))
	assert.Equal(t, 2, f.item("m").ItemDepth)
	assert.Equal(t, 3, f.item("t").ItemDepth)
	assert.Equal(t, 1, ch.Repaired)
	f.requireWellFormed()
}

func TestMoveVariants(t *testing.T) {
	t.Run("nil parent detaches", func(t *testing.T) {
		f := newFixture(t)
		f.add("g", domain.ItemTypeGoal)
		f.add("t", domain.ItemTypeTask)
		f.attach("t", "g")

		ch, err := f.m.Move(f.ctx, "t", nil)
		require.NoError(t, err)
		assert.True(t, ch.Item.IsRoot())
		assert.Equal(t, "", f.parentOf("t"))
	})
	t.Run("empty parent detaches", func(t *testing.T) {
		f := newFixture(t)
		f.add("g", domain.ItemTypeGoal)
		f.add("t", domain.ItemTypeTask)
		f.attach("t", "g")

		empty := ""
		_, err := f.m.Move(f.ctx, "t", &empty)
		require.NoError(t, err)
		assert.Equal(t, "", f.parentOf("t"))
	})
	t.Run("root item attaches", func(t *testing.T) {
		f := newFixture(t)
		f.add("g", domain.ItemTypeGoal)
		f.add("t", domain.ItemTypeTask)

		target := "g"
		_, err := f.m.Move(f.ctx, "t", &target)
		require.NoError(t, err)
		assert.Equal(t, "g", f.parentOf("t"))
	})
	t.Run("same parent is a no-op", func(t *testing.T) {
		f := newFixture(t)
		f.add("g", domain.ItemTypeGoal)
		f.add("t", domain.ItemTypeTask)
		f.attach("t", "g")
		before := f.item("t")

		target := "g"
		ch, err := f.m.Move(f.ctx, "t", &target)
		require.NoError(t, err)
		assert.Zero(t, ch.Repaired)
		assert.Equal(t, before, f.item("t"))
	})
	t.Run("root to nil is no parent", func(t *testing.T) {
		f := newFixture(t)
		f.add("t", domain.ItemTypeTask)

		_, err := f.m.Move(f.ctx, "t", nil)
		assert.ErrorIs(t, err, hierarchy.ErrNoParent)
	})
	t.Run("self", func(t *testing.T) {
		f := newFixture(t)
		f.add("t", domain.ItemTypeTask)

		target := "t"
		_, err := f.m.Move(f.ctx, "t", &target)
		assert.ErrorIs(t, err, hierarchy.ErrSelfReference)
	})
}

func TestMoveIntoOwnSubtreeKeepsParent(t *testing.T) {
	f := newFixture(t)
	ids := f.chain("g", 2)

	target := ids[2]
	_, err := f.m.Move(f.ctx, ids[1], &target)
	assert.ErrorIs(t, err, hierarchy.ErrCycleDetected)
	assert.Equal(t, ids[0], f.parentOf(ids[1]))
	assert.Equal(t, 1, f.item(ids[1]).ItemDepth)
	f.requireWellFormed()
}

func TestMoveRejectedByEnvelopeKeepsParent(t *testing.T) {
	f := newFixture(t)
	f.add("m1", domain.ItemTypeMilestone, dated("2026-01-01", "2026-03-31"))
	f.add("m2", domain.ItemTypeMilestone, dated("2026-04-01", "2026-04-30"))
	f.add("t", domain.ItemTypeTask, dated("2026-02-01", "2026-02-10"))
	f.attach("t", "m1")

	target := "m2"
	_, err := f.m.Move(f.ctx, "t", &target)
	assert.ErrorIs(t, err, hierarchy.ErrParentEnvelopeViolation)
	assert.Equal(t, "m1", f.parentOf("t"))
}

func TestMoveRollsBackWhenDepthWriteFails(t *testing.T) {
	f := newFixture(t)
	f.add("g1", domain.ItemTypeGoal)
	f.add("g3", domain.ItemTypeGoal)
	f.add("g2", domain.ItemTypeGoal)
	f.add("m", domain.ItemTypeMilestone)
	f.add("t", domain.ItemTypeTask)
	f.attach("g2", "g3")
	f.attach("m", "g1")
	f.attach("t", "m")

	diskFull := errors.New("disk full")
	f.repo.InjectFault("BulkUpdateDepths", diskFull)
	target := "g2"
	_, err := f.m.Move(f.ctx, "m", &target)
	require.ErrorIs(t, err, diskFull)
	assert.Equal(t, hierarchy.Kind(""), hierarchy.KindOf(err))

	f.repo.InjectFault("BulkUpdateDepths", nil)
	assert.Equal(t, "g1", f.parentOf("m"))
	assert.Equal(t, 1, f.item("m").ItemDepth)
	assert.Equal(t, 2, f.item("t").ItemDepth)
	f.requireWellFormed()
}

// Random operation sequences never break the invariants, and rejected
// operations never change stored state.
func TestRandomOperationsPreserveInvariants(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(42))
	windows := [][2]string{
		{"", ""},
		{"2026-01-01", "2026-12-31"},
		{"2026-03-01", "2026-03-31"},
		{"2026-03-10", "2026-03-20"},
		{"2026-06-01", ""},
	}
	var ids []string
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("i%02d", i)
		typ := domain.ItemTypes[rng.Intn(len(domain.ItemTypes))]
		w := windows[rng.Intn(len(windows))]
		section := "s1"
		if i%5 == 0 {
			section = "s2"
		}
		f.add(id, typ, dated(w[0], w[1]), inSection(section))
		ids = append(ids, id)
	}

	var accepted int
	for step := 0; step < 400; step++ {
		before, err := f.repo.ListItems(f.ctx, repo.ItemFilters{})
		require.NoError(t, err)

		a := ids[rng.Intn(len(ids))]
		b := ids[rng.Intn(len(ids))]
		switch rng.Intn(3) {
		case 0:
			_, err = f.m.Attach(f.ctx, a, b)
		case 1:
			_, err = f.m.Detach(f.ctx, a)
		default:
			if rng.Intn(4) == 0 {
				_, err = f.m.Move(f.ctx, a, nil)
			} else {
				_, err = f.m.Move(f.ctx, a, &b)
			}
		}
		if err != nil {
			_, ok := hierarchy.AsError(err)
			require.True(t, ok, "step %d: unexpected error %v", step, err)
			after, lerr := f.repo.ListItems(f.ctx, repo.ItemFilters{})
			require.NoError(t, lerr)
			require.Equal(t, before, after, "step %d: rejected operation wrote", step)
		} else {
			accepted++
		}
		f.requireWellFormed()
	}
	assert.Positive(t, accepted)
}
