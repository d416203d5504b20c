package hierarchy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"planline/internal/domain"
	"planline/internal/hierarchy"
	"planline/internal/repo"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	repo  *repo.Memory
	rules *hierarchy.RuleTable
	m     *hierarchy.Mutator
	q     *hierarchy.Query
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithPolicy(t, hierarchy.DefaultPolicy())
}

func newFixtureWithPolicy(t *testing.T, p hierarchy.Policy) *fixture {
	t.Helper()
	rules, err := hierarchy.NewRuleTable(p)
	require.NoError(t, err)
	mem := repo.NewMemory()
	return &fixture{
		t:     t,
		ctx:   context.Background(),
		repo:  mem,
		rules: rules,
		m:     hierarchy.NewMutator(mem, rules),
		q:     hierarchy.NewQuery(mem, p),
	}
}

type itemOpt func(*domain.Item)

func inSection(id string) itemOpt {
	return func(it *domain.Item) { it.SectionID = id }
}

func dated(start, end string) itemOpt {
	return func(it *domain.Item) {
		it.StartDate = day(start)
		it.EndDate = day(end)
	}
}

func archived(it *domain.Item) { it.Status = domain.StatusArchived }

func day(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func (f *fixture) add(id string, typ domain.ItemType, opts ...itemOpt) domain.Item {
	f.t.Helper()
	it := domain.Item{
		ID:        id,
		ProjectID: "p1",
		SectionID: "s1",
		Type:      typ,
		Title:     id,
		Status:    domain.StatusNotStarted,
		CreatedAt: "2026-01-01T00:00:00Z",
		UpdatedAt: "2026-01-01T00:00:00Z",
	}
	for _, o := range opts {
		o(&it)
	}
	require.NoError(f.t, f.repo.InsertItem(f.ctx, it))
	return it
}

func (f *fixture) attach(childID, parentID string) {
	f.t.Helper()
	_, err := f.m.Attach(f.ctx, childID, parentID)
	require.NoError(f.t, err)
}

func (f *fixture) item(id string) domain.Item {
	f.t.Helper()
	it, err := f.repo.GetItem(f.ctx, id)
	require.NoError(f.t, err)
	return it
}

func (f *fixture) parentOf(id string) string {
	f.t.Helper()
	it := f.item(id)
	if it.ParentItemID == nil {
		return ""
	}
	return *it.ParentItemID
}

// chain adds a goal at depth 0 and n more goals below it, returning ids
// root first.
func (f *fixture) chain(prefix string, n int) []string {
	f.t.Helper()
	ids := []string{prefix + "0"}
	f.add(ids[0], domain.ItemTypeGoal)
	for i := 1; i <= n; i++ {
		id := prefix + string(rune('0'+i))
		f.add(id, domain.ItemTypeGoal)
		f.attach(id, ids[i-1])
		ids = append(ids, id)
	}
	return ids
}

// requireWellFormed checks every stored edge against the tree invariants.
func (f *fixture) requireWellFormed() {
	f.t.Helper()
	items, err := f.repo.ListItems(f.ctx, repo.ItemFilters{})
	require.NoError(f.t, err)
	byID := map[string]domain.Item{}
	for _, it := range items {
		byID[it.ID] = it
	}
	maxDepth := f.rules.MaxDepth()
	for _, it := range items {
		require.LessOrEqual(f.t, it.ItemDepth, maxDepth, "item %s too deep", it.ID)
		if it.IsRoot() {
			require.Zero(f.t, it.ItemDepth, "root %s has depth", it.ID)
			continue
		}
		parent, ok := byID[*it.ParentItemID]
		require.True(f.t, ok, "item %s has dangling parent", it.ID)
		require.Equal(f.t, parent.SectionID, it.SectionID, "item %s crosses sections", it.ID)
		require.Equal(f.t, parent.ItemDepth+1, it.ItemDepth, "item %s depth", it.ID)
		res := f.rules.IsCompositionAllowed(parent.Type, it.Type, it.ItemDepth)
		require.True(f.t, res.Valid, "item %s composition: %v", it.ID, res.Errors)
		if !f.rules.EnvelopeExempt(parent.Type, it.Type) {
			env := f.rules.CheckEnvelope(parent.StartDate, parent.EndDate, it.StartDate, it.EndDate)
			require.True(f.t, env.WithinWindow, "item %s envelope: %s", it.ID, env.Violation)
		}
		seen := map[string]bool{it.ID: true}
		cur := it
		for !cur.IsRoot() {
			require.False(f.t, seen[*cur.ParentItemID], "cycle through %s", it.ID)
			seen[*cur.ParentItemID] = true
			cur = byID[*cur.ParentItemID]
		}
	}
}
