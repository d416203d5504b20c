package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"planline/internal/domain"
	"planline/internal/hierarchy"
)

var _ hierarchy.Repository = (*Memory)(nil)
var _ hierarchy.Transactor = (*Memory)(nil)

// Memory is an item store held in process memory. WithinTx snapshots the
// items and restores them when fn fails.
type Memory struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	items  map[string]domain.Item
	order  map[string]int
	seq    int
	faults map[string]error
}

func NewMemory() *Memory {
	return &Memory{
		items:  map[string]domain.Item{},
		order:  map[string]int{},
		faults: map[string]error{},
	}
}

// InjectFault makes the named method fail with err until cleared with nil.
func (m *Memory) InjectFault(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, method)
		return
	}
	m.faults[method] = err
}

func (m *Memory) fault(method string) error {
	if err, ok := m.faults[method]; ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (m *Memory) InsertItem(_ context.Context, it domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertItem"); err != nil {
		return err
	}
	if _, ok := m.items[it.ID]; ok {
		return fmt.Errorf("item %s already exists", it.ID)
	}
	m.seq++
	m.order[it.ID] = m.seq
	m.items[it.ID] = it
	return nil
}

// Put stores it as-is, replacing any existing row. Tests use it to plant
// states the engine would never produce.
func (m *Memory) Put(it domain.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.order[it.ID]; !ok {
		m.seq++
		m.order[it.ID] = m.seq
	}
	m.items[it.ID] = it
}

func (m *Memory) DeleteItem(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	delete(m.order, id)
	return nil
}

func (m *Memory) GetItem(_ context.Context, id string) (domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fault("GetItem"); err != nil {
		return domain.Item{}, err
	}
	it, ok := m.items[id]
	if !ok {
		return domain.Item{}, ErrNotFound
	}
	return it, nil
}

func (m *Memory) GetItemsByIDs(_ context.Context, ids []string) ([]domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fault("GetItemsByIDs"); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var res []domain.Item
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if it, ok := m.items[id]; ok {
			res = append(res, it)
		}
	}
	m.sortItems(res)
	return res, nil
}

func (m *Memory) GetChildrenOf(_ context.Context, parentID string) ([]domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fault("GetChildrenOf"); err != nil {
		return nil, err
	}
	var res []domain.Item
	for _, it := range m.items {
		if it.ParentItemID != nil && *it.ParentItemID == parentID {
			res = append(res, it)
		}
	}
	m.sortItems(res)
	return res, nil
}

func (m *Memory) ListItems(_ context.Context, f ItemFilters) ([]domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Item
	for _, it := range m.items {
		if f.ProjectID != "" && it.ProjectID != f.ProjectID {
			continue
		}
		if f.SectionID != "" && it.SectionID != f.SectionID {
			continue
		}
		if f.ParentID != "" && (it.ParentItemID == nil || *it.ParentItemID != f.ParentID) {
			continue
		}
		if f.Type != "" && it.Type != f.Type {
			continue
		}
		if f.Status != "" && it.Status != f.Status {
			continue
		}
		res = append(res, it)
	}
	m.sortItems(res)
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (m *Memory) UpdateItemParentAndDepth(_ context.Context, id string, parentID *string, depth int) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("UpdateItemParentAndDepth"); err != nil {
		return domain.Item{}, err
	}
	it, ok := m.items[id]
	if !ok {
		return domain.Item{}, ErrNotFound
	}
	if parentID == nil || *parentID == "" {
		it.ParentItemID = nil
	} else {
		p := *parentID
		it.ParentItemID = &p
	}
	it.ItemDepth = depth
	it.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	m.items[id] = it
	return it, nil
}

// BulkUpdateDepths applies all updates or none.
func (m *Memory) BulkUpdateDepths(_ context.Context, updates []domain.DepthUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("BulkUpdateDepths"); err != nil {
		return err
	}
	for _, u := range updates {
		if _, ok := m.items[u.ID]; !ok {
			return fmt.Errorf("depth update for %s: %w", u.ID, ErrNotFound)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, u := range updates {
		it := m.items[u.ID]
		it.ItemDepth = u.Depth
		it.UpdatedAt = now
		m.items[u.ID] = it
	}
	return nil
}

func (m *Memory) SectionOf(_ context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return "", ErrNotFound
	}
	return it.SectionID, nil
}

func (m *Memory) ListRootItems(_ context.Context, f domain.TreeFilter) ([]domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f.ItemID != "" {
		it, ok := m.items[f.ItemID]
		if !ok {
			return nil, ErrNotFound
		}
		return []domain.Item{it}, nil
	}
	var res []domain.Item
	for _, it := range m.items {
		if !it.IsRoot() {
			if _, ok := m.items[*it.ParentItemID]; ok {
				continue
			}
		}
		switch {
		case f.SectionID != "":
			if it.SectionID != f.SectionID {
				continue
			}
		case f.ProjectID != "":
			if it.ProjectID != f.ProjectID {
				continue
			}
		}
		res = append(res, it)
	}
	m.sortItems(res)
	return res, nil
}

// WithinTx serializes units of work and rolls the item set back when fn
// returns an error.
func (m *Memory) WithinTx(ctx context.Context, fn func(ctx context.Context, r hierarchy.Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	items := make(map[string]domain.Item, len(m.items))
	for k, v := range m.items {
		items[k] = v
	}
	order := make(map[string]int, len(m.order))
	for k, v := range m.order {
		order[k] = v
	}
	seq := m.seq
	m.mu.RUnlock()

	if err := fn(ctx, memoryTx{m}); err != nil {
		m.mu.Lock()
		m.items, m.order, m.seq = items, order, seq
		m.mu.Unlock()
		return err
	}
	return nil
}

// sortItems orders by insertion; callers hold mu.
func (m *Memory) sortItems(items []domain.Item) {
	sort.Slice(items, func(i, j int) bool { return m.order[items[i].ID] < m.order[items[j].ID] })
}

// memoryTx is the view handed to WithinTx callbacks. Nested units join the
// outer one.
type memoryTx struct {
	*Memory
}

func (t memoryTx) WithinTx(ctx context.Context, fn func(ctx context.Context, r hierarchy.Repository) error) error {
	return fn(ctx, t)
}
