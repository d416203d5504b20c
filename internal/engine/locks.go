package engine

import (
	"context"
	"sync"
)

// sectionLocks hands out one mutex per section id. Entries are dropped when
// their last holder unlocks.
type sectionLocks struct {
	mu      sync.Mutex
	entries map[string]*sectionLock
}

type sectionLock struct {
	mu   sync.Mutex
	refs int
}

func newSectionLocks() *sectionLocks {
	return &sectionLocks{entries: map[string]*sectionLock{}}
}

func (l *sectionLocks) lock(sectionID string) func() {
	l.mu.Lock()
	entry, ok := l.entries[sectionID]
	if !ok {
		entry = &sectionLock{}
		l.entries[sectionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, sectionID)
		}
		l.mu.Unlock()
	}
}

func (l *sectionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// lockItemSection serializes writers of the item's section. Unknown items
// are not locked; the operation itself reports them.
func (e Engine) lockItemSection(ctx context.Context, itemID string) func() {
	if e.locks == nil {
		return func() {}
	}
	sectionID, err := e.Repo.SectionOf(ctx, itemID)
	if err != nil || sectionID == "" {
		return func() {}
	}
	return e.locks.lock(sectionID)
}
