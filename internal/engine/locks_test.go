package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSectionLocksSerializeAndRelease(t *testing.T) {
	l := newSectionLocks()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock("s1")
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, l.size())
}

func TestSectionLocksAreIndependent(t *testing.T) {
	l := newSectionLocks()
	unlockA := l.lock("a")
	unlockB := l.lock("b")
	assert.Equal(t, 2, l.size())
	unlockA()
	unlockB()
	assert.Equal(t, 0, l.size())
}
