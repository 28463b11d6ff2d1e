package vault

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVaultLocksEvictIdleOwners(t *testing.T) {
	locks := newVaultLocks()

	unlock := locks.lock("owner-a")
	other := locks.lock("owner-b")

	locks.mu.Lock()
	assert.Len(t, locks.locks, 2)
	locks.mu.Unlock()

	unlock()
	other()

	locks.mu.Lock()
	assert.Empty(t, locks.locks)
	locks.mu.Unlock()
}

func TestVaultLocksEvictAfterContention(t *testing.T) {
	locks := newVaultLocks()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("owner-a")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, counter)
	locks.mu.Lock()
	assert.Empty(t, locks.locks)
	locks.mu.Unlock()
}
