package vault

import "sync"

// vaultLocks serializes mutating operations per owner. Each operation
// reads the vault, computes a hypothetical post-state and writes; a
// lost update between two concurrent mutations on the same vault
// would violate the ratio invariant. Operations on different vaults
// proceed in parallel.
//
// Entries are refcounted and dropped when the last holder releases,
// so the map only holds owners with an operation in flight.
type vaultLocks struct {
	mu    sync.Mutex
	locks map[string]*ownerLock
}

type ownerLock struct {
	sync.Mutex
	refs int
}

func newVaultLocks() *vaultLocks {
	return &vaultLocks{locks: make(map[string]*ownerLock)}
}

func (l *vaultLocks) lock(owner string) func() {
	l.mu.Lock()
	m, ok := l.locks[owner]
	if !ok {
		m = &ownerLock{}
		l.locks[owner] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()

		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, owner)
		}
		l.mu.Unlock()
	}
}
