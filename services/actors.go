package services

import "sync"

// EntityLocks serializes all state transitions per entity id. Every
// command and tick against one realm, kingdom or city runs under that
// id's lock, so no two read-modify-write sequences for the same entity
// can interleave. Different ids never contend.
//
// The contract is "no two transitions for the same id overlap", not any
// particular runtime; a plain lock table is the smallest thing that
// honors it.
type EntityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEntityLocks() *EntityLocks {
	return &EntityLocks{locks: make(map[string]*sync.Mutex)}
}

func (e *EntityLocks) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// With runs fn while holding the entity's lock.
func (e *EntityLocks) With(entityID string, fn func() error) error {
	l := e.lockFor(entityID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// With2 holds two entity locks in a stable order, for operations that
// span a city and its kingdom's book. Ordering by id prevents deadlock
// between concurrent callers.
func (e *EntityLocks) With2(a, b string, fn func() error) error {
	if a == b {
		return e.With(a, fn)
	}
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	lf, ls := e.lockFor(first), e.lockFor(second)
	lf.Lock()
	defer lf.Unlock()
	ls.Lock()
	defer ls.Unlock()
	return fn()
}
