package engine

import "sync"

// A TableLock is the advisory lock of one table, shared by all handles
// opened on it. At most one handle owns the lock at a time; LockWait
// requests queue on the condition variable, LockNoWait requests fail
// immediately on contention.
type TableLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner any
}

func NewTableLock() *TableLock {
	l := &TableLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire grants the lock to owner. Reacquiring by the same owner is a
// no-op. ok is false only for LockNoWait requests that hit contention.
func (l *TableLock) Acquire(owner any, mode LockMode) (ok bool) {
	if mode == LockNone {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for l.owner != nil && l.owner != owner {
		if mode == LockNoWait {
			return false
		}
		l.cond.Wait()
	}
	l.owner = owner
	return true
}

// Release gives the lock back if owner holds it.
func (l *TableLock) Release(owner any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner == owner {
		l.owner = nil
		l.cond.Signal()
	}
}
