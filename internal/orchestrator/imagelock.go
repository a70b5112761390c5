package orchestrator

import "sync"

// refLocks serializes mutating image operations per reference. A pull and a
// remove racing on the same reference is undefined at the engine level, so
// both paths take the reference's lock first. Locks are never evicted; the
// set of distinct references a process sees is small.
type refLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newRefLocks() *refLocks {
	return &refLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks ref and returns the release function.
func (r *refLocks) acquire(ref string) func() {
	r.mu.Lock()
	l, ok := r.locks[ref]
	if !ok {
		l = &sync.Mutex{}
		r.locks[ref] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}
