package orchestrator

import (
	"sort"
	"sync"

	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

// Registry is the process-wide job table. Entries are inserted at submit,
// updated on every transition through the shared *Job, and retained after a
// terminal state until explicitly cleared or the process exits.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// insert adds j unless allowSameInput is off and a live job already holds the
// same input directory. The conflict scan and the insert happen under one
// lock so two concurrent submits for the same volume cannot both pass.
func (r *Registry) insert(j *Job, allowSameInput bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !allowSameInput {
		for _, existing := range r.jobs {
			if !existing.State().Terminal() && existing.Request.InputDir == j.Request.InputDir {
				return ErrInputBusy(j.Request.InputDir)
			}
		}
	}
	r.jobs[j.ID] = j
	return nil
}

// Get returns the job for id, or nil.
func (r *Registry) Get(id string) *Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[id]
}

// All returns every registered job, ordered by creation time.
func (r *Registry) All() []*Job {
	r.mu.RLock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool {
		if out[i].created.Equal(out[k].created) {
			return out[i].ID < out[k].ID
		}
		return out[i].created.Before(out[k].created)
	})
	return out
}

// Views returns the API projection of all jobs, ordered by creation time.
func (r *Registry) Views() []types.JobView {
	jobs := r.All()
	out := make([]types.JobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.View())
	}
	return out
}

// ActiveCount returns the number of non-terminal jobs.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, j := range r.jobs {
		if !j.State().Terminal() {
			n++
		}
	}
	return n
}

// Len returns the total number of retained jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Clear removes a terminal job. It refuses to drop in-flight jobs and
// reports NotFound for unknown ids.
func (r *Registry) Clear(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound(id)
	}
	if !j.State().Terminal() {
		return ErrJobActive(id)
	}
	delete(r.jobs, id)
	return nil
}

// ClearAll removes every terminal job and returns how many were dropped.
func (r *Registry) ClearAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, j := range r.jobs {
		if j.State().Terminal() {
			delete(r.jobs, id)
			n++
		}
	}
	return n
}
