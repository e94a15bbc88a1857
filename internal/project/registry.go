package project

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the loaded jobs. It is safe for concurrent use and can be
// swapped wholesale when the configuration is reloaded.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewRegistry creates a new job registry
func NewRegistry(jobs map[string]*Job) *Registry {
	if jobs == nil {
		jobs = make(map[string]*Job)
	}
	return &Registry{
		jobs: jobs,
	}
}

// Get retrieves a job by name
func (r *Registry) Get(name string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, exists := r.jobs[name]
	if !exists {
		return nil, fmt.Errorf("job '%s' not found", name)
	}

	return job, nil
}

// List returns all job names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Count returns the number of jobs
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.jobs)
}

// Replace swaps in a newly loaded job set.
func (r *Registry) Replace(jobs map[string]*Job) {
	if jobs == nil {
		jobs = make(map[string]*Job)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs = jobs
}
