package orchestrator

import (
	"sync"

	"github.com/evidchain/ai-analysis-service/internal/domain"
)

const defaultRegistryCapacity = 10000

// Registry is the in-process job table: the always-available tier that makes
// submission and status reads work even when cache, store, and broker are all
// down. Entries outlive their queue lifetime so pollers keep getting answers;
// terminal entries already flushed to the durable store are evicted oldest
// first once the table exceeds capacity.
type Registry struct {
	mu       sync.RWMutex
	jobs     map[string]*registryEntry
	order    []string
	capacity int
}

type registryEntry struct {
	job     *domain.Job
	flushed bool
}

// NewRegistry creates a registry. capacity <= 0 selects the default.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = defaultRegistryCapacity
	}
	return &Registry{
		jobs:     make(map[string]*registryEntry),
		capacity: capacity,
	}
}

// Put inserts a job. It never fails; this is the guarantee submission relies on.
func (r *Registry) Put(job *domain.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		r.order = append(r.order, job.ID)
	}
	r.jobs[job.ID] = &registryEntry{job: job.Clone()}
	r.evictLocked()
}

// Get returns a copy of the job, or nil when the id is unknown.
func (r *Registry) Get(analysisID string) *domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.jobs[analysisID]
	if !ok {
		return nil
	}
	return entry.job.Clone()
}

// Update applies fn to the stored job under the registry lock and returns a
// copy of the result. Returns nil when the id is unknown.
func (r *Registry) Update(analysisID string, fn func(*domain.Job)) *domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.jobs[analysisID]
	if !ok {
		return nil
	}
	fn(entry.job)
	return entry.job.Clone()
}

// MarkFlushed records that the job's terminal state reached the durable store,
// making the entry eligible for eviction.
func (r *Registry) MarkFlushed(analysisID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.jobs[analysisID]; ok {
		entry.flushed = true
	}
}

// ListByEvidence returns copies of jobs referencing one evidence item.
func (r *Registry) ListByEvidence(evidenceID string) []domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var jobs []domain.Job
	// Walk newest first to match the durable store's ordering.
	for i := len(r.order) - 1; i >= 0; i-- {
		entry, ok := r.jobs[r.order[i]]
		if !ok {
			continue
		}
		if entry.job.EvidenceID == evidenceID {
			jobs = append(jobs, *entry.job.Clone())
		}
	}
	return jobs
}

// Snapshot returns copies of every registered job.
func (r *Registry) Snapshot() []domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]domain.Job, 0, len(r.jobs))
	for _, id := range r.order {
		if entry, ok := r.jobs[id]; ok {
			jobs = append(jobs, *entry.job.Clone())
		}
	}
	return jobs
}

// Len reports the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// evictLocked drops the oldest flushed terminal entries until the table fits
// its capacity. Unflushed or live entries are never evicted; the table is
// allowed to exceed capacity rather than lose the only copy of a job.
func (r *Registry) evictLocked() {
	if len(r.jobs) <= r.capacity {
		return
	}

	kept := r.order[:0]
	for _, id := range r.order {
		entry, ok := r.jobs[id]
		if !ok {
			continue
		}
		if len(r.jobs) > r.capacity && entry.flushed && entry.job.Status.Terminal() {
			delete(r.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}
