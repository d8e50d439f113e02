package engine

import (
	"sort"
	"sync"

	"github.com/ytget/fetchd/internal/model"
)

// jobEntry pairs a job's current state with its control handles. The job
// value is mutated only by the owning runner goroutine (single-writer rule);
// the entry mutex makes those writes visible to snapshot readers.
type jobEntry struct {
	mu       sync.Mutex
	job      model.Job
	cancelCh chan struct{}
	cancel   sync.Once
}

func newJobEntry(job model.Job) *jobEntry {
	return &jobEntry{
		job:      job,
		cancelCh: make(chan struct{}),
	}
}

// snapshot returns a copy of the current job state
func (e *jobEntry) snapshot() model.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone()
}

// update applies fn to the job under the entry lock
func (e *jobEntry) update(fn func(*model.Job)) model.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.job)
	return e.job.Clone()
}

// requestCancel signals the owning runner once; later calls are no-ops
func (e *jobEntry) requestCancel() {
	e.cancel.Do(func() { close(e.cancelCh) })
}

// Registry is the in-memory index of job id to current snapshot and control
// handles. It is the source of truth for GetJob and CancelJob; the persisted
// record is the durable mirror.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*jobEntry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*jobEntry)}
}

func (r *Registry) add(entry *jobEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.job.ID] = entry
}

func (r *Registry) get(id string) (*jobEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry, ok
}

// Snapshot returns a copy of the job's current state
func (r *Registry) Snapshot(id string) (model.Job, bool) {
	entry, ok := r.get(id)
	if !ok {
		return model.Job{}, false
	}
	return entry.snapshot(), true
}

// Snapshots returns copies of all known jobs, newest first
func (r *Registry) Snapshots() []model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Job, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Evict removes a terminal job from memory. Evicting an active job is
// refused so control handles are never lost.
func (r *Registry) Evict(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return false
	}
	entry.mu.Lock()
	terminal := entry.job.Status.IsTerminal()
	entry.mu.Unlock()
	if !terminal {
		return false
	}
	delete(r.entries, id)
	return true
}
