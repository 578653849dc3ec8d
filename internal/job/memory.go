package job

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps job snapshots in process memory. Records are lost
// on restart; configure a database path to use SQLiteRepository instead.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*Job
	// ordered holds the same snapshots sorted by creation time, then ID.
	ordered []*Job
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*Job)}
}

// Save stores a snapshot of job, replacing any earlier snapshot with the same ID.
func (r *MemoryRepository) Save(_ context.Context, job *Job) error {
	snap := job.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byID[snap.ID]; ok {
		if i := slices.Index(r.ordered, prev); i >= 0 {
			if prev.CreatedAt.Equal(snap.CreatedAt) {
				r.ordered[i] = snap
				r.byID[snap.ID] = snap
				return nil
			}
			r.ordered = slices.Delete(r.ordered, i, i+1)
		}
	}

	i, _ := slices.BinarySearchFunc(r.ordered, snap, byCreation)
	r.ordered = slices.Insert(r.ordered, i, snap)
	r.byID[snap.ID] = snap
	return nil
}

// FindByID returns a copy of the job with the given ID.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.byID[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return snap.Clone(), nil
}

// List returns copies of all jobs, oldest first.
func (r *MemoryRepository) List(_ context.Context) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Job, len(r.ordered))
	for i, snap := range r.ordered {
		out[i] = snap.Clone()
	}
	return out, nil
}

func byCreation(a, b *Job) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
