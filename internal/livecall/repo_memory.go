package livecall

import (
	"context"
	"sync"

	"softphone/internal/calls"
)

// MemoryRepo keeps the record in process memory. Useful for tests and
// for deployments that accept losing the marker on restart.
type MemoryRepo struct {
	mu     sync.Mutex
	record *calls.CallAlert

	saves  int
	clears int
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Load(ctx context.Context) (*calls.CallAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record == nil {
		return nil, nil
	}
	out := *r.record
	return &out, nil
}

func (r *MemoryRepo) Save(ctx context.Context, alert calls.CallAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record = &alert
	r.saves++
	return nil
}

func (r *MemoryRepo) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record = nil
	r.clears++
	return nil
}

// Counts returns how many saves and clears have been applied.
func (r *MemoryRepo) Counts() (saves, clears int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves, r.clears
}
