package playbook

import (
	"context"
	"sync"

	"github.com/linnemanlabs/aegis/internal/rules"
)

// Registry tracks classifications whose playbook is in flight, from
// registration until the playbook reaches a terminal state.
type Registry interface {
	// TryRegister atomically adds c unless it is already present and reports
	// whether it was added.
	TryRegister(ctx context.Context, c rules.Classification) (bool, error)
	Release(ctx context.Context, c rules.Classification) error
	Contains(ctx context.Context, c rules.Classification) (bool, error)
}

// MemRegistry is the process-wide in-memory Registry.
type MemRegistry struct {
	mu       sync.Mutex
	inflight map[rules.Classification]struct{}
}

// NewMemRegistry creates an empty registry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{inflight: make(map[rules.Classification]struct{})}
}

// TryRegister implements Registry.
func (r *MemRegistry) TryRegister(_ context.Context, c rules.Classification) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inflight[c]; ok {
		return false, nil
	}
	r.inflight[c] = struct{}{}
	return true, nil
}

// Release implements Registry. Releasing an absent classification is a no-op.
func (r *MemRegistry) Release(_ context.Context, c rules.Classification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, c)
	return nil
}

// Contains implements Registry.
func (r *MemRegistry) Contains(_ context.Context, c rules.Classification) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[c]
	return ok, nil
}

// Len returns the number of in-flight classifications.
func (r *MemRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}
