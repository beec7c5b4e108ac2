package playbook

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no playbook exists for an id.
	ErrNotFound = errors.New("playbook not found")

	// ErrNotPending is returned when a decision is made on a playbook that is no longer pending approval.
	ErrNotPending = errors.New("playbook is not pending approval")
)

// Store is the persistence interface for playbook records.
type Store interface {
	Get(ctx context.Context, id string) (*Playbook, bool, error)
	Put(ctx context.Context, p *Playbook) error
	// List returns playbooks oldest first; an empty status matches all.
	List(ctx context.Context, status Status) ([]*Playbook, error)
}
