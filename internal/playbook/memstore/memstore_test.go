package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/aegis/internal/playbook"
)

func TestStore_PutAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	p := &playbook.Playbook{ID: "p-1", Filename: "web-01-C2-20250314_092653.yml", Status: playbook.StatusPendingApproval}
	if err := s.Put(ctx, p); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, "p-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected playbook to be found")
	}
	if got.Filename != p.Filename {
		t.Errorf("Filename = %q, want %q", got.Filename, p.Filename)
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	_, ok, err := New().Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	now := time.Now()
	p := &playbook.Playbook{ID: "p-2", Status: playbook.StatusApproved, DecidedAt: &now, Run: &playbook.RunResult{Status: "running"}}
	if err := s.Put(ctx, p); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Mutating the original after Put must not affect the store.
	p.Status = playbook.StatusFailed
	p.Run.Status = "mutated"

	got, _, _ := s.Get(ctx, "p-2")
	if got.Status != playbook.StatusApproved {
		t.Errorf("Status = %q, want %q", got.Status, playbook.StatusApproved)
	}
	if got.Run.Status != "running" {
		t.Errorf("Run.Status = %q, want running", got.Run.Status)
	}

	// Mutating a returned copy must not affect the store.
	got.DecidedBy = "mallory"
	again, _, _ := s.Get(ctx, "p-2")
	if again.DecidedBy != "" {
		t.Errorf("DecidedBy = %q, want empty", again.DecidedBy)
	}
}

func TestStore_ListFiltersAndOrders(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	records := []*playbook.Playbook{
		{ID: "c", Status: playbook.StatusPendingApproval, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "a", Status: playbook.StatusPendingApproval, CreatedAt: base},
		{ID: "b", Status: playbook.StatusSucceeded, CreatedAt: base.Add(time.Minute)},
	}
	for _, p := range records {
		if err := s.Put(ctx, p); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].ID != "a" || all[1].ID != "b" || all[2].ID != "c" {
		t.Errorf("List all order = %v", ids(all))
	}

	pending, err := s.List(ctx, playbook.StatusPendingApproval)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "a" || pending[1].ID != "c" {
		t.Errorf("List pending = %v", ids(pending))
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := range 100 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Put(ctx, &playbook.Playbook{ID: fmt.Sprintf("p-%d", i), Status: playbook.StatusPendingApproval})
		}()
		go func() {
			defer wg.Done()
			_, _ = s.List(ctx, playbook.StatusPendingApproval)
		}()
	}
	wg.Wait()

	all, _ := s.List(ctx, "")
	if len(all) != 100 {
		t.Errorf("stored %d, want 100", len(all))
	}
}

func ids(ps []*playbook.Playbook) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}
