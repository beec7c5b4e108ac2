package playbook

import (
	"time"

	"github.com/linnemanlabs/aegis/internal/rules"
)

// Status tracks where a playbook is in its lifecycle.
type Status string

const (
	// StatusPendingApproval means written to disk and waiting for an operator decision
	StatusPendingApproval Status = "pending_approval"

	// StatusApproved means approved and queued for execution
	StatusApproved Status = "approved"

	// StatusRunning means handed to the automation runner
	StatusRunning Status = "running"

	// StatusSucceeded means the runner reported success
	StatusSucceeded Status = "succeeded"

	// StatusFailed means the runner failed, timed out or could not be started
	StatusFailed Status = "failed"

	// StatusRejected means an operator declined execution
	StatusRejected Status = "rejected"

	// StatusExpired means nobody decided before the approval deadline
	StatusExpired Status = "expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingApproval, StatusApproved, StatusRunning,
		StatusSucceeded, StatusFailed, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// RunResult is what the automation runner reported for one execution.
type RunResult struct {
	Status   string  `json:"status"`
	RC       int     `json:"rc"`
	Stdout   string  `json:"stdout,omitempty"`
	Stderr   string  `json:"stderr,omitempty"`
	Duration float64 `json:"duration_seconds"`
	Error    string  `json:"error,omitempty"`
}

// Playbook is a generated playbook and its approval/execution record.
type Playbook struct {
	ID             string               `json:"id"`
	Filename       string               `json:"filename"`
	Path           string               `json:"path"`
	Agent          string               `json:"agent"`
	Classification rules.Classification `json:"classification"`
	Content        string               `json:"content"`
	Prompt         string               `json:"prompt,omitempty"`
	Model          string               `json:"model"`
	TokensIn       int                  `json:"tokens_in"`
	TokensOut      int                  `json:"tokens_out"`
	YAMLValid      bool                 `json:"yaml_valid"`
	YAMLError      string               `json:"yaml_error,omitempty"`
	Status         Status               `json:"status"`
	CreatedAt      time.Time            `json:"created_at"`
	ExpiresAt      time.Time            `json:"expires_at"`
	DecidedBy      string               `json:"decided_by,omitempty"`
	DecidedAt      *time.Time           `json:"decided_at,omitempty"`
	Run            *RunResult           `json:"run,omitempty"`
}

// Clone returns a deep copy safe to hand across goroutines.
func (p *Playbook) Clone() *Playbook {
	cp := *p
	if p.DecidedAt != nil {
		t := *p.DecidedAt
		cp.DecidedAt = &t
	}
	if p.Run != nil {
		r := *p.Run
		cp.Run = &r
	}
	return &cp
}
