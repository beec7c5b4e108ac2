package playbook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Runner status values reported in RunResult.Status.
const (
	RunSuccessful = "successful"
	RunFailed     = "failed"
	RunTimeout    = "timeout"
	RunError      = "error"
)

const waitDelay = 5 * time.Second

// Runner executes a playbook from the project directory.
type Runner interface {
	Run(ctx context.Context, playbook string) (*RunResult, error)
}

// AnsibleRunner shells out to ansible-runner.
type AnsibleRunner struct {
	binary         string
	privateDataDir string
	timeout        time.Duration
}

// NewAnsibleRunner creates a runner invoking binary against privateDataDir.
// A zero timeout disables the deadline.
func NewAnsibleRunner(binary, privateDataDir string, timeout time.Duration) *AnsibleRunner {
	if binary == "" {
		binary = "ansible-runner"
	}
	return &AnsibleRunner{binary: binary, privateDataDir: privateDataDir, timeout: timeout}
}

// Run executes `ansible-runner run <private-data-dir> -p <playbook>`. A
// non-zero exit is reported in the result, not as an error; the error is
// non-nil only when the process could not be run at all.
func (r *AnsibleRunner) Run(ctx context.Context, playbook string) (*RunResult, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.binary, "run", r.privateDataDir, "-p", playbook) //nolint:gosec // binary and args come from operator config
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit stdout must not hold Run open after a kill.
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	res := &RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start).Seconds(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.Status = RunSuccessful
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Status = RunTimeout
		res.RC = -1
		res.Error = fmt.Sprintf("runner timed out after %s", r.timeout)
	case errors.As(err, &exitErr):
		res.Status = RunFailed
		res.RC = exitErr.ExitCode()
	default:
		res.Status = RunError
		res.RC = -1
		res.Error = err.Error()
		return res, fmt.Errorf("start %s: %w", r.binary, err)
	}
	return res, nil
}
