package playbook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/netdef"
	"github.com/linnemanlabs/aegis/internal/rules"
)

const tracerName = "github.com/linnemanlabs/aegis/internal/playbook"

// Reasons reported in HandleResult.Reason for skipped alerts.
const (
	ReasonUnrecognized = "unrecognized"
	ReasonDuplicate    = "duplicate"
)

const (
	defaultApprovalTTL = 30 * time.Minute
	defaultMaxTokens   = 4096
)

// ErrInvalidStatus is returned by List for an unknown status filter.
var ErrInvalidStatus = errors.New("invalid playbook status")

// PromptBuilder renders the generation prompt.
type PromptBuilder interface {
	Build(raw alert.Raw, c rules.Classification, def *netdef.Definition) (string, error)
}

// NetworkSource supplies the topology rendered into prompts.
type NetworkSource interface {
	Current(ctx context.Context) (*netdef.Definition, error)
	Reload(ctx context.Context) (*netdef.Definition, error)
}

// Notifier is told about playbooks awaiting a decision and about decided or finished ones.
type Notifier interface {
	Send(ctx context.Context, p *Playbook) error
}

// HandleResult is the outcome of handling one alert.
type HandleResult struct {
	Classification *rules.Classification
	Playbook       *Playbook
	Skipped        bool
	Reason         string
}

// Deps are the collaborators of a Service. Registry, Logger, Metrics and
// Notifier are optional.
type Deps struct {
	Store    Store
	Registry Registry
	Provider Provider
	Prompts  PromptBuilder
	Network  NetworkSource
	Writer   *Writer
	Runner   Runner
	Logger   log.Logger
	Metrics  *Metrics
	Notifier Notifier
}

// Options tune the pipeline.
type Options struct {
	// MaxTokens caps the completion length.
	MaxTokens int
	// LLMTimeout bounds a single generation; zero means no deadline.
	LLMTimeout time.Duration
	// ApprovalTTL is how long a playbook waits for a decision before it expires.
	ApprovalTTL time.Duration
	// AutoApprove executes playbooks without waiting for an operator.
	AutoApprove bool
	// ReloadNetworkPerAlert re-reads the topology for every alert.
	ReloadNetworkPerAlert bool
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Service is the business boundary for alert handling and playbook lifecycle.
type Service struct {
	store    Store
	registry Registry
	provider Provider
	prompts  PromptBuilder
	network  NetworkSource
	writer   *Writer
	runner   Runner
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
	opts     Options

	// mu serializes read-modify-write status transitions.
	mu sync.Mutex
	// wg tracks background executions and notifications.
	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

// NewService creates a new playbook service.
func NewService(d Deps, o Options) *Service {
	switch {
	case d.Store == nil:
		panic(xerrors.New("playbook store is required"))
	case d.Provider == nil:
		panic(xerrors.New("llm provider is required"))
	case d.Prompts == nil:
		panic(xerrors.New("prompt builder is required"))
	case d.Network == nil:
		panic(xerrors.New("network source is required"))
	case d.Writer == nil:
		panic(xerrors.New("playbook writer is required"))
	case d.Runner == nil:
		panic(xerrors.New("playbook runner is required"))
	}
	if d.Registry == nil {
		d.Registry = NewMemRegistry()
	}
	if d.Logger == nil {
		d.Logger = log.Nop()
	}
	if o.ApprovalTTL <= 0 {
		o.ApprovalTTL = defaultApprovalTTL
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = defaultMaxTokens
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	return &Service{
		store:    d.Store,
		registry: d.Registry,
		provider: d.Provider,
		prompts:  d.Prompts,
		network:  d.Network,
		writer:   d.Writer,
		runner:   d.Runner,
		logger:   d.Logger,
		metrics:  d.Metrics,
		notifier: d.Notifier,
		opts:     o,
		stop:     make(chan struct{}),
	}
}

// Handle runs the intake pipeline for one alert: classify, register, render
// the prompt, generate and persist the playbook, then hold it for approval
// (or execute it right away with AutoApprove).
//
// Unrecognized and duplicate alerts are skipped without side effects. Any
// failure after registration releases the registration and is returned.
func (s *Service) Handle(ctx context.Context, raw alert.Raw) (*HandleResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "playbook.Handle")
	defer span.End()

	c, ok, err := rules.Classify(raw)
	if err != nil {
		s.metrics.alert(outcomeMalformed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed alert")
		return nil, err
	}
	if !ok {
		s.metrics.alert(outcomeUnrecognized)
		return &HandleResult{Skipped: true, Reason: ReasonUnrecognized}, nil
	}

	span.SetAttributes(
		attribute.String("aegis.alert.trigger", string(c.Trigger)),
		attribute.String("aegis.alert.rule_id", c.RuleID),
		attribute.String("aegis.alert.type", c.Type),
	)
	L := s.logger.With(
		"trigger", string(c.Trigger),
		"rule_id", c.RuleID,
		"alert_type", c.Type,
		"signature_id", c.SignatureID,
		"agent_ip", c.AgentIP,
	)

	added, err := s.registry.TryRegister(ctx, c)
	if err != nil {
		s.metrics.alert(outcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("register alert: %w", err)
	}
	if !added {
		s.metrics.alert(outcomeDuplicate)
		L.Info(ctx, "alert already being processed, dropped")
		return &HandleResult{Classification: &c, Skipped: true, Reason: ReasonDuplicate}, nil
	}
	s.metrics.registered()
	L.Info(ctx, "alert recognized", "alert", map[string]any(raw))

	pb, err := s.generate(ctx, L, raw, c)
	if err != nil {
		s.release(ctx, L, c)
		s.metrics.alert(outcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "playbook generation failed")
		return nil, err
	}
	s.metrics.alert(outcomeGenerated)
	span.SetAttributes(attribute.String("aegis.playbook.id", pb.ID))

	if s.opts.AutoApprove {
		approved, err := s.Approve(ctx, pb.ID, "auto-approve")
		if err != nil {
			return nil, fmt.Errorf("auto-approve: %w", err)
		}
		pb = approved
	} else {
		s.notifyAsync(ctx, L, pb)
	}

	return &HandleResult{Classification: &c, Playbook: pb}, nil
}

func (s *Service) generate(ctx context.Context, L log.Logger, raw alert.Raw, c rules.Classification) (*Playbook, error) {
	def, err := s.networkDefinition(ctx)
	if err != nil {
		return nil, fmt.Errorf("network definition: %w", err)
	}

	text, err := s.prompts.Build(raw, c, def)
	if err != nil {
		return nil, err
	}
	L.Info(ctx, "prompt generated", "prompt_bytes", len(text))

	comp, err := s.callLLM(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	agent, _ := raw.AgentName()
	now := s.opts.Now()
	name, path, err := s.writer.Write(Filename(agent, c.Type, now), []byte(comp.Text))
	if err != nil {
		return nil, err
	}

	pb := &Playbook{
		ID:             ulid.Make().String(),
		Filename:       name,
		Path:           path,
		Agent:          agent,
		Classification: c,
		Content:        comp.Text,
		Prompt:         text,
		Model:          comp.Model,
		TokensIn:       comp.InputTokens,
		TokensOut:      comp.OutputTokens,
		Status:         StatusPendingApproval,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.opts.ApprovalTTL),
	}

	if err := CheckYAML(comp.Text); err != nil {
		pb.YAMLError = err.Error()
		s.metrics.invalidYAML()
		L.Warn(ctx, "generated playbook is not valid playbook YAML", "filename", name, "error", err)
	} else {
		pb.YAMLValid = true
	}

	if err := s.store.Put(ctx, pb); err != nil {
		return nil, fmt.Errorf("store playbook: %w", err)
	}

	L.Info(ctx, "playbook generated",
		"playbook_id", pb.ID,
		"filename", pb.Filename,
		"model", pb.Model,
		"tokens_in", pb.TokensIn,
		"tokens_out", pb.TokensOut,
		"yaml_valid", pb.YAMLValid,
		"expires_at", pb.ExpiresAt,
	)
	return pb.Clone(), nil
}

func (s *Service) networkDefinition(ctx context.Context) (*netdef.Definition, error) {
	if s.opts.ReloadNetworkPerAlert {
		return s.network.Reload(ctx)
	}
	return s.network.Current(ctx)
}

func (s *Service) callLLM(ctx context.Context, prompt string) (*Completion, error) {
	if s.opts.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.LLMTimeout)
		defer cancel()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "playbook.Generate")
	defer span.End()

	start := time.Now()
	comp, err := s.provider.Generate(ctx, &GenerateRequest{
		System:    systemPrompt,
		Prompt:    prompt,
		MaxTokens: s.opts.MaxTokens,
	})
	s.metrics.llmCall(comp, time.Since(start).Seconds(), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if strings.TrimSpace(comp.Text) == "" {
		return nil, errors.New("empty completion")
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", comp.Model),
		attribute.Int("gen_ai.usage.input_tokens", comp.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", comp.OutputTokens),
	)
	return comp, nil
}

// Approve marks a pending playbook approved and executes it in the background.
func (s *Service) Approve(ctx context.Context, id, by string) (*Playbook, error) {
	pb, err := s.decide(ctx, id, by, StatusApproved)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "playbook approved", "playbook_id", id, "decided_by", by)

	s.wg.Add(1)
	go func(pb *Playbook) {
		defer s.wg.Done()
		s.execute(context.WithoutCancel(ctx), pb)
	}(pb.Clone())

	return pb, nil
}

// Reject marks a pending playbook rejected and releases its alert.
func (s *Service) Reject(ctx context.Context, id, by string) (*Playbook, error) {
	pb, err := s.decide(ctx, id, by, StatusRejected)
	if err != nil {
		return nil, err
	}

	L := s.logger.With("playbook_id", id)
	L.Info(ctx, "playbook rejected", "decided_by", by)
	s.release(ctx, L, pb.Classification)
	s.notifyAsync(ctx, L, pb)
	return pb, nil
}

func (s *Service) decide(ctx context.Context, id, by string, to Status) (*Playbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pb, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get playbook: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if pb.Status != StatusPendingApproval {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, id, pb.Status)
	}

	now := s.opts.Now()
	if now.After(pb.ExpiresAt) {
		if err := s.expireLocked(ctx, pb, now); err != nil {
			return nil, err
		}
		s.notifyAsync(ctx, s.logger.With("playbook_id", id), pb)
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, id, StatusExpired)
	}

	pb.Status = to
	pb.DecidedBy = by
	pb.DecidedAt = &now
	if err := s.store.Put(ctx, pb); err != nil {
		return nil, fmt.Errorf("store decision: %w", err)
	}
	s.metrics.decision(to)
	return pb, nil
}

func (s *Service) execute(ctx context.Context, pb *Playbook) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "playbook.Execute", trace.WithAttributes(
		attribute.String("aegis.playbook.id", pb.ID),
		attribute.String("aegis.playbook.filename", pb.Filename),
	))
	defer span.End()

	L := s.logger.With("playbook_id", pb.ID, "filename", pb.Filename)
	defer s.release(ctx, L, pb.Classification)

	if _, err := s.update(ctx, pb.ID, func(p *Playbook) { p.Status = StatusRunning }); err != nil {
		L.Error(ctx, err, "failed to mark playbook running")
		span.RecordError(err)
		s.fail(ctx, L, pb.ID, nil, err)
		return
	}

	L.Info(ctx, "executing playbook")
	res, err := s.runner.Run(ctx, pb.Filename)
	if err != nil {
		L.Error(ctx, err, "playbook runner could not be started")
		span.RecordError(err)
		if res == nil {
			res = &RunResult{Status: RunError, RC: -1, Error: err.Error()}
		}
	}
	s.metrics.run(res)

	final := StatusFailed
	if res.Status == RunSuccessful {
		final = StatusSucceeded
	} else {
		span.SetStatus(codes.Error, "playbook run "+res.Status)
	}

	updated, err := s.update(ctx, pb.ID, func(p *Playbook) {
		p.Status = final
		p.Run = res
	})
	if err != nil {
		L.Error(ctx, err, "failed to persist run result")
		span.RecordError(err)
		s.fail(ctx, L, pb.ID, res, err)
		return
	}

	L.Info(ctx, "playbook executed",
		"status", res.Status,
		"rc", res.RC,
		"duration", res.Duration,
		"stdout", res.Stdout,
	)
	s.notify(ctx, L, updated)
}

// fail makes a best-effort move of a playbook to failed after a store error
// left it approved or running. res keeps the runner output when there is one.
func (s *Service) fail(ctx context.Context, L log.Logger, id string, res *RunResult, cause error) {
	r := RunResult{RC: -1}
	if res != nil {
		r = *res
	}
	r.Status = RunError
	r.Error = cause.Error()

	updated, err := s.update(ctx, id, func(p *Playbook) {
		p.Status = StatusFailed
		p.Run = &r
	})
	if err != nil {
		L.Error(ctx, err, "failed to mark playbook failed")
		return
	}
	s.notify(ctx, L, updated)
}

// update applies fn to the stored playbook under the transition lock.
func (s *Service) update(ctx context.Context, id string, fn func(*Playbook)) (*Playbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pb, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(pb)
	if err := s.store.Put(ctx, pb); err != nil {
		return nil, err
	}
	return pb, nil
}

// ExpirePending expires every pending playbook past its deadline and returns how many were expired.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	s.mu.Lock()
	pending, err := s.store.List(ctx, StatusPendingApproval)
	if err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("list pending: %w", err)
	}

	now := s.opts.Now()
	var expired []*Playbook
	var errs []error
	for _, pb := range pending {
		if !now.After(pb.ExpiresAt) {
			continue
		}
		if err := s.expireLocked(ctx, pb, now); err != nil {
			errs = append(errs, err)
			continue
		}
		expired = append(expired, pb)
	}
	s.mu.Unlock()

	for _, pb := range expired {
		s.notify(ctx, s.logger.With("playbook_id", pb.ID), pb)
	}
	return len(expired), errors.Join(errs...)
}

func (s *Service) expireLocked(ctx context.Context, pb *Playbook, now time.Time) error {
	pb.Status = StatusExpired
	pb.DecidedAt = &now
	if err := s.store.Put(ctx, pb); err != nil {
		return fmt.Errorf("store expiry of %s: %w", pb.ID, err)
	}
	s.metrics.decision(StatusExpired)

	L := s.logger.With("playbook_id", pb.ID)
	L.Warn(ctx, "pending playbook expired without a decision", "filename", pb.Filename, "expires_at", pb.ExpiresAt)
	s.release(ctx, L, pb.Classification)
	return nil
}

// StartSweeper expires overdue playbooks every interval until ctx is done or Close is called.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				if _, err := s.ExpirePending(ctx); err != nil {
					s.logger.Error(ctx, err, "approval sweep failed")
				}
			}
		}
	}()
}

// Resume restores in-flight state from the store after a restart: pending
// playbooks re-register their alerts and executions cut short by the
// restart are marked failed.
func (s *Service) Resume(ctx context.Context) error {
	all, err := s.store.List(ctx, "")
	if err != nil {
		return fmt.Errorf("list playbooks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, pb := range all {
		switch pb.Status {
		case StatusPendingApproval:
			added, err := s.registry.TryRegister(ctx, pb.Classification)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if added {
				s.metrics.registered()
			}
		case StatusApproved, StatusRunning:
			pb.Status = StatusFailed
			pb.Run = &RunResult{Status: RunError, RC: -1, Error: "interrupted by restart"}
			if err := s.store.Put(ctx, pb); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Get retrieves a playbook by ID.
func (s *Service) Get(ctx context.Context, id string) (*Playbook, bool, error) {
	return s.store.Get(ctx, id)
}

// List returns playbooks, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status) ([]*Playbook, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.store.List(ctx, status)
}

// Close stops the sweeper and waits for background executions and
// notifications until ctx is done.
func (s *Service) Close(ctx context.Context) error {
	s.once.Do(func() { close(s.stop) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for playbook executions: %w", ctx.Err())
	}
}

func (s *Service) release(ctx context.Context, L log.Logger, c rules.Classification) {
	if err := s.registry.Release(ctx, c); err != nil {
		L.Error(ctx, err, "failed to release in-flight alert")
		return
	}
	s.metrics.released()
}

func (s *Service) notifyAsync(ctx context.Context, L log.Logger, pb *Playbook) {
	if s.notifier == nil {
		return
	}
	s.wg.Add(1)
	go func(pb *Playbook) {
		defer s.wg.Done()
		s.notify(context.WithoutCancel(ctx), L, pb)
	}(pb.Clone())
}

func (s *Service) notify(ctx context.Context, L log.Logger, pb *Playbook) {
	if s.notifier == nil || pb == nil {
		return
	}
	if err := s.notifier.Send(ctx, pb); err != nil {
		L.Error(ctx, err, "notification failed", "status", pb.Status)
	}
}
