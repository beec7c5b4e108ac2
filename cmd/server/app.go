package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aegis/internal/cfg"
	"github.com/linnemanlabs/aegis/internal/llm/claude"
	"github.com/linnemanlabs/aegis/internal/netdef"
	"github.com/linnemanlabs/aegis/internal/notify/slack"
	"github.com/linnemanlabs/aegis/internal/playbook"
	"github.com/linnemanlabs/aegis/internal/playbook/memstore"
	"github.com/linnemanlabs/aegis/internal/playbook/pgstore"
	"github.com/linnemanlabs/aegis/internal/playbook/redisreg"
	"github.com/linnemanlabs/aegis/internal/postgres"
	"github.com/linnemanlabs/aegis/internal/prompt"
)

// app is the responder core assembled from config.
type app struct {
	svc     *playbook.Service
	network *netdef.Loader
	closers []func()
}

// close releases backing connections in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// buildApp wires storage, dedup, topology, prompt, LLM, runner and
// notifications into a playbook service. On error everything acquired so
// far is released.
func buildApp(ctx context.Context, c *cfg.Config, L log.Logger, reg prometheus.Registerer) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	store, err := a.openStore(ctx, c, L, reg)
	if err != nil {
		return nil, err
	}

	runnerTimeout := time.Duration(c.RunnerTimeoutSeconds) * time.Second
	approvalTTL := time.Duration(c.ApprovalTTLSeconds) * time.Second

	registry, err := a.openRegistry(ctx, c, L, approvalTTL+runnerTimeout+time.Hour)
	if err != nil {
		return nil, err
	}

	// a broken topology fails startup rather than the first alert
	a.network = netdef.NewLoader(c.TemplatesDir, L)
	if _, err := a.network.Current(ctx); err != nil {
		return nil, fmt.Errorf("network definition: %w", err)
	}

	prompts, err := prompt.New(c.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("prompt template: %w", err)
	}
	L.Info(ctx, "loaded prompt template", "source", prompts.Source())
	if promptFellBack(c.TemplatesDir, prompts) {
		L.Warn(ctx, "prompt template not found in templates dir, using built-in template",
			"templates_dir", c.TemplatesDir, "template", prompt.TemplateName)
	}

	provider := claude.New(c.ClaudeAPIKey, c.ClaudeModel, c.ClaudeMaxTokens, c.LLMMaxRetries)
	L.Info(ctx, "initialized LLM provider", "provider", "claude", "model", provider.Model())

	var notifier playbook.Notifier
	if c.SlackWebhookURL != "" {
		notifier = slack.New(c.SlackWebhookURL, L)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	a.svc = playbook.NewService(playbook.Deps{
		Store:    store,
		Registry: registry,
		Provider: provider,
		Prompts:  prompts,
		Network:  a.network,
		Writer:   playbook.NewWriter(c.PrivateDataDir),
		Runner:   playbook.NewAnsibleRunner(c.RunnerPath, c.PrivateDataDir, runnerTimeout),
		Logger:   L,
		Metrics:  playbook.NewMetrics(reg),
		Notifier: notifier,
	}, playbook.Options{
		MaxTokens:             c.ClaudeMaxTokens,
		LLMTimeout:            time.Duration(c.LLMTimeoutSeconds) * time.Second,
		ApprovalTTL:           approvalTTL,
		AutoApprove:           c.AutoApprove,
		ReloadNetworkPerAlert: c.ReloadNetworkPerAlert,
	})
	if c.AutoApprove {
		L.Warn(ctx, "auto-approve enabled, generated playbooks run without review")
	}

	// records left pending or running by a previous process
	if err := a.svc.Resume(ctx); err != nil {
		L.Error(ctx, err, "resume playbooks failed")
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context, c *cfg.Config, L log.Logger, reg prometheus.Registerer) (playbook.Store, error) {
	if c.DatabaseURL == "" {
		L.Info(ctx, "using in-memory store (no database-url configured)")
		return memstore.New(), nil
	}

	queryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aegis_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
	if err := reg.Register(queryDuration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("register db metrics: %w", err)
		}
		queryDuration = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, operation, outcome string, dur time.Duration) {
			queryDuration.WithLabelValues(operation, outcome).Observe(dur.Seconds())
		},
	))

	pool, err := postgres.NewPool(ctx, c.DatabaseURL, L, postgres.Options{
		MaxConns:   int32(c.DBMaxConns), //nolint:gosec // bounded by Validate
		LogQueries: c.LogQueries,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	a.closers = append(a.closers, pool.Close)

	store, err := pgstore.New(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("pgstore init: %w", err)
	}
	L.Info(ctx, "using postgres store")
	return store, nil
}

// openRegistry returns the shared redis registry when configured so replicas
// agree on in-flight alerts, otherwise the in-process one.
func (a *app) openRegistry(ctx context.Context, c *cfg.Config, L log.Logger, ttl time.Duration) (playbook.Registry, error) {
	if c.RedisAddr == "" {
		L.Info(ctx, "using in-process in-flight registry (no redis-addr configured)")
		return playbook.NewMemRegistry(), nil
	}

	r, err := redisreg.New(ctx, redisreg.Config{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		TTL:      ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("redis registry: %w", err)
	}
	a.closers = append(a.closers, func() { _ = r.Close() })
	L.Info(ctx, "using redis in-flight registry", "redis_addr", c.RedisAddr)
	return r, nil
}

// promptFellBack reports whether a configured templates dir held no prompt
// template and the built-in one is in use.
func promptFellBack(dir string, b *prompt.Builder) bool {
	return dir != "" && b.Source() == prompt.EmbeddedSource
}
