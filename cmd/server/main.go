// Aegis receives Wazuh and Suricata alerts, has an LLM draft an Ansible
// response playbook for each one and runs it with ansible-runner once an
// operator approves it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/aegis/internal/alertapi"
	ac "github.com/linnemanlabs/aegis/internal/cfg"
	"github.com/linnemanlabs/aegis/internal/rules"
)

const (
	appName   = "aegis"
	component = "server"
	envPrefix = "AEGIS_"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

// stopFn is one component torn down inside the shutdown budget.
type stopFn struct {
	name string
	fn   func(context.Context) error
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	var (
		appCfg    ac.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// cmdline wins; env only fills flags that were not set
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}
	cfg.FillFromEnv(flag.CommandLine, envPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
		"templates_dir", appCfg.TemplatesDir,
		"private_data_dir", appCfg.PrivateDataDir,
		"runner_path", appCfg.RunnerPath,
		"auto_approve", appCfg.AutoApprove,
		"approval_ttl_seconds", appCfg.ApprovalTTLSeconds,
		"api_auth", appCfg.APIToken != "",
		"rule_ids", rules.IDs(),
	)

	// profiling starts before anything else so the whole lifetime is covered
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf == nil {
		stopProf = func() {}
	}
	defer stopProf()

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx == nil {
		shutdownOtelx = func(context.Context) error { return nil }
	}
	// flushes on early return; a second call after shutdown is a no-op for the sdk
	defer func() { _ = shutdownOtelx(context.Background()) }()

	// span ids land in profile labels so traces link to flame graphs
	if profCfg.EnablePyroscope && profErr == nil {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	a, err := buildApp(ctx, &appCfg, L, m.Registry())
	if err != nil {
		return err
	}
	defer a.close()
	a.svc.StartSweeper(ctx, time.Duration(appCfg.ApprovalSweepSeconds)*time.Second)

	// readiness fails while draining so the load balancer stops sending alerts
	var shutdownGate health.ShutdownGate
	readiness := health.All(shutdownGate.Probe())
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}

	h := newHandler(handlerDeps{
		logger:      L,
		api:         alertapi.New(L, a.svc, a.network, appCfg.APIToken),
		trustedHops: httpmwCfg.TrustedProxyHops,
		healthz:     health.HealthzHandler(liveness),
		readyz:      health.ReadyzHandler(readiness),
		instrument:  m.Middleware,
	})

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start alertapi http listener")
		_ = opsHTTPStop(context.Background())
		return err
	}

	if err := sdNotify(sdReady); err != nil && !errors.Is(err, errNoNotifySocket) {
		// systemd kills us after TimeoutStartSec anyway
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	bg := context.Background()
	L.Info(bg, "shutdown signal received")
	_ = sdNotify(sdStopping)

	shutdownGate.Set("draining")
	drain(bg, L, time.Duration(appCfg.DrainSeconds)*time.Second)

	// playbook runs finish before otel so their spans get exported
	shutdown(bg, L, time.Duration(appCfg.ShutdownBudgetSeconds)*time.Second, []stopFn{
		{"alertapi http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
		{"playbook service", a.svc.Close},
		{"otel", shutdownOtelx},
	})

	L.Info(bg, "shutdown complete")
	return nil
}

// drain waits for the load balancer to notice the failing readiness probe.
// A second signal cuts it short.
func drain(ctx context.Context, L log.Logger, d time.Duration) {
	L.Info(ctx, "sleeping for drain period", "drain_seconds", int(d.Seconds()))
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	select {
	case <-time.After(d):
		L.Info(ctx, "drain period complete")
	case <-forceCh:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}

// shutdown stops components in order, each with an equal slice of budget.
func shutdown(ctx context.Context, L log.Logger, budget time.Duration, fns []stopFn) {
	if len(fns) == 0 {
		return
	}
	perComponent := budget / time.Duration(len(fns))
	shutdownCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	for _, s := range fns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(ctx, err, s.name+" shutdown")
		}
		ccancel()
	}
}
