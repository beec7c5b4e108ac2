package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		ClaudeAPIKey:          "sk-test-key",
		ClaudeModel:           "claude-sonnet-4-20250514",
		ClaudeMaxTokens:       4096,
		LLMTimeoutSeconds:     120,
		LLMMaxRetries:         2,
		TemplatesDir:          "templates",
		PrivateDataDir:        "ansible",
		RunnerPath:            "ansible-runner",
		RunnerTimeoutSeconds:  900,
		ApprovalTTLSeconds:    1800,
		ApprovalSweepSeconds:  30,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.ClaudeModel != "claude-sonnet-4-20250514" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-sonnet-4-20250514")
	}
	if c.TemplatesDir != "templates" {
		t.Errorf("TemplatesDir = %q, want templates", c.TemplatesDir)
	}
	if c.PrivateDataDir != "ansible" {
		t.Errorf("PrivateDataDir = %q, want ansible", c.PrivateDataDir)
	}
	if c.RunnerPath != "ansible-runner" {
		t.Errorf("RunnerPath = %q, want ansible-runner", c.RunnerPath)
	}
	if c.AutoApprove {
		t.Error("AutoApprove defaults to true")
	}
	if c.ReloadNetworkPerAlert {
		t.Error("ReloadNetworkPerAlert defaults to true")
	}
	if c.ApprovalTTLSeconds != 1800 {
		t.Errorf("ApprovalTTLSeconds = %d, want 1800", c.ApprovalTTLSeconds)
	}

	// Defaults plus an API key must validate.
	c.ClaudeAPIKey = "k"
	if err := c.Validate(); err != nil {
		t.Errorf("defaults with api key: Validate() = %v", err)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-claude-api-key", "sk-override",
		"-claude-model", "claude-opus-4-20250514",
		"-templates-dir", "/etc/aegis/templates",
		"-private-data-dir", "/var/lib/aegis/ansible",
		"-auto-approve",
		"-netdef-reload-per-alert",
		"-redis-addr", "redis:6379",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.ClaudeAPIKey != "sk-override" {
		t.Errorf("ClaudeAPIKey = %q, want %q", c.ClaudeAPIKey, "sk-override")
	}
	if c.ClaudeModel != "claude-opus-4-20250514" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-opus-4-20250514")
	}
	if c.TemplatesDir != "/etc/aegis/templates" {
		t.Errorf("TemplatesDir = %q", c.TemplatesDir)
	}
	if c.PrivateDataDir != "/var/lib/aegis/ansible" {
		t.Errorf("PrivateDataDir = %q", c.PrivateDataDir)
	}
	if !c.AutoApprove {
		t.Error("AutoApprove = false, want true")
	}
	if !c.ReloadNetworkPerAlert {
		t.Error("ReloadNetworkPerAlert = false, want true")
	}
	if c.RedisAddr != "redis:6379" {
		t.Errorf("RedisAddr = %q, want redis:6379", c.RedisAddr)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	with := func(mut func(*Config)) Config {
		c := validBase()
		mut(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "minimum valid values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 1, 2, 1
				c.ClaudeMaxTokens, c.LLMTimeoutSeconds, c.LLMMaxRetries = 1, 1, 0
				c.RunnerTimeoutSeconds, c.ApprovalTTLSeconds, c.ApprovalSweepSeconds = 1, 60, 1
			}),
			wantErr: false,
		},
		{
			name: "maximum valid values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 299, 300, 65535
				c.ClaudeMaxTokens, c.LLMTimeoutSeconds, c.LLMMaxRetries = 64000, 600, 10
				c.RunnerTimeoutSeconds, c.ApprovalTTLSeconds, c.ApprovalSweepSeconds = 86400, 604800, 3600
				c.DBMaxConns, c.RedisDB = 1000, 15
			}),
			wantErr: false,
		},
		// Drain and budget
		{
			name:      "drain zero",
			cfg:       with(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "budget negative",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = -1 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget equals drain",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 60 }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:    "budget is drain plus one",
			cfg:     with(func(c *Config) { c.ShutdownBudgetSeconds = 61 }),
			wantErr: false,
		},
		// APIPort
		{
			name:      "port zero",
			cfg:       with(func(c *Config) { c.APIPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       with(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// LLM
		{
			name:      "empty claude api key",
			cfg:       with(func(c *Config) { c.ClaudeAPIKey = "" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_API_KEY"},
		},
		{
			name:      "empty claude model",
			cfg:       with(func(c *Config) { c.ClaudeModel = "" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_MODEL"},
		},
		{
			name:      "max tokens zero",
			cfg:       with(func(c *Config) { c.ClaudeMaxTokens = 0 }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_MAX_TOKENS"},
		},
		{
			name:      "llm timeout above max",
			cfg:       with(func(c *Config) { c.LLMTimeoutSeconds = 601 }),
			wantErr:   true,
			errSubstr: []string{"LLM_TIMEOUT_SECONDS"},
		},
		{
			name:      "llm retries negative",
			cfg:       with(func(c *Config) { c.LLMMaxRetries = -1 }),
			wantErr:   true,
			errSubstr: []string{"LLM_MAX_RETRIES"},
		},
		// Paths
		{
			name:      "empty templates dir",
			cfg:       with(func(c *Config) { c.TemplatesDir = "" }),
			wantErr:   true,
			errSubstr: []string{"TEMPLATES_DIR"},
		},
		{
			name:      "empty private data dir",
			cfg:       with(func(c *Config) { c.PrivateDataDir = "" }),
			wantErr:   true,
			errSubstr: []string{"PRIVATE_DATA_DIR"},
		},
		{
			name:      "empty runner path",
			cfg:       with(func(c *Config) { c.RunnerPath = "" }),
			wantErr:   true,
			errSubstr: []string{"RUNNER_PATH"},
		},
		{
			name:      "runner timeout zero",
			cfg:       with(func(c *Config) { c.RunnerTimeoutSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"RUNNER_TIMEOUT_SECONDS"},
		},
		// Approval
		{
			name:      "approval ttl below min",
			cfg:       with(func(c *Config) { c.ApprovalTTLSeconds = 59 }),
			wantErr:   true,
			errSubstr: []string{"APPROVAL_TTL_SECONDS"},
		},
		{
			name:      "sweep interval zero",
			cfg:       with(func(c *Config) { c.ApprovalSweepSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"APPROVAL_SWEEP_SECONDS"},
		},
		// Storage
		{
			name:      "db max conns negative",
			cfg:       with(func(c *Config) { c.DBMaxConns = -1 }),
			wantErr:   true,
			errSubstr: []string{"DB_MAX_CONNS"},
		},
		{
			name:      "redis db above max",
			cfg:       with(func(c *Config) { c.RedisDB = 16 }),
			wantErr:   true,
			errSubstr: []string{"REDIS_DB"},
		},
		{
			name:    "api token optional",
			cfg:     with(func(c *Config) { c.APIToken = "" }),
			wantErr: false,
		},
		// Error accumulation: all fields invalid
		{
			name:    "all fields invalid",
			cfg:     Config{},
			wantErr: true,
			errSubstr: []string{
				"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "CLAUDE_API_KEY", "CLAUDE_MODEL",
				"CLAUDE_MAX_TOKENS", "LLM_TIMEOUT_SECONDS", "TEMPLATES_DIR", "PRIVATE_DATA_DIR", "RUNNER_PATH",
				"RUNNER_TIMEOUT_SECONDS", "APPROVAL_TTL_SECONDS", "APPROVAL_SWEEP_SECONDS",
			},
		},
		// Extreme values
		{
			name: "extreme negative values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = math.MinInt32, math.MinInt32, math.MinInt32
			}),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, ttl int
		key, model, runner       string
	}{
		{60, 90, 8080, 1800, "sk-test", "claude-sonnet", "ansible-runner"},
		{1, 2, 1, 60, "k", "m", "r"},
		{299, 300, 65535, 604800, "k", "m", "r"},
		{0, 0, 0, 0, "", "", ""},
		{-1, -1, -1, -1, "", "", ""},
		{300, 300, 65535, 59, "k", "m", "r"},
		{150, 100, 8080, 1800, "k", "m", "r"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, "", "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, "", "", ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.ttl, s.key, s.model, s.runner)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, ttl int, key, model, runner string) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.ApprovalTTLSeconds = ttl
		c.ClaudeAPIKey = key
		c.ClaudeModel = model
		c.RunnerPath = runner
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		ttlOK := ttl >= 60 && ttl <= 604800
		keyOK := key != ""
		modelOK := model != ""
		runnerOK := runner != ""

		allValid := drainOK && budgetOK && portOK && crossOK && ttlOK && keyOK && modelOK && runnerOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
