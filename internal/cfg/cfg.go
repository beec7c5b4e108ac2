package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds aegis-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	ClaudeAPIKey      string
	ClaudeModel       string
	ClaudeMaxTokens   int
	LLMTimeoutSeconds int
	LLMMaxRetries     int

	TemplatesDir          string
	ReloadNetworkPerAlert bool

	PrivateDataDir       string
	RunnerPath           string
	RunnerTimeoutSeconds int

	AutoApprove          bool
	ApprovalTTLSeconds   int
	ApprovalSweepSeconds int

	DatabaseURL     string
	DBMaxConns      int
	LogQueries      bool
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token for the /api/v1 playbook endpoints (empty = no auth)")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.IntVar(&c.ClaudeMaxTokens, "claude-max-tokens", 4096, "max tokens per playbook completion (1..64000)")
	fs.IntVar(&c.LLMTimeoutSeconds, "llm-timeout-seconds", 120, "timeout for a single playbook generation call (1..600)")
	fs.IntVar(&c.LLMMaxRetries, "llm-max-retries", 2, "retries on retryable LLM API errors (0..10)")

	fs.StringVar(&c.TemplatesDir, "templates-dir", "templates", "directory holding one-shot.prompt and netjson/")
	fs.BoolVar(&c.ReloadNetworkPerAlert, "netdef-reload-per-alert", false, "re-read the network definition from disk for every alert")

	fs.StringVar(&c.PrivateDataDir, "private-data-dir", "ansible", "ansible-runner private data dir; playbooks are written to <dir>/project")
	fs.StringVar(&c.RunnerPath, "runner-path", "ansible-runner", "ansible-runner executable")
	fs.IntVar(&c.RunnerTimeoutSeconds, "runner-timeout-seconds", 900, "timeout for a single playbook run (1..86400)")

	fs.BoolVar(&c.AutoApprove, "auto-approve", false, "run generated playbooks without waiting for approval")
	fs.IntVar(&c.ApprovalTTLSeconds, "approval-ttl-seconds", 1800, "seconds a playbook waits for approval before it expires (60..604800)")
	fs.IntVar(&c.ApprovalSweepSeconds, "approval-sweep-seconds", 30, "interval between expiry sweeps (1..3600)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 0, "max PostgreSQL pool connections (0 = pgx default)")
	fs.BoolVar(&c.LogQueries, "log-queries", false, "log every successful database query at info level")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address for the in-flight alert registry (empty = in-process)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "Redis database number")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Claude API key is required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}
	if c.ClaudeMaxTokens <= 0 || c.ClaudeMaxTokens > 64000 {
		errs = append(errs, fmt.Errorf("invalid CLAUDE_MAX_TOKENS %d (must be 1..64000)", c.ClaudeMaxTokens))
	}
	if c.LLMTimeoutSeconds <= 0 || c.LLMTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid LLM_TIMEOUT_SECONDS %d (must be 1..600)", c.LLMTimeoutSeconds))
	}
	if c.LLMMaxRetries < 0 || c.LLMMaxRetries > 10 {
		errs = append(errs, fmt.Errorf("invalid LLM_MAX_RETRIES %d (must be 0..10)", c.LLMMaxRetries))
	}

	if c.TemplatesDir == "" {
		errs = append(errs, errors.New("TEMPLATES_DIR is required"))
	}
	if c.PrivateDataDir == "" {
		errs = append(errs, errors.New("PRIVATE_DATA_DIR is required"))
	}
	if c.RunnerPath == "" {
		errs = append(errs, errors.New("RUNNER_PATH is required"))
	}
	if c.RunnerTimeoutSeconds <= 0 || c.RunnerTimeoutSeconds > 86400 {
		errs = append(errs, fmt.Errorf("invalid RUNNER_TIMEOUT_SECONDS %d (must be 1..86400)", c.RunnerTimeoutSeconds))
	}

	// Approval window, unused when auto-approve is on but still range checked
	if c.ApprovalTTLSeconds < 60 || c.ApprovalTTLSeconds > 604800 {
		errs = append(errs, fmt.Errorf("invalid APPROVAL_TTL_SECONDS %d (must be 60..604800)", c.ApprovalTTLSeconds))
	}
	if c.ApprovalSweepSeconds <= 0 || c.ApprovalSweepSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid APPROVAL_SWEEP_SECONDS %d (must be 1..3600)", c.ApprovalSweepSeconds))
	}

	if c.DBMaxConns < 0 || c.DBMaxConns > 1000 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 0..1000)", c.DBMaxConns))
	}
	if c.RedisDB < 0 || c.RedisDB > 15 {
		errs = append(errs, fmt.Errorf("invalid REDIS_DB %d (must be 0..15)", c.RedisDB))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
