// Package config defines orbiter's configuration, loaded through viper
// from a YAML file with environment-variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete orbiter configuration.
type Config struct {
	WorkUnit   WorkUnitConfig   `mapstructure:"workunit"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Verify     VerifyConfig     `mapstructure:"verify"`
	Loop       LoopConfig       `mapstructure:"loop"`
	Replan     ReplanConfig     `mapstructure:"replan"`
	Compaction CompactionConfig `mapstructure:"compaction"`
	Review     ReviewConfig     `mapstructure:"review"`
	Guard      GuardConfig      `mapstructure:"guard"`
	Wisp       WispConfig       `mapstructure:"wisp"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Paths      PathsConfig      `mapstructure:"paths"`
}

// WorkUnitConfig identifies the unit of work this loop drives.
type WorkUnitConfig struct {
	// ID is the work-unit identifier. Required.
	ID string `mapstructure:"id"`
	// Branch is the branch/workspace identifier recorded in the graph document.
	Branch string `mapstructure:"branch"`
}

// JournalConfig locates the remote append-only comment thread.
type JournalConfig struct {
	// Repo is the owner/repo the journal issue lives in.
	Repo string `mapstructure:"repo"`
	// Issue is the issue number used as the journal thread.
	Issue int `mapstructure:"issue"`
}

// AgentConfig controls the external execution agent invocation.
type AgentConfig struct {
	// Command is the agent CLI binary.
	Command string `mapstructure:"command"`
	// SkipPermissions passes the agent's skip-permissions flag.
	SkipPermissions bool `mapstructure:"skip_permissions"`
	// OutputOnly requests a non-interactive, print-only execution.
	OutputOnly bool `mapstructure:"output_only"`
	// ReviewCommand overrides Command for read-only review passes.
	// Empty means use Command.
	ReviewCommand string `mapstructure:"review_command"`
}

// VerifyConfig controls the authoritative verification suite.
type VerifyConfig struct {
	// Timeout bounds each individual command.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxOutputLines truncates stored command output.
	MaxOutputLines int `mapstructure:"max_output_lines"`
	// Global commands are appended to every task's suite.
	Global []string `mapstructure:"global"`
	// Security commands are appended when security checks are enabled.
	Security []string `mapstructure:"security"`
}

// LoopConfig controls the main loop.
type LoopConfig struct {
	// MaxIterations caps loop iterations per invocation.
	MaxIterations int `mapstructure:"max_iterations"`
	// MaxAttempts is the per-task attempt budget.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// ReplanConfig controls stale-plan detection.
type ReplanConfig struct {
	// SameTaskThreshold escalates after this many consecutive failures
	// of the same task.
	SameTaskThreshold int `mapstructure:"same_task_threshold"`
	// GlobalThreshold escalates after this many consecutive failures
	// across any tasks.
	GlobalThreshold int `mapstructure:"global_threshold"`
}

// CompactionConfig controls periodic journal summarization.
type CompactionConfig struct {
	// Threshold is the confirmed-event count that triggers a summary post.
	Threshold int `mapstructure:"threshold"`
}

// ReviewConfig controls the asynchronous quality-review lane.
type ReviewConfig struct {
	// Enabled toggles per-task review passes and the final gate.
	Enabled bool `mapstructure:"enabled"`
	// AutoSeverity is the minimum severity auto-converted into tasks.
	// One of critical, high, medium, low.
	AutoSeverity string `mapstructure:"auto_severity"`
	// Confidence is the minimum finding confidence for auto-conversion.
	Confidence float64 `mapstructure:"confidence"`
}

// GuardConfig controls post-hoc guard checks.
type GuardConfig struct {
	// GateMode is "enforce" (guard failures fail the task) or "warn".
	GateMode string `mapstructure:"gate_mode"`
	// MinSearchQueries is the minimum investigation evidence per attempt.
	MinSearchQueries int `mapstructure:"min_search_queries"`
	// PolicyFile is a YAML file of placeholder risk patterns and exclusions.
	PolicyFile string `mapstructure:"policy_file"`
}

// WispConfig controls ephemeral hint notes.
type WispConfig struct {
	// TTL is the default lifetime of a newly created wisp.
	TTL time.Duration `mapstructure:"ttl"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level"`
	// Dir is the log directory; empty logs to stderr.
	Dir string `mapstructure:"dir"`
}

// PathsConfig locates on-disk state.
type PathsConfig struct {
	// StateDir holds the graph document and lock file. Defaults to ".orbiter".
	StateDir string `mapstructure:"state_dir"`
	// WorkDir is where verify commands and the agent run. Defaults to ".".
	WorkDir string `mapstructure:"work_dir"`
}

// GateModes accepted by guard.gate_mode.
const (
	GateModeEnforce = "enforce"
	GateModeWarn    = "warn"
)

// SetDefaults registers default values for all configuration options.
func SetDefaults() {
	viper.SetDefault("workunit.id", "")
	viper.SetDefault("workunit.branch", "")

	viper.SetDefault("journal.repo", "")
	viper.SetDefault("journal.issue", 0)

	viper.SetDefault("agent.command", "claude")
	viper.SetDefault("agent.skip_permissions", true)
	viper.SetDefault("agent.output_only", true)
	viper.SetDefault("agent.review_command", "")

	viper.SetDefault("verify.timeout", "120s")
	viper.SetDefault("verify.max_output_lines", 80)
	viper.SetDefault("verify.global", []string{})
	viper.SetDefault("verify.security", []string{})

	viper.SetDefault("loop.max_iterations", 50)
	viper.SetDefault("loop.max_attempts", 3)

	viper.SetDefault("replan.same_task_threshold", 2)
	viper.SetDefault("replan.global_threshold", 5)

	viper.SetDefault("compaction.threshold", 10)

	viper.SetDefault("review.enabled", true)
	viper.SetDefault("review.auto_severity", "high")
	viper.SetDefault("review.confidence", 0.7)

	viper.SetDefault("guard.gate_mode", GateModeWarn)
	viper.SetDefault("guard.min_search_queries", 1)
	viper.SetDefault("guard.policy_file", "")

	viper.SetDefault("wisp.ttl", "2h")

	viper.SetDefault("logging.level", "INFO")
	viper.SetDefault("logging.dir", "")

	viper.SetDefault("paths.state_dir", ".orbiter")
	viper.SetDefault("paths.work_dir", ".")
}

// Load unmarshals the current viper state into a Config, normalizes
// enum-valued fields, and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize lowercases enum-valued fields so that validation and every
// later comparison see the canonical spelling.
func (c *Config) Normalize() {
	c.Guard.GateMode = strings.ToLower(c.Guard.GateMode)
	c.Review.AutoSeverity = strings.ToLower(c.Review.AutoSeverity)
}

// Validate checks cross-field constraints that viper cannot express.
// Enum fields are expected in canonical form; see Normalize.
func (c *Config) Validate() error {
	switch c.Guard.GateMode {
	case GateModeEnforce, GateModeWarn:
	default:
		return fmt.Errorf("guard.gate_mode must be %q or %q, got %q",
			GateModeEnforce, GateModeWarn, c.Guard.GateMode)
	}

	switch c.Review.AutoSeverity {
	case "critical", "high", "medium", "low":
	default:
		return fmt.Errorf("review.auto_severity must be a severity level, got %q", c.Review.AutoSeverity)
	}

	if c.Review.Confidence < 0 || c.Review.Confidence > 1 {
		return fmt.Errorf("review.confidence must be in [0,1], got %v", c.Review.Confidence)
	}
	if c.Loop.MaxAttempts < 1 {
		return fmt.Errorf("loop.max_attempts must be at least 1, got %d", c.Loop.MaxAttempts)
	}
	if c.Replan.SameTaskThreshold < 1 || c.Replan.GlobalThreshold < 1 {
		return fmt.Errorf("replan thresholds must be at least 1")
	}
	if c.Compaction.Threshold < 1 {
		return fmt.Errorf("compaction.threshold must be at least 1, got %d", c.Compaction.Threshold)
	}
	return nil
}
