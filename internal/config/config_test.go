package config

import (
	"testing"

	"github.com/spf13/viper"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	SetDefaults()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := loadDefaults(t)

	if cfg.Agent.Command != "claude" {
		t.Errorf("agent.command = %q, want %q", cfg.Agent.Command, "claude")
	}
	if cfg.Loop.MaxAttempts != 3 {
		t.Errorf("loop.max_attempts = %d, want 3", cfg.Loop.MaxAttempts)
	}
	if cfg.Replan.SameTaskThreshold != 2 {
		t.Errorf("replan.same_task_threshold = %d, want 2", cfg.Replan.SameTaskThreshold)
	}
	if cfg.Compaction.Threshold != 10 {
		t.Errorf("compaction.threshold = %d, want 10", cfg.Compaction.Threshold)
	}
	if cfg.Guard.GateMode != GateModeWarn {
		t.Errorf("guard.gate_mode = %q, want %q", cfg.Guard.GateMode, GateModeWarn)
	}
	if cfg.Verify.Timeout.Seconds() != 120 {
		t.Errorf("verify.timeout = %v, want 120s", cfg.Verify.Timeout)
	}
	if cfg.Wisp.TTL.Hours() != 2 {
		t.Errorf("wisp.ttl = %v, want 2h", cfg.Wisp.TTL)
	}
}

func TestValidateRejectsBadGateMode(t *testing.T) {
	viper.Reset()
	SetDefaults()
	viper.Set("guard.gate_mode", "strict")

	if _, err := Load(); err == nil {
		t.Error("Load() should reject unknown gate mode")
	}
}

func TestValidateRejectsBadConfidence(t *testing.T) {
	viper.Reset()
	SetDefaults()
	viper.Set("review.confidence", 1.5)

	if _, err := Load(); err == nil {
		t.Error("Load() should reject confidence outside [0,1]")
	}
}

func TestValidateRejectsBadSeverity(t *testing.T) {
	viper.Reset()
	SetDefaults()
	viper.Set("review.auto_severity", "catastrophic")

	if _, err := Load(); err == nil {
		t.Error("Load() should reject unknown severity")
	}
}

func TestLoadNormalizesEnumCase(t *testing.T) {
	viper.Reset()
	SetDefaults()
	viper.Set("guard.gate_mode", "ENFORCE")
	viper.Set("review.auto_severity", "High")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Guard.GateMode != GateModeEnforce {
		t.Errorf("guard.gate_mode = %q, want %q", cfg.Guard.GateMode, GateModeEnforce)
	}
	if cfg.Review.AutoSeverity != "high" {
		t.Errorf("review.auto_severity = %q, want %q", cfg.Review.AutoSeverity, "high")
	}
}

func TestOverride(t *testing.T) {
	viper.Reset()
	SetDefaults()
	viper.Set("loop.max_attempts", 5)
	viper.Set("workunit.id", "wu-7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Loop.MaxAttempts != 5 {
		t.Errorf("loop.max_attempts = %d, want 5", cfg.Loop.MaxAttempts)
	}
	if cfg.WorkUnit.ID != "wu-7" {
		t.Errorf("workunit.id = %q, want wu-7", cfg.WorkUnit.ID)
	}
}
