package verify

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunSuiteAllPass(t *testing.T) {
	r := NewRunner(t.TempDir())
	res := r.RunSuite(context.Background(), []string{"true"}, []string{"exit 0"}, nil)

	if !res.AllPassed {
		t.Errorf("AllPassed = false, want true; failed: %v", res.Failed)
	}
	if len(res.Passed) != 2 {
		t.Errorf("Passed = %v, want 2 commands", res.Passed)
	}
}

func TestRunSuiteOneFailure(t *testing.T) {
	r := NewRunner(t.TempDir())
	res := r.RunSuite(context.Background(), []string{"true", "exit 3"}, nil, nil)

	if res.AllPassed {
		t.Error("AllPassed = true with a failing command")
	}
	if len(res.Failed) != 1 || res.Failed[0] != "exit 3" {
		t.Errorf("Failed = %v, want [exit 3]", res.Failed)
	}

	var failing *CommandResult
	for i := range res.Commands {
		if res.Commands[i].Command == "exit 3" {
			failing = &res.Commands[i]
		}
	}
	if failing == nil {
		t.Fatal("failing command missing from report")
	}
	if failing.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", failing.ExitCode)
	}
}

func TestRunSuiteContinuesAfterFailure(t *testing.T) {
	r := NewRunner(t.TempDir())
	res := r.RunSuite(context.Background(), []string{"false", "true"}, nil, nil)

	if len(res.Commands) != 2 {
		t.Fatalf("expected both commands to run, got %d results", len(res.Commands))
	}
	if !res.Commands[1].Passed {
		t.Error("second command should still run and pass after first fails")
	}
}

func TestRunSuiteEmptyIsNotAPass(t *testing.T) {
	r := NewRunner(t.TempDir())
	res := r.RunSuite(context.Background(), nil, nil, nil)

	if res.AllPassed {
		t.Error("an empty suite must not count as passing")
	}
}

func TestRunSuiteSecurityCommandsIncluded(t *testing.T) {
	r := NewRunner(t.TempDir())
	res := r.RunSuite(context.Background(), []string{"true"}, nil, []string{"exit 1"})

	if res.AllPassed {
		t.Error("a failing security command must fail the suite")
	}
}

func TestRunOneTimeout(t *testing.T) {
	r := NewRunner(t.TempDir(), WithTimeout(50*time.Millisecond))
	res := r.RunSuite(context.Background(), []string{"sleep 2"}, nil, nil)

	if res.AllPassed {
		t.Error("timed-out command must fail the suite")
	}
	if !res.Commands[0].TimedOut {
		t.Error("TimedOut should be set")
	}
	if !strings.Contains(res.Commands[0].Output, "timed out") {
		t.Errorf("output should note the timeout, got %q", res.Commands[0].Output)
	}
}

func TestOutputTruncation(t *testing.T) {
	r := NewRunner(t.TempDir(), WithMaxOutputLines(5))
	res := r.RunSuite(context.Background(), []string{"seq 1 100"}, nil, nil)

	out := res.Commands[0].Output
	if !strings.Contains(out, "[truncated") {
		t.Errorf("long output should be truncated, got %d bytes", len(out))
	}
	if lines := strings.Count(out, "\n"); lines > 6 {
		t.Errorf("truncated output has %d lines, want <= 6", lines)
	}
}

func TestTruncateShortTextUnchanged(t *testing.T) {
	text := "a\nb\nc"
	if got := Truncate(text, 10); got != text {
		t.Errorf("Truncate() = %q, want unchanged", got)
	}
}
