// Package verify executes the authoritative check commands for a task.
//
// Verification is fully decoupled from the execution agent: whatever the
// agent claims in its output, only the exit codes observed here decide
// whether a task passes.
package verify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"orbiter/internal/logging"
)

// CommandResult is the outcome of one verify command.
type CommandResult struct {
	Command  string        `json:"command"`
	Passed   bool          `json:"passed"`
	ExitCode int           `json:"exitCode"`
	Output   string        `json:"output,omitempty"`
	TimedOut bool          `json:"timedOut,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SuiteResult is the outcome of a full verification suite.
// AllPassed is true iff every command in the combined suite passed.
type SuiteResult struct {
	Commands  []CommandResult `json:"commands"`
	Passed    []string        `json:"passed,omitempty"`
	Failed    []string        `json:"failed,omitempty"`
	AllPassed bool            `json:"allPassed"`
}

// Runner executes verification suites with a bounded per-command timeout.
type Runner struct {
	workDir        string
	timeout        time.Duration
	maxOutputLines int
	logger         *logging.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds each individual command.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxOutputLines truncates stored command output.
func WithMaxOutputLines(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxOutputLines = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a Runner executing commands in workDir.
func NewRunner(workDir string, opts ...Option) *Runner {
	r := &Runner{
		workDir:        workDir,
		timeout:        2 * time.Minute,
		maxOutputLines: 80,
		logger:         logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunSuite executes the combined suite: task commands, then global
// commands, then security commands. Every command runs even after a
// failure so the report covers the whole suite.
func (r *Runner) RunSuite(ctx context.Context, taskCommands, globalCommands, securityCommands []string) SuiteResult {
	var suite []string
	suite = append(suite, taskCommands...)
	suite = append(suite, globalCommands...)
	suite = append(suite, securityCommands...)

	result := SuiteResult{AllPassed: true}
	for _, command := range suite {
		cr := r.runOne(ctx, command)
		result.Commands = append(result.Commands, cr)
		if cr.Passed {
			result.Passed = append(result.Passed, command)
		} else {
			result.Failed = append(result.Failed, command)
			result.AllPassed = false
		}
	}

	if len(suite) == 0 {
		// Nothing to verify is not a pass: the orchestrator must never
		// mark a task passed without positive evidence.
		result.AllPassed = false
	}
	return result
}

// runOne executes a single command through the shell with the runner's
// timeout, capturing combined output.
func (r *Runner) runOne(ctx context.Context, command string) CommandResult {
	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = r.workDir
	output, err := cmd.CombinedOutput()
	duration := time.Since(start)

	cr := CommandResult{
		Command:  command,
		Output:   Truncate(string(output), r.maxOutputLines),
		Duration: duration,
	}

	if cmdCtx.Err() == context.DeadlineExceeded {
		cr.TimedOut = true
		cr.ExitCode = -1
		cr.Output = appendNote(cr.Output, fmt.Sprintf("[timed out after %s]", r.timeout))
		r.logger.Warn("verify command timed out", "command", command, "timeout", r.timeout)
		return cr
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			cr.ExitCode = exitErr.ExitCode()
		} else {
			cr.ExitCode = -1
			cr.Output = appendNote(cr.Output, err.Error())
		}
		r.logger.Debug("verify command failed", "command", command, "exit", cr.ExitCode)
		return cr
	}

	cr.Passed = true
	r.logger.Debug("verify command passed", "command", command, "duration", duration)
	return cr
}

// Truncate limits text to at most maxLines lines, annotating how many
// were dropped.
func Truncate(text string, maxLines int) string {
	if maxLines <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= maxLines {
		return text
	}
	kept := lines[:maxLines]
	return strings.Join(kept, "\n") + fmt.Sprintf("\n[truncated %d lines]", len(lines)-maxLines)
}

func appendNote(output, note string) string {
	if output == "" {
		return note
	}
	return output + "\n" + note
}
