// Package agent invokes the external execution agent that performs the
// actual code changes. The orchestrator blocks on each invocation; the
// agent's stdout is captured for diagnostics but never trusted as
// evidence — evidence comes from the journal.
package agent

import (
	"context"
	"errors"
)

// Request describes one agent invocation.
type Request struct {
	// Prompt is the full prompt text handed to the agent.
	Prompt string
	// WorkDir is the directory the agent runs in.
	WorkDir string
}

// Result is the outcome of one agent invocation.
type Result struct {
	Output   string
	ExitCode int
}

// Backend runs agent invocations.
type Backend interface {
	Name() string
	Execute(ctx context.Context, req Request) (Result, error)
}

// ErrAgentFailed is returned when the agent exits nonzero without
// producing any output. That means the agent CLI itself is broken and
// the loop cannot make progress.
var ErrAgentFailed = errors.New("agent failed to produce output")
