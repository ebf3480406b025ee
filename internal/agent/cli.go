package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/creack/pty"

	"orbiter/internal/config"
	"orbiter/internal/logging"
)

// promptFileName is where the prompt is staged before invocation. The
// command deletes it on success; a leftover file aids debugging.
const promptFileName = ".orbiter-prompt"

// CLI runs an agent command-line tool under a pseudo-terminal. Agent
// CLIs detect non-tty stdout and change behavior, so a pty keeps them
// on their interactive code path while we capture everything.
type CLI struct {
	command         string
	skipPermissions bool
	outputOnly      bool
	logger          *logging.Logger
}

// NewCLI creates a backend for the configured agent command.
func NewCLI(cfg config.AgentConfig, logger *logging.Logger) *CLI {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CLI{
		command:         command,
		skipPermissions: cfg.SkipPermissions,
		outputOnly:      cfg.OutputOnly,
		logger:          logger,
	}
}

// NewReviewCLI creates a backend for read-only review passes, using
// the review command override when one is configured.
func NewReviewCLI(cfg config.AgentConfig, logger *logging.Logger) *CLI {
	if cfg.ReviewCommand != "" {
		cfg.Command = cfg.ReviewCommand
	}
	return NewCLI(cfg, logger)
}

// Name returns the agent command.
func (c *CLI) Name() string {
	return c.command
}

// Execute stages the prompt to a file, runs the agent under a pty, and
// waits for it to exit. The call blocks for the agent's full runtime.
func (c *CLI) Execute(ctx context.Context, req Request) (Result, error) {
	workDir := req.WorkDir
	if workDir == "" {
		workDir = "."
	}

	promptFile := filepath.Join(workDir, promptFileName)
	if err := os.WriteFile(promptFile, []byte(req.Prompt), 0o600); err != nil {
		return Result{}, fmt.Errorf("stage prompt: %w", err)
	}

	shellCmd := c.buildCommand(promptFile)
	c.logger.Debug("invoking agent", "command", c.command, "workDir", workDir)

	cmd := exec.CommandContext(ctx, "sh", "-c", shellCmd)
	cmd.Dir = workDir

	tty, err := pty.Start(cmd)
	if err != nil {
		return Result{}, fmt.Errorf("start agent: %w", err)
	}
	defer tty.Close()

	// The pty read side errors when the child closes its end; that is
	// the normal end-of-output signal, not a failure.
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, tty)

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{Output: buf.String()}, fmt.Errorf("agent wait: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{Output: buf.String(), ExitCode: exitCode}, fmt.Errorf("agent interrupted: %w", ctxErr)
	}

	output := buf.String()
	if exitCode != 0 && strings.TrimSpace(output) == "" {
		return Result{Output: output, ExitCode: exitCode},
			fmt.Errorf("%w: exit %d", ErrAgentFailed, exitCode)
	}

	c.logger.Debug("agent finished", "exitCode", exitCode, "outputBytes", len(output))
	return Result{Output: output, ExitCode: exitCode}, nil
}

func (c *CLI) buildCommand(promptFile string) string {
	cmd := c.command
	if c.outputOnly {
		cmd += " --print"
	}
	if c.skipPermissions {
		cmd += " --dangerously-skip-permissions"
	}
	return fmt.Sprintf("%s \"$(cat %q)\" && rm %q", cmd, promptFile, promptFile)
}
