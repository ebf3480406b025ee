package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"orbiter/internal/config"
	"orbiter/internal/engine"
	"orbiter/internal/logging"
)

var runIterations int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orchestration loop",
	Long: `Run acquires the process lock, loads the task graph, and drives the
loop until completion, a blocked state, a stale-plan escalation, or the
iteration cap.

Exit codes: 0 complete, 1 fatal, 2 blocked, 3 lock contention,
4 replan required.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runIterations, "iterations", 0, "cap loop iterations (0 uses loop.max_iterations)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}

	loop, err := engine.New(engine.Options{Config: cfg, Logger: logger})
	if err != nil {
		_ = logger.Close()
		return err
	}

	code, runErr := loop.Run(cmd.Context(), runIterations)
	if runErr != nil {
		logger.Error("run ended with error", "code", int(code), "error", runErr)
		fmt.Fprintf(os.Stderr, "orbiter: %v\n", runErr)
	}
	_ = logger.Close()

	if code != engine.ExitComplete {
		os.Exit(int(code))
	}
	return nil
}
