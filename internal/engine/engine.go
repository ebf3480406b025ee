// Package engine runs the orchestration loop: one task in flight at a
// time, guarded by an exclusive process lock, with the task graph
// document as the single source of scheduling truth.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"orbiter/internal/agent"
	"orbiter/internal/compaction"
	"orbiter/internal/config"
	"orbiter/internal/discovery"
	"orbiter/internal/envelope"
	"orbiter/internal/graph"
	"orbiter/internal/guard"
	"orbiter/internal/journal"
	"orbiter/internal/logging"
	"orbiter/internal/proclock"
	"orbiter/internal/replan"
	"orbiter/internal/review"
	"orbiter/internal/scheduler"
	"orbiter/internal/verify"
	"orbiter/internal/wisp"
)

// ExitCode classifies how a run ended, mapped directly to the process
// exit status.
type ExitCode int

const (
	ExitComplete       ExitCode = 0
	ExitFatal          ExitCode = 1
	ExitBlocked        ExitCode = 2
	ExitLockContention ExitCode = 3
	ExitReplanRequired ExitCode = 4
)

// DiffFunc returns the unified diff of an attempt's change. commit is the
// agent-reported commit; empty means diff the working tree.
type DiffFunc func(ctx context.Context, commit string) (string, error)

// Options assembles a Loop. Journal, Backend, ReviewBackend, and Diff
// default to the production implementations when nil.
type Options struct {
	Config        *config.Config
	Logger        *logging.Logger
	Journal       journal.Journal
	Backend       agent.Backend
	ReviewBackend agent.Backend
	Diff          DiffFunc
}

// Loop is the orchestration engine.
type Loop struct {
	cfg    *config.Config
	logger *logging.Logger

	store     *graph.Store
	lock      *proclock.Lock
	jr        journal.Journal
	extractor *envelope.Extractor
	runner    *verify.Runner
	detector  *replan.Detector
	enq       *discovery.Enqueuer
	compactor *compaction.Trigger
	wisps     *wisp.Manager
	reviews   *review.Lane
	guards    *guard.Checker
	backend   agent.Backend
	diff      DiffFunc

	// cursor is the high-water mark of journal entries already ingested
	// this run. A restart rescans from zero; ingestion is idempotent.
	cursor int
}

// New wires a Loop from configuration.
func New(opts Options) (*Loop, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if cfg.WorkUnit.ID == "" {
		return nil, fmt.Errorf("workunit.id required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithWorkUnit(cfg.WorkUnit.ID)

	jr := opts.Journal
	if jr == nil {
		jr = journal.NewGitHub(cfg.Journal.Repo, cfg.Journal.Issue, logger)
	}

	backend := opts.Backend
	if backend == nil {
		backend = agent.NewCLI(cfg.Agent, logger)
	}
	reviewBackend := opts.ReviewBackend
	if reviewBackend == nil {
		reviewBackend = agent.NewReviewCLI(cfg.Agent, logger)
	}

	diff := opts.Diff
	if diff == nil {
		diff = gitDiff(cfg.Paths.WorkDir)
	}

	policy, err := guard.LoadPolicy(cfg.Guard.PolicyFile)
	if err != nil {
		return nil, err
	}
	guards, err := guard.NewChecker(policy, cfg.Guard.MinSearchQueries, guard.Mode(cfg.Guard.GateMode), logger)
	if err != nil {
		return nil, err
	}

	store := graph.NewStore(cfg.Paths.StateDir)
	enq := discovery.NewEnqueuer(store, logger)

	return &Loop{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		lock:      proclock.New(cfg.Paths.StateDir),
		jr:        jr,
		extractor: envelope.NewExtractor(jr, logger),
		runner: verify.NewRunner(cfg.Paths.WorkDir,
			verify.WithTimeout(cfg.Verify.Timeout),
			verify.WithMaxOutputLines(cfg.Verify.MaxOutputLines),
			verify.WithLogger(logger)),
		detector:  replan.NewDetector(cfg.Replan.SameTaskThreshold, cfg.Replan.GlobalThreshold),
		enq:       enq,
		compactor: compaction.NewTrigger(jr, logger),
		wisps:     wisp.NewManager(jr, logger),
		reviews:   review.NewLane(reviewBackend, jr, enq, cfg.Paths.WorkDir, logger),
		guards:    guards,
		backend:   backend,
		diff:      diff,
	}, nil
}

// Run drives the loop for at most maxIterations. It acquires the process
// lock first and fails fast on contention, never queues.
func (l *Loop) Run(ctx context.Context, maxIterations int) (ExitCode, error) {
	if err := l.lock.Acquire(); err != nil {
		if errors.Is(err, proclock.ErrLockHeld) {
			return ExitLockContention, err
		}
		return ExitFatal, err
	}
	defer l.lock.Release()

	doc, err := l.store.Load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ExitFatal, fmt.Errorf("no task graph at %s: %w", l.store.Path(), err)
		}
		return ExitFatal, err
	}
	if doc.WorkUnitID != l.cfg.WorkUnit.ID {
		return ExitFatal, fmt.Errorf("task graph belongs to work unit %q, configured %q",
			doc.WorkUnitID, l.cfg.WorkUnit.ID)
	}

	graph.BackfillDefaults(doc, graph.BackfillOptions{
		CompactionThreshold: l.cfg.Compaction.Threshold,
		AutoSeverity:        l.cfg.Review.AutoSeverity,
		Confidence:          l.cfg.Review.Confidence,
	})
	if doc.Branch == "" {
		doc.Branch = l.cfg.WorkUnit.Branch
	}
	if err := l.store.Save(doc); err != nil {
		return ExitFatal, err
	}

	if maxIterations <= 0 {
		maxIterations = l.cfg.Loop.MaxIterations
	}

	for i := 0; i < maxIterations; i++ {
		code, done, err := l.iterate(ctx, doc)
		if done || err != nil {
			return code, err
		}
	}

	l.logger.Info("iteration budget reached before completion",
		"iterations", maxIterations, "remaining", doc.Remaining())
	return ExitBlocked, nil
}

// iterate runs one loop iteration. done is true when the run reached a
// terminal state and code is meaningful.
func (l *Loop) iterate(ctx context.Context, doc *graph.Document) (ExitCode, bool, error) {
	entries, err := l.jr.List(ctx)
	if err != nil {
		l.logger.Warn("journal list failed; proceeding without new events", "error", err)
		entries = nil
	}

	if l.cfg.Review.Enabled && len(entries) > l.cursor {
		if _, err := l.reviews.Ingest(doc, entries[l.cursor:]); err != nil {
			return ExitFatal, true, err
		}
	}
	if len(entries) > l.cursor {
		l.cursor = len(entries)
	}

	task, outcome := scheduler.Next(doc, l.cfg.Loop.MaxAttempts)
	switch outcome.Decision {
	case scheduler.Complete:
		return l.complete(ctx, doc)

	case scheduler.BlockedExhausted, scheduler.BlockedDependency:
		l.logger.Warn("no eligible task", "decision", outcome.Decision.String(), "reason", outcome.Reason)
		doc.Status = graph.StatusBlocked
		if err := l.store.Save(doc); err != nil {
			return ExitFatal, true, err
		}
		return ExitBlocked, true, nil
	}

	return l.attempt(ctx, doc, task, entries)
}

// attempt executes the selected task once: prompt, agent, confirmation,
// verification, guards, bookkeeping.
func (l *Loop) attempt(ctx context.Context, doc *graph.Document, task *graph.Task, entries []journal.Entry) (ExitCode, bool, error) {
	attempt := task.Attempts + 1
	taskLog := l.logger.WithTask(task.ID)
	taskLog.Info("attempting task", "title", task.Title, "attempt", attempt)

	prompt := l.buildPrompt(doc, task, attempt, l.wisps.CollectActive(entries, doc.WorkUnitID), collectPatterns(entries, doc.WorkUnitID))

	res, err := l.backend.Execute(ctx, agent.Request{Prompt: prompt, WorkDir: l.cfg.Paths.WorkDir})
	if err != nil {
		doc.Status = graph.StatusBlocked
		_ = l.store.Save(doc)
		return ExitFatal, true, fmt.Errorf("agent invocation: %w", err)
	}
	taskLog.Debug("agent returned", "exitCode", res.ExitCode, "outputBytes", len(res.Output))

	// Re-read the journal: the agent posts its task-log event there.
	entries, err = l.jr.List(ctx)
	if err != nil {
		taskLog.Warn("journal re-list failed", "error", err)
	}

	var env *envelope.Envelope
	confirmed, err := l.extractor.Confirm(ctx, entries, envelope.KindTaskLog, envelope.Match{
		WorkUnitID: doc.WorkUnitID,
		TaskID:     task.ID,
		Attempt:    attempt,
	}, task.UID)
	if err != nil {
		taskLog.Warn("attempt unconfirmed", "error", err)
	} else {
		env = &confirmed.Envelope
	}

	suite := l.runner.RunSuite(ctx, task.VerifyCommands, l.cfg.Verify.Global, l.cfg.Verify.Security)

	added, err := l.addedLines(ctx, env)
	if err != nil {
		taskLog.Warn("diff unavailable; placeholder scan skipped", "error", err)
	}
	report := l.guards.Run(task, env, added)

	passed := suite.AllPassed
	if l.guards.Mode() == guard.ModeEnforce && !report.AllPassed {
		passed = false
	}

	now := time.Now().UTC()
	task.Attempts = attempt
	task.LastAttempt = &now
	task.Passes = passed

	if env != nil {
		if err := l.afterConfirmed(ctx, doc, task, attempt, env); err != nil {
			return ExitFatal, true, err
		}
	}

	if passed {
		taskLog.Info("task passed", "attempt", attempt)
		l.detector.RecordPass(&doc.Retry)
		if l.cfg.Review.Enabled {
			commit := ""
			if env != nil {
				commit = env.Commit
			}
			l.reviews.Spawn(ctx, doc.WorkUnitID, *task, commit)
		}
	} else {
		taskLog.Info("task failed", "attempt", attempt,
			"verifyFailed", len(suite.Failed), "guardFailed", len(report.Failures()))
		if signal := l.detector.RecordFailure(&doc.Retry, task.ID); signal != nil {
			taskLog.Warn("stale plan detected", "reason", signal.Reason)
			doc.Status = graph.StatusReplanRequired
			if err := l.store.Save(doc); err != nil {
				return ExitFatal, true, err
			}
			return ExitReplanRequired, true, nil
		}
	}

	if err := l.store.Save(doc); err != nil {
		return ExitFatal, true, err
	}
	return 0, false, nil
}

// afterConfirmed handles the event-driven side effects of a confirmed
// task-log event: discovery enqueue and the compaction tick. Both apply
// whether the attempt passed or failed.
func (l *Loop) afterConfirmed(ctx context.Context, doc *graph.Document, task *graph.Task, attempt int, env *envelope.Envelope) error {
	if len(env.Discovered) > 0 {
		parent := discovery.Parent{ID: task.ID, UID: task.UID, Priority: task.Priority}
		if _, err := l.enq.Enqueue(doc, parent, graph.SourceAgent, env.Discovered); err != nil {
			return err
		}
	}
	l.compactor.OnConfirmedEvent(ctx, doc, task.UID, attempt)
	return nil
}

// complete runs the final review gate before signalling completion.
func (l *Loop) complete(ctx context.Context, doc *graph.Document) (ExitCode, bool, error) {
	if !l.cfg.Review.Enabled {
		doc.Status = graph.StatusComplete
		if err := l.store.Save(doc); err != nil {
			return ExitFatal, true, err
		}
		return ExitComplete, true, nil
	}

	// Let in-flight per-task reviews post, then ingest whatever they
	// reported: the last task's review lands after the iteration's scan,
	// and its findings must be able to enqueue work or block completion.
	l.reviews.Wait()

	if entries, err := l.jr.List(ctx); err != nil {
		l.logger.Warn("journal list failed before final gate", "error", err)
	} else {
		if len(entries) > l.cursor {
			if _, err := l.reviews.Ingest(doc, entries[l.cursor:]); err != nil {
				return ExitFatal, true, err
			}
			l.cursor = len(entries)
		}
	}
	if doc.Remaining() > 0 {
		if err := l.store.Save(doc); err != nil {
			return ExitFatal, true, err
		}
		l.logger.Info("completion deferred; task reviews enqueued new work")
		return 0, false, nil
	}

	ok, err := l.reviews.FinalGate(ctx, doc)
	if err != nil {
		return ExitFatal, true, fmt.Errorf("final review gate: %w", err)
	}
	if ok {
		doc.Status = graph.StatusComplete
		if err := l.store.Save(doc); err != nil {
			return ExitFatal, true, err
		}
		l.logger.Info("work unit complete")
		return ExitComplete, true, nil
	}

	if err := l.store.Save(doc); err != nil {
		return ExitFatal, true, err
	}
	if doc.Remaining() > 0 {
		l.logger.Info("completion deferred; final review enqueued new work")
		return 0, false, nil
	}

	// Nothing left to schedule but unresolved blocking findings remain.
	doc.Status = graph.StatusBlocked
	if err := l.store.Save(doc); err != nil {
		return ExitFatal, true, err
	}
	return ExitBlocked, true, fmt.Errorf("unresolved blocking review findings")
}

func (l *Loop) addedLines(ctx context.Context, env *envelope.Envelope) ([]guard.AddedLine, error) {
	commit := ""
	if env != nil {
		commit = env.Commit
	}
	text, err := l.diff(ctx, commit)
	if err != nil {
		return nil, err
	}
	return guard.ParseAddedLines(text), nil
}

// gitDiff returns the default DiffFunc: the reported commit's diff when
// one is given, otherwise the working-tree diff.
func gitDiff(workDir string) DiffFunc {
	return func(ctx context.Context, commit string) (string, error) {
		var cmd *exec.Cmd
		if commit != "" {
			cmd = exec.CommandContext(ctx, "git", "show", "--format=", commit)
		} else {
			cmd = exec.CommandContext(ctx, "git", "diff", "HEAD")
		}
		cmd.Dir = workDir
		out, err := cmd.Output()
		if err != nil {
			return "", fmt.Errorf("git diff: %w", err)
		}
		return string(out), nil
	}
}
