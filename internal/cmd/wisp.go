package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"orbiter/internal/config"
	"orbiter/internal/discovery"
	"orbiter/internal/graph"
	"orbiter/internal/journal"
	"orbiter/internal/logging"
	"orbiter/internal/wisp"
)

var wispCmd = &cobra.Command{
	Use:   "wisp",
	Short: "Manage time-boxed hint notes",
}

var (
	wispTTL     time.Duration
	wispTaskUID string
	wispTarget  string
)

var wispAddCmd = &cobra.Command{
	Use:   "add <note>",
	Short: "Post a wisp for upcoming iterations",
	Args:  cobra.ExactArgs(1),
	RunE:  runWispAdd,
}

var wispListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active wisps",
	RunE:  runWispList,
}

var wispPromoteCmd = &cobra.Command{
	Use:   "promote <wisp-id>",
	Short: "Promote a wisp to a durable note or a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runWispPromote,
}

func init() {
	wispAddCmd.Flags().DurationVar(&wispTTL, "ttl", 0, "lifetime (0 uses wisp.ttl)")
	wispAddCmd.Flags().StringVar(&wispTaskUID, "task", "", "task uid the hint relates to")
	wispPromoteCmd.Flags().StringVar(&wispTarget, "to", "note", "promotion target: note or task")
	wispCmd.AddCommand(wispAddCmd, wispListCmd, wispPromoteCmd)
	rootCmd.AddCommand(wispCmd)
}

func wispManager(cfg *config.Config) (*wisp.Manager, journal.Journal) {
	jr := journal.NewGitHub(cfg.Journal.Repo, cfg.Journal.Issue, logging.NopLogger())
	return wisp.NewManager(jr, logging.NopLogger()), jr
}

func runWispAdd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ttl := wispTTL
	if ttl <= 0 {
		ttl = cfg.Wisp.TTL
	}

	m, _ := wispManager(cfg)
	w, err := m.Create(cmd.Context(), cfg.WorkUnit.ID, wispTaskUID, args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Printf("wisp %s expires %s\n", w.ID, w.ExpiresAt.Format(time.RFC3339))
	return nil
}

func runWispList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	m, jr := wispManager(cfg)
	entries, err := jr.List(cmd.Context())
	if err != nil {
		return err
	}

	active := m.CollectActive(entries, cfg.WorkUnit.ID)
	if len(active) == 0 {
		fmt.Println("No active wisps")
		return nil
	}
	for _, w := range active {
		fmt.Printf("%s  expires %s", w.ID, w.ExpiresAt.Format(time.RFC3339))
		if w.TaskUID != "" {
			fmt.Printf("  task %s", w.TaskUID)
		}
		fmt.Printf("\n    %s\n", w.Note)
	}
	return nil
}

func runWispPromote(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var kind wisp.TargetKind
	switch wispTarget {
	case "note":
		kind = wisp.KindNote
	case "task":
		kind = wisp.KindTask
	default:
		return fmt.Errorf("unknown promotion target %q", wispTarget)
	}

	m, jr := wispManager(cfg)
	entries, err := jr.List(cmd.Context())
	if err != nil {
		return err
	}

	var target *wisp.Wisp
	for _, w := range m.CollectActive(entries, cfg.WorkUnit.ID) {
		if w.ID == args[0] {
			target = &w
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no active wisp %s", args[0])
	}

	store := graph.NewStore(cfg.Paths.StateDir)
	doc, err := store.Load()
	if err != nil {
		return err
	}

	enq := discovery.NewEnqueuer(store, logging.NopLogger())
	if err := m.Promote(cmd.Context(), doc, enq, target, kind); err != nil {
		return err
	}
	fmt.Printf("promoted wisp %s\n", target.ID)
	return nil
}
