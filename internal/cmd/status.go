package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"orbiter/internal/config"
	"orbiter/internal/graph"
)

var (
	statusTitleStyle = lipgloss.NewStyle().Bold(true)
	statusPassStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusFailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the task graph state",
	Long:  `Display a one-shot snapshot of the task graph document.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store := graph.NewStore(cfg.Paths.StateDir)
	doc, err := store.Load()
	if err != nil {
		fmt.Println("No task graph found at", store.Path())
		return nil
	}

	fmt.Println(renderStatus(doc, cfg.Loop.MaxAttempts))
	return nil
}

func renderStatus(doc *graph.Document, maxAttempts int) string {
	var b strings.Builder

	b.WriteString(statusTitleStyle.Render(fmt.Sprintf("Work unit %s", doc.WorkUnitID)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Status: %s", styledDocStatus(doc.Status))
	if doc.Branch != "" {
		fmt.Fprintf(&b, "  Branch: %s", doc.Branch)
	}
	fmt.Fprintf(&b, "  Tasks: %d remaining of %d\n", doc.Remaining(), len(doc.Tasks))
	if doc.Retry.LastReplanReason != "" {
		b.WriteString(statusWarnStyle.Render("Last replan: "+doc.Retry.LastReplanReason) + "\n")
	}
	b.WriteString("\n")

	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		fmt.Fprintf(&b, "%s %s %s", taskMark(t, maxAttempts), t.ID, t.Title)
		var detail []string
		detail = append(detail, fmt.Sprintf("priority %d", t.Priority))
		if t.Attempts > 0 {
			detail = append(detail, fmt.Sprintf("attempts %d/%d", t.Attempts, maxAttempts))
		}
		if len(t.DependsOn) > 0 {
			detail = append(detail, "after "+strings.Join(t.DependsOn, ","))
		}
		if t.DiscoverySource != "" {
			detail = append(detail, "via "+string(t.DiscoverySource))
		}
		b.WriteString(statusDimStyle.Render("  (" + strings.Join(detail, ", ") + ")"))
		b.WriteString("\n")
	}

	open := 0
	for _, f := range doc.Review.Findings {
		if f.Status == graph.FindingOpen {
			open++
		}
	}
	if open > 0 {
		fmt.Fprintf(&b, "\n%s\n", statusWarnStyle.Render(fmt.Sprintf("%d open review findings", open)))
	}
	return b.String()
}

func styledDocStatus(status string) string {
	switch status {
	case graph.StatusComplete:
		return statusPassStyle.Render(status)
	case graph.StatusBlocked, graph.StatusReplanRequired:
		return statusFailStyle.Render(status)
	default:
		return status
	}
}

func taskMark(t *graph.Task, maxAttempts int) string {
	switch {
	case t.Passes:
		return statusPassStyle.Render("✓")
	case t.Attempts >= maxAttempts:
		return statusFailStyle.Render("✗")
	case t.Attempts > 0:
		return statusWarnStyle.Render("●")
	default:
		return statusDimStyle.Render("○")
	}
}
