package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"orbiter/internal/config"
	"orbiter/internal/graph"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the task graph live",
	Long: `Watch polls the task graph document and renders progress while a
loop runs in another process. Read-only; press q to quit.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	model := watchModel{
		store:       graph.NewStore(cfg.Paths.StateDir),
		maxAttempts: cfg.Loop.MaxAttempts,
		spin:        sp,
	}
	model.reload()

	_, err = tea.NewProgram(model).Run()
	return err
}

type watchTickMsg time.Time

func watchTick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

type watchModel struct {
	store       *graph.Store
	maxAttempts int
	spin        spinner.Model

	doc *graph.Document
	err error
}

func (m *watchModel) reload() {
	doc, err := m.store.Load()
	if err != nil {
		m.err = err
		return
	}
	m.doc, m.err = doc, nil
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, watchTick())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case watchTickMsg:
		m.reload()
		if m.doc != nil && m.doc.Status == graph.StatusComplete {
			return m, tea.Quit
		}
		return m, watchTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("waiting for task graph at %s (%v)\n\nq to quit\n", m.store.Path(), m.err)
	}
	if m.doc == nil {
		return "loading...\n"
	}

	header := ""
	if m.doc.Remaining() > 0 && m.doc.Status == graph.StatusActive {
		header = m.spin.View() + " running\n\n"
	}
	return header + renderStatus(m.doc, m.maxAttempts) + "\nq to quit\n"
}
