package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dataanalyst/sandboxpool/internal/manager"
)

const dashboardPollInterval = 2 * time.Second

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	barStyle   = map[string]lipgloss.Style{
		"ready":     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"executing": lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		"idle":      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		"suspended": lipgloss.NewStyle().Foreground(lipgloss.Color("99")),
		"error":     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
	errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type statsMsg struct {
	stats manager.Stats
	err   error
}

func pollTick(addr string) tea.Cmd {
	return tea.Tick(dashboardPollInterval, func(time.Time) tea.Msg {
		stats, err := fetchStats(addr)
		return statsMsg{stats: stats, err: err}
	})
}

// dashboard is the bubbletea model behind `sandboxctl status --watch`: a
// live view of getStats() polled on a ticker, the same shape as
// zpdzap-sandcastles' status-tick loop but against an HTTP control
// endpoint instead of a local in-process manager.
type dashboard struct {
	addr    string
	stats   manager.Stats
	lastErr error
	width   int
	warmBar progress.Model
	utilBar progress.Model
}

func newDashboard(addr string) dashboard {
	return dashboard{
		addr:    addr,
		warmBar: progress.New(progress.WithSolidFill("42")),
		utilBar: progress.New(progress.WithSolidFill("220")),
	}
}

func (d dashboard) Init() tea.Cmd {
	return pollTick(d.addr)
}

func (d dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
		barWidth := msg.Width - 20
		if barWidth < 10 {
			barWidth = 10
		}
		d.warmBar.Width = barWidth
		d.utilBar.Width = barWidth
		return d, nil
	case statsMsg:
		if msg.err != nil {
			d.lastErr = msg.err
		} else {
			d.stats = msg.stats
			d.lastErr = nil
		}
		return d, pollTick(d.addr)
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return d, tea.Quit
		}
	}
	return d, nil
}

func (d dashboard) View() string {
	b := titleStyle.Render("sandboxpool — " + d.addr)
	b += "\n\n"

	if d.lastErr != nil {
		b += errStyle.Render(fmt.Sprintf("error: %v", d.lastErr)) + "\n"
		b += labelStyle.Render("retrying every 2s, press q to quit") + "\n"
		return b
	}

	rows := []struct {
		label string
		n     int
	}{
		{"ready", d.stats.Ready},
		{"executing", d.stats.Executing},
		{"idle", d.stats.Idle},
		{"suspended", d.stats.Suspended},
		{"error", d.stats.Error},
	}

	b += labelStyle.Render(fmt.Sprintf("total: %d", d.stats.Total)) + "\n\n"
	for _, r := range rows {
		style := barStyle[r.label]
		bar := style.Render(repeat("█", r.n))
		b += fmt.Sprintf("%-10s %3d  %s\n", r.label, r.n, bar)
	}

	b += "\n" + labelStyle.Render("warm")
	b += "  " + d.warmBar.ViewAs(fraction(d.stats.Ready, d.stats.Total)) + "\n"
	b += labelStyle.Render("busy")
	b += "  " + d.utilBar.ViewAs(fraction(d.stats.Executing, d.stats.Total)) + "\n"

	b += "\n" + labelStyle.Render("press q to quit")
	return b
}

func fraction(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func repeat(s string, n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func runDashboard(addr string) error {
	p := tea.NewProgram(newDashboard(addr), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
