// Package tui is a terminal dashboard for the engine health check.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Laisky/laisky-kb-retrieval/internal/indexopt"
)

// FetchFunc produces one health report.
type FetchFunc func(ctx context.Context) (indexopt.HealthReport, error)

// healthMsg carries the result of one fetch.
type healthMsg struct {
	report indexopt.HealthReport
	err    error
}

// tickMsg triggers the next scheduled fetch.
type tickMsg time.Time

type keyMap struct {
	Refresh key.Binding
	Quit    key.Binding
}

var keys = keyMap{
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}

// Model is the dashboard following the Bubble Tea architecture.
type Model struct {
	fetch    FetchFunc
	interval time.Duration
	timeout  time.Duration

	spinner spinner.Model
	loading bool

	report  *indexopt.HealthReport
	err     error
	updated time.Time

	width    int
	quitting bool
}

// NewModel returns a dashboard polling fetch every interval.
func NewModel(fetch FetchFunc, interval time.Duration) Model {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = warningStyle

	return Model{
		fetch:    fetch,
		interval: interval,
		timeout:  interval,
		spinner:  s,
		loading:  true,
	}
}

// Init starts the spinner and the first fetch.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchCmd())
}

func (m Model) fetchCmd() tea.Cmd {
	fetch, timeout := m.fetch, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		report, err := fetch(ctx)
		return healthMsg{report: report, err: err}
	}
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			if m.loading {
				return m, nil
			}
			m.loading = true
			return m, tea.Batch(m.spinner.Tick, m.fetchCmd())
		}
		return m, nil
	case tickMsg:
		if m.loading {
			return m, nil
		}
		m.loading = true
		return m, tea.Batch(m.spinner.Tick, m.fetchCmd())
	case healthMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			report := msg.report
			m.report = &report
			m.updated = report.GeneratedAt
		}
		return m, m.tickCmd()
	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("kb-retrieval health"))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("✗ " + m.err.Error()))
		b.WriteString("\n")
	}

	switch {
	case m.report != nil:
		b.WriteString(renderReport(*m.report))
	case m.loading:
		b.WriteString(m.spinner.View() + " collecting first sample...")
		b.WriteString("\n")
	}

	status := "idle"
	if m.loading {
		status = m.spinner.View() + " refreshing"
	}
	if !m.updated.IsZero() {
		status += " · updated " + m.updated.Format(time.TimeOnly)
	}
	b.WriteString("\n")
	b.WriteString(statusBarStyle.Render(status))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(fmt.Sprintf("%s %s • %s %s",
		keys.Refresh.Help().Key, keys.Refresh.Help().Desc,
		keys.Quit.Help().Key, keys.Quit.Help().Desc)))

	return b.String()
}

func renderReport(r indexopt.HealthReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  %s\n",
		labelStyle.Render("score"),
		fmt.Sprintf("%.1f", r.Score),
		statusStyle(r.Status).Render(strings.ToUpper(string(r.Status))))

	scores := []struct {
		name  string
		value float64
	}{
		{"query time", r.SubScores.QueryTime},
		{"cache hit", r.SubScores.CacheHit},
		{"index hit", r.SubScores.IndexHit},
		{"connection", r.SubScores.Connection},
		{"storage", r.SubScores.Storage},
	}
	var sub strings.Builder
	for i, s := range scores {
		if i > 0 {
			sub.WriteString("\n")
		}
		fmt.Fprintf(&sub, "%-11s %5.1f %s", s.name, s.value, bar(s.value))
	}
	b.WriteString(boxStyle.Render(sub.String()))
	b.WriteString("\n")

	if s := r.Sample; s != nil {
		fmt.Fprintf(&b, "%s avg %s p95 %s · cache %.1f%% · pool %.1f%% · conns %d\n",
			labelStyle.Render("sample"),
			s.AvgQueryTime.Round(time.Microsecond), s.P95QueryTime.Round(time.Microsecond),
			s.CacheHitRatio*100, s.PoolUsage*100, s.ActiveConnections)
	}

	if len(r.Indexes) > 0 {
		b.WriteString(labelStyle.Render("indexes"))
		b.WriteString("\n")
		for _, idx := range r.Indexes {
			fmt.Fprintf(&b, "  %-28s %-9s scans %-8d hit %5.1f%% frag %.2f\n",
				idx.Name, idx.Type, idx.Scans, idx.HitRatio*100, idx.FragmentationRatio)
		}
	}

	if len(r.Issues) == 0 {
		b.WriteString(successStyle.Render("no issues"))
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString(labelStyle.Render("issues"))
	b.WriteString("\n")
	for _, issue := range r.Issues {
		fmt.Fprintf(&b, "  %s %s: %s\n",
			severityStyle(issue.Severity).Render(fmt.Sprintf("[%s]", issue.Severity)),
			issue.Component, issue.Message)
	}
	return b.String()
}

// bar draws score on a 20 cell gauge.
func bar(score float64) string {
	const width = 20
	filled := int(score/100*width + 0.5)
	filled = max(0, min(width, filled))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
