// Package dashboard is the interactive terminal view of server health and
// prioritized alerts.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kubilitics/kubilitics-pdsa/pkg/types"
)

const (
	healthTimeout = 5 * time.Second
	alertsTimeout = 30 * time.Second
	trainTimeout  = 60 * time.Second

	// DefaultRefresh is the auto-refresh interval used when none is given.
	DefaultRefresh = 60 * time.Second

	barWidth = 24
)

// API is the part of the pdsa client the dashboard needs.
type API interface {
	Health(ctx context.Context) (*types.HealthResponse, error)
	Train(ctx context.Context, datasetPath string) (*types.TrainResponse, error)
	Alerts(ctx context.Context, datasetPath string) (*types.AlertsResponse, error)
}

// Options configures the dashboard.
type Options struct {
	API     API
	BaseURL string
	// Dataset overrides the server's default dataset for /train and /alerts.
	Dataset string
	// Refresh is the auto-refresh interval. Zero or negative disables it.
	Refresh time.Duration
}

// Run starts the dashboard in the alternate screen and blocks until the user
// quits.
func Run(opts Options) error {
	if opts.API == nil {
		return fmt.Errorf("dashboard: API client is required")
	}
	p := tea.NewProgram(newModel(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type dataLoadedMsg struct {
	online bool
	alerts *types.AlertsResponse
	err    error
}

type trainDoneMsg struct {
	resp *types.TrainResponse
	err  error
}

type tickMsg time.Time

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	priorityRed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	priorityYellow = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	priorityGreen  = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))

	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type model struct {
	api     API
	baseURL string
	dataset string
	refresh time.Duration

	width  int
	height int

	online   bool
	totals   map[string]int
	alerts   []types.AlertItem
	table    table.Model
	loading  bool
	training bool
	status   string
	err      error
}

func newModel(opts Options) model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Timestamp", Width: 20},
			{Title: "Priority", Width: 8},
			{Title: "Risk", Width: 8},
			{Title: "Anomaly", Width: 8},
			{Title: "Summary", Width: 44},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("62"))
	t.SetStyles(styles)

	return model{
		api:     opts.API,
		baseURL: opts.BaseURL,
		dataset: opts.Dataset,
		refresh: opts.Refresh,
		totals:  emptyTotals(),
		table:   t,
		loading: true,
	}
}

func emptyTotals() map[string]int {
	return map[string]int{"GREEN": 0, "YELLOW": 0, "RED": 0}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, m.load()
		case "t":
			if m.training {
				return m, nil
			}
			m.training = true
			m.status = "Training models..."
			return m, m.train()
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(5, msg.Height-16))
		return m, nil

	case dataLoadedMsg:
		m.loading = false
		m.online = msg.online
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.alerts = msg.alerts.Alerts
		m.totals = msg.alerts.Totals
		if len(m.totals) == 0 {
			m.totals = emptyTotals()
		}
		m.table.SetRows(rows(m.alerts))
		if m.table.Cursor() >= len(m.alerts) {
			m.table.SetCursor(max(0, len(m.alerts)-1))
		}
		return m, nil

	case trainDoneMsg:
		m.training = false
		if msg.err != nil {
			m.status = "Training failed: " + msg.err.Error()
			return m, nil
		}
		m.status = fmt.Sprintf("Training completed on %d samples.", msg.resp.Samples)
		m.loading = true
		return m, m.load()

	case tickMsg:
		if m.loading {
			return m, m.tick()
		}
		m.loading = true
		return m, tea.Batch(m.load(), m.tick())
	}

	return m, nil
}

func (m model) load() tea.Cmd {
	api, dataset := m.api, m.dataset
	return func() tea.Msg {
		hctx, hcancel := context.WithTimeout(context.Background(), healthTimeout)
		_, herr := api.Health(hctx)
		hcancel()

		actx, acancel := context.WithTimeout(context.Background(), alertsTimeout)
		defer acancel()
		resp, err := api.Alerts(actx, dataset)
		return dataLoadedMsg{online: herr == nil, alerts: resp, err: err}
	}
}

func (m model) train() tea.Cmd {
	api, dataset := m.api, m.dataset
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), trainTimeout)
		defer cancel()
		resp, err := api.Train(ctx, dataset)
		return trainDoneMsg{resp: resp, err: err}
	}
}

func (m model) tick() tea.Cmd {
	if m.refresh <= 0 {
		return nil
	}
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func rows(items []types.AlertItem) []table.Row {
	out := make([]table.Row, len(items))
	for i, a := range items {
		anomaly := "no"
		if a.Anomaly {
			anomaly = "yes"
		}
		out[i] = table.Row{a.Timestamp, a.Priority, fmt.Sprintf("%.4f", a.RiskScore), anomaly, a.Summary}
	}
	return out
}

// selected returns the alert under the table cursor.
func (m model) selected() (types.AlertItem, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.alerts) {
		return types.AlertItem{}, false
	}
	return m.alerts[i], true
}

func (m model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" Predictive Downtime & Smart Alerts ")
	help := helpStyle.Render("up/down: select alert | t: train models | r: refresh | q: quit")

	header := m.renderHealth()
	if m.status != "" {
		header += "   " + infoStyle.Render(m.status)
	}

	var body string
	switch {
	case m.loading && m.alerts == nil && m.err == nil:
		body = "  Loading alerts..."
	case m.err != nil:
		body = errorStyle.Render(fmt.Sprintf("  Failed to load alerts: %s", m.err))
	default:
		overview := panelStyle.Render(m.renderOverview())
		alerts := panelStyle.Render(m.renderAlerts())
		if m.width > 140 {
			body = lipgloss.JoinHorizontal(lipgloss.Top, overview, alerts)
		} else {
			body = lipgloss.JoinVertical(lipgloss.Left, overview, alerts)
		}
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s\n\n%s", title, header, body, help)
}

func (m model) renderHealth() string {
	state := offlineStyle.Render("Offline")
	if m.online {
		state = onlineStyle.Render("Online")
	}
	s := "Backend Health: " + state
	if m.baseURL != "" {
		s += helpStyle.Render("  (" + m.baseURL + ")")
	}
	return s
}

func (m model) renderOverview() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Server Health Overview"))
	b.WriteString("\n")

	total := 0
	for _, c := range m.totals {
		total += c
	}
	for _, p := range []string{"RED", "YELLOW", "GREEN"} {
		count := m.totals[p]
		pct := 0.0
		if total > 0 {
			pct = 100 * float64(count) / float64(total)
		}
		style := styleForPriority(p)
		fmt.Fprintf(&b, "%s %s %5d %5.1f%%\n",
			style.Render(fmt.Sprintf("%-6s", p)),
			style.Render(bar(count, total, barWidth)),
			count, pct)
	}
	fmt.Fprintf(&b, "\nTotal samples: %d", total)
	return b.String()
}

func (m model) renderAlerts() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Server Status & Recommended Actions"))
	b.WriteString("\n")

	if len(m.alerts) == 0 {
		b.WriteString("No alerts available.\nTry training the models or check the data source.")
		return b.String()
	}

	b.WriteString(m.table.View())
	b.WriteString("\n\n")
	b.WriteString(headerStyle.Render("Guided Resolution"))
	b.WriteString("\n")
	if a, ok := m.selected(); ok {
		b.WriteString(styleForPriority(a.Priority).Render(fmt.Sprintf("%s - %s", a.Timestamp, a.Priority)))
		b.WriteString("\n")
		for _, step := range a.RecommendedActions {
			fmt.Fprintf(&b, "  - %s\n", step)
		}
	}
	return b.String()
}

// bar renders count as a share of total, width cells wide.
func bar(count, total, width int) string {
	if total <= 0 || width <= 0 {
		return strings.Repeat("░", max(width, 0))
	}
	filled := (count*width + total/2) / total
	filled = min(max(filled, 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func styleForPriority(p string) lipgloss.Style {
	switch p {
	case "RED":
		return priorityRed
	case "YELLOW":
		return priorityYellow
	case "GREEN":
		return priorityGreen
	default:
		return lipgloss.NewStyle()
	}
}
