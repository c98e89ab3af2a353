package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jask/saldo/internal/database/repository"
	"github.com/jask/saldo/internal/reconcile"
	"github.com/jask/saldo/internal/service"
)

// Services is what the dashboard reads and triggers.
type Services struct {
	Analytics   *service.AnalyticsService
	Balances    *service.BalanceService
	Categorizer *service.CategorizerService
}

// Options configures presentation.
type Options struct {
	Currency   string
	DateFormat string
	// RecentLimit bounds the transaction list.
	RecentLimit int
}

type tab int

const (
	tabDashboard tab = iota
	tabTransactions
	tabAudit
)

var tabNames = []string{"Dashboard", "Transactions", "Audit"}

type snapshot struct {
	summary service.Summary
	report  reconcile.Report
	current repository.AccountBalance
	txs     []service.TransactionView
	audit   []repository.AuditEntry
}

type dataMsg struct{ snap snapshot }

type recategorizedMsg struct{ rep service.RecategorizeReport }

type runningMsg struct{ updated int }

type errMsg struct{ err error }

// Model is the bubbletea dashboard.
type Model struct {
	ctx    context.Context
	svc    Services
	opts   Options
	keys   keyMap
	tab    tab
	data   snapshot
	loaded bool
	cursor int
	top    int
	status string
	busy   bool
	width  int
	height int
}

func New(ctx context.Context, svc Services, opts Options) Model {
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = 200
	}
	if opts.DateFormat == "" {
		opts.DateFormat = repository.DateLayout
	}
	return Model{ctx: ctx, svc: svc, opts: opts, keys: defaultKeys(), status: "Loading…"}
}

// Run starts the program on the alternate screen and blocks until quit.
func Run(ctx context.Context, svc Services, opts Options) error {
	p := tea.NewProgram(New(ctx, svc, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return m.load()
}

func (m Model) load() tea.Cmd {
	ctx, svc, limit := m.ctx, m.svc, m.opts.RecentLimit
	return func() tea.Msg {
		var snap snapshot
		var err error
		if snap.summary, err = svc.Analytics.Summary(ctx, time.Time{}, time.Time{}); err != nil {
			return errMsg{err}
		}
		if snap.report, err = svc.Balances.Status(ctx); err != nil {
			return errMsg{err}
		}
		if snap.current, err = svc.Balances.Current(ctx); err != nil {
			return errMsg{err}
		}
		if snap.txs, err = svc.Analytics.ListTransactions(ctx, repository.TransactionFilters{Limit: limit}); err != nil {
			return errMsg{err}
		}
		if snap.audit, err = svc.Balances.AuditLog(ctx, 50); err != nil {
			return errMsg{err}
		}
		return dataMsg{snap}
	}
}

func (m Model) recategorize() tea.Cmd {
	ctx, cat := m.ctx, m.svc.Categorizer
	return func() tea.Msg {
		rep, err := cat.Recategorize(ctx, service.RecategorizeOptions{})
		if err != nil {
			return errMsg{err}
		}
		return recategorizedMsg{rep}
	}
}

func (m Model) recomputeRunning() tea.Cmd {
	ctx, bal := m.ctx, m.svc.Balances
	return func() tea.Msg {
		n, err := bal.RecomputeRunningBalances(ctx)
		if err != nil {
			return errMsg{err}
		}
		return runningMsg{n}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.clampScroll()
		return m, nil
	case dataMsg:
		m.data = msg.snap
		m.loaded = true
		m.busy = false
		if m.status == "Loading…" {
			m.status = fmt.Sprintf("%d transactions", m.data.summary.Count)
		}
		m.clampScroll()
		return m, nil
	case recategorizedMsg:
		r := msg.rep
		m.status = fmt.Sprintf("Recategorized: %d updated, %d unchanged, %d overridden, %d failed",
			r.Updated, r.Unchanged, r.Overridden, r.Failed)
		return m, m.load()
	case runningMsg:
		m.status = fmt.Sprintf("Running balances recomputed for %d transactions", msg.updated)
		return m, m.load()
	case errMsg:
		m.busy = false
		m.status = "Error: " + msg.err.Error()
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.NextTab):
		m.tab = (m.tab + 1) % tab(len(tabNames))
		m.cursor, m.top = 0, 0
	case key.Matches(msg, m.keys.PrevTab):
		m.tab = (m.tab + tab(len(tabNames)) - 1) % tab(len(tabNames))
		m.cursor, m.top = 0, 0
	case key.Matches(msg, m.keys.Down):
		if m.cursor < m.rowCount()-1 {
			m.cursor++
		}
		m.clampScroll()
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		m.clampScroll()
	case key.Matches(msg, m.keys.Refresh):
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.status = "Refreshing…"
		return m, m.load()
	case key.Matches(msg, m.keys.Recategorize):
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.status = "Recategorizing…"
		return m, m.recategorize()
	case key.Matches(msg, m.keys.Running):
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.status = "Recomputing running balances…"
		return m, m.recomputeRunning()
	}
	return m, nil
}

func (m Model) rowCount() int {
	switch m.tab {
	case tabTransactions:
		return len(m.data.txs)
	case tabAudit:
		return len(m.data.audit)
	default:
		return 0
	}
}

// visibleRows is the number of table rows that fit between the chrome.
func (m Model) visibleRows() int {
	if m.height == 0 {
		return 20
	}
	// header, section title + separator + table header, scroll line, status, footer, borders
	n := m.height - 9
	if n < 3 {
		n = 3
	}
	return n
}

func (m *Model) clampScroll() {
	if n := m.rowCount(); m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
	vis := m.visibleRows()
	if m.cursor < m.top {
		m.top = m.cursor
	}
	if m.cursor >= m.top+vis {
		m.top = m.cursor - vis + 1
	}
}

func (m Model) View() string {
	header := renderHeader("saldo", int(m.tab), m.width)
	var body string
	if !m.loaded {
		body = mutedStyle.Render("Loading…")
	} else {
		switch m.tab {
		case tabTransactions:
			body = m.renderSection("Transactions", renderTransactions(m.data.txs, m.cursor, m.top, m.visibleRows(), m.contentWidth(), m.opts))
		case tabAudit:
			body = m.renderSection("Balance audit log", renderAudit(m.data.audit, m.cursor, m.top, m.visibleRows(), m.contentWidth(), m.opts))
		default:
			banner := m.renderSection("Balance", renderBanner(m.data.report, m.data.current, m.opts.Currency, m.contentWidth()))
			breakdown := m.renderSection("Spending by category", renderBreakdown(m.data.summary, m.opts.Currency, m.contentWidth()))
			recent := m.renderSection("Recent", renderTransactions(m.data.summary.Recent, -1, 0, len(m.data.summary.Recent), m.contentWidth(), m.opts))
			body = lipgloss.JoinVertical(lipgloss.Left, banner, breakdown, recent)
		}
	}
	status := m.renderStatus(m.status)
	footer := m.renderFooter(m.keys.footer())
	return strings.Join([]string{header, body, status, footer}, "\n")
}

func (m Model) contentWidth() int {
	if m.width == 0 {
		return 80
	}
	w := m.width - 4
	if w < 20 {
		w = 20
	}
	return w
}
