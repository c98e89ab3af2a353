package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/jask/saldo/internal/database/repository"
	"github.com/jask/saldo/internal/reconcile"
	"github.com/jask/saldo/internal/service"
)

func renderHeader(appName string, active, width int) string {
	name := headerAppStyle.Render(appName)
	var tabs []string
	for i, t := range tabNames {
		if i == active {
			tabs = append(tabs, activeTabStyle.Render(t))
		} else {
			tabs = append(tabs, inactiveTabStyle.Render(t))
		}
	}
	line := name + "  " + strings.Join(tabs, " ")
	if width <= 0 {
		return headerBarStyle.Render(line)
	}
	return headerBarStyle.Width(width).Render(line)
}

func (m Model) renderSection(title, content string) string {
	w := m.contentWidth()
	header := padRight(titleStyle.Render(title), w)
	sep := separatorStyle.Render(strings.Repeat("─", w))
	return listBoxStyle.Width(w + 2).Render(header + "\n" + sep + "\n" + content)
}

func (m Model) renderFooter(bindings []key.Binding) string {
	bg := colorMantle
	keyStyle := helpKeyStyle.Background(bg)
	descStyle := helpDescStyle.Background(bg)
	space := lipgloss.NewStyle().Background(bg).Render(" ")
	sep := lipgloss.NewStyle().Background(bg).Render("  ")

	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, keyStyle.Render(h.Key)+space+descStyle.Render(h.Desc))
	}
	content := strings.Join(parts, sep)
	if m.width == 0 {
		return footerStyle.Render(content)
	}
	return footerStyle.Width(m.width).Render(content)
}

func (m Model) renderStatus(text string) string {
	flat := strings.ReplaceAll(text, "\n", " ")
	if m.width == 0 {
		return statusBarStyle.Render(flat)
	}
	return statusBarStyle.Width(m.width).Render(flat)
}

// renderBanner shows the live balance and how it reconciles with the baseline.
func renderBanner(rep reconcile.Report, cur repository.AccountBalance, currency string, width int) string {
	source := "from statement"
	if cur.IsManual {
		source = "manual"
	}
	lines := []string{
		row("Live balance", money(currency, cur.Balance)+mutedStyle.Render("  ("+source+")")),
	}
	if !rep.HasBaseline {
		lines = append(lines, unvalidatedStyle.Render("No statement baseline selected; discrepancies are not checked."))
	} else {
		lines = append(lines,
			row("Calculated", money(currency, rep.CalculatedBalance)),
			row("Difference", money(currency, rep.Difference)),
			row("Status", severityLabel(rep)),
		)
		if rep.BaselineDate != nil {
			lines = append(lines, mutedStyle.Render(fmt.Sprintf("baseline %s + %d transactions since %s",
				money(currency, rep.BaselineBalance), rep.TransactionCount, rep.BaselineDate.Format(repository.DateLayout))))
		}
	}
	for i, l := range lines {
		lines[i] = padRight(l, width)
	}
	return strings.Join(lines, "\n")
}

func severityLabel(rep reconcile.Report) string {
	st, ok := severityStyles[string(rep.Severity)]
	if !ok {
		st = mutedStyle
	}
	switch rep.Severity {
	case reconcile.SeverityHigh:
		return st.Render("HIGH discrepancy")
	case reconcile.SeverityMedium:
		return st.Render("discrepancy")
	default:
		return st.Render("in balance")
	}
}

func row(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-14s", label)) + " " + value
}

// renderBreakdown draws one bar per category scaled to the largest expense.
func renderBreakdown(sum service.Summary, currency string, width int) string {
	lines := []string{
		row("Income", creditStyle.Render(money(currency, sum.Income))),
		row("Expenses", debitStyle.Render(money(currency, sum.Expense))),
		row("Net", valueStyle.Render(money(currency, sum.Net))),
		"",
	}
	maxExp := decimal.Zero
	for _, c := range sum.Categories {
		if c.Expense.GreaterThan(maxExp) {
			maxExp = c.Expense
		}
	}
	nameW, amtW := 18, 14
	barW := width - nameW - amtW - 4
	if barW < 5 {
		barW = 5
	}
	shown := 0
	for _, c := range sum.Categories {
		if c.Expense.IsZero() {
			continue
		}
		n := 0
		if maxExp.IsPositive() {
			n = int(c.Expense.Div(maxExp).Mul(decimal.NewFromInt(int64(barW))).IntPart())
		}
		if n < 1 {
			n = 1
		}
		color := lipgloss.Color(c.Color)
		if c.Color == "" {
			color = colorOverlay1
		}
		bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", n))
		lines = append(lines, padRight(truncate(c.Name, nameW), nameW)+"  "+
			padLeft(money(currency, c.Expense), amtW)+"  "+bar)
		shown++
	}
	if shown == 0 {
		lines = append(lines, mutedStyle.Render("No expenses yet."))
	}
	return strings.Join(lines, "\n")
}

func renderTransactions(rows []service.TransactionView, cursor, top, visible, width int, opts Options) string {
	dateW, amtW, catW := 10, 12, 16
	descW := width - dateW - amtW - catW - 8
	if descW < 5 {
		descW = 5
	}
	header := fmt.Sprintf("  %-*s  %*s  %-*s  %-*s", dateW, "Date", amtW, "Amount", catW, "Category", descW, "Description")
	lines := []string{tableHeaderStyle.Render(header)}
	if len(rows) == 0 {
		return strings.Join(append(lines, mutedStyle.Render("  No transactions.")), "\n")
	}

	end := min(top+visible, len(rows))
	for i := top; i < end; i++ {
		t := rows[i]
		amt := padLeft(money(opts.Currency, t.Signed()), amtW)
		if t.Type == repository.TypeIncome {
			amt = creditStyle.Render(amt)
		} else {
			amt = debitStyle.Render(amt)
		}
		cat := truncate(t.CategoryName, catW)
		if t.IsManualOverride {
			cat = truncate("*"+t.CategoryName, catW)
		}
		prefix := "  "
		if i == cursor {
			prefix = cursorStyle.Render("> ")
		}
		lines = append(lines, prefix+padRight(t.Date.Format(opts.DateFormat), dateW)+"  "+amt+"  "+
			padRight(cat, catW)+"  "+padRight(truncate(t.Description, descW), descW))
	}
	if cursor >= 0 && len(rows) > visible {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("── showing %d-%d of %d ──", top+1, end, len(rows))))
	}
	return strings.Join(lines, "\n")
}

func renderAudit(entries []repository.AuditEntry, cursor, top, visible, width int, opts Options) string {
	whenW, valW, reasonW := 19, 14, 16
	noteW := width - whenW - 2*valW - reasonW - 10
	if noteW < 5 {
		noteW = 5
	}
	header := fmt.Sprintf("  %-*s  %*s  %*s  %-*s  %s", whenW, "When", valW, "Old", valW, "New", reasonW, "Reason", "Note")
	lines := []string{tableHeaderStyle.Render(header)}
	if len(entries) == 0 {
		return strings.Join(append(lines, mutedStyle.Render("  No balance changes recorded.")), "\n")
	}
	end := min(top+visible, len(entries))
	for i := top; i < end; i++ {
		e := entries[i]
		old := "-"
		if e.OldValue != nil {
			old = money(opts.Currency, *e.OldValue)
		}
		prefix := "  "
		if i == cursor {
			prefix = cursorStyle.Render("> ")
		}
		lines = append(lines, prefix+padRight(e.CreatedAt.Format("2006-01-02 15:04:05"), whenW)+"  "+
			padLeft(old, valW)+"  "+focusStyle.Render(padLeft(money(opts.Currency, e.NewValue), valW))+"  "+
			padRight(string(e.Reason), reasonW)+"  "+truncate(e.Note, noteW))
	}
	return strings.Join(lines, "\n")
}

func money(currency string, d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	return sign + currency + d.Abs().StringFixed(2)
}

func padRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

func padLeft(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return strings.Repeat(" ", width-w) + s
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}
