// Package reconcile compares a balance snapshot plus the transactions since
// it against the live tracked balance.
package reconcile

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Severity grades a discrepancy.
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Baseline is the balance printed on a selected statement.
type Baseline struct {
	ID      int64
	Balance decimal.Decimal
	Date    *time.Time // nil counts every transaction
}

// Entry is a transaction reduced to what reconciliation needs. Amount is
// signed: income positive, expenses negative.
type Entry struct {
	ID     int64
	Date   time.Time
	Amount decimal.Decimal
}

// Thresholds configure alerting. Differences up to Alert (inclusive) are
// tolerated; above High the alert escalates.
type Thresholds struct {
	Alert decimal.Decimal
	High  decimal.Decimal
}

// DefaultThresholds returns 50 / 200.
func DefaultThresholds() Thresholds {
	return Thresholds{Alert: decimal.NewFromInt(50), High: decimal.NewFromInt(200)}
}

// Report is the outcome of a reconciliation.
type Report struct {
	HasBaseline       bool            `json:"has_baseline"`
	BaselineID        int64           `json:"baseline_id,omitempty"`
	BaselineBalance   decimal.Decimal `json:"baseline_balance"`
	BaselineDate      *time.Time      `json:"baseline_date,omitempty"`
	Income            decimal.Decimal `json:"income"`
	Expense           decimal.Decimal `json:"expense"`
	TransactionCount  int             `json:"transaction_count"`
	CalculatedBalance decimal.Decimal `json:"calculated_balance"`
	LiveBalance       decimal.Decimal `json:"live_balance"`
	Difference        decimal.Decimal `json:"difference"`
	IsWithinThreshold bool            `json:"is_within_threshold"`
	Severity          Severity        `json:"severity"`
	// Validated is false when there was no reference point to check against.
	Validated bool `json:"validated"`
}

// Alert reports whether the discrepancy needs attention.
func (r Report) Alert() bool { return r.Severity != SeverityNone }

// Reconcile computes the calculated balance and grades its difference from
// live. A nil live balance is taken to equal the baseline.
func Reconcile(baseline *Baseline, txs []Entry, live *decimal.Decimal, th Thresholds) Report {
	rep := Report{
		BaselineBalance: decimal.Zero,
		Income:          decimal.Zero,
		Expense:         decimal.Zero,
		Severity:        SeverityNone,
	}
	var since *time.Time
	if baseline != nil {
		rep.HasBaseline = true
		rep.BaselineID = baseline.ID
		rep.BaselineBalance = baseline.Balance
		rep.BaselineDate = baseline.Date
		since = baseline.Date
	}

	for _, t := range txs {
		if since != nil && dayOf(t.Date).Before(dayOf(*since)) {
			continue
		}
		rep.TransactionCount++
		if t.Amount.IsNegative() {
			rep.Expense = rep.Expense.Add(t.Amount.Neg())
		} else {
			rep.Income = rep.Income.Add(t.Amount)
		}
	}
	rep.CalculatedBalance = rep.BaselineBalance.Add(rep.Income).Sub(rep.Expense)

	rep.LiveBalance = rep.BaselineBalance
	if live != nil {
		rep.LiveBalance = *live
	}
	rep.Difference = rep.CalculatedBalance.Sub(rep.LiveBalance)

	if !rep.HasBaseline {
		rep.IsWithinThreshold = true
		return rep
	}
	rep.Validated = true
	rep.Severity = Grade(rep.Difference, th)
	rep.IsWithinThreshold = rep.Severity == SeverityNone
	return rep
}

// Grade maps a difference onto a severity.
func Grade(diff decimal.Decimal, th Thresholds) Severity {
	abs := diff.Abs()
	switch {
	case abs.LessThanOrEqual(th.Alert):
		return SeverityNone
	case abs.GreaterThan(th.High):
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// Running pairs an entry with the balance after it.
type Running struct {
	ID      int64
	Balance decimal.Decimal
}

// RunningBalances walks txs in date then id order starting from start.
func RunningBalances(start decimal.Decimal, txs []Entry) []Running {
	ordered := append([]Entry(nil), txs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return ordered[i].ID < ordered[j].ID
	})
	out := make([]Running, 0, len(ordered))
	bal := start
	for _, t := range ordered {
		bal = bal.Add(t.Amount)
		out = append(out, Running{ID: t.ID, Balance: bal})
	}
	return out
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
