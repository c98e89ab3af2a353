package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jask/saldo/internal/database"
	"github.com/jask/saldo/internal/database/repository"
	"github.com/jask/saldo/internal/metrics"
	"github.com/jask/saldo/internal/reconcile"
)

// maxBalance bounds manually entered balances.
var maxBalance = decimal.New(1, 12)

// BalanceService owns every write to the live balance. Each mutation updates
// the balance and appends exactly one audit entry in the same database
// transaction.
type BalanceService struct {
	Store      *repository.Store
	Thresholds reconcile.Thresholds
	// Default is the balance restored by Reset.
	Default decimal.Decimal
	Log     zerolog.Logger
	Metrics *metrics.Metrics

	// changes is set on copies bound to a caller's transaction. Mutations
	// collect their audit entries there and the caller announces them once
	// its transaction commits.
	changes *[]repository.AuditEntry
}

// FileBalanceInput describes a statement balance found in an imported file.
type FileBalanceInput struct {
	Balance       decimal.Decimal `json:"balance"`
	FileName      string          `json:"file_name"`
	StatementDate *time.Time      `json:"statement_date,omitempty"`
}

// mutate runs fn and the audit append inside one transaction. fn returns the
// new balance and whether it is a manual override.
func (s *BalanceService) mutate(ctx context.Context, reason repository.AuditReason, note string,
	fn func(st *repository.Store) (decimal.Decimal, bool, error)) (repository.AuditEntry, error) {
	var entry repository.AuditEntry
	err := s.Store.Atomic(ctx, func(st *repository.Store) error {
		cur, err := st.Balance.Get(ctx)
		if err != nil {
			return fmt.Errorf("load balance: %w", err)
		}
		next, manual, err := fn(st)
		if err != nil {
			return err
		}
		now := database.Now()
		if err := st.Balance.Set(ctx, next, manual, now); err != nil {
			return fmt.Errorf("set balance: %w", err)
		}
		old := cur.Balance
		entry = repository.AuditEntry{OldValue: &old, NewValue: next, Reason: reason, Note: note, CreatedAt: now}
		id, err := st.Audit.Append(ctx, entry)
		if err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}
		entry.ID = id
		return nil
	})
	if err != nil {
		return repository.AuditEntry{}, err
	}
	s.settle(entry)
	return entry, nil
}

// settle announces committed changes, or hands them to the enclosing
// transaction's owner when s is bound to one.
func (s *BalanceService) settle(entries ...repository.AuditEntry) {
	if s.changes != nil {
		*s.changes = append(*s.changes, entries...)
		return
	}
	s.announce(entries...)
}

// announce records the metric and log line for each committed change.
func (s *BalanceService) announce(entries ...repository.AuditEntry) {
	for _, e := range entries {
		s.Metrics.BalanceChanged(string(e.Reason))
		old := "none"
		if e.OldValue != nil {
			old = e.OldValue.String()
		}
		s.Log.Info().
			Str("reason", string(e.Reason)).
			Str("old", old).
			Str("new", e.NewValue.String()).
			Msg("balance changed")
		if e.Reason == repository.ReasonReset {
			s.Log.Warn().Msg("balance history reset")
		}
	}
}

// AddFileBalance stores a statement balance. With no baseline selected it
// becomes the baseline and sets the live balance (initial setup).
func (s *BalanceService) AddFileBalance(ctx context.Context, in FileBalanceInput) (repository.FileBalance, error) {
	name := strings.TrimSpace(in.FileName)
	if name == "" {
		return repository.FileBalance{}, invalid("file_name", "is required")
	}
	if in.Balance.Abs().GreaterThan(maxBalance) {
		return repository.FileBalance{}, invalid("balance", "must be within ±%s", maxBalance)
	}
	var out repository.FileBalance
	var initial bool
	var changes []repository.AuditEntry
	err := s.Store.Atomic(ctx, func(st *repository.Store) error {
		id, err := st.FileBalances.Insert(ctx, repository.FileBalance{
			Balance:       in.Balance,
			FileName:      name,
			StatementDate: in.StatementDate,
		})
		if err != nil {
			return fmt.Errorf("insert file balance: %w", err)
		}
		sel, err := st.FileBalances.Selected(ctx)
		if err != nil {
			return err
		}
		if sel == nil {
			initial = true
			if _, err := s.withStore(st, &changes).mutate(ctx, repository.ReasonInitialSetup, "baseline from "+name,
				func(st *repository.Store) (decimal.Decimal, bool, error) {
					return in.Balance, false, st.FileBalances.Select(ctx, id)
				}); err != nil {
				return err
			}
		}
		out, err = st.FileBalances.Get(ctx, id)
		return err
	})
	if err != nil {
		return repository.FileBalance{}, err
	}
	s.settle(changes...)
	if s.changes == nil {
		s.Log.Info().Int64("id", out.ID).Str("file", name).Bool("baseline", initial).Msg("file balance added")
	}
	return out, nil
}

// SelectFileBalance makes id the baseline and resets the live balance to it.
func (s *BalanceService) SelectFileBalance(ctx context.Context, id int64, note string) (repository.AuditEntry, error) {
	if id <= 0 {
		return repository.AuditEntry{}, invalid("id", "is required")
	}
	return s.mutate(ctx, repository.ReasonFileSelection, note, func(st *repository.Store) (decimal.Decimal, bool, error) {
		fb, err := st.FileBalances.Get(ctx, id)
		if err != nil {
			return decimal.Zero, false, err
		}
		if err := st.FileBalances.Select(ctx, id); err != nil {
			return decimal.Zero, false, err
		}
		return fb.Balance, false, nil
	})
}

// SetManualBalance overrides the live balance.
func (s *BalanceService) SetManualBalance(ctx context.Context, value decimal.Decimal, note string) (repository.AuditEntry, error) {
	if value.Abs().GreaterThan(maxBalance) {
		return repository.AuditEntry{}, invalid("value", "must be within ±%s", maxBalance)
	}
	return s.mutate(ctx, repository.ReasonManualOverride, strings.TrimSpace(note), func(*repository.Store) (decimal.Decimal, bool, error) {
		return value, true, nil
	})
}

// Reset deletes every statement balance and the audit history, restores
// the default balance and records the reset as the first new audit entry.
// It cannot be undone.
func (s *BalanceService) Reset(ctx context.Context) (repository.AuditEntry, error) {
	return s.mutate(ctx, repository.ReasonReset, "balance reset", func(st *repository.Store) (decimal.Decimal, bool, error) {
		if err := st.FileBalances.DeleteAll(ctx); err != nil {
			return decimal.Zero, false, fmt.Errorf("delete file balances: %w", err)
		}
		if err := st.Audit.DeleteAll(ctx); err != nil {
			return decimal.Zero, false, fmt.Errorf("delete audit log: %w", err)
		}
		return s.Default, false, nil
	})
}

// Status reconciles the selected baseline against the live balance.
func (s *BalanceService) Status(ctx context.Context) (reconcile.Report, error) {
	var rep reconcile.Report
	err := s.Store.Atomic(ctx, func(st *repository.Store) error {
		baseline, err := loadBaseline(ctx, st)
		if err != nil {
			return err
		}
		live, err := st.Balance.Get(ctx)
		if err != nil {
			return fmt.Errorf("load balance: %w", err)
		}
		entries, err := loadEntries(ctx, st, baseline)
		if err != nil {
			return err
		}
		rep = reconcile.Reconcile(baseline, entries, &live.Balance, s.Thresholds)
		return nil
	})
	if err != nil {
		return reconcile.Report{}, err
	}
	s.Metrics.SetBalanceSeverity(string(rep.Severity))
	if rep.Alert() {
		s.Log.Warn().
			Str("severity", string(rep.Severity)).
			Str("calculated", rep.CalculatedBalance.String()).
			Str("live", rep.LiveBalance.String()).
			Str("difference", rep.Difference.String()).
			Msg("balance discrepancy")
	}
	return rep, nil
}

// RecomputeRunningBalances writes the running balance of every transaction
// from the baseline onward in one batch. It returns the number updated.
func (s *BalanceService) RecomputeRunningBalances(ctx context.Context) (int, error) {
	var n int
	err := s.Store.Atomic(ctx, func(st *repository.Store) error {
		baseline, err := loadBaseline(ctx, st)
		if err != nil {
			return err
		}
		txs, err := st.Transactions.List(ctx, repository.TransactionFilters{Ascending: true})
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		start := decimal.Zero
		var since *time.Time
		if baseline != nil {
			start = baseline.Balance
			since = baseline.Date
		}
		var entries []reconcile.Entry
		for _, t := range txs {
			if since != nil && t.Date.Before(*since) {
				if err := st.Transactions.UpdateRunningBalance(ctx, t.ID, nil); err != nil {
					return err
				}
				continue
			}
			entries = append(entries, reconcile.Entry{ID: t.ID, Date: t.Date, Amount: t.Signed()})
		}
		for _, r := range reconcile.RunningBalances(start, entries) {
			bal := r.Balance
			if err := st.Transactions.UpdateRunningBalance(ctx, r.ID, &bal); err != nil {
				return fmt.Errorf("update running balance %d: %w", r.ID, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *BalanceService) FileBalances(ctx context.Context) ([]repository.FileBalance, error) {
	return s.Store.FileBalances.List(ctx)
}

func (s *BalanceService) AuditLog(ctx context.Context, limit int) ([]repository.AuditEntry, error) {
	return s.Store.Audit.List(ctx, limit)
}

// Current returns the live balance row.
func (s *BalanceService) Current(ctx context.Context) (repository.AccountBalance, error) {
	return s.Store.Balance.Get(ctx)
}

// withStore returns a copy bound to st so nested mutations join its
// transaction. Their audit entries land in changes for the caller to announce
// after commit.
func (s *BalanceService) withStore(st *repository.Store, changes *[]repository.AuditEntry) *BalanceService {
	c := *s
	c.Store = st
	c.changes = changes
	return &c
}

func loadBaseline(ctx context.Context, st *repository.Store) (*reconcile.Baseline, error) {
	sel, err := st.FileBalances.Selected(ctx)
	if err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}
	if sel == nil {
		return nil, nil
	}
	return &reconcile.Baseline{ID: sel.ID, Balance: sel.Balance, Date: sel.StatementDate}, nil
}

func loadEntries(ctx context.Context, st *repository.Store, baseline *reconcile.Baseline) ([]reconcile.Entry, error) {
	f := repository.TransactionFilters{Ascending: true}
	if baseline != nil && baseline.Date != nil {
		f.From = *baseline.Date
	}
	txs, err := st.Transactions.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]reconcile.Entry, 0, len(txs))
	for _, t := range txs {
		out = append(out, reconcile.Entry{ID: t.ID, Date: t.Date, Amount: t.Signed()})
	}
	return out, nil
}
