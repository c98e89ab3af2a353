package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jask/saldo/internal/categorize"
	"github.com/jask/saldo/internal/database"
	"github.com/jask/saldo/internal/database/repository"
)

const backupVersion = 1

// MaintenanceService houses destructive and bulk data operations.
type MaintenanceService struct {
	Store    *repository.Store
	Balances *BalanceService
	Fallback string
	Log      zerolog.Logger
}

// Backup is a complete export of user data.
type Backup struct {
	Version      int                       `json:"version"`
	ID           string                    `json:"id"`
	CreatedAt    time.Time                 `json:"created_at"`
	Categories   []repository.Category     `json:"categories"`
	Rules        []repository.CategoryRule `json:"rules"`
	Transactions []repository.Transaction  `json:"transactions"`
	FileBalances []repository.FileBalance  `json:"file_balances"`
	Balance      repository.AccountBalance `json:"balance"`
	Audit        []repository.AuditEntry   `json:"audit"`
}

// Export reads every table in one transaction.
func (s *MaintenanceService) Export(ctx context.Context) (Backup, error) {
	b := Backup{Version: backupVersion, ID: uuid.NewString(), CreatedAt: database.Now()}
	err := s.Store.Atomic(ctx, func(st *repository.Store) error {
		var err error
		if b.Categories, err = st.Categories.List(ctx); err != nil {
			return fmt.Errorf("export categories: %w", err)
		}
		if b.Rules, err = st.Rules.List(ctx); err != nil {
			return fmt.Errorf("export rules: %w", err)
		}
		if b.Transactions, err = st.Transactions.List(ctx, repository.TransactionFilters{Ascending: true}); err != nil {
			return fmt.Errorf("export transactions: %w", err)
		}
		if b.FileBalances, err = st.FileBalances.List(ctx); err != nil {
			return fmt.Errorf("export file balances: %w", err)
		}
		if b.Balance, err = st.Balance.Get(ctx); err != nil {
			return fmt.Errorf("export balance: %w", err)
		}
		if b.Audit, err = st.Audit.List(ctx, 0); err != nil {
			return fmt.Errorf("export audit log: %w", err)
		}
		return nil
	})
	return b, err
}

// WriteBackup encodes an export to w.
func (s *MaintenanceService) WriteBackup(ctx context.Context, w io.Writer) (Backup, error) {
	b, err := s.Export(ctx)
	if err != nil {
		return Backup{}, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return Backup{}, fmt.Errorf("encode backup: %w", err)
	}
	return b, nil
}

// WriteBackupFile writes an export atomically (tmp + rename).
func (s *MaintenanceService) WriteBackupFile(ctx context.Context, path string) (Backup, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Backup{}, fmt.Errorf("mkdir backup dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return Backup{}, err
	}
	b, err := s.WriteBackup(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return Backup{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return Backup{}, err
	}
	s.Log.Info().Str("path", path).Str("backup_id", b.ID).Int("transactions", len(b.Transactions)).Msg("backup written")
	return b, nil
}

// Restore replaces all data with the backup in one transaction and records
// the restored balance in the audit log.
func (s *MaintenanceService) Restore(ctx context.Context, r io.Reader) (Backup, error) {
	var b Backup
	dec := json.NewDecoder(r)
	if err := dec.Decode(&b); err != nil {
		return Backup{}, invalid("backup", "not a valid backup document: %v", err)
	}
	if b.Version != backupVersion {
		return Backup{}, invalid("version", "unsupported backup version %d", b.Version)
	}
	defaults := 0
	for _, c := range b.Categories {
		if c.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		return Backup{}, invalid("categories", "backup must contain exactly one fallback category")
	}
	for i, r := range b.Rules {
		if err := categorize.ValidatePattern(r.Pattern, r.MatchType); err != nil {
			return Backup{}, invalid(fmt.Sprintf("rules[%d].pattern", i), "rule %d: %v", r.ID, err)
		}
	}

	err := s.Store.Atomic(ctx, func(st *repository.Store) error {
		prev, err := st.Balance.Get(ctx)
		if err != nil {
			return err
		}
		if err := wipe(ctx, st); err != nil {
			return err
		}
		for _, c := range b.Categories {
			if err := st.Categories.Upsert(ctx, c); err != nil {
				return fmt.Errorf("restore category %q: %w", c.Name, err)
			}
		}
		for _, r := range b.Rules {
			if err := st.Rules.Upsert(ctx, r); err != nil {
				return fmt.Errorf("restore rule %d: %w", r.ID, err)
			}
		}
		for _, t := range b.Transactions {
			if err := st.Transactions.Restore(ctx, t); err != nil {
				return fmt.Errorf("restore transaction %d: %w", t.ID, err)
			}
		}
		for _, fb := range b.FileBalances {
			if err := st.FileBalances.Restore(ctx, fb); err != nil {
				return fmt.Errorf("restore file balance %d: %w", fb.ID, err)
			}
		}
		audit := append([]repository.AuditEntry(nil), b.Audit...)
		sort.SliceStable(audit, func(i, j int) bool { return audit[i].ID < audit[j].ID })
		for _, e := range audit {
			if _, err := st.Audit.Append(ctx, e); err != nil {
				return fmt.Errorf("restore audit entry %d: %w", e.ID, err)
			}
		}
		now := database.Now()
		if err := st.Balance.Set(ctx, b.Balance.Balance, b.Balance.IsManual, now); err != nil {
			return err
		}
		old := prev.Balance
		_, err = st.Audit.Append(ctx, repository.AuditEntry{
			OldValue:  &old,
			NewValue:  b.Balance.Balance,
			Reason:    repository.ReasonOther,
			Note:      "restore",
			CreatedAt: now,
		})
		return err
	})
	if err != nil {
		return Backup{}, err
	}
	s.Log.Warn().Str("backup_id", b.ID).Int("transactions", len(b.Transactions)).Msg("backup restored")
	return b, nil
}

// WipeAll clears all user data, re-seeds the default categories and resets
// the balance. The schema is kept so the app can continue running.
func (s *MaintenanceService) WipeAll(ctx context.Context) error {
	var changes []repository.AuditEntry
	err := s.Store.Atomic(ctx, func(st *repository.Store) error {
		if err := wipe(ctx, st); err != nil {
			return err
		}
		for _, c := range database.DefaultCategories {
			if _, err := st.Categories.Create(ctx, repository.Category{
				Name: c.Name, Type: c.Type, Color: c.Color, SortOrder: c.SortOrder, IsDefault: c.IsDefault,
			}); err != nil {
				return fmt.Errorf("seed category %q: %w", c.Name, err)
			}
		}
		cat := &CategorizerService{Store: st, Fallback: s.Fallback}
		if err := cat.EnsureFallback(ctx); err != nil {
			return err
		}
		if s.Balances != nil {
			if _, err := s.Balances.withStore(st, &changes).Reset(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.Balances != nil {
		s.Balances.announce(changes...)
	}
	if err := s.Store.Exec(ctx, "VACUUM"); err != nil {
		s.Log.Warn().Err(err).Msg("vacuum after wipe")
	}
	s.Log.Warn().Msg("all data wiped")
	return nil
}

func wipe(ctx context.Context, st *repository.Store) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"transactions", st.Transactions.DeleteAll},
		{"imports", st.Imports.DeleteAll},
		{"category_rules", st.Rules.DeleteAll},
		{"categories", st.Categories.DeleteAll},
		{"file_balances", st.FileBalances.DeleteAll},
		{"balance_audit_log", st.Audit.DeleteAll},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("wipe %s: %w", step.name, err)
		}
	}
	return nil
}
