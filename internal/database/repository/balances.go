package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FileBalanceRepo handles statement balance snapshots.
type FileBalanceRepo struct{ db DBTX }

func NewFileBalanceRepo(db DBTX) *FileBalanceRepo { return &FileBalanceRepo{db: db} }

const fileBalanceColumns = `id, balance, file_name, statement_date, is_selected, created_at`

func (r *FileBalanceRepo) Insert(ctx context.Context, fb FileBalance) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
	INSERT INTO file_balances(balance, file_name, statement_date, is_selected, created_at)
	VALUES(?, ?, ?, 0, ?)
	`, fb.Balance.String(), fb.FileName, nullableDate(fb.StatementDate), createdAt(fb.CreatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Restore writes a snapshot keeping its id and selection flag.
func (r *FileBalanceRepo) Restore(ctx context.Context, fb FileBalance) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO file_balances(id, balance, file_name, statement_date, is_selected, created_at)
	VALUES(?, ?, ?, ?, ?, ?)
	`, fb.ID, fb.Balance.String(), fb.FileName, nullableDate(fb.StatementDate), fb.IsSelected, createdAt(fb.CreatedAt))
	return err
}

func (r *FileBalanceRepo) List(ctx context.Context) ([]FileBalance, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+fileBalanceColumns+` FROM file_balances ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FileBalance
	for rows.Next() {
		fb, err := scanFileBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}

func (r *FileBalanceRepo) Get(ctx context.Context, id int64) (FileBalance, error) {
	fb, err := scanFileBalance(r.db.QueryRowContext(ctx, `SELECT `+fileBalanceColumns+` FROM file_balances WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return FileBalance{}, fmt.Errorf("file balance %d: %w", id, ErrNotFound)
	}
	return fb, err
}

// Selected returns the active baseline, or nil when none is selected.
func (r *FileBalanceRepo) Selected(ctx context.Context) (*FileBalance, error) {
	fb, err := scanFileBalance(r.db.QueryRowContext(ctx, `SELECT `+fileBalanceColumns+` FROM file_balances WHERE is_selected = 1`))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &fb, nil
}

// Select makes id the only selected snapshot.
func (r *FileBalanceRepo) Select(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE file_balances SET is_selected = 0 WHERE is_selected = 1 AND id != ?`, id); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE file_balances SET is_selected = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return fmt.Errorf("file balance %d: %w", id, err)
	}
	return nil
}

func (r *FileBalanceRepo) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM file_balances`)
	return err
}

func scanFileBalance(row scanner) (FileBalance, error) {
	var fb FileBalance
	var stmtDate sql.NullString
	if err := row.Scan(&fb.ID, &fb.Balance, &fb.FileName, &stmtDate, &fb.IsSelected, &fb.CreatedAt); err != nil {
		return FileBalance{}, err
	}
	if stmtDate.Valid && stmtDate.String != "" {
		d, err := time.Parse(DateLayout, stmtDate.String)
		if err != nil {
			return FileBalance{}, fmt.Errorf("file balance %d statement date %q: %w", fb.ID, stmtDate.String, err)
		}
		fb.StatementDate = &d
	}
	return fb, nil
}

// AccountBalanceRepo handles the single live balance row.
type AccountBalanceRepo struct{ db DBTX }

func NewAccountBalanceRepo(db DBTX) *AccountBalanceRepo { return &AccountBalanceRepo{db: db} }

func (r *AccountBalanceRepo) Get(ctx context.Context) (AccountBalance, error) {
	var ab AccountBalance
	err := r.db.QueryRowContext(ctx, `SELECT balance, is_manual, updated_at FROM account_balance WHERE id = 1`).
		Scan(&ab.Balance, &ab.IsManual, &ab.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AccountBalance{Balance: decimal.Zero}, nil
	}
	return ab, err
}

func (r *AccountBalanceRepo) Set(ctx context.Context, balance decimal.Decimal, isManual bool, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO account_balance(id, balance, is_manual, updated_at) VALUES (1, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET balance=excluded.balance, is_manual=excluded.is_manual, updated_at=excluded.updated_at
	`, balance.String(), isManual, at)
	return err
}

func nullableDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(DateLayout)
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC().Truncate(time.Second)
	}
	return t
}
