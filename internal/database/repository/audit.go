package repository

import (
	"context"

	"github.com/shopspring/decimal"
)

// AuditRepo appends and reads balance audit entries. Entries are never updated.
type AuditRepo struct{ db DBTX }

func NewAuditRepo(db DBTX) *AuditRepo { return &AuditRepo{db: db} }

func (r *AuditRepo) Append(ctx context.Context, e AuditEntry) (int64, error) {
	var old any
	if e.OldValue != nil {
		old = e.OldValue.String()
	}
	res, err := r.db.ExecContext(ctx, `
	INSERT INTO balance_audit_log(old_value, new_value, reason, note, created_at)
	VALUES(?, ?, ?, ?, ?)
	`, old, e.NewValue.String(), string(e.Reason), e.Note, createdAt(e.CreatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// List returns the newest entries first; limit <= 0 returns all.
func (r *AuditRepo) List(ctx context.Context, limit int) ([]AuditEntry, error) {
	query := `SELECT id, old_value, new_value, reason, note, created_at FROM balance_audit_log ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var old decimal.NullDecimal
		var reason string
		if err := rows.Scan(&e.ID, &old, &e.NewValue, &reason, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		if old.Valid {
			e.OldValue = &old.Decimal
		}
		e.Reason = AuditReason(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *AuditRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM balance_audit_log`).Scan(&n)
	return n, err
}

func (r *AuditRepo) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM balance_audit_log`)
	return err
}
