package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// effectiveCategorySQL resolves the category a transaction is reported under.
const effectiveCategorySQL = `CASE WHEN is_manual_override = 1 THEN manual_category_id ELSE category_id END`

// TransactionFilters defines list filters.
type TransactionFilters struct {
	From       time.Time // inclusive; zero = unbounded
	To         time.Time // inclusive; zero = unbounded
	CategoryID int64     // effective category; 0 = any
	Type       TxType
	Search     string
	Ascending  bool
	Limit      int
	Offset     int
}

// TransactionRepo handles transactions.
type TransactionRepo struct {
	db DBTX
}

func NewTransactionRepo(db DBTX) *TransactionRepo { return &TransactionRepo{db: db} }

const transactionColumns = `id, date_iso, amount, type, description, category_id, is_manual_override,
	manual_category_id, running_balance, import_id, source_hash, created_at`

// Insert writes a new transaction and returns its id. A repeated source hash
// yields ErrDuplicate.
func (r *TransactionRepo) Insert(ctx context.Context, t Transaction) (int64, error) {
	var running any
	if t.RunningBalance != nil {
		running = t.RunningBalance.String()
	}
	res, err := r.db.ExecContext(ctx, `
	INSERT INTO transactions(
	 date_iso, amount, type, description, category_id, is_manual_override, manual_category_id,
	 running_balance, import_id, source_hash, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
	`,
		t.Date.Format(DateLayout), t.Amount.Abs().String(), string(t.Type), t.Description, t.CategoryID,
		t.IsManualOverride, t.ManualCategoryID, running, t.ImportID, t.SourceHash)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return res.LastInsertId()
}

// Restore writes a transaction keeping its id.
func (r *TransactionRepo) Restore(ctx context.Context, t Transaction) error {
	var running any
	if t.RunningBalance != nil {
		running = t.RunningBalance.String()
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO transactions(
	 id, date_iso, amount, type, description, category_id, is_manual_override, manual_category_id,
	 running_balance, import_id, source_hash, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?);
	`,
		t.ID, t.Date.Format(DateLayout), t.Amount.Abs().String(), string(t.Type), t.Description, t.CategoryID,
		t.IsManualOverride, t.ManualCategoryID, running, t.SourceHash, createdAt(t.CreatedAt))
	return err
}

// UpdateCategory sets the rule-assigned category.
func (r *TransactionRepo) UpdateCategory(ctx context.Context, id int64, categoryID *int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE transactions SET category_id = ? WHERE id = ?`, categoryID, id)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return fmt.Errorf("transaction %d: %w", id, err)
	}
	return nil
}

// SetManualCategory pins a user-chosen category that rules never override.
// category_id keeps the last rule-assigned value so clearing the pin can
// fall back to it.
func (r *TransactionRepo) SetManualCategory(ctx context.Context, id, categoryID int64) error {
	res, err := r.db.ExecContext(ctx, `
	UPDATE transactions SET is_manual_override = 1, manual_category_id = ? WHERE id = ?
	`, categoryID, id)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return fmt.Errorf("transaction %d: %w", id, err)
	}
	return nil
}

// ClearManualCategory drops the manual pin. The caller re-runs the rules.
func (r *TransactionRepo) ClearManualCategory(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
	UPDATE transactions SET is_manual_override = 0, manual_category_id = NULL WHERE id = ?
	`, id)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return fmt.Errorf("transaction %d: %w", id, err)
	}
	return nil
}

func (r *TransactionRepo) UpdateRunningBalance(ctx context.Context, id int64, balance *decimal.Decimal) error {
	var v any
	if balance != nil {
		v = balance.String()
	}
	_, err := r.db.ExecContext(ctx, `UPDATE transactions SET running_balance = ? WHERE id = ?`, v, id)
	return err
}

func (r *TransactionRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return fmt.Errorf("transaction %d: %w", id, err)
	}
	return nil
}

func (r *TransactionRepo) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM transactions`)
	return err
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilters) ([]Transaction, error) {
	var where []string
	var args []any

	if !f.From.IsZero() {
		where = append(where, "date_iso >= ?")
		args = append(args, f.From.Format(DateLayout))
	}
	if !f.To.IsZero() {
		where = append(where, "date_iso <= ?")
		args = append(args, f.To.Format(DateLayout))
	}
	if f.CategoryID != 0 {
		where = append(where, effectiveCategorySQL+" = ?")
		args = append(args, f.CategoryID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Search != "" {
		where = append(where, "description LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}

	query := "SELECT " + transactionColumns + " FROM transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Ascending {
		query += " ORDER BY date_iso ASC, id ASC"
	} else {
		query += " ORDER BY date_iso DESC, id DESC"
	}
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TransactionRepo) Get(ctx context.Context, id int64) (Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	return t, err
}

// Near returns transactions with the same type and amount within days of date.
// Used for fuzzy duplicate detection on import.
func (r *TransactionRepo) Near(ctx context.Context, date time.Time, amount decimal.Decimal, typ TxType, days int) ([]Transaction, error) {
	from := date.AddDate(0, 0, -days).Format(DateLayout)
	to := date.AddDate(0, 0, days).Format(DateLayout)
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+transactionColumns+` FROM transactions
	WHERE date_iso >= ? AND date_iso <= ? AND type = ? AND amount = ?
	ORDER BY date_iso, id
	`, from, to, string(typ), amount.Abs().String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TransactionRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n)
	return n, err
}

// scanTransaction handles nullable fields for both Row and Rows.
func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var dateISO, typ string
	var category, manual, importID sql.NullInt64
	var running decimal.NullDecimal
	var source sql.NullString
	if err := row.Scan(&t.ID, &dateISO, &t.Amount, &typ, &t.Description, &category, &t.IsManualOverride,
		&manual, &running, &importID, &source, &t.CreatedAt); err != nil {
		return Transaction{}, err
	}
	date, err := time.Parse(DateLayout, dateISO)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %d date %q: %w", t.ID, dateISO, err)
	}
	t.Date = date
	t.Type = TxType(typ)
	if category.Valid {
		t.CategoryID = &category.Int64
	}
	if manual.Valid {
		t.ManualCategoryID = &manual.Int64
	}
	if running.Valid {
		t.RunningBalance = &running.Decimal
	}
	if importID.Valid {
		t.ImportID = &importID.Int64
	}
	if source.Valid {
		t.SourceHash = &source.String
	}
	return t, nil
}
