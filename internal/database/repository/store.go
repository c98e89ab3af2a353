package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/jask/saldo/internal/database"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store bundles the repositories over one connection or transaction.
type Store struct {
	db *sql.DB
	tx *sql.Tx

	Categories   *CategoryRepo
	Rules        *RuleRepo
	Transactions *TransactionRepo
	FileBalances *FileBalanceRepo
	Balance      *AccountBalanceRepo
	Audit        *AuditRepo
	Imports      *ImportRepo
}

// NewStore builds a Store over db.
func NewStore(db *sql.DB) *Store {
	return newStore(db, nil, db)
}

func newStore(db *sql.DB, tx *sql.Tx, q DBTX) *Store {
	return &Store{
		db:           db,
		tx:           tx,
		Categories:   NewCategoryRepo(q),
		Rules:        NewRuleRepo(q),
		Transactions: NewTransactionRepo(q),
		FileBalances: NewFileBalanceRepo(q),
		Balance:      NewAccountBalanceRepo(q),
		Audit:        NewAuditRepo(q),
		Imports:      NewImportRepo(q),
	}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Atomic runs fn against a transaction-bound Store. Calls nested inside an
// already atomic Store join the outer transaction.
func (s *Store) Atomic(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(newStore(s.db, tx, tx))
	})
}

// Exec runs a raw statement on the Store's connection or transaction.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	var q DBTX = s.db
	if s.tx != nil {
		q = s.tx
	}
	_, err := q.ExecContext(ctx, query, args...)
	return err
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique || serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner handles both Row and Rows.
type scanner interface {
	Scan(dest ...any) error
}
