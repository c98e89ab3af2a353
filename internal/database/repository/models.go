package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the storage layout of calendar dates.
const DateLayout = "2006-01-02"

// TxType is the direction of a transaction.
type TxType string

const (
	TypeIncome  TxType = "income"
	TypeExpense TxType = "expense"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool { return t == TypeIncome || t == TypeExpense }

// Category types. A category of type "both" accepts income and expenses.
const (
	CategoryIncome  = "income"
	CategoryExpense = "expense"
	CategoryBoth    = "both"
)

// Category represents a category row.
type Category struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Color     string `json:"color"`
	SortOrder int    `json:"sort_order"`
	IsDefault bool   `json:"is_default"`
}

// CategoryRule represents a rule row joined with its category name.
type CategoryRule struct {
	ID           int64     `json:"id"`
	CategoryID   int64     `json:"category_id"`
	CategoryName string    `json:"category_name,omitempty"`
	Pattern      string    `json:"pattern"`
	MatchType    string    `json:"match_type"`
	Priority     int       `json:"priority"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
}

// Transaction represents a transaction row. Amount is always the unsigned
// magnitude; Type carries the sign.
type Transaction struct {
	ID               int64            `json:"id"`
	Date             time.Time        `json:"date"`
	Amount           decimal.Decimal  `json:"amount"`
	Type             TxType           `json:"type"`
	Description      string           `json:"description"`
	CategoryID       *int64           `json:"category_id,omitempty"`
	IsManualOverride bool             `json:"is_manual_override"`
	ManualCategoryID *int64           `json:"manual_category_id,omitempty"`
	RunningBalance   *decimal.Decimal `json:"running_balance,omitempty"`
	ImportID         *int64           `json:"import_id,omitempty"`
	SourceHash       *string          `json:"source_hash,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Signed returns the amount with income positive and expenses negative.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == TypeExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// FileBalance is a balance snapshot read from an imported statement.
type FileBalance struct {
	ID            int64           `json:"id"`
	Balance       decimal.Decimal `json:"balance"`
	FileName      string          `json:"file_name"`
	StatementDate *time.Time      `json:"statement_date,omitempty"`
	IsSelected    bool            `json:"is_selected"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AccountBalance is the live tracked balance.
type AccountBalance struct {
	Balance   decimal.Decimal `json:"balance"`
	IsManual  bool            `json:"is_manual"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AuditReason explains why a balance changed.
type AuditReason string

const (
	ReasonManualOverride AuditReason = "manual_override"
	ReasonFileSelection  AuditReason = "file_selection"
	ReasonInitialSetup   AuditReason = "initial_setup"
	ReasonReset          AuditReason = "reset"
	ReasonOther          AuditReason = "other"
)

// AuditEntry is an append-only record of a balance change.
type AuditEntry struct {
	ID        int64            `json:"id"`
	OldValue  *decimal.Decimal `json:"old_value,omitempty"`
	NewValue  decimal.Decimal  `json:"new_value"`
	Reason    AuditReason      `json:"reason"`
	Note      string           `json:"note,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Import records one ingested file.
type Import struct {
	ID         int64     `json:"id"`
	Filename   string    `json:"filename"`
	RowCount   int       `json:"row_count"`
	ImportedAt time.Time `json:"imported_at"`
}
