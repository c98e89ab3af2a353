package database

import (
	"context"
	"database/sql"
	"fmt"
)

// DefaultCategoryName is the fallback category seeded on every fresh database.
const DefaultCategoryName = "Uncategorised"

// DefaultCategory describes a category seeded on a fresh database.
type DefaultCategory struct {
	Name      string
	Type      string
	Color     string
	SortOrder int
	IsDefault bool
}

// DefaultCategories is the seeded category set.
var DefaultCategories = []DefaultCategory{
	{"Income", "income", "#a6e3a1", 1, false},
	{"Groceries", "expense", "#94e2d5", 2, false},
	{"Dining & Drinks", "expense", "#fab387", 3, false},
	{"Transport", "expense", "#89b4fa", 4, false},
	{"Bills & Utilities", "expense", "#cba6f7", 5, false},
	{"Entertainment", "expense", "#f5c2e7", 6, false},
	{"Shopping", "expense", "#f2cdcd", 7, false},
	{"Health", "expense", "#74c7ec", 8, false},
	{"Transfers", "both", "#b4befe", 9, false},
	{DefaultCategoryName, "both", "#7f849c", 10, true},
}

// SeedDefaults ensures baseline categories exist for new databases.
// It is idempotent and safe to run on every startup.
func SeedDefaults(ctx context.Context, db *sql.DB) error {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`).Scan(&count); err != nil {
		return fmt.Errorf("count categories: %w", err)
	}
	if count > 0 {
		return ensureFallback(ctx, db)
	}
	return WithTx(ctx, db, func(tx *sql.Tx) error {
		return SeedCategories(ctx, tx)
	})
}

// SeedCategories inserts the default category set through tx.
func SeedCategories(ctx context.Context, tx *sql.Tx) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO categories (name, type, color, sort_order, is_default)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range DefaultCategories {
		if _, err := stmt.ExecContext(ctx, c.Name, c.Type, c.Color, c.SortOrder, c.IsDefault); err != nil {
			return fmt.Errorf("insert category %q: %w", c.Name, err)
		}
	}
	return nil
}

// ensureFallback keeps exactly one default category around even when the user
// has replaced the seeded set.
func ensureFallback(ctx context.Context, db *sql.DB) error {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories WHERE is_default = 1`).Scan(&n); err != nil {
		return fmt.Errorf("count default categories: %w", err)
	}
	if n > 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO categories (name, type, color, sort_order, is_default)
		VALUES (?, 'both', '#7f849c', 999, 1)
		ON CONFLICT(name) DO UPDATE SET is_default = 1
	`, DefaultCategoryName)
	return err
}
