package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CategoryRepo handles categories.
type CategoryRepo struct {
	db DBTX
}

func NewCategoryRepo(db DBTX) *CategoryRepo {
	return &CategoryRepo{db: db}
}

const categoryColumns = `id, name, type, color, sort_order, is_default`

func (r *CategoryRepo) Create(ctx context.Context, c Category) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
	INSERT INTO categories(name, type, color, sort_order, is_default)
	VALUES (?, ?, ?, ?, ?)
	`, c.Name, c.Type, c.Color, c.SortOrder, c.IsDefault)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("category %q: %w", c.Name, ErrDuplicate)
		}
		return 0, err
	}
	return res.LastInsertId()
}

// Upsert inserts or replaces a category keeping its id. Used by restore.
func (r *CategoryRepo) Upsert(ctx context.Context, c Category) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO categories(id, name, type, color, sort_order, is_default)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 name=excluded.name,
	 type=excluded.type,
	 color=excluded.color,
	 sort_order=excluded.sort_order,
	 is_default=excluded.is_default;
	`, c.ID, c.Name, c.Type, c.Color, c.SortOrder, c.IsDefault)
	return err
}

func (r *CategoryRepo) Update(ctx context.Context, c Category) error {
	res, err := r.db.ExecContext(ctx, `
	UPDATE categories SET name = ?, type = ?, color = ?, sort_order = ? WHERE id = ?
	`, c.Name, c.Type, c.Color, c.SortOrder, c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("category %q: %w", c.Name, ErrDuplicate)
		}
		return err
	}
	return expectAffected(res)
}

// Delete removes a category. Its rules cascade; transactions lose the reference.
func (r *CategoryRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *CategoryRepo) List(ctx context.Context) ([]Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY sort_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CategoryRepo) Get(ctx context.Context, id int64) (Category, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Category{}, fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	return c, err
}

// Default returns the fallback category.
func (r *CategoryRepo) Default(ctx context.Context) (Category, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE is_default = 1 ORDER BY id LIMIT 1`)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Category{}, fmt.Errorf("default category: %w", ErrNotFound)
	}
	return c, err
}

func (r *CategoryRepo) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM categories`)
	return err
}

func scanCategory(row scanner) (Category, error) {
	var c Category
	if err := row.Scan(&c.ID, &c.Name, &c.Type, &c.Color, &c.SortOrder, &c.IsDefault); err != nil {
		return Category{}, err
	}
	return c, nil
}
