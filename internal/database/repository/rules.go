package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RuleRepo stores categorization rules.
type RuleRepo struct{ db DBTX }

func NewRuleRepo(db DBTX) *RuleRepo { return &RuleRepo{db: db} }

const ruleSelect = `
	SELECT r.id, r.category_id, c.name, r.pattern, r.match_type, r.priority, r.enabled, r.created_at
	FROM category_rules r JOIN categories c ON c.id = r.category_id`

func (r *RuleRepo) Create(ctx context.Context, cr CategoryRule) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
	INSERT INTO category_rules(category_id, pattern, match_type, priority, enabled, created_at)
	VALUES(?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, cr.CategoryID, cr.Pattern, cr.MatchType, cr.Priority, cr.Enabled)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Upsert writes a rule keeping its id. Used by restore.
func (r *RuleRepo) Upsert(ctx context.Context, cr CategoryRule) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO category_rules(id, category_id, pattern, match_type, priority, enabled, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 category_id=excluded.category_id,
	 pattern=excluded.pattern,
	 match_type=excluded.match_type,
	 priority=excluded.priority,
	 enabled=excluded.enabled
	`, cr.ID, cr.CategoryID, cr.Pattern, cr.MatchType, cr.Priority, cr.Enabled, createdAt(cr.CreatedAt))
	return err
}

func (r *RuleRepo) Update(ctx context.Context, cr CategoryRule) error {
	res, err := r.db.ExecContext(ctx, `
	UPDATE category_rules SET category_id = ?, pattern = ?, match_type = ?, priority = ?, enabled = ?
	WHERE id = ?
	`, cr.CategoryID, cr.Pattern, cr.MatchType, cr.Priority, cr.Enabled, cr.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *RuleRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM category_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// List returns every rule in evaluation order.
func (r *RuleRepo) List(ctx context.Context) ([]CategoryRule, error) {
	rows, err := r.db.QueryContext(ctx, ruleSelect+` ORDER BY r.priority DESC, r.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CategoryRule
	for rows.Next() {
		cr, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

func (r *RuleRepo) Get(ctx context.Context, id int64) (CategoryRule, error) {
	cr, err := scanRule(r.db.QueryRowContext(ctx, ruleSelect+` WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return CategoryRule{}, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return cr, err
}

func (r *RuleRepo) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM category_rules`)
	return err
}

func scanRule(row scanner) (CategoryRule, error) {
	var cr CategoryRule
	if err := row.Scan(&cr.ID, &cr.CategoryID, &cr.CategoryName, &cr.Pattern, &cr.MatchType, &cr.Priority, &cr.Enabled, &cr.CreatedAt); err != nil {
		return CategoryRule{}, err
	}
	return cr, nil
}
