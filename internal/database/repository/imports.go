package repository

import "context"

// ImportRepo records ingested files.
type ImportRepo struct{ db DBTX }

func NewImportRepo(db DBTX) *ImportRepo { return &ImportRepo{db: db} }

func (r *ImportRepo) Insert(ctx context.Context, filename string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO imports(filename, row_count, imported_at) VALUES(?, 0, CURRENT_TIMESTAMP)`, filename)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *ImportRepo) SetRowCount(ctx context.Context, id int64, rows int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE imports SET row_count = ? WHERE id = ?`, rows, id)
	return err
}

func (r *ImportRepo) List(ctx context.Context) ([]Import, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, filename, row_count, imported_at FROM imports ORDER BY imported_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Import
	for rows.Next() {
		var im Import
		if err := rows.Scan(&im.ID, &im.Filename, &im.RowCount, &im.ImportedAt); err != nil {
			return nil, err
		}
		out = append(out, im)
	}
	return out, rows.Err()
}

func (r *ImportRepo) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM imports`)
	return err
}
