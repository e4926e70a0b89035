package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const runColumns = `id, project_id, status, output_path, blob_key, processing_ms,
	total, found, cached, missing, success_rate, report_json, created_at`

// InsertRun records a run and its components in one transaction, retried
// when the database is busy.
func (s *Store) InsertRun(ctx context.Context, r *Run) error {
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixMilli()
	}
	if r.ReportJSON == "" {
		r.ReportJSON = "{}"
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO runs (`+runColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.ProjectID, r.Status, r.OutputPath, r.BlobKey, r.ProcessingMs,
			r.Total, r.Found, r.Cached, r.Missing, r.SuccessRate, r.ReportJSON, r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("store: insert run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO run_components (run_id, row_index, part_name, part_number,
			manufacturer, quantity, status, origin, resolved_path, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare run components: %w", err)
		}
		defer stmt.Close()

		for _, c := range r.Components {
			if _, err := stmt.ExecContext(ctx, r.ID, c.RowIndex, c.PartName, c.PartNumber,
				c.Manufacturer, c.Quantity, c.Status, c.Origin, c.ResolvedPath, c.Message); err != nil {
				return fmt.Errorf("store: insert run component %d: %w", c.RowIndex, err)
			}
		}
		return nil
	})
}

// GetRun returns the run with id and its components, or nil if missing.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil || r == nil {
		return r, err
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT row_index, part_name, part_number, manufacturer, quantity,
		status, origin, resolved_path, message
		FROM run_components WHERE run_id = ? ORDER BY row_index`, id)
	if err != nil {
		return nil, fmt.Errorf("store: run components: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c RunComponent
		if err := rows.Scan(&c.RowIndex, &c.PartName, &c.PartNumber, &c.Manufacturer,
			&c.Quantity, &c.Status, &c.Origin, &c.ResolvedPath, &c.Message); err != nil {
			return nil, fmt.Errorf("scan run component: %w", err)
		}
		r.Components = append(r.Components, c)
	}
	return r, rows.Err()
}

// ListRuns returns runs newest first, without components. An empty
// projectID lists runs of every project. limit <= 0 means 50.
func (s *Store) ListRuns(ctx context.Context, projectID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if projectID == "" {
		rows, err = s.DB.QueryContext(ctx,
			`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx,
			`SELECT `+runColumns+` FROM runs WHERE project_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?`, projectID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRunRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(row *sql.Row) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.ProjectID, &r.Status, &r.OutputPath, &r.BlobKey, &r.ProcessingMs,
		&r.Total, &r.Found, &r.Cached, &r.Missing, &r.SuccessRate, &r.ReportJSON, &r.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &r, nil
}

func scanRunRows(rows *sql.Rows) (*Run, error) {
	var r Run
	err := rows.Scan(&r.ID, &r.ProjectID, &r.Status, &r.OutputPath, &r.BlobKey, &r.ProcessingMs,
		&r.Total, &r.Found, &r.Cached, &r.Missing, &r.SuccessRate, &r.ReportJSON, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &r, nil
}
