package store

import (
	"context"
	"fmt"
	"time"
)

// InsertNote stores a product-page note.
func (s *Store) InsertNote(ctx context.Context, n *Note) error {
	if n.FetchedAt == 0 {
		n.FetchedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO spec_notes (id, part_number, url, title, markdown, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.PartNumber, n.URL, n.Title, n.Markdown, n.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert note: %w", err)
	}
	return nil
}

// ListNotes returns notes for partNumber newest first, or every note when
// partNumber is empty.
func (s *Store) ListNotes(ctx context.Context, partNumber string) ([]*Note, error) {
	q := `SELECT id, part_number, url, title, markdown, fetched_at FROM spec_notes`
	var args []any
	if partNumber != "" {
		q += ` WHERE part_number = ?`
		args = append(args, partNumber)
	}
	q += ` ORDER BY fetched_at DESC, id`

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list notes: %w", err)
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.PartNumber, &n.URL, &n.Title, &n.Markdown, &n.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}
