package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
)

// ListNotes returns every note in insertion order.
func (db *DB) ListNotes(ctx context.Context) ([]models.Note, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, client_id, name, description, completed FROM notes ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("backend: list notes: %w", err)
	}
	defer rows.Close()

	out := []models.Note{}
	for rows.Next() {
		var n models.Note
		if err := rows.Scan(&n.ID, &n.ClientID, &n.Name, &n.Description, &n.Completed); err != nil {
			return nil, fmt.Errorf("backend: scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CreateNote inserts n. An existing id yields apperr.ErrAlreadyExists.
func (db *DB) CreateNote(ctx context.Context, n models.Note) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO notes (id, client_id, name, description, completed)
		VALUES (?, ?, ?, ?, ?)
	`, n.ID, n.ClientID, n.Name, n.Description, n.Completed)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return apperr.ErrAlreadyExists
		}
		return fmt.Errorf("backend: insert note: %w", err)
	}
	return nil
}

// DeleteNote removes the note with id. A missing id yields apperr.ErrNotFound.
func (db *DB) DeleteNote(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("backend: delete note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("backend: rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
