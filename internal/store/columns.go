package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

type columnRow struct {
	board.Column
	Version int64
}

// FindColumn returns a column without its cards.
func (s *Store) FindColumn(ctx context.Context, id string) (*board.Column, error) {
	row, err := findColumn(ctx, s.conn, id)
	if err != nil {
		return nil, err
	}
	return &row.Column, nil
}

// CreateColumn inserts a column at the requested position (or last) and
// re-densifies the board's columns.
func (s *Store) CreateColumn(ctx context.Context, in board.NewColumn) (*board.Column, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	col := in.Column(uuid.NewString())

	err := s.write(ctx, "create column", func(tx *sql.Tx) error {
		version, err := boardVersion(ctx, tx, in.BoardID)
		if err != nil {
			return err
		}
		ids, err := listColumnIDs(ctx, tx, in.BoardID)
		if err != nil {
			return err
		}
		index := len(ids)
		if in.Order != nil {
			index = *in.Order
		}
		ids = board.MoveID(ids, col.ID, index)

		ts := now()
		if err := insertColumn(ctx, tx, &col, ts); err != nil {
			return err
		}
		if err := rewriteColumnPositions(ctx, tx, ids); err != nil {
			return err
		}
		if err := bumpVersion(ctx, tx, "boards", in.BoardID, version); err != nil {
			return err
		}
		col.Order = slices.Index(ids, col.ID)
		return touchBoard(ctx, tx, in.BoardID)
	})
	if err != nil {
		return nil, err
	}
	return &col, nil
}

// UpdateColumn applies a field patch to a column.
func (s *Store) UpdateColumn(ctx context.Context, id string, patch board.ColumnPatch) (*board.Column, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var out *board.Column
	err := s.write(ctx, "update column", func(tx *sql.Tx) error {
		row, err := findColumn(ctx, tx, id)
		if err != nil {
			return err
		}
		patch.Apply(&row.Column)
		if _, err := tx.ExecContext(ctx,
			`UPDATE board_columns SET title = ?, width = ?, updated_at = ? WHERE id = ?`,
			row.Title, row.Width, now(), id); err != nil {
			return fmt.Errorf("failed to update column %s: %w", id, err)
		}
		out = &row.Column
		return touchBoard(ctx, tx, row.BoardID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteColumn removes a column with its cards and re-densifies the
// remaining columns of the board.
func (s *Store) DeleteColumn(ctx context.Context, id string) error {
	return s.write(ctx, "delete column", func(tx *sql.Tx) error {
		row, err := findColumn(ctx, tx, id)
		if err != nil {
			return err
		}
		version, err := boardVersion(ctx, tx, row.BoardID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM board_columns WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete column %s: %w", id, err)
		}
		ids, err := listColumnIDs(ctx, tx, row.BoardID)
		if err != nil {
			return err
		}
		if err := rewriteColumnPositions(ctx, tx, ids); err != nil {
			return err
		}
		if err := bumpVersion(ctx, tx, "boards", row.BoardID, version); err != nil {
			return err
		}
		return touchBoard(ctx, tx, row.BoardID)
	})
}

func insertColumn(ctx context.Context, tx *sql.Tx, col *board.Column, ts string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO board_columns (id, board_id, title, position, width, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		col.ID, col.BoardID, col.Title, col.Order, col.Width, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to insert column %s: %w", col.ID, err)
	}
	return nil
}

func findColumn(ctx context.Context, q querier, id string) (*columnRow, error) {
	row := &columnRow{}
	row.Cards = []board.Card{}
	err := q.QueryRowContext(ctx,
		`SELECT id, board_id, title, position, width, version FROM board_columns WHERE id = ?`, id).
		Scan(&row.ID, &row.BoardID, &row.Title, &row.Order, &row.Width, &row.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("column %s: %w", id, board.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get column %s: %w", id, err)
	}
	return row, nil
}

func boardVersion(ctx context.Context, q querier, id string) (int64, error) {
	var v int64
	err := q.QueryRowContext(ctx, `SELECT version FROM boards WHERE id = ?`, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("board %s: %w", id, board.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get board %s: %w", id, err)
	}
	return v, nil
}

func listColumnIDs(ctx context.Context, q querier, boardID string) ([]string, error) {
	return queryIDs(ctx, q, `SELECT id FROM board_columns WHERE board_id = ? ORDER BY position ASC, id ASC`, boardID)
}

// rewriteColumnPositions sets every column's position to its index in ids.
func rewriteColumnPositions(ctx context.Context, tx *sql.Tx, ids []string) error {
	stmt, err := tx.PrepareContext(ctx, `UPDATE board_columns SET position = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare column reorder: %w", err)
	}
	defer stmt.Close()
	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, i, id); err != nil {
			return fmt.Errorf("failed to reorder column %s: %w", id, err)
		}
	}
	return nil
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ids: %w", err)
	}
	return ids, nil
}
