package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BoardSummary is a board row with entity counts.
type BoardSummary struct {
	ID      string
	Title   string
	Columns int
	Cards   int
	Version int64
	Updated string
}

// CreateBoard inserts a complete board tree in one transaction. Empty ids
// are assigned; order values are taken from slice positions.
func (s *Store) CreateBoard(ctx context.Context, b *board.Board) (*board.Board, error) {
	if strings.TrimSpace(b.Title) == "" {
		return nil, board.NewValidationError("invalid board", board.Issue{Field: "title", Message: "title is required"})
	}

	seed := b.Clone()
	if seed.ID == "" {
		seed.ID = uuid.NewString()
	}
	for i := range seed.Columns {
		col := &seed.Columns[i]
		if col.ID == "" {
			col.ID = uuid.NewString()
		}
		if col.Width == 0 {
			col.Width = board.DefaultColumnWidth
		}
		for j := range col.Cards {
			if col.Cards[j].ID == "" {
				col.Cards[j].ID = uuid.NewString()
			}
		}
	}
	for i := range seed.Columns {
		seed.Columns[i].Order = i
		for j := range seed.Columns[i].Cards {
			seed.Columns[i].Cards[j].Order = j
		}
	}
	seed.Normalize()

	for i := range seed.Columns {
		if err := seed.Columns[i].Validate(); err != nil {
			return nil, err
		}
		for j := range seed.Columns[i].Cards {
			if err := seed.Columns[i].Cards[j].Validate(); err != nil {
				return nil, err
			}
		}
	}

	var out *board.Board
	err := s.write(ctx, "create board", func(tx *sql.Tx) error {
		ts := now()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO boards (id, title, version, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
			seed.ID, seed.Title, ts, ts); err != nil {
			return fmt.Errorf("failed to insert board %s: %w", seed.ID, err)
		}
		for _, col := range seed.Columns {
			if err := insertColumn(ctx, tx, &col, ts); err != nil {
				return err
			}
			for _, card := range col.Cards {
				if err := insertCard(ctx, tx, &card, ts); err != nil {
					return err
				}
			}
		}
		var err error
		out, err = loadBoard(ctx, tx, seed.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetBoard returns the complete board tree.
func (s *Store) GetBoard(id string) (*board.Board, error) {
	return s.GetBoardContext(context.Background(), id)
}

// GetBoardContext returns the complete board tree with context support.
func (s *Store) GetBoardContext(ctx context.Context, id string) (*board.Board, error) {
	return loadBoard(ctx, s.conn, id)
}

// ListBoards returns every board with its column and card counts.
func (s *Store) ListBoards(ctx context.Context) ([]BoardSummary, error) {
	query := `
	SELECT b.id, b.title, b.version, b.updated_at,
	       (SELECT COUNT(*) FROM board_columns bc WHERE bc.board_id = b.id),
	       (SELECT COUNT(*) FROM cards c JOIN board_columns bc ON bc.id = c.column_id WHERE bc.board_id = b.id)
	FROM boards b
	ORDER BY b.created_at ASC, b.id ASC
	`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query boards: %w", err)
	}
	defer rows.Close()

	var out []BoardSummary
	for rows.Next() {
		var bs BoardSummary
		if err := rows.Scan(&bs.ID, &bs.Title, &bs.Version, &bs.Updated, &bs.Columns, &bs.Cards); err != nil {
			return nil, fmt.Errorf("failed to scan board: %w", err)
		}
		out = append(out, bs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating boards: %w", err)
	}
	return out, nil
}

// UpdateBoard applies a field patch to a board.
func (s *Store) UpdateBoard(ctx context.Context, id string, patch board.BoardPatch) (*board.Board, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var out *board.Board
	err := s.write(ctx, "update board", func(tx *sql.Tx) error {
		b, err := loadBoard(ctx, tx, id)
		if err != nil {
			return err
		}
		patch.Apply(b)
		if _, err := tx.ExecContext(ctx, `UPDATE boards SET title = ?, updated_at = ? WHERE id = ?`, b.Title, now(), id); err != nil {
			return fmt.Errorf("failed to update board %s: %w", id, err)
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// touchBoard bumps the board's updated_at.
func touchBoard(ctx context.Context, tx *sql.Tx, boardID string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE boards SET updated_at = ? WHERE id = ?`, now(), boardID); err != nil {
		return fmt.Errorf("failed to touch board %s: %w", boardID, err)
	}
	return nil
}

func loadBoard(ctx context.Context, q querier, id string) (*board.Board, error) {
	b := &board.Board{ID: id, Columns: []board.Column{}}
	var updated string
	err := q.QueryRowContext(ctx, `SELECT title, updated_at FROM boards WHERE id = ?`, id).Scan(&b.Title, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("board %s: %w", id, board.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get board %s: %w", id, err)
	}
	b.UpdatedAt = parseTime(updated)

	colRows, err := q.QueryContext(ctx,
		`SELECT id, title, position, width FROM board_columns WHERE board_id = ? ORDER BY position ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	for colRows.Next() {
		col := board.Column{BoardID: id, Cards: []board.Card{}}
		if err := colRows.Scan(&col.ID, &col.Title, &col.Order, &col.Width); err != nil {
			colRows.Close()
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		b.Columns = append(b.Columns, col)
	}
	colRows.Close()
	if err := colRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}

	cards, err := queryCards(ctx, q, `
		SELECT c.id, c.column_id, c.position, c.title, c.description, c.due_at
		FROM cards c JOIN board_columns bc ON bc.id = c.column_id
		WHERE bc.board_id = ?
		ORDER BY c.position ASC, c.id ASC`, id)
	if err != nil {
		return nil, err
	}
	if err := attachRelations(ctx, q, id, cards); err != nil {
		return nil, err
	}
	for _, card := range cards {
		if col, ok := b.Column(card.ColumnID); ok {
			col.Cards = append(col.Cards, *card)
		}
	}
	return b, nil
}

// attachRelations loads labels and assignees for the cards of a board.
// Relation ids keep their insertion order.
func attachRelations(ctx context.Context, q querier, boardID string, cards []*board.Card) error {
	byID := make(map[string]*board.Card, len(cards))
	for _, c := range cards {
		byID[c.ID] = c
	}

	relations := []struct {
		query string
		add   func(c *board.Card, v string)
	}{
		{
			`SELECT cl.card_id, cl.label_id FROM card_labels cl
			 JOIN cards c ON c.id = cl.card_id JOIN board_columns bc ON bc.id = c.column_id
			 WHERE bc.board_id = ? ORDER BY cl.rowid ASC`,
			func(c *board.Card, v string) { c.Labels = append(c.Labels, v) },
		},
		{
			`SELECT ca.card_id, ca.user_id FROM card_assignees ca
			 JOIN cards c ON c.id = ca.card_id JOIN board_columns bc ON bc.id = c.column_id
			 WHERE bc.board_id = ? ORDER BY ca.rowid ASC`,
			func(c *board.Card, v string) { c.Assignees = append(c.Assignees, v) },
		},
	}

	for _, rel := range relations {
		rows, err := q.QueryContext(ctx, rel.query, boardID)
		if err != nil {
			return fmt.Errorf("failed to query card relations: %w", err)
		}
		for rows.Next() {
			var cardID, v string
			if err := rows.Scan(&cardID, &v); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan card relation: %w", err)
			}
			if c, ok := byID[cardID]; ok {
				rel.add(c, v)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating card relations: %w", err)
		}
	}
	return nil
}
