package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

const cardColumns = `c.id, c.column_id, c.position, c.title, c.description, c.due_at`

// FindCard returns a card with its labels and assignees.
func (s *Store) FindCard(ctx context.Context, id string) (*board.Card, error) {
	return findCard(ctx, s.conn, id)
}

// ListCards returns the cards of a column in order.
func (s *Store) ListCards(ctx context.Context, columnID string) ([]board.Card, error) {
	if _, err := findColumn(ctx, s.conn, columnID); err != nil {
		return nil, err
	}
	cards, err := queryCards(ctx, s.conn,
		`SELECT `+cardColumns+` FROM cards c WHERE c.column_id = ? ORDER BY c.position ASC, c.id ASC`, columnID)
	if err != nil {
		return nil, err
	}
	out := make([]board.Card, 0, len(cards))
	for _, c := range cards {
		if err := loadCardRelations(ctx, s.conn, c); err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// CreateCard inserts a card at the requested position (or last) and
// re-densifies its column.
func (s *Store) CreateCard(ctx context.Context, in board.NewCard) (*board.Card, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	card := in.Card(uuid.NewString())

	err := s.write(ctx, "create card", func(tx *sql.Tx) error {
		col, err := findColumn(ctx, tx, in.ColumnID)
		if err != nil {
			return err
		}
		ids, err := listCardIDs(ctx, tx, col.ID)
		if err != nil {
			return err
		}
		index := len(ids)
		if in.Order != nil {
			index = *in.Order
		}
		ids = board.MoveID(ids, card.ID, index)

		if err := insertCard(ctx, tx, &card, now()); err != nil {
			return err
		}
		if err := rewriteCardPositions(ctx, tx, ids); err != nil {
			return err
		}
		if err := bumpVersion(ctx, tx, "board_columns", col.ID, col.Version); err != nil {
			return err
		}
		card.Order = slices.Index(ids, card.ID)
		return touchBoard(ctx, tx, col.BoardID)
	})
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// UpdateCard applies a field patch to a card. Label and assignee sets are
// changed by the patch's add/remove lists.
func (s *Store) UpdateCard(ctx context.Context, id string, patch board.CardPatch) (*board.Card, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var out *board.Card
	err := s.write(ctx, "update card", func(tx *sql.Tx) error {
		card, err := findCard(ctx, tx, id)
		if err != nil {
			return err
		}
		patch.Apply(card)

		if _, err := tx.ExecContext(ctx,
			`UPDATE cards SET title = ?, description = ?, due_at = ?, updated_at = ? WHERE id = ?`,
			card.Title, card.Description, timeToNullString(card.DueAt), now(), id); err != nil {
			return fmt.Errorf("failed to update card %s: %w", id, err)
		}
		if err := replaceRelation(ctx, tx, "card_labels", "label_id", id, card.Labels); err != nil {
			return err
		}
		if err := replaceRelation(ctx, tx, "card_assignees", "user_id", id, card.Assignees); err != nil {
			return err
		}
		col, err := findColumn(ctx, tx, card.ColumnID)
		if err != nil {
			return err
		}
		out = card
		return touchBoard(ctx, tx, col.BoardID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteCard removes a card and re-densifies its former column.
func (s *Store) DeleteCard(ctx context.Context, id string) error {
	return s.write(ctx, "delete card", func(tx *sql.Tx) error {
		card, err := findCard(ctx, tx, id)
		if err != nil {
			return err
		}
		col, err := findColumn(ctx, tx, card.ColumnID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete card %s: %w", id, err)
		}
		ids, err := listCardIDs(ctx, tx, col.ID)
		if err != nil {
			return err
		}
		if err := rewriteCardPositions(ctx, tx, ids); err != nil {
			return err
		}
		if err := bumpVersion(ctx, tx, "board_columns", col.ID, col.Version); err != nil {
			return err
		}
		return touchBoard(ctx, tx, col.BoardID)
	})
}

func insertCard(ctx context.Context, tx *sql.Tx, card *board.Card, ts string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO cards (id, column_id, position, title, description, due_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		card.ID, card.ColumnID, card.Order, card.Title, card.Description, timeToNullString(card.DueAt), ts, ts)
	if err != nil {
		return fmt.Errorf("failed to insert card %s: %w", card.ID, err)
	}
	if err := replaceRelation(ctx, tx, "card_labels", "label_id", card.ID, card.Labels); err != nil {
		return err
	}
	return replaceRelation(ctx, tx, "card_assignees", "user_id", card.ID, card.Assignees)
}

// replaceRelation makes the relation rows of a card equal values. Rows that
// survive keep their rowid so insertion order is preserved.
func replaceRelation(ctx context.Context, tx *sql.Tx, table, column, cardID string, values []string) error {
	current, err := queryIDs(ctx, tx, `SELECT `+column+` FROM `+table+` WHERE card_id = ? ORDER BY rowid ASC`, cardID)
	if err != nil {
		return err
	}
	for _, v := range current {
		if !slices.Contains(values, v) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE card_id = ? AND `+column+` = ?`, cardID, v); err != nil {
				return fmt.Errorf("failed to remove %s %s: %w", column, v, err)
			}
		}
	}
	for _, v := range values {
		if slices.Contains(current, v) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO `+table+` (card_id, `+column+`) VALUES (?, ?)`, cardID, v); err != nil {
			return fmt.Errorf("failed to add %s %s: %w", column, v, err)
		}
	}
	return nil
}

func findCard(ctx context.Context, q querier, id string) (*board.Card, error) {
	cards, err := queryCards(ctx, q, `SELECT `+cardColumns+` FROM cards c WHERE c.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, fmt.Errorf("card %s: %w", id, board.ErrNotFound)
	}
	if err := loadCardRelations(ctx, q, cards[0]); err != nil {
		return nil, err
	}
	return cards[0], nil
}

func loadCardRelations(ctx context.Context, q querier, c *board.Card) error {
	var err error
	if c.Labels, err = queryIDs(ctx, q, `SELECT label_id FROM card_labels WHERE card_id = ? ORDER BY rowid ASC`, c.ID); err != nil {
		return err
	}
	if c.Assignees, err = queryIDs(ctx, q, `SELECT user_id FROM card_assignees WHERE card_id = ? ORDER BY rowid ASC`, c.ID); err != nil {
		return err
	}
	return nil
}

func queryCards(ctx context.Context, q querier, query string, args ...any) ([]*board.Card, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []*board.Card
	for rows.Next() {
		c := &board.Card{Labels: []string{}, Assignees: []string{}}
		var due sql.NullString
		if err := rows.Scan(&c.ID, &c.ColumnID, &c.Order, &c.Title, &c.Description, &due); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		c.DueAt = nullStringToTime(due)
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cards: %w", err)
	}
	return cards, nil
}

func listCardIDs(ctx context.Context, q querier, columnID string) ([]string, error) {
	return queryIDs(ctx, q, `SELECT id FROM cards WHERE column_id = ? ORDER BY position ASC, id ASC`, columnID)
}

// rewriteCardPositions sets every card's position to its index in ids.
func rewriteCardPositions(ctx context.Context, tx *sql.Tx, ids []string) error {
	stmt, err := tx.PrepareContext(ctx, `UPDATE cards SET position = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare card reorder: %w", err)
	}
	defer stmt.Close()
	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, i, id); err != nil {
			return fmt.Errorf("failed to reorder card %s: %w", id, err)
		}
	}
	return nil
}
