package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	log "github.com/sirupsen/logrus"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

// MoveResult describes a committed card move.
type MoveResult struct {
	CardID     string
	FromColumn string
	ToColumn   string
	FromOrder  int
	ToOrder    int
	BoardID    string
}

// CrossColumn reports whether the card changed container.
func (r *MoveResult) CrossColumn() bool {
	return r.FromColumn != r.ToColumn
}

// MoveCard moves a card to index inside targetColumnID.
//
// The sibling lists involved are rebuilt from a fresh read and every order
// value is rewritten from its position, so re-issuing the same move
// converges to the same assignment. Conflicting transactions restart from
// the read up to Config.MaxAttempts times.
func (s *Store) MoveCard(ctx context.Context, cardID, targetColumnID string, index int) (*MoveResult, error) {
	var res *MoveResult
	err := s.write(ctx, "move card", func(tx *sql.Tx) error {
		var err error
		res, err = moveCardTx(ctx, tx, cardID, targetColumnID, index)
		return err
	})
	if err != nil {
		return nil, err
	}

	if res.CrossColumn() {
		s.recordMove(ctx, AuditEntry{
			EntityType:    "card",
			EntityID:      res.CardID,
			FromContainer: res.FromColumn,
			ToContainer:   res.ToColumn,
			FromOrder:     res.FromOrder,
			ToOrder:       res.ToOrder,
		})
	}
	return res, nil
}

func moveCardTx(ctx context.Context, tx *sql.Tx, cardID, targetColumnID string, index int) (*MoveResult, error) {
	res := &MoveResult{CardID: cardID, ToColumn: targetColumnID}
	err := tx.QueryRowContext(ctx, `SELECT column_id, position FROM cards WHERE id = ?`, cardID).
		Scan(&res.FromColumn, &res.FromOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %s: %w", cardID, board.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card %s: %w", cardID, err)
	}

	src, err := findColumn(ctx, tx, res.FromColumn)
	if err != nil {
		return nil, err
	}
	dst := src
	if targetColumnID != src.ID {
		dst, err = findColumn(ctx, tx, targetColumnID)
		if err != nil {
			return nil, err
		}
		if dst.BoardID != src.BoardID {
			return nil, board.NewValidationError("invalid move",
				board.Issue{Field: "targetColumnId", Message: "target column belongs to another board"})
		}
	}
	res.BoardID = src.BoardID

	srcIDs, err := listCardIDs(ctx, tx, src.ID)
	if err != nil {
		return nil, err
	}

	if !res.CrossColumn() {
		ids := board.MoveID(srcIDs, cardID, index)
		if err := rewriteCardPositions(ctx, tx, ids); err != nil {
			return nil, err
		}
		if err := bumpVersion(ctx, tx, "board_columns", src.ID, src.Version); err != nil {
			return nil, err
		}
		res.ToOrder = slices.Index(ids, cardID)
		return res, touchBoard(ctx, tx, res.BoardID)
	}

	dstIDs, err := listCardIDs(ctx, tx, dst.ID)
	if err != nil {
		return nil, err
	}
	srcIDs = board.RemoveID(srcIDs, cardID)
	dstIDs = board.MoveID(dstIDs, cardID, index)

	if _, err := tx.ExecContext(ctx, `UPDATE cards SET column_id = ?, updated_at = ? WHERE id = ?`, dst.ID, now(), cardID); err != nil {
		return nil, fmt.Errorf("failed to move card %s: %w", cardID, err)
	}
	if err := rewriteCardPositions(ctx, tx, srcIDs); err != nil {
		return nil, err
	}
	if err := rewriteCardPositions(ctx, tx, dstIDs); err != nil {
		return nil, err
	}
	// Bump in id order so every writer touches the two rows the same way.
	first, second := src, dst
	if second.ID < first.ID {
		first, second = second, first
	}
	if err := bumpVersion(ctx, tx, "board_columns", first.ID, first.Version); err != nil {
		return nil, err
	}
	if err := bumpVersion(ctx, tx, "board_columns", second.ID, second.Version); err != nil {
		return nil, err
	}
	res.ToOrder = slices.Index(dstIDs, cardID)
	return res, touchBoard(ctx, tx, res.BoardID)
}

// MoveColumn moves a column to index within its board.
func (s *Store) MoveColumn(ctx context.Context, columnID string, index int) (*board.Column, error) {
	var out *board.Column
	err := s.write(ctx, "move column", func(tx *sql.Tx) error {
		col, err := findColumn(ctx, tx, columnID)
		if err != nil {
			return err
		}
		version, err := boardVersion(ctx, tx, col.BoardID)
		if err != nil {
			return err
		}
		ids, err := listColumnIDs(ctx, tx, col.BoardID)
		if err != nil {
			return err
		}
		ids = board.MoveID(ids, columnID, index)
		if err := rewriteColumnPositions(ctx, tx, ids); err != nil {
			return err
		}
		if err := bumpVersion(ctx, tx, "boards", col.BoardID, version); err != nil {
			return err
		}
		col.Order = slices.Index(ids, columnID)
		out = &col.Column
		return touchBoard(ctx, tx, col.BoardID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReorderColumns applies a batched column order to a board. Every listed
// column must belong to the board. The resulting positions are re-derived
// densely from the requested order values.
func (s *Store) ReorderColumns(ctx context.Context, boardID string, orders []board.ColumnOrder) error {
	if boardID == "" {
		return board.NewValidationError("invalid reorder", board.Issue{Field: "boardId", Message: "boardId is required"})
	}
	if len(orders) == 0 {
		return board.NewValidationError("invalid reorder", board.Issue{Field: "columnOrders", Message: "columnOrders must not be empty"})
	}

	return s.write(ctx, "reorder columns", func(tx *sql.Tx) error {
		version, err := boardVersion(ctx, tx, boardID)
		if err != nil {
			return err
		}
		ids, err := listColumnIDs(ctx, tx, boardID)
		if err != nil {
			return err
		}
		var issues []board.Issue
		for _, o := range orders {
			if !slices.Contains(ids, o.ID) {
				issues = append(issues, board.Issue{Field: "columnOrders", Message: fmt.Sprintf("column %s is not on board %s", o.ID, boardID)})
			}
		}
		if len(issues) > 0 {
			return board.NewValidationError("invalid reorder", issues...)
		}

		ids = board.ApplyColumnOrders(ids, orders)
		if err := rewriteColumnPositions(ctx, tx, ids); err != nil {
			return err
		}
		if err := bumpVersion(ctx, tx, "boards", boardID, version); err != nil {
			return err
		}
		return touchBoard(ctx, tx, boardID)
	})
}

// recordMove hands a committed move to the audit logger. Failures are
// logged and dropped.
func (s *Store) recordMove(ctx context.Context, entry AuditEntry) {
	if s.config.Audit == nil {
		return
	}
	if err := s.config.Audit.RecordMove(ctx, entry); err != nil {
		s.log.WithFields(log.Fields{
			"entity": entry.EntityID,
			"from":   entry.FromContainer,
			"to":     entry.ToContainer,
		}).WithError(err).Warn("failed to write audit entry")
	}
}
