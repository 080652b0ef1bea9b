package client

import (
	"context"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

// Transport is the network boundary of a session. Each operation maps to
// exactly one call. Failures should satisfy errors.Is against the board
// error taxonomy; anything else is treated as a retryable network failure.
type Transport interface {
	FetchBoard(ctx context.Context, boardID string) (*board.Board, error)

	MoveCard(ctx context.Context, cardID, columnID string, index int) error
	MoveColumn(ctx context.Context, columnID string, index int) error
	ReorderColumns(ctx context.Context, boardID string, orders []board.ColumnOrder) error

	UpdateCard(ctx context.Context, id string, patch board.CardPatch) (*board.Card, error)
	UpdateColumn(ctx context.Context, id string, patch board.ColumnPatch) (*board.Column, error)
	UpdateBoard(ctx context.Context, id string, patch board.BoardPatch) (*board.Board, error)

	// Create calls carry an idempotency key so a retried create after an
	// ambiguous failure returns the first record.
	CreateCard(ctx context.Context, key string, in board.NewCard) (*board.Card, error)
	CreateColumn(ctx context.Context, key string, in board.NewColumn) (*board.Column, error)

	DeleteCard(ctx context.Context, id string) error
	DeleteColumn(ctx context.Context, id string) error
}
