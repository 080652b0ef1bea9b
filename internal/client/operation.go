package client

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

// OpType identifies the kind of mutation an operation carries.
type OpType string

const (
	OpMoveCard       OpType = "moveCard"
	OpMoveColumn     OpType = "moveColumn"
	OpReorderColumns OpType = "reorderColumns"
	OpUpdateCard     OpType = "updateCard"
	OpCreateCard     OpType = "createCard"
	OpCreateColumn   OpType = "createColumn"
	OpUpdateColumn   OpType = "updateColumn"
	OpUpdateBoard    OpType = "updateBoard"
	OpDeleteCard     OpType = "deleteCard"
	OpDeleteColumn   OpType = "deleteColumn"
)

// priority orders dispatch: moves and reorders first, then card field
// updates, creates, structural updates and finally deletes.
func (t OpType) priority() int {
	switch t {
	case OpMoveCard, OpMoveColumn, OpReorderColumns:
		return 0
	case OpUpdateCard:
		return 1
	case OpCreateCard, OpCreateColumn:
		return 2
	case OpUpdateColumn, OpUpdateBoard:
		return 3
	case OpDeleteCard, OpDeleteColumn:
		return 4
	default:
		return 5
	}
}

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Payload is the typed body of an operation. Implementations are small value
// types; each one knows its target and how to apply itself to a board.
type Payload interface {
	Type() OpType
	TargetID() string
	// Apply performs the optimistic effect on b.
	Apply(b *board.Board) error

	// refs lists every entity id the payload depends on.
	refs() []string
	// remap returns a copy with every occurrence of from replaced by to.
	remap(from, to string) Payload
}

// Key returns the identity key of a payload.
func Key(p Payload) string {
	return OpKey(p.Type(), p.TargetID())
}

// OpKey builds an identity key from its parts.
func OpKey(t OpType, targetID string) string {
	return string(t) + ":" + targetID
}

// Operation is one queued mutation intent.
type Operation struct {
	// ID is the identity key: at most one un-dispatched operation exists
	// per key.
	ID string
	// OpID is unique per operation and is sent as the idempotency key of
	// create calls.
	OpID    string
	Type    OpType
	Payload Payload

	// Timestamp is refreshed on every merge. CreatedAt is not.
	Timestamp   time.Time
	CreatedAt   time.Time
	LastAttempt time.Time
	RetryCount  int
	Status      Status
	LastError   error
}

// MoveCard moves a card to Index inside ColumnID.
type MoveCard struct {
	CardID   string
	ColumnID string
	Index    int
}

func (p MoveCard) Type() OpType     { return OpMoveCard }
func (p MoveCard) TargetID() string { return p.CardID }
func (p MoveCard) Apply(b *board.Board) error {
	return b.MoveCard(p.CardID, p.ColumnID, p.Index)
}
func (p MoveCard) refs() []string { return []string{p.CardID, p.ColumnID} }
func (p MoveCard) remap(from, to string) Payload {
	p.CardID = swapID(p.CardID, from, to)
	p.ColumnID = swapID(p.ColumnID, from, to)
	return p
}

// MoveColumn moves a single column to Index.
type MoveColumn struct {
	ColumnID string
	Index    int
}

func (p MoveColumn) Type() OpType     { return OpMoveColumn }
func (p MoveColumn) TargetID() string { return p.ColumnID }
func (p MoveColumn) Apply(b *board.Board) error {
	return b.MoveColumn(p.ColumnID, p.Index)
}
func (p MoveColumn) refs() []string { return []string{p.ColumnID} }
func (p MoveColumn) remap(from, to string) Payload {
	p.ColumnID = swapID(p.ColumnID, from, to)
	return p
}

// ReorderColumns is a batched column reorder. Its target is the board.
type ReorderColumns struct {
	BoardID string
	Orders  []board.ColumnOrder
}

func (p ReorderColumns) Type() OpType     { return OpReorderColumns }
func (p ReorderColumns) TargetID() string { return p.BoardID }
func (p ReorderColumns) Apply(b *board.Board) error {
	b.ReorderColumns(p.Orders)
	return nil
}
func (p ReorderColumns) refs() []string {
	ids := make([]string, 0, len(p.Orders))
	for _, o := range p.Orders {
		ids = append(ids, o.ID)
	}
	return ids
}
func (p ReorderColumns) remap(from, to string) Payload {
	orders := slices.Clone(p.Orders)
	for i := range orders {
		orders[i].ID = swapID(orders[i].ID, from, to)
	}
	p.Orders = orders
	return p
}

// UpdateCard changes card fields.
type UpdateCard struct {
	CardID string
	Patch  board.CardPatch
}

func (p UpdateCard) Type() OpType     { return OpUpdateCard }
func (p UpdateCard) TargetID() string { return p.CardID }
func (p UpdateCard) Apply(b *board.Board) error {
	c, ok := b.Card(p.CardID)
	if !ok {
		return fmt.Errorf("card %s: %w", p.CardID, board.ErrNotFound)
	}
	p.Patch.Apply(c)
	return nil
}
func (p UpdateCard) refs() []string { return []string{p.CardID} }
func (p UpdateCard) remap(from, to string) Payload {
	p.CardID = swapID(p.CardID, from, to)
	return p
}

// UpdateColumn changes column fields.
type UpdateColumn struct {
	ColumnID string
	Patch    board.ColumnPatch
}

func (p UpdateColumn) Type() OpType     { return OpUpdateColumn }
func (p UpdateColumn) TargetID() string { return p.ColumnID }
func (p UpdateColumn) Apply(b *board.Board) error {
	c, ok := b.Column(p.ColumnID)
	if !ok {
		return fmt.Errorf("column %s: %w", p.ColumnID, board.ErrNotFound)
	}
	p.Patch.Apply(c)
	return nil
}
func (p UpdateColumn) refs() []string { return []string{p.ColumnID} }
func (p UpdateColumn) remap(from, to string) Payload {
	p.ColumnID = swapID(p.ColumnID, from, to)
	return p
}

// UpdateBoard changes board fields.
type UpdateBoard struct {
	BoardID string
	Patch   board.BoardPatch
}

func (p UpdateBoard) Type() OpType     { return OpUpdateBoard }
func (p UpdateBoard) TargetID() string { return p.BoardID }
func (p UpdateBoard) Apply(b *board.Board) error {
	p.Patch.Apply(b)
	return nil
}
func (p UpdateBoard) refs() []string            { return nil }
func (p UpdateBoard) remap(_, _ string) Payload { return p }

// CreateCard creates a card that is shown locally under TempID until the
// server assigns its id.
type CreateCard struct {
	TempID string
	Card   board.NewCard
}

func (p CreateCard) Type() OpType     { return OpCreateCard }
func (p CreateCard) TargetID() string { return p.TempID }
func (p CreateCard) Apply(b *board.Board) error {
	if _, ok := b.Card(p.TempID); ok {
		return nil
	}
	col, ok := b.Column(p.Card.ColumnID)
	if !ok {
		return fmt.Errorf("column %s: %w", p.Card.ColumnID, board.ErrNotFound)
	}
	index := len(col.Cards)
	if p.Card.Order != nil {
		index = *p.Card.Order
	}
	return b.InsertCard(p.Card.Card(p.TempID), index)
}

// The temp id itself is the operation's own target and never blocks it.
func (p CreateCard) refs() []string { return []string{p.Card.ColumnID} }
func (p CreateCard) remap(from, to string) Payload {
	p.Card.ColumnID = swapID(p.Card.ColumnID, from, to)
	return p
}

// CreateColumn creates a column shown locally under TempID.
type CreateColumn struct {
	TempID string
	Column board.NewColumn
}

func (p CreateColumn) Type() OpType     { return OpCreateColumn }
func (p CreateColumn) TargetID() string { return p.TempID }
func (p CreateColumn) Apply(b *board.Board) error {
	if _, ok := b.Column(p.TempID); ok {
		return nil
	}
	index := len(b.Columns)
	if p.Column.Order != nil {
		index = *p.Column.Order
	}
	b.InsertColumn(p.Column.Column(p.TempID), index)
	return nil
}
func (p CreateColumn) refs() []string            { return nil }
func (p CreateColumn) remap(_, _ string) Payload { return p }

// DeleteCard deletes a card. Removed and Index record what was taken out so
// a terminal failure can put it back.
type DeleteCard struct {
	CardID  string
	Removed board.Card
	Index   int
}

func (p DeleteCard) Type() OpType     { return OpDeleteCard }
func (p DeleteCard) TargetID() string { return p.CardID }
func (p DeleteCard) Apply(b *board.Board) error {
	if _, ok := b.Card(p.CardID); !ok {
		return nil
	}
	_, _, err := b.RemoveCard(p.CardID)
	return err
}
func (p DeleteCard) refs() []string { return []string{p.CardID} }
func (p DeleteCard) remap(from, to string) Payload {
	p.CardID = swapID(p.CardID, from, to)
	p.Removed.ID = swapID(p.Removed.ID, from, to)
	p.Removed.ColumnID = swapID(p.Removed.ColumnID, from, to)
	return p
}

// DeleteColumn deletes a column and its cards.
type DeleteColumn struct {
	ColumnID string
	Removed  board.Column
	Index    int
}

func (p DeleteColumn) Type() OpType     { return OpDeleteColumn }
func (p DeleteColumn) TargetID() string { return p.ColumnID }
func (p DeleteColumn) Apply(b *board.Board) error {
	if _, ok := b.Column(p.ColumnID); !ok {
		return nil
	}
	_, _, err := b.RemoveColumn(p.ColumnID)
	return err
}
func (p DeleteColumn) refs() []string { return []string{p.ColumnID} }
func (p DeleteColumn) remap(from, to string) Payload {
	p.ColumnID = swapID(p.ColumnID, from, to)
	p.Removed.ID = swapID(p.Removed.ID, from, to)
	return p
}

func swapID(id, from, to string) string {
	if id == from {
		return to
	}
	return id
}

// mergePayload folds next into prev for two payloads with the same
// identity key. Every field next sets wins.
func mergePayload(prev, next Payload) Payload {
	switch n := next.(type) {
	case MoveCard, MoveColumn:
		return n
	case ReorderColumns:
		p, ok := prev.(ReorderColumns)
		if !ok {
			return n
		}
		return ReorderColumns{BoardID: n.BoardID, Orders: mergeColumnOrders(p.Orders, n.Orders)}
	case UpdateCard:
		p, ok := prev.(UpdateCard)
		if !ok {
			return n
		}
		return UpdateCard{CardID: n.CardID, Patch: p.Patch.Merge(n.Patch)}
	case UpdateColumn:
		p, ok := prev.(UpdateColumn)
		if !ok {
			return n
		}
		return UpdateColumn{ColumnID: n.ColumnID, Patch: p.Patch.Merge(n.Patch)}
	case UpdateBoard:
		p, ok := prev.(UpdateBoard)
		if !ok {
			return n
		}
		return UpdateBoard{BoardID: n.BoardID, Patch: p.Patch.Merge(n.Patch)}
	case CreateCard, CreateColumn:
		return n
	case DeleteCard, DeleteColumn:
		// The first snapshot is the one that matches the entity as it was.
		if prev != nil {
			return prev
		}
		return n
	default:
		panic(fmt.Sprintf("client: unhandled payload type %T", next))
	}
}

// mergeColumnOrders unions two order lists by column id. Entries of next win;
// the result is sorted by order value.
func mergeColumnOrders(prev, next []board.ColumnOrder) []board.ColumnOrder {
	byID := make(map[string]int, len(prev)+len(next))
	for _, o := range prev {
		byID[o.ID] = o.Order
	}
	for _, o := range next {
		byID[o.ID] = o.Order
	}
	out := make([]board.ColumnOrder, 0, len(byID))
	for _, id := range slices.Sorted(maps.Keys(byID)) {
		out = append(out, board.ColumnOrder{ID: id, Order: byID[id]})
	}
	slices.SortStableFunc(out, func(a, b board.ColumnOrder) int { return a.Order - b.Order })
	return out
}
