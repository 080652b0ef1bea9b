package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

// fakeTransport is an in-memory persistence service. Failures queued with
// failNext are returned in order by the named method before it touches the
// board.
type fakeTransport struct {
	mu      sync.Mutex
	board   *board.Board
	calls   []string
	fetches int
	fail    map[string][]error
	created map[string]any
	nextID  int
}

func newFakeTransport(b *board.Board) *fakeTransport {
	return &fakeTransport{
		board:   b.Clone(),
		fail:    make(map[string][]error),
		created: make(map[string]any),
	}
}

func (f *fakeTransport) failNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] = append(f.fail[method], errs...)
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) Snapshot() *board.Board {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.board.Clone()
}

// record logs a call and returns the next injected failure for method.
// Must be called with f.mu held.
func (f *fakeTransport) record(method, detail string) error {
	f.calls = append(f.calls, method+" "+detail)
	if errs := f.fail[method]; len(errs) > 0 {
		f.fail[method] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *fakeTransport) FetchBoard(_ context.Context, boardID string) (*board.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.board.ID != boardID {
		return nil, fmt.Errorf("board %s: %w", boardID, board.ErrNotFound)
	}
	return f.board.Clone(), nil
}

func (f *fakeTransport) MoveCard(_ context.Context, cardID, columnID string, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("moveCard", fmt.Sprintf("%s %s %d", cardID, columnID, index)); err != nil {
		return err
	}
	return f.board.MoveCard(cardID, columnID, index)
}

func (f *fakeTransport) MoveColumn(_ context.Context, columnID string, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("moveColumn", fmt.Sprintf("%s %d", columnID, index)); err != nil {
		return err
	}
	return f.board.MoveColumn(columnID, index)
}

func (f *fakeTransport) ReorderColumns(_ context.Context, boardID string, orders []board.ColumnOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("reorderColumns", boardID); err != nil {
		return err
	}
	f.board.ReorderColumns(orders)
	return nil
}

func (f *fakeTransport) UpdateCard(_ context.Context, id string, patch board.CardPatch) (*board.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("updateCard", id); err != nil {
		return nil, err
	}
	c, ok := f.board.Card(id)
	if !ok {
		return nil, fmt.Errorf("card %s: %w", id, board.ErrNotFound)
	}
	patch.Apply(c)
	out := c.Clone()
	return &out, nil
}

func (f *fakeTransport) UpdateColumn(_ context.Context, id string, patch board.ColumnPatch) (*board.Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("updateColumn", id); err != nil {
		return nil, err
	}
	c, ok := f.board.Column(id)
	if !ok {
		return nil, fmt.Errorf("column %s: %w", id, board.ErrNotFound)
	}
	patch.Apply(c)
	out := c.Clone()
	return &out, nil
}

func (f *fakeTransport) UpdateBoard(_ context.Context, id string, patch board.BoardPatch) (*board.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("updateBoard", id); err != nil {
		return nil, err
	}
	patch.Apply(f.board)
	return f.board.Clone(), nil
}

func (f *fakeTransport) CreateCard(_ context.Context, key string, in board.NewCard) (*board.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("createCard", in.ColumnID); err != nil {
		return nil, err
	}
	if prev, ok := f.created[key].(board.Card); ok {
		return &prev, nil
	}
	col, ok := f.board.Column(in.ColumnID)
	if !ok {
		return nil, fmt.Errorf("column %s: %w", in.ColumnID, board.ErrNotFound)
	}
	f.nextID++
	card := in.Card(fmt.Sprintf("srv-%d", f.nextID))
	index := len(col.Cards)
	if in.Order != nil {
		index = *in.Order
	}
	if err := f.board.InsertCard(card, index); err != nil {
		return nil, err
	}
	c, _ := f.board.Card(card.ID)
	out := c.Clone()
	f.created[key] = out
	return &out, nil
}

func (f *fakeTransport) CreateColumn(_ context.Context, key string, in board.NewColumn) (*board.Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("createColumn", in.Title); err != nil {
		return nil, err
	}
	if prev, ok := f.created[key].(board.Column); ok {
		return &prev, nil
	}
	f.nextID++
	col := in.Column(fmt.Sprintf("srv-%d", f.nextID))
	index := len(f.board.Columns)
	if in.Order != nil {
		index = *in.Order
	}
	f.board.InsertColumn(col, index)
	c, _ := f.board.Column(col.ID)
	out := c.Clone()
	f.created[key] = out
	return &out, nil
}

func (f *fakeTransport) DeleteCard(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("deleteCard", id); err != nil {
		return err
	}
	_, _, err := f.board.RemoveCard(id)
	return err
}

func (f *fakeTransport) DeleteColumn(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("deleteColumn", id); err != nil {
		return err
	}
	_, _, err := f.board.RemoveColumn(id)
	return err
}

// fixtureBoard returns b1 with X=[A,B,C] and Y=[D].
func fixtureBoard() *board.Board {
	b := &board.Board{ID: "b1", Title: "Board", Columns: []board.Column{
		{ID: "X", Title: "Todo", Width: 280, Cards: []board.Card{
			{ID: "A", Title: "a", Labels: []string{}, Assignees: []string{}},
			{ID: "B", Title: "b", Labels: []string{}, Assignees: []string{}},
			{ID: "C", Title: "c", Labels: []string{}, Assignees: []string{}},
		}},
		{ID: "Y", Title: "Done", Width: 280, Order: 1, Cards: []board.Card{
			{ID: "D", Title: "d", Labels: []string{}, Assignees: []string{}},
		}},
	}}
	for i := range b.Columns {
		for j := range b.Columns[i].Cards {
			b.Columns[i].Cards[j].Order = j
		}
	}
	b.Normalize()
	return b
}

// cardIDs returns the card ids of a column in list order.
func cardIDs(b *board.Board, columnID string) []string {
	col, ok := b.Column(columnID)
	if !ok {
		return nil
	}
	ids := make([]string, len(col.Cards))
	for i, c := range col.Cards {
		ids[i] = c.ID
	}
	return ids
}

func columnIDs(b *board.Board) []string {
	ids := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		ids[i] = c.ID
	}
	return ids
}
