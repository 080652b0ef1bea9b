package board

import (
	"fmt"
	"slices"
)

// ColumnOrder is one entry of a batched column reorder.
type ColumnOrder struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// ClampIndex clamps a target index into [0, length].
func ClampIndex(index, length int) int {
	if index < 0 {
		return 0
	}
	if index > length {
		return length
	}
	return index
}

// MoveID removes id from ids (if present) and reinserts it at index, clamped
// against the list without id. An index at or past the end appends.
// The input slice is not modified.
func MoveID(ids []string, id string, index int) []string {
	out := make([]string, 0, len(ids)+1)
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	index = ClampIndex(index, len(out))
	return slices.Insert(out, index, id)
}

// RemoveID returns ids without id. The input slice is not modified.
func RemoveID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// ApplyColumnOrders returns the column ids re-sorted by the requested order
// values. Columns absent from orders keep their current position as their
// order value; ties keep their current relative order.
func ApplyColumnOrders(current []string, orders []ColumnOrder) []string {
	want := make(map[string]int, len(orders))
	for _, o := range orders {
		want[o.ID] = o.Order
	}
	type ranked struct {
		id   string
		rank int
	}
	rs := make([]ranked, len(current))
	for i, id := range current {
		r, ok := want[id]
		if !ok {
			r = i
		}
		rs[i] = ranked{id: id, rank: r}
	}
	slices.SortStableFunc(rs, func(a, b ranked) int { return a.rank - b.rank })
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.id
	}
	return out
}

func (b *Board) columnIDs() []string {
	ids := make([]string, len(b.Columns))
	for i := range b.Columns {
		ids[i] = b.Columns[i].ID
	}
	return ids
}

func (b *Board) arrangeColumns(ids []string) {
	byID := make(map[string]Column, len(b.Columns))
	for _, c := range b.Columns {
		byID[c.ID] = c
	}
	cols := make([]Column, 0, len(ids))
	for i, id := range ids {
		c := byID[id]
		c.Order = i
		cols = append(cols, c)
	}
	b.Columns = cols
}

func reindexCards(col *Column) {
	for j := range col.Cards {
		col.Cards[j].Order = j
		col.Cards[j].ColumnID = col.ID
	}
}

// MoveCard moves a card to index inside the target column. Order values of
// every affected column are rewritten densely.
func (b *Board) MoveCard(cardID, targetColumnID string, index int) error {
	ci, cj, ok := b.FindCard(cardID)
	if !ok {
		return fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}
	ti := b.ColumnIndex(targetColumnID)
	if ti < 0 {
		return fmt.Errorf("column %s: %w", targetColumnID, ErrNotFound)
	}
	card := b.Columns[ci].Cards[cj]
	b.Columns[ci].Cards = slices.Delete(b.Columns[ci].Cards, cj, cj+1)
	dst := &b.Columns[ti]
	index = ClampIndex(index, len(dst.Cards))
	dst.Cards = slices.Insert(dst.Cards, index, card)
	reindexCards(&b.Columns[ci])
	reindexCards(dst)
	return nil
}

// MoveColumn moves a column to index within the board.
func (b *Board) MoveColumn(columnID string, index int) error {
	if b.ColumnIndex(columnID) < 0 {
		return fmt.Errorf("column %s: %w", columnID, ErrNotFound)
	}
	b.arrangeColumns(MoveID(b.columnIDs(), columnID, index))
	return nil
}

// ReorderColumns applies a batched column order.
func (b *Board) ReorderColumns(orders []ColumnOrder) {
	b.arrangeColumns(ApplyColumnOrders(b.columnIDs(), orders))
}

// InsertCard inserts card into its column at index.
func (b *Board) InsertCard(card Card, index int) error {
	col, ok := b.Column(card.ColumnID)
	if !ok {
		return fmt.Errorf("column %s: %w", card.ColumnID, ErrNotFound)
	}
	index = ClampIndex(index, len(col.Cards))
	col.Cards = slices.Insert(col.Cards, index, card)
	reindexCards(col)
	return nil
}

// RemoveCard removes a card and returns it together with its former index.
func (b *Board) RemoveCard(cardID string) (Card, int, error) {
	ci, cj, ok := b.FindCard(cardID)
	if !ok {
		return Card{}, -1, fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}
	card := b.Columns[ci].Cards[cj]
	b.Columns[ci].Cards = slices.Delete(b.Columns[ci].Cards, cj, cj+1)
	reindexCards(&b.Columns[ci])
	return card, cj, nil
}

// InsertColumn inserts col into the board at index.
func (b *Board) InsertColumn(col Column, index int) {
	col.BoardID = b.ID
	index = ClampIndex(index, len(b.Columns))
	b.Columns = slices.Insert(b.Columns, index, col)
	for i := range b.Columns {
		b.Columns[i].Order = i
	}
	reindexCards(&b.Columns[index])
}

// RemoveColumn removes a column (with its cards) and returns it together
// with its former index.
func (b *Board) RemoveColumn(columnID string) (Column, int, error) {
	i := b.ColumnIndex(columnID)
	if i < 0 {
		return Column{}, -1, fmt.Errorf("column %s: %w", columnID, ErrNotFound)
	}
	col := b.Columns[i]
	b.Columns = slices.Delete(b.Columns, i, i+1)
	for k := range b.Columns {
		b.Columns[k].Order = k
	}
	return col, i, nil
}

// ReplaceCard swaps a temporary card id for the authoritative record.
// The card keeps its current position.
func (b *Board) ReplaceCard(oldID string, card Card) bool {
	ci, cj, ok := b.FindCard(oldID)
	if !ok {
		return false
	}
	card.ColumnID = b.Columns[ci].ID
	card.Order = cj
	b.Columns[ci].Cards[cj] = card
	return true
}

// ReplaceColumn swaps a temporary column id for the authoritative record.
// The column keeps its current position and its cards.
func (b *Board) ReplaceColumn(oldID string, col Column) bool {
	i := b.ColumnIndex(oldID)
	if i < 0 {
		return false
	}
	col.Cards = b.Columns[i].Cards
	col.Order = i
	col.BoardID = b.ID
	b.Columns[i] = col
	reindexCards(&b.Columns[i])
	return true
}
