// Package board defines the board entity tree shared by the persistence
// service and the optimistic client.
//
// A Board holds an ordered list of Columns and each Column holds an ordered
// list of Cards. Order values are zero-based positions within the sibling
// list; after every committed write they form a dense permutation 0..n-1.
package board

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Board is the root of the entity tree.
type Board struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Columns   []Column  `json:"columns" yaml:"columns"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

// Column is an ordered list of cards inside a board.
type Column struct {
	ID      string `json:"id" yaml:"id"`
	BoardID string `json:"boardId" yaml:"-"`
	Title   string `json:"title" yaml:"title"`
	Order   int    `json:"order" yaml:"-"`
	Width   int    `json:"width" yaml:"width"`
	Cards   []Card `json:"cards" yaml:"cards"`
}

// Card is a single item inside a column.
type Card struct {
	ID          string     `json:"id" yaml:"id"`
	ColumnID    string     `json:"columnId" yaml:"-"`
	Order       int        `json:"order" yaml:"-"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	DueAt       *time.Time `json:"dueAt,omitempty" yaml:"dueAt,omitempty"`
	Labels      []string   `json:"labels" yaml:"labels,omitempty"`
	Assignees   []string   `json:"assignees" yaml:"assignees,omitempty"`
}

// MaxTitleLength bounds board, column and card titles.
const MaxTitleLength = 500

// DefaultColumnWidth is used when a column is created without a width.
const DefaultColumnWidth = 280

// Validate checks the card's own fields.
func (c *Card) Validate() error {
	var issues []Issue
	if strings.TrimSpace(c.Title) == "" {
		issues = append(issues, Issue{Field: "title", Message: "title is required"})
	}
	if len(c.Title) > MaxTitleLength {
		issues = append(issues, Issue{Field: "title", Message: fmt.Sprintf("title must be %d characters or less (got %d)", MaxTitleLength, len(c.Title))})
	}
	if c.ColumnID == "" {
		issues = append(issues, Issue{Field: "columnId", Message: "columnId is required"})
	}
	if c.Order < 0 {
		issues = append(issues, Issue{Field: "order", Message: "order must not be negative"})
	}
	if len(issues) > 0 {
		return NewValidationError("invalid card", issues...)
	}
	return nil
}

// Validate checks the column's own fields. Cards are not validated.
func (c *Column) Validate() error {
	var issues []Issue
	if strings.TrimSpace(c.Title) == "" {
		issues = append(issues, Issue{Field: "title", Message: "title is required"})
	}
	if len(c.Title) > MaxTitleLength {
		issues = append(issues, Issue{Field: "title", Message: fmt.Sprintf("title must be %d characters or less (got %d)", MaxTitleLength, len(c.Title))})
	}
	if c.BoardID == "" {
		issues = append(issues, Issue{Field: "boardId", Message: "boardId is required"})
	}
	if c.Width < 0 {
		issues = append(issues, Issue{Field: "width", Message: "width must not be negative"})
	}
	if len(issues) > 0 {
		return NewValidationError("invalid column", issues...)
	}
	return nil
}

// Clone returns a deep copy of the board.
func (b *Board) Clone() *Board {
	if b == nil {
		return nil
	}
	out := *b
	out.Columns = make([]Column, len(b.Columns))
	for i := range b.Columns {
		out.Columns[i] = b.Columns[i].Clone()
	}
	return &out
}

// Clone returns a deep copy of the column and its cards.
func (c Column) Clone() Column {
	out := c
	out.Cards = make([]Card, len(c.Cards))
	for i := range c.Cards {
		out.Cards[i] = c.Cards[i].Clone()
	}
	return out
}

// Clone returns a deep copy of the card.
func (c Card) Clone() Card {
	out := c
	out.Labels = slices.Clone(c.Labels)
	out.Assignees = slices.Clone(c.Assignees)
	if c.DueAt != nil {
		due := *c.DueAt
		out.DueAt = &due
	}
	return out
}

// ColumnIndex returns the position of the column with the given id, or -1.
func (b *Board) ColumnIndex(columnID string) int {
	for i := range b.Columns {
		if b.Columns[i].ID == columnID {
			return i
		}
	}
	return -1
}

// Column returns the column with the given id.
func (b *Board) Column(columnID string) (*Column, bool) {
	i := b.ColumnIndex(columnID)
	if i < 0 {
		return nil, false
	}
	return &b.Columns[i], true
}

// FindCard locates a card anywhere on the board and returns the indexes of
// its column and of the card inside that column.
func (b *Board) FindCard(cardID string) (colIdx, cardIdx int, ok bool) {
	for i := range b.Columns {
		for j := range b.Columns[i].Cards {
			if b.Columns[i].Cards[j].ID == cardID {
				return i, j, true
			}
		}
	}
	return -1, -1, false
}

// Card returns a pointer to the card with the given id.
func (b *Board) Card(cardID string) (*Card, bool) {
	i, j, ok := b.FindCard(cardID)
	if !ok {
		return nil, false
	}
	return &b.Columns[i].Cards[j], true
}

// CardCount returns the total number of cards across all columns.
func (b *Board) CardCount() int {
	n := 0
	for i := range b.Columns {
		n += len(b.Columns[i].Cards)
	}
	return n
}

// Normalize sorts columns and cards by their order values and rewrites the
// order values to a dense sequence. Ties keep their current relative order.
func (b *Board) Normalize() {
	slices.SortStableFunc(b.Columns, func(x, y Column) int { return x.Order - y.Order })
	for i := range b.Columns {
		b.Columns[i].Order = i
		b.Columns[i].BoardID = b.ID
		cards := b.Columns[i].Cards
		slices.SortStableFunc(cards, func(x, y Card) int { return x.Order - y.Order })
		for j := range cards {
			cards[j].Order = j
			cards[j].ColumnID = b.Columns[i].ID
		}
	}
}

// IsDense reports whether every column's cards and the board's columns carry
// order values 0..n-1 in list order.
func (b *Board) IsDense() bool {
	for i := range b.Columns {
		if b.Columns[i].Order != i {
			return false
		}
		for j := range b.Columns[i].Cards {
			if b.Columns[i].Cards[j].Order != j {
				return false
			}
		}
	}
	return true
}
