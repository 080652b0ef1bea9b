package board

import (
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// CardPatch carries the changed fields of a card. Nil fields are unchanged.
// Labels and assignees are many-to-many id lists changed by add/remove sets.
type CardPatch struct {
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	DueAt           *time.Time `json:"dueAt,omitempty"`
	ClearDueAt      bool       `json:"clearDueAt,omitempty"`
	AddLabels       []string   `json:"addLabels,omitempty"`
	RemoveLabels    []string   `json:"removeLabels,omitempty"`
	AddAssignees    []string   `json:"addAssignees,omitempty"`
	RemoveAssignees []string   `json:"removeAssignees,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p *CardPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.DueAt == nil && !p.ClearDueAt &&
		len(p.AddLabels) == 0 && len(p.RemoveLabels) == 0 &&
		len(p.AddAssignees) == 0 && len(p.RemoveAssignees) == 0
}

// Validate checks the fields the patch sets.
func (p *CardPatch) Validate() error {
	var issues []Issue
	if p.Title != nil {
		if strings.TrimSpace(*p.Title) == "" {
			issues = append(issues, Issue{Field: "title", Message: "title must not be empty"})
		} else if len(*p.Title) > MaxTitleLength {
			issues = append(issues, Issue{Field: "title", Message: "title is too long"})
		}
	}
	for _, l := range append(append([]string{}, p.AddLabels...), p.RemoveLabels...) {
		if strings.TrimSpace(l) == "" {
			issues = append(issues, Issue{Field: "labels", Message: "label ids must not be empty"})
			break
		}
	}
	for _, a := range append(append([]string{}, p.AddAssignees...), p.RemoveAssignees...) {
		if strings.TrimSpace(a) == "" {
			issues = append(issues, Issue{Field: "assignees", Message: "assignee ids must not be empty"})
			break
		}
	}
	if p.DueAt != nil && p.ClearDueAt {
		issues = append(issues, Issue{Field: "dueAt", Message: "dueAt and clearDueAt are mutually exclusive"})
	}
	if len(issues) > 0 {
		return NewValidationError("invalid card update", issues...)
	}
	return nil
}

// Merge folds a newer patch into p. Scalar fields of next win; add/remove
// sets are combined so that a later add cancels an earlier remove and vice
// versa.
func (p CardPatch) Merge(next CardPatch) CardPatch {
	out := p
	if next.Title != nil {
		out.Title = next.Title
	}
	if next.Description != nil {
		out.Description = next.Description
	}
	if next.DueAt != nil {
		out.DueAt = next.DueAt
		out.ClearDueAt = false
	}
	if next.ClearDueAt {
		out.DueAt = nil
		out.ClearDueAt = true
	}
	out.AddLabels, out.RemoveLabels = mergeSetDelta(p.AddLabels, p.RemoveLabels, next.AddLabels, next.RemoveLabels)
	out.AddAssignees, out.RemoveAssignees = mergeSetDelta(p.AddAssignees, p.RemoveAssignees, next.AddAssignees, next.RemoveAssignees)
	return out
}

// Apply applies the patch to a card in place.
func (p *CardPatch) Apply(c *Card) {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.DueAt != nil {
		due := *p.DueAt
		c.DueAt = &due
	}
	if p.ClearDueAt {
		c.DueAt = nil
	}
	c.Labels = ApplySetDelta(c.Labels, p.AddLabels, p.RemoveLabels)
	c.Assignees = ApplySetDelta(c.Assignees, p.AddAssignees, p.RemoveAssignees)
}

// ApplySetDelta returns current with add appended and remove dropped.
// Existing order is kept; new ids are appended in the order given.
func ApplySetDelta(current, add, remove []string) []string {
	if len(add) == 0 && len(remove) == 0 {
		return current
	}
	removed := mapset.NewThreadUnsafeSet(remove...)
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]string, 0, len(current)+len(add))
	for _, v := range append(append([]string{}, current...), add...) {
		if removed.Contains(v) || seen.Contains(v) {
			continue
		}
		seen.Add(v)
		out = append(out, v)
	}
	return out
}

func mergeSetDelta(add, remove, nextAdd, nextRemove []string) ([]string, []string) {
	adds := mapset.NewThreadUnsafeSet(add...)
	removes := mapset.NewThreadUnsafeSet(remove...)
	for _, v := range nextAdd {
		removes.Remove(v)
		adds.Add(v)
	}
	for _, v := range nextRemove {
		adds.Remove(v)
		removes.Add(v)
	}
	return sortedOrNil(adds), sortedOrNil(removes)
}

func sortedOrNil(s mapset.Set[string]) []string {
	if s.Cardinality() == 0 {
		return nil
	}
	return mapset.Sorted(s)
}

// ColumnPatch carries the changed fields of a column.
type ColumnPatch struct {
	Title *string `json:"title,omitempty"`
	Width *int    `json:"width,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p *ColumnPatch) IsEmpty() bool { return p.Title == nil && p.Width == nil }

// Validate checks the fields the patch sets.
func (p *ColumnPatch) Validate() error {
	var issues []Issue
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		issues = append(issues, Issue{Field: "title", Message: "title must not be empty"})
	}
	if p.Width != nil && *p.Width < 0 {
		issues = append(issues, Issue{Field: "width", Message: "width must not be negative"})
	}
	if len(issues) > 0 {
		return NewValidationError("invalid column update", issues...)
	}
	return nil
}

// Merge folds a newer patch into p.
func (p ColumnPatch) Merge(next ColumnPatch) ColumnPatch {
	if next.Title != nil {
		p.Title = next.Title
	}
	if next.Width != nil {
		p.Width = next.Width
	}
	return p
}

// Apply applies the patch to a column in place.
func (p *ColumnPatch) Apply(c *Column) {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Width != nil {
		c.Width = *p.Width
	}
}

// BoardPatch carries the changed fields of a board.
type BoardPatch struct {
	Title *string `json:"title,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p *BoardPatch) IsEmpty() bool { return p.Title == nil }

// Validate checks the fields the patch sets.
func (p *BoardPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return NewValidationError("invalid board update", Issue{Field: "title", Message: "title must not be empty"})
	}
	return nil
}

// Merge folds a newer patch into p.
func (p BoardPatch) Merge(next BoardPatch) BoardPatch {
	if next.Title != nil {
		p.Title = next.Title
	}
	return p
}

// Apply applies the patch to a board in place.
func (p *BoardPatch) Apply(b *Board) {
	if p.Title != nil {
		b.Title = *p.Title
	}
}

// NewCard is the full payload of a card creation.
type NewCard struct {
	ColumnID    string     `json:"columnId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	Assignees   []string   `json:"assignees,omitempty"`
	// Order is the requested position; nil appends.
	Order *int `json:"order,omitempty"`
}

// Card returns the card described by the payload with the given id.
func (n *NewCard) Card(id string) Card {
	c := Card{
		ID:          id,
		ColumnID:    n.ColumnID,
		Title:       n.Title,
		Description: n.Description,
		Labels:      ApplySetDelta(nil, n.Labels, nil),
		Assignees:   ApplySetDelta(nil, n.Assignees, nil),
	}
	if n.DueAt != nil {
		due := *n.DueAt
		c.DueAt = &due
	}
	if n.Order != nil {
		c.Order = *n.Order
	}
	return c
}

// Validate checks the creation payload.
func (n *NewCard) Validate() error {
	c := n.Card("")
	c.Order = 0
	if err := c.Validate(); err != nil {
		return err
	}
	if n.Order != nil && *n.Order < 0 {
		return NewValidationError("invalid card", Issue{Field: "order", Message: "order must not be negative"})
	}
	return nil
}

// NewColumn is the full payload of a column creation.
type NewColumn struct {
	BoardID string `json:"boardId"`
	Title   string `json:"title"`
	Width   int    `json:"width,omitempty"`
	Order   *int   `json:"order,omitempty"`
}

// Column returns the column described by the payload with the given id.
func (n *NewColumn) Column(id string) Column {
	c := Column{ID: id, BoardID: n.BoardID, Title: n.Title, Width: n.Width, Cards: []Card{}}
	if c.Width == 0 {
		c.Width = DefaultColumnWidth
	}
	if n.Order != nil {
		c.Order = *n.Order
	}
	return c
}

// Validate checks the creation payload.
func (n *NewColumn) Validate() error {
	c := n.Column("")
	if err := c.Validate(); err != nil {
		return err
	}
	if n.Order != nil && *n.Order < 0 {
		return NewValidationError("invalid column", Issue{Field: "order", Message: "order must not be negative"})
	}
	return nil
}
