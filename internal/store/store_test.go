package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

// testStore opens a fresh database with a short retry backoff
func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenWithConfig(filepath.Join(t.TempDir(), "test.db"), &Config{
		MaxAttempts: 3,
		RetryBase:   time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return s
}

// seedBoard creates board b1 with X=[A,B,C] and Y=[D]
func seedBoard(t *testing.T, s *Store) *board.Board {
	t.Helper()
	b, err := s.CreateBoard(context.Background(), &board.Board{
		ID:    "b1",
		Title: "Sprint",
		Columns: []board.Column{
			{ID: "X", Title: "Todo", Cards: []board.Card{{ID: "A", Title: "A"}, {ID: "B", Title: "B"}, {ID: "C", Title: "C"}}},
			{ID: "Y", Title: "Done", Cards: []board.Card{{ID: "D", Title: "D"}}},
		},
	})
	if err != nil {
		t.Fatalf("CreateBoard() failed: %v", err)
	}
	return b
}

// columnCards returns the card ids of a column and fails if orders are not dense
func columnCards(t *testing.T, s *Store, columnID string) []string {
	t.Helper()
	cards, err := s.ListCards(context.Background(), columnID)
	if err != nil {
		t.Fatalf("ListCards(%s) failed: %v", columnID, err)
	}
	ids := make([]string, len(cards))
	for i, c := range cards {
		if c.Order != i {
			t.Errorf("column %s card %s order = %d, want %d", columnID, c.ID, c.Order, i)
		}
		ids[i] = c.ID
	}
	return ids
}

func TestOpen_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	s := testStore(t)
	if err := s.InitSchema(); err != nil {
		t.Fatalf("second InitSchema() failed: %v", err)
	}

	tables := []string{"boards", "board_columns", "cards", "card_labels", "card_assignees", "audit_log"}
	for _, table := range tables {
		var count int
		err := s.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestCreateBoard(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)

	b, err := s.GetBoard("b1")
	if err != nil {
		t.Fatalf("GetBoard() failed: %v", err)
	}
	if len(b.Columns) != 2 || b.Columns[0].ID != "X" || b.Columns[1].ID != "Y" {
		t.Fatalf("columns = %+v", b.Columns)
	}
	if !b.IsDense() {
		t.Error("seeded board is not dense")
	}
	if b.CardCount() != 4 {
		t.Errorf("CardCount() = %d, want 4", b.CardCount())
	}

	if _, err := s.CreateBoard(context.Background(), &board.Board{}); !errors.Is(err, board.ErrValidation) {
		t.Errorf("empty board error = %v, want ErrValidation", err)
	}
}

func TestGetBoard_NotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetBoard("missing"); !errors.Is(err, board.ErrNotFound) {
		t.Errorf("GetBoard() error = %v, want ErrNotFound", err)
	}
}

func TestMoveCard_SameColumn(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)

	res, err := s.MoveCard(context.Background(), "B", "X", 0)
	if err != nil {
		t.Fatalf("MoveCard() failed: %v", err)
	}
	if got := columnCards(t, s, "X"); !slices.Equal(got, []string{"B", "A", "C"}) {
		t.Errorf("X = %v, want [B A C]", got)
	}
	if res.CrossColumn() || res.FromOrder != 1 || res.ToOrder != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestMoveCard_CrossColumn(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.CreateBoard(ctx, &board.Board{ID: "b1", Title: "B", Columns: []board.Column{
		{ID: "X", Title: "X", Cards: []board.Card{{ID: "A", Title: "A"}, {ID: "B", Title: "B"}}},
		{ID: "Y", Title: "Y", Cards: []board.Card{{ID: "C", Title: "C"}}},
	}}); err != nil {
		t.Fatalf("CreateBoard() failed: %v", err)
	}

	res, err := s.MoveCard(ctx, "A", "Y", 1)
	if err != nil {
		t.Fatalf("MoveCard() failed: %v", err)
	}
	if got := columnCards(t, s, "X"); !slices.Equal(got, []string{"B"}) {
		t.Errorf("X = %v, want [B]", got)
	}
	if got := columnCards(t, s, "Y"); !slices.Equal(got, []string{"C", "A"}) {
		t.Errorf("Y = %v, want [C A]", got)
	}
	if !res.CrossColumn() || res.FromColumn != "X" || res.ToColumn != "Y" || res.ToOrder != 1 {
		t.Errorf("result = %+v", res)
	}

	card, err := s.FindCard(ctx, "A")
	if err != nil {
		t.Fatalf("FindCard() failed: %v", err)
	}
	if card.ColumnID != "Y" {
		t.Errorf("card column = %q, want Y", card.ColumnID)
	}
}

func TestMoveCard_Boundaries(t *testing.T) {
	tests := []struct {
		name  string
		card  string
		index int
		want  []string
	}{
		{"index 0 places first", "C", 0, []string{"C", "A", "B"}},
		{"index equal to length places last", "A", 3, []string{"B", "C", "A"}},
		{"index past length places last", "A", 42, []string{"B", "C", "A"}},
		{"negative index places first", "B", -1, []string{"B", "A", "C"}},
		{"own index is a no-op", "B", 1, []string{"A", "B", "C"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testStore(t)
			seedBoard(t, s)
			if _, err := s.MoveCard(context.Background(), tt.card, "X", tt.index); err != nil {
				t.Fatalf("MoveCard() failed: %v", err)
			}
			if got := columnCards(t, s, "X"); !slices.Equal(got, tt.want) {
				t.Errorf("X = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMoveCard_Idempotent(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.MoveCard(ctx, "A", "Y", 0); err != nil {
			t.Fatalf("MoveCard() #%d failed: %v", i, err)
		}
	}
	if got := columnCards(t, s, "Y"); !slices.Equal(got, []string{"A", "D"}) {
		t.Errorf("Y = %v, want [A D]", got)
	}
	if got := columnCards(t, s, "X"); !slices.Equal(got, []string{"B", "C"}) {
		t.Errorf("X = %v, want [B C]", got)
	}
}

func TestMoveCard_NotFound(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)

	attempts := 0
	s.beforeCommit = func(int) error { attempts++; return nil }

	if _, err := s.MoveCard(context.Background(), "missing", "X", 0); !errors.Is(err, board.ErrNotFound) {
		t.Errorf("missing card error = %v, want ErrNotFound", err)
	}
	if _, err := s.MoveCard(context.Background(), "A", "missing", 0); !errors.Is(err, board.ErrNotFound) {
		t.Errorf("missing column error = %v, want ErrNotFound", err)
	}
	if attempts != 0 {
		t.Errorf("not-found moves reached commit %d times", attempts)
	}
}

// TestMoveCard_RetriesConflicts injects a write conflict into the first two
// attempts; the third commits.
func TestMoveCard_RetriesConflicts(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)

	var seen []int
	s.beforeCommit = func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return fmt.Errorf("injected: %w", board.ErrConflict)
		}
		return nil
	}

	if _, err := s.MoveCard(context.Background(), "A", "Y", 1); err != nil {
		t.Fatalf("MoveCard() failed: %v", err)
	}
	if !slices.Equal(seen, []int{1, 2, 3}) {
		t.Errorf("attempts = %v, want [1 2 3]", seen)
	}
	if got := columnCards(t, s, "X"); !slices.Equal(got, []string{"B", "C"}) {
		t.Errorf("X = %v, want [B C]", got)
	}
	if got := columnCards(t, s, "Y"); !slices.Equal(got, []string{"D", "A"}) {
		t.Errorf("Y = %v, want [D A]", got)
	}
}

func TestMoveCard_ConflictExhausted(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)

	attempts := 0
	s.beforeCommit = func(int) error {
		attempts++
		return board.ErrConflict
	}

	_, err := s.MoveCard(context.Background(), "A", "Y", 0)
	if !errors.Is(err, board.ErrConflict) {
		t.Fatalf("MoveCard() error = %v, want ErrConflict", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}

	s.beforeCommit = nil
	if got := columnCards(t, s, "X"); !slices.Equal(got, []string{"A", "B", "C"}) {
		t.Errorf("X = %v, want unchanged [A B C]", got)
	}
}

func TestBumpVersion_DetectsConcurrentWrite(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)
	ctx := context.Background()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx() failed: %v", err)
	}
	defer tx.Rollback()

	if err := bumpVersion(ctx, tx, "board_columns", "X", 7); !errors.Is(err, board.ErrConflict) {
		t.Errorf("stale version error = %v, want ErrConflict", err)
	}
	if err := bumpVersion(ctx, tx, "board_columns", "X", 0); err != nil {
		t.Errorf("current version error = %v", err)
	}
}

type failingAudit struct{ calls int }

func (f *failingAudit) RecordMove(context.Context, AuditEntry) error {
	f.calls++
	return errors.New("audit store down")
}

func TestMoveCard_Audit(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)
	s.SetAudit(NewSQLAuditLog(s))
	ctx := context.Background()

	if _, err := s.MoveCard(ctx, "A", "X", 2); err != nil {
		t.Fatalf("same-column MoveCard() failed: %v", err)
	}
	if _, err := s.MoveCard(ctx, "B", "Y", 1); err != nil {
		t.Fatalf("cross-column MoveCard() failed: %v", err)
	}

	if entries, _ := s.ListAudit(ctx, "A"); len(entries) != 0 {
		t.Errorf("same-column move logged %d entries", len(entries))
	}
	entries, err := s.ListAudit(ctx, "B")
	if err != nil {
		t.Fatalf("ListAudit() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.FromContainer != "X" || e.ToContainer != "Y" || e.FromOrder != 0 || e.ToOrder != 1 || e.EntityType != "card" {
		t.Errorf("entry = %+v", e)
	}
}

func TestMoveCard_AuditFailureIgnored(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)
	audit := &failingAudit{}
	s.SetAudit(audit)

	if _, err := s.MoveCard(context.Background(), "A", "Y", 0); err != nil {
		t.Fatalf("MoveCard() failed despite best-effort audit: %v", err)
	}
	if audit.calls != 1 {
		t.Errorf("audit calls = %d, want 1", audit.calls)
	}
	if got := columnCards(t, s, "Y"); !slices.Equal(got, []string{"A", "D"}) {
		t.Errorf("Y = %v, want [A D]", got)
	}
}

func TestMoveColumn(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)

	col, err := s.MoveColumn(context.Background(), "Y", 0)
	if err != nil {
		t.Fatalf("MoveColumn() failed: %v", err)
	}
	if col.Order != 0 {
		t.Errorf("column order = %d, want 0", col.Order)
	}
	b, _ := s.GetBoard("b1")
	if b.Columns[0].ID != "Y" || b.Columns[1].ID != "X" || !b.IsDense() {
		t.Errorf("columns = %+v", b.Columns)
	}
}

func TestReorderColumns(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)
	ctx := context.Background()

	if _, err := s.CreateColumn(ctx, board.NewColumn{BoardID: "b1", Title: "Review"}); err != nil {
		t.Fatalf("CreateColumn() failed: %v", err)
	}
	b, _ := s.GetBoard("b1")
	review := b.Columns[2].ID

	err := s.ReorderColumns(ctx, "b1", []board.ColumnOrder{{ID: review, Order: 0}, {ID: "X", Order: 1}, {ID: "Y", Order: 2}})
	if err != nil {
		t.Fatalf("ReorderColumns() failed: %v", err)
	}
	b, _ = s.GetBoard("b1")
	got := []string{b.Columns[0].ID, b.Columns[1].ID, b.Columns[2].ID}
	if !slices.Equal(got, []string{review, "X", "Y"}) {
		t.Errorf("columns = %v", got)
	}
	if !b.IsDense() {
		t.Error("columns not dense after reorder")
	}
}

func TestReorderColumns_Invalid(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)
	ctx := context.Background()

	tests := []struct {
		name    string
		boardID string
		orders  []board.ColumnOrder
		want    error
	}{
		{"unknown column", "b1", []board.ColumnOrder{{ID: "nope", Order: 0}}, board.ErrValidation},
		{"empty list", "b1", nil, board.ErrValidation},
		{"missing board id", "", []board.ColumnOrder{{ID: "X", Order: 0}}, board.ErrValidation},
		{"unknown board", "b2", []board.ColumnOrder{{ID: "X", Order: 0}}, board.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.ReorderColumns(ctx, tt.boardID, tt.orders); !errors.Is(err, tt.want) {
				t.Errorf("ReorderColumns() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateCard_AtIndex(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)
	ctx := context.Background()

	order := 1
	card, err := s.CreateCard(ctx, board.NewCard{ColumnID: "X", Title: "New", Labels: []string{"bug"}, Order: &order})
	if err != nil {
		t.Fatalf("CreateCard() failed: %v", err)
	}
	if card.ID == "" || card.Order != 1 {
		t.Errorf("card = %+v", card)
	}
	if got := columnCards(t, s, "X"); !slices.Equal(got, []string{"A", card.ID, "B", "C"}) {
		t.Errorf("X = %v", got)
	}

	appended, err := s.CreateCard(ctx, board.NewCard{ColumnID: "Y", Title: "Last"})
	if err != nil {
		t.Fatalf("CreateCard() failed: %v", err)
	}
	if appended.Order != 1 {
		t.Errorf("appended order = %d, want 1", appended.Order)
	}

	if _, err := s.CreateCard(ctx, board.NewCard{ColumnID: "missing", Title: "x"}); !errors.Is(err, board.ErrNotFound) {
		t.Errorf("missing column error = %v, want ErrNotFound", err)
	}
	if _, err := s.CreateCard(ctx, board.NewCard{ColumnID: "X"}); !errors.Is(err, board.ErrValidation) {
		t.Errorf("untitled card error = %v, want ErrValidation", err)
	}
}

func TestUpdateCard(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)
	ctx := context.Background()

	title := "Renamed"
	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	card, err := s.UpdateCard(ctx, "A", board.CardPatch{
		Title:        &title,
		DueAt:        &due,
		AddLabels:    []string{"bug", "ui"},
		AddAssignees: []string{"u1"},
	})
	if err != nil {
		t.Fatalf("UpdateCard() failed: %v", err)
	}
	if card.Title != title || card.DueAt == nil || !card.DueAt.Equal(due) {
		t.Errorf("card = %+v", card)
	}

	card, err = s.UpdateCard(ctx, "A", board.CardPatch{RemoveLabels: []string{"bug"}, AddLabels: []string{"p1"}, ClearDueAt: true})
	if err != nil {
		t.Fatalf("second UpdateCard() failed: %v", err)
	}
	got, _ := s.FindCard(ctx, "A")
	if !slices.Equal(got.Labels, []string{"ui", "p1"}) {
		t.Errorf("labels = %v, want [ui p1]", got.Labels)
	}
	if !slices.Equal(got.Assignees, []string{"u1"}) {
		t.Errorf("assignees = %v, want [u1]", got.Assignees)
	}
	if got.DueAt != nil || card.DueAt != nil {
		t.Errorf("dueAt not cleared: %v", got.DueAt)
	}

	if _, err := s.UpdateCard(ctx, "missing", board.CardPatch{Title: &title}); !errors.Is(err, board.ErrNotFound) {
		t.Errorf("missing card error = %v, want ErrNotFound", err)
	}
	empty := " "
	if _, err := s.UpdateCard(ctx, "A", board.CardPatch{Title: &empty}); !errors.Is(err, board.ErrValidation) {
		t.Errorf("blank title error = %v, want ErrValidation", err)
	}
}

func TestUpdateColumnAndBoard(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)
	ctx := context.Background()

	title, width := "Doing", 320
	col, err := s.UpdateColumn(ctx, "X", board.ColumnPatch{Title: &title, Width: &width})
	if err != nil {
		t.Fatalf("UpdateColumn() failed: %v", err)
	}
	if col.Title != title || col.Width != width {
		t.Errorf("column = %+v", col)
	}

	bt := "Q3"
	b, err := s.UpdateBoard(ctx, "b1", board.BoardPatch{Title: &bt})
	if err != nil {
		t.Fatalf("UpdateBoard() failed: %v", err)
	}
	if b.Title != bt {
		t.Errorf("board title = %q", b.Title)
	}
}

func TestDeleteCard_Redensifies(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)
	ctx := context.Background()

	if err := s.DeleteCard(ctx, "B"); err != nil {
		t.Fatalf("DeleteCard() failed: %v", err)
	}
	if got := columnCards(t, s, "X"); !slices.Equal(got, []string{"A", "C"}) {
		t.Errorf("X = %v, want [A C]", got)
	}
	if err := s.DeleteCard(ctx, "B"); !errors.Is(err, board.ErrNotFound) {
		t.Errorf("second DeleteCard() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteColumn_Cascades(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)
	ctx := context.Background()

	if err := s.DeleteColumn(ctx, "X"); err != nil {
		t.Fatalf("DeleteColumn() failed: %v", err)
	}
	b, _ := s.GetBoard("b1")
	if len(b.Columns) != 1 || b.Columns[0].ID != "Y" || b.Columns[0].Order != 0 {
		t.Errorf("columns = %+v", b.Columns)
	}
	if _, err := s.FindCard(ctx, "A"); !errors.Is(err, board.ErrNotFound) {
		t.Errorf("card of deleted column error = %v, want ErrNotFound", err)
	}
}

func TestListBoards(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)

	boards, err := s.ListBoards(context.Background())
	if err != nil {
		t.Fatalf("ListBoards() failed: %v", err)
	}
	if len(boards) != 1 || boards[0].Columns != 2 || boards[0].Cards != 4 {
		t.Errorf("boards = %+v", boards)
	}
}

// TestMoveCard_Concurrent hammers two columns from several goroutines and
// checks that no order value is duplicated or skipped.
func TestMoveCard_Concurrent(t *testing.T) {
	s := testStore(t)
	seedBoard(t, s)
	ctx := context.Background()

	cards := []string{"A", "B", "C", "D"}
	cols := []string{"X", "Y"}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				card := cards[(w+i)%len(cards)]
				col := cols[(w*i)%len(cols)]
				_, err := s.MoveCard(ctx, card, col, i%3)
				if err != nil && !errors.Is(err, board.ErrConflict) {
					t.Errorf("MoveCard() failed: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	x := columnCards(t, s, "X")
	y := columnCards(t, s, "Y")
	if len(x)+len(y) != len(cards) {
		t.Errorf("card count = %d, want %d", len(x)+len(y), len(cards))
	}
}
