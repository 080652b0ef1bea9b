package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

type recordingNotifier struct {
	mu       sync.Mutex
	failures []Failure
}

func (n *recordingNotifier) Notify(f Failure) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, f)
}

func (n *recordingNotifier) all() []Failure {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Failure(nil), n.failures...)
}

// testSession starts a session whose dispatcher only runs on Flush unless
// cfg overrides the debounce windows.
func testSession(t *testing.T, ft *fakeTransport, opts ...func(*SessionConfig)) (*Session, *recordingNotifier) {
	t.Helper()
	logger := log.New()
	logger.SetOutput(io.Discard)

	n := &recordingNotifier{}
	hour := time.Hour
	cfg := DefaultSessionConfig()
	cfg.BoardID = "b1"
	cfg.Transport = ft
	cfg.Notifier = n
	cfg.Logger = logger
	cfg.Debounce = DebounceConfig{Create: hour, Delete: hour, Move: hour, Update: hour, Reorder: hour}
	cfg.BatchPause = 0
	cfg.RetryBase = time.Millisecond
	for _, opt := range opts {
		opt(cfg)
	}

	s, err := NewSession(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, n
}

func flush(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

func TestSessionRequiresTransport(t *testing.T) {
	_, err := NewSession(context.Background(), &SessionConfig{BoardID: "b1"})
	require.Error(t, err)
}

func TestSessionOptimisticMove(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	s, _ := testSession(t, ft)

	require.NoError(t, s.MoveCard("B", "X", 0))

	// Applied locally before anything is sent.
	assert.Equal(t, []string{"B", "A", "C"}, cardIDs(s.Board(), "X"))
	assert.Empty(t, ft.Calls())
	assert.Equal(t, QueueStatus{Pending: 1, Total: 1}, s.Status())

	flush(t, s)
	assert.Equal(t, []string{"moveCard B X 0"}, ft.Calls())
	assert.Equal(t, []string{"B", "A", "C"}, cardIDs(ft.Snapshot(), "X"))
	assert.Equal(t, QueueStatus{}, s.Status())
}

func TestSessionRapidDragsCollapse(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	s, _ := testSession(t, ft)

	require.NoError(t, s.MoveCard("A", "Y", 0))
	require.NoError(t, s.MoveCard("A", "Y", 1))
	require.NoError(t, s.MoveCard("A", "X", 2))

	flush(t, s)
	assert.Equal(t, []string{"moveCard A X 2"}, ft.Calls())
	assert.Equal(t, []string{"B", "C", "A"}, cardIDs(s.Board(), "X"))
	assert.Equal(t, []string{"D"}, cardIDs(s.Board(), "Y"))
}

func TestSessionDebounceDispatches(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	s, _ := testSession(t, ft, func(cfg *SessionConfig) {
		cfg.Debounce = DebounceConfig{Create: time.Millisecond, Delete: time.Millisecond, Move: 20 * time.Millisecond, Update: time.Millisecond, Reorder: time.Millisecond}
	})

	require.NoError(t, s.MoveCard("A", "Y", 0))
	require.NoError(t, s.MoveCard("A", "Y", 1))

	require.Eventually(t, func() bool { return len(ft.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"moveCard A Y 1"}, ft.Calls())
}

func TestSessionRetriesThenCompletes(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	ft.failNext("moveCard", board.ErrConflict, errors.New("connection reset"))
	s, n := testSession(t, ft)

	require.NoError(t, s.MoveCard("A", "Y", 1))
	flush(t, s)

	assert.Len(t, ft.Calls(), 3)
	assert.Empty(t, n.all())
	assert.Equal(t, []string{"D", "A"}, cardIDs(ft.Snapshot(), "Y"))
	assert.Equal(t, cardIDs(ft.Snapshot(), "Y"), cardIDs(s.Board(), "Y"))
	assert.True(t, s.Board().IsDense())
}

func TestSessionRetryCeilingReconciles(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	boom := errors.New("connection reset")
	ft.failNext("moveCard", boom, boom, boom)
	s, n := testSession(t, ft)

	require.NoError(t, s.MoveCard("A", "Y", 0))
	assert.Equal(t, []string{"A", "D"}, cardIDs(s.Board(), "Y"))
	flush(t, s)

	assert.Len(t, ft.Calls(), 3)
	failures := n.all()
	require.Len(t, failures, 1)
	assert.Equal(t, ActionReconciled, failures[0].Action)
	assert.Equal(t, board.KindUnknown, failures[0].Kind)
	assert.Equal(t, 3, failures[0].Op.RetryCount)

	// The optimistic move is gone; the cache matches the server again.
	assert.Equal(t, []string{"A", "B", "C"}, cardIDs(s.Board(), "X"))
	assert.Equal(t, []string{"D"}, cardIDs(s.Board(), "Y"))
}

func TestSessionValidationFailureIsNotRetried(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	ft.failNext("updateCard", board.NewValidationError("invalid card update", board.Issue{Field: "labels", Message: "unknown label"}))
	s, n := testSession(t, ft)

	require.NoError(t, s.UpdateCard("A", board.CardPatch{AddLabels: []string{"nope"}}))
	flush(t, s)

	assert.Equal(t, []string{"updateCard A"}, ft.Calls())
	failures := n.all()
	require.Len(t, failures, 1)
	assert.Equal(t, board.KindValidation, failures[0].Kind)
	card, ok := s.Board().Card("A")
	require.True(t, ok)
	assert.Empty(t, card.Labels)
}

func TestSessionLocalValidation(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	s, _ := testSession(t, ft)

	err := s.UpdateCard("A", board.CardPatch{Title: strPtr("  ")})
	assert.ErrorIs(t, err, board.ErrValidation)

	_, err = s.CreateCard(board.NewCard{ColumnID: "X"})
	assert.ErrorIs(t, err, board.ErrValidation)

	err = s.MoveCard("missing", "X", 0)
	assert.ErrorIs(t, err, board.ErrNotFound)

	assert.Equal(t, QueueStatus{}, s.Status())
	flush(t, s)
	assert.Empty(t, ft.Calls())
}

func TestSessionNegativeIndexPlacesFirst(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	s, _ := testSession(t, ft)

	require.NoError(t, s.MoveCard("C", "X", -3))
	assert.Equal(t, []string{"C", "A", "B"}, cardIDs(s.Board(), "X"))
	require.NoError(t, s.MoveColumn("Y", -1))
	assert.Equal(t, []string{"Y", "X"}, columnIDs(s.Board()))

	flush(t, s)
	assert.ElementsMatch(t, []string{"moveCard C X 0", "moveColumn Y 0"}, ft.Calls())
	assert.Equal(t, []string{"C", "A", "B"}, cardIDs(ft.Snapshot(), "X"))
}

func TestSessionDeleteRollback(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	boom := errors.New("service unavailable")
	ft.failNext("deleteCard", boom, boom, boom)
	s, n := testSession(t, ft)

	require.NoError(t, s.DeleteCard("B"))
	assert.Equal(t, []string{"A", "C"}, cardIDs(s.Board(), "X"))
	flush(t, s)

	failures := n.all()
	require.Len(t, failures, 1)
	assert.Equal(t, ActionRolledBack, failures[0].Action)
	assert.Equal(t, []string{"A", "B", "C"}, cardIDs(s.Board(), "X"))
	assert.True(t, s.Board().IsDense())
}

func TestSessionDeleteColumnRollback(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	ft.failNext("deleteColumn", board.NewValidationError("column is protected"))
	s, n := testSession(t, ft)

	require.NoError(t, s.DeleteColumn("X"))
	assert.Equal(t, []string{"Y"}, columnIDs(s.Board()))
	flush(t, s)

	require.Len(t, n.all(), 1)
	assert.Equal(t, []string{"X", "Y"}, columnIDs(s.Board()))
	assert.Equal(t, []string{"A", "B", "C"}, cardIDs(s.Board(), "X"))
}

func TestSessionDeleteNotFoundReconciles(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	s, n := testSession(t, ft)

	// Someone else removed the card first.
	_, _, err := ft.board.RemoveCard("B")
	require.NoError(t, err)

	require.NoError(t, s.DeleteCard("B"))
	flush(t, s)

	failures := n.all()
	require.Len(t, failures, 1)
	assert.Equal(t, ActionReconciled, failures[0].Action)
	assert.Equal(t, []string{"A", "C"}, cardIDs(s.Board(), "X"))
}

func TestSessionCreateSplicesServerID(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	s, _ := testSession(t, ft)

	tmp, err := s.CreateCard(board.NewCard{ColumnID: "X", Title: "new", Labels: []string{"ui"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tmp, TempIDPrefix))
	assert.Equal(t, []string{"A", "B", "C", tmp}, cardIDs(s.Board(), "X"))

	require.NoError(t, s.MoveCard(tmp, "Y", 0))
	require.NoError(t, s.UpdateCard(tmp, board.CardPatch{Title: strPtr("renamed")}))
	flush(t, s)

	calls := ft.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "createCard X", calls[0])
	// The two dependents share a batch.
	assert.ElementsMatch(t, []string{"moveCard srv-1 Y 0", "updateCard srv-1"}, calls[1:])
	assert.Equal(t, []string{"srv-1", "D"}, cardIDs(s.Board(), "Y"))
	card, ok := s.Board().Card("srv-1")
	require.True(t, ok)
	assert.Equal(t, "renamed", card.Title)
	assert.Equal(t, []string{"ui"}, card.Labels)

	// The temporary id keeps working after confirmation.
	require.NoError(t, s.MoveCard(tmp, "X", 0))
	flush(t, s)
	assert.Equal(t, "moveCard srv-1 X 0", ft.Calls()[3])
}

func TestSessionCreateCardInNewColumn(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	s, _ := testSession(t, ft)

	col, err := s.CreateColumn(board.NewColumn{Title: "Review"})
	require.NoError(t, err)
	card, err := s.CreateCard(board.NewCard{ColumnID: col, Title: "check"})
	require.NoError(t, err)
	assert.Equal(t, []string{card}, cardIDs(s.Board(), col))

	flush(t, s)
	assert.Equal(t, []string{"createColumn Review", "createCard srv-1"}, ft.Calls())
	assert.Equal(t, []string{"X", "Y", "srv-1"}, columnIDs(s.Board()))
	assert.Equal(t, []string{"srv-2"}, cardIDs(s.Board(), "srv-1"))
}

func TestSessionDeleteUnsentCreate(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	s, _ := testSession(t, ft)

	tmp, err := s.CreateCard(board.NewCard{ColumnID: "Y", Title: "oops"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateCard(tmp, board.CardPatch{Title: strPtr("still oops")}))
	require.NoError(t, s.DeleteCard(tmp))

	assert.Equal(t, []string{"D"}, cardIDs(s.Board(), "Y"))
	assert.Equal(t, QueueStatus{}, s.Status())
	flush(t, s)
	assert.Empty(t, ft.Calls())
}

func TestSessionRejectedCreateDropsDependents(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	ft.failNext("createCard", board.NewValidationError("invalid card"))
	s, n := testSession(t, ft)

	tmp, err := s.CreateCard(board.NewCard{ColumnID: "Y", Title: "x"})
	require.NoError(t, err)
	require.NoError(t, s.MoveCard(tmp, "X", 0))
	flush(t, s)

	assert.Equal(t, []string{"createCard Y"}, ft.Calls())
	failures := n.all()
	require.Len(t, failures, 1)
	assert.Equal(t, ActionDiscarded, failures[0].Action)
	assert.Equal(t, 4, s.Board().CardCount())
	_, ok := s.Board().Card(tmp)
	assert.False(t, ok)
}

func TestSessionCancelInteraction(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	s, _ := testSession(t, ft)

	require.NoError(t, s.MoveCard("C", "Y", 0))
	require.NoError(t, s.UpdateBoard(board.BoardPatch{Title: strPtr("Renamed")}))
	require.NoError(t, s.CancelInteraction(context.Background(), OpMoveCard, "C"))

	// The cancelled drag is undone; the unrelated edit survives.
	assert.Equal(t, []string{"A", "B", "C"}, cardIDs(s.Board(), "X"))
	assert.Equal(t, "Renamed", s.Board().Title)

	flush(t, s)
	assert.Equal(t, []string{"updateBoard b1"}, ft.Calls())
}

func TestSessionReconcileKeepsQueuedEffects(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	s, _ := testSession(t, ft)

	require.NoError(t, s.MoveCard("A", "Y", 1))
	// A concurrent change lands on the server.
	require.NoError(t, ft.board.MoveColumn("Y", 0))

	require.NoError(t, s.Reconcile(context.Background()))
	b := s.Board()
	assert.Equal(t, []string{"Y", "X"}, columnIDs(b))
	assert.Equal(t, []string{"D", "A"}, cardIDs(b, "Y"))
	assert.Equal(t, []string{"B", "C"}, cardIDs(b, "X"))
}

func TestSessionRoundTripConverges(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	s, _ := testSession(t, ft)

	require.NoError(t, s.MoveCard("A", "Y", 5))
	require.NoError(t, s.MoveColumn("Y", 0))
	require.NoError(t, s.UpdateCard("B", board.CardPatch{AddAssignees: []string{"u1", "u2"}}))
	require.NoError(t, s.UpdateCard("B", board.CardPatch{RemoveAssignees: []string{"u1"}}))
	require.NoError(t, s.UpdateColumn("X", board.ColumnPatch{Title: strPtr("Backlog")}))
	require.NoError(t, s.ReorderColumns([]board.ColumnOrder{{ID: "X", Order: 0}, {ID: "Y", Order: 1}}))
	require.NoError(t, s.DeleteCard("C"))
	_, err := s.CreateCard(board.NewCard{ColumnID: "Y", Title: "e"})
	require.NoError(t, err)
	flush(t, s)

	before := s.Board()
	require.NoError(t, s.Reconcile(context.Background()))
	after := s.Board()

	server := ft.Snapshot()
	assert.Equal(t, columnIDs(server), columnIDs(after))
	for _, col := range server.Columns {
		assert.Equal(t, cardIDs(server, col.ID), cardIDs(before, col.ID), "column %s before refetch", col.ID)
		assert.Equal(t, cardIDs(server, col.ID), cardIDs(after, col.ID), "column %s after refetch", col.ID)
	}
	card, ok := after.Card("B")
	require.True(t, ok)
	assert.Equal(t, []string{"u2"}, card.Assignees)
	assert.True(t, after.IsDense())
}

func TestSessionStatusObserver(t *testing.T) {
	ft := newFakeTransport(fixtureBoard())
	var mu sync.Mutex
	var seen []QueueStatus
	s, _ := testSession(t, ft, func(cfg *SessionConfig) {
		cfg.OnStatus = func(st QueueStatus) {
			mu.Lock()
			seen = append(seen, st)
			mu.Unlock()
		}
	})

	require.NoError(t, s.MoveCard("A", "Y", 0))
	flush(t, s)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, QueueStatus{Pending: 1, Total: 1}, seen[0])
	assert.Equal(t, QueueStatus{}, seen[len(seen)-1])
}
