// Package client implements the optimistic side of board editing.
//
// A Session owns one board's cache, operation queue and dispatcher. Every
// interaction is applied to the cache immediately and queued; the
// dispatcher later sends the queued intents to the persistence service and
// the session rolls back or reconciles when an intent fails for good.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

// TempIDPrefix starts every locally assigned id.
const TempIDPrefix = "tmp-"

// SessionConfig holds session configuration.
type SessionConfig struct {
	BoardID   string
	Transport Transport

	// Notifier receives terminal failures (default: LogNotifier)
	Notifier Notifier

	Debounce DebounceConfig

	// BatchSize is the number of operations sent concurrently (default: 2)
	BatchSize int

	// BatchPause is the pause between batches of one cycle (default: 25ms)
	BatchPause time.Duration

	// MaxRetries is the number of failed attempts after which an operation
	// is terminal (default: 3)
	MaxRetries int

	// RetryBase is the wait before the first retry; it doubles per retry
	// (default: 1s)
	RetryBase time.Duration

	Logger *log.Logger

	// OnStatus observes queue status after every transition.
	OnStatus func(QueueStatus)

	// OnChange observes every new cache snapshot.
	OnChange func(*board.Board)
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		Debounce:   DefaultDebounce(),
		BatchSize:  2,
		BatchPause: 25 * time.Millisecond,
		MaxRetries: 3,
		RetryBase:  time.Second,
	}
}

// Session is the per-board controller of optimistic edits.
type Session struct {
	boardID   string
	transport Transport
	notifier  Notifier
	debounce  DebounceConfig
	onStatus  func(QueueStatus)

	cache      *Cache
	queue      *Queue
	dispatcher *Dispatcher
	log        *log.Entry

	// mu serializes optimistic applies with reconciliation so an effect is
	// always either on the snapshot or in the queue when a refetch lands.
	mu sync.Mutex
}

// NewSession fetches the board and starts a session on it.
func NewSession(ctx context.Context, cfg *SessionConfig) (*Session, error) {
	if cfg == nil {
		cfg = DefaultSessionConfig()
	}
	if cfg.Transport == nil {
		return nil, errors.New("session requires a transport")
	}
	if cfg.BoardID == "" {
		return nil, errors.New("session requires a board id")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}

	b, err := cfg.Transport.FetchBoard(ctx, cfg.BoardID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch board %s: %w", cfg.BoardID, err)
	}

	s := &Session{
		boardID:   cfg.BoardID,
		transport: cfg.Transport,
		notifier:  notifier,
		debounce:  cfg.Debounce,
		onStatus:  cfg.OnStatus,
		cache:     NewCache(b, cfg.OnChange),
		queue:     NewQueue(cfg.MaxRetries, cfg.RetryBase),
		log:       logger.WithField("board", cfg.BoardID),
	}
	s.dispatcher = newDispatcher(context.WithoutCancel(ctx), s.queue, s.execute, cfg.BatchSize, cfg.BatchPause, logger)
	return s, nil
}

// Board returns a copy of the current optimistic snapshot.
func (s *Session) Board() *board.Board {
	return s.cache.Snapshot()
}

// Status returns the queue status snapshot.
func (s *Session) Status() QueueStatus {
	return s.queue.Status()
}

// Flush sends everything queued and waits until the queue is empty.
func (s *Session) Flush(ctx context.Context) error {
	return s.dispatcher.Flush(ctx)
}

// Close stops dispatching. Queued operations are not sent.
func (s *Session) Close() {
	s.dispatcher.Close()
}

// MoveCard moves a card to index inside columnID. The index is clamped to
// the column, so a negative index places the card first.
func (s *Session) MoveCard(cardID, columnID string, index int) error {
	return s.submit(MoveCard{CardID: s.queue.Resolve(cardID), ColumnID: s.queue.Resolve(columnID), Index: max(index, 0)})
}

// MoveColumn moves a column to index, clamped like MoveCard.
func (s *Session) MoveColumn(columnID string, index int) error {
	return s.submit(MoveColumn{ColumnID: s.queue.Resolve(columnID), Index: max(index, 0)})
}

// ReorderColumns applies a batched column order.
func (s *Session) ReorderColumns(orders []board.ColumnOrder) error {
	if len(orders) == 0 {
		return board.NewValidationError("invalid reorder", board.Issue{Field: "columnOrders", Message: "columnOrders must not be empty"})
	}
	resolved := make([]board.ColumnOrder, len(orders))
	for i, o := range orders {
		resolved[i] = board.ColumnOrder{ID: s.queue.Resolve(o.ID), Order: o.Order}
	}
	return s.submit(ReorderColumns{BoardID: s.boardID, Orders: resolved})
}

// UpdateCard changes card fields.
func (s *Session) UpdateCard(cardID string, patch board.CardPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return s.submit(UpdateCard{CardID: s.queue.Resolve(cardID), Patch: patch})
}

// UpdateColumn changes column fields.
func (s *Session) UpdateColumn(columnID string, patch board.ColumnPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return s.submit(UpdateColumn{ColumnID: s.queue.Resolve(columnID), Patch: patch})
}

// UpdateBoard changes board fields.
func (s *Session) UpdateBoard(patch board.BoardPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return s.submit(UpdateBoard{BoardID: s.boardID, Patch: patch})
}

// CreateCard adds a card and returns its temporary id. The id stays usable
// after the server assigns the real one.
func (s *Session) CreateCard(in board.NewCard) (string, error) {
	in.ColumnID = s.queue.Resolve(in.ColumnID)
	if err := in.Validate(); err != nil {
		return "", err
	}
	id := TempIDPrefix + uuid.NewString()
	s.queue.RegisterTemp(id)
	if err := s.submit(CreateCard{TempID: id, Card: in}); err != nil {
		s.queue.DiscardTemp(id)
		return "", err
	}
	return id, nil
}

// CreateColumn adds a column to the board and returns its temporary id.
func (s *Session) CreateColumn(in board.NewColumn) (string, error) {
	in.BoardID = s.boardID
	if err := in.Validate(); err != nil {
		return "", err
	}
	id := TempIDPrefix + uuid.NewString()
	s.queue.RegisterTemp(id)
	if err := s.submit(CreateColumn{TempID: id, Column: in}); err != nil {
		s.queue.DiscardTemp(id)
		return "", err
	}
	return id, nil
}

// DeleteCard removes a card. A card whose create has not been sent yet is
// dropped locally without any network call.
func (s *Session) DeleteCard(cardID string) error {
	cardID = s.queue.Resolve(cardID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelUnsent(OpCreateCard, cardID) {
		return s.cache.Apply(func(b *board.Board) error {
			_, _, err := b.RemoveCard(cardID)
			return err
		})
	}

	var p DeleteCard
	err := s.cache.Apply(func(b *board.Board) error {
		card, index, err := b.RemoveCard(cardID)
		if err != nil {
			return err
		}
		p = DeleteCard{CardID: cardID, Removed: card, Index: index}
		return nil
	})
	if err != nil {
		return err
	}
	s.queue.Cancel(OpKey(OpMoveCard, cardID))
	s.queue.Cancel(OpKey(OpUpdateCard, cardID))
	s.enqueue(p)
	return nil
}

// DeleteColumn removes a column and its cards.
func (s *Session) DeleteColumn(columnID string) error {
	columnID = s.queue.Resolve(columnID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelUnsent(OpCreateColumn, columnID) {
		return s.cache.Apply(func(b *board.Board) error {
			_, _, err := b.RemoveColumn(columnID)
			return err
		})
	}

	var p DeleteColumn
	err := s.cache.Apply(func(b *board.Board) error {
		col, index, err := b.RemoveColumn(columnID)
		if err != nil {
			return err
		}
		p = DeleteColumn{ColumnID: columnID, Removed: col, Index: index}
		return nil
	})
	if err != nil {
		return err
	}
	s.queue.Cancel(OpKey(OpMoveColumn, columnID))
	s.queue.Cancel(OpKey(OpUpdateColumn, columnID))
	s.enqueue(p)
	return nil
}

// CancelInteraction drops the not yet dispatched operation for a target,
// for example after an aborted drag, and resyncs the board from the server.
func (s *Session) CancelInteraction(ctx context.Context, t OpType, targetID string) error {
	if op, ok := s.queue.Cancel(OpKey(t, s.queue.Resolve(targetID))); ok {
		s.log.WithField("op", op.ID).Debug("cancelled operation")
	}
	s.publishStatus()
	return s.Reconcile(ctx)
}

// cancelUnsent cancels the queued create of an unconfirmed temporary id
// together with everything that depends on it. Must be called with s.mu held.
func (s *Session) cancelUnsent(t OpType, id string) bool {
	if !s.queue.IsTemp(id) {
		return false
	}
	if _, ok := s.queue.Cancel(OpKey(t, id)); !ok {
		// The create is in flight; the delete waits for its id.
		return false
	}
	for _, op := range s.queue.DiscardTemp(id) {
		s.log.WithField("op", op.ID).Debug("dropped operation on discarded entity")
	}
	s.publishStatus()
	return true
}

// submit applies p optimistically and queues it. Nothing is queued when the
// local apply fails.
func (s *Session) submit(p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cache.Apply(p.Apply); err != nil {
		return err
	}
	s.enqueue(p)
	return nil
}

// enqueue adds p and re-arms the dispatcher. Must be called with s.mu held.
func (s *Session) enqueue(p Payload) {
	op := s.queue.Add(p)
	s.log.WithFields(log.Fields{"op": op.ID, "type": op.Type}).Debug("queued operation")
	s.dispatcher.Schedule(s.debounce.For(p.Type()))
	s.publishStatus()
}

func (s *Session) publishStatus() {
	if s.onStatus != nil {
		s.onStatus(s.queue.Status())
	}
}
