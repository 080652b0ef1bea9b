package client

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

// execute sends one in-flight operation and settles its outcome.
func (s *Session) execute(ctx context.Context, op *Operation) {
	logger := s.log.WithFields(log.Fields{"op": op.ID, "attempt": op.RetryCount + 1})

	err := s.send(ctx, op)
	if err == nil {
		s.queue.MarkCompleted(op)
		logger.Debug("operation completed")
		s.publishStatus()
		return
	}

	kind := board.Classify(err)
	logger = logger.WithField("kind", kind).WithError(err)
	if board.IsTerminal(err) {
		s.queue.Drop(op, err)
		logger.Warn("operation rejected")
		s.terminal(ctx, op, err, kind)
		s.publishStatus()
		return
	}
	if s.queue.MarkFailed(op, err) {
		logger.Info("operation failed, will retry")
		s.publishStatus()
		return
	}
	logger.Warn("operation exhausted retries")
	s.terminal(ctx, op, err, kind)
	s.publishStatus()
}

// send performs the network call of op. Confirmed creates are spliced into
// the cache and the queue before send returns.
func (s *Session) send(ctx context.Context, op *Operation) error {
	t := s.transport
	switch p := op.Payload.(type) {
	case MoveCard:
		return t.MoveCard(ctx, p.CardID, p.ColumnID, p.Index)
	case MoveColumn:
		return t.MoveColumn(ctx, p.ColumnID, p.Index)
	case ReorderColumns:
		return t.ReorderColumns(ctx, p.BoardID, p.Orders)
	case UpdateCard:
		rec, err := t.UpdateCard(ctx, p.CardID, p.Patch)
		if err != nil {
			return err
		}
		s.confirm(op.ID, func(b *board.Board) error {
			b.ReplaceCard(rec.ID, *rec)
			return nil
		})
		return nil
	case UpdateColumn:
		rec, err := t.UpdateColumn(ctx, p.ColumnID, p.Patch)
		if err != nil {
			return err
		}
		s.confirm(op.ID, func(b *board.Board) error {
			b.ReplaceColumn(rec.ID, *rec)
			return nil
		})
		return nil
	case UpdateBoard:
		rec, err := t.UpdateBoard(ctx, p.BoardID, p.Patch)
		if err != nil {
			return err
		}
		s.confirm(op.ID, func(b *board.Board) error {
			b.Title = rec.Title
			b.UpdatedAt = rec.UpdatedAt
			return nil
		})
		return nil
	case CreateCard:
		rec, err := t.CreateCard(ctx, op.OpID, p.Card)
		if err != nil {
			return err
		}
		s.spliceCard(p.TempID, *rec)
		return nil
	case CreateColumn:
		rec, err := t.CreateColumn(ctx, op.OpID, p.Column)
		if err != nil {
			return err
		}
		s.spliceColumn(p.TempID, *rec)
		return nil
	case DeleteCard:
		return t.DeleteCard(ctx, p.CardID)
	case DeleteColumn:
		return t.DeleteColumn(ctx, p.ColumnID)
	default:
		return board.NewValidationError(fmt.Sprintf("unsupported operation %T", op.Payload))
	}
}

// confirm installs a server record unless a newer edit of the same target
// is already queued, in which case the optimistic value stays.
func (s *Session) confirm(key string, fn func(*board.Board) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.Queued(key) {
		return
	}
	_ = s.cache.Apply(fn)
}

// spliceCard replaces a temporary card with its authoritative record and
// points queued operations at the new id.
func (s *Session) spliceCard(tempID string, rec board.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.cache.Apply(func(b *board.Board) error {
		if _, ok := b.Card(rec.ID); ok {
			// A refetch already brought the real card in.
			if _, ok := b.Card(tempID); ok {
				_, _, _ = b.RemoveCard(tempID)
			}
			return nil
		}
		b.ReplaceCard(tempID, rec)
		return nil
	})
	s.queue.RemapID(tempID, rec.ID)
	s.log.WithFields(log.Fields{"temp": tempID, "id": rec.ID}).Debug("card confirmed")
}

// spliceColumn replaces a temporary column with its authoritative record.
// Cards created in it are kept.
func (s *Session) spliceColumn(tempID string, rec board.Column) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.cache.Apply(func(b *board.Board) error {
		if _, ok := b.Column(rec.ID); ok {
			temp, _, err := b.RemoveColumn(tempID)
			if err != nil {
				return nil
			}
			dst, _ := b.Column(rec.ID)
			for _, c := range temp.Cards {
				c.ColumnID = dst.ID
				_ = b.InsertCard(c, len(dst.Cards))
			}
			return nil
		}
		b.ReplaceColumn(tempID, rec)
		return nil
	})
	s.queue.RemapID(tempID, rec.ID)
	s.log.WithFields(log.Fields{"temp": tempID, "id": rec.ID}).Debug("column confirmed")
}

// terminal recovers from an operation that will not be retried. Deletes
// are rolled back; every other failure resyncs the board. A rejected create
// also drops the operations queued against its temporary id.
func (s *Session) terminal(ctx context.Context, op *Operation, err error, kind board.Kind) {
	action := ActionReconciled
	switch p := op.Payload.(type) {
	case DeleteCard:
		if kind != board.KindNotFound && s.rollback(func(b *board.Board) error { return b.InsertCard(p.Removed, p.Index) }) {
			action = ActionRolledBack
		}
	case DeleteColumn:
		if kind != board.KindNotFound && s.rollback(func(b *board.Board) error {
			b.InsertColumn(p.Removed, p.Index)
			return nil
		}) {
			action = ActionRolledBack
		}
	case CreateCard:
		s.discardTemp(p.TempID)
		action = ActionDiscarded
	case CreateColumn:
		s.discardTemp(p.TempID)
		action = ActionDiscarded
	}

	if action != ActionRolledBack {
		if rerr := s.Reconcile(ctx); rerr != nil {
			s.log.WithError(rerr).Warn("reconciliation failed")
		}
	}
	s.notifier.Notify(Failure{Op: *op, Err: err, Kind: kind, Action: action})
}

// rollback reinserts a deleted entity. It reports false when the entity
// can no longer be put back where it was.
func (s *Session) rollback(fn func(*board.Board) error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cache.Apply(fn); err != nil {
		if !errors.Is(err, board.ErrNotFound) {
			s.log.WithError(err).Warn("rollback failed")
		}
		return false
	}
	return true
}

func (s *Session) discardTemp(id string) {
	for _, dep := range s.queue.DiscardTemp(id) {
		s.log.WithField("op", dep.ID).Debug("dropped operation on rejected entity")
	}
}
