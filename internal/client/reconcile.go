package client

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

// reconcileFetches bounds how often Reconcile refetches because operations
// completed while a fetch was running.
const reconcileFetches = 3

// Reconcile replaces the cache with the authoritative board. The effects of
// operations still queued or in flight are applied again on top so that
// unrelated optimism survives the refetch, and so are operations that
// completed after the fetch started, since the fetched board may predate
// their commit.
func (s *Session) Reconcile(ctx context.Context) error {
	var (
		fresh *board.Board
		since uint64
	)
	for attempt := 1; ; attempt++ {
		since = s.queue.Generation()
		b, err := s.transport.FetchBoard(ctx, s.boardID)
		if err != nil {
			return fmt.Errorf("failed to refetch board %s: %w", s.boardID, err)
		}
		fresh = b
		if s.queue.Generation() == since || attempt == reconcileFetches {
			break
		}
		s.log.WithField("attempt", attempt).Debug("operations completed during refetch, fetching again")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replay := s.queue.Replay(since)
	err := s.cache.Apply(func(b *board.Board) error {
		*b = *fresh.Clone()
		for _, op := range replay {
			if err := op.Payload.Apply(b); err != nil {
				s.log.WithFields(log.Fields{"op": op.ID}).WithError(err).Debug("queued effect no longer applies")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.WithFields(log.Fields{
		"columns": len(fresh.Columns),
		"cards":   fresh.CardCount(),
		"replay":  len(replay),
	}).Info("board reconciled")
	return nil
}
