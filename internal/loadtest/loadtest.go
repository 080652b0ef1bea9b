// Package loadtest hammers one board with concurrent card moves to check
// that ordering stays dense and no card is lost or duplicated while
// transactions conflict and retry.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/store"
)

// TestBoard is a populated board used for load testing.
type TestBoard struct {
	Store      *store.Store
	BoardID    string
	ColumnIDs  []string
	CardIDs    []string
	TotalCards int
}

// MoveStats captures the outcome of a load run.
type MoveStats struct {
	Min       time.Duration
	Max       time.Duration
	Mean      time.Duration
	P50       time.Duration
	P95       time.Duration
	P99       time.Duration
	Moves     int
	Conflicts int
	Errors    int
}

// CreateTestBoard opens a store at dbPath and creates one board with
// columns columns of cardsPerColumn cards each.
func CreateTestBoard(ctx context.Context, dbPath string, columns, cardsPerColumn int, cfg *store.Config) (*TestBoard, error) {
	if columns < 1 {
		return nil, fmt.Errorf("need at least one column, got %d", columns)
	}
	st, err := store.OpenWithConfig(dbPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := st.InitSchemaContext(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	b := &board.Board{ID: "loadtest", Title: "Load test"}
	tb := &TestBoard{Store: st, BoardID: b.ID}
	for i := 0; i < columns; i++ {
		col := board.Column{ID: fmt.Sprintf("col-%02d", i), Title: fmt.Sprintf("Column %d", i), Order: i}
		for j := 0; j < cardsPerColumn; j++ {
			card := board.Card{ID: fmt.Sprintf("card-%02d-%03d", i, j), Title: fmt.Sprintf("Card %d.%d", i, j), Order: j}
			col.Cards = append(col.Cards, card)
			tb.CardIDs = append(tb.CardIDs, card.ID)
		}
		b.Columns = append(b.Columns, col)
		tb.ColumnIDs = append(tb.ColumnIDs, col.ID)
	}
	if _, err := st.CreateBoard(ctx, b); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create board: %w", err)
	}
	tb.TotalCards = len(tb.CardIDs)
	return tb, nil
}

// Close closes the underlying store.
func (tb *TestBoard) Close() error {
	if tb.Store != nil {
		return tb.Store.Close()
	}
	return nil
}

// RunConcurrentMoves runs movers goroutines that each issue moves random
// card moves. Moves that exhaust their conflict retries are counted, not
// returned; any other failure is an error.
func (tb *TestBoard) RunConcurrentMoves(ctx context.Context, movers, moves int, seed uint64) (*MoveStats, error) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var durations []time.Duration
	var conflicts int
	var errs []error

	for m := 0; m < movers; m++ {
		wg.Add(1)
		go func(mover int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(seed, uint64(mover)))
			local := make([]time.Duration, 0, moves)
			localConflicts := 0

			for i := 0; i < moves; i++ {
				cardID := tb.CardIDs[rng.IntN(len(tb.CardIDs))]
				columnID := tb.ColumnIDs[rng.IntN(len(tb.ColumnIDs))]
				index := rng.IntN(tb.TotalCards + 1)

				start := time.Now()
				_, err := tb.Store.MoveCard(ctx, cardID, columnID, index)
				local = append(local, time.Since(start))
				if errors.Is(err, board.ErrConflict) {
					localConflicts++
					continue
				}
				if err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("mover %d move %d failed: %w", mover, i, err))
					mu.Unlock()
					return
				}
			}

			mu.Lock()
			durations = append(durations, local...)
			conflicts += localConflicts
			mu.Unlock()
		}(m)
	}
	wg.Wait()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(durations) == 0 {
		return nil, fmt.Errorf("no moves completed")
	}
	stats := computeStats(durations)
	stats.Conflicts = conflicts
	return stats, nil
}

// VerifyInvariants checks that every order sequence is dense and every
// card is present exactly once.
func (tb *TestBoard) VerifyInvariants(ctx context.Context) error {
	b, err := tb.Store.GetBoardContext(ctx, tb.BoardID)
	if err != nil {
		return fmt.Errorf("failed to load board: %w", err)
	}
	if !b.IsDense() {
		return fmt.Errorf("order values are not dense")
	}
	if n := b.CardCount(); n != tb.TotalCards {
		return fmt.Errorf("card count = %d, want %d", n, tb.TotalCards)
	}
	seen := make(map[string]bool, tb.TotalCards)
	for _, col := range b.Columns {
		for _, c := range col.Cards {
			if seen[c.ID] {
				return fmt.Errorf("card %s appears twice", c.ID)
			}
			seen[c.ID] = true
		}
	}
	return nil
}

func computeStats(durations []time.Duration) *MoveStats {
	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return &MoveStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Moves: len(sorted),
	}
}

// Print writes the statistics to w.
func (s *MoveStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Move latency:\n")
	fmt.Fprintf(w, "  Moves:         %d\n", s.Moves)
	fmt.Fprintf(w, "  Conflicts:     %d\n", s.Conflicts)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
