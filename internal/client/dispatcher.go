package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DebounceConfig holds the debounce window per operation class.
type DebounceConfig struct {
	Create  time.Duration
	Delete  time.Duration
	Move    time.Duration
	Update  time.Duration
	Reorder time.Duration
}

// DefaultDebounce returns the default windows.
func DefaultDebounce() DebounceConfig {
	return DebounceConfig{
		Create:  50 * time.Millisecond,
		Delete:  50 * time.Millisecond,
		Move:    150 * time.Millisecond,
		Update:  300 * time.Millisecond,
		Reorder: 750 * time.Millisecond,
	}
}

// For returns the window for an operation type.
func (d DebounceConfig) For(t OpType) time.Duration {
	switch t {
	case OpCreateCard, OpCreateColumn:
		return d.Create
	case OpDeleteCard, OpDeleteColumn:
		return d.Delete
	case OpMoveCard, OpMoveColumn:
		return d.Move
	case OpReorderColumns:
		return d.Reorder
	default:
		return d.Update
	}
}

// executeFunc performs one operation that the dispatcher has already marked
// processing. It owns every further state transition of op.
type executeFunc func(ctx context.Context, op *Operation)

// Dispatcher drains a queue in bounded-concurrency batches. It is armed by
// a debounce timer and runs one cycle at a time.
type Dispatcher struct {
	queue     *Queue
	execute   executeFunc
	batchSize int
	pause     time.Duration
	ctx       context.Context
	log       *log.Entry

	timerMu sync.Mutex
	timer   *time.Timer
	closed  bool

	cycleMu sync.Mutex
	rerun   atomic.Bool
}

func newDispatcher(ctx context.Context, q *Queue, exec executeFunc, batchSize int, pause time.Duration, logger *log.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 2
	}
	return &Dispatcher{
		queue:     q,
		execute:   exec,
		batchSize: batchSize,
		pause:     pause,
		ctx:       ctx,
		log:       logger.WithField("component", "dispatcher"),
	}
}

// Schedule (re)arms the debounce timer to fire after delay.
func (d *Dispatcher) Schedule(delay time.Duration) {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()

	if d.closed {
		return
	}
	if d.timer == nil {
		d.timer = time.AfterFunc(delay, d.fire)
		return
	}
	d.timer.Stop()
	d.timer.Reset(delay)
}

func (d *Dispatcher) fire() {
	if !d.cycleMu.TryLock() {
		// A cycle is running; it will look again before it returns.
		d.rerun.Store(true)
		return
	}
	d.runLocked()
	d.cycleMu.Unlock()
	d.reschedule()
}

// runLocked runs cycles until no rerun was requested. d.cycleMu must be held.
func (d *Dispatcher) runLocked() {
	for {
		d.rerun.Store(false)
		d.cycle()
		if !d.rerun.Load() {
			return
		}
	}
}

// cycle promotes retryable failures and drains every dispatchable entry.
func (d *Dispatcher) cycle() {
	if n := d.queue.PromoteRetryable(); n > 0 {
		d.log.WithField("count", n).Debug("retrying failed operations")
	}

	first := true
	for {
		pending := d.queue.Pending()
		if len(pending) == 0 {
			return
		}
		for start := 0; start < len(pending); start += d.batchSize {
			if !first && d.pause > 0 {
				time.Sleep(d.pause)
			}
			first = false
			end := min(start+d.batchSize, len(pending))
			d.runBatch(pending[start:end])
		}
	}
}

func (d *Dispatcher) runBatch(batch []Operation) {
	var g errgroup.Group
	g.SetLimit(d.batchSize)
	for _, candidate := range batch {
		// The live entry may have been merged or cancelled since Pending.
		op := d.queue.MarkProcessing(candidate.ID)
		if op == nil {
			continue
		}
		g.Go(func() error {
			d.execute(d.ctx, op)
			return nil
		})
	}
	_ = g.Wait()
}

// reschedule arms the timer again when work remains.
func (d *Dispatcher) reschedule() {
	if len(d.queue.Pending()) > 0 {
		d.Schedule(0)
		return
	}
	if at, ok := d.queue.NextRetryAt(); ok {
		d.Schedule(max(time.Until(at), 0))
	}
}

// Flush runs cycles until the queue is empty, waiting out retry backoff in
// between. It returns early when ctx is done.
func (d *Dispatcher) Flush(ctx context.Context) error {
	for {
		d.cycleMu.Lock()
		d.runLocked()
		d.cycleMu.Unlock()

		if d.queue.Len() == 0 {
			return nil
		}
		if len(d.queue.Pending()) > 0 {
			continue
		}
		at, ok := d.queue.NextRetryAt()
		if !ok {
			// Only entries held back by temporary ids whose create is gone.
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(max(time.Until(at), 0)):
		}
	}
}

// Close stops the timer and waits for a running cycle to finish. In-flight
// calls are not aborted.
func (d *Dispatcher) Close() {
	d.timerMu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timerMu.Unlock()

	d.cycleMu.Lock()
	d.cycleMu.Unlock()
}
