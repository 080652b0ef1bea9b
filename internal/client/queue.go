package client

import (
	"slices"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
)

// QueueStatus is the observer snapshot of a queue.
type QueueStatus struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// Queue is the keyed collection of mutation intents of one board session.
//
// Entries are keyed by identity (type + target id). A key has at most one
// queued entry (pending or failed) and at most one entry in flight; a queued
// entry whose key is in flight is not handed out until the flight ends.
type Queue struct {
	mu       sync.Mutex
	ops      map[string]*Operation
	inflight map[string]*Operation

	// temps holds temporary ids whose create is not confirmed yet. Entries
	// referencing one are held back.
	temps mapset.Set[string]
	// aliases maps confirmed temporary ids to their server ids.
	aliases map[string]string

	// completed holds the latest completions, oldest first, so that a
	// reconciliation can replay what landed while its fetch was running.
	completed []completion
	gen       uint64

	maxRetries int
	retryBase  time.Duration
	now        func() time.Time
}

// completionLog bounds how many completions are kept for replay.
const completionLog = 128

type completion struct {
	gen uint64
	op  Operation
}

// NewQueue creates an empty queue. An operation is retried until it has
// failed maxRetries times; the n-th retry waits retryBase * 2^(n-1).
func NewQueue(maxRetries int, retryBase time.Duration) *Queue {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryBase <= 0 {
		retryBase = time.Second
	}
	return &Queue{
		ops:        make(map[string]*Operation),
		inflight:   make(map[string]*Operation),
		temps:      mapset.NewThreadUnsafeSet[string](),
		aliases:    make(map[string]string),
		maxRetries: maxRetries,
		retryBase:  retryBase,
		now:        time.Now,
	}
}

// Add merges p into the queued entry with the same identity or inserts a
// fresh pending entry. A failed entry waiting for its retry is folded into
// the new one and starts over. The live entry is returned as a copy.
func (q *Queue) Add(p Payload) Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	p = q.resolve(p)
	now := q.now()
	key := Key(p)
	if op, ok := q.ops[key]; ok {
		op.Payload = mergePayload(op.Payload, p)
		op.Timestamp = now
		if op.Status == StatusFailed {
			op.Status = StatusPending
			op.RetryCount = 0
			op.LastError = nil
		}
		return *op
	}
	op := &Operation{
		ID:        key,
		OpID:      uuid.NewString(),
		Type:      p.Type(),
		Payload:   p,
		Timestamp: now,
		CreatedAt: now,
		Status:    StatusPending,
	}
	q.ops[key] = op
	return *op
}

// Pending returns copies of the dispatchable entries ordered by type
// priority and then by timestamp.
func (q *Queue) Pending() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Operation
	for key, op := range q.ops {
		if op.Status != StatusPending {
			continue
		}
		if _, busy := q.inflight[key]; busy {
			continue
		}
		if q.blocked(op.Payload) {
			continue
		}
		out = append(out, *op)
	}
	sortOperations(out)
	return out
}

// Retryable returns copies of the failed entries whose backoff has elapsed.
func (q *Queue) Retryable() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Operation
	now := q.now()
	for _, op := range q.ops {
		if q.retryDue(op, now) {
			out = append(out, *op)
		}
	}
	sortOperations(out)
	return out
}

// PromoteRetryable resets every retryable entry to pending and returns how
// many were promoted.
func (q *Queue) PromoteRetryable() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	now := q.now()
	for _, op := range q.ops {
		if q.retryDue(op, now) {
			op.Status = StatusPending
			n++
		}
	}
	return n
}

// NextRetryAt returns the earliest time a failed entry becomes retryable.
func (q *Queue) NextRetryAt() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var next time.Time
	for _, op := range q.ops {
		if op.Status != StatusFailed || op.RetryCount >= q.maxRetries {
			continue
		}
		at := op.LastAttempt.Add(q.backoff(op.RetryCount))
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	return next, !next.IsZero()
}

// MarkProcessing moves the queued entry for key in flight and returns it.
// It returns nil when the entry is gone or was not dispatchable.
func (q *Queue) MarkProcessing(key string) *Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[key]
	if !ok || op.Status != StatusPending {
		return nil
	}
	if _, busy := q.inflight[key]; busy {
		return nil
	}
	delete(q.ops, key)
	op.Status = StatusProcessing
	op.LastAttempt = q.now()
	q.inflight[key] = op
	return op
}

// MarkCompleted removes a finished operation.
func (q *Queue) MarkCompleted(op *Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.land(op)
	op.Status = StatusCompleted
	op.LastError = nil

	q.gen++
	done := *op
	done.Payload = q.confirmed(q.resolve(op.Payload))
	q.completed = append(q.completed, completion{gen: q.gen, op: done})
	if over := len(q.completed) - completionLog; over > 0 {
		q.completed = slices.Delete(q.completed, 0, over)
	}
}

// Generation counts completions. Reconciliation reads it before fetching.
func (q *Queue) Generation() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen
}

// Replay returns, in timestamp order, every operation completed after
// generation since together with everything in flight or queued. Both sets
// are read under one lock so no operation can slip between them.
func (q *Queue) Replay(since uint64) []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Operation, 0, len(q.ops)+len(q.inflight))
	for _, c := range q.completed {
		if c.gen > since {
			out = append(out, c.op)
		}
	}
	out = q.outstanding(out)
	slices.SortStableFunc(out, func(a, b Operation) int { return a.Timestamp.Compare(b.Timestamp) })
	return out
}

// MarkFailed records a failed attempt. It reports whether the operation
// will be retried; false means the retry ceiling was reached and the
// operation has been removed.
//
// When a newer entry for the same key was queued while op was in flight,
// op is folded underneath it and the newer entry carries on.
func (q *Queue) MarkFailed(op *Operation, err error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.land(op)
	op.RetryCount++
	op.LastAttempt = q.now()
	op.LastError = err
	op.Status = StatusFailed
	if op.RetryCount >= q.maxRetries {
		return false
	}

	op.Payload = q.resolve(op.Payload)
	key := Key(op.Payload)
	op.ID = key
	if newer, ok := q.ops[key]; ok {
		newer.Payload = mergePayload(op.Payload, newer.Payload)
		return true
	}
	q.ops[key] = op
	return true
}

// Drop removes an in-flight operation that failed terminally.
func (q *Queue) Drop(op *Operation, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.land(op)
	op.Status = StatusFailed
	op.LastError = err
}

// Cancel removes the queued entry for key. In-flight operations are not
// affected.
func (q *Queue) Cancel(key string) (Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[key]
	if !ok {
		return Operation{}, false
	}
	delete(q.ops, key)
	return *op, true
}

// RegisterTemp marks id as a temporary id awaiting confirmation.
func (q *Queue) RegisterTemp(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.temps.Add(id)
}

// IsTemp reports whether id is an unconfirmed temporary id.
func (q *Queue) IsTemp(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.temps.Contains(id)
}

// Resolve returns the server id of a confirmed temporary id, or id itself.
func (q *Queue) Resolve(id string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if serverID, ok := q.aliases[id]; ok {
		return serverID
	}
	return id
}

// RemapID records that temp was confirmed as serverID and rewrites every queued
// payload that references it.
func (q *Queue) RemapID(temp, serverID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.temps.Remove(temp)
	q.aliases[temp] = serverID
	for key, op := range q.ops {
		if !slices.Contains(op.Payload.refs(), temp) && op.Payload.TargetID() != temp {
			continue
		}
		p := op.Payload.remap(temp, serverID)
		next := Key(p)
		delete(q.ops, key)
		if existing, ok := q.ops[next]; ok {
			existing.Payload = mergePayload(p, existing.Payload)
			continue
		}
		op.ID = next
		op.Payload = p
		q.ops[next] = op
	}
}

// DiscardTemp forgets an unconfirmed temporary id and cancels every queued
// entry that depends on it. The cancelled entries are returned.
func (q *Queue) DiscardTemp(temp string) []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.temps.Remove(temp)
	var out []Operation
	for key, op := range q.ops {
		if op.Payload.TargetID() == temp || slices.Contains(op.Payload.refs(), temp) {
			delete(q.ops, key)
			out = append(out, *op)
		}
	}
	sortOperations(out)
	return out
}

// Queued reports whether an entry for key is waiting for dispatch.
func (q *Queue) Queued(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.ops[key]
	return ok
}

// Outstanding returns copies of every queued and in-flight operation in the
// order their effects were last requested.
func (q *Queue) Outstanding() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.outstanding(make([]Operation, 0, len(q.ops)+len(q.inflight)))
	slices.SortStableFunc(out, func(a, b Operation) int { return a.Timestamp.Compare(b.Timestamp) })
	return out
}

// outstanding appends copies of in-flight and queued entries to out. Must
// be called with q.mu held.
func (q *Queue) outstanding(out []Operation) []Operation {
	for _, op := range q.inflight {
		out = append(out, *op)
	}
	for _, op := range q.ops {
		out = append(out, *op)
	}
	return out
}

// Len returns the number of queued and in-flight entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops) + len(q.inflight)
}

// Status returns the observer snapshot.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s QueueStatus
	for _, op := range q.ops {
		switch op.Status {
		case StatusPending:
			s.Pending++
		case StatusFailed:
			s.Failed++
		}
	}
	s.Processing = len(q.inflight)
	s.Total = s.Pending + s.Failed + s.Processing
	return s
}

// land takes op out of flight. Must be called with q.mu held.
func (q *Queue) land(op *Operation) {
	if cur, ok := q.inflight[op.ID]; ok && cur == op {
		delete(q.inflight, op.ID)
	}
}

// resolve rewrites confirmed temporary ids. Must be called with q.mu held.
func (q *Queue) resolve(p Payload) Payload {
	for _, id := range append(p.refs(), p.TargetID()) {
		if serverID, ok := q.aliases[id]; ok {
			p = p.remap(id, serverID)
		}
	}
	return p
}

// confirmed points a confirmed create at its server id so that replaying it
// on a fresh board is a no-op when the record is already there. Must be
// called with q.mu held.
func (q *Queue) confirmed(p Payload) Payload {
	switch c := p.(type) {
	case CreateCard:
		if id, ok := q.aliases[c.TempID]; ok {
			c.TempID = id
		}
		return c
	case CreateColumn:
		if id, ok := q.aliases[c.TempID]; ok {
			c.TempID = id
		}
		return c
	}
	return p
}

// blocked reports whether p references an unconfirmed temporary id other
// than its own target. Must be called with q.mu held.
func (q *Queue) blocked(p Payload) bool {
	for _, id := range p.refs() {
		if q.temps.Contains(id) {
			return true
		}
	}
	return false
}

func (q *Queue) retryDue(op *Operation, now time.Time) bool {
	if op.Status != StatusFailed || op.RetryCount >= q.maxRetries {
		return false
	}
	return now.Sub(op.LastAttempt) >= q.backoff(op.RetryCount)
}

// backoff returns the wait before retry number n (1-based).
func (q *Queue) backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return q.retryBase << (n - 1)
}

func sortOperations(ops []Operation) {
	slices.SortStableFunc(ops, func(a, b Operation) int {
		if d := a.Type.priority() - b.Type.priority(); d != 0 {
			return d
		}
		return a.Timestamp.Compare(b.Timestamp)
	})
}
