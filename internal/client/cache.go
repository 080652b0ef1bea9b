package client

import (
	"sync"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

// Cache is the in-memory snapshot of one board. Every mutation goes through
// Apply, which runs the updater against the latest snapshot.
type Cache struct {
	mu       sync.Mutex
	board    *board.Board
	onChange func(*board.Board)
}

// NewCache creates a cache holding a copy of b.
func NewCache(b *board.Board, onChange func(*board.Board)) *Cache {
	return &Cache{board: b.Clone(), onChange: onChange}
}

// Apply runs fn on a copy of the current snapshot and installs the copy if
// fn succeeds. On error the snapshot is left untouched.
func (c *Cache) Apply(fn func(*board.Board) error) error {
	c.mu.Lock()
	next := c.board.Clone()
	if err := fn(next); err != nil {
		c.mu.Unlock()
		return err
	}
	c.board = next
	c.mu.Unlock()

	c.changed(next)
	return nil
}

// Replace installs b wholesale.
func (c *Cache) Replace(b *board.Board) {
	next := b.Clone()
	c.mu.Lock()
	c.board = next
	c.mu.Unlock()

	c.changed(next)
}

// Snapshot returns a copy of the current board.
func (c *Cache) Snapshot() *board.Board {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.Clone()
}

func (c *Cache) changed(b *board.Board) {
	if c.onChange != nil {
		c.onChange(b.Clone())
	}
}
