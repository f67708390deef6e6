package assignment

import (
	"context"
	"errors"
)

// CursorStore advances a named rotation counter atomically.
type CursorStore interface {
	AdvanceCursor(ctx context.Context, key string, n int) (int, error)
}

// Cursor is a durable round-robin position shared by every process using the
// same database.
type Cursor struct {
	store CursorStore
}

func NewCursor(st CursorStore) *Cursor {
	return &Cursor{store: st}
}

// Next returns the next index in [0, n). A key that was never advanced
// starts at 0.
func (c *Cursor) Next(ctx context.Context, key string, n int) (int, error) {
	if n <= 0 {
		return 0, errors.New("cursor size must be positive")
	}
	idx, err := c.store.AdvanceCursor(ctx, key, n)
	if err != nil {
		return 0, err
	}
	if idx < 0 || idx >= n {
		// The agent pool shrank since the last advance.
		idx = ((idx % n) + n) % n
	}
	return idx, nil
}
