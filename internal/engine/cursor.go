package engine

import "sync"

// Cursor holds last_processed_id: the broker entry id past which the
// engine has durably advanced (spec.md §4.4 processing-loop invariant,
// GLOSSARY "Offset / last processed id"). It is written by the command
// processor after each entry and read by the snapshot manager.
type Cursor struct {
	mu sync.RWMutex
	id string
}

func (c *Cursor) Get() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *Cursor) Set(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}
