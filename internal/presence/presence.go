// Package presence implements the minimal counting logic backing the
// user_count_update interface contract (spec.md §6). Presence as a
// feature (who's online, names, avatars) is explicitly out of scope per
// spec.md §1 — only the connection-count contract is implemented here.
package presence

import (
	"log/slog"
	"sync"
)

// Counter tracks the connection count per room and satisfies
// room.PresenceNotifier.
type Counter struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int)}
}

// CountChanged records the latest count for roomID, for operators
// inspecting live room occupancy; the room itself already broadcasts
// user_count_update to connections, so this is observational only.
func (c *Counter) CountChanged(roomID string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[roomID] = count
	slog.Debug("presence: count changed", "room", roomID, "count", count)
}

// Snapshot returns the last-known count for roomID.
func (c *Counter) Snapshot(roomID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[roomID]
}
