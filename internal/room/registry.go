package room

import (
	"context"
	"log/slog"
	"sync"

	"noteot/internal/protocol"
	"noteot/internal/store"
)

// Subscriber is implemented by a Broadcaster that can also relay frames
// published by other processes back to a room's local connections.
// internal/broadcast's Redis Relay satisfies this; when a registry has
// no Subscriber (single-process deployment, or Redis unavailable) rooms
// simply skip subscribing and work purely in-memory.
type Subscriber interface {
	Subscribe(ctx context.Context, roomID string, handle func(protocol.Frame))
}

// Registry owns the set of live rooms, keyed by note id. Rooms are
// created on first reference and destroyed when their last connection
// closes, per spec.md §3.
type Registry struct {
	mu         sync.Mutex
	rooms      map[string]*Room
	opts       []Option
	subscriber Subscriber
}

// NewRegistry builds a registry. subscriber may be nil, in which case
// rooms never subscribe to cross-instance relayed frames.
func NewRegistry(subscriber Subscriber, opts ...Option) *Registry {
	return &Registry{rooms: make(map[string]*Room), opts: opts, subscriber: subscriber}
}

// GetOrCreate returns the room for id, creating it (with an initial
// empty commit) if this is the first reference. A freshly created room
// also gets a background subscription relaying other processes' updates
// for id back to this room's local connections, if the registry has a
// Subscriber.
func (reg *Registry) GetOrCreate(id string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[id]; ok {
		return r
	}
	r := New(id, reg.opts...)
	reg.rooms[id] = r
	if reg.subscriber != nil {
		go reg.relayInto(id, r)
	}
	slog.Info("registry: room created", "room", id)
	return r
}

// Join finds or creates the room for id and registers conn on it,
// retrying against a freshly created room if the one it found raced
// closed (ReleaseIfEmpty) before the join could land on it.
func (reg *Registry) Join(id string, conn Connection) (*Room, store.Hash, string) {
	for {
		r := reg.GetOrCreate(id)
		if hash, content, ok := r.Join(conn); ok {
			return r, hash, content
		}
	}
}

// relayInto subscribes to id's cross-instance channel and delivers
// relayed frames to r's local connections until r's actor stops.
func (reg *Registry) relayInto(id string, r *Room) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-r.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	reg.subscriber.Subscribe(ctx, id, r.DeliverLocal)
}

// ReleaseIfEmpty closes and forgets the room for id if it currently has
// no connections. Safe to call after every Leave.
func (reg *Registry) ReleaseIfEmpty(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[id]
	if !ok {
		return
	}
	// The emptiness check and the close run as one actor step, so a Join
	// cannot land on the room between them.
	closed := false
	r.do(func() {
		if r.connections.Cardinality() == 0 {
			closed = true
			close(r.done)
		}
	})
	if !closed {
		return
	}
	delete(reg.rooms, id)
	slog.Info("registry: room destroyed", "room", id)
}
