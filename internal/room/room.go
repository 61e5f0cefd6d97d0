// Package room implements the server-side merge protocol (spec.md §4.F)
// as a single-writer actor per note: one goroutine owns the room's
// version store and connection set, and every sync/join/leave request
// for that room is serialized through its request channel.
package room

import (
	"fmt"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"noteot/internal/diffengine"
	"noteot/internal/ot"
	"noteot/internal/protocol"
	"noteot/internal/store"
)

// Connection is a client session's outbound side, as seen by a Room.
// Implementations decide what to do when Send can't keep up (the spec
// permits buffering or dropping updates to a slow connection).
type Connection interface {
	ID() uuid.UUID
	Send(protocol.Frame)
}

// ActivityLogger is an optional, best-effort observer of room events.
// Implementations must not block the room actor for long; noteot's
// internal/audit package satisfies this by writing asynchronously.
type ActivityLogger interface {
	LogEvent(roomID, event string, commitHash store.Hash)
}

// Broadcaster optionally relays a room's committed updates to other
// server processes (internal/broadcast's Redis implementation). A nil
// Broadcaster means single-process operation only.
type Broadcaster interface {
	Publish(roomID string, frame protocol.Frame)
}

// PresenceNotifier is called whenever a room's connection count changes.
// The room itself sends the user_count_update frame to its connections;
// the notifier only observes the new count. Room's own counting logic is
// intentionally minimal per spec.md §1's scope note.
type PresenceNotifier interface {
	CountChanged(roomID string, count int)
}

type noopLogger struct{}

func (noopLogger) LogEvent(string, string, store.Hash) {}

type noopBroadcaster struct{}

func (noopBroadcaster) Publish(string, protocol.Frame) {}

type noopPresence struct{}

func (noopPresence) CountChanged(string, int) {}

// Room is a single note's merge-protocol actor.
type Room struct {
	ID          string
	history     *store.Store
	connections mapset.Set[Connection]
	requests    chan func()
	done        chan struct{}

	audit     ActivityLogger
	broadcast Broadcaster
	presence  PresenceNotifier
}

// Option configures optional collaborators on a new Room.
type Option func(*Room)

func WithActivityLogger(l ActivityLogger) Option { return func(r *Room) { r.audit = l } }
func WithBroadcaster(b Broadcaster) Option       { return func(r *Room) { r.broadcast = b } }
func WithPresenceNotifier(p PresenceNotifier) Option {
	return func(r *Room) { r.presence = p }
}

// New creates a room with an initial empty commit and starts its
// single-writer actor goroutine. Call Close when the last connection
// has left.
func New(id string, opts ...Option) *Room {
	// Every room starts from the same initial commit (fixed timestamp), so
	// the head hash GET /api/note/{id} returns for an empty note is still
	// known after that room is released and recreated on Join.
	r := &Room{
		ID:          id,
		history:     store.New(time.Unix(0, 0).UTC()),
		connections: mapset.NewSet[Connection](),
		requests:    make(chan func()),
		done:        make(chan struct{}),
		audit:       noopLogger{},
		broadcast:   noopBroadcaster{},
		presence:    noopPresence{},
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

func (r *Room) run() {
	for {
		select {
		case req := <-r.requests:
			req()
		case <-r.done:
			return
		}
	}
}

// Close stops the room actor. Callers must not submit further requests
// afterward.
func (r *Room) Close() {
	close(r.done)
}

// do submits fn to the room's single-writer loop and blocks until it has
// run, serializing it against every other request for this room. It
// reports false without running fn if the room's actor has already
// stopped (Close was called) — this can race a Registry.ReleaseIfEmpty
// against a concurrent Join, and do must not block forever waiting for
// a dead actor to read from r.requests.
func (r *Room) do(fn func()) bool {
	done := make(chan struct{})
	select {
	case r.requests <- func() {
		fn()
		close(done)
	}:
	case <-r.done:
		return false
	}
	select {
	case <-done:
		return true
	case <-r.done:
		return false
	}
}

// Join registers a connection and returns the room's current HEAD and
// content, so the joining client can initialize its synchronized state.
// The final bool is false if the room was already closed (a concurrent
// Registry.ReleaseIfEmpty raced this join); callers must re-look-up the
// (freshly created) room and retry — Registry.Join does this.
func (r *Room) Join(conn Connection) (store.Hash, string, bool) {
	var hash store.Hash
	var content string
	ok := r.do(func() {
		r.connections.Add(conn)
		head, _ := r.history.Head()
		hash = head
		content, _ = r.history.ContentAt(head)
		r.notifyCount()
		slog.Info("room: connection joined", "room", r.ID, "connection", conn.ID(), "count", r.connections.Cardinality())
	})
	return hash, content, ok
}

// PeekHead returns the room's current HEAD and content without joining a
// connection, for the GET /api/note/{id} endpoint.
func (r *Room) PeekHead() (store.Hash, string) {
	var hash store.Hash
	var content string
	r.do(func() {
		head, _ := r.history.Head()
		hash = head
		content, _ = r.history.ContentAt(head)
	})
	return hash, content
}

// Leave removes a connection from the room.
func (r *Room) Leave(conn Connection) {
	r.do(func() {
		r.connections.Remove(conn)
		r.notifyCount()
		slog.Info("room: connection left", "room", r.ID, "connection", conn.ID(), "count", r.connections.Cardinality())
	})
}

// ConnectionCount returns the current number of joined connections.
func (r *Room) ConnectionCount() int {
	var n int
	r.do(func() { n = r.connections.Cardinality() })
	return n
}

// Done returns a channel closed once the room actor stops, so a
// registry-managed cross-instance subscription knows when to stop
// relaying frames for this room.
func (r *Room) Done() <-chan struct{} { return r.done }

// DeliverLocal sends frame to every local connection without touching
// history or re-publishing through Broadcaster. It's the local half of
// cross-instance broadcast: a Registry subscribes to another process's
// published frames for this room and hands them here, so they reach this
// process's connections without looping back onto the relay.
func (r *Room) DeliverLocal(frame protocol.Frame) {
	r.do(func() {
		for conn := range r.connections.Iter() {
			conn.Send(frame)
		}
	})
}

func (r *Room) notifyCount() {
	r.presence.CountChanged(r.ID, r.connections.Cardinality())
	frame, err := protocol.Marshal(protocol.TypeUserCountUpdate, protocol.UserCountPayload{Count: r.connections.Cardinality()})
	if err != nil {
		slog.Error("room: failed to marshal user_count_update", "room", r.ID, "err", err)
		return
	}
	for conn := range r.connections.Iter() {
		conn.Send(frame)
	}
}

// Sync processes a sync request from sender against baseHash, following
// spec.md §4.F: fast-forward if baseHash equals HEAD, otherwise a
// three-way merge via diff/transform. It replies to sender and
// broadcasts to every other connection as required.
func (r *Room) Sync(sender Connection, baseHash store.Hash, operations []ot.Operation) {
	r.do(func() {
		r.syncLocked(sender, baseHash, operations)
	})
}

func (r *Room) syncLocked(sender Connection, baseHash store.Hash, operations []ot.Operation) {
	baseContent, ok := r.history.ContentAt(baseHash)
	if !ok {
		r.reply(sender, protocol.TypeError, protocol.ErrorPayload{Message: "Base hash not found. Please reload."})
		return
	}

	head, _ := r.history.Head()
	if baseHash == head {
		r.fastForward(sender, baseContent, operations)
		return
	}
	r.merge(sender, baseHash, baseContent, operations)
}

func (r *Room) fastForward(sender Connection, baseContent string, operations []ot.Operation) {
	clientContent, err := ot.Apply(baseContent, operations)
	if err != nil {
		r.conflict(sender, err)
		return
	}
	newHash, err := r.history.Commit(clientContent, "Update from client")
	if err != nil {
		r.conflict(sender, err)
		return
	}
	r.audit.LogEvent(r.ID, "fast_forward", newHash)
	slog.Info("room: fast-forward commit", "room", r.ID, "hash", newHash)

	r.reply(sender, protocol.TypeAck, protocol.AckPayload{NewHash: newHash})

	frame, err := protocol.Marshal(protocol.TypeUpdate, protocol.UpdatePayload{
		LatestHash: newHash,
		Operations: protocol.ToWireList(operations),
	})
	if err != nil {
		slog.Error("room: failed to marshal update frame", "room", r.ID, "err", err)
		return
	}
	r.broadcastExcept(sender, frame)
}

func (r *Room) merge(sender Connection, baseHash store.Hash, baseContent string, operations []ot.Operation) {
	head, _ := r.history.Head()
	serverContent, _ := r.history.ContentAt(head)

	clientContent, err := ot.Apply(baseContent, operations)
	if err != nil {
		r.conflict(sender, err)
		return
	}

	serverOps := ot.DiffToOps(diffengine.Diff(baseContent, serverContent))
	clientOps := ot.DiffToOps(diffengine.Diff(baseContent, clientContent))
	rebased := ot.Transform(clientOps, serverOps)

	mergedContent, err := ot.Apply(serverContent, rebased)
	if err != nil {
		r.conflict(sender, err)
		return
	}

	newHash, err := r.history.Commit(mergedContent, "Merged update from client")
	if err != nil {
		r.conflict(sender, err)
		return
	}
	r.audit.LogEvent(r.ID, "merge", newHash)
	slog.Info("room: merge commit", "room", r.ID, "base", baseHash, "hash", newHash)

	r.reply(sender, protocol.TypeAck, protocol.AckPayload{NewHash: newHash})

	broadcastOps := ot.DiffToOps(diffengine.Diff(serverContent, mergedContent))
	if len(broadcastOps) == 0 {
		return
	}
	frame, err := protocol.Marshal(protocol.TypeUpdate, protocol.UpdatePayload{
		LatestHash: newHash,
		Operations: protocol.ToWireList(broadcastOps),
	})
	if err != nil {
		slog.Error("room: failed to marshal update frame", "room", r.ID, "err", err)
		return
	}
	r.broadcastExcept(sender, frame)
}

func (r *Room) conflict(sender Connection, cause error) {
	slog.Warn("room: OT failure, replying conflict", "room", r.ID, "err", cause)
	r.audit.LogEvent(r.ID, "conflict", "")
	r.reply(sender, protocol.TypeConflict, protocol.ConflictPayload{Message: fmt.Sprintf("could not reconcile edit: %v", cause)})
}

func (r *Room) reply(conn Connection, frameType string, payload any) {
	frame, err := protocol.Marshal(frameType, payload)
	if err != nil {
		slog.Error("room: failed to marshal reply", "room", r.ID, "type", frameType, "err", err)
		return
	}
	conn.Send(frame)
}

// broadcastExcept sends frame to every connection except sender, then
// relays it through the optional cross-instance Broadcaster so other
// server processes' connections receive it too.
func (r *Room) broadcastExcept(sender Connection, frame protocol.Frame) {
	for conn := range r.connections.Iter() {
		if conn.ID() == sender.ID() {
			continue
		}
		conn.Send(frame)
	}
	r.broadcast.Publish(r.ID, frame)
}
