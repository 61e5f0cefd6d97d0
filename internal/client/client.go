// Package client implements the three-buffer reconciliation state
// machine described in spec.md §4.G: a synchronized buffer mirroring the
// server's last-acknowledged content, an in-flight buffer of operations
// sent but not yet acknowledged, and a pending buffer of operations
// authored locally while in-flight is outstanding.
package client

import (
	"fmt"
	"sync"
	"time"

	"noteot/internal/diffengine"
	"noteot/internal/ot"
	"noteot/internal/store"
)

// Transport is the minimal outbound capability the state machine needs;
// cmd/client's websocket adapter (wsTransport) implements it.
type Transport interface {
	SendSync(baseHash store.Hash, operations []ot.Operation) error
}

// Session drives one note's three-buffer reconciliation for a single
// client connection. All methods are safe for concurrent use; a typical
// caller has one goroutine delivering local edits and another delivering
// server frames.
type Session struct {
	mu sync.Mutex

	noteID              string
	latestHash          store.Hash
	synchronizedContent string
	inFlightOps         []ot.Operation
	pendingOps          []ot.Operation

	transport Transport

	debounce       time.Duration
	debounceTimer  *time.Timer
	pendingText    string
	hasPendingEdit bool
}

// DefaultDebounce is the fallback quiet period used when a caller
// doesn't have a configured value handy, matching spec.md §4.G's fixed
// 500ms debounce.
const DefaultDebounce = 500 * time.Millisecond

// New creates a Session seeded with the note's initial hash and content,
// as returned by GET /api/note/{id} or a room Join. debounce is the
// local-edit quiet period before a sync is sent; pass DefaultDebounce
// absent a configured value.
func New(noteID string, initialHash store.Hash, initialContent string, transport Transport, debounce time.Duration) *Session {
	return &Session{
		noteID:              noteID,
		latestHash:          initialHash,
		synchronizedContent: initialContent,
		transport:           transport,
		debounce:            debounce,
	}
}

// Rendered returns the text the editor should currently display: the
// synchronized content with in-flight and pending operations layered on
// top.
func (s *Session) Rendered() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered()
}

func (s *Session) rendered() (string, error) {
	withInFlight, err := ot.Apply(s.synchronizedContent, s.inFlightOps)
	if err != nil {
		return "", fmt.Errorf("client: apply in-flight: %w", err)
	}
	withPending, err := ot.Apply(withInFlight, s.pendingOps)
	if err != nil {
		return "", fmt.Errorf("client: apply pending: %w", err)
	}
	return withPending, nil
}

// OnLocalEdit is called whenever the editor's text changes. It resets
// the debounce timer (the quiet period passed to New, DefaultDebounce
// being 500ms); the actual diff/send happens in
// flushLocalEdit once the timer fires.
func (s *Session) OnLocalEdit(editorText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pendingText = editorText
	s.hasPendingEdit = true
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.debounce, s.flushLocalEdit)
}

// flushLocalEdit runs after the debounce quiet period: it diffs the
// predicted state against the editor's text and either sends the result
// as a new sync request or appends it to the pending buffer.
func (s *Session) flushLocalEdit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasPendingEdit {
		return
	}
	editorText := s.pendingText
	s.hasPendingEdit = false

	predicted, err := s.rendered()
	if err != nil {
		return
	}
	ops := ot.DiffToOps(diffengine.Diff(predicted, editorText))
	if len(ops) == 0 {
		return
	}

	if s.inFlightOps == nil {
		s.inFlightOps = ops
		_ = s.transport.SendSync(s.latestHash, ops)
		return
	}
	s.pendingOps = append(s.pendingOps, ops...)
}

// OnAck handles an {ack: new_hash} frame: the in-flight ops are folded
// into synchronized content, and any pending ops are promoted to
// in-flight and sent.
func (s *Session) OnAck(newHash store.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged, err := ot.Apply(s.synchronizedContent, s.inFlightOps)
	if err != nil {
		return fmt.Errorf("client: apply in-flight on ack: %w", err)
	}
	s.synchronizedContent = merged
	s.latestHash = newHash
	s.inFlightOps = nil

	if len(s.pendingOps) > 0 {
		toSend := s.pendingOps
		s.pendingOps = nil
		s.inFlightOps = toSend
		return s.transport.SendSync(s.latestHash, toSend)
	}
	return nil
}

// OnUpdate handles an {latest_hash, operations} frame from another
// client's commit: synchronized content advances, and any outstanding
// in-flight/pending ops are transformed to still apply cleanly.
func (s *Session) OnUpdate(latestHash store.Hash, operations []ot.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged, err := ot.Apply(s.synchronizedContent, operations)
	if err != nil {
		return fmt.Errorf("client: apply update: %w", err)
	}
	s.synchronizedContent = merged
	if s.inFlightOps != nil {
		s.inFlightOps = ot.Transform(s.inFlightOps, operations)
	}
	if s.pendingOps != nil {
		s.pendingOps = ot.Transform(s.pendingOps, operations)
	}
	s.latestHash = latestHash
	return nil
}

// OnConflict discards all local buffers; the caller is expected to
// refetch the note's current content and re-seed a new Session (room
// history itself is untouched, per spec.md's Open Question 3).
func (s *Session) OnConflict() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlightOps = nil
	s.pendingOps = nil
	s.hasPendingEdit = false
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
}

// LatestHash returns the session's current base hash.
func (s *Session) LatestHash() store.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestHash
}

// SynchronizedContent returns the content last confirmed by the server.
func (s *Session) SynchronizedContent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synchronizedContent
}
