// Package broadcast relays a room's committed updates to other server
// processes over Redis pub/sub, generalizing the teacher's single
// hardcoded "test-doc" channel (sumanthd032-CollabText/server/main.go)
// into one channel per room id. A single-process deployment doesn't
// need this at all; Room works purely in-memory without it.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"noteot/internal/protocol"
)

const channelPrefix = "noteot:room:"

// Relay publishes room frames to Redis and can subscribe a local
// callback to frames published by other processes for the same room.
type Relay struct {
	client *redis.Client
	ctx    context.Context
}

func NewRelay(client *redis.Client) *Relay {
	return &Relay{client: client, ctx: context.Background()}
}

func channel(roomID string) string { return channelPrefix + roomID }

// Publish satisfies room.Broadcaster: it marshals frame and publishes it
// on the room's channel. Failures are logged, never returned — a
// broadcast relay outage must not block the room actor.
func (r *Relay) Publish(roomID string, frame protocol.Frame) {
	b, err := json.Marshal(frame)
	if err != nil {
		slog.Error("broadcast: failed to marshal frame", "room", roomID, "err", err)
		return
	}
	if err := r.client.Publish(r.ctx, channel(roomID), b).Err(); err != nil {
		slog.Error("broadcast: publish failed", "room", roomID, "err", err)
	}
}

// Subscribe relays frames published by other processes for roomID to
// handle, until ctx is canceled. Callers typically fan these back out to
// their own local connections (skipping re-publish, to avoid an echo
// loop across processes).
func (r *Relay) Subscribe(ctx context.Context, roomID string, handle func(protocol.Frame)) {
	pubsub := r.client.Subscribe(ctx, channel(roomID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame protocol.Frame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				slog.Error("broadcast: failed to unmarshal relayed frame", "room", roomID, "err", err)
				continue
			}
			handle(frame)
		case <-ctx.Done():
			return
		}
	}
}
