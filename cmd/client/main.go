// cmd/client is a headless reconciliation client: it dials a note's
// websocket endpoint, drives internal/client's three-buffer state
// machine, and reads lines from stdin as successive edits to the note's
// text (each line replaces the whole editor content, matching the
// debounced "here is the new editor text" contract of OnLocalEdit).
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"noteot/internal/client"
	"noteot/internal/config"
	"noteot/internal/ot"
	"noteot/internal/protocol"
	"noteot/internal/store"
)

func main() {
	addr := flag.String("addr", "localhost:8081", "server host:port")
	noteID := flag.String("note", "scratch", "note id to join")
	flag.Parse()

	if err := run(*addr, *noteID); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(addr, noteID string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	hash, content, err := fetchInitial(addr, noteID)
	if err != nil {
		return fmt.Errorf("fetch initial note state: %w", err)
	}
	slog.Info("joined note", "note", noteID, "hash", hash, "content", content)

	conn, err := dialWithBackoff(addr, noteID, cfg.ReconnectBackoff())
	if err != nil {
		return err
	}
	defer conn.Close()

	wt := &wsTransport{conn: conn}
	session := client.New(noteID, hash, content, wt, cfg.DebounceDuration())

	go readFrames(conn, session)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		session.OnLocalEdit(scanner.Text())
	}
	return scanner.Err()
}

func fetchInitial(addr, noteID string) (store.Hash, string, error) {
	u := url.URL{Scheme: "http", Host: addr, Path: "/api/note/" + noteID}
	resp, err := http.Get(u.String())
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	var body struct {
		Status        string  `json:"status"`
		LatestHash    *string `json:"latest_hash"`
		LatestContent *string `json:"latest_content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", err
	}
	if body.LatestHash == nil {
		return "", "", nil
	}
	content := ""
	if body.LatestContent != nil {
		content = *body.LatestContent
	}
	return store.Hash(*body.LatestHash), content, nil
}

// dialWithBackoff retries the websocket handshake on a fixed ~2s
// backoff, per spec.md §4.G/§5's reconnect policy.
func dialWithBackoff(addr, noteID string, interval time.Duration) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws/note/" + noteID}

	var conn *websocket.Conn
	op := func() error {
		c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			slog.Warn("dial failed, retrying", "err", err)
			return err
		}
		conn = c
		return nil
	}

	b := backoff.NewConstantBackOff(interval)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return conn, nil
}

// wsTransport adapts a gorilla websocket.Conn to client.Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) SendSync(baseHash store.Hash, ops []ot.Operation) error {
	frame, err := protocol.Marshal(protocol.TypeSync, protocol.SyncPayload{
		BaseHash:   baseHash,
		Operations: protocol.ToWireList(ops),
	})
	if err != nil {
		return err
	}
	return t.conn.WriteJSON(frame)
}

func readFrames(conn *websocket.Conn, session *client.Session) {
	for {
		var frame protocol.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			slog.Warn("connection closed, client will stop receiving updates", "err", err)
			return
		}
		dispatch(session, frame)
	}
}

func dispatch(session *client.Session, frame protocol.Frame) {
	switch frame.Type {
	case protocol.TypeAck:
		var p protocol.AckPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			slog.Warn("malformed ack payload", "err", err)
			return
		}
		if err := session.OnAck(p.NewHash); err != nil {
			slog.Error("failed to apply ack", "err", err)
		}
	case protocol.TypeUpdate:
		var p protocol.UpdatePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			slog.Warn("malformed update payload", "err", err)
			return
		}
		ops, err := protocol.FromWireList(p.Operations)
		if err != nil {
			slog.Warn("malformed operation in update payload", "err", err)
			return
		}
		if err := session.OnUpdate(p.LatestHash, ops); err != nil {
			slog.Error("failed to apply update", "err", err)
		}
	case protocol.TypeConflict:
		slog.Warn("server reported conflict, discarding local state")
		session.OnConflict()
	case protocol.TypeError:
		slog.Warn("server reported error")
	default:
		// unrecognized frame types are ignored.
	}
}
