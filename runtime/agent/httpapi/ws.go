package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// wsSendBuffer bounds how many frames can queue for a slow WS client before
// handleLogsWS starts dropping live-tail events rather than blocking the
// event-store subscription pump.
const wsSendBuffer = 256

// handleLogsWS implements GET /ws/logs/events: after the upgrade it sends a
// {"type":"connected"} handshake, then relays every new event matching the
// query filters as a {"type":"event", ...} frame. A client may send
// {"type":"ping"} at any time and gets {"type":"pong"} back.
//
// Reads and writes run on separate goroutines funneled through a single
// send channel, mirroring the one-writer-goroutine-per-connection pattern
// needed because a WS connection does not tolerate concurrent writers.
func (s *Server) handleLogsWS(w http.ResponseWriter, r *http.Request) {
	filter := parseFilter(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Error(r.Context(), "ws accept failed", "error", err)
		return
	}

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	events, cancelSub, err := s.store.Subscribe(ctx, filter)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cancelSub()

	send := make(chan []byte, wsSendBuffer)
	go wsWritePump(ctx, conn, send)
	go wsReadPump(ctx, cancelCtx, conn, send)

	enqueue(send, map[string]any{"type": "connected", "since_seq": filter.SinceSeq})

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			enqueue(send, map[string]any{
				"type":       "event",
				"seq":        ev.Seq,
				"event_id":   ev.EventID,
				"timestamp":  ev.Timestamp.Format(time.RFC3339Nano),
				"event_type": ev.EventType,
				"actor_id":   ev.ActorID,
				"user_id":    ev.UserID,
				"payload":    ev.Payload,
			})
		}
	}
}

// enqueue drops the frame rather than blocking if the client is too slow to
// keep up, matching the event store's own lagged-subscriber posture.
func enqueue(send chan []byte, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case send <- data:
	default:
	}
}

func wsWritePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-send:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

func wsReadPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, send chan<- []byte) {
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type == "ping" {
			enqueue(send, map[string]string{"type": "pong"})
		}
	}
}
