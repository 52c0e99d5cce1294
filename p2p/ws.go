package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"alephccn/types"
)

const writeTimeout = 10 * time.Second

// wireMessage is the framing this node speaks with the daemon: a topic,
// an action, and an opaque payload. The daemon's actual schema is out of
// scope (§6); this is the minimal envelope needed to multiplex several
// topics over one connection.
type wireMessage struct {
	Action  string          `json:"action"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WS is a Client backed by one persistent websocket connection, grounded
// on rpc/ws.go's nhooyr.io/websocket usage (that file accepts connections
// from RPC clients; this dials out to the daemon the same library).
type WS struct {
	conn *websocket.Conn

	mu   sync.Mutex
	subs map[string]chan types.Envelope
}

// Dial opens the connection and starts the background read loop.
func Dial(ctx context.Context, endpoint string) (*WS, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("p2p: dial %s: %w", endpoint, err)
	}
	w := &WS{conn: conn, subs: make(map[string]chan types.Envelope)}
	go w.readLoop()
	return w, nil
}

func (w *WS) Publish(ctx context.Context, topic string, env types.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("p2p: encode envelope: %w", err)
	}
	data, err := json.Marshal(wireMessage{Action: "publish", Topic: topic, Payload: payload})
	if err != nil {
		return fmt.Errorf("p2p: encode publish frame: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := w.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("p2p: publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers interest in topic and returns the channel announcements
// are fanned into. Calling Subscribe twice for the same topic replaces the
// previous channel; callers own one subscription per topic.
func (w *WS) Subscribe(ctx context.Context, topic string) (<-chan types.Envelope, error) {
	ch := make(chan types.Envelope, 64)
	w.mu.Lock()
	w.subs[topic] = ch
	w.mu.Unlock()

	data, err := json.Marshal(wireMessage{Action: "subscribe", Topic: topic})
	if err != nil {
		return nil, fmt.Errorf("p2p: encode subscribe frame: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := w.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return nil, fmt.Errorf("p2p: subscribe to %s: %w", topic, err)
	}
	return ch, nil
}

// readLoop is the single reader for the connection; nhooyr's Conn is not
// safe for concurrent reads, so every inbound frame for every subscribed
// topic funnels through here and is fanned out by topic.
func (w *WS) readLoop() {
	ctx := context.Background()
	for {
		_, data, err := w.conn.Read(ctx)
		if err != nil {
			w.closeAllSubs()
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // malformed frame from the daemon: drop and keep reading
		}
		if msg.Action != "event" {
			continue
		}
		w.mu.Lock()
		ch, ok := w.subs[msg.Topic]
		w.mu.Unlock()
		if !ok {
			continue
		}
		var env types.Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			continue
		}
		select {
		case ch <- env:
		default: // slow consumer: drop rather than block the shared reader
		}
	}
}

func (w *WS) closeAllSubs() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		close(ch)
	}
	w.subs = map[string]chan types.Envelope{}
}

func (w *WS) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "p2p client closing")
}
