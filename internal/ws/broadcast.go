package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/agent-racer/runwatch/internal/run"
	"github.com/agent-racer/runwatch/internal/state"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	clientSendBuffer = 64
	writeTimeout     = 10 * time.Second
)

// ErrTooManyClients is returned by AddClient when the connection limit is
// reached.
var ErrTooManyClients = errors.New("too many websocket clients")

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans run summaries and log lines out to WebSocket clients.
// Summaries go out immediately; lines are coalesced and flushed at most
// once per throttle interval. A full snapshot is sent on connect and on
// every snapshot interval.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	store          *state.Store
	throttle       time.Duration
	maxConns       int
	snapshotTicker *time.Ticker
	done           chan struct{}
	closeOnce      sync.Once
	pendingLines   []run.Line
	pendingRemoved []string
	flushTimer     *time.Timer
	flushMu        sync.Mutex
}

// NewBroadcaster starts a broadcaster reading snapshots from store.
// maxConns <= 0 means no connection limit.
func NewBroadcaster(store *state.Store, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		store:    store,
		throttle: throttle,
		maxConns: maxConns,
		done:     make(chan struct{}),
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// Close stops the snapshot loop and disconnects every client.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		b.snapshotTicker.Stop()
		close(b.done)

		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			c.close()
		}
		b.mu.Unlock()
	})
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	data, err := json.Marshal(b.snapshot())
	if err != nil {
		return nil, errors.Wrap(err, "marshal snapshot")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		return nil, ErrTooManyClients
	}
	c := newClient(conn)
	b.clients[c] = true

	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}

	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Summary broadcasts a summary to every client right away.
func (b *Broadcaster) Summary(s run.Summary) error {
	b.broadcast(WSMessage{Type: MsgSummary, Payload: s})
	return nil
}

// Lines queues log lines for the next flush. Lines are dropped when no
// client is connected.
func (b *Broadcaster) Lines(lines []run.Line) error {
	if len(lines) == 0 || b.ClientCount() == 0 {
		return nil
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingLines = append(b.pendingLines, lines...)
	b.scheduleFlushLocked()
	return nil
}

// QueueRemoval tells clients that runs disappeared from the runs dir.
func (b *Broadcaster) QueueRemoval(ids []string) {
	if len(ids) == 0 {
		return
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingRemoved = append(b.pendingRemoved, ids...)
	b.scheduleFlushLocked()
}

// scheduleFlushLocked arms the flush timer. Caller must hold b.flushMu.
func (b *Broadcaster) scheduleFlushLocked() {
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	lines := b.pendingLines
	removed := b.pendingRemoved
	b.pendingLines = nil
	b.pendingRemoved = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(lines) == 0 && len(removed) == 0 {
		return
	}

	b.broadcast(WSMessage{
		Type: MsgLines,
		Payload: LinesPayload{
			Lines:   lines,
			Removed: removed,
		},
	})
}

func (b *Broadcaster) snapshot() WSMessage {
	payload := SnapshotPayload{Runs: b.store.GetAll()}
	if sum, ok := b.store.Summary(); ok {
		payload.Summary = &sum
	}
	return WSMessage{Type: MsgSnapshot, Payload: payload}
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.snapshotTicker.C:
			if b.ClientCount() > 0 {
				b.broadcast(b.snapshot())
			}
		}
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ws] broadcast marshal error: %v", err)
		return
	}

	// Sends happen under the read lock so RemoveClient cannot close a
	// channel mid-send.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		// Client can't keep up, disconnect it
		log.Printf("[ws] client %s too slow, disconnecting", c.id)
		b.RemoveClient(c)
	}
}
