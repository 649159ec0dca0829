// Package ws carries the WebSocket layer: the per-connection client with
// its read and write pumps, the connection registry with its broadcast
// groups, the router the engine delivers through, and the hub that owns
// connection lifecycle and inbound dispatch.
package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufSize    = 256
)

// bufPool pools bytes.Buffer for JSON encoding in the hot path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client represents a single WebSocket connection. A user may hold many
// of them at once; each gets its own connection id.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan event.Event
	connID string
	userID string

	// done is the non-blocking guard in Send.
	done chan struct{}
	// cancel cancels the context passed to Start, triggering pump shutdown.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan event.Event, sendBufSize),
		connID: uuid.New().String(),
		userID: userID,
		done:   make(chan struct{}),
	}
}

// ID is the connection id, distinct from the user id.
func (c *Client) ID() string { return c.connID }

// Send queues an event for the write pump. A full buffer means the
// client cannot keep up; the connection is closed rather than letting
// one slow reader block fan-out.
func (c *Client) Send(ev event.Event) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		logger.Errorf("ws send buffer full, closing slow client conn=%s user=%s", c.connID, c.userID)
		c.Close()
	}
}

// Start launches the pump goroutines. ctx controls pump lifetime; cancel
// is stored for Close().
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any
// goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		// Force both pumps to unblock (ReadMessage / WriteMessage will error).
		c.conn.Close()
	})
}

// readPump reads frames from the connection and hands them to the hub.
// Exits on read error (triggered by conn.Close from Close() or writePump
// exit).
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws set read deadline conn=%s: %v", c.connID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error conn=%s user=%s: %v", c.connID, c.userID, err)
			}
			return
		}

		var in event.Inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			logger.Errorf("ws unmarshal error conn=%s: %v", c.connID, err)
			continue
		}

		c.hub.Handle(ctx, c, in)
	}
}

// writePump writes queued events to the connection. Exits on ctx
// cancellation, write error, or connection close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Errorf("ws close message conn=%s: %v", c.connID, err)
			}
			return
		case ev := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline conn=%s: %v", c.connID, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(ev); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error conn=%s: %v", c.connID, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline conn=%s: %v", c.connID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
