package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chatsync/internal/engine"
	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/storage"
)

// Hub owns connection lifecycle and inbound dispatch. Admission is
// synchronous so the pumps never start before the registry knows the
// connection; departures go through a channel serviced by Run; mutations
// are handed to the engine, which broadcasts back through the router.
type Hub struct {
	mu  sync.Mutex
	reg *Registry
	eng *engine.Engine
	// liveClients mirrors the registry as *Client so shutdown can Close
	// and Wait on the pumps. nil after shutdown has swept it.
	liveClients map[*Client]struct{}
	chats       storage.ChatStore
	maxConns    int

	unregister chan *Client
	// stopping closes at the start of shutdown, when Run stops draining
	// unregister. Unregister callers must never block past that point.
	stopping chan struct{}
}

func NewHub(reg *Registry, eng *engine.Engine, chats storage.ChatStore, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		reg:         reg,
		eng:         eng,
		chats:       chats,
		maxConns:    maxConns,
		liveClients: make(map[*Client]struct{}),
		unregister:  make(chan *Client, 64),
		stopping:    make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return
		case c := <-h.unregister:
			h.removeClient(ctx, c)
		}
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	close(h.stopping)

	h.mu.Lock()
	clients := h.liveClients
	h.liveClients = nil
	h.mu.Unlock()

	// Close connections outside the lock (network I/O). Closing a client
	// makes its readPump call Unregister, which the closed stopping
	// channel lets through without Run draining the channel.
	for c := range clients {
		h.reg.LeaveAll(ctx, c.connID)
		c.Close()
	}
	for c := range clients {
		c.Wait()
	}
}

// Admit places the connection in the registry before its pumps start, so
// the first inbound frame always finds a known connection id. Returns
// false when the hub is stopping or the connection limit is hit; the
// client is closed either way.
func (h *Hub) Admit(c *Client) bool {
	if h.reg.Len() >= h.maxConns {
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return false
	}
	h.mu.Lock()
	if h.liveClients == nil {
		h.mu.Unlock()
		c.Close()
		return false
	}
	h.reg.Connect(c)
	h.liveClients[c] = struct{}{}
	h.mu.Unlock()
	metrics.Connections.Set(float64(h.reg.Len()))
	return true
}

func (h *Hub) removeClient(ctx context.Context, c *Client) {
	h.reg.LeaveAll(ctx, c.connID)
	h.mu.Lock()
	if h.liveClients != nil {
		delete(h.liveClients, c)
	}
	h.mu.Unlock()
	metrics.Connections.Set(float64(h.reg.Len()))
	c.Close()
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopping:
	}
}

// Handle dispatches one inbound frame. Unknown types yield a unicast
// error; engine failures are mapped through engine.UserMessage and sent
// only to the originating connection.
func (h *Hub) Handle(ctx context.Context, c *Client, in event.Inbound) {
	metrics.EventsTotal.WithLabelValues(string(in.Type)).Inc()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var err error
	switch in.Type {
	case event.TypeJoinUser:
		err = h.handleJoinUser(ctx, c, in)
	case event.TypeJoinChat:
		err = h.handleJoinChat(ctx, c, in)
	case event.TypeLoadHistory:
		err = h.eng.History(ctx, c.connID, in.ChatID, c.userID)
	case event.TypeNewMessage:
		err = h.eng.Send(ctx, c.connID, in.ChatID, c.userID, in.Text, in.ReplyToID)
	case event.TypeEditMessage:
		err = h.eng.Edit(ctx, in.MessageID, c.userID, in.Text)
	case event.TypeDeleteMessage:
		err = h.eng.Delete(ctx, in.MessageID, c.userID)
	case event.TypeReactMessage:
		err = h.eng.React(ctx, in.MessageID, c.userID, in.Emoji)
	case event.TypePinMessage:
		err = h.eng.Pin(ctx, in.ChatID, in.MessageID, c.userID)
	case event.TypeUnpinMessage:
		err = h.eng.Unpin(ctx, in.ChatID, in.MessageID, c.userID)
	case event.TypeMarkRead:
		if in.MessageID != "" {
			err = h.eng.MarkRead(ctx, in.MessageID, c.userID)
		} else {
			err = h.eng.MarkChatRead(ctx, in.ChatID, c.userID)
		}
	default:
		c.Send(event.Error("unknown event type"))
		return
	}
	if err == nil {
		return
	}
	logger.Errorf("ws handle %s conn=%s user=%s: %v", in.Type, c.connID, c.userID, err)
	// Malformed ids are noise from broken clients; log and drop, no echo.
	if errors.Is(err, engine.ErrMalformedID) {
		return
	}
	msg := engine.UserMessage(err)
	if msg == "internal error" {
		metrics.StoreErrorsTotal.Inc()
	}
	c.Send(event.Error(msg))
}

// handleJoinUser binds the connection to its session identity and joins
// the personal group plus every chat group the user participates in, so
// reconnecting clients resume all streams with one frame.
func (h *Hub) handleJoinUser(ctx context.Context, c *Client, in event.Inbound) error {
	if in.UserID != "" && in.UserID != c.userID {
		return engine.ErrUnauthorized
	}
	h.reg.Bind(ctx, c.connID, c.userID)
	chats, err := h.chats.ListChatsByUser(ctx, c.userID)
	if err != nil {
		return err
	}
	for _, chat := range chats {
		h.reg.JoinGroup(c.connID, event.ChatGroup(chat.ID))
	}
	return nil
}

// handleJoinChat admits the connection into one chat group after a
// participant check, so connections never receive another chat's
// traffic.
func (h *Hub) handleJoinChat(ctx context.Context, c *Client, in event.Inbound) error {
	if !storage.ValidID(in.ChatID) {
		return engine.ErrMalformedID
	}
	chat, err := h.chats.GetChat(ctx, in.ChatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(c.userID) {
		return engine.ErrUnauthorized
	}
	h.reg.JoinGroup(c.connID, event.ChatGroup(in.ChatID))
	return nil
}
