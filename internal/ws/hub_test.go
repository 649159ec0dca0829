package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatsync/internal/engine"
	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/storage/memory"
)

type hubHarness struct {
	hub    *Hub
	reg    *Registry
	store  *memory.Store
	cancel context.CancelFunc
	// runDone closes when hub.Run returns.
	runDone chan struct{}
	srv     *httptest.Server
	userID  string
}

// newHubHarness wires a hub over real WebSocket connections the way the
// upgrade handler does: admit first, then start the pumps.
func newHubHarness(t *testing.T) *hubHarness {
	t.Helper()
	store := memory.New()
	userID := seedUser(t, store)
	reg := NewRegistry(store)
	eng := engine.New(store, NewRouter(reg), nil)
	hub := NewHub(reg, eng, store, 0)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(runDone)
	}()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(hub, conn, userID)
		if !hub.Admit(c) {
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		c.Start(cctx, ccancel)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(cancel)
	return &hubHarness{hub: hub, reg: reg, store: store, cancel: cancel, runDone: runDone, srv: srv, userID: userID}
}

func (h *hubHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s", msg)
}

// Shutdown must complete with more live connections than the unregister
// channel buffers: once Run stops draining the channel, departing read
// pumps rely on the stopping signal instead of a channel slot.
func TestShutdownDrainsManyClients(t *testing.T) {
	h := newHubHarness(t)

	const n = 80
	conns := make([]*websocket.Conn, 0, n)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	for i := 0; i < n; i++ {
		conns = append(conns, h.dial(t))
	}
	waitFor(t, 3*time.Second, func() bool { return h.reg.Len() == n }, "connections not admitted")

	h.cancel()
	select {
	case <-h.runDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("hub did not stop with %d live connections", n)
	}
	if h.reg.Len() != 0 {
		t.Fatalf("registry holds %d connections after shutdown", h.reg.Len())
	}
}

// A frame sent immediately after the dial returns must land on a
// registered connection: join_user may never hit an unknown conn id.
func TestFirstFrameSeesAdmittedConnection(t *testing.T) {
	h := newHubHarness(t)

	conn := h.dial(t)
	defer conn.Close()
	if err := conn.WriteJSON(event.Inbound{Type: event.TypeJoinUser, UserID: h.userID}); err != nil {
		t.Fatalf("write join_user: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		u, err := h.store.GetUser(context.Background(), h.userID)
		return err == nil && u.IsOnline
	}, "join_user on a fresh connection did not bind")
	if got := len(h.reg.Members(event.UserGroup(h.userID))); got != 1 {
		t.Fatalf("personal group members: %d", got)
	}
}

// Admission after shutdown has swept the client set must refuse, not
// resurrect state.
func TestAdmitAfterShutdownRefuses(t *testing.T) {
	h := newHubHarness(t)
	h.cancel()
	select {
	case <-h.runDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("hub did not stop")
	}

	conn := h.dial(t)
	defer conn.Close()
	// The harness handler calls Admit; give it time to run, then the
	// registry must still be empty.
	time.Sleep(100 * time.Millisecond)
	if h.reg.Len() != 0 {
		t.Fatalf("late connection admitted after shutdown")
	}
}
