package ws

import (
	"context"
	"sync"
	"time"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/storage"
)

// Sink is one delivery endpoint in the registry. *Client implements it;
// tests use an in-memory recorder.
type Sink interface {
	ID() string
	Send(ev event.Event)
}

type connState struct {
	sink   Sink
	userID string
	groups map[string]struct{}
}

// Registry tracks live connections, their user identities, and group
// membership. Group names are opaque strings (event.UserGroup,
// event.ChatGroup); the registry itself knows nothing about chats.
//
// Presence flows through here: the first bound connection of a user
// flips them online, the last departing one flips them offline with a
// last-seen timestamp. Store writes happen outside the lock.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*connState
	groups map[string]map[string]struct{}
	// online counts bound connections per user.
	online map[string]int
	users  storage.UserStore
}

func NewRegistry(users storage.UserStore) *Registry {
	return &Registry{
		conns:  make(map[string]*connState),
		groups: make(map[string]map[string]struct{}),
		online: make(map[string]int),
		users:  users,
	}
}

// Connect admits a connection into the registry with no identity and no
// groups. It receives nothing until Bind.
func (r *Registry) Connect(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[sink.ID()]; ok {
		return
	}
	r.conns[sink.ID()] = &connState{sink: sink, groups: make(map[string]struct{})}
}

// Bind attaches a user identity to a connection and joins its personal
// group. The first bound connection of a user marks them online.
// Unknown connection ids are a no-op.
func (r *Registry) Bind(ctx context.Context, connID, userID string) {
	r.mu.Lock()
	cs, ok := r.conns[connID]
	if !ok || cs.userID != "" {
		r.mu.Unlock()
		return
	}
	cs.userID = userID
	r.joinLocked(connID, event.UserGroup(userID))
	r.online[userID]++
	first := r.online[userID] == 1
	r.mu.Unlock()

	if first && r.users != nil {
		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.users.SetOnline(opCtx, userID, true, time.Now().UTC()); err != nil {
			logger.Errorf("registry set online user=%s: %v", userID, err)
		}
	}
}

// JoinGroup adds a connection to a group. Idempotent; unknown connection
// ids are a no-op. Membership checks are the caller's concern.
func (r *Registry) JoinGroup(connID, groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		return
	}
	r.joinLocked(connID, groupID)
}

func (r *Registry) joinLocked(connID, groupID string) {
	cs := r.conns[connID]
	if _, ok := cs.groups[groupID]; ok {
		return
	}
	cs.groups[groupID] = struct{}{}
	members, ok := r.groups[groupID]
	if !ok {
		members = make(map[string]struct{})
		r.groups[groupID] = members
	}
	members[connID] = struct{}{}
}

// LeaveAll removes a connection from every group and from the registry.
// The last departing connection of a user marks them offline with a
// last-seen timestamp.
func (r *Registry) LeaveAll(ctx context.Context, connID string) {
	r.mu.Lock()
	cs, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	for groupID := range cs.groups {
		members := r.groups[groupID]
		delete(members, connID)
		if len(members) == 0 {
			delete(r.groups, groupID)
		}
	}
	delete(r.conns, connID)
	last := false
	if cs.userID != "" {
		r.online[cs.userID]--
		if r.online[cs.userID] <= 0 {
			delete(r.online, cs.userID)
			last = true
		}
	}
	r.mu.Unlock()

	if last && r.users != nil {
		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.users.SetOnline(opCtx, cs.userID, false, time.Now().UTC()); err != nil {
			logger.Errorf("registry set offline user=%s: %v", cs.userID, err)
		}
	}
}

// IsMember reports whether a connection currently belongs to a group.
func (r *Registry) IsMember(groupID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[groupID][connID]
	return ok
}

// UserID returns the identity bound to a connection, or "".
func (r *Registry) UserID(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cs, ok := r.conns[connID]; ok {
		return cs.userID
	}
	return ""
}

// Members snapshots the sinks in a group. The snapshot is taken under a
// read lock; sends happen without it.
func (r *Registry) Members(groupID string) []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids, ok := r.groups[groupID]
	if !ok {
		return nil
	}
	sinks := make([]Sink, 0, len(ids))
	for id := range ids {
		if cs, ok := r.conns[id]; ok {
			sinks = append(sinks, cs.sink)
		}
	}
	return sinks
}

// Sink returns one connection's sink, or nil.
func (r *Registry) Sink(connID string) Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cs, ok := r.conns[connID]; ok {
		return cs.sink
	}
	return nil
}

// Len is the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
