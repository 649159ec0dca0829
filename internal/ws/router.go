package ws

import (
	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/metrics"
)

// Router fans events out over the registry. It implements the engine's
// Delivery interface; the engine never touches connections directly.
type Router struct {
	reg *Registry
}

func NewRouter(reg *Registry) *Router {
	return &Router{reg: reg}
}

// Broadcast sends an event to every current member of a group. Members
// are snapshotted first; a connection joining mid-broadcast catches up
// via history.
func (rt *Router) Broadcast(groupID string, ev event.Event) {
	metrics.BroadcastsTotal.Inc()
	for _, sink := range rt.reg.Members(groupID) {
		sink.Send(ev)
	}
}

// Unicast sends an event to one connection. Unknown ids are dropped.
func (rt *Router) Unicast(connID string, ev event.Event) {
	if sink := rt.reg.Sink(connID); sink != nil {
		sink.Send(ev)
	}
}

// IsMember reports group membership for one connection.
func (rt *Router) IsMember(groupID, connID string) bool {
	return rt.reg.IsMember(groupID, connID)
}
