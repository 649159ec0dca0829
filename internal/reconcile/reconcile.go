// Package reconcile is the client-side view of a chat: a message list
// kept consistent under speculative local appends, server echoes,
// duplicate frames, and events arriving out of order. It is pure state
// machinery with no I/O; callers feed it decoded events.
package reconcile

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/model"
)

// TempIDPrefix marks a speculative id minted locally before the server
// has assigned the canonical one. Mutations against temp ids must never
// reach the server.
const TempIDPrefix = "tmp-"

// TempID mints a speculative message id.
func TempID() string { return TempIDPrefix + uuid.New().String() }

// IsTempID reports whether id is speculative.
func IsTempID(id string) bool { return strings.HasPrefix(id, TempIDPrefix) }

// Merge folds one server event into a message list and returns the new
// list. The rules keep the list duplicate-free and stable:
//
//   - history_loaded replaces the list wholesale;
//   - message_created with a known id is dropped (duplicate frame), with
//     an unknown id it replaces the first speculative entry from the
//     same sender, or appends when there is none;
//   - message_updated replaces the entry with the same id, or appends
//     when the create was never seen (update arriving first still leaves
//     the message visible);
//   - read_receipts replaces each listed message in place by id.
//
// Other event types leave the list untouched.
func Merge(list []model.Message, ev event.Event) []model.Message {
	switch ev.Type {
	case event.TypeHistoryLoaded:
		p, ok := ev.Payload.(event.HistoryPayload)
		if !ok {
			return list
		}
		return append([]model.Message(nil), p.Messages...)

	case event.TypeMessageCreated:
		m, ok := ev.Payload.(*model.Message)
		if !ok {
			return list
		}
		for i := range list {
			if list[i].ID == m.ID {
				return list
			}
		}
		for i := range list {
			if IsTempID(list[i].ID) && list[i].SenderID == m.SenderID {
				out := append([]model.Message(nil), list...)
				out[i] = *m
				return out
			}
		}
		return append(append([]model.Message(nil), list...), *m)

	case event.TypeMessageUpdated:
		m, ok := ev.Payload.(*model.Message)
		if !ok {
			return list
		}
		for i := range list {
			if list[i].ID == m.ID {
				out := append([]model.Message(nil), list...)
				out[i] = *m
				return out
			}
		}
		return append(append([]model.Message(nil), list...), *m)

	case event.TypeReadReceipts:
		p, ok := ev.Payload.(event.ReadReceiptsPayload)
		if !ok {
			return list
		}
		out := append([]model.Message(nil), list...)
		for _, m := range p.Messages {
			for i := range out {
				if out[i].ID == m.ID {
					out[i] = m
					break
				}
			}
		}
		return out
	}
	return list
}

// View is the reconciled state of the chat a client currently has open.
// Events for other chats are ignored so stale frames from a previously
// open chat cannot leak into the new one.
type View struct {
	activeChatID string
	// requestedChatID covers the window between requesting a chat's
	// history and its first event arriving.
	requestedChatID string
	messages        []model.Message
	pinnedIDs       []string
}

func NewView() *View { return &View{} }

// Open switches the view to a chat and clears all prior state. Messages
// stay empty until the first accepted event (normally history_loaded).
func (v *View) Open(chatID string) {
	v.activeChatID = chatID
	v.requestedChatID = chatID
	v.messages = nil
	v.pinnedIDs = nil
}

// ChatID is the currently open chat, or "".
func (v *View) ChatID() string { return v.activeChatID }

// Messages returns the reconciled list in order.
func (v *View) Messages() []model.Message { return v.messages }

// PinnedIDs is the chat's current pinned set as last broadcast.
func (v *View) PinnedIDs() []string { return v.pinnedIDs }

// Accepts reports whether an event for chatID belongs to this view.
func (v *View) Accepts(chatID string) bool {
	if chatID == "" {
		return false
	}
	return chatID == v.activeChatID || chatID == v.requestedChatID
}

// Apply folds one server event into the view. It returns true when the
// view changed. Events for other chats and unknown types are ignored.
func (v *View) Apply(ev event.Event) bool {
	chatID := ev.ChatID()
	if !v.Accepts(chatID) {
		return false
	}
	v.requestedChatID = ""

	switch ev.Type {
	case event.TypePinnedChanged:
		p, ok := ev.Payload.(event.PinnedChangedPayload)
		if !ok {
			return false
		}
		v.pinnedIDs = append([]string(nil), p.PinnedIDs...)
		return true
	case event.TypeHistoryLoaded, event.TypeMessageCreated, event.TypeMessageUpdated, event.TypeReadReceipts:
		v.messages = Merge(v.messages, ev)
		return true
	}
	return false
}

// AppendSpeculative adds a locally composed message under a temp id so
// the UI shows it immediately. The server echo replaces it in Merge.
// Returns the temp id.
func (v *View) AppendSpeculative(chatID, senderID, text string) string {
	id := TempID()
	v.messages = append(v.messages, model.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		Reactions: []model.Reaction{},
		ReadBy:    []model.ReadReceipt{},
		CreatedAt: time.Now().UTC(),
	})
	return id
}

// CanMutate reports whether a mutation against messageID may be sent to
// the server. Speculative entries have no server-side identity yet.
func (v *View) CanMutate(messageID string) bool {
	return messageID != "" && !IsTempID(messageID)
}
