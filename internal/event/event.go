// Package event defines the WebSocket wire protocol: the closed set of
// inbound operation types, the outbound event envelope, and the typed
// payloads both sides exchange.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/chatsync/internal/model"
)

type Type string

// Inbound operation types. Dispatch over these is a single closed switch
// in the hub; an unknown type yields a unicast error, never a crash.
const (
	TypeJoinUser      Type = "join_user"
	TypeJoinChat      Type = "join_chat"
	TypeLoadHistory   Type = "load_history"
	TypeNewMessage    Type = "new_message"
	TypeEditMessage   Type = "edit_message"
	TypeDeleteMessage Type = "delete_message"
	TypeReactMessage  Type = "react_message"
	TypePinMessage    Type = "pin_message"
	TypeUnpinMessage  Type = "unpin_message"
	TypeMarkRead      Type = "mark_read"
)

// Outbound event types.
const (
	TypeMessageCreated Type = "message_created"
	TypeMessageUpdated Type = "message_updated"
	TypeHistoryLoaded  Type = "history_loaded"
	TypeChatTouched    Type = "chat_touched"
	TypePinnedChanged  Type = "pinned_changed"
	TypeReadReceipts   Type = "read_receipts"
	TypeError          Type = "error"
)

// Inbound is what a client sends to the server.
type Inbound struct {
	Type      Type   `json:"type"`
	UserID    string `json:"user_id,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text,omitempty"`
	ReplyToID string `json:"reply_to_id,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
}

// Event is what the server sends to clients. Payload is one of the typed
// payload structs below, or *model.Message for message events.
type Event struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload"`
}

type HistoryPayload struct {
	ChatID   string          `json:"chat_id"`
	Messages []model.Message `json:"messages"`
}

// ChatTouchedPayload is fanned out to participants' personal groups so
// chat-list UIs stay live without a reload.
type ChatTouchedPayload struct {
	Chat    model.Chat     `json:"chat"`
	Message *model.Message `json:"message,omitempty"`
}

// PinnedChangedPayload carries the full current pinned set of a chat;
// UIs render the pinned panel independently of the message stream.
type PinnedChangedPayload struct {
	ChatID    string   `json:"chat_id"`
	PinnedIDs []string `json:"pinned_ids"`
}

// ReadReceiptsPayload is one aggregated broadcast per chat-wide mark-read:
// fewer events at the cost of a larger payload.
type ReadReceiptsPayload struct {
	ChatID   string          `json:"chat_id"`
	Messages []model.Message `json:"messages"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// UserGroup is the personal broadcast group of one user. Every connection
// joins it on join_user; chat-touched events are addressed here.
func UserGroup(userID string) string { return "user:" + userID }

// ChatGroup is the broadcast group of one chat.
func ChatGroup(chatID string) string { return "chat:" + chatID }

// Decode parses a raw outbound frame into an Event with its payload
// decoded to the concrete type for ev.Type. Used by Go clients feeding
// the reconciliation layer.
func Decode(raw []byte) (Event, error) {
	var frame struct {
		Type    Type            `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Event{}, fmt.Errorf("event decode: %w", err)
	}
	ev := Event{Type: frame.Type}
	switch frame.Type {
	case TypeMessageCreated, TypeMessageUpdated:
		m := &model.Message{}
		if err := json.Unmarshal(frame.Payload, m); err != nil {
			return Event{}, fmt.Errorf("event decode %s: %w", frame.Type, err)
		}
		ev.Payload = m
	case TypeHistoryLoaded:
		var p HistoryPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("event decode %s: %w", frame.Type, err)
		}
		ev.Payload = p
	case TypeChatTouched:
		var p ChatTouchedPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("event decode %s: %w", frame.Type, err)
		}
		ev.Payload = p
	case TypePinnedChanged:
		var p PinnedChangedPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("event decode %s: %w", frame.Type, err)
		}
		ev.Payload = p
	case TypeReadReceipts:
		var p ReadReceiptsPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("event decode %s: %w", frame.Type, err)
		}
		ev.Payload = p
	case TypeError:
		var p ErrorPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("event decode %s: %w", frame.Type, err)
		}
		ev.Payload = p
	default:
		return Event{}, fmt.Errorf("event decode: unknown type %q", frame.Type)
	}
	return ev, nil
}

// ChatID extracts the chat id an event pertains to, or "" when the event
// carries none. The reconciliation layer filters on this.
func (ev Event) ChatID() string {
	switch p := ev.Payload.(type) {
	case *model.Message:
		return p.ChatID
	case HistoryPayload:
		return p.ChatID
	case ChatTouchedPayload:
		return p.Chat.ID
	case PinnedChangedPayload:
		return p.ChatID
	case ReadReceiptsPayload:
		return p.ChatID
	default:
		return ""
	}
}

// Error builds a unicast error event. Errors are never broadcast.
func Error(msg string) Event {
	return Event{Type: TypeError, Payload: ErrorPayload{Message: msg}}
}
