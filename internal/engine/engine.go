// Package engine validates and applies message mutations (send, edit,
// delete, react, pin, read receipts) and broadcasts the resulting
// canonical snapshots. Persist-then-broadcast is one sequential step per
// mutation, so all members of a chat group observe mutations in the same
// relative order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

// Delivery is the fan-out surface the engine broadcasts through. The ws
// router implements it; tests use a recording fake.
type Delivery interface {
	Broadcast(groupID string, ev event.Event)
	Unicast(connID string, ev event.Event)
	IsMember(groupID, connID string) bool
}

// Notifier receives new-message notifications for recipients. nil
// disables notifications; delivery success is not the engine's concern.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

type Engine struct {
	store    storage.Store
	delivery Delivery
	notifier Notifier
	// now is swappable in tests.
	now func() time.Time
}

func New(store storage.Store, delivery Delivery, notifier Notifier) *Engine {
	return &Engine{
		store:    store,
		delivery: delivery,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// snapshot resolves the canonical broadcast form of m: sender and
// reply-to expanded to minimal projections. Projection lookups are best
// effort; a failed lookup is logged and the snapshot ships without it.
func (e *Engine) snapshot(ctx context.Context, m *model.Message) *model.Message {
	if m.Sender == nil {
		if u, err := e.store.GetUser(ctx, m.SenderID); err == nil {
			pub := u.ToPublic()
			m.Sender = &pub
		} else {
			logger.Errorf("engine snapshot sender user=%s: %v", m.SenderID, err)
		}
	}
	if m.ReplyToID != nil && m.ReplyTo == nil {
		if orig, err := e.store.GetMessage(ctx, *m.ReplyToID); err == nil {
			m.ReplyTo = &model.Message{
				ID:       orig.ID,
				ChatID:   orig.ChatID,
				SenderID: orig.SenderID,
				Text:     orig.Text,
				Deleted:  orig.Deleted,
				Sender:   orig.Sender,
			}
		} else {
			logger.Errorf("engine snapshot reply_to msg=%s: %v", *m.ReplyToID, err)
		}
	}
	return m
}

// Send persists a new message and broadcasts it to the chat group. The
// sending connection may not have joined that group yet (open-chat and
// send race); in that case the snapshot is also unicast straight to the
// sender, so the sender sees its own message at least once and clients
// must de-duplicate by message id.
func (e *Engine) Send(ctx context.Context, connID, chatID, senderID, text, replyToID string) error {
	defer logger.DeferLogDuration("engine.Send", time.Now())()
	if !storage.ValidID(chatID) || !storage.ValidID(senderID) {
		return ErrMalformedID
	}
	if replyToID != "" && !storage.ValidID(replyToID) {
		return ErrMalformedID
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty message text", ErrInvalidState)
	}

	chat, err := e.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(senderID) {
		return fmt.Errorf("%w: sender is not a chat participant", ErrUnauthorized)
	}

	var replyTo *string
	if replyToID != "" {
		orig, err := e.store.GetMessage(ctx, replyToID)
		if err != nil {
			return err
		}
		if orig.ChatID != chatID {
			return fmt.Errorf("%w: reply-to message belongs to another chat", ErrInvalidState)
		}
		replyTo = &replyToID
	}

	now := e.now()
	m := &model.Message{
		ID:        storage.NewID(),
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		ReplyToID: replyTo,
		Reactions: []model.Reaction{},
		ReadBy:    []model.ReadReceipt{},
		CreatedAt: now,
	}
	if err := e.store.CreateMessage(ctx, m); err != nil {
		return err
	}
	if err := e.store.TouchChat(ctx, chatID, now); err != nil {
		logger.Errorf("engine touch chat=%s: %v", chatID, err)
	}
	if err := e.store.TouchActivity(ctx, senderID, now); err != nil {
		logger.Errorf("engine touch activity user=%s: %v", senderID, err)
	}
	chat.UpdatedAt = now

	snap := e.snapshot(ctx, m)
	out := event.Event{Type: event.TypeMessageCreated, Payload: snap}
	group := event.ChatGroup(chatID)
	e.delivery.Broadcast(group, out)
	if connID != "" && !e.delivery.IsMember(group, connID) {
		e.delivery.Unicast(connID, out)
	}

	// Keep chat-list UIs live: fan the touched chat out to every
	// participant's personal group, not just the chat group.
	touched := event.Event{Type: event.TypeChatTouched, Payload: event.ChatTouchedPayload{Chat: *chat, Message: snap}}
	for _, uid := range chat.Participants {
		e.delivery.Broadcast(event.UserGroup(uid), touched)
	}

	if e.notifier != nil {
		title := senderID
		if snap.Sender != nil && snap.Sender.Username != "" {
			title = snap.Sender.Username
		}
		body := truncateBody(text, 120)
		data := map[string]string{"chat_id": chatID, "message_id": m.ID}
		for _, uid := range chat.Participants {
			if uid != senderID {
				uid := uid
				go e.notifier.Notify(context.WithoutCancel(ctx), uid, title, body, data)
			}
		}
	}
	return nil
}

// Edit replaces a message's text, appending the previous text to the
// edit history. Only the sender may edit; deleted messages are immutable.
func (e *Engine) Edit(ctx context.Context, messageID, userID, newText string) error {
	defer logger.DeferLogDuration("engine.Edit", time.Now())()
	if !storage.ValidID(messageID) || !storage.ValidID(userID) {
		return ErrMalformedID
	}
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return fmt.Errorf("%w: empty message text", ErrInvalidState)
	}

	m, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != userID {
		return fmt.Errorf("%w: only the sender may edit", ErrUnauthorized)
	}
	if m.Deleted {
		return fmt.Errorf("%w: message is deleted", ErrInvalidState)
	}

	m.EditHistory = append(m.EditHistory, model.EditEntry{Text: m.Text, EditedAt: e.now()})
	m.Text = newText
	m.Edited = true
	if err := e.store.UpdateMessage(ctx, m); err != nil {
		return err
	}
	e.broadcastUpdated(ctx, m)
	return nil
}

// Delete soft-deletes: the text is replaced with a sentinel, reactions
// are cleared, the id survives. Deleting an already-deleted message is a
// no-op success and emits nothing.
func (e *Engine) Delete(ctx context.Context, messageID, userID string) error {
	defer logger.DeferLogDuration("engine.Delete", time.Now())()
	if !storage.ValidID(messageID) || !storage.ValidID(userID) {
		return ErrMalformedID
	}

	m, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != userID {
		return fmt.Errorf("%w: only the sender may delete", ErrUnauthorized)
	}
	if m.Deleted {
		return nil
	}

	m.Deleted = true
	m.Text = model.DeletedText
	m.Reactions = []model.Reaction{}
	if err := e.store.UpdateMessage(ctx, m); err != nil {
		return err
	}
	e.broadcastUpdated(ctx, m)
	return nil
}

// React toggles-replaces: a user's previous reaction (any emoji) is
// removed before the new one is appended, so each user holds at most one
// reaction per message.
func (e *Engine) React(ctx context.Context, messageID, userID, emoji string) error {
	defer logger.DeferLogDuration("engine.React", time.Now())()
	if !storage.ValidID(messageID) || !storage.ValidID(userID) {
		return ErrMalformedID
	}
	if emoji == "" {
		return fmt.Errorf("%w: empty emoji", ErrInvalidState)
	}

	m, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.Deleted {
		return fmt.Errorf("%w: message is deleted", ErrInvalidState)
	}
	chat, err := e.store.GetChat(ctx, m.ChatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(userID) {
		return fmt.Errorf("%w: not a chat participant", ErrUnauthorized)
	}

	if i := m.ReactionBy(userID); i >= 0 {
		m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
	}
	m.Reactions = append(m.Reactions, model.Reaction{UserID: userID, Emoji: emoji, ReactedAt: e.now()})
	if err := e.store.UpdateMessage(ctx, m); err != nil {
		return err
	}
	e.broadcastUpdated(ctx, m)
	return nil
}

// Pin pins a message and adds it to the chat's pinned set. Any
// participant may pin. Pinning a deleted message is rejected; a deleted
// message has no content worth surfacing in the pinned panel.
func (e *Engine) Pin(ctx context.Context, chatID, messageID, userID string) error {
	defer logger.DeferLogDuration("engine.Pin", time.Now())()
	m, chat, err := e.pinTargets(ctx, chatID, messageID, userID)
	if err != nil {
		return err
	}
	if m.Deleted {
		return fmt.Errorf("%w: message is deleted", ErrInvalidState)
	}

	now := e.now()
	m.Pinned = true
	m.PinnedBy = userID
	m.PinnedAt = &now
	if err := e.store.UpdateMessage(ctx, m); err != nil {
		return err
	}
	chat.AddPinned(messageID)
	if err := e.store.SetPinned(ctx, chatID, chat.PinnedIDs); err != nil {
		return err
	}
	e.broadcastUpdated(ctx, m)
	e.delivery.Broadcast(event.ChatGroup(chatID), event.Event{
		Type:    event.TypePinnedChanged,
		Payload: event.PinnedChangedPayload{ChatID: chatID, PinnedIDs: chat.PinnedIDs},
	})
	return nil
}

// Unpin clears the pin flag and removes the id from the chat's pinned
// set. Unpinning a deleted message is allowed so stale pins can be
// cleaned up.
func (e *Engine) Unpin(ctx context.Context, chatID, messageID, userID string) error {
	defer logger.DeferLogDuration("engine.Unpin", time.Now())()
	m, chat, err := e.pinTargets(ctx, chatID, messageID, userID)
	if err != nil {
		return err
	}

	m.Pinned = false
	m.PinnedBy = ""
	m.PinnedAt = nil
	if err := e.store.UpdateMessage(ctx, m); err != nil {
		return err
	}
	chat.RemovePinned(messageID)
	if err := e.store.SetPinned(ctx, chatID, chat.PinnedIDs); err != nil {
		return err
	}
	e.broadcastUpdated(ctx, m)
	e.delivery.Broadcast(event.ChatGroup(chatID), event.Event{
		Type:    event.TypePinnedChanged,
		Payload: event.PinnedChangedPayload{ChatID: chatID, PinnedIDs: chat.PinnedIDs},
	})
	return nil
}

func (e *Engine) pinTargets(ctx context.Context, chatID, messageID, userID string) (*model.Message, *model.Chat, error) {
	if !storage.ValidID(chatID) || !storage.ValidID(messageID) || !storage.ValidID(userID) {
		return nil, nil, ErrMalformedID
	}
	m, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	chat, err := e.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if m.ChatID != chatID {
		return nil, nil, fmt.Errorf("%w: message belongs to another chat", ErrInvalidState)
	}
	if !chat.HasParticipant(userID) {
		return nil, nil, fmt.Errorf("%w: not a chat participant", ErrUnauthorized)
	}
	return m, chat, nil
}

// MarkRead records a read receipt on one message. The sender never lands
// on their own receipt list, and re-reading is idempotent (no broadcast
// when nothing changed).
func (e *Engine) MarkRead(ctx context.Context, messageID, userID string) error {
	defer logger.DeferLogDuration("engine.MarkRead", time.Now())()
	if !storage.ValidID(messageID) || !storage.ValidID(userID) {
		return ErrMalformedID
	}
	m, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	chat, err := e.store.GetChat(ctx, m.ChatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(userID) {
		return fmt.Errorf("%w: not a chat participant", ErrUnauthorized)
	}
	if m.SenderID == userID || m.HasReadReceipt(userID) {
		return nil
	}
	m.ReadBy = append(m.ReadBy, model.ReadReceipt{UserID: userID, ReadAt: e.now()})
	if err := e.store.UpdateMessage(ctx, m); err != nil {
		return err
	}
	e.broadcastUpdated(ctx, m)
	return nil
}

// MarkChatRead applies the read-receipt rule to every message in the
// chat, swallowing per-message failures, then emits one aggregated
// read_receipts event carrying the full refreshed list. One large
// broadcast instead of N small ones.
func (e *Engine) MarkChatRead(ctx context.Context, chatID, userID string) error {
	defer logger.DeferLogDuration("engine.MarkChatRead", time.Now())()
	if !storage.ValidID(chatID) || !storage.ValidID(userID) {
		return ErrMalformedID
	}
	chat, err := e.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(userID) {
		return fmt.Errorf("%w: not a chat participant", ErrUnauthorized)
	}

	msgs, err := e.store.ListMessages(ctx, chatID)
	if err != nil {
		return err
	}
	now := e.now()
	changed := false
	for i := range msgs {
		m := &msgs[i]
		if m.SenderID == userID || m.HasReadReceipt(userID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, model.ReadReceipt{UserID: userID, ReadAt: now})
		if err := e.store.UpdateMessage(ctx, m); err != nil {
			logger.Errorf("engine mark read msg=%s user=%s: %v", m.ID, userID, err)
			// The broadcast carries msgs; a receipt the store rejected
			// must not ship in it.
			m.ReadBy = m.ReadBy[:len(m.ReadBy)-1]
			continue
		}
		changed = true
	}
	if !changed {
		return nil
	}
	e.delivery.Broadcast(event.ChatGroup(chatID), event.Event{
		Type:    event.TypeReadReceipts,
		Payload: event.ReadReceiptsPayload{ChatID: chatID, Messages: msgs},
	})
	return nil
}

// History unicasts the chat's full message list to one connection.
func (e *Engine) History(ctx context.Context, connID, chatID, userID string) error {
	defer logger.DeferLogDuration("engine.History", time.Now())()
	if !storage.ValidID(chatID) {
		return ErrMalformedID
	}
	chat, err := e.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(userID) {
		return fmt.Errorf("%w: not a chat participant", ErrUnauthorized)
	}
	msgs, err := e.store.ListMessages(ctx, chatID)
	if err != nil {
		return err
	}
	e.delivery.Unicast(connID, event.Event{
		Type:    event.TypeHistoryLoaded,
		Payload: event.HistoryPayload{ChatID: chatID, Messages: msgs},
	})
	return nil
}

// OpenDirectChat finds or lazily creates the chat between two distinct
// users. Duplicate requests in either participant order converge on the
// same chat. A fresh chat is announced to both participants' personal
// groups.
func (e *Engine) OpenDirectChat(ctx context.Context, userID, otherID string) (*model.Chat, error) {
	defer logger.DeferLogDuration("engine.OpenDirectChat", time.Now())()
	if !storage.ValidID(userID) || !storage.ValidID(otherID) {
		return nil, ErrMalformedID
	}
	if userID == otherID {
		return nil, fmt.Errorf("%w: cannot open a chat with yourself", ErrInvalidState)
	}
	if _, err := e.store.GetUser(ctx, otherID); err != nil {
		return nil, err
	}

	chat, created, err := storage.GetOrCreateDirectChat(ctx, e.store, userID, otherID, e.now())
	if err != nil {
		return nil, err
	}
	e.attachMembers(ctx, chat)
	if created {
		touched := event.Event{Type: event.TypeChatTouched, Payload: event.ChatTouchedPayload{Chat: *chat}}
		for _, uid := range chat.Participants {
			e.delivery.Broadcast(event.UserGroup(uid), touched)
		}
	}
	return chat, nil
}

func (e *Engine) attachMembers(ctx context.Context, chat *model.Chat) {
	chat.Members = chat.Members[:0]
	for _, uid := range chat.Participants {
		u, err := e.store.GetUser(ctx, uid)
		if err != nil {
			logger.Errorf("engine chat member user=%s: %v", uid, err)
			continue
		}
		chat.Members = append(chat.Members, u.ToPublic())
	}
}

// ListChats returns the user's chats with participant projections, most
// recently updated first.
func (e *Engine) ListChats(ctx context.Context, userID string) ([]model.Chat, error) {
	defer logger.DeferLogDuration("engine.ListChats", time.Now())()
	if !storage.ValidID(userID) {
		return nil, ErrMalformedID
	}
	chats, err := e.store.ListChatsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range chats {
		e.attachMembers(ctx, &chats[i])
	}
	return chats, nil
}

// truncateBody caps the notification body at max bytes, backing the cut
// off to a rune boundary so a multi-byte character is never split.
func truncateBody(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func (e *Engine) broadcastUpdated(ctx context.Context, m *model.Message) {
	snap := e.snapshot(ctx, m)
	e.delivery.Broadcast(event.ChatGroup(m.ChatID), event.Event{
		Type:    event.TypeMessageUpdated,
		Payload: snap,
	})
}

// UserMessage maps an engine error to the text unicast back to the
// originating connection. Store failures collapse to a generic message;
// details stay in the log.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrMalformedID):
		return "malformed id"
	case errors.Is(err, storage.ErrNotFound):
		return "not found"
	case errors.Is(err, ErrUnauthorized):
		return "not allowed"
	case errors.Is(err, ErrInvalidState):
		return strings.TrimPrefix(err.Error(), ErrInvalidState.Error()+": ")
	default:
		return "internal error"
	}
}
