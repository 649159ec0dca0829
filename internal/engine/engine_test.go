package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
	"github.com/chatsync/internal/storage/memory"
)

type sentEvent struct {
	group  string
	connID string
	ev     event.Event
}

// fakeDelivery records everything the engine fans out.
type fakeDelivery struct {
	sent    []sentEvent
	members map[string]map[string]bool
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{members: make(map[string]map[string]bool)}
}

func (d *fakeDelivery) Broadcast(groupID string, ev event.Event) {
	d.sent = append(d.sent, sentEvent{group: groupID, ev: ev})
}

func (d *fakeDelivery) Unicast(connID string, ev event.Event) {
	d.sent = append(d.sent, sentEvent{connID: connID, ev: ev})
}

func (d *fakeDelivery) IsMember(groupID, connID string) bool {
	return d.members[groupID][connID]
}

func (d *fakeDelivery) join(groupID, connID string) {
	if d.members[groupID] == nil {
		d.members[groupID] = make(map[string]bool)
	}
	d.members[groupID][connID] = true
}

func (d *fakeDelivery) broadcasts(typ event.Type) []sentEvent {
	var out []sentEvent
	for _, s := range d.sent {
		if s.connID == "" && s.ev.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

func (d *fakeDelivery) unicasts(connID string) []event.Event {
	var out []event.Event
	for _, s := range d.sent {
		if s.connID == connID {
			out = append(out, s.ev)
		}
	}
	return out
}

type fixture struct {
	eng      *Engine
	delivery *fakeDelivery
	store    *memory.Store
	alice    string
	bob      string
	chatID   string
	connID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	delivery := newFakeDelivery()
	eng := New(store, delivery, nil)

	ctx := context.Background()
	now := time.Now().UTC()
	alice := storage.NewID()
	bob := storage.NewID()
	for id, name := range map[string]string{alice: "alice", bob: "bob"} {
		if err := store.CreateUser(ctx, &model.User{ID: id, Username: name, CreatedAt: now}); err != nil {
			t.Fatalf("create user %s: %v", name, err)
		}
	}
	chat, _, err := storage.GetOrCreateDirectChat(ctx, store, alice, bob, now)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	connID := storage.NewID()
	delivery.join(event.ChatGroup(chat.ID), connID)
	return &fixture{eng: eng, delivery: delivery, store: store, alice: alice, bob: bob, chatID: chat.ID, connID: connID}
}

func (f *fixture) send(t *testing.T, sender, text string) *model.Message {
	t.Helper()
	if err := f.eng.Send(context.Background(), f.connID, f.chatID, sender, text, ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	created := f.delivery.broadcasts(event.TypeMessageCreated)
	m, ok := created[len(created)-1].ev.Payload.(*model.Message)
	if !ok {
		t.Fatalf("message_created payload is %T", created[len(created)-1].ev.Payload)
	}
	return m
}

func TestOpenDirectChatIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.eng.OpenDirectChat(ctx, f.alice, f.bob)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	second, err := f.eng.OpenDirectChat(ctx, f.bob, f.alice)
	if err != nil {
		t.Fatalf("open reversed: %v", err)
	}
	if first.ID != f.chatID || second.ID != f.chatID {
		t.Fatalf("expected one chat %s, got %s and %s", f.chatID, first.ID, second.ID)
	}
	// The chat already existed, so no chat_touched announcements.
	if got := f.delivery.broadcasts(event.TypeChatTouched); len(got) != 0 {
		t.Fatalf("expected no chat_touched, got %d", len(got))
	}
}

func TestOpenDirectChatAnnouncesCreation(t *testing.T) {
	store := memory.New()
	delivery := newFakeDelivery()
	eng := New(store, delivery, nil)
	ctx := context.Background()

	a, b := storage.NewID(), storage.NewID()
	for _, id := range []string{a, b} {
		if err := store.CreateUser(ctx, &model.User{ID: id, Username: "u", CreatedAt: time.Now().UTC()}); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	chat, err := eng.OpenDirectChat(ctx, a, b)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	touched := delivery.broadcasts(event.TypeChatTouched)
	if len(touched) != 2 {
		t.Fatalf("expected chat_touched to both participants, got %d", len(touched))
	}
	groups := map[string]bool{touched[0].group: true, touched[1].group: true}
	if !groups[event.UserGroup(a)] || !groups[event.UserGroup(b)] {
		t.Fatalf("chat_touched went to %v", groups)
	}
	if len(chat.Members) != 2 {
		t.Fatalf("expected 2 member projections, got %d", len(chat.Members))
	}
}

func TestOpenDirectChatWithSelf(t *testing.T) {
	f := newFixture(t)
	if _, err := f.eng.OpenDirectChat(context.Background(), f.alice, f.alice); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestSendBroadcastsAndTouches(t *testing.T) {
	f := newFixture(t)
	m := f.send(t, f.alice, "hello")

	if m.ChatID != f.chatID || m.SenderID != f.alice || m.Text != "hello" {
		t.Fatalf("bad snapshot: %+v", m)
	}
	if m.Sender == nil || m.Sender.Username != "alice" {
		t.Fatalf("sender projection missing: %+v", m.Sender)
	}
	created := f.delivery.broadcasts(event.TypeMessageCreated)
	if len(created) != 1 || created[0].group != event.ChatGroup(f.chatID) {
		t.Fatalf("message_created broadcasts: %+v", created)
	}
	touched := f.delivery.broadcasts(event.TypeChatTouched)
	if len(touched) != 2 {
		t.Fatalf("expected chat_touched to both personal groups, got %d", len(touched))
	}
	// The connection is in the chat group already, no compensating unicast.
	if got := f.delivery.unicasts(f.connID); len(got) != 0 {
		t.Fatalf("unexpected unicasts: %+v", got)
	}
}

func TestSendUnicastsWhenSenderOutsideGroup(t *testing.T) {
	f := newFixture(t)
	outside := storage.NewID()
	if err := f.eng.Send(context.Background(), outside, f.chatID, f.alice, "hi", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := f.delivery.unicasts(outside)
	if len(got) != 1 || got[0].Type != event.TypeMessageCreated {
		t.Fatalf("expected one compensating unicast, got %+v", got)
	}
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.eng.Send(ctx, f.connID, "not-a-uuid", f.alice, "x", ""); !errors.Is(err, ErrMalformedID) {
		t.Fatalf("malformed chat id: %v", err)
	}
	if err := f.eng.Send(ctx, f.connID, f.chatID, f.alice, "   ", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("blank text: %v", err)
	}
	stranger := storage.NewID()
	if err := f.store.CreateUser(ctx, &model.User{ID: stranger, Username: "eve", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create stranger: %v", err)
	}
	if err := f.eng.Send(ctx, f.connID, f.chatID, stranger, "hi", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-participant: %v", err)
	}
}

func TestSendReplyMustShareChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A second chat with a third user gives a foreign message to reply to.
	carol := storage.NewID()
	if err := f.store.CreateUser(ctx, &model.User{ID: carol, Username: "carol", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create carol: %v", err)
	}
	other, _, err := storage.GetOrCreateDirectChat(ctx, f.store, f.alice, carol, time.Now().UTC())
	if err != nil {
		t.Fatalf("create other chat: %v", err)
	}
	if err := f.eng.Send(ctx, f.connID, other.ID, f.alice, "elsewhere", ""); err != nil {
		t.Fatalf("send to other chat: %v", err)
	}
	foreign := f.delivery.broadcasts(event.TypeMessageCreated)[0].ev.Payload.(*model.Message)

	if err := f.eng.Send(ctx, f.connID, f.chatID, f.alice, "reply", foreign.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("cross-chat reply: %v", err)
	}
}

func TestSendReplySnapshot(t *testing.T) {
	f := newFixture(t)
	orig := f.send(t, f.alice, "first")
	if err := f.eng.Send(context.Background(), f.connID, f.chatID, f.bob, "reply", orig.ID); err != nil {
		t.Fatalf("reply: %v", err)
	}
	created := f.delivery.broadcasts(event.TypeMessageCreated)
	reply := created[len(created)-1].ev.Payload.(*model.Message)
	if reply.ReplyTo == nil || reply.ReplyTo.ID != orig.ID || reply.ReplyTo.Text != "first" {
		t.Fatalf("reply-to preview missing: %+v", reply.ReplyTo)
	}
}

func TestEditRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, f.alice, "draft")

	if err := f.eng.Edit(ctx, m.ID, f.bob, "hijack"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner edit: %v", err)
	}
	if err := f.eng.Edit(ctx, m.ID, f.alice, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("empty edit: %v", err)
	}
	if err := f.eng.Edit(ctx, m.ID, f.alice, "final"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	got, err := f.store.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Text != "final" || !got.Edited {
		t.Fatalf("edit not applied: %+v", got)
	}
	if len(got.EditHistory) != 1 || got.EditHistory[0].Text != "draft" {
		t.Fatalf("edit history: %+v", got.EditHistory)
	}
	updated := f.delivery.broadcasts(event.TypeMessageUpdated)
	if len(updated) != 1 {
		t.Fatalf("expected one message_updated, got %d", len(updated))
	}
}

func TestDeleteIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, f.alice, "oops")
	if err := f.eng.React(ctx, m.ID, f.bob, "👍"); err != nil {
		t.Fatalf("react: %v", err)
	}

	if err := f.eng.Delete(ctx, m.ID, f.bob); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner delete: %v", err)
	}
	if err := f.eng.Delete(ctx, m.ID, f.alice); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, _ := f.store.GetMessage(ctx, m.ID)
	if !got.Deleted || got.Text != model.DeletedText {
		t.Fatalf("not tombstoned: %+v", got)
	}
	if len(got.Reactions) != 0 {
		t.Fatalf("reactions survived delete: %+v", got.Reactions)
	}

	// Deleted messages reject every further mutation except unpin.
	if err := f.eng.Edit(ctx, m.ID, f.alice, "resurrect"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("edit after delete: %v", err)
	}
	if err := f.eng.React(ctx, m.ID, f.bob, "🔥"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("react after delete: %v", err)
	}

	// A repeated delete succeeds quietly without another broadcast.
	before := len(f.delivery.broadcasts(event.TypeMessageUpdated))
	if err := f.eng.Delete(ctx, m.ID, f.alice); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if after := len(f.delivery.broadcasts(event.TypeMessageUpdated)); after != before {
		t.Fatalf("second delete broadcast: %d -> %d", before, after)
	}
}

func TestReactToggleReplace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, f.alice, "hi")

	if err := f.eng.React(ctx, m.ID, f.bob, "👍"); err != nil {
		t.Fatalf("react: %v", err)
	}
	if err := f.eng.React(ctx, m.ID, f.bob, "❤️"); err != nil {
		t.Fatalf("re-react: %v", err)
	}

	got, _ := f.store.GetMessage(ctx, m.ID)
	if len(got.Reactions) != 1 {
		t.Fatalf("expected one reaction, got %+v", got.Reactions)
	}
	if got.Reactions[0].UserID != f.bob || got.Reactions[0].Emoji != "❤️" {
		t.Fatalf("wrong reaction kept: %+v", got.Reactions[0])
	}

	// Both participants may hold one each.
	if err := f.eng.React(ctx, m.ID, f.alice, "😀"); err != nil {
		t.Fatalf("second user react: %v", err)
	}
	got, _ = f.store.GetMessage(ctx, m.ID)
	if len(got.Reactions) != 2 {
		t.Fatalf("expected two reactions, got %+v", got.Reactions)
	}
}

func TestReactRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, f.alice, "hi")
	stranger := storage.NewID()
	if err := f.store.CreateUser(ctx, &model.User{ID: stranger, Username: "eve", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create stranger: %v", err)
	}
	if err := f.eng.React(ctx, m.ID, stranger, "👀"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger react: %v", err)
	}
}

func TestPinUpdatesChatSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, f.alice, "important")

	if err := f.eng.Pin(ctx, f.chatID, m.ID, f.bob); err != nil {
		t.Fatalf("pin: %v", err)
	}

	got, _ := f.store.GetMessage(ctx, m.ID)
	if !got.Pinned || got.PinnedBy != f.bob || got.PinnedAt == nil {
		t.Fatalf("pin metadata: %+v", got)
	}
	chat, _ := f.store.GetChat(ctx, f.chatID)
	if len(chat.PinnedIDs) != 1 || chat.PinnedIDs[0] != m.ID {
		t.Fatalf("chat pinned set: %+v", chat.PinnedIDs)
	}

	// message_updated lands before pinned_changed so observers see pin
	// metadata on the message before the set changes.
	var order []event.Type
	for _, s := range f.delivery.sent {
		if s.ev.Type == event.TypeMessageUpdated || s.ev.Type == event.TypePinnedChanged {
			order = append(order, s.ev.Type)
		}
	}
	if len(order) != 2 || order[0] != event.TypeMessageUpdated || order[1] != event.TypePinnedChanged {
		t.Fatalf("broadcast order: %v", order)
	}

	if err := f.eng.Unpin(ctx, f.chatID, m.ID, f.alice); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	chat, _ = f.store.GetChat(ctx, f.chatID)
	if len(chat.PinnedIDs) != 0 {
		t.Fatalf("pinned set after unpin: %+v", chat.PinnedIDs)
	}
	got, _ = f.store.GetMessage(ctx, m.ID)
	if got.Pinned || got.PinnedBy != "" || got.PinnedAt != nil {
		t.Fatalf("pin metadata after unpin: %+v", got)
	}
}

func TestPinDeletedRejectedUnpinAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, f.alice, "pin me")
	if err := f.eng.Pin(ctx, f.chatID, m.ID, f.alice); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if err := f.eng.Delete(ctx, m.ID, f.alice); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := f.eng.Pin(ctx, f.chatID, m.ID, f.bob); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("pin deleted: %v", err)
	}
	// Stale pins on deleted messages can still be cleaned up.
	if err := f.eng.Unpin(ctx, f.chatID, m.ID, f.bob); err != nil {
		t.Fatalf("unpin deleted: %v", err)
	}
	chat, _ := f.store.GetChat(ctx, f.chatID)
	if len(chat.PinnedIDs) != 0 {
		t.Fatalf("pinned set: %+v", chat.PinnedIDs)
	}
}

func TestPinCrossChatRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, f.alice, "here")

	carol := storage.NewID()
	if err := f.store.CreateUser(ctx, &model.User{ID: carol, Username: "carol", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create carol: %v", err)
	}
	other, _, err := storage.GetOrCreateDirectChat(ctx, f.store, f.alice, carol, time.Now().UTC())
	if err != nil {
		t.Fatalf("create other chat: %v", err)
	}
	if err := f.eng.Pin(ctx, other.ID, m.ID, f.alice); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("cross-chat pin: %v", err)
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, f.alice, "read me")

	// The sender reading their own message records nothing.
	if err := f.eng.MarkRead(ctx, m.ID, f.alice); err != nil {
		t.Fatalf("self mark read: %v", err)
	}
	got, _ := f.store.GetMessage(ctx, m.ID)
	if len(got.ReadBy) != 0 {
		t.Fatalf("self receipt recorded: %+v", got.ReadBy)
	}

	if err := f.eng.MarkRead(ctx, m.ID, f.bob); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := f.eng.MarkRead(ctx, m.ID, f.bob); err != nil {
		t.Fatalf("repeat mark read: %v", err)
	}
	got, _ = f.store.GetMessage(ctx, m.ID)
	if len(got.ReadBy) != 1 || got.ReadBy[0].UserID != f.bob {
		t.Fatalf("receipts: %+v", got.ReadBy)
	}
	if updated := f.delivery.broadcasts(event.TypeMessageUpdated); len(updated) != 1 {
		t.Fatalf("expected one message_updated, got %d", len(updated))
	}
}

func TestMarkChatReadAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, f.alice, "one")
	f.send(t, f.alice, "two")
	f.send(t, f.bob, "three")

	if err := f.eng.MarkChatRead(ctx, f.chatID, f.bob); err != nil {
		t.Fatalf("mark chat read: %v", err)
	}

	receipts := f.delivery.broadcasts(event.TypeReadReceipts)
	if len(receipts) != 1 {
		t.Fatalf("expected one read_receipts broadcast, got %d", len(receipts))
	}
	p := receipts[0].ev.Payload.(event.ReadReceiptsPayload)
	if p.ChatID != f.chatID || len(p.Messages) != 3 {
		t.Fatalf("payload: chat=%s msgs=%d", p.ChatID, len(p.Messages))
	}
	for _, m := range p.Messages {
		if m.SenderID == f.bob {
			if len(m.ReadBy) != 0 {
				t.Fatalf("own message got a receipt: %+v", m.ReadBy)
			}
			continue
		}
		if len(m.ReadBy) != 1 || m.ReadBy[0].UserID != f.bob {
			t.Fatalf("missing receipt on %s: %+v", m.ID, m.ReadBy)
		}
	}

	// Everything already read: quietly no broadcast.
	if err := f.eng.MarkChatRead(ctx, f.chatID, f.bob); err != nil {
		t.Fatalf("repeat mark chat read: %v", err)
	}
	if got := f.delivery.broadcasts(event.TypeReadReceipts); len(got) != 1 {
		t.Fatalf("repeat broadcast: %d", len(got))
	}
}

func TestHistoryUnicast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, f.alice, "a")
	f.send(t, f.bob, "b")

	if err := f.eng.History(ctx, f.connID, f.chatID, f.bob); err != nil {
		t.Fatalf("history: %v", err)
	}
	got := f.delivery.unicasts(f.connID)
	if len(got) != 1 || got[0].Type != event.TypeHistoryLoaded {
		t.Fatalf("unicasts: %+v", got)
	}
	p := got[0].Payload.(event.HistoryPayload)
	if len(p.Messages) != 2 || p.Messages[0].Text != "a" || p.Messages[1].Text != "b" {
		t.Fatalf("history payload: %+v", p.Messages)
	}

	stranger := storage.NewID()
	if err := f.store.CreateUser(ctx, &model.User{ID: stranger, Username: "eve", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create stranger: %v", err)
	}
	if err := f.eng.History(ctx, f.connID, f.chatID, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger history: %v", err)
	}
}

func TestUserMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrMalformedID, "malformed id"},
		{storage.ErrNotFound, "not found"},
		{ErrUnauthorized, "not allowed"},
		{errors.New("pgx: broken pipe"), "internal error"},
	}
	for _, c := range cases {
		if got := UserMessage(c.err); got != c.want {
			t.Fatalf("UserMessage(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

// updateFailStore rejects UpdateMessage for one message id.
type updateFailStore struct {
	storage.Store
	failID string
}

func (s *updateFailStore) UpdateMessage(ctx context.Context, m *model.Message) error {
	if m.ID == s.failID {
		return errors.New("write refused")
	}
	return s.Store.UpdateMessage(ctx, m)
}

func TestMarkChatReadOmitsUnpersistedReceipts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.send(t, f.alice, "one")
	second := f.send(t, f.alice, "two")

	eng := New(&updateFailStore{Store: f.store, failID: first.ID}, f.delivery, nil)
	if err := eng.MarkChatRead(ctx, f.chatID, f.bob); err != nil {
		t.Fatalf("mark chat read: %v", err)
	}

	rr := f.delivery.broadcasts(event.TypeReadReceipts)
	if len(rr) != 1 {
		t.Fatalf("read_receipts broadcasts: %d", len(rr))
	}
	p := rr[0].ev.Payload.(event.ReadReceiptsPayload)
	for _, m := range p.Messages {
		switch m.ID {
		case first.ID:
			if m.HasReadReceipt(f.bob) {
				t.Fatalf("broadcast carries a receipt the store rejected")
			}
		case second.ID:
			if !m.HasReadReceipt(f.bob) {
				t.Fatalf("persisted receipt missing from broadcast")
			}
		}
	}
	stored, err := f.store.GetMessage(ctx, first.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if stored.HasReadReceipt(f.bob) {
		t.Fatalf("rejected receipt reached the store")
	}
}

type notifyCall struct {
	userID string
	body   string
}

type fakeNotifier struct {
	calls chan notifyCall
}

func (n *fakeNotifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	n.calls <- notifyCall{userID: userID, body: body}
}

func TestNotificationBodyTruncatesOnRuneBoundary(t *testing.T) {
	f := newFixture(t)
	notifier := &fakeNotifier{calls: make(chan notifyCall, 4)}
	eng := New(f.store, f.delivery, notifier)

	long := strings.Repeat("я", 100)
	if err := eng.Send(context.Background(), f.connID, f.chatID, f.alice, long, ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case call := <-notifier.calls:
		if call.userID != f.bob {
			t.Fatalf("notified %s, want %s", call.userID, f.bob)
		}
		if !utf8.ValidString(call.body) {
			t.Fatalf("notification body is not valid UTF-8: %q", call.body)
		}
		if !strings.HasSuffix(call.body, "...") || len(call.body) > 120 {
			t.Fatalf("body not truncated: %d bytes", len(call.body))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no notification delivered")
	}
}

func TestTruncateBody(t *testing.T) {
	if got := truncateBody("short", 120); got != "short" {
		t.Fatalf("short body altered: %q", got)
	}
	ascii := strings.Repeat("a", 121)
	if got := truncateBody(ascii, 120); got != strings.Repeat("a", 117)+"..." {
		t.Fatalf("ascii truncation: %d bytes", len(got))
	}
	wide := strings.Repeat("я", 100)
	got := truncateBody(wide, 120)
	if !utf8.ValidString(got) || len(got) > 120 {
		t.Fatalf("wide truncation: %q", got)
	}
}
