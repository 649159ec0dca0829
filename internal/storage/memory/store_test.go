package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

func seedPair(t *testing.T, s *Store) (string, string) {
	t.Helper()
	ctx := context.Background()
	a, b := storage.NewID(), storage.NewID()
	now := time.Now().UTC()
	for id, name := range map[string]string{a: "alice", b: "bob"} {
		if err := s.CreateUser(ctx, &model.User{ID: id, Username: name, CreatedAt: now}); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	return a, b
}

func TestGetOrCreateDirectChatConverges(t *testing.T) {
	s := New()
	ctx := context.Background()
	a, b := seedPair(t, s)
	now := time.Now().UTC()

	first, created, err := storage.GetOrCreateDirectChat(ctx, s, a, b, now)
	if err != nil || !created {
		t.Fatalf("first: created=%v err=%v", created, err)
	}
	// Reversed participant order resolves to the same chat.
	second, created, err := storage.GetOrCreateDirectChat(ctx, s, b, a, now)
	if err != nil || created {
		t.Fatalf("second: created=%v err=%v", created, err)
	}
	if first.ID != second.ID {
		t.Fatalf("pair diverged: %s vs %s", first.ID, second.ID)
	}
	if first.Participants[0] >= first.Participants[1] {
		t.Fatalf("participants not sorted: %v", first.Participants)
	}
}

func TestCreateChatDuplicatePair(t *testing.T) {
	s := New()
	ctx := context.Background()
	a, b := seedPair(t, s)
	now := time.Now().UTC()

	c1 := &model.Chat{ID: storage.NewID(), Participants: model.SortedPair(a, b), CreatedAt: now, UpdatedAt: now}
	if err := s.CreateChat(ctx, c1); err != nil {
		t.Fatalf("create: %v", err)
	}
	c2 := &model.Chat{ID: storage.NewID(), Participants: model.SortedPair(b, a), CreatedAt: now, UpdatedAt: now}
	if err := s.CreateChat(ctx, c2); !errors.Is(err, storage.ErrExists) {
		t.Fatalf("duplicate pair: %v", err)
	}
}

func TestListMessagesOrderAndSender(t *testing.T) {
	s := New()
	ctx := context.Background()
	a, b := seedPair(t, s)
	now := time.Now().UTC()
	chat, _, err := storage.GetOrCreateDirectChat(ctx, s, a, b, now)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	for i, text := range []string{"one", "two", "three"} {
		m := &model.Message{
			ID:        storage.NewID(),
			ChatID:    chat.ID,
			SenderID:  a,
			Text:      text,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}

	msgs, err := s.ListMessages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 || msgs[0].Text != "one" || msgs[2].Text != "three" {
		t.Fatalf("order: %+v", msgs)
	}
	for _, m := range msgs {
		if m.Sender == nil || m.Sender.Username != "alice" {
			t.Fatalf("sender projection missing on %s", m.ID)
		}
	}
}

func TestUpdateMessagePersistsSnapshot(t *testing.T) {
	s := New()
	ctx := context.Background()
	a, b := seedPair(t, s)
	now := time.Now().UTC()
	chat, _, err := storage.GetOrCreateDirectChat(ctx, s, a, b, now)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	m := &model.Message{ID: storage.NewID(), ChatID: chat.ID, SenderID: a, Text: "v1", CreatedAt: now}
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	m.Text = "v2"
	m.Edited = true
	m.EditHistory = []model.EditEntry{{Text: "v1", EditedAt: now}}
	m.Reactions = []model.Reaction{{UserID: b, Emoji: "👍", ReactedAt: now}}
	m.ReadBy = []model.ReadReceipt{{UserID: b, ReadAt: now}}
	if err := s.UpdateMessage(ctx, m); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Text != "v2" || !got.Edited || len(got.EditHistory) != 1 || len(got.Reactions) != 1 || len(got.ReadBy) != 1 {
		t.Fatalf("snapshot lost fields: %+v", got)
	}

	// Mutating the returned clone must not leak back into the store.
	got.Reactions[0].Emoji = "💥"
	again, _ := s.GetMessage(ctx, m.ID)
	if again.Reactions[0].Emoji != "👍" {
		t.Fatalf("store state aliased by caller")
	}
}

func TestGetMessageNotFound(t *testing.T) {
	s := New()
	if _, err := s.GetMessage(context.Background(), storage.NewID()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
