// Package mongo is the MongoDB-backed Store. Each entity maps to one
// collection; message reactions, edit history and read receipts are
// embedded documents, so updates persist the whole snapshot.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

type Store struct {
	users *mongo.Collection
	chats *mongo.Collection
	msgs  *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		users: db.Collection("users"),
		chats: db.Collection("chats"),
		msgs:  db.Collection("messages"),
	}
}

var _ storage.Store = (*Store)(nil)

// EnsureIndexes creates the uniqueness and ordering indexes the store
// relies on. Called once on startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.chats.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "participants", Value: 1}},
		Options: options.Index().SetName("idx_participants_unique").SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongoStore chats index: %w", err)
	}
	_, err = s.msgs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "chat_id", Value: 1},
			{Key: "created_at", Value: 1},
		},
		Options: options.Index().SetName("idx_chat_created"),
	})
	if err != nil {
		return fmt.Errorf("mongoStore messages index: %w", err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.users.InsertOne(ctx, u)
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrExists
	}
	if err != nil {
		return fmt.Errorf("mongoStore.CreateUser: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongoStore.GetUser: %w", err)
	}
	return u, nil
}

func (s *Store) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"is_online": online, "last_seen_at": at}})
	if err != nil {
		return fmt.Errorf("mongoStore.SetOnline: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) TouchActivity(ctx context.Context, id string, at time.Time) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_activity_at": at}})
	if err != nil {
		return fmt.Errorf("mongoStore.TouchActivity: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CreateChat(ctx context.Context, c *model.Chat) error {
	cp := *c
	cp.Participants = model.SortedPair(c.Participants[0], c.Participants[1])
	if cp.PinnedIDs == nil {
		cp.PinnedIDs = []string{}
	}
	_, err := s.chats.InsertOne(ctx, &cp)
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrExists
	}
	if err != nil {
		return fmt.Errorf("mongoStore.CreateChat: %w", err)
	}
	return nil
}

func (s *Store) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	c := &model.Chat{}
	err := s.chats.FindOne(ctx, bson.M{"_id": id}).Decode(c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongoStore.GetChat: %w", err)
	}
	return c, nil
}

func (s *Store) FindChatByParticipants(ctx context.Context, userA, userB string) (*model.Chat, error) {
	c := &model.Chat{}
	err := s.chats.FindOne(ctx, bson.M{"participants": model.SortedPair(userA, userB)}).Decode(c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongoStore.FindChatByParticipants: %w", err)
	}
	return c, nil
}

func (s *Store) ListChatsByUser(ctx context.Context, userID string) ([]model.Chat, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cur, err := s.chats.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongoStore.ListChatsByUser: %w", err)
	}
	defer cur.Close(ctx)
	var chats []model.Chat
	if err := cur.All(ctx, &chats); err != nil {
		return nil, fmt.Errorf("mongoStore.ListChatsByUser decode: %w", err)
	}
	return chats, nil
}

func (s *Store) TouchChat(ctx context.Context, id string, at time.Time) error {
	res, err := s.chats.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"updated_at": at}})
	if err != nil {
		return fmt.Errorf("mongoStore.TouchChat: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) SetPinned(ctx context.Context, chatID string, pinnedIDs []string) error {
	if pinnedIDs == nil {
		pinnedIDs = []string{}
	}
	res, err := s.chats.UpdateOne(ctx, bson.M{"_id": chatID},
		bson.M{"$set": bson.M{"pinned_ids": pinnedIDs}})
	if err != nil {
		return fmt.Errorf("mongoStore.SetPinned: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	cp := m.Clone()
	cp.Sender = nil
	cp.ReplyTo = nil
	if cp.Reactions == nil {
		cp.Reactions = []model.Reaction{}
	}
	if cp.ReadBy == nil {
		cp.ReadBy = []model.ReadReceipt{}
	}
	_, err := s.msgs.InsertOne(ctx, cp)
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrExists
	}
	if err != nil {
		return fmt.Errorf("mongoStore.CreateMessage: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	m := &model.Message{}
	err := s.msgs.FindOne(ctx, bson.M{"_id": id}).Decode(m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongoStore.GetMessage: %w", err)
	}
	s.attachSender(ctx, m)
	return m, nil
}

// attachSender resolves the sender projection; a missing sender is not an
// error, the snapshot just ships without it.
func (s *Store) attachSender(ctx context.Context, m *model.Message) {
	u, err := s.GetUser(ctx, m.SenderID)
	if err != nil {
		return
	}
	pub := u.ToPublic()
	m.Sender = &pub
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.msgs.Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongoStore.ListMessages: %w", err)
	}
	defer cur.Close(ctx)
	var msgs []model.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("mongoStore.ListMessages decode: %w", err)
	}
	// Senders repeat within a chat; resolve each projection once.
	seen := make(map[string]*model.UserPublic, 2)
	for i := range msgs {
		pub, ok := seen[msgs[i].SenderID]
		if !ok {
			if u, err := s.GetUser(ctx, msgs[i].SenderID); err == nil {
				p := u.ToPublic()
				pub = &p
			}
			seen[msgs[i].SenderID] = pub
		}
		msgs[i].Sender = pub
	}
	return msgs, nil
}

func (s *Store) UpdateMessage(ctx context.Context, m *model.Message) error {
	update := bson.M{"$set": bson.M{
		"text":         m.Text,
		"reactions":    orEmpty(m.Reactions),
		"deleted":      m.Deleted,
		"edited":       m.Edited,
		"edit_history": m.EditHistory,
		"pinned":       m.Pinned,
		"pinned_by":    m.PinnedBy,
		"pinned_at":    m.PinnedAt,
		"read_by":      orEmptyReceipts(m.ReadBy),
	}}
	res, err := s.msgs.UpdateOne(ctx, bson.M{"_id": m.ID}, update)
	if err != nil {
		return fmt.Errorf("mongoStore.UpdateMessage: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func orEmpty(v []model.Reaction) []model.Reaction {
	if v == nil {
		return []model.Reaction{}
	}
	return v
}

func orEmptyReceipts(v []model.ReadReceipt) []model.ReadReceipt {
	if v == nil {
		return []model.ReadReceipt{}
	}
	return v
}
