// Package storage defines the durable store contract for users, chats and
// messages. Backends: postgres (production), mongo, memory (dev and tests).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/chatsync/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrExists is returned by Create when a uniqueness constraint is hit
	// (duplicate id, duplicate chat participant pair).
	ErrExists = errors.New("already exists")
)

// ValidID reports whether id has the shape of a server-issued opaque id.
// Operations receiving a malformed id are dropped before touching a store.
func ValidID(id string) bool {
	return uuid.Validate(id) == nil
}

// NewID issues an opaque identifier.
func NewID() string { return uuid.New().String() }

type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	// SetOnline flips the online flag and stamps last-seen.
	SetOnline(ctx context.Context, id string, online bool, at time.Time) error
	// TouchActivity stamps last-activity.
	TouchActivity(ctx context.Context, id string, at time.Time) error
}

type ChatStore interface {
	CreateChat(ctx context.Context, c *model.Chat) error
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	// FindChatByParticipants looks up the chat for an unordered user pair.
	FindChatByParticipants(ctx context.Context, userA, userB string) (*model.Chat, error)
	// ListChatsByUser returns the user's chats, most recently updated first.
	ListChatsByUser(ctx context.Context, userID string) ([]model.Chat, error)
	// TouchChat bumps the chat's update timestamp.
	TouchChat(ctx context.Context, id string, at time.Time) error
	// SetPinned replaces the chat's pinned message id set.
	SetPinned(ctx context.Context, chatID string, pinnedIDs []string) error
}

type MessageStore interface {
	CreateMessage(ctx context.Context, m *model.Message) error
	// GetMessage returns the message with its Sender projection populated.
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	// ListMessages returns all of a chat's messages in creation order with
	// Sender projections populated.
	ListMessages(ctx context.Context, chatID string) ([]model.Message, error)
	// UpdateMessage persists the mutable fields of m (text, reactions,
	// flags, edit history, pin metadata, read receipts).
	UpdateMessage(ctx context.Context, m *model.Message) error
}

// Store bundles the three entity stores a backend provides.
type Store interface {
	UserStore
	ChatStore
	MessageStore
}

// GetOrCreateDirectChat finds the chat for the unordered pair (userA,
// userB), creating it lazily on first request. A racing create falls back
// to the winner's row, so duplicate requests always converge on one chat.
// Returns the chat and whether it was created by this call.
func GetOrCreateDirectChat(ctx context.Context, chats ChatStore, userA, userB string, now time.Time) (*model.Chat, bool, error) {
	c, err := chats.FindChatByParticipants(ctx, userA, userB)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	c = &model.Chat{
		ID:           NewID(),
		Participants: model.SortedPair(userA, userB),
		PinnedIDs:    []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = chats.CreateChat(ctx, c)
	if errors.Is(err, ErrExists) {
		existing, findErr := chats.FindChatByParticipants(ctx, userA, userB)
		if findErr != nil {
			return nil, false, findErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}
