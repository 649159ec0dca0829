package model

import "time"

// DeletedText replaces the body of a soft-deleted message. The id and
// creation timestamp survive deletion; content mutation does not.
const DeletedText = "This message was deleted"

type Reaction struct {
	UserID    string    `json:"user_id" bson:"user_id"`
	Emoji     string    `json:"emoji" bson:"emoji"`
	ReactedAt time.Time `json:"reacted_at" bson:"reacted_at"`
}

// EditEntry records the text a message had before one edit.
type EditEntry struct {
	Text     string    `json:"text" bson:"text"`
	EditedAt time.Time `json:"edited_at" bson:"edited_at"`
}

type ReadReceipt struct {
	UserID string    `json:"user_id" bson:"user_id"`
	ReadAt time.Time `json:"read_at" bson:"read_at"`
}

type Message struct {
	ID          string        `json:"id" bson:"_id"`
	ChatID      string        `json:"chat_id" bson:"chat_id"`
	SenderID    string        `json:"sender_id" bson:"sender_id"`
	Text        string        `json:"text" bson:"text"`
	ReplyToID   *string       `json:"reply_to_id,omitempty" bson:"reply_to_id,omitempty"`
	Reactions   []Reaction    `json:"reactions" bson:"reactions"`
	Deleted     bool          `json:"deleted" bson:"deleted"`
	Edited      bool          `json:"edited" bson:"edited"`
	EditHistory []EditEntry   `json:"edit_history,omitempty" bson:"edit_history"`
	Pinned      bool          `json:"pinned" bson:"pinned"`
	PinnedBy    string        `json:"pinned_by,omitempty" bson:"pinned_by"`
	PinnedAt    *time.Time    `json:"pinned_at,omitempty" bson:"pinned_at,omitempty"`
	ReadBy      []ReadReceipt `json:"read_by" bson:"read_by"`
	CreatedAt   time.Time     `json:"created_at" bson:"created_at"`

	// Projections resolved at snapshot time, never persisted.
	Sender  *UserPublic `json:"sender,omitempty" bson:"-"`
	ReplyTo *Message    `json:"reply_to,omitempty" bson:"-"`
}

// ReactionBy returns the index of userID's reaction, or -1.
func (m *Message) ReactionBy(userID string) int {
	for i, r := range m.Reactions {
		if r.UserID == userID {
			return i
		}
	}
	return -1
}

// HasReadReceipt reports whether userID already has a read receipt.
func (m *Message) HasReadReceipt(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy; stores hand out clones so callers can
// mutate snapshots without aliasing stored state.
func (m *Message) Clone() *Message {
	cp := *m
	cp.Reactions = append([]Reaction(nil), m.Reactions...)
	cp.EditHistory = append([]EditEntry(nil), m.EditHistory...)
	cp.ReadBy = append([]ReadReceipt(nil), m.ReadBy...)
	if m.ReplyToID != nil {
		id := *m.ReplyToID
		cp.ReplyToID = &id
	}
	if m.PinnedAt != nil {
		at := *m.PinnedAt
		cp.PinnedAt = &at
	}
	return &cp
}
