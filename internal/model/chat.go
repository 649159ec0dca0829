package model

import (
	"sort"
	"time"
)

// Chat is a direct conversation between exactly two users. Participants
// are stored sorted so that a lookup by unordered pair is deterministic:
// at most one chat exists per pair.
type Chat struct {
	ID           string       `json:"id" bson:"_id"`
	Participants []string     `json:"participants" bson:"participants"`
	PinnedIDs    []string     `json:"pinned_ids" bson:"pinned_ids"`
	CreatedAt    time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" bson:"updated_at"`
	Members      []UserPublic `json:"members,omitempty" bson:"-"`
}

// SortedPair returns the two user ids in canonical order.
func SortedPair(a, b string) []string {
	p := []string{a, b}
	sort.Strings(p)
	return p
}

func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// HasPinned reports whether messageID is in the chat's pinned set.
func (c *Chat) HasPinned(messageID string) bool {
	for _, id := range c.PinnedIDs {
		if id == messageID {
			return true
		}
	}
	return false
}

// AddPinned adds messageID to the pinned set, deduplicating.
func (c *Chat) AddPinned(messageID string) {
	if c.HasPinned(messageID) {
		return
	}
	c.PinnedIDs = append(c.PinnedIDs, messageID)
}

// RemovePinned removes messageID from the pinned set if present.
func (c *Chat) RemovePinned(messageID string) {
	for i, id := range c.PinnedIDs {
		if id == messageID {
			c.PinnedIDs = append(c.PinnedIDs[:i], c.PinnedIDs[i+1:]...)
			return
		}
	}
}
