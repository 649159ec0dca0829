package model

import "time"

type User struct {
	ID             string    `json:"id" bson:"_id"`
	Username       string    `json:"username" bson:"username"`
	AvatarURL      string    `json:"avatar_url" bson:"avatar_url"`
	Bio            string    `json:"bio,omitempty" bson:"bio"`
	IsOnline       bool      `json:"is_online" bson:"is_online"`
	LastSeenAt     time.Time `json:"last_seen_at" bson:"last_seen_at"`
	LastActivityAt time.Time `json:"last_activity_at" bson:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

// UserPublic is the minimal projection attached to message snapshots
// and chat participant lists.
type UserPublic struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	AvatarURL  string    `json:"avatar_url"`
	IsOnline   bool      `json:"is_online"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:         u.ID,
		Username:   u.Username,
		AvatarURL:  u.AvatarURL,
		IsOnline:   u.IsOnline,
		LastSeenAt: u.LastSeenAt,
	}
}
