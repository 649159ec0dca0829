// Package session resolves session ids to user ids. Sessions are issued
// elsewhere; this service only needs the lookup, so the store surface is
// small. Redis backs it in production, memory in -dev.
package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session not found")

// TTL is how long a session stays valid without renewal.
const TTL = 30 * 24 * time.Hour

type Store interface {
	// Set records a session for a user and starts its TTL.
	Set(ctx context.Context, sessionID, userID string) error
	// UserID resolves a session to a user, refreshing the TTL.
	// Returns ErrNotFound for unknown or expired sessions.
	UserID(ctx context.Context, sessionID string) (string, error)
	// Delete revokes a session.
	Delete(ctx context.Context, sessionID string) error
	Close() error
}
