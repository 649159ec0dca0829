package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

func (r *UserStore) CreateUser(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, avatar_url, bio, is_online, last_seen_at, last_activity_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Username, u.AvatarURL, u.Bio, u.IsOnline, u.LastSeenAt, u.LastActivityAt, u.CreatedAt,
	)
	if uniqueViolation(err) {
		return storage.ErrExists
	}
	if err != nil {
		return fmt.Errorf("userStore.Create: %w", err)
	}
	return nil
}

func (r *UserStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.Get", time.Now())()
	u := &model.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, avatar_url, bio, is_online, last_seen_at, last_activity_at, created_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.AvatarURL, &u.Bio, &u.IsOnline, &u.LastSeenAt, &u.LastActivityAt, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userStore.Get: %w", err)
	}
	return u, nil
}

func (r *UserStore) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	defer logger.DeferLogDuration("user.SetOnline", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $1, last_seen_at = $2 WHERE id = $3`,
		online, at, id,
	)
	if err != nil {
		return fmt.Errorf("userStore.SetOnline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *UserStore) TouchActivity(ctx context.Context, id string, at time.Time) error {
	defer logger.DeferLogDuration("user.TouchActivity", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET last_activity_at = $1 WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("userStore.TouchActivity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
