package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

type ChatStore struct {
	pool *pgxpool.Pool
}

func NewChatStore(pool *pgxpool.Pool) *ChatStore {
	return &ChatStore{pool: pool}
}

func (r *ChatStore) CreateChat(ctx context.Context, c *model.Chat) error {
	defer logger.DeferLogDuration("chat.Create", time.Now())()
	pinned, err := json.Marshal(c.PinnedIDs)
	if err != nil {
		return fmt.Errorf("chatStore.Create marshal: %w", err)
	}
	pair := model.SortedPair(c.Participants[0], c.Participants[1])
	_, err = r.pool.Exec(ctx,
		`INSERT INTO chats (id, participant_a, participant_b, pinned_ids, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, pair[0], pair[1], pinned, c.CreatedAt, c.UpdatedAt,
	)
	if uniqueViolation(err) {
		return storage.ErrExists
	}
	if err != nil {
		return fmt.Errorf("chatStore.Create: %w", err)
	}
	return nil
}

func (r *ChatStore) scanChat(row pgx.Row) (*model.Chat, error) {
	c := &model.Chat{}
	var a, b string
	var pinned []byte
	err := row.Scan(&c.ID, &a, &b, &pinned, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Participants = []string{a, b}
	if err := json.Unmarshal(pinned, &c.PinnedIDs); err != nil {
		return nil, fmt.Errorf("pinned_ids unmarshal: %w", err)
	}
	if c.PinnedIDs == nil {
		c.PinnedIDs = []string{}
	}
	return c, nil
}

const chatColumns = `id, participant_a, participant_b, pinned_ids, created_at, updated_at`

func (r *ChatStore) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.Get", time.Now())()
	c, err := r.scanChat(r.pool.QueryRow(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE id = $1`, id))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("chatStore.Get: %w", err)
	}
	return c, err
}

func (r *ChatStore) FindChatByParticipants(ctx context.Context, userA, userB string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.FindByParticipants", time.Now())()
	pair := model.SortedPair(userA, userB)
	c, err := r.scanChat(r.pool.QueryRow(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE participant_a = $1 AND participant_b = $2`,
		pair[0], pair[1]))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("chatStore.FindByParticipants: %w", err)
	}
	return c, err
}

func (r *ChatStore) ListChatsByUser(ctx context.Context, userID string) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chat.ListByUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+chatColumns+` FROM chats
		 WHERE participant_a = $1 OR participant_b = $1
		 ORDER BY updated_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatStore.ListByUser query: %w", err)
	}
	defer rows.Close()

	chats := make([]model.Chat, 0, 16)
	for rows.Next() {
		c, err := r.scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("chatStore.ListByUser scan: %w", err)
		}
		chats = append(chats, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatStore.ListByUser rows: %w", err)
	}
	return chats, nil
}

func (r *ChatStore) TouchChat(ctx context.Context, id string, at time.Time) error {
	defer logger.DeferLogDuration("chat.Touch", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE chats SET updated_at = $1 WHERE id = $2`, at, id,
	)
	if err != nil {
		return fmt.Errorf("chatStore.Touch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *ChatStore) SetPinned(ctx context.Context, chatID string, pinnedIDs []string) error {
	defer logger.DeferLogDuration("chat.SetPinned", time.Now())()
	if pinnedIDs == nil {
		pinnedIDs = []string{}
	}
	pinned, err := json.Marshal(pinnedIDs)
	if err != nil {
		return fmt.Errorf("chatStore.SetPinned marshal: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE chats SET pinned_ids = $1 WHERE id = $2`, pinned, chatID,
	)
	if err != nil {
		return fmt.Errorf("chatStore.SetPinned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
