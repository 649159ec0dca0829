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

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

func (r *MessageStore) CreateMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	reactions, history, readBy, err := marshalMutable(m)
	if err != nil {
		return fmt.Errorf("msgStore.Create marshal: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, text, reply_to_id, reactions,
		                       deleted, edited, edit_history, pinned, pinned_by, pinned_at, read_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		m.ID, m.ChatID, m.SenderID, m.Text, m.ReplyToID, reactions,
		m.Deleted, m.Edited, history, m.Pinned, nullIfEmpty(m.PinnedBy), m.PinnedAt, readBy, m.CreatedAt,
	)
	if uniqueViolation(err) {
		return storage.ErrExists
	}
	if err != nil {
		return fmt.Errorf("msgStore.Create: %w", err)
	}
	return nil
}

func marshalMutable(m *model.Message) (reactions, history, readBy []byte, err error) {
	if reactions, err = json.Marshal(orEmptyReactions(m.Reactions)); err != nil {
		return
	}
	if history, err = json.Marshal(orEmptyHistory(m.EditHistory)); err != nil {
		return
	}
	readBy, err = json.Marshal(orEmptyReceipts(m.ReadBy))
	return
}

func orEmptyReactions(v []model.Reaction) []model.Reaction {
	if v == nil {
		return []model.Reaction{}
	}
	return v
}

func orEmptyHistory(v []model.EditEntry) []model.EditEntry {
	if v == nil {
		return []model.EditEntry{}
	}
	return v
}

func orEmptyReceipts(v []model.ReadReceipt) []model.ReadReceipt {
	if v == nil {
		return []model.ReadReceipt{}
	}
	return v
}

const messageColumns = `m.id, m.chat_id, m.sender_id, m.text, m.reply_to_id, m.reactions,
	m.deleted, m.edited, m.edit_history, m.pinned, m.pinned_by, m.pinned_at, m.read_by, m.created_at,
	u.id, u.username, u.avatar_url, u.is_online, u.last_seen_at`

func scanMessage(row pgx.Row) (*model.Message, error) {
	m := &model.Message{}
	sender := &model.UserPublic{}
	var reactions, history, readBy []byte
	var pinnedBy *string
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.ReplyToID, &reactions,
		&m.Deleted, &m.Edited, &history, &m.Pinned, &pinnedBy, &m.PinnedAt, &readBy, &m.CreatedAt,
		&sender.ID, &sender.Username, &sender.AvatarURL, &sender.IsOnline, &sender.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if pinnedBy != nil {
		m.PinnedBy = *pinnedBy
	}
	if err := json.Unmarshal(reactions, &m.Reactions); err != nil {
		return nil, fmt.Errorf("reactions unmarshal: %w", err)
	}
	if err := json.Unmarshal(history, &m.EditHistory); err != nil {
		return nil, fmt.Errorf("edit_history unmarshal: %w", err)
	}
	if err := json.Unmarshal(readBy, &m.ReadBy); err != nil {
		return nil, fmt.Errorf("read_by unmarshal: %w", err)
	}
	m.Sender = sender
	return m, nil
}

func (r *MessageStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Get", time.Now())()
	m, err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`, id))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("msgStore.Get: %w", err)
	}
	return m, err
}

func (r *MessageStore) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at ASC`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgStore.List query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, 64)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("msgStore.List scan: %w", err)
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgStore.List rows: %w", err)
	}
	return msgs, nil
}

func (r *MessageStore) UpdateMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Update", time.Now())()
	reactions, history, readBy, err := marshalMutable(m)
	if err != nil {
		return fmt.Errorf("msgStore.Update marshal: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages
		 SET text = $1, reactions = $2, deleted = $3, edited = $4, edit_history = $5,
		     pinned = $6, pinned_by = $7, pinned_at = $8, read_by = $9
		 WHERE id = $10`,
		m.Text, reactions, m.Deleted, m.Edited, history,
		m.Pinned, nullIfEmpty(m.PinnedBy), m.PinnedAt, readBy, m.ID,
	)
	if err != nil {
		return fmt.Errorf("msgStore.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
