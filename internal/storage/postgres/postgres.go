// Package postgres is the pgx-backed Store. Reactions, edit history and
// read receipts live in jsonb columns alongside the message row, so a
// mutation persists the whole snapshot in one statement.
package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/storage"
)

type Store struct {
	*UserStore
	*ChatStore
	*MessageStore
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{
		UserStore:    NewUserStore(pool),
		ChatStore:    NewChatStore(pool),
		MessageStore: NewMessageStore(pool),
	}
}

var _ storage.Store = (*Store)(nil)

// uniqueViolation maps a unique-constraint error to storage.ErrExists.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// nullIfEmpty lets empty optional ids land as SQL NULL.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
