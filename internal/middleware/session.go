package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/session"
)

// SessionAuth resolves the session id from X-Session-Id (or session_id
// query for WebSocket upgrades, where custom headers are unavailable)
// and stores the resulting user id in the request context. Unknown or
// expired sessions get a JSON 401.
func SessionAuth(sessions session.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := r.Header.Get("X-Session-Id")
			if sessionID == "" {
				sessionID = r.URL.Query().Get("session_id")
			}
			if sessionID == "" {
				unauthorized(w)
				return
			}
			userID, err := sessions.UserID(r.Context(), sessionID)
			if err != nil {
				if !errors.Is(err, session.ErrNotFound) {
					logger.Errorf("session auth lookup: %v", err)
				}
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
}
