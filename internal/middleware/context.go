package middleware

import "context"

type contextKey string

const UserIDKey contextKey = "user_id"

// GetUserID returns the user id set by SessionAuth, or "".
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}
