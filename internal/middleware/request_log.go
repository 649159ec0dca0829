package middleware

import (
	"net/http"
	"time"

	"github.com/chatsync/internal/logger"
)

// RequestLog logs each HTTP request with method, path and duration
// (asynchronously, never blocking the handler).
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, start)()
		next.ServeHTTP(w, r)
	})
}
