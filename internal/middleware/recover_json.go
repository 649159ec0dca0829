package middleware

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"

	"github.com/chatsync/internal/logger"
)

// responseWriter wraps http.ResponseWriter to detect whether the
// response was already written. Implements http.Hijacker so WebSocket
// upgrades pass through.
type responseWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.status = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// RecoverJSON logs a handler panic and answers with a JSON 500 when the
// response has not started yet.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if err := recover(); err != nil {
				logger.Errorf("panic recovered: %v", err)
				if !wrap.wrote {
					wrap.ResponseWriter.Header().Set("Content-Type", "application/json; charset=utf-8")
					wrap.ResponseWriter.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(wrap.ResponseWriter).Encode(map[string]string{"error": "internal server error"})
				}
			}
		}()
		next.ServeHTTP(wrap, r)
	})
}
