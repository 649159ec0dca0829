package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chatsync/internal/engine"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/storage"
)

type ChatHandler struct {
	eng *engine.Engine
}

func NewChatHandler(eng *engine.Engine) *ChatHandler {
	return &ChatHandler{eng: eng}
}

// OpenDirect finds or creates the direct chat between the caller and
// another user. POST /api/chats/direct
func (h *ChatHandler) OpenDirect(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	chat, err := h.eng.OpenDirectChat(r.Context(), userID, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrMalformedID):
			writeError(w, http.StatusBadRequest, "malformed user_id")
		case errors.Is(err, engine.ErrInvalidState):
			writeError(w, http.StatusBadRequest, "cannot open a chat with yourself")
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			logger.Errorf("open direct chat user=%s: %v", userID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// List returns the caller's chats, most recently active first.
// GET /api/chats
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chats, err := h.eng.ListChats(r.Context(), userID)
	if err != nil {
		logger.Errorf("list chats user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, chats)
}
