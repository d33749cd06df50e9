package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/middleware"
	"github.com/yungbote/affectlearn-backend/internal/services"
)

type ChatHandler struct {
	log         *logger.Logger
	chatService services.ChatService
}

func NewChatHandler(log *logger.Logger, chatService services.ChatService) *ChatHandler {
	return &ChatHandler{
		log:         log.With("handler", "ChatHandler"),
		chatService: chatService,
	}
}

type createChatRequest struct {
	Title string `json:"title"`
}

// POST /api/chats
func (h *ChatHandler) CreateChat(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user"))
		return
	}
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	chat, session, err := h.chatService.CreateChat(c.Request.Context(), userID, req.Title)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"chat": chat, "session": session})
}

// GET /api/chats
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user"))
		return
	}
	chats, err := h.chatService.ListChats(c.Request.Context(), userID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"chats": chats})
}

// GET /api/chats/:chat_id
func (h *ChatHandler) GetChat(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user"))
		return
	}
	chatID, err := uuid.Parse(c.Param("chat_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid chat id"))
		return
	}
	chat, err := h.chatService.GetChat(c.Request.Context(), chatID, userID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, chat)
}

type renameChatRequest struct {
	Title string `json:"title" binding:"required"`
}

// PATCH /api/chats/:chat_id
func (h *ChatHandler) RenameChat(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user"))
		return
	}
	chatID, err := uuid.Parse(c.Param("chat_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid chat id"))
		return
	}
	var req renameChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	chat, err := h.chatService.RenameChat(c.Request.Context(), chatID, userID, req.Title)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, chat)
}

// DELETE /api/chats/:chat_id
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user"))
		return
	}
	chatID, err := uuid.Parse(c.Param("chat_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid chat id"))
		return
	}
	if err := h.chatService.DeleteChat(c.Request.Context(), chatID, userID); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"status": "deleted"})
}

// GET /api/chats/:chat_id/sessions
func (h *ChatHandler) ListSessions(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user"))
		return
	}
	chatID, err := uuid.Parse(c.Param("chat_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid chat id"))
		return
	}
	sessions, err := h.chatService.ListSessions(c.Request.Context(), chatID, userID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"sessions": sessions})
}

type startSessionRequest struct {
	Difficulty string `json:"difficulty"`
}

// POST /api/chats/:chat_id/sessions
func (h *ChatHandler) StartSession(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user"))
		return
	}
	chatID, err := uuid.Parse(c.Param("chat_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid chat id"))
		return
	}
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	session, err := h.chatService.StartSession(c.Request.Context(), chatID, userID, req.Difficulty)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// POST /api/sessions/:session_id/end
func (h *ChatHandler) EndSession(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user"))
		return
	}
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid session id"))
		return
	}
	session, err := h.chatService.EndSession(c.Request.Context(), sessionID, userID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, session)
}
