package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/middleware"
	"github.com/yungbote/affectlearn-backend/internal/services"
	"github.com/yungbote/affectlearn-backend/internal/sse"
	"github.com/yungbote/affectlearn-backend/internal/types"
)

type QuizHandler struct {
	log         *logger.Logger
	quizService services.QuizService
	hub         *sse.SSEHub
}

func NewQuizHandler(log *logger.Logger, quizService services.QuizService, hub *sse.SSEHub) *QuizHandler {
	return &QuizHandler{
		log:         log.With("handler", "QuizHandler"),
		quizService: quizService,
		hub:         hub,
	}
}

type generateQuizRequest struct {
	SessionID  *uuid.UUID `json:"session_id"`
	Topic      string     `json:"topic" binding:"required"`
	Difficulty string     `json:"difficulty"`
	Count      int        `json:"count"`
}

// POST /api/quizzes
func (h *QuizHandler) GenerateQuiz(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user"))
		return
	}
	var req generateQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	difficulty := types.QuizDifficulty(req.Difficulty)
	if req.Difficulty == "" {
		difficulty = types.DifficultyMedium
	}
	quiz, err := h.quizService.Generate(c.Request.Context(), userID, req.SessionID, req.Topic, difficulty, req.Count)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	if quiz.SessionID != nil {
		h.hub.Broadcast(sse.SSEMessage{
			Channel: sse.SessionChannel(*quiz.SessionID),
			Event:   sse.SSEEventQuizReady,
			Data:    gin.H{"quiz_id": quiz.ID},
		})
	}
	c.JSON(http.StatusCreated, quiz)
}

type submitQuizRequest struct {
	Answers []int `json:"answers" binding:"required"`
}

// POST /api/quizzes/:quiz_id/submit
func (h *QuizHandler) SubmitQuiz(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user"))
		return
	}
	quizID, err := uuid.Parse(c.Param("quiz_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid quiz id"))
		return
	}
	var req submitQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	quiz, err := h.quizService.Submit(c.Request.Context(), quizID, userID, req.Answers)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, quiz)
}
