package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/middleware"
	"github.com/yungbote/affectlearn-backend/internal/repos"
	"github.com/yungbote/affectlearn-backend/internal/services"
	"github.com/yungbote/affectlearn-backend/internal/types"
)

type ArtifactHandler struct {
	log          *logger.Logger
	orchestrator services.OrchestratorService
	turnRepo     repos.TurnRepo
}

func NewArtifactHandler(log *logger.Logger, orchestrator services.OrchestratorService, turnRepo repos.TurnRepo) *ArtifactHandler {
	return &ArtifactHandler{
		log:          log.With("handler", "ArtifactHandler"),
		orchestrator: orchestrator,
		turnRepo:     turnRepo,
	}
}

// POST /api/turns/:turn_id/voice
//
// Idempotent: repeated requests for the same turn return the cached
// narration. Concurrent requests collapse to a single synthesis.
func (h *ArtifactHandler) RequestVoice(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user"))
		return
	}
	turnID, err := uuid.Parse(c.Param("turn_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid turn id"))
		return
	}
	artifact, err := h.orchestrator.VoiceForTurn(c.Request.Context(), turnID, userID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, artifact)
}

// GET /api/turns/:turn_id/voice
//
// Lookup only: returns the previously attached narration or 404. Never
// triggers synthesis.
func (h *ArtifactHandler) GetVoice(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user"))
		return
	}
	turnID, err := uuid.Parse(c.Param("turn_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid turn id"))
		return
	}
	turn, err := h.turnRepo.GetByID(c.Request.Context(), nil, turnID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	if turn.UserID != userID {
		RespondError(c, http.StatusForbidden, "forbidden", fmt.Errorf("turn belongs to another user"))
		return
	}
	if turn.VoiceAudioURL == nil {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("no voice artifact for turn"))
		return
	}
	artifact := types.VoiceArtifact{AudioURL: *turn.VoiceAudioURL, Estimated: true}
	if len(turn.VoiceTimings) > 0 {
		if err := json.Unmarshal(turn.VoiceTimings, &artifact.Timings); err != nil {
			h.log.Warn("stored voice timings unreadable", "turn_id", turnID, "error", err)
		}
	}
	RespondOK(c, artifact)
}

type visualRequest struct {
	Topic  string     `json:"topic" binding:"required"`
	TurnID *uuid.UUID `json:"turn_id"`
}

// POST /api/visuals
//
// Topic-level visuals are cached independently of any turn; passing a
// turn id additionally pins the result to that turn.
func (h *ArtifactHandler) RequestVisual(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user"))
		return
	}
	var req visualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	artifact, err := h.orchestrator.VisualForTopic(c.Request.Context(), req.Topic, req.TurnID, userID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, artifact)
}
