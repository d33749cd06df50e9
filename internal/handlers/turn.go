package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/affectlearn-backend/internal/clients/gcp"
	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/middleware"
	"github.com/yungbote/affectlearn-backend/internal/repos"
	"github.com/yungbote/affectlearn-backend/internal/services"
	"github.com/yungbote/affectlearn-backend/internal/types"
)

const maxVoiceNoteBytes = 15 << 20

type TurnHandler struct {
	log          *logger.Logger
	orchestrator services.OrchestratorService
	sentiment    services.SentimentService
	speech       gcp.Speech
	vision       gcp.Vision
	turnRepo     repos.TurnRepo
}

func NewTurnHandler(
	log *logger.Logger,
	orchestrator services.OrchestratorService,
	sentiment services.SentimentService,
	speech gcp.Speech,
	vision gcp.Vision,
	turnRepo repos.TurnRepo,
) *TurnHandler {
	return &TurnHandler{
		log:          log.With("handler", "TurnHandler"),
		orchestrator: orchestrator,
		sentiment:    sentiment,
		speech:       speech,
		vision:       vision,
		turnRepo:     turnRepo,
	}
}

type createTurnRequest struct {
	SessionID   *uuid.UUID `json:"session_id"`
	QueryText   string     `json:"query_text" binding:"required"`
	Modality    string     `json:"modality"`
	Language    string     `json:"language"`
	StressScore *float64   `json:"stress_score"`
}

// POST /api/turns
//
// Accepts text and document modalities; voice turns arrive through the
// voice-note upload route. Document turns carry pre-extracted text.
func (h *TurnHandler) CreateTurn(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user"))
		return
	}
	var req createTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	modality := types.Modality(req.Modality)
	if req.Modality == "" {
		modality = types.ModalityText
	}
	if !modality.Valid() || modality == types.ModalityVoice {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("unsupported modality %q", req.Modality))
		return
	}
	turn, err := h.orchestrator.ProcessTurn(c.Request.Context(), services.TurnInput{
		UserID:       userID,
		SessionID:    req.SessionID,
		QueryText:    req.QueryText,
		Modality:     modality,
		Language:     req.Language,
		VisualStress: req.StressScore,
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, turn)
}

// POST /api/turns/voice-note
//
// Multipart upload: "audio" file part plus optional "session_id" and
// "language" fields. The transcript doubles as the query text.
func (h *TurnHandler) CreateVoiceTurn(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user"))
		return
	}
	fileHeader, err := c.FormFile("audio")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("missing audio file"))
		return
	}
	if fileHeader.Size > maxVoiceNoteBytes {
		RespondError(c, http.StatusRequestEntityTooLarge, "audio_too_large", fmt.Errorf("voice note exceeds %d bytes", maxVoiceNoteBytes))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	var sessionID *uuid.UUID
	if raw := c.PostForm("session_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid session id"))
			return
		}
		sessionID = &id
	}
	language := c.PostForm("language")

	ctx := c.Request.Context()
	transcript, err := h.speech.TranscribeVoiceNote(ctx, audio, fileHeader.Header.Get("Content-Type"), language)
	if err != nil {
		RespondError(c, http.StatusBadGateway, "transcription_failed", err)
		return
	}
	if transcript.Text == "" {
		RespondError(c, http.StatusUnprocessableEntity, "empty_transcript", fmt.Errorf("no speech recognized"))
		return
	}

	// The voice channel carries its own sentiment reading; classification
	// failures fall back to the text channel inside the pipeline.
	var speechSignal *types.SentimentSignal
	if signal, err := h.sentiment.Classify(ctx, transcript.Text); err == nil {
		speechSignal = &signal
	} else {
		h.log.Warn("voice sentiment classification failed", "error", err)
	}

	turn, err := h.orchestrator.ProcessTurn(ctx, services.TurnInput{
		UserID:          userID,
		SessionID:       sessionID,
		Modality:        types.ModalityVoice,
		Transcript:      transcript.Text,
		Language:        language,
		SpeechSentiment: speechSignal,
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"turn": turn, "transcript": transcript})
}

// GET /api/turns/:turn_id
func (h *TurnHandler) GetTurn(c *gin.Context) {
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
	RespondOK(c, turn)
}

type sentimentProbeRequest struct {
	Text string `json:"text" binding:"required"`
}

// POST /api/sentiment/text
//
// Diagnostic probe: classifies a snippet without creating a turn.
func (h *TurnHandler) ProbeSentiment(c *gin.Context) {
	var req sentimentProbeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	signal, err := h.sentiment.Classify(c.Request.Context(), req.Text)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, signal)
}

// POST /api/affect/facial
//
// Multipart upload: "image" file part. Returns the stress reading the
// client may attach to its next turn.
func (h *TurnHandler) ProbeFacialStress(c *gin.Context) {
	if _, ok := middleware.CurrentUserID(c); !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user"))
		return
	}
	fileHeader, err := c.FormFile("image")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("missing image file"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	defer file.Close()
	img, err := io.ReadAll(file)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	result, err := h.vision.DetectFacialStress(c.Request.Context(), img)
	if err != nil {
		RespondError(c, http.StatusBadGateway, "face_detection_failed", err)
		return
	}
	RespondOK(c, result)
}
