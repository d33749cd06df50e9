package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/affectlearn-backend/internal/services"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondServiceError maps the pipeline error taxonomy onto HTTP statuses.
func RespondServiceError(c *gin.Context, err error) {
	var ownErr *services.NotOwnedError
	var closedErr *services.SessionClosedError
	var sigErr *services.InvalidSignalError
	var quizErr *services.MalformedQuizError
	var artErr *services.ArtifactUnavailableError
	var genErr *services.GenerationError
	var retErr *services.RetrievalUnavailableError

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.As(err, &ownErr):
		RespondError(c, http.StatusForbidden, "forbidden", err)
	case errors.As(err, &closedErr):
		RespondError(c, http.StatusConflict, "session_closed", err)
	case errors.As(err, &sigErr):
		RespondError(c, http.StatusBadRequest, "invalid_signal", err)
	case errors.As(err, &quizErr):
		RespondError(c, http.StatusBadRequest, "malformed_quiz", err)
	case errors.As(err, &artErr):
		RespondError(c, http.StatusServiceUnavailable, "artifact_unavailable", err)
	case errors.As(err, &genErr):
		RespondError(c, http.StatusBadGateway, "generation_failed", err)
	case errors.As(err, &retErr):
		RespondError(c, http.StatusServiceUnavailable, "retrieval_unavailable", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
