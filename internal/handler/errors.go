package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/edutrack/edutrack-backend/internal/grade"
	"github.com/edutrack/edutrack-backend/internal/response"
	"github.com/edutrack/edutrack-backend/internal/service"
)

// failService writes the error response for an academic service error.
// Errors that do not map to a client error are logged and reported as 500.
func failService(c *gin.Context, log zerolog.Logger, err error) {
	var ve *service.ValidationError
	var ug *grade.UnknownGradeError

	switch {
	case errors.Is(err, service.ErrConcurrencyConflict):
		response.Fail(c, http.StatusConflict, response.ErrConcurrencyConflict)
	case errors.Is(err, service.ErrReconcileDeferred):
		response.Fail(c, http.StatusAccepted, response.ErrReconcileDeferred)
	case errors.As(err, &ve):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, ve.Fields)
	case errors.As(err, &ug):
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrUnknownGrade, map[string]string{"grade": ug.Grade})
	case errors.Is(err, service.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrDuplicateStudent):
		response.Fail(c, http.StatusConflict, response.ErrConflict)
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
