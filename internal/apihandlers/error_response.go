package apihandlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"rustler/internal/models"
)

// APIError defines standard error response
// Example: { "error": { "code": "bad_request", "message": "Invalid ID" } }
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

// JSONError sends a structured error response
func JSONError(ctx *gin.Context, status int, code, msg string) {
	ctx.AbortWithStatusJSON(status, errorResponse{Error: APIError{Code: code, Message: msg}})
}

// Convenience wrappers
func BadRequest(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusBadRequest, "bad_request", msg)
}

func NotFound(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusNotFound, "not_found", msg)
}

func Internal(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusInternalServerError, "internal_error", msg)
}

func PayloadTooLarge(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusRequestEntityTooLarge, "file_too_large", msg)
}

func Unavailable(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusServiceUnavailable, "service_unavailable", msg)
}

// RespondError maps a pipeline error onto its HTTP status.
func RespondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrFileTooLarge):
		PayloadTooLarge(ctx, err.Error())
	case errors.Is(err, models.ErrUnsupportedType):
		JSONError(ctx, http.StatusUnsupportedMediaType, "unsupported_type", err.Error())
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrEmptyFile):
		BadRequest(ctx, err.Error())
	case errors.Is(err, models.ErrNotFound):
		NotFound(ctx, err.Error())
	case errors.Is(err, models.ErrStorage), errors.Is(err, models.ErrMetadata), errors.Is(err, models.ErrQueue):
		log.WithError(err).WithField("path", ctx.FullPath()).Warn("Dependency failure while serving request")
		Unavailable(ctx, err.Error())
	default:
		log.WithError(err).WithField("path", ctx.FullPath()).Error("Unhandled error while serving request")
		Internal(ctx, "internal server error")
	}
}
