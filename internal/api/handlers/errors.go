package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/logging"
	"kepler-vision-go/internal/services/jobs"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Detail    string `json:"detail" example:"Job not found"`
	RequestID string `json:"request_id" example:"6f1c0d2e-7c1b-4f43-9a8e-2b0f4a3f9d11"`
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	var maxBytes *http.MaxBytesError
	if errors.Is(err, jobs.ErrUploadTooLarge) || errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}
	switch apperr.KindOf(err) {
	case apperr.KindInvalidInput:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound, apperr.KindUnavailable:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := StatusFor(err)
	detail := "Internal server error"
	var appErr *apperr.Error
	switch {
	case status == http.StatusRequestEntityTooLarge:
		detail = "Upload exceeds size limit"
	case status != http.StatusInternalServerError && errors.As(err, &appErr) && appErr.Msg != "":
		detail = appErr.Msg
	case status != http.StatusInternalServerError:
		detail = err.Error()
	default:
		logging.Error(c).Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	abort(c, status, detail)
}

func abort(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Detail:    detail,
		RequestID: c.GetString(logging.RequestIDKey),
	})
}
