package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/savecode"
	"github.com/JakeFAU/savecodenow/internal/webhook"
)

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, savecode.ErrInvalidOriginURL),
		errors.Is(err, savecode.ErrVisitTypeNotSavable),
		errors.Is(err, webhook.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, webhook.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, savecode.ErrForbiddenOrigin):
		return http.StatusForbidden
	case errors.Is(err, savecode.ErrNotFound),
		errors.Is(err, webhook.ErrUnknownAdapter):
		return http.StatusNotFound
	case errors.Is(err, savecode.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, savecode.ErrSchedulerUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError reports err with its mapped status. Unexpected errors are
// logged and hidden from the caller.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}
