package httpserver

import (
	"errors"
	"log/slog"
	"net/http"

	"cntrlx-store/internal/domain"
	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindAuthRequired:
		return http.StatusUnauthorized
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindOwnership, domain.KindExpired, domain.KindEntitlement:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes err as a JSON error body. Unclassified errors are
// logged and reported as a generic internal error.
func abortWithError(c *gin.Context, logger *slog.Logger, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		de = &domain.Error{
			Kind:    domain.KindInternal,
			Reason:  domain.ReasonInternal,
			Message: "Internal server error",
			Err:     err,
		}
	}
	status := statusFor(de.Kind)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(c.Request.Context(), "request failed",
			"reason", de.Reason, "path", c.Request.URL.Path,
			"request_id", requestIDFrom(c.Request.Context()), "err", err)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: errorBody{Reason: de.Reason, Message: de.Message}})
}
