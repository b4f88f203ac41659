package handlers

import (
	"log/slog"
	"net/http"

	"sidequests/middleware"
	"sidequests/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var kindStatus = map[services.Kind]int{
	services.KindNotFound:         http.StatusNotFound,
	services.KindUnauthorized:     http.StatusForbidden,
	services.KindValidation:       http.StatusBadRequest,
	services.KindInvalidState:     http.StatusConflict,
	services.KindCapacityExceeded: http.StatusConflict,
	services.KindDuplicateRequest: http.StatusConflict,
}

// respondError writes a domain error with its mapped status. Anything that
// is not a domain error is logged and hidden behind a 500.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	kind := services.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		_ = c.Error(err)
		logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "code": "internal_error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": string(kind)})
}

// bindError turns a decode failure into a validation error. Struct
// validation failures are already domain errors.
func bindError(err error) error {
	if services.KindOf(err) != "" {
		return err
	}
	return services.Validation("invalid request: %v", err)
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + param, "code": string(services.KindValidation)})
		return uuid.Nil, false
	}
	return id, true
}

func principal(c *gin.Context) (services.Principal, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated", "code": "unauthenticated"})
		return services.Principal{}, false
	}
	return services.Principal{
		UserID:   id,
		Name:     c.GetString(middleware.ContextName),
		Verified: c.GetBool(middleware.ContextVerified),
	}, true
}
