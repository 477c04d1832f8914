package controller

import (
	"errors"
	"net/http"

	"github.com/Itish41/IAOMS/middleware"
	"github.com/Itish41/IAOMS/models"
	services "github.com/Itish41/IAOMS/service"
	"github.com/gin-gonic/gin"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotARecipient), errors.Is(err, services.ErrBypassNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, services.ErrUnknownDocument):
		return http.StatusNotFound
	case errors.Is(err, services.ErrAlreadyTerminal):
		return http.StatusConflict
	case errors.Is(err, services.ErrFeatureDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(ctx *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var nar *services.NotARecipientError
	if errors.As(err, &nar) {
		body["reason"] = nar.Reason
	}
	ctx.JSON(statusFor(err), body)
}

// currentUser aborts with 401 when no authenticated user is attached.
func currentUser(ctx *gin.Context) (models.User, bool) {
	user, ok := middleware.CurrentUser(ctx)
	if !ok {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization is required"})
	}
	return user, ok
}

func currentUserOptional(ctx *gin.Context) (models.User, bool) {
	return middleware.CurrentUser(ctx)
}
