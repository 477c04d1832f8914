package controller

import (
	"net/http"

	"github.com/Itish41/IAOMS/models"
	services "github.com/Itish41/IAOMS/service"
	"github.com/gin-gonic/gin"
)

// NotificationController reads and saves the caller's delivery preferences.
type NotificationController struct {
	dispatcher *services.Dispatcher
}

func NewNotificationController(dispatcher *services.Dispatcher) *NotificationController {
	return &NotificationController{dispatcher: dispatcher}
}

func (nc *NotificationController) GetPreferences(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	pref, err := nc.dispatcher.Preferences(ctx.Request.Context(), user.ID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, pref)
}

func (nc *NotificationController) SavePreferences(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	var pref models.NotificationPreference
	if err := ctx.ShouldBindJSON(&pref); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pref.UserID = user.ID

	if err := nc.dispatcher.SavePreferences(ctx.Request.Context(), pref); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message":     "Preferences saved",
		"preferences": pref,
	})
}
