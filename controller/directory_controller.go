package controller

import (
	"net/http"

	services "github.com/Itish41/IAOMS/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DirectoryController serves the recipient directory.
type DirectoryController struct {
	profiles *services.Profiles
	log      *zap.Logger
}

func NewDirectoryController(profiles *services.Profiles, log *zap.Logger) *DirectoryController {
	return &DirectoryController{profiles: profiles, log: log}
}

// SyncProfile records the authenticated user in the directory so they can
// be addressed by id. Failures are logged and never block the request.
func (dc *DirectoryController) SyncProfile() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if user, ok := currentUserOptional(ctx); ok {
			if err := dc.profiles.Sync(ctx.Request.Context(), user); err != nil {
				dc.log.Warn("failed to sync recipient profile", zap.String("user_id", user.ID), zap.Error(err))
			}
		}
		ctx.Next()
	}
}

// ListByRole handles GET /recipients?role=dean
func (dc *DirectoryController) ListByRole(ctx *gin.Context) {
	if _, ok := currentUser(ctx); !ok {
		return
	}
	users, err := dc.profiles.ByRole(ctx.Request.Context(), ctx.Query("role"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"recipients": users,
		"total":      len(users),
	})
}
