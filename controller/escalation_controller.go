package controller

import (
	"net/http"

	services "github.com/Itish41/IAOMS/service"
	"github.com/gin-gonic/gin"
)

// EscalationController exposes the armed escalation timers to authorities.
type EscalationController struct {
	engine    *services.EscalationEngine
	processor *services.Processor
}

func NewEscalationController(engine *services.EscalationEngine, processor *services.Processor) *EscalationController {
	return &EscalationController{engine: engine, processor: processor}
}

func (ec *EscalationController) authorize(ctx *gin.Context) bool {
	user, ok := currentUser(ctx)
	if !ok {
		return false
	}
	if !ec.processor.IsAuthority(user) {
		ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Only authorities can manage escalations"})
		return false
	}
	return true
}

// ListActive returns every armed timer.
func (ec *EscalationController) ListActive(ctx *gin.Context) {
	if !ec.authorize(ctx) {
		return
	}
	active := ec.engine.Active()
	ctx.JSON(http.StatusOK, gin.H{
		"escalations": active,
		"total":       len(active),
	})
}

// Stop disarms a document's timer.
func (ec *EscalationController) Stop(ctx *gin.Context) {
	if !ec.authorize(ctx) {
		return
	}
	ec.engine.StopEscalation(ctx.Param("id"))
	ctx.JSON(http.StatusOK, gin.H{"message": "Escalation stopped"})
}
