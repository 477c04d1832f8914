package controller

import (
	"github.com/gin-gonic/gin"
)

// Handlers groups the controllers mounted by RegisterRoutes.
type Handlers struct {
	Documents     *DocumentController
	Escalations   *EscalationController
	Notifications *NotificationController
	Events        *EventsController
	Directory     *DirectoryController
}

// RegisterRoutes mounts the authenticated API on r. strict is applied to
// write-heavy endpoints on top of whatever r already uses.
func RegisterRoutes(r gin.IRouter, h Handlers, strict gin.HandlerFunc) {
	if strict == nil {
		strict = func(c *gin.Context) { c.Next() }
	}

	docs := r.Group("/documents")
	docs.POST("", strict, h.Documents.SubmitDocument)
	docs.POST("/emergency", strict, h.Documents.CreateEmergencyDocument)
	docs.POST("/approval-chain", strict, h.Documents.CreateApprovalChainDocument)
	docs.GET("", h.Documents.ListSubmitted)
	docs.GET("/export", h.Documents.ExportDocuments)
	docs.GET("/:id", h.Documents.GetDocument)
	docs.GET("/:id/history", h.Documents.History)
	docs.POST("/:id/approve", h.Documents.ApproveDocument)
	docs.POST("/:id/reject", h.Documents.RejectDocument)
	docs.POST("/:id/bypass", h.Documents.BypassStep)
	docs.PUT("/:id/recipients", h.Documents.UpdateRecipients)
	docs.POST("/:id/attachments", strict, h.Documents.UploadAttachment)
	docs.DELETE("/:id", h.Documents.DeleteDocument)

	r.GET("/approvals", h.Documents.ListInbox)
	r.GET("/search", h.Documents.SearchDocuments)

	if h.Escalations != nil {
		r.GET("/escalations", h.Escalations.ListActive)
		r.DELETE("/escalations/:id", h.Escalations.Stop)
	}
	if h.Notifications != nil {
		r.GET("/notifications/preferences", h.Notifications.GetPreferences)
		r.PUT("/notifications/preferences", h.Notifications.SavePreferences)
	}
	if h.Directory != nil {
		r.GET("/recipients", h.Directory.ListByRole)
	}
	if h.Events != nil {
		r.GET("/events", h.Events.Stream)
	}
}
