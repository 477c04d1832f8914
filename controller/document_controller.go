package controller

import (
	"fmt"
	"io"
	"net/http"

	services "github.com/Itish41/IAOMS/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxAttachmentSize caps uploaded attachments.
const maxAttachmentSize = 20 << 20

// DocumentController manages HTTP requests for documents and approvals.
type DocumentController struct {
	service *services.DocumentService
	log     *zap.Logger
}

// NewDocumentController initializes the controller with the service
func NewDocumentController(service *services.DocumentService, log *zap.Logger) *DocumentController {
	return &DocumentController{service: service, log: log}
}

type decisionRequest struct {
	Comments string `json:"comments"`
	Reason   string `json:"reason"`
}

type recipientsRequest struct {
	Recipients   []string `json:"recipients"`
	RecipientIDs []string `json:"recipient_ids"`
}

// SubmitDocument creates a document and starts its workflow.
func (dc *DocumentController) SubmitDocument(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req services.SubmitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := dc.service.SubmitDocument(ctx.Request.Context(), user, req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message":  "Document submitted successfully",
		"document": doc,
	})
}

// CreateEmergencyDocument submits an urgent, escalating document.
func (dc *DocumentController) CreateEmergencyDocument(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req services.SubmitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := dc.service.CreateEmergencyDocument(ctx.Request.Context(), user, req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message":  "Emergency document submitted",
		"document": doc,
	})
}

// CreateApprovalChainDocument submits a document routed through an ordered chain.
func (dc *DocumentController) CreateApprovalChainDocument(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req services.ChainRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := dc.service.CreateApprovalChainDocument(ctx.Request.Context(), user, req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message":  "Approval chain created",
		"document": doc,
	})
}

// ListSubmitted returns the caller's own documents.
func (dc *DocumentController) ListSubmitted(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	docs, err := dc.service.ListSubmitted(ctx.Request.Context(), user)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"total":     len(docs),
	})
}

// ListInbox returns the approval cards waiting for the caller.
func (dc *DocumentController) ListInbox(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	cards, err := dc.service.ListInbox(ctx.Request.Context(), user)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"cards": cards,
		"total": len(cards),
	})
}

func (dc *DocumentController) GetDocument(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	doc, err := dc.service.GetDocument(ctx.Request.Context(), user, ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, doc)
}

func (dc *DocumentController) ApproveDocument(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req decisionRequest
	_ = ctx.ShouldBindJSON(&req)

	doc, err := dc.service.ApproveDocument(ctx.Request.Context(), user, ctx.Param("id"), req.Comments)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message":  "Document approved",
		"document": doc,
	})
}

func (dc *DocumentController) RejectDocument(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req decisionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "A rejection reason is required"})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = req.Comments
	}

	doc, err := dc.service.RejectDocument(ctx.Request.Context(), user, ctx.Param("id"), reason)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message":  "Document rejected",
		"document": doc,
	})
}

func (dc *DocumentController) BypassStep(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req decisionRequest
	_ = ctx.ShouldBindJSON(&req)

	doc, err := dc.service.BypassStep(ctx.Request.Context(), user, ctx.Param("id"), req.Comments)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message":  "Step bypassed",
		"document": doc,
	})
}

func (dc *DocumentController) UpdateRecipients(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req recipientsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := dc.service.UpdateRecipients(ctx.Request.Context(), user, ctx.Param("id"), req.Recipients, req.RecipientIDs)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message":  "Recipients updated",
		"document": doc,
	})
}

func (dc *DocumentController) DeleteDocument(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	if err := dc.service.DeleteDocument(ctx.Request.Context(), user, ctx.Param("id")); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Document deleted"})
}

// SearchDocuments runs a full-text search over visible documents.
func (dc *DocumentController) SearchDocuments(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	query := ctx.Query("q")
	if query == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter 'q' is required"})
		return
	}

	results, err := dc.service.SearchDocuments(ctx.Request.Context(), user, query)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message": "Search completed successfully",
		"results": results,
	})
}

// UploadAttachment handles the file upload request
func (dc *DocumentController) UploadAttachment(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	file, header, err := ctx.Request.FormFile("file")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Failed to get file from request"})
		return
	}
	defer file.Close()

	if header.Size > maxAttachmentSize {
		ctx.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File exceeds the 20MB limit"})
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, maxAttachmentSize))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
		return
	}

	att, err := dc.service.UploadAttachment(ctx.Request.Context(), user, ctx.Param("id"), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message":    "Attachment uploaded successfully",
		"attachment": att,
	})
}

// ExportDocuments streams the caller's documents as an XLSX workbook.
func (dc *DocumentController) ExportDocuments(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	f, filename, err := dc.service.ExportDocuments(ctx.Request.Context(), user)
	if err != nil {
		respondError(ctx, err)
		return
	}
	defer f.Close()

	ctx.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	if err := f.Write(ctx.Writer); err != nil {
		dc.log.Error("failed to write export", zap.Error(err))
	}
}

// History returns the audit trail of a document.
func (dc *DocumentController) History(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	events, err := dc.service.History(ctx.Request.Context(), user, ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"events": events})
}
