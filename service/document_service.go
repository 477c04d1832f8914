package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Itish41/IAOMS/models"
	"github.com/Itish41/IAOMS/realtime"
	"github.com/Itish41/IAOMS/repository"
	"github.com/lib/pq"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// ReasonNotSubmitter is reported when someone other than the submitter edits a document.
const ReasonNotSubmitter = "only the submitter can modify this document"

// ErrFeatureDisabled is returned when an optional backend is not configured.
var ErrFeatureDisabled = errors.New("feature not configured")

// SubmitRequest is the body of a document submission.
type SubmitRequest struct {
	Title       string              `json:"title" binding:"required"`
	Type        models.DocumentType `json:"type"`
	Priority    models.Priority     `json:"priority"`
	Description string              `json:"description"`
	// Recipients are display labels; RecipientIDs the matching directory ids.
	// Either may be omitted.
	Recipients   []string                 `json:"recipients"`
	RecipientIDs []string                 `json:"recipient_ids"`
	RoutingType  models.RoutingType       `json:"routing_type"`
	HasBypass    bool                     `json:"has_bypass"`
	Escalation   *models.EscalationPolicy `json:"escalation,omitempty"`
}

// ChainRequest is a submission routed through an ordered approval chain.
type ChainRequest struct {
	SubmitRequest
	Cyclic bool `json:"cyclic"`
}

// DocumentServiceDeps wires a DocumentService. Search, Storage, Audit and
// Notifier are optional.
type DocumentServiceDeps struct {
	Store     DocumentStore
	Processor *Processor
	Engine    *EscalationEngine
	Notifier  Notifier
	Directory Directory
	Events    *EventBus
	Search    *SearchIndex
	Storage   *AttachmentStorage
	Audit     EventStore
	Clock     Clock
	// DefaultEscalationTimeout applies when a policy is enabled without a timeout.
	DefaultEscalationTimeout time.Duration
	PublicURL                string
	Log                      *zap.Logger
}

// DocumentService is the document submission and approval API.
type DocumentService struct {
	DocumentServiceDeps
	wg sync.WaitGroup
}

func NewDocumentService(deps DocumentServiceDeps) *DocumentService {
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &DocumentService{DocumentServiceDeps: deps}
}

// Wait blocks until background notifications have been sent.
func (s *DocumentService) Wait() {
	s.wg.Wait()
}

// SubmitDocument validates req, builds its workflow and stores it.
func (s *DocumentService) SubmitDocument(ctx context.Context, submitter models.User, req SubmitRequest) (*models.Document, error) {
	if req.Type == "" {
		req.Type = models.DocumentTypeLetter
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	return s.submit(ctx, submitter, req)
}

// CreateEmergencyDocument submits an Emergency document. It defaults to
// critical priority, parallel routing and enabled escalation, and its
// notifications ignore per-type preference flags.
func (s *DocumentService) CreateEmergencyDocument(ctx context.Context, submitter models.User, req SubmitRequest) (*models.Document, error) {
	req.Type = models.DocumentTypeEmergency
	if req.Priority == "" {
		req.Priority = models.PriorityCritical
	}
	if req.RoutingType == "" {
		req.RoutingType = models.RoutingParallel
	}
	if req.Escalation == nil {
		req.Escalation = &models.EscalationPolicy{Enabled: true}
	}
	return s.submit(ctx, submitter, req)
}

// CreateApprovalChainDocument submits a document that walks its recipients
// in order, optionally cycling through them on timeout.
func (s *DocumentService) CreateApprovalChainDocument(ctx context.Context, submitter models.User, req ChainRequest) (*models.Document, error) {
	if req.RoutingType != models.RoutingReverse {
		req.RoutingType = models.RoutingSequential
	}
	if req.Type == "" {
		req.Type = models.DocumentTypeLetter
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	if req.Escalation == nil && req.Cyclic {
		req.Escalation = &models.EscalationPolicy{Enabled: true}
	}
	if req.Escalation != nil {
		req.Escalation.Mode = models.EscalationSequential
		req.Escalation.Cyclic = req.Escalation.Cyclic || req.Cyclic
	}
	return s.submit(ctx, submitter, req.SubmitRequest)
}

func (s *DocumentService) submit(ctx context.Context, submitter models.User, req SubmitRequest) (*models.Document, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, &ValidationError{Field: "title", Message: "is required"}
	}
	if !req.Type.Valid() {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown document type %q", req.Type)}
	}
	if !req.Priority.Valid() {
		return nil, &ValidationError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", req.Priority)}
	}

	labels, ids, err := s.resolveRecipients(ctx, req.Recipients, req.RecipientIDs)
	if err != nil {
		return nil, err
	}

	wf := BuildWorkflowWithIDs(labels, ids, req.RoutingType, req.HasBypass)
	now := s.Clock.Now()
	doc := &models.Document{
		Title:         strings.TrimSpace(req.Title),
		Type:          req.Type,
		SubmitterID:   submitter.ID,
		SubmitterName: submitter.Name,
		SubmittedAt:   now,
		Priority:      req.Priority,
		Description:   req.Description,
		Status:        models.StatusPending,
		Recipients:    pq.StringArray(labels),
		RecipientIDs:  pq.StringArray(ids),
		Workflow:      wf,
		Escalation:    s.escalationPolicy(req.Escalation, wf),
	}

	created, err := s.Store.Create(ctx, doc)
	if err != nil {
		return nil, &PersistenceError{Op: "create document", Err: err}
	}
	s.Log.Info("document submitted",
		zap.String("document_id", created.ID),
		zap.String("type", string(created.Type)),
		zap.String("routing", string(created.Workflow.RoutingType)),
		zap.Int("steps", len(created.Workflow.Steps)))

	s.publish(ctx, models.EventDocumentSubmitted, created, submitter, nil)
	s.notifySteps(nil, created)
	s.index(ctx, created)
	if s.Engine != nil {
		s.Engine.Arm(created)
	}
	return created, nil
}

// ApproveDocument records an approval by actor.
func (s *DocumentService) ApproveDocument(ctx context.Context, actor models.User, id, comments string) (*models.Document, error) {
	return s.decide(ctx, actor, id, DecisionApprove, comments)
}

// RejectDocument records a rejection by actor. A reason is required.
func (s *DocumentService) RejectDocument(ctx context.Context, actor models.User, id, reason string) (*models.Document, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Message: "a rejection reason is required"}
	}
	return s.decide(ctx, actor, id, DecisionReject, reason)
}

func (s *DocumentService) decide(ctx context.Context, actor models.User, id string, action Decision, comments string) (*models.Document, error) {
	var before *models.Document
	updated, err := s.Store.Update(ctx, id, func(d *models.Document) error {
		next, err := s.Processor.ApplyDecision(d, actor, action, comments)
		if err != nil {
			return err
		}
		before = d.Clone()
		*d = *next
		return nil
	})
	if err != nil {
		return nil, s.storeError(id, "record decision", err)
	}

	eventType := models.EventWorkflowAdvanced
	switch {
	case updated.Status == models.StatusApproved:
		eventType = models.EventDocumentApproved
	case updated.Status == models.StatusRejected, action == DecisionReject:
		eventType = models.EventDocumentRejected
	case updated.Status == models.StatusPartiallyApproved:
		eventType = models.EventDocumentPartiallyApproved
	}
	s.Log.Info("decision recorded",
		zap.String("document_id", id),
		zap.String("actor", actorKey(actor)),
		zap.String("action", string(action)),
		zap.String("status", string(updated.Status)))

	s.publish(ctx, eventType, updated, actor, map[string]interface{}{
		"action":   action,
		"comments": comments,
		"progress": updated.Workflow.Progress,
	})
	s.rearm(updated, action == DecisionReject)
	s.notifySteps(before, updated)
	s.notifySubmitter(before, updated)
	s.index(ctx, updated)
	return updated, nil
}

// BypassStep lets an authority override a rejected or stalled step.
func (s *DocumentService) BypassStep(ctx context.Context, actor models.User, id, comments string) (*models.Document, error) {
	var before *models.Document
	updated, err := s.Store.Update(ctx, id, func(d *models.Document) error {
		next, err := s.Processor.Bypass(d, actor, comments)
		if err != nil {
			return err
		}
		before = d.Clone()
		*d = *next
		return nil
	})
	if err != nil {
		return nil, s.storeError(id, "bypass step", err)
	}

	s.Log.Info("step bypassed", zap.String("document_id", id), zap.String("actor", actorKey(actor)))
	s.publish(ctx, models.EventDocumentBypassed, updated, actor, map[string]interface{}{
		"comments": comments,
		"progress": updated.Workflow.Progress,
	})
	s.rearm(updated, false)
	s.notifySteps(before, updated)
	s.notifySubmitter(before, updated)
	s.index(ctx, updated)
	return updated, nil
}

// UpdateRecipients replaces the recipient list of a document in flight.
func (s *DocumentService) UpdateRecipients(ctx context.Context, actor models.User, id string, recipients, ids []string) (*models.Document, error) {
	labels, resolvedIDs, err := s.resolveRecipients(ctx, recipients, ids)
	if err != nil {
		return nil, err
	}

	var before *models.Document
	updated, err := s.Store.Update(ctx, id, func(d *models.Document) error {
		if d.SubmitterID != actor.ID && !s.Processor.IsAuthority(actor) {
			return &NotARecipientError{DocumentID: id, UserID: actorKey(actor), Reason: ReasonNotSubmitter}
		}
		next, err := s.Processor.ReplaceRecipients(d, labels, resolvedIDs)
		if err != nil {
			return err
		}
		before = d.Clone()
		*d = *next
		return nil
	})
	if err != nil {
		return nil, s.storeError(id, "update recipients", err)
	}

	s.publish(ctx, models.EventRecipientsUpdated, updated, actor, map[string]interface{}{
		"recipients": labels,
	})
	s.rearm(updated, false)
	s.notifySteps(before, updated)
	s.index(ctx, updated)
	return updated, nil
}

// GetDocument returns a document its submitter, recipients or an authority may see.
func (s *DocumentService) GetDocument(ctx context.Context, user models.User, id string) (*models.Document, error) {
	doc, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, s.storeError(id, "load document", err)
	}
	if !s.canView(user, doc) {
		return nil, &NotARecipientError{DocumentID: id, UserID: actorKey(user), Reason: ReasonNotRecipient}
	}
	return doc, nil
}

// ListSubmitted returns the documents user submitted.
func (s *DocumentService) ListSubmitted(ctx context.Context, user models.User) ([]models.Document, error) {
	docs, err := s.Store.ListBySubmitter(ctx, user.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "list submitted documents", Err: err}
	}
	return docs, nil
}

// ListInbox returns the approval cards user may act on now. Cards addressed
// by id come first; label-only cards are matched by name, role, department
// or branch.
func (s *DocumentService) ListInbox(ctx context.Context, user models.User) ([]models.ApprovalCard, error) {
	var cards []models.ApprovalCard
	seen := make(map[string]bool)

	if user.ID != "" {
		byID, err := s.Store.ListByRecipient(ctx, user.ID)
		if err != nil {
			return nil, &PersistenceError{Op: "list inbox", Err: err}
		}
		for _, c := range byID {
			seen[c.TrackingCardID] = true
			cards = append(cards, c)
		}
	}

	legacy, err := s.Store.ListLegacyCards(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list legacy cards", Err: err}
	}
	for _, c := range legacy {
		if seen[c.TrackingCardID] {
			continue
		}
		if len(c.Recipients) == 0 || matchesAnyLabel(user, c.Recipients) {
			seen[c.TrackingCardID] = true
			cards = append(cards, c)
		}
	}
	return cards, nil
}

// DeleteDocument removes a document. Only its submitter may do so.
func (s *DocumentService) DeleteDocument(ctx context.Context, user models.User, id string) error {
	doc, err := s.Store.Get(ctx, id)
	if err != nil {
		return s.storeError(id, "load document", err)
	}
	if doc.SubmitterID != user.ID {
		return &NotARecipientError{DocumentID: id, UserID: actorKey(user), Reason: ReasonNotSubmitter}
	}
	if err := s.Store.Delete(ctx, id); err != nil {
		return s.storeError(id, "delete document", err)
	}
	if s.Engine != nil {
		s.Engine.StopEscalation(id)
	}
	if s.Search != nil {
		s.Search.RemoveDocument(ctx, id)
	}
	s.publish(ctx, models.EventDocumentDeleted, doc, user, nil)
	return nil
}

// SearchDocuments runs a full-text search and keeps only documents user may see.
func (s *DocumentService) SearchDocuments(ctx context.Context, user models.User, query string) ([]SearchHit, error) {
	if s.Search == nil {
		return nil, fmt.Errorf("search: %w", ErrFeatureDisabled)
	}
	if strings.TrimSpace(query) == "" {
		return nil, &ValidationError{Field: "q", Message: "is required"}
	}
	hits, err := s.Search.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	visible := make([]SearchHit, 0, len(hits))
	for _, h := range hits {
		doc := &models.Document{SubmitterID: h.SubmitterID, Recipients: h.Recipients, RecipientIDs: h.RecipientIDs}
		if s.canView(user, doc) {
			visible = append(visible, h)
		}
	}
	return visible, nil
}

// UploadAttachment stores a file and links it to the document.
func (s *DocumentService) UploadAttachment(ctx context.Context, user models.User, id, filename, contentType string, data []byte) (*models.Attachment, error) {
	if s.Storage == nil {
		return nil, fmt.Errorf("attachments: %w", ErrFeatureDisabled)
	}
	if _, err := s.GetDocument(ctx, user, id); err != nil {
		return nil, err
	}

	att, err := s.Storage.Upload(ctx, id, filename, contentType, data)
	if err != nil {
		return nil, err
	}
	att.UploadedBy = actorKey(user)
	att.UploadedAt = s.Clock.Now()

	updated, err := s.Store.Update(ctx, id, func(d *models.Document) error {
		list, err := d.AttachmentList()
		if err != nil {
			return err
		}
		return d.SetAttachments(append(list, att))
	})
	if err != nil {
		return nil, s.storeError(id, "link attachment", err)
	}
	s.publish(ctx, models.EventAttachmentAdded, updated, user, map[string]interface{}{"name": att.Name})
	return &att, nil
}

// ExportDocuments renders the user's submitted documents as a workbook.
func (s *DocumentService) ExportDocuments(ctx context.Context, user models.User) (*excelize.File, string, error) {
	docs, err := s.ListSubmitted(ctx, user)
	if err != nil {
		return nil, "", err
	}
	f, err := BuildDocumentReport(docs)
	if err != nil {
		return nil, "", err
	}
	return f, fmt.Sprintf("documents_%s.xlsx", s.Clock.Now().Format("20060102")), nil
}

// History returns the audit trail of a document.
func (s *DocumentService) History(ctx context.Context, user models.User, id string) ([]models.DocumentEvent, error) {
	if s.Audit == nil {
		return nil, fmt.Errorf("audit log: %w", ErrFeatureDisabled)
	}
	if _, err := s.GetDocument(ctx, user, id); err != nil {
		return nil, err
	}
	events, err := s.Audit.ListByDocument(ctx, id)
	if err != nil {
		return nil, &PersistenceError{Op: "load document history", Err: err}
	}
	return events, nil
}

// changeNotice is the payload of a document-change stream event.
type changeNotice struct {
	ID      string                 `json:"id"`
	Op      models.ChangeOperation `json:"op"`
	Status  models.DocumentStatus  `json:"status"`
	Version int                    `json:"version"`
}

// RelayChanges forwards the store change feed to the SSE streams of each
// document's submitter and current recipients until ctx is done.
func (s *DocumentService) RelayChanges(ctx context.Context, hub *realtime.Hub) error {
	feed, err := s.Store.SubscribeToChanges(ctx)
	if err != nil {
		return err
	}
	go func() {
		for change := range feed {
			targets := []string{change.SubmitterID}
			if change.Operation != models.ChangeDelete {
				if doc, err := s.Store.Get(ctx, change.DocumentID); err == nil {
					targets = append(targets, doc.RecipientIDs...)
				}
			}
			data, err := json.Marshal(changeNotice{
				ID:      change.DocumentID,
				Op:      change.Operation,
				Status:  change.Status,
				Version: change.Version,
			})
			if err != nil {
				s.Log.Warn("failed to encode document change", zap.String("document_id", change.DocumentID), zap.Error(err))
				continue
			}
			seen := make(map[string]bool)
			for _, id := range targets {
				if id == "" || seen[id] {
					continue
				}
				seen[id] = true
				hub.SendToUser(id, realtime.Event{EventType: "document-change", Data: string(data)})
			}
		}
	}()
	return nil
}

func (s *DocumentService) resolveRecipients(ctx context.Context, labels, ids []string) ([]string, []string, error) {
	if len(ids) == 0 {
		out := make([]string, 0, len(labels))
		for _, l := range labels {
			if l = strings.TrimSpace(l); l != "" {
				out = append(out, l)
			}
		}
		if len(out) == 0 {
			return nil, nil, &ValidationError{Field: "recipients", Message: "at least one recipient is required"}
		}
		return out, []string{}, nil
	}

	outLabels := make([]string, 0, len(ids))
	outIDs := make([]string, 0, len(ids))
	for i, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		var label string
		if i < len(labels) {
			label = strings.TrimSpace(labels[i])
		}
		if s.Directory != nil {
			user, err := s.Directory.ResolveRecipient(ctx, id)
			if err != nil {
				if errors.Is(err, ErrUnknownRecipient) {
					return nil, nil, &ValidationError{Field: "recipient_ids", Message: fmt.Sprintf("unknown recipient %s", id)}
				}
				return nil, nil, &PersistenceError{Op: "resolve recipients", Err: err}
			}
			if label == "" {
				label = user.Name
			}
		}
		if label == "" {
			label = id
		}
		outLabels = append(outLabels, label)
		outIDs = append(outIDs, id)
	}
	if len(outIDs) == 0 {
		return nil, nil, &ValidationError{Field: "recipients", Message: "at least one recipient is required"}
	}
	return outLabels, outIDs, nil
}

func (s *DocumentService) escalationPolicy(req *models.EscalationPolicy, wf models.Workflow) models.EscalationPolicy {
	if req == nil || !req.Enabled {
		return models.EscalationPolicy{}
	}
	policy := req.Clone()
	if policy.TimeoutMs <= 0 {
		policy.TimeoutMs = s.DefaultEscalationTimeout.Milliseconds()
	}
	if policy.Mode != models.EscalationSequential && policy.Mode != models.EscalationParallel {
		policy.Mode = models.EscalationSequential
		if wf.IsParallel {
			policy.Mode = models.EscalationParallel
		}
	}
	return policy
}

func (s *DocumentService) canView(user models.User, doc *models.Document) bool {
	if user.ID != "" && doc.SubmitterID == user.ID {
		return true
	}
	if s.Processor != nil && s.Processor.IsAuthority(user) {
		return true
	}
	return IsRecipient(user, doc)
}

// storeError translates store and processor failures for callers.
func (s *DocumentService) storeError(id, op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return &UnknownDocumentError{DocumentID: id}
	case errors.Is(err, ErrNotARecipient), errors.Is(err, ErrAlreadyTerminal),
		errors.Is(err, ErrBypassNotAuthorized), errors.Is(err, ErrValidation),
		errors.Is(err, ErrUnknownDocument):
		return err
	}
	s.Log.Error("store operation failed", zap.String("op", op), zap.String("document_id", id), zap.Error(err))
	return &PersistenceError{Op: op, Err: err}
}

// rearm keeps the escalation timer in line with the document after a change.
func (s *DocumentService) rearm(doc *models.Document, rejected bool) {
	if s.Engine == nil {
		return
	}
	if rejected || doc.Status.IsTerminal() {
		s.Engine.StopEscalation(doc.ID)
		return
	}
	s.Engine.Arm(doc)
}

func (s *DocumentService) publish(ctx context.Context, t models.EventType, doc *models.Document, actor models.User, payload map[string]interface{}) {
	ev := documentEvent(t, doc, actorKey(actor), payload)
	ev.At = s.Clock.Now()
	s.Events.Publish(ctx, ev)
}

func (s *DocumentService) index(ctx context.Context, doc *models.Document) {
	if s.Search != nil {
		s.Search.IndexDocument(ctx, doc)
	}
}

// notifySteps asks the assignees of newly activated steps for approval.
func (s *DocumentService) notifySteps(before, after *models.Document) {
	wasCurrent := make(map[string]bool)
	if before != nil {
		for _, step := range before.Workflow.Steps {
			if step.Status == models.StepCurrent {
				wasCurrent[stepKey(step)] = true
			}
		}
	}
	for _, step := range after.Workflow.ActionableSteps() {
		if wasCurrent[stepKey(step)] || step.AssigneeID == "" {
			continue
		}
		s.notifyAsync(step.AssigneeID, contentFor(after, models.NotificationApproval, s.PublicURL))
	}
}

// notifySubmitter tells the submitter when the document status changed.
func (s *DocumentService) notifySubmitter(before, after *models.Document) {
	if after.SubmitterID == "" || (before != nil && before.Status == after.Status) {
		return
	}
	content := contentFor(after, models.NotificationUpdate, s.PublicURL)
	content.Message = fmt.Sprintf("Your document is now %s (%d%% complete).", after.Status, after.Workflow.Progress)
	s.notifyAsync(after.SubmitterID, content)
}

func (s *DocumentService) notifyAsync(recipientID string, content models.NotificationContent) {
	if s.Notifier == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.Notifier.Notify(ctx, recipientID, content); err != nil {
			s.Log.Warn("notification not delivered",
				zap.String("recipient_id", recipientID),
				zap.String("document_id", content.DocumentID),
				zap.Error(err))
		}
	}()
}

func matchesAnyLabel(user models.User, labels []string) bool {
	for _, l := range labels {
		if MatchesLabel(user, l) {
			return true
		}
	}
	return false
}
