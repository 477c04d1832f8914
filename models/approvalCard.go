package models

import (
	"time"

	"github.com/lib/pq"
)

// ApprovalCard is the query-optimized view of "what does recipient X need to act on".
// It is derived from a Document on every write and never edited on its own.
type ApprovalCard struct {
	ID string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`

	// TrackingCardID points back at the document.
	TrackingCardID string `gorm:"type:uuid;uniqueIndex;not null" json:"tracking_card_id"`

	Title       string       `gorm:"not null" json:"title"`
	Type        DocumentType `gorm:"type:varchar(20)" json:"type"`
	SubmitterID string       `gorm:"type:varchar(64)" json:"submitter_id"`
	Submitter   string       `json:"submitter"`
	Priority    Priority     `gorm:"type:varchar(20)" json:"priority"`
	Description string       `json:"description"`

	// Recipients and RecipientIDs list who may act on the card right now.
	Recipients   pq.StringArray `gorm:"type:text[]" json:"recipients"`
	RecipientIDs pq.StringArray `gorm:"type:text[]" json:"recipient_ids"`

	Status    DocumentStatus `gorm:"type:varchar(32)" json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CardFor derives the approval card of doc. The second result is false when
// the document should have no card: terminal documents lose it, except
// rejected bypass-capable ones, which keep it for the authority override.
func CardFor(doc *Document) (ApprovalCard, bool) {
	card := ApprovalCard{
		TrackingCardID: doc.ID,
		Title:          doc.Title,
		Type:           doc.Type,
		SubmitterID:    doc.SubmitterID,
		Submitter:      doc.SubmitterName,
		Priority:       doc.Priority,
		Description:    doc.Description,
		Status:         doc.Status,
		Recipients:     pq.StringArray{},
		RecipientIDs:   pq.StringArray{},
	}

	switch {
	case doc.Status == StatusApproved:
		return card, false
	case doc.Status == StatusRejected && !doc.Workflow.HasBypass:
		return card, false
	case doc.Status == StatusRejected:
		card.Recipients = append(card.Recipients, doc.Recipients...)
		card.RecipientIDs = append(card.RecipientIDs, doc.RecipientIDs...)
		return card, true
	}

	// Legacy documents routed without a workflow keep the full recipient list.
	if len(doc.Workflow.Steps) == 0 {
		card.Recipients = append(card.Recipients, doc.Recipients...)
		card.RecipientIDs = append(card.RecipientIDs, doc.RecipientIDs...)
		return card, true
	}

	actionable := doc.Workflow.ActionableSteps()
	if len(actionable) == 0 {
		// A chain halted on a rejection waits for the bypass override and
		// stays with the people it was routed to. Without bypass there is
		// nobody left to act.
		if !doc.Workflow.HasBypass {
			return card, false
		}
		card.Recipients = append(card.Recipients, doc.Recipients...)
		card.RecipientIDs = append(card.RecipientIDs, doc.RecipientIDs...)
		return card, true
	}
	for _, step := range actionable {
		card.Recipients = append(card.Recipients, step.Assignee)
		if step.AssigneeID != "" {
			card.RecipientIDs = append(card.RecipientIDs, step.AssigneeID)
		}
	}
	return card, true
}
