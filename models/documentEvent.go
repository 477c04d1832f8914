package models

import (
	"time"

	"gorm.io/datatypes"
)

// EventType names a domain event emitted by the document API.
type EventType string

const (
	EventDocumentSubmitted         EventType = "document-submitted"
	EventDocumentApproved          EventType = "document-approved"
	EventDocumentRejected          EventType = "document-rejected"
	EventDocumentPartiallyApproved EventType = "document-partially-approved"
	EventWorkflowAdvanced          EventType = "workflow-advanced"
	EventDocumentBypassed          EventType = "document-bypassed"
	EventRecipientsUpdated         EventType = "recipients-updated"
	EventDocumentEscalated         EventType = "document-escalated"
	EventEscalationStopped         EventType = "escalation-stopped"
	EventDocumentDeleted           EventType = "document-deleted"
	EventAttachmentAdded           EventType = "attachment-added"
)

// DocumentEvent is the persisted audit record of a domain event.
type DocumentEvent struct {
	// ID is a unique identifier for the event, stored as a UUID in the database.
	ID string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`

	// DocumentID references the document the event happened to.
	DocumentID string `gorm:"type:uuid;index" json:"document_id"`

	Type    EventType      `gorm:"type:varchar(40);not null" json:"type"`
	ActorID string         `gorm:"type:varchar(64)" json:"actor_id"`
	Status  DocumentStatus `gorm:"type:varchar(32)" json:"status"`

	// Payload carries event specific details (comments, step names, authority).
	Payload datatypes.JSON `json:"payload"`

	CreatedAt time.Time `json:"created_at"`
}

// ChangeOperation is the kind of row change reported by the store's change feed.
type ChangeOperation string

const (
	ChangeInsert ChangeOperation = "INSERT"
	ChangeUpdate ChangeOperation = "UPDATE"
	ChangeDelete ChangeOperation = "DELETE"
)

// DocumentChange is one entry of the store change feed.
type DocumentChange struct {
	DocumentID  string          `json:"id"`
	Operation   ChangeOperation `json:"op"`
	Status      DocumentStatus  `json:"status"`
	Version     int             `json:"version"`
	SubmitterID string          `json:"submitter_id"`
}
