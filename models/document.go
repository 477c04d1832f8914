package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// DocumentType is the kind of artifact being routed for approval.
type DocumentType string

const (
	DocumentTypeLetter    DocumentType = "Letter"
	DocumentTypeCircular  DocumentType = "Circular"
	DocumentTypeReport    DocumentType = "Report"
	DocumentTypeEmergency DocumentType = "Emergency"
)

// Valid reports whether t is one of the known document types.
func (t DocumentType) Valid() bool {
	switch t {
	case DocumentTypeLetter, DocumentTypeCircular, DocumentTypeReport, DocumentTypeEmergency:
		return true
	}
	return false
}

// Priority of a submitted document.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityMedium, PriorityHigh, PriorityUrgent, PriorityCritical:
		return true
	}
	return false
}

// DocumentStatus is derived from the workflow; only the approval processor
// and the escalation engine write it.
type DocumentStatus string

const (
	StatusPending           DocumentStatus = "pending"
	StatusApproved          DocumentStatus = "approved"
	StatusRejected          DocumentStatus = "rejected"
	StatusPartiallyApproved DocumentStatus = "partially-approved"
)

// IsTerminal reports whether no further step transitions are allowed without a bypass.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Document represents a submitted artifact and its approval workflow.
type Document struct {
	// ID is the document's tracking id, stored as a UUID in the database.
	// In Elasticsearch, it's indexed as a keyword for exact matching.
	ID string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id" elastic:"type:keyword"`

	// Title is the document's title, indexed as text for full-text search.
	Title string `gorm:"not null" json:"title" elastic:"type:text,analyzer:standard"`

	// Type is one of Letter, Circular, Report or Emergency.
	Type DocumentType `gorm:"type:varchar(20);not null" json:"type" elastic:"type:keyword"`

	// SubmitterID and SubmitterName identify who submitted the document.
	SubmitterID   string `gorm:"type:varchar(64);index" json:"submitter_id" elastic:"type:keyword"`
	SubmitterName string `json:"submitter_name" elastic:"type:text"`

	// SubmittedAt is stamped once, at submission.
	SubmittedAt time.Time `json:"submitted_at" elastic:"type:date"`

	Priority    Priority `gorm:"type:varchar(20);not null;default:'normal'" json:"priority" elastic:"type:keyword"`
	Description string   `json:"description" elastic:"type:text,analyzer:standard"`

	// Attachments is a JSONB list of Attachment references. The blobs themselves live in object storage.
	Attachments datatypes.JSON `json:"attachments,omitempty"`

	Status DocumentStatus `gorm:"type:varchar(32);not null;default:'pending';index" json:"status" elastic:"type:keyword"`

	// Recipients holds display labels, RecipientIDs the stable ids of the same people when known.
	Recipients   pq.StringArray `gorm:"type:text[]" json:"recipients"`
	RecipientIDs pq.StringArray `gorm:"type:text[]" json:"recipient_ids"`

	Workflow   Workflow         `gorm:"type:jsonb" json:"workflow"`
	Escalation EscalationPolicy `gorm:"type:jsonb" json:"escalation"`

	// Version is bumped on every write and guards read-modify-write cycles.
	Version int `gorm:"not null;default:1" json:"version"`

	CreatedAt time.Time `json:"created_at" elastic:"type:date"`
	UpdatedAt time.Time `json:"updated_at" elastic:"type:date"`
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.Attachments != nil {
		c.Attachments = append(datatypes.JSON(nil), d.Attachments...)
	}
	if d.Recipients != nil {
		c.Recipients = append(pq.StringArray(nil), d.Recipients...)
	}
	if d.RecipientIDs != nil {
		c.RecipientIDs = append(pq.StringArray(nil), d.RecipientIDs...)
	}
	c.Workflow = d.Workflow.Clone()
	c.Escalation = d.Escalation.Clone()
	return &c
}

// Attachment is a reference to a file stored outside the database.
type Attachment struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// AttachmentList decodes the Attachments column.
func (d *Document) AttachmentList() ([]Attachment, error) {
	if len(d.Attachments) == 0 {
		return nil, nil
	}
	var list []Attachment
	if err := json.Unmarshal(d.Attachments, &list); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}
	return list, nil
}

// SetAttachments encodes list into the Attachments column.
func (d *Document) SetAttachments(list []Attachment) error {
	bytes, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}
	d.Attachments = datatypes.JSON(bytes)
	return nil
}

// EscalationMode selects how a stalled document escalates.
type EscalationMode string

const (
	// EscalationSequential annotates the stalled step and, when cyclic, activates the next recipient.
	EscalationSequential EscalationMode = "sequential"
	// EscalationParallel notifies the authority chain without moving the card.
	EscalationParallel EscalationMode = "parallel"
)

// EscalationPolicy is stored alongside the document and read by the escalation engine.
type EscalationPolicy struct {
	Enabled        bool           `json:"enabled"`
	Mode           EscalationMode `json:"mode,omitempty"`
	TimeoutMs      int64          `json:"timeoutMs,omitempty"`
	Cyclic         bool           `json:"cyclic,omitempty"`
	AuthorityChain []string       `json:"authorityChain,omitempty"`
}

// Timeout returns the policy timeout as a duration.
func (p EscalationPolicy) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// Clone returns a deep copy of the policy.
func (p EscalationPolicy) Clone() EscalationPolicy {
	c := p
	if p.AuthorityChain != nil {
		c.AuthorityChain = append([]string(nil), p.AuthorityChain...)
	}
	return c
}

// Value implements driver.Valuer so the policy is stored as JSONB.
func (p EscalationPolicy) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *EscalationPolicy) Scan(value interface{}) error {
	return scanJSON(value, p)
}

func scanJSON(value interface{}, dest interface{}) error {
	var bytes []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	if len(bytes) == 0 {
		return nil
	}
	return json.Unmarshal(bytes, dest)
}
