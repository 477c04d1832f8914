package models

import (
	"database/sql/driver"
	"encoding/json"
	"math"
	"time"
)

// WorkflowComplete is the CurrentStep value of a finished workflow.
const WorkflowComplete = "Complete"

// RoutingType is the shape of step activation.
type RoutingType string

const (
	RoutingSequential    RoutingType = "sequential"
	RoutingParallel      RoutingType = "parallel"
	RoutingReverse       RoutingType = "reverse"
	RoutingBidirectional RoutingType = "bidirectional"
)

// StepStatus of a single workflow step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCurrent   StepStatus = "current"
	StepCompleted StepStatus = "completed"
	StepRejected  StepStatus = "rejected"
	StepBypassed  StepStatus = "bypassed"
)

// Step is one recipient's slot in a workflow.
type Step struct {
	Name string `json:"name"`
	// Assignee is the free-text label used by the fallback matcher.
	Assignee string `json:"assignee"`
	// AssigneeID is the stable recipient id, empty for legacy label-only steps.
	AssigneeID    string     `json:"assigneeId,omitempty"`
	Status        StepStatus `json:"status"`
	CompletedDate *time.Time `json:"completedDate,omitempty"`
	Comments      string     `json:"comments,omitempty"`
	ActedBy       string     `json:"actedBy,omitempty"`

	Escalated       bool       `json:"escalated,omitempty"`
	EscalationLevel int        `json:"escalationLevel,omitempty"`
	EscalatedAt     *time.Time `json:"escalatedAt,omitempty"`
}

// Resolved reports whether the step has a final outcome.
func (s Step) Resolved() bool {
	return s.Status == StepCompleted || s.Status == StepRejected || s.Status == StepBypassed
}

// Workflow is the ordered or parallel set of steps attached to a document.
type Workflow struct {
	Steps       []Step      `json:"steps"`
	CurrentStep string      `json:"currentStep"`
	Progress    int         `json:"progress"`
	IsParallel  bool        `json:"isParallel"`
	RoutingType RoutingType `json:"routingType,omitempty"`
	HasBypass   bool        `json:"hasBypass,omitempty"`

	EscalationLevel      int    `json:"escalationLevel,omitempty"`
	EscalatedToAuthority string `json:"escalatedToAuthority,omitempty"`
}

// Clone returns a deep copy of the workflow.
func (w Workflow) Clone() Workflow {
	c := w
	if w.Steps != nil {
		c.Steps = make([]Step, len(w.Steps))
		for i, s := range w.Steps {
			c.Steps[i] = s
			if s.CompletedDate != nil {
				t := *s.CompletedDate
				c.Steps[i].CompletedDate = &t
			}
			if s.EscalatedAt != nil {
				t := *s.EscalatedAt
				c.Steps[i].EscalatedAt = &t
			}
		}
	}
	return c
}

// ResolvedCount counts completed, rejected and bypassed steps.
func (w Workflow) ResolvedCount() int {
	n := 0
	for _, s := range w.Steps {
		if s.Resolved() {
			n++
		}
	}
	return n
}

// CountStatus counts steps in the given status.
func (w Workflow) CountStatus(status StepStatus) int {
	n := 0
	for _, s := range w.Steps {
		if s.Status == status {
			n++
		}
	}
	return n
}

// ComputeProgress returns round(100 * resolved / total). An empty workflow is
// 100 and an unfinished one never rounds up to 100.
func (w Workflow) ComputeProgress() int {
	if len(w.Steps) == 0 {
		return 100
	}
	resolved := w.ResolvedCount()
	progress := int(math.Round(float64(resolved) * 100 / float64(len(w.Steps))))
	if progress == 100 && resolved < len(w.Steps) {
		return 99
	}
	return progress
}

// StepIndex returns the index of the named step or -1.
func (w Workflow) StepIndex(name string) int {
	for i, s := range w.Steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// FirstIndex returns the index of the first step in status, or -1.
func (w Workflow) FirstIndex(status StepStatus) int {
	for i, s := range w.Steps {
		if s.Status == status {
			return i
		}
	}
	return -1
}

// ActionableSteps returns the steps whose assignees may act now.
func (w Workflow) ActionableSteps() []Step {
	var steps []Step
	for _, s := range w.Steps {
		if s.Status == StepCurrent {
			steps = append(steps, s)
		}
	}
	return steps
}

// Value implements driver.Valuer so the workflow is stored as JSONB.
func (w Workflow) Value() (driver.Value, error) {
	return json.Marshal(w)
}

// Scan implements sql.Scanner.
func (w *Workflow) Scan(value interface{}) error {
	return scanJSON(value, w)
}
