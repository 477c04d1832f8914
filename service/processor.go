package services

import (
	"strings"

	"github.com/Itish41/IAOMS/models"
)

// Decision is a recipient's verdict on their step.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Processor applies approval decisions to documents. It never mutates its
// input; every method returns an updated copy.
type Processor struct {
	authorityRoles map[string]bool
	clock          Clock
}

func NewProcessor(authorityRoles []string, clock Clock) *Processor {
	if clock == nil {
		clock = RealClock()
	}
	roles := make(map[string]bool, len(authorityRoles))
	for _, r := range authorityRoles {
		roles[strings.ToLower(strings.TrimSpace(r))] = true
	}
	return &Processor{authorityRoles: roles, clock: clock}
}

// IsAuthority reports whether user holds a role allowed to bypass steps.
func (p *Processor) IsAuthority(user models.User) bool {
	return p.authorityRoles[strings.ToLower(strings.TrimSpace(user.Role))]
}

// ApplyDecision records actor's approve or reject on the step they may act on.
func (p *Processor) ApplyDecision(doc *models.Document, actor models.User, action Decision, comments string) (*models.Document, error) {
	if doc == nil {
		return nil, &UnknownDocumentError{}
	}
	if action != DecisionApprove && action != DecisionReject {
		return nil, &ValidationError{Field: "action", Message: "must be approve or reject"}
	}
	if doc.Status.IsTerminal() {
		return nil, &AlreadyTerminalError{DocumentID: doc.ID, Status: doc.Status}
	}

	next := doc.Clone()
	wf := &next.Workflow

	if len(wf.Steps) == 0 {
		return p.decideWithoutSteps(next, actor, action)
	}

	idx, reason := locateStep(wf, actor)
	if idx < 0 {
		return nil, &NotARecipientError{DocumentID: doc.ID, UserID: actorKey(actor), Reason: reason}
	}

	now := p.clock.Now()
	step := &wf.Steps[idx]
	step.Status = models.StepCompleted
	if action == DecisionReject {
		step.Status = models.StepRejected
	}
	step.CompletedDate = &now
	step.Comments = comments
	step.ActedBy = actorKey(actor)

	if wf.IsParallel {
		settleParallel(next)
	} else {
		settleSequential(next)
	}
	return next, nil
}

// Bypass lets an authority override the first rejected step, or the first
// current one, and advances the workflow as if it had been approved.
func (p *Processor) Bypass(doc *models.Document, actor models.User, comments string) (*models.Document, error) {
	if doc == nil {
		return nil, &UnknownDocumentError{}
	}
	if !p.IsAuthority(actor) {
		return nil, &BypassNotAuthorizedError{UserID: actorKey(actor), Reason: "role " + actor.Role + " cannot bypass approval steps"}
	}
	if !doc.Workflow.HasBypass {
		return nil, &BypassNotAuthorizedError{UserID: actorKey(actor), Reason: "workflow does not allow bypass"}
	}
	if doc.Status == models.StatusApproved {
		return nil, &AlreadyTerminalError{DocumentID: doc.ID, Status: doc.Status}
	}

	next := doc.Clone()
	wf := &next.Workflow
	idx := wf.FirstIndex(models.StepRejected)
	if idx < 0 {
		idx = wf.FirstIndex(models.StepCurrent)
	}
	if idx < 0 {
		return nil, &ValidationError{Field: "workflow", Message: "no step to bypass"}
	}

	now := p.clock.Now()
	step := &wf.Steps[idx]
	step.Status = models.StepBypassed
	step.CompletedDate = &now
	step.Comments = comments
	step.ActedBy = actorKey(actor)

	if wf.IsParallel {
		settleParallel(next)
	} else {
		settleSequential(next)
	}
	return next, nil
}

// ReplaceRecipients rebuilds the workflow for a new recipient list. Steps
// that already have an outcome survive when their assignee is still listed.
func (p *Processor) ReplaceRecipients(doc *models.Document, recipients, ids []string) (*models.Document, error) {
	if doc == nil {
		return nil, &UnknownDocumentError{}
	}
	if doc.Status.IsTerminal() {
		return nil, &AlreadyTerminalError{DocumentID: doc.ID, Status: doc.Status}
	}

	next := doc.Clone()
	old := next.Workflow
	fresh := BuildWorkflowWithIDs(recipients, ids, old.RoutingType, old.HasBypass)
	if len(fresh.Steps) == 0 {
		return nil, &ValidationError{Field: "recipients", Message: "at least one recipient is required"}
	}
	fresh.EscalationLevel = old.EscalationLevel
	fresh.EscalatedToAuthority = old.EscalatedToAuthority

	resolved := make(map[string]models.Step)
	for _, s := range old.Steps {
		if s.Resolved() {
			if _, dup := resolved[stepKey(s)]; !dup {
				resolved[stepKey(s)] = s
			}
		}
	}
	for i := range fresh.Steps {
		key := stepKey(fresh.Steps[i])
		if kept, ok := resolved[key]; ok {
			kept.Name = fresh.Steps[i].Name
			fresh.Steps[i] = kept
			delete(resolved, key)
			continue
		}
		fresh.Steps[i].Status = models.StepPending
		if fresh.IsParallel {
			fresh.Steps[i].Status = models.StepCurrent
		}
	}

	next.Workflow = fresh
	next.Recipients = append(next.Recipients[:0:0], recipients...)
	next.RecipientIDs = append(next.RecipientIDs[:0:0], ids...)

	if fresh.IsParallel {
		settleParallel(next)
	} else {
		settleSequential(next)
	}
	return next, nil
}

// decideWithoutSteps handles legacy documents routed by label only.
func (p *Processor) decideWithoutSteps(doc *models.Document, actor models.User, action Decision) (*models.Document, error) {
	if !IsRecipient(actor, doc) {
		return nil, &NotARecipientError{DocumentID: doc.ID, UserID: actorKey(actor), Reason: ReasonNotRecipient}
	}
	doc.Status = models.StatusApproved
	if action == DecisionReject {
		doc.Status = models.StatusRejected
	}
	doc.Workflow.CurrentStep = models.WorkflowComplete
	doc.Workflow.Progress = 100
	return doc, nil
}

func locateStep(wf *models.Workflow, actor models.User) (int, string) {
	if actor.ID != "" {
		for i, s := range wf.Steps {
			if s.Status == models.StepCurrent && s.AssigneeID == actor.ID {
				return i, ""
			}
		}
	}
	for i, s := range wf.Steps {
		if s.Status == models.StepCurrent && MatchesStep(actor, s) {
			return i, ""
		}
	}

	reason := ReasonNotRecipient
	for _, s := range wf.Steps {
		if !MatchesStep(actor, s) {
			continue
		}
		if s.Resolved() {
			return -1, ReasonAlreadyActed
		}
		reason = ReasonNotYourTurn
	}
	return -1, reason
}

// settleSequential derives status and the current pointer of a sequential workflow.
func settleSequential(doc *models.Document) {
	wf := &doc.Workflow
	if rej := wf.FirstIndex(models.StepRejected); rej >= 0 {
		// Without bypass the chain ends here; with bypass it halts until an authority steps in.
		doc.Status = models.StatusRejected
		if wf.HasBypass {
			doc.Status = models.StatusPending
		}
		wf.CurrentStep = wf.Steps[rej].Name
		refreshProgress(wf)
		return
	}

	if cur := wf.FirstIndex(models.StepCurrent); cur >= 0 {
		doc.Status = models.StatusPending
		wf.CurrentStep = wf.Steps[cur].Name
	} else if pend := wf.FirstIndex(models.StepPending); pend >= 0 {
		wf.Steps[pend].Status = models.StepCurrent
		doc.Status = models.StatusPending
		wf.CurrentStep = wf.Steps[pend].Name
	} else {
		doc.Status = models.StatusApproved
	}
	refreshProgress(wf)
}

// settleParallel derives status and the current pointer of a parallel workflow.
func settleParallel(doc *models.Document) {
	wf := &doc.Workflow
	resolved := wf.ResolvedCount()
	rejected := wf.CountStatus(models.StepRejected)

	switch {
	case rejected > 0 && !wf.HasBypass:
		doc.Status = models.StatusRejected
		wf.CurrentStep = wf.Steps[wf.FirstIndex(models.StepRejected)].Name
	case resolved == len(wf.Steps):
		doc.Status = models.StatusApproved
		if rejected > 0 {
			doc.Status = models.StatusRejected
		}
	case resolved > 0:
		doc.Status = models.StatusPartiallyApproved
	default:
		doc.Status = models.StatusPending
	}

	if doc.Status != models.StatusRejected || wf.HasBypass {
		if cur := wf.FirstIndex(models.StepCurrent); cur >= 0 {
			wf.CurrentStep = wf.Steps[cur].Name
		}
	}
	refreshProgress(wf)
}

// refreshProgress keeps Progress == 100 and CurrentStep == "Complete" together.
func refreshProgress(wf *models.Workflow) {
	wf.Progress = wf.ComputeProgress()
	if wf.Progress == 100 {
		wf.CurrentStep = models.WorkflowComplete
	}
}

func stepKey(s models.Step) string {
	if s.AssigneeID != "" {
		return "id:" + s.AssigneeID
	}
	return "label:" + strings.ToLower(strings.TrimSpace(s.Assignee))
}

func actorKey(user models.User) string {
	if user.ID != "" {
		return user.ID
	}
	return user.Name
}

