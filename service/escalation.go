package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Itish41/IAOMS/models"
	"github.com/Itish41/IAOMS/repository"
	"go.uber.org/zap"
)

// systemActor is recorded as the actor of engine-driven events.
const systemActor = "system"

// errEscalationDone ends a document's escalation from inside a store mutation.
var errEscalationDone = errors.New("escalation no longer needed")

// EscalationStatus is a snapshot of one armed timer.
type EscalationStatus struct {
	DocumentID            string                `json:"document_id"`
	Mode                  models.EscalationMode `json:"mode"`
	Level                 int                   `json:"level"`
	CurrentRecipientIndex int                   `json:"current_recipient_index"`
	Recipients            []string              `json:"recipients"`
	LastEscalationTime    *time.Time            `json:"last_escalation_time,omitempty"`
	Timeout               time.Duration         `json:"timeout"`
	NextFireAt            time.Time             `json:"next_fire_at"`
}

type escalationTimer struct {
	status     EscalationStatus
	generation uint64
	timer      Timer
}

// EscalationConfig holds engine-wide defaults.
type EscalationConfig struct {
	DefaultTimeout time.Duration
	AuthorityChain []string
	PublicURL      string
}

// EscalationEngine nudges stalled documents. Sequential documents get their
// stalled step annotated and, when cyclic, the next recipient activated.
// Parallel documents notify the next authority in the chain. Timer state
// lives in memory only.
type EscalationEngine struct {
	store     DocumentStore
	clock     Clock
	notifier  Notifier
	directory Directory
	events    *EventBus
	cfg       EscalationConfig
	log       *zap.Logger

	mu         sync.Mutex
	timers     map[string]*escalationTimer
	generation uint64
	running    bool
	inflight   sync.WaitGroup
}

func NewEscalationEngine(store DocumentStore, clock Clock, notifier Notifier, directory Directory, events *EventBus, cfg EscalationConfig, log *zap.Logger) *EscalationEngine {
	if clock == nil {
		clock = RealClock()
	}
	return &EscalationEngine{
		store:     store,
		clock:     clock,
		notifier:  notifier,
		directory: directory,
		events:    events,
		cfg:       cfg,
		log:       log,
		timers:    make(map[string]*escalationTimer),
	}
}

// Start lets the engine arm timers.
func (e *EscalationEngine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true
	e.log.Info("escalation engine started")
}

// Shutdown stops every timer and waits for running callbacks.
func (e *EscalationEngine) Shutdown() {
	e.mu.Lock()
	e.running = false
	for id, entry := range e.timers {
		entry.timer.Stop()
		delete(e.timers, id)
	}
	e.mu.Unlock()

	e.inflight.Wait()
	e.log.Info("escalation engine stopped")
}

// Arm starts or replaces the timer of doc. Documents without an enabled
// policy, terminal documents and documents without steps are disarmed.
func (e *EscalationEngine) Arm(doc *models.Document) {
	e.arm(doc, 0)
}

// StopEscalation disarms a document. Calling it again is a no-op.
func (e *EscalationEngine) StopEscalation(documentID string) {
	e.stop(documentID, 0, "stopped")
}

// Active returns the armed timers ordered by document id.
func (e *EscalationEngine) Active() []EscalationStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EscalationStatus, 0, len(e.timers))
	for _, entry := range e.timers {
		s := entry.status
		s.Recipients = append([]string(nil), s.Recipients...)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out
}

// arm replaces the timer of doc. With expect != 0 it only re-arms if the
// current timer is still generation expect.
func (e *EscalationEngine) arm(doc *models.Document, expect uint64) {
	if doc == nil {
		return
	}
	if !doc.Escalation.Enabled || doc.Status.IsTerminal() || len(doc.Workflow.Steps) == 0 {
		e.stop(doc.ID, expect, "finished")
		return
	}

	status := timerStatus(doc)
	status.Timeout = doc.Escalation.Timeout()
	if status.Timeout <= 0 {
		status.Timeout = e.cfg.DefaultTimeout
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}

	old, exists := e.timers[doc.ID]
	if expect != 0 && (!exists || old.generation != expect) {
		return
	}
	if exists {
		old.timer.Stop()
		if status.LastEscalationTime == nil {
			status.LastEscalationTime = old.status.LastEscalationTime
		}
	}

	e.generation++
	gen := e.generation
	id := doc.ID
	status.NextFireAt = e.clock.Now().Add(status.Timeout)
	entry := &escalationTimer{status: status, generation: gen}
	entry.timer = e.clock.AfterFunc(status.Timeout, func() { e.fire(id, gen) })
	e.timers[id] = entry
}

// retry re-arms the same state after a failed tick.
func (e *EscalationEngine) retry(documentID string, expect uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.timers[documentID]
	if !ok || !e.running || entry.generation != expect {
		return
	}
	e.generation++
	gen := e.generation
	entry.generation = gen
	entry.status.NextFireAt = e.clock.Now().Add(entry.status.Timeout)
	entry.timer = e.clock.AfterFunc(entry.status.Timeout, func() { e.fire(documentID, gen) })
}

func (e *EscalationEngine) stop(documentID string, expect uint64, reason string) {
	e.mu.Lock()
	entry, ok := e.timers[documentID]
	if !ok || (expect != 0 && entry.generation != expect) {
		e.mu.Unlock()
		return
	}
	entry.timer.Stop()
	delete(e.timers, documentID)
	e.mu.Unlock()

	e.log.Debug("escalation stopped", zap.String("document_id", documentID), zap.String("reason", reason))
	e.events.Publish(context.Background(), Event{
		Type:       models.EventEscalationStopped,
		DocumentID: documentID,
		ActorID:    systemActor,
		Payload:    map[string]interface{}{"reason": reason},
		At:         e.clock.Now(),
	})
}

type escalationOutcome struct {
	doc       *models.Document
	stalled   models.Step
	promoted  *models.Step
	authority string
	level     int
}

func (e *EscalationEngine) fire(documentID string, gen uint64) {
	e.mu.Lock()
	entry, ok := e.timers[documentID]
	if !ok || entry.generation != gen || !e.running {
		e.mu.Unlock()
		return
	}
	snapshot := entry.status
	e.inflight.Add(1)
	e.mu.Unlock()
	defer e.inflight.Done()

	ctx := context.Background()
	var (
		outcome escalationOutcome
		err     error
	)
	if snapshot.Mode == models.EscalationParallel {
		outcome, err = e.escalateParallel(ctx, snapshot)
	} else {
		outcome, err = e.escalateSequential(ctx, snapshot)
	}

	switch {
	case errors.Is(err, errEscalationDone), errors.Is(err, repository.ErrNotFound):
		e.stop(documentID, gen, "finished")
		return
	case err != nil:
		e.log.Error("escalation tick failed, retrying on next tick",
			zap.String("document_id", documentID),
			zap.Error(err))
		e.retry(documentID, gen)
		return
	}

	e.mu.Lock()
	if entry, ok := e.timers[documentID]; ok && entry.generation == gen {
		now := e.clock.Now()
		entry.status.LastEscalationTime = &now
	}
	e.mu.Unlock()

	e.deliver(ctx, outcome)
	e.arm(outcome.doc, gen)
}

func (e *EscalationEngine) escalateSequential(ctx context.Context, snapshot EscalationStatus) (escalationOutcome, error) {
	var out escalationOutcome
	updated, err := e.store.Update(ctx, snapshot.DocumentID, func(d *models.Document) error {
		if d.Status.IsTerminal() || !d.Escalation.Enabled {
			return errEscalationDone
		}
		wf := &d.Workflow
		idx := snapshot.CurrentRecipientIndex
		if idx < 0 || idx >= len(wf.Steps) || wf.Steps[idx].Status != models.StepCurrent {
			return errEscalationDone
		}

		now := e.clock.Now()
		step := &wf.Steps[idx]
		step.Escalated = true
		step.EscalationLevel++
		step.EscalatedAt = &now
		wf.EscalationLevel++
		out.stalled = *step
		out.level = wf.EscalationLevel

		if d.Escalation.Cyclic && len(wf.Steps) > 1 {
			next := (idx + 1) % len(wf.Steps)
			for tries := 1; tries < len(wf.Steps) && wf.Steps[next].Resolved(); tries++ {
				next = (next + 1) % len(wf.Steps)
			}
			if next != idx && !wf.Steps[next].Resolved() {
				wf.Steps[next].Status = models.StepCurrent
				wf.CurrentStep = wf.Steps[next].Name
				promoted := wf.Steps[next]
				out.promoted = &promoted
			}
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	out.doc = updated
	return out, nil
}

func (e *EscalationEngine) escalateParallel(ctx context.Context, snapshot EscalationStatus) (escalationOutcome, error) {
	var out escalationOutcome
	updated, err := e.store.Update(ctx, snapshot.DocumentID, func(d *models.Document) error {
		if d.Status.IsTerminal() || !d.Escalation.Enabled {
			return errEscalationDone
		}
		wf := &d.Workflow
		if wf.ResolvedCount() == len(wf.Steps) {
			return errEscalationDone
		}
		chain := d.Escalation.AuthorityChain
		if len(chain) == 0 {
			chain = e.cfg.AuthorityChain
		}
		if len(chain) == 0 {
			e.log.Warn("no authority chain for parallel escalation", zap.String("document_id", d.ID))
			return errEscalationDone
		}

		level := wf.EscalationLevel + 1
		authority := chain[min(level-1, len(chain)-1)]
		wf.EscalationLevel = level
		wf.EscalatedToAuthority = authority
		out.level = level
		out.authority = authority
		return nil
	})
	if err != nil {
		return out, err
	}
	out.doc = updated
	return out, nil
}

// deliver notifies whoever the tick concerns and records the event.
// Delivery failures are logged only.
func (e *EscalationEngine) deliver(ctx context.Context, out escalationOutcome) {
	doc := out.doc
	payload := map[string]interface{}{
		"mode":  timerStatus(doc).Mode,
		"level": out.level,
	}

	var recipientID string
	var content models.NotificationContent
	switch {
	case out.authority != "":
		recipientID = out.authority
		payload["authority"] = out.authority
		content = contentFor(doc, models.NotificationEscalation, e.cfg.PublicURL)
		content.Message = "No response was received from all recipients. The document has been escalated to you."
		if user, err := e.directory.ResolveRecipient(ctx, out.authority); err == nil {
			payload["authority_name"] = user.Name
		}
	case out.promoted != nil:
		recipientID = out.promoted.AssigneeID
		payload["stalled_step"] = out.stalled.Name
		payload["promoted_step"] = out.promoted.Name
		content = contentFor(doc, models.NotificationEscalation, e.cfg.PublicURL)
		content.Message = out.stalled.Assignee + " did not respond in time. The document now awaits your action."
	default:
		recipientID = out.stalled.AssigneeID
		payload["stalled_step"] = out.stalled.Name
		content = contentFor(doc, models.NotificationReminder, e.cfg.PublicURL)
	}

	e.log.Info("document escalated",
		zap.String("document_id", doc.ID),
		zap.Int("level", out.level),
		zap.String("notify", recipientID))

	if recipientID != "" && e.notifier != nil {
		if _, err := e.notifier.Notify(ctx, recipientID, content); err != nil {
			e.log.Warn("escalation notification failed",
				zap.String("document_id", doc.ID),
				zap.String("recipient_id", recipientID),
				zap.Error(err))
		}
	}

	ev := documentEvent(models.EventDocumentEscalated, doc, systemActor, payload)
	ev.At = e.clock.Now()
	if recipientID != "" {
		ev.Audience = append(ev.Audience, recipientID)
	}
	e.events.Publish(ctx, ev)
}

// timerStatus derives the tracking state of doc.
func timerStatus(doc *models.Document) EscalationStatus {
	wf := doc.Workflow
	mode := doc.Escalation.Mode
	if mode != models.EscalationSequential && mode != models.EscalationParallel {
		mode = models.EscalationSequential
		if wf.IsParallel {
			mode = models.EscalationParallel
		}
	}

	recipients := make([]string, len(wf.Steps))
	for i, s := range wf.Steps {
		recipients[i] = s.AssigneeID
		if recipients[i] == "" {
			recipients[i] = s.Assignee
		}
	}

	status := EscalationStatus{
		DocumentID: doc.ID,
		Mode:       mode,
		Level:      wf.EscalationLevel,
		Recipients: recipients,
	}
	if mode == models.EscalationParallel {
		return status
	}

	idx := wf.StepIndex(wf.CurrentStep)
	if idx < 0 || wf.Steps[idx].Status != models.StepCurrent {
		idx = wf.FirstIndex(models.StepCurrent)
	}
	if idx < 0 {
		idx = 0
	}
	status.CurrentRecipientIndex = idx
	if at := wf.Steps[idx].EscalatedAt; at != nil {
		t := *at
		status.LastEscalationTime = &t
	}
	return status
}
