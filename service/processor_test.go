package services

import (
	"errors"
	"testing"

	"github.com/Itish41/IAOMS/models"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor() *Processor {
	return NewProcessor(testAuthorityRoles, newFakeClock())
}

// assertWorkflowInvariants checks the progress and single-current rules.
func assertWorkflowInvariants(t *testing.T, doc *models.Document) {
	t.Helper()
	wf := doc.Workflow
	assert.Equal(t, wf.ComputeProgress(), wf.Progress, "progress")
	assert.Equal(t, wf.Progress == 100, wf.CurrentStep == models.WorkflowComplete, "complete iff 100")

	escalated := false
	for _, s := range wf.Steps {
		escalated = escalated || s.Escalated
	}
	if !wf.IsParallel && !doc.Status.IsTerminal() && !escalated && wf.FirstIndex(models.StepRejected) < 0 {
		assert.Equal(t, 1, wf.CountStatus(models.StepCurrent), "exactly one current step")
	}
}

func TestProcessor_SequentialHappyPath(t *testing.T) {
	p := newTestProcessor()
	doc := sequentialDoc(userAsha, userVikram, userPrincip)

	doc1, err := p.ApplyDecision(doc, userAsha, DecisionApprove, "ok")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, doc1.Status)
	assert.Equal(t, 33, doc1.Workflow.Progress)
	assert.Equal(t, models.StepCompleted, doc1.Workflow.Steps[0].Status)
	assert.Equal(t, models.StepCurrent, doc1.Workflow.Steps[1].Status)
	assert.Equal(t, doc1.Workflow.Steps[1].Name, doc1.Workflow.CurrentStep)
	assert.Equal(t, "ok", doc1.Workflow.Steps[0].Comments)
	assert.Equal(t, userAsha.ID, doc1.Workflow.Steps[0].ActedBy)
	require.NotNil(t, doc1.Workflow.Steps[0].CompletedDate)
	assert.Equal(t, FixedTime, *doc1.Workflow.Steps[0].CompletedDate)
	assertWorkflowInvariants(t, doc1)

	doc2, err := p.ApplyDecision(doc1, userVikram, DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, 67, doc2.Workflow.Progress)
	assertWorkflowInvariants(t, doc2)

	doc3, err := p.ApplyDecision(doc2, userPrincip, DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, doc3.Status)
	assert.Equal(t, 100, doc3.Workflow.Progress)
	assert.Equal(t, models.WorkflowComplete, doc3.Workflow.CurrentStep)
	assertWorkflowInvariants(t, doc3)

	// inputs untouched
	assert.Equal(t, models.StepCurrent, doc.Workflow.Steps[0].Status)
	assert.Equal(t, models.StatusPending, doc2.Status)
}

func TestProcessor_SequentialRejection(t *testing.T) {
	p := newTestProcessor()
	doc := sequentialDoc(userAsha, userVikram, userPrincip)

	doc1, err := p.ApplyDecision(doc, userAsha, DecisionApprove, "")
	require.NoError(t, err)
	doc2, err := p.ApplyDecision(doc1, userVikram, DecisionReject, "budget exceeded")
	require.NoError(t, err)

	assert.Equal(t, models.StatusRejected, doc2.Status)
	assert.Equal(t, models.StepRejected, doc2.Workflow.Steps[1].Status)
	assert.Equal(t, models.StepPending, doc2.Workflow.Steps[2].Status)
	assert.Equal(t, 67, doc2.Workflow.Progress)
	assert.NotEqual(t, models.WorkflowComplete, doc2.Workflow.CurrentStep)
	assertWorkflowInvariants(t, doc2)

	// terminal documents refuse further decisions
	_, err = p.ApplyDecision(doc2, userPrincip, DecisionApprove, "")
	var terminal *AlreadyTerminalError
	require.True(t, errors.As(err, &terminal))
	assert.Equal(t, models.StatusRejected, terminal.Status)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestProcessor_SequentialRejectionOfLastStepCompletes(t *testing.T) {
	p := newTestProcessor()
	doc := sequentialDoc(userAsha)

	out, err := p.ApplyDecision(doc, userAsha, DecisionReject, "no")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, out.Status)
	assert.Equal(t, 100, out.Workflow.Progress)
	assertWorkflowInvariants(t, out)
}

func TestProcessor_NotARecipientReasons(t *testing.T) {
	p := newTestProcessor()
	doc := sequentialDoc(userAsha, userVikram)

	tests := []struct {
		name   string
		doc    *models.Document
		actor  models.User
		reason string
	}{
		{"stranger", doc, userMeera, ReasonNotRecipient},
		{"later step", doc, userVikram, ReasonNotYourTurn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ApplyDecision(tt.doc, tt.actor, DecisionApprove, "")
			var nar *NotARecipientError
			require.True(t, errors.As(err, &nar))
			assert.Equal(t, tt.reason, nar.Reason)
			assert.ErrorIs(t, err, ErrNotARecipient)
		})
	}

	t.Run("already acted", func(t *testing.T) {
		doc1, err := p.ApplyDecision(doc, userAsha, DecisionApprove, "")
		require.NoError(t, err)
		_, err = p.ApplyDecision(doc1, userAsha, DecisionApprove, "")
		var nar *NotARecipientError
		require.True(t, errors.As(err, &nar))
		assert.Equal(t, ReasonAlreadyActed, nar.Reason)
	})
}

func TestProcessor_InvalidAction(t *testing.T) {
	_, err := newTestProcessor().ApplyDecision(sequentialDoc(userAsha), userAsha, "maybe", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestProcessor_LabelFallback(t *testing.T) {
	p := newTestProcessor()
	doc := &models.Document{
		ID:         "legacy",
		Status:     models.StatusPending,
		Recipients: pq.StringArray{"Principal", "HOD CSE"},
		Workflow:   BuildWorkflow([]string{"Principal", "HOD CSE"}, models.RoutingSequential, false),
	}

	_, err := p.ApplyDecision(doc, userAsha, DecisionApprove, "")
	assert.ErrorIs(t, err, ErrNotARecipient)

	out, err := p.ApplyDecision(doc, userPrincip, DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, out.Workflow.Steps[0].Status)
	assert.Equal(t, "HOD CSE step", out.Workflow.CurrentStep)
}

func TestProcessor_DocumentWithoutSteps(t *testing.T) {
	p := newTestProcessor()
	doc := &models.Document{ID: "old", Status: models.StatusPending, Recipients: pq.StringArray{"Dean"}}

	out, err := p.ApplyDecision(doc, userVikram, DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, out.Status)
	assert.Equal(t, models.WorkflowComplete, out.Workflow.CurrentStep)

	_, err = p.ApplyDecision(doc, userAsha, DecisionApprove, "")
	assert.ErrorIs(t, err, ErrNotARecipient)
}

func TestProcessor_Parallel(t *testing.T) {
	p := newTestProcessor()

	t.Run("partial then approved", func(t *testing.T) {
		doc := routedDoc(models.RoutingParallel, false, userAsha, userVikram, userMeera)

		doc1, err := p.ApplyDecision(doc, userVikram, DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusPartiallyApproved, doc1.Status)
		assert.Equal(t, 33, doc1.Workflow.Progress)
		assertWorkflowInvariants(t, doc1)

		doc2, err := p.ApplyDecision(doc1, userAsha, DecisionApprove, "")
		require.NoError(t, err)
		doc3, err := p.ApplyDecision(doc2, userMeera, DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, doc3.Status)
		assert.Equal(t, models.WorkflowComplete, doc3.Workflow.CurrentStep)
		assertWorkflowInvariants(t, doc3)
	})

	t.Run("any rejection rejects", func(t *testing.T) {
		doc := routedDoc(models.RoutingParallel, false, userAsha, userVikram)
		out, err := p.ApplyDecision(doc, userVikram, DecisionReject, "no")
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, out.Status)
		assertWorkflowInvariants(t, out)
	})

	t.Run("rejection with bypass waits for the rest", func(t *testing.T) {
		doc := routedDoc(models.RoutingParallel, true, userAsha, userVikram)
		out, err := p.ApplyDecision(doc, userVikram, DecisionReject, "no")
		require.NoError(t, err)
		assert.Equal(t, models.StatusPartiallyApproved, out.Status)

		out, err = p.ApplyDecision(out, userAsha, DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, out.Status)
		assertWorkflowInvariants(t, out)
	})
}

func TestProcessor_Bypass(t *testing.T) {
	p := newTestProcessor()

	t.Run("authority overrides a rejection", func(t *testing.T) {
		doc := routedDoc(models.RoutingSequential, true, userAsha, userVikram)
		halted, err := p.ApplyDecision(doc, userAsha, DecisionReject, "incomplete")
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, halted.Status)
		assert.Equal(t, models.StepPending, halted.Workflow.Steps[1].Status)

		out, err := p.Bypass(halted, userPrincip, "approved by principal")
		require.NoError(t, err)
		assert.Equal(t, models.StepBypassed, out.Workflow.Steps[0].Status)
		assert.Equal(t, models.StepCurrent, out.Workflow.Steps[1].Status)
		assert.Equal(t, models.StatusPending, out.Status)
		assert.Equal(t, 50, out.Workflow.Progress)
		assertWorkflowInvariants(t, out)
	})

	t.Run("bypass of a rejected parallel document", func(t *testing.T) {
		doc := routedDoc(models.RoutingParallel, true, userAsha, userVikram)
		doc, _ = p.ApplyDecision(doc, userAsha, DecisionReject, "no")
		doc, _ = p.ApplyDecision(doc, userVikram, DecisionApprove, "")
		require.Equal(t, models.StatusRejected, doc.Status)

		out, err := p.Bypass(doc, userMeera, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, out.Status)
		assertWorkflowInvariants(t, out)
	})

	t.Run("bypass of the current step", func(t *testing.T) {
		doc := routedDoc(models.RoutingSequential, true, userAsha, userVikram)
		out, err := p.Bypass(doc, userPrincip, "urgent")
		require.NoError(t, err)
		assert.Equal(t, models.StepBypassed, out.Workflow.Steps[0].Status)
		assert.Equal(t, out.Workflow.Steps[1].Name, out.Workflow.CurrentStep)
	})

	t.Run("non-authority refused", func(t *testing.T) {
		doc := routedDoc(models.RoutingSequential, true, userAsha)
		_, err := p.Bypass(doc, userFaculty, "")
		assert.ErrorIs(t, err, ErrBypassNotAuthorized)
	})

	t.Run("workflow without bypass refused", func(t *testing.T) {
		_, err := p.Bypass(sequentialDoc(userAsha), userPrincip, "")
		var bna *BypassNotAuthorizedError
		require.True(t, errors.As(err, &bna))
		assert.Contains(t, bna.Reason, "does not allow")
	})

	t.Run("approved document refused", func(t *testing.T) {
		doc := routedDoc(models.RoutingSequential, true, userAsha)
		doc, _ = p.ApplyDecision(doc, userAsha, DecisionApprove, "")
		_, err := p.Bypass(doc, userPrincip, "")
		assert.ErrorIs(t, err, ErrAlreadyTerminal)
	})
}

func TestProcessor_ReplaceRecipients(t *testing.T) {
	p := newTestProcessor()
	doc := sequentialDoc(userAsha, userVikram, userPrincip)
	doc, err := p.ApplyDecision(doc, userAsha, DecisionApprove, "fine")
	require.NoError(t, err)

	out, err := p.ReplaceRecipients(doc,
		[]string{userAsha.Name, userMeera.Name},
		[]string{userAsha.ID, userMeera.ID})
	require.NoError(t, err)

	require.Len(t, out.Workflow.Steps, 2)
	assert.Equal(t, models.StepCompleted, out.Workflow.Steps[0].Status)
	assert.Equal(t, "fine", out.Workflow.Steps[0].Comments)
	assert.Equal(t, models.StepCurrent, out.Workflow.Steps[1].Status)
	assert.Equal(t, userMeera.ID, out.Workflow.Steps[1].AssigneeID)
	assert.Equal(t, []string{userAsha.ID, userMeera.ID}, []string(out.RecipientIDs))
	assert.Equal(t, 50, out.Workflow.Progress)
	assertWorkflowInvariants(t, out)

	_, err = p.ReplaceRecipients(doc, nil, nil)
	assert.ErrorIs(t, err, ErrValidation)

	doc.Status = models.StatusApproved
	_, err = p.ReplaceRecipients(doc, []string{"Dean"}, nil)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestProcessor_EscalatedSiblingKeepsPointer(t *testing.T) {
	p := newTestProcessor()
	doc := sequentialDoc(userAsha, userVikram, userPrincip)
	// a cyclic escalation left two steps current
	doc.Workflow.Steps[0].Escalated = true
	doc.Workflow.Steps[1].Status = models.StepCurrent
	doc.Workflow.CurrentStep = doc.Workflow.Steps[1].Name

	out, err := p.ApplyDecision(doc, userAsha, DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, doc.Workflow.Steps[1].Name, out.Workflow.CurrentStep)
	assert.Equal(t, models.StepPending, out.Workflow.Steps[2].Status)
}
