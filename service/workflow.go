package services

import (
	"fmt"
	"strings"

	"github.com/Itish41/IAOMS/models"
)

// NormalizeRouting maps unknown routing types to sequential.
func NormalizeRouting(routing models.RoutingType) models.RoutingType {
	switch routing {
	case models.RoutingSequential, models.RoutingParallel, models.RoutingReverse, models.RoutingBidirectional:
		return routing
	}
	return models.RoutingSequential
}

// BuildWorkflow creates a workflow from display labels only.
func BuildWorkflow(recipients []string, routing models.RoutingType, hasBypass bool) models.Workflow {
	return BuildWorkflowWithIDs(recipients, nil, routing, hasBypass)
}

// BuildWorkflowWithIDs creates one step per recipient. ids[i] is the stable
// id of recipients[i] and may be missing. Reverse routing walks the list
// backwards; parallel and bidirectional routing activate every step at once.
func BuildWorkflowWithIDs(recipients, ids []string, routing models.RoutingType, hasBypass bool) models.Workflow {
	routing = NormalizeRouting(routing)
	labels, stepIDs := pairRecipients(recipients, ids)
	if routing == models.RoutingReverse {
		reverse(labels)
		reverse(stepIDs)
	}

	parallel := routing == models.RoutingParallel || routing == models.RoutingBidirectional
	wf := models.Workflow{
		Steps:       make([]models.Step, 0, len(labels)),
		IsParallel:  parallel,
		RoutingType: routing,
		HasBypass:   hasBypass,
	}

	seen := make(map[string]int)
	for i, label := range labels {
		status := models.StepPending
		if parallel || i == 0 {
			status = models.StepCurrent
		}
		wf.Steps = append(wf.Steps, models.Step{
			Name:       stepName(label, seen),
			Assignee:   label,
			AssigneeID: stepIDs[i],
			Status:     status,
		})
	}

	if len(wf.Steps) == 0 {
		wf.CurrentStep = models.WorkflowComplete
		wf.Progress = 100
		return wf
	}
	wf.CurrentStep = wf.Steps[0].Name
	wf.Progress = 0
	return wf
}

func pairRecipients(recipients, ids []string) ([]string, []string) {
	n := len(recipients)
	if len(ids) > n {
		n = len(ids)
	}
	labels := make([]string, 0, n)
	stepIDs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var label, id string
		if i < len(recipients) {
			label = strings.TrimSpace(recipients[i])
		}
		if i < len(ids) {
			id = strings.TrimSpace(ids[i])
		}
		if label == "" {
			label = id
		}
		if label == "" {
			continue
		}
		labels = append(labels, label)
		stepIDs = append(stepIDs, id)
	}
	return labels, stepIDs
}

func stepName(label string, seen map[string]int) string {
	base := label + " step"
	seen[base]++
	if n := seen[base]; n > 1 {
		return fmt.Sprintf("%s (%d)", base, n)
	}
	return base
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
