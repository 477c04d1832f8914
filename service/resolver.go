package services

import (
	"strings"
	"unicode"

	"github.com/Itish41/IAOMS/models"
)

// Words that carry no identity in a department or branch label.
var genericLabelWords = map[string]bool{
	"department": true,
	"dept":       true,
	"branch":     true,
	"office":     true,
	"of":         true,
	"the":        true,
}

// IsRecipient reports whether user may see doc in their inbox.
//
// When the document carries recipient ids and the user has an id, only id
// membership counts. Otherwise the labels are matched against the user's
// name, role, department and branch. A document with no recipients at all is
// visible to everyone.
func IsRecipient(user models.User, doc *models.Document) bool {
	if doc == nil {
		return false
	}
	ids := documentRecipientIDs(doc)
	if len(doc.Recipients) == 0 && len(ids) == 0 && len(doc.Workflow.Steps) == 0 {
		return true
	}
	if user.ID != "" && len(ids) > 0 {
		for _, id := range ids {
			if id == user.ID {
				return true
			}
		}
		return false
	}
	for _, label := range doc.Recipients {
		if MatchesLabel(user, label) {
			return true
		}
	}
	for _, step := range doc.Workflow.Steps {
		if MatchesLabel(user, step.Assignee) {
			return true
		}
	}
	return false
}

// MatchesStep reports whether user is the assignee of step.
func MatchesStep(user models.User, step models.Step) bool {
	if user.ID != "" && step.AssigneeID != "" {
		return user.ID == step.AssigneeID
	}
	return MatchesLabel(user, step.Assignee)
}

// MatchesLabel is the label fallback: exact name, all parts of a multi-part
// name, role keyword, or department/branch label.
func MatchesLabel(user models.User, label string) bool {
	labelTokens := tokenize(label)
	if len(labelTokens) == 0 {
		return false
	}

	nameTokens := tokenize(user.Name)
	if len(nameTokens) > 0 && equalTokens(labelTokens, nameTokens) {
		return true
	}
	if len(nameTokens) > 1 && containsAll(labelTokens, nameTokens) {
		return true
	}

	deptTokens := tokenize(user.Department)
	branchTokens := tokenize(user.Branch)

	if roleTokens := tokenize(user.Role); len(roleTokens) > 0 {
		rest := withoutTokens(labelTokens, func(tok string) bool {
			return genericLabelWords[tok] || hasToken(deptTokens, tok) || hasToken(branchTokens, tok)
		})
		if equalTokens(rest, roleTokens) {
			return true
		}
	}

	rest := withoutTokens(labelTokens, func(tok string) bool { return genericLabelWords[tok] })
	if len(rest) == 0 {
		return false
	}
	if len(deptTokens) > 0 && equalTokens(rest, deptTokens) {
		return true
	}
	return len(branchTokens) > 0 && equalTokens(rest, branchTokens)
}

func documentRecipientIDs(doc *models.Document) []string {
	ids := make([]string, 0, len(doc.RecipientIDs))
	for _, id := range doc.RecipientIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	for _, step := range doc.Workflow.Steps {
		if step.AssigneeID != "" {
			ids = append(ids, step.AssigneeID)
		}
	}
	return ids
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func equalTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hasToken(tokens []string, tok string) bool {
	for _, t := range tokens {
		if t == tok {
			return true
		}
	}
	return false
}

func containsAll(haystack, needles []string) bool {
	for _, n := range needles {
		if !hasToken(haystack, n) {
			return false
		}
	}
	return true
}

func withoutTokens(tokens []string, drop func(string) bool) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !drop(t) {
			out = append(out, t)
		}
	}
	return out
}
