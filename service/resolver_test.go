package services

import (
	"testing"

	"github.com/Itish41/IAOMS/models"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestMatchesLabel(t *testing.T) {
	tests := []struct {
		name  string
		user  models.User
		label string
		want  bool
	}{
		{"exact name", userAsha, "asha rao", true},
		{"name with punctuation", userAsha, "  Asha-Rao ", true},
		{"all name parts present", userAsha, "Dr. Asha Rao (HOD)", true},
		{"single name part is not enough", userAsha, "Asha", false},
		{"role keyword", userPrincip, "Principal", true},
		{"role with office suffix", userPrincip, "Principal Office", true},
		{"near duplicate role", userPrincip, "Vice Principal", false},
		{"role with own department", userAsha, "HOD CSE", true},
		{"role with other department", userAsha, "HOD EEE", false},
		{"department label", userFaculty, "CSE Department", true},
		{"branch label", models.User{Name: "Nita", Branch: "Mechanical"}, "Mechanical Branch", true},
		{"generic words only", userFaculty, "Department", false},
		{"empty label", userAsha, "", false},
		{"symbols only", userAsha, "@@@ --- !!!", false},
		{"empty user", models.User{}, "Principal", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesLabel(tt.user, tt.label))
			// deterministic
			assert.Equal(t, tt.want, MatchesLabel(tt.user, tt.label))
		})
	}
}

func TestIsRecipient(t *testing.T) {
	t.Run("id membership is authoritative", func(t *testing.T) {
		doc := sequentialDoc(userAsha, userVikram)
		assert.True(t, IsRecipient(userVikram, doc))
		// same name, different id
		impostor := models.User{ID: "u-other", Name: userAsha.Name}
		assert.False(t, IsRecipient(impostor, doc))
	})

	t.Run("label fallback when the document has no ids", func(t *testing.T) {
		doc := &models.Document{Recipients: pq.StringArray{"Principal", "HOD CSE"}}
		assert.True(t, IsRecipient(userPrincip, doc))
		assert.True(t, IsRecipient(userAsha, doc))
		assert.False(t, IsRecipient(userVikram, doc))
	})

	t.Run("label fallback when the user has no id", func(t *testing.T) {
		doc := sequentialDoc(userAsha)
		assert.True(t, IsRecipient(models.User{Name: "Asha Rao"}, doc))
	})

	t.Run("empty document is visible to everyone", func(t *testing.T) {
		assert.True(t, IsRecipient(userFaculty, &models.Document{}))
	})

	t.Run("nil document", func(t *testing.T) {
		assert.False(t, IsRecipient(userFaculty, nil))
	})
}

func TestMatchesStep(t *testing.T) {
	step := models.Step{Assignee: "Principal", AssigneeID: userPrincip.ID}
	assert.True(t, MatchesStep(userPrincip, step))
	// another principal with a different id does not match an id-bound step
	assert.False(t, MatchesStep(models.User{ID: "u-x", Role: "principal"}, step))

	legacy := models.Step{Assignee: "Principal"}
	assert.True(t, MatchesStep(models.User{ID: "u-x", Role: "principal"}, legacy))
}
