package agents

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackShapes(t *testing.T) {
	for _, role := range Roles {
		t.Run(string(role), func(t *testing.T) {
			res := Fallback(role, "UNAUTHORIZED: invalid key")
			require.NotNil(t, res)
			assert.Equal(t, role, res.Role())
			assert.Equal(t, ResultError, res.Meta().Status)
			assert.Equal(t, "UNAUTHORIZED: invalid key", res.Meta().Error)
			assert.Contains(t, res.Meta().Message, "temporarily unavailable")

			// collections serialise as [] rather than null
			data, err := json.Marshal(res)
			require.NoError(t, err)
			assert.NotContains(t, string(data), "null")
		})
	}
}

func TestFallbackCounts(t *testing.T) {
	qs := Fallback(RoleArchitect, "x").(*QuestionSet)
	assert.Zero(t, qs.GeneratedQuestions)
	assert.Empty(t, qs.Questions)

	mr := Fallback(RoleDetective, "x").(*MistakeReport)
	assert.Zero(t, mr.TotalMistakes)
	assert.Equal(t, MistakePatterns{}, mr.Patterns)

	es := Fallback(RoleTutor, "x").(*ExplanationSet)
	assert.Zero(t, es.LessonsReady)
}

func TestFallbackUnknownRole(t *testing.T) {
	res := Fallback(AgentRole("oracle"), "boom")
	assert.Equal(t, AgentRole("oracle"), res.Role())
	assert.Equal(t, ResultError, res.Meta().Status)
	assert.Equal(t, "boom", res.Meta().Error)
}
