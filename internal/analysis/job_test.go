package analysis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prepos/internal/agents"
)

func TestJobAggregate(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[agents.AgentRole]Status
		want     Status
	}{
		{"all completed", map[agents.AgentRole]Status{
			agents.RoleArchitect: StatusCompleted, agents.RoleDetective: StatusCompleted,
			agents.RoleTutor: StatusCompleted, agents.RoleStrategist: StatusCompleted,
		}, StatusCompleted},
		{"pending beats completed", map[agents.AgentRole]Status{
			agents.RoleArchitect: StatusCompleted, agents.RoleTutor: StatusPending,
		}, StatusPending},
		{"processing beats pending", map[agents.AgentRole]Status{
			agents.RoleArchitect: StatusProcessing, agents.RoleTutor: StatusPending,
		}, StatusProcessing},
		{"error wins", map[agents.AgentRole]Status{
			agents.RoleArchitect: StatusProcessing, agents.RoleDetective: StatusError,
			agents.RoleTutor: StatusCompleted,
		}, StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{Agents: map[agents.AgentRole]*TaskState{}}
			for role, st := range tt.statuses {
				j.Agents[role] = &TaskState{Status: st}
			}
			assert.Equal(t, tt.want, j.Aggregate())
		})
	}
}

func TestNewJobStartsPending(t *testing.T) {
	j := NewJob("job-1", "attempt-1", "user-1", fixedNow)
	assert.Equal(t, StatusProcessing, j.Status)
	assert.Equal(t, StatusPending, j.Aggregate())
	assert.Len(t, j.Agents, len(agents.Roles))
	assert.Nil(t, j.CompletedAt)
}

func TestJobCloneIsIndependent(t *testing.T) {
	j := NewJob("job-1", "attempt-1", "user-1", fixedNow)
	done := fixedNow
	j.CompletedAt = &done

	c := j.Clone()
	c.Agents[agents.RoleTutor].Status = StatusError
	*c.CompletedAt = fixedNow.AddDate(1, 0, 0)

	assert.Equal(t, StatusPending, j.Agents[agents.RoleTutor].Status)
	assert.Equal(t, fixedNow, *j.CompletedAt)
	assert.Nil(t, (*Job)(nil).Clone())
}

func TestJobJSONDecodesTypedOutputs(t *testing.T) {
	j := NewJob("job-1", "attempt-1", "user-1", fixedNow)
	j.setTask(agents.RoleArchitect, StatusCompleted, &agents.QuestionSet{
		Outcome:            agents.Outcome{Status: agents.ResultSuccess, Message: "ok"},
		GeneratedQuestions: 2,
		TargetTopics:       []string{"Percentages"},
	})
	j.setTask(agents.RoleDetective, StatusCompleted, agents.Fallback(agents.RoleDetective, "boom"))
	j.setTask(agents.RoleTutor, StatusProcessing, nil)

	data, err := json.Marshal(j)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw["agents"], "architect")

	var got Job
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "job-1", got.JobID)
	assert.True(t, got.StartedAt.Equal(fixedNow))

	qs, ok := got.Agents[agents.RoleArchitect].Output.(*agents.QuestionSet)
	require.True(t, ok)
	assert.Equal(t, 2, qs.GeneratedQuestions)
	assert.Equal(t, []string{"Percentages"}, qs.TargetTopics)

	report, ok := got.Agents[agents.RoleDetective].Output.(*agents.MistakeReport)
	require.True(t, ok)
	assert.Equal(t, agents.ResultError, report.Status)
	assert.Equal(t, "boom", report.Error)

	assert.Equal(t, StatusProcessing, got.Agents[agents.RoleTutor].Status)
	assert.Nil(t, got.Agents[agents.RoleTutor].Output)
}

func TestJobJSONRejectsUnknownAgent(t *testing.T) {
	var j Job
	err := json.Unmarshal([]byte(`{"jobId":"x","agents":{"oracle":{"status":"pending"}}}`), &j)
	assert.Error(t, err)
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusPending.Terminal())
}
