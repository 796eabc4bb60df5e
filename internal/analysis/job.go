// Package analysis runs the four-agent analysis pipeline for a submitted
// attempt and tracks its progress as a Job.
package analysis

import (
	"encoding/json"
	"errors"
	"time"

	"prepos/internal/agents"
)

// ErrJobNotFound is returned when neither a live job nor a persisted
// analysis exists for an id
var ErrJobNotFound = errors.New("job not found")

// Status is the lifecycle state of a job or one of its tasks
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// severity orders statuses for worst-case aggregation
func (s Status) severity() int {
	switch s {
	case StatusError:
		return 3
	case StatusProcessing:
		return 2
	case StatusPending:
		return 1
	default:
		return 0
	}
}

// Terminal reports whether no further transitions will happen
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Stale reports whether a processing job has gone longer than after without
// a heartbeat, meaning the process running it is gone.
func (j *Job) Stale(now time.Time, after time.Duration) bool {
	return j.Status == StatusProcessing && now.Sub(j.UpdatedAt) > after
}

// TaskState is one agent's progress inside a job. Output is set once the
// agent finishes and is never mutated afterwards.
type TaskState struct {
	Status Status        `json:"status"`
	Output agents.Result `json:"output"`
}

// Job is the run-time state of one pipeline execution
type Job struct {
	JobID       string                          `json:"jobId"`
	AttemptID   string                          `json:"attemptId,omitempty"`
	UserID      string                          `json:"userId,omitempty"`
	Status      Status                          `json:"status"`
	StartedAt   time.Time                       `json:"startedAt"`
	UpdatedAt   time.Time                       `json:"updatedAt"`
	CompletedAt *time.Time                      `json:"completedAt,omitempty"`
	Error       string                          `json:"error,omitempty"`
	Agents      map[agents.AgentRole]*TaskState `json:"agents"`
}

// NewJob creates a processing job with every agent pending
func NewJob(jobID, attemptID, userID string, now time.Time) *Job {
	j := &Job{
		JobID:     jobID,
		AttemptID: attemptID,
		UserID:    userID,
		Status:    StatusProcessing,
		StartedAt: now,
		UpdatedAt: now,
		Agents:    make(map[agents.AgentRole]*TaskState, len(agents.Roles)),
	}
	for _, role := range agents.Roles {
		j.Agents[role] = &TaskState{Status: StatusPending}
	}
	return j
}

// Clone returns a copy that shares only the immutable task outputs
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	c.Agents = make(map[agents.AgentRole]*TaskState, len(j.Agents))
	for role, st := range j.Agents {
		if st == nil {
			continue
		}
		cp := *st
		c.Agents[role] = &cp
	}
	return &c
}

// Aggregate derives a status from the tasks, worst case first:
// error, processing, pending, completed.
func (j *Job) Aggregate() Status {
	worst := StatusCompleted
	for _, st := range j.Agents {
		if st != nil && st.Status.severity() > worst.severity() {
			worst = st.Status
		}
	}
	return worst
}

// setTask transitions one agent
func (j *Job) setTask(role agents.AgentRole, status Status, output agents.Result) {
	st, ok := j.Agents[role]
	if !ok || st == nil {
		st = &TaskState{}
		j.Agents[role] = st
	}
	st.Status = status
	if output != nil {
		st.Output = output
	}
}

// markFailed ends the job with msg; tasks still in flight become error too
func (j *Job) markFailed(msg string, at time.Time) {
	j.Status = StatusError
	j.Error = msg
	j.CompletedAt = &at
	for _, st := range j.Agents {
		if st != nil && st.Status == StatusProcessing {
			st.Status = StatusError
		}
	}
}

type taskStateJSON struct {
	Status Status          `json:"status"`
	Output json.RawMessage `json:"output"`
}

type jobJSON struct {
	JobID       string                   `json:"jobId"`
	AttemptID   string                   `json:"attemptId,omitempty"`
	UserID      string                   `json:"userId,omitempty"`
	Status      Status                   `json:"status"`
	StartedAt   time.Time                `json:"startedAt"`
	UpdatedAt   time.Time                `json:"updatedAt"`
	CompletedAt *time.Time               `json:"completedAt,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Agents      map[string]taskStateJSON `json:"agents"`
}

// UnmarshalJSON decodes each agent output into its concrete result type
func (j *Job) UnmarshalJSON(data []byte) error {
	var raw jobJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*j = Job{
		JobID:       raw.JobID,
		AttemptID:   raw.AttemptID,
		UserID:      raw.UserID,
		Status:      raw.Status,
		StartedAt:   raw.StartedAt,
		UpdatedAt:   raw.UpdatedAt,
		CompletedAt: raw.CompletedAt,
		Error:       raw.Error,
		Agents:      make(map[agents.AgentRole]*TaskState, len(raw.Agents)),
	}
	for name, st := range raw.Agents {
		role, err := agents.ParseRole(name)
		if err != nil {
			return err
		}
		state := &TaskState{Status: st.Status}
		if len(st.Output) > 0 && string(st.Output) != "null" {
			out, err := agents.DecodeResult(role, st.Output)
			if err != nil {
				return err
			}
			state.Output = out
		}
		j.Agents[role] = state
	}
	return nil
}

// jobFromAnalysis rebuilds a completed job from a persisted analysis
func jobFromAnalysis(jobID, userID string, a *agents.Analysis) *Job {
	j := NewJob(jobID, jobID, userID, a.CompletedAt)
	j.Status = StatusCompleted
	completed := a.CompletedAt
	j.CompletedAt = &completed
	for _, role := range agents.Roles {
		j.setTask(role, StatusCompleted, a.ByRole(role))
	}
	return j
}
