package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.terminal, tt.status.Terminal(), "status %s", tt.status)
	}
}

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{"pending to processing", StatusPending, StatusProcessing, true},
		{"pending to cancelled", StatusPending, StatusCancelled, true},
		{"pending to completed skips processing", StatusPending, StatusCompleted, false},
		{"pending to failed skips processing", StatusPending, StatusFailed, false},
		{"processing to completed", StatusProcessing, StatusCompleted, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"processing to cancelled", StatusProcessing, StatusCancelled, true},
		{"processing back to pending", StatusProcessing, StatusPending, false},
		{"completed is terminal", StatusCompleted, StatusProcessing, false},
		{"failed is terminal", StatusFailed, StatusProcessing, false},
		{"cancelled is terminal", StatusCancelled, StatusProcessing, false},
		{"completed to completed is still rejected", StatusCompleted, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestMediaTypeValid(t *testing.T) {
	for _, mt := range MediaTypes {
		assert.True(t, mt.Valid())
	}
	assert.False(t, MediaType("binary").Valid())
	assert.False(t, MediaType("").Valid())
}

func TestJobClone(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	job := &Job{
		ID:         "a1",
		EvidenceID: "EVID-1",
		MediaType:  MediaTypeImage,
		Status:     StatusProcessing,
		Progress:   40,
		StartedAt:  &started,
		Result:     json.RawMessage(`{"k":"v"}`),
	}

	clone := job.Clone()
	clone.Progress = 90
	*clone.StartedAt = clone.StartedAt.Add(time.Hour)
	clone.Result[2] = 'x'

	assert.Equal(t, 40, job.Progress)
	assert.Equal(t, started, *job.StartedAt)
	assert.Equal(t, json.RawMessage(`{"k":"v"}`), job.Result)
}

func TestStatusOf(t *testing.T) {
	job := &Job{
		ID:           "a2",
		EvidenceID:   "EVID-2",
		Status:       StatusFailed,
		Progress:     55,
		ErrorMessage: "decode failure",
	}

	st := StatusOf(job)
	assert.Equal(t, "a2", st.ID)
	assert.Equal(t, "EVID-2", st.EvidenceID)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, 55, st.Progress)
	assert.Equal(t, "decode failure", st.ErrorMessage)
}
