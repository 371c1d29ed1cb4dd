package domain

import (
	"encoding/json"
	"time"
)

// MediaType identifies which analysis pipeline a job belongs to. It is fixed
// at submission and selects the task queue workers subscribe to.
type MediaType string

const (
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeDocument MediaType = "document"
	MediaTypeAudio    MediaType = "audio"
)

// MediaTypes lists every supported media type in a stable order.
var MediaTypes = []MediaType{MediaTypeImage, MediaTypeVideo, MediaTypeDocument, MediaTypeAudio}

// Valid reports whether mt is one of the supported media types.
func (mt MediaType) Valid() bool {
	switch mt {
	case MediaTypeImage, MediaTypeVideo, MediaTypeDocument, MediaTypeAudio:
		return true
	}
	return false
}

// Status is the lifecycle state of an analysis job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is a final state. Terminal jobs never transition
// again; late worker updates against them are dropped.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a transition from s to next is legal.
//
//	pending    -> processing | cancelled
//	processing -> completed | failed | cancelled
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	}
	return false
}

// Analysis priority buckets. Higher is more urgent. Arbitrary integers in
// between are accepted and bucketed by nearest-below for estimation.
const (
	PriorityLow      = 1
	PriorityNormal   = 3
	PriorityHigh     = 5
	PriorityUrgent   = 8
	PriorityCritical = 10
)

// Job is one submitted analysis request and its lifecycle state.
type Job struct {
	ID           string          `json:"analysis_id" db:"analysis_id"`
	EvidenceID   string          `json:"evidence_id" db:"evidence_id"`
	MediaType    MediaType       `json:"media_type" db:"media_type"`
	Priority     int             `json:"priority" db:"priority"`
	Status       Status          `json:"status" db:"status"`
	Progress     int             `json:"progress" db:"progress"`
	PayloadRef   string          `json:"file_path" db:"file_path"`
	UserID       string          `json:"user_id,omitempty" db:"user_id"`
	SubmittedAt  time.Time       `json:"submitted_at" db:"submitted_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage string          `json:"error_message,omitempty" db:"error_message"`
	Result       json.RawMessage `json:"result,omitempty" db:"-"`
}

// Clone returns a deep copy so registry snapshots cannot be mutated by
// callers holding a returned Job.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	return &c
}

// JobStatus is the status view returned to pollers. It carries no result
// blob; results travel through GetResult.
type JobStatus struct {
	ID           string     `json:"analysis_id"`
	EvidenceID   string     `json:"evidence_id"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// StatusOf projects a job into its poller-facing status view.
func StatusOf(j *Job) *JobStatus {
	return &JobStatus{
		ID:           j.ID,
		EvidenceID:   j.EvidenceID,
		Status:       j.Status,
		Progress:     j.Progress,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		ErrorMessage: j.ErrorMessage,
	}
}

// SubmitReceipt is returned to the submitter. Registry insertion guarantees a
// receipt even when every backing store is down.
type SubmitReceipt struct {
	ID                  string    `json:"analysis_id"`
	EvidenceID          string    `json:"evidence_id"`
	Status              Status    `json:"status"`
	Priority            int       `json:"priority"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

// QueueStatus is a point-in-time aggregate over registry-known jobs. It is
// recomputed on demand and never persisted; broker-reported queue depth is a
// separate concern.
type QueueStatus struct {
	TotalPending          int            `json:"total_pending"`
	TotalProcessing       int            `json:"total_processing"`
	TotalCompleted        int            `json:"total_completed"`
	TotalFailed           int            `json:"total_failed"`
	TotalCancelled        int            `json:"total_cancelled"`
	QueueByType           map[string]int `json:"queue_by_type"`
	QueueByPriority       map[string]int `json:"queue_by_priority"`
	AverageWaitSeconds    float64        `json:"average_wait_time"`
	AverageProcessSeconds float64        `json:"average_processing_time"`
}
