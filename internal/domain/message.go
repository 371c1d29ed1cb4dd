package domain

import (
	"encoding/json"
	"time"
)

// TaskMessage is the wire form of a dispatched analysis task. Workers consume
// it from the media-type queue the orchestrator routed it to.
type TaskMessage struct {
	AnalysisID  string    `json:"analysis_id"`
	EvidenceID  string    `json:"evidence_id"`
	MediaType   MediaType `json:"media_type"`
	FilePath    string    `json:"file_path"`
	Priority    int       `json:"priority"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ResultMessage is published on the results exchange for each completed job.
// Duplicate deliveries for the same analysis_id are possible after broker
// redelivery; consumers deduplicate on that key.
type ResultMessage struct {
	AnalysisID  string          `json:"analysis_id"`
	EvidenceID  string          `json:"evidence_id"`
	Results     json.RawMessage `json:"results"`
	CompletedAt time.Time       `json:"completed_at"`
}
