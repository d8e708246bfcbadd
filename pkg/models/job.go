package models

import (
	"time"

	"github.com/google/uuid"
)

// Categorization job statuses.
const (
	JobStatusIdle       = "idle"
	JobStatusProcessing = "processing"
	JobStatusError      = "error"
	JobStatusComplete   = "complete"
)

// Progress reports how far a processing run has advanced. Present only while
// a job is processing; ProcessedTransactions and CurrentBatch never decrease
// within a run.
type Progress struct {
	ProcessedTransactions int `json:"processed_transactions"`
	TotalTransactions     int `json:"total_transactions"`
	CurrentBatch          int `json:"current_batch"`
	TotalBatches          int `json:"total_batches"`
}

// JobError describes the classifier failure that stopped a run. Retryable
// failures are resumed by a new start call.
type JobError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

// CategorizationJob is the per-user batch run. At most one job per user is
// processing at any time; the client polls status until it leaves
// processing.
type CategorizationJob struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	Status          string     `json:"status"`
	Progress        *Progress  `json:"progress,omitempty"`
	LastError       *JobError  `json:"last_error,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
}
