package job

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mwhitby/pigeonhole/pkg/models"
)

// Status is the poll payload: the job snapshot combined with the store
// counts a review screen needs. Progress and LastError serialize as
// explicit nulls when absent so pollers can branch on them directly.
type Status struct {
	Status             string           `json:"status"`
	IsProcessing       bool             `json:"is_processing"`
	Progress           *models.Progress `json:"progress"`
	HasError           bool             `json:"has_error"`
	LastError          *models.JobError `json:"error"`
	UncategorizedCount int              `json:"uncategorized_count"`
	PendingSuggestions int              `json:"pending_suggestions_count"`
	SkippedCount       int              `json:"skipped_count"`
	StartedAt          *time.Time       `json:"started_at,omitempty"`
	LastProcessedAt    *time.Time       `json:"last_processed_at,omitempty"`
}

// Status reports the user's current job state plus live counts. The counts
// move while a job is processing; that is what makes polling useful.
func (c *Controller) Status(ctx context.Context, userID uuid.UUID) (*Status, error) {
	snap := c.Snapshot(userID)

	// An idle snapshot means this instance has no registry entry for the
	// user; another instance (or a previous process) may still have run a
	// job, so consult the Redis mirror before reporting idle.
	if snap.Status == models.JobStatusIdle {
		if mirrored, ok := c.mirrored(ctx, userID); ok {
			snap = mirrored
		}
	}

	uncategorized, err := c.store.CountUncategorized(ctx, userID)
	if err != nil {
		return nil, err
	}
	pending, err := c.store.CountPendingSuggestions(ctx, userID)
	if err != nil {
		return nil, err
	}
	skipped, err := c.store.CountSkippedTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Progress is only meaningful mid-run; a terminal job reports null.
	progress := snap.Progress
	if snap.Status != models.JobStatusProcessing {
		progress = nil
	}

	return &Status{
		Status:             snap.Status,
		IsProcessing:       snap.Status == models.JobStatusProcessing,
		Progress:           progress,
		HasError:           snap.LastError != nil,
		LastError:          snap.LastError,
		UncategorizedCount: uncategorized,
		PendingSuggestions: pending,
		SkippedCount:       skipped,
		StartedAt:          snap.StartedAt,
		LastProcessedAt:    snap.LastProcessedAt,
	}, nil
}
