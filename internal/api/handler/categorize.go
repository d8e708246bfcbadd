package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	mw "github.com/mwhitby/pigeonhole/internal/api/middleware"
	"github.com/mwhitby/pigeonhole/internal/api/response"
	"github.com/mwhitby/pigeonhole/internal/job"
	"github.com/mwhitby/pigeonhole/pkg/models"
)

// JobController defines the job operations the categorize handlers depend on.
type JobController interface {
	Start(ctx context.Context, userID uuid.UUID) (models.CategorizationJob, error)
	Status(ctx context.Context, userID uuid.UUID) (*job.Status, error)
}

// SuggestionReader defines the store reads the suggestions handler depends on.
type SuggestionReader interface {
	ListSuggestions(ctx context.Context, userID uuid.UUID, status string) ([]*models.Suggestion, error)
	ListSkippedTransactions(ctx context.Context, userID uuid.UUID) ([]*models.SkippedTransaction, error)
}

// JobSnapshotter reports the user's current job state without blocking on a
// running batch.
type JobSnapshotter interface {
	Snapshot(userID uuid.UUID) models.CategorizationJob
}

type startResponse struct {
	JobID   uuid.UUID `json:"job_id"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
}

// NewStartHandler returns the handler for POST /api/v1/categorize/start.
// A fresh run answers 202 and is polled via the status endpoint; a user with
// nothing to categorize gets an immediately complete job and 200.
func NewStartHandler(jc JobController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.UserID(r.Context())
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		snapshot, err := jc.Start(r.Context(), userID)
		if err != nil {
			if errors.Is(err, job.ErrAlreadyProcessing) {
				response.Error(w, http.StatusConflict, "ALREADY_PROCESSING",
					"A categorization job is already running for this user", snapshot)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to start categorization", nil)
			return
		}

		if snapshot.Status == models.JobStatusComplete {
			response.JSON(w, startResponse{
				JobID:   snapshot.ID,
				Status:  snapshot.Status,
				Message: "No uncategorized transactions to process",
			})
			return
		}
		response.Accepted(w, startResponse{
			JobID:   snapshot.ID,
			Status:  snapshot.Status,
			Message: "Categorization started; poll the status endpoint for progress",
		})
	}
}

// NewStatusHandler returns the handler for GET /api/v1/categorize/status.
func NewStatusHandler(jc JobController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.UserID(r.Context())
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		status, err := jc.Status(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load job status", nil)
			return
		}
		response.JSON(w, status)
	}
}

type suggestionPayload struct {
	ID                   uuid.UUID               `json:"id"`
	Category             models.CategoryChoice   `json:"category"`
	Match                models.Match            `json:"match"`
	AffectedTransactions []models.TransactionRef `json:"affected_transactions"`
	AffectedCount        int                     `json:"affected_count"`
	// IsTruncated marks a shortened affected_transactions list;
	// affected_count remains the true total.
	IsTruncated bool      `json:"is_truncated"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type suggestionsResponse struct {
	Suggestions  []suggestionPayload          `json:"suggestions"`
	Skipped      []*models.SkippedTransaction `json:"skipped_transactions"`
	TotalPending int                          `json:"total_pending"`
	TotalSkipped int                          `json:"total_skipped"`
	// IsPartial is true while the job is still processing: more suggestions
	// may arrive with later batches.
	IsPartial bool `json:"is_partial"`
}

// NewSuggestionsHandler returns the handler for GET /api/v1/categorize/suggestions.
// Suggestions become visible per batch while a job is still processing.
func NewSuggestionsHandler(reader SuggestionReader, jobs JobSnapshotter, maxAffected int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.UserID(r.Context())
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		suggestions, err := reader.ListSuggestions(r.Context(), userID, models.SuggestionStatusPending)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load suggestions", nil)
			return
		}
		skipped, err := reader.ListSkippedTransactions(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load skipped transactions", nil)
			return
		}

		payload := suggestionsResponse{
			Suggestions:  make([]suggestionPayload, 0, len(suggestions)),
			Skipped:      skipped,
			TotalPending: len(suggestions),
			TotalSkipped: len(skipped),
			IsPartial:    jobs.Snapshot(userID).Status == models.JobStatusProcessing,
		}
		if payload.Skipped == nil {
			payload.Skipped = []*models.SkippedTransaction{}
		}
		for _, sg := range suggestions {
			affected := sg.AffectedTransactions
			truncated := false
			if maxAffected > 0 && len(affected) > maxAffected {
				affected = affected[:maxAffected]
				truncated = true
			}
			payload.Suggestions = append(payload.Suggestions, suggestionPayload{
				ID:                   sg.ID,
				Category:             sg.Category,
				Match:                sg.Match,
				AffectedTransactions: affected,
				AffectedCount:        sg.AffectedCount,
				IsTruncated:          truncated,
				Status:               sg.Status,
				CreatedAt:            sg.CreatedAt,
			})
		}

		response.JSON(w, payload)
	}
}
