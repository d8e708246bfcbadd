package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/mwhitby/pigeonhole/internal/api/middleware"
	"github.com/mwhitby/pigeonhole/internal/api/response"
	"github.com/mwhitby/pigeonhole/internal/review"
	"github.com/mwhitby/pigeonhole/internal/store"
	"github.com/mwhitby/pigeonhole/pkg/models"
)

// ReviewService defines the review operations the handlers depend on.
type ReviewService interface {
	Approve(ctx context.Context, userID, suggestionID uuid.UUID, ov *review.Overrides) (*review.ApproveResult, error)
	Reject(ctx context.Context, userID, suggestionID uuid.UUID, reason string) error
	ClearAll(ctx context.Context, userID uuid.UUID) (*review.ClearResult, error)
}

// NewApproveHandler returns the handler for
// POST /api/v1/categorize/suggestions/{suggestionID}/approve. The body may
// override the suggested category or match; an empty body approves as-is.
func NewApproveHandler(svc ReviewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.UserID(r.Context())
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		suggestionID, err := uuid.Parse(chi.URLParam(r, "suggestionID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"suggestionID must be a valid UUID", nil)
			return
		}

		var req struct {
			Category *models.CategoryChoice `json:"category"`
			Match    *models.Match          `json:"match"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Match != nil {
			if req.Match.Keyword == "" {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"match.keyword must not be empty", nil)
				return
			}
			if req.Match.Type != models.MatchContains && req.Match.Type != models.MatchExact {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"match.type must be contains or exact", nil)
				return
			}
		}

		var ov *review.Overrides
		if req.Category != nil || req.Match != nil {
			ov = &review.Overrides{Category: req.Category, Match: req.Match}
		}

		result, err := svc.Approve(r.Context(), userID, suggestionID, ov)
		if err != nil {
			writeReviewError(w, err)
			return
		}
		response.JSON(w, result)
	}
}

// NewRejectHandler returns the handler for
// POST /api/v1/categorize/suggestions/{suggestionID}/reject.
func NewRejectHandler(svc ReviewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.UserID(r.Context())
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		suggestionID, err := uuid.Parse(chi.URLParam(r, "suggestionID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"suggestionID must be a valid UUID", nil)
			return
		}

		var req struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if err := svc.Reject(r.Context(), userID, suggestionID, req.Reason); err != nil {
			writeReviewError(w, err)
			return
		}
		response.JSON(w, map[string]any{
			"suggestion_id": suggestionID,
			"status":        models.SuggestionStatusRejected,
		})
	}
}

// NewClearHandler returns the handler for POST /api/v1/categorize/suggestions/clear.
func NewClearHandler(svc ReviewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.UserID(r.Context())
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		result, err := svc.ClearAll(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to clear suggestions", nil)
			return
		}
		response.JSON(w, result)
	}
}

func writeReviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Suggestion not found", nil)
	case errors.Is(err, store.ErrAlreadyResolved):
		response.Error(w, http.StatusConflict, "ALREADY_RESOLVED",
			"Suggestion has already been approved or rejected", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
