// Package review resolves pending suggestions: approving one creates the
// category if needed, records a keyword rule, and categorizes the affected
// transactions; rejecting one leaves the transactions uncategorized.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mwhitby/pigeonhole/internal/metrics"
	"github.com/mwhitby/pigeonhole/internal/store"
	"github.com/mwhitby/pigeonhole/pkg/models"
)

type Service struct {
	store  store.Store
	logger *slog.Logger
}

func NewService(s store.Store, logger *slog.Logger) *Service {
	return &Service{store: s, logger: logger}
}

// Overrides carries the optional edits a user makes before approving.
// Editing is approving with a different category or match.
type Overrides struct {
	Category *models.CategoryChoice
	Match    *models.Match
}

// ApproveResult reports what an approval changed.
type ApproveResult struct {
	SuggestionID            uuid.UUID `json:"suggestion_id"`
	CategoryID              uuid.UUID `json:"category_id"`
	CategoryName            string    `json:"category_name"`
	RuleID                  uuid.UUID `json:"rule_id"`
	TransactionsCategorized int       `json:"transactions_categorized"`
	IsNewCategory           bool      `json:"is_new_category"`
}

// Approve resolves a pending suggestion to approved and applies it. The
// status transition is the serialization point: of two concurrent approvals
// only one passes, the other gets store.ErrAlreadyResolved. If a step after
// the transition fails the suggestion stays approved and the error surfaces
// to the caller; re-running the apply is safe because every step is an
// upsert.
func (s *Service) Approve(ctx context.Context, userID, suggestionID uuid.UUID, ov *Overrides) (*ApproveResult, error) {
	sg, err := s.store.GetSuggestion(ctx, suggestionID, userID)
	if err != nil {
		return nil, err
	}

	choice := sg.Category
	match := sg.Match
	var opts []store.ResolveOption
	if ov != nil && ov.Category != nil {
		choice = *ov.Category
		opts = append(opts, store.WithCategory(choice))
	}
	if ov != nil && ov.Match != nil {
		match = *ov.Match
		opts = append(opts, store.WithMatch(match))
	}

	if err := s.store.ResolveSuggestion(ctx, suggestionID, userID, models.SuggestionStatusApproved, opts...); err != nil {
		return nil, err
	}
	metrics.SuggestionsResolved.WithLabelValues("approved").Inc()

	// A batch may have merged more transactions into the suggestion between
	// the read above and the status transition; reload so every referenced
	// transaction gets categorized.
	sg, err = s.store.GetSuggestion(ctx, suggestionID, userID)
	if err != nil {
		return nil, fmt.Errorf("reload suggestion %s: %w", suggestionID, err)
	}

	category, created, err := s.ensureCategory(ctx, userID, choice)
	if err != nil {
		return nil, fmt.Errorf("resolve category for suggestion %s: %w", suggestionID, err)
	}

	now := time.Now().UTC()
	ruleID, err := s.store.UpsertCategoryRule(ctx, &models.CategoryRule{
		ID:         uuid.New(),
		UserID:     userID,
		CategoryID: category.ID,
		MatchType:  match.Type,
		Keyword:    match.Keyword,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("record rule for suggestion %s: %w", suggestionID, err)
	}

	ids := make([]uuid.UUID, len(sg.AffectedTransactions))
	for i, ref := range sg.AffectedTransactions {
		ids[i] = ref.ID
	}
	applied, err := s.store.ApplyCategory(ctx, userID, category.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("apply category for suggestion %s: %w", suggestionID, err)
	}

	s.logger.Info("suggestion approved",
		"user_id", userID, "suggestion_id", suggestionID,
		"category", category.Name, "new_category", created, "applied", applied)

	return &ApproveResult{
		SuggestionID:            suggestionID,
		CategoryID:              category.ID,
		CategoryName:            category.Name,
		RuleID:                  ruleID,
		TransactionsCategorized: applied,
		IsNewCategory:           created,
	}, nil
}

// Reject resolves a pending suggestion to rejected. The affected
// transactions return to the uncategorized set.
func (s *Service) Reject(ctx context.Context, userID, suggestionID uuid.UUID, reason string) error {
	var opts []store.ResolveOption
	if reason != "" {
		opts = append(opts, store.WithRejectReason(reason))
	}
	if err := s.store.ResolveSuggestion(ctx, suggestionID, userID, models.SuggestionStatusRejected, opts...); err != nil {
		return err
	}
	metrics.SuggestionsResolved.WithLabelValues("rejected").Inc()
	s.logger.Info("suggestion rejected", "user_id", userID, "suggestion_id", suggestionID)
	return nil
}

// ClearResult reports what a clear-all removed.
type ClearResult struct {
	SuggestionsCleared int `json:"suggestions_cleared"`
	SkippedCleared     int `json:"skipped_cleared"`
}

// ClearAll discards every pending suggestion and skip record for the user,
// returning all undecided transactions to the uncategorized set.
func (s *Service) ClearAll(ctx context.Context, userID uuid.UUID) (*ClearResult, error) {
	suggestions, err := s.store.DeletePendingSuggestions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("clear pending suggestions: %w", err)
	}
	skipped, err := s.store.DeleteSkippedTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("clear skip records: %w", err)
	}
	s.logger.Info("review queue cleared", "user_id", userID, "suggestions", suggestions, "skipped", skipped)
	return &ClearResult{SuggestionsCleared: suggestions, SkippedCleared: skipped}, nil
}

// ensureCategory returns the category the approval should apply, creating it
// for a new-category choice. A duplicate name races to the existing row
// instead of failing.
func (s *Service) ensureCategory(ctx context.Context, userID uuid.UUID, choice models.CategoryChoice) (*models.Category, bool, error) {
	switch choice.Kind {
	case models.CategoryKindExisting:
		category, err := s.store.GetCategory(ctx, choice.Existing.ID, userID)
		if err != nil {
			return nil, false, err
		}
		return category, false, nil

	case models.CategoryKindNew:
		category := &models.Category{
			ID:        uuid.New(),
			UserID:    userID,
			Name:      choice.New.Name,
			Icon:      choice.New.Icon,
			Color:     choice.New.Color,
			CreatedAt: time.Now().UTC(),
		}
		err := s.store.CreateCategory(ctx, category)
		if err == nil {
			return category, true, nil
		}
		if !errors.Is(err, store.ErrDuplicateKey) {
			return nil, false, err
		}
		existing, err := s.findCategoryByName(ctx, userID, choice.New.Name)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("unknown category choice kind %q", choice.Kind)
}

func (s *Service) findCategoryByName(ctx context.Context, userID uuid.UUID, name string) (*models.Category, error) {
	categories, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range categories {
		if strings.EqualFold(categories[i].Name, name) {
			return &categories[i], nil
		}
	}
	return nil, store.ErrNotFound
}
