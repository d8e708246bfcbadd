// Package models contains shared data models used across the pigeonhole
// codebase.
package models

import (
	"context"

	"github.com/google/uuid"
)

// Classifier is the core interface every AI integration must implement.
// Never call a specific provider directly — always inject this interface.
type Classifier interface {
	// Classify proposes category groupings for one batch of uncategorized
	// transactions.
	Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error)
	// Name returns the provider identifier (e.g., "openai", "mock").
	Name() string
}

// ClassifyRequest is the input for one batch call.
type ClassifyRequest struct {
	Transactions []Transaction
	// Categories the user already has; the classifier should prefer them
	// over inventing new ones.
	Categories []Category
}

// Grouping maps a set of batch transactions to a proposed category via a
// keyword pattern.
type Grouping struct {
	Keyword        string      `json:"keyword"`
	MatchType      MatchType   `json:"match_type"`
	CategoryName   string      `json:"category_name"`
	IsNewCategory  bool        `json:"is_new_category"`
	Icon           string      `json:"icon"`
	Color          string      `json:"color"`
	TransactionIDs []uuid.UUID `json:"transaction_ids"`
}

// SkipReport marks a batch transaction the classifier could not confidently
// categorize.
type SkipReport struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Reason        string    `json:"reason"`
}

// ClassifyResult is the classifier output for one batch.
type ClassifyResult struct {
	Groupings []Grouping   `json:"groupings"`
	Skipped   []SkipReport `json:"skipped"`
}
