package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Suggestion statuses.
const (
	SuggestionStatusPending  = "pending"
	SuggestionStatusApproved = "approved"
	SuggestionStatusRejected = "rejected"
)

// MatchType is the kind of textual pattern a rule uses.
type MatchType string

const (
	MatchContains MatchType = "contains"
	MatchExact    MatchType = "exact"
)

// Match is the rule descriptor the classifier associated with a suggestion.
type Match struct {
	Type    MatchType `json:"type"`
	Keyword string    `json:"keyword"`
}

// CategoryChoice kinds.
const (
	CategoryKindExisting = "existing"
	CategoryKindNew      = "new"
)

// CategoryChoice is a tagged variant: either a reference to an existing
// category or a proposal for one that does not exist yet. Exactly one of
// Existing/New is set, matching Kind. Consumers must switch on Kind.
type CategoryChoice struct {
	Kind     string
	Existing *ExistingCategory
	New      *NewCategory
}

// ExistingCategory references a category already owned by the user.
type ExistingCategory struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Icon  string    `json:"icon"`
	Color string    `json:"color"`
}

// NewCategory proposes a category that would be created on approval.
type NewCategory struct {
	Name  string `json:"name"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

// Name returns the category name regardless of variant.
func (c CategoryChoice) Name() string {
	switch c.Kind {
	case CategoryKindExisting:
		return c.Existing.Name
	case CategoryKindNew:
		return c.New.Name
	}
	return ""
}

type categoryChoiceJSON struct {
	Kind  string     `json:"kind"`
	ID    *uuid.UUID `json:"id,omitempty"`
	Name  string     `json:"name"`
	Icon  string     `json:"icon"`
	Color string     `json:"color"`
}

// MarshalJSON flattens the variant into a single object discriminated by
// "kind".
func (c CategoryChoice) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case CategoryKindExisting:
		if c.Existing == nil {
			return nil, fmt.Errorf("category choice kind %q has no payload", c.Kind)
		}
		id := c.Existing.ID
		return json.Marshal(categoryChoiceJSON{
			Kind: CategoryKindExisting, ID: &id,
			Name: c.Existing.Name, Icon: c.Existing.Icon, Color: c.Existing.Color,
		})
	case CategoryKindNew:
		if c.New == nil {
			return nil, fmt.Errorf("category choice kind %q has no payload", c.Kind)
		}
		return json.Marshal(categoryChoiceJSON{
			Kind: CategoryKindNew,
			Name: c.New.Name, Icon: c.New.Icon, Color: c.New.Color,
		})
	}
	return nil, fmt.Errorf("unknown category choice kind %q", c.Kind)
}

func (c *CategoryChoice) UnmarshalJSON(data []byte) error {
	var raw categoryChoiceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case CategoryKindExisting:
		if raw.ID == nil {
			return fmt.Errorf("existing category choice requires an id")
		}
		*c = CategoryChoice{Kind: CategoryKindExisting, Existing: &ExistingCategory{
			ID: *raw.ID, Name: raw.Name, Icon: raw.Icon, Color: raw.Color,
		}}
	case CategoryKindNew:
		*c = CategoryChoice{Kind: CategoryKindNew, New: &NewCategory{
			Name: raw.Name, Icon: raw.Icon, Color: raw.Color,
		}}
	default:
		return fmt.Errorf("unknown category choice kind %q", raw.Kind)
	}
	return nil
}

// Suggestion is a proposed category assignment for a group of transactions,
// awaiting human review. A transaction is referenced by at most one pending
// suggestion at a time.
type Suggestion struct {
	ID                   uuid.UUID        `json:"id"`
	UserID               uuid.UUID        `json:"user_id"`
	Category             CategoryChoice   `json:"category"`
	Match                Match            `json:"match"`
	AffectedTransactions []TransactionRef `json:"affected_transactions"`
	// AffectedCount is authoritative when AffectedTransactions is truncated
	// for payload size.
	AffectedCount int        `json:"affected_count"`
	Status        string     `json:"status"`
	RejectReason  *string    `json:"reject_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// SkippedTransaction records a transaction the classifier declined or failed
// to categorize in the current run.
type SkippedTransaction struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	UserID        uuid.UUID `json:"-"`
	Description   string    `json:"description"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}
