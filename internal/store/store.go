package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mwhitby/pigeonhole/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrAlreadyResolved = errors.New("suggestion already resolved")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All persistence goes through here.
//
// A transaction counts as uncategorized when it has no category AND no
// pending suggestion references it; every query over the uncategorized set
// applies both conditions.
type Store interface {
	Ping(ctx context.Context) error

	GetDefaultUser(ctx context.Context) (*models.User, error)
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	CountUncategorized(ctx context.Context, userID uuid.UUID) (int, error)
	ListUncategorized(ctx context.Context, userID uuid.UUID, offset, limit int) ([]models.Transaction, error)

	ListCategories(ctx context.Context, userID uuid.UUID) ([]models.Category, error)
	GetCategory(ctx context.Context, id, userID uuid.UUID) (*models.Category, error)
	CreateCategory(ctx context.Context, category *models.Category) error
	UpsertCategoryRule(ctx context.Context, rule *models.CategoryRule) (uuid.UUID, error)
	ApplyCategory(ctx context.Context, userID, categoryID uuid.UUID, transactionIDs []uuid.UUID) (int, error)

	// UpsertPendingSuggestion inserts a suggestion, or merges its affected
	// transactions into the existing pending suggestion for the same
	// (user, keyword) when the classifier re-emits one. Approved or rejected
	// suggestions are never overwritten.
	UpsertPendingSuggestion(ctx context.Context, s *models.Suggestion) error
	ListSuggestions(ctx context.Context, userID uuid.UUID, status string) ([]*models.Suggestion, error)
	GetSuggestion(ctx context.Context, id, userID uuid.UUID) (*models.Suggestion, error)
	CountPendingSuggestions(ctx context.Context, userID uuid.UUID) (int, error)
	// ResolveSuggestion moves a pending suggestion to status. The transition
	// is compare-and-swap on the pending state: concurrent resolvers lose
	// with ErrAlreadyResolved.
	ResolveSuggestion(ctx context.Context, id, userID uuid.UUID, status string, opts ...ResolveOption) error
	DeletePendingSuggestions(ctx context.Context, userID uuid.UUID) (int, error)

	CreateSkippedTransaction(ctx context.Context, rec *models.SkippedTransaction) error
	ListSkippedTransactions(ctx context.Context, userID uuid.UUID) ([]*models.SkippedTransaction, error)
	CountSkippedTransactions(ctx context.Context, userID uuid.UUID) (int, error)
	DeleteSkippedTransactions(ctx context.Context, userID uuid.UUID) (int, error)
}

type resolveParams struct {
	Category     *models.CategoryChoice
	Match        *models.Match
	RejectReason *string
}

type ResolveOption func(*resolveParams)

// WithCategory persists an edited category on the resolved suggestion.
func WithCategory(c models.CategoryChoice) ResolveOption {
	return func(p *resolveParams) {
		p.Category = &c
	}
}

// WithMatch persists an edited match descriptor on the resolved suggestion.
func WithMatch(m models.Match) ResolveOption {
	return func(p *resolveParams) {
		p.Match = &m
	}
}

// WithRejectReason records why the user rejected a suggestion; kept for
// future classifier tuning only.
func WithRejectReason(reason string) ResolveOption {
	return func(p *resolveParams) {
		p.RejectReason = &reason
	}
}

func applyResolveOptions(opts []ResolveOption) resolveParams {
	var p resolveParams
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
