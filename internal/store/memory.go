package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mwhitby/pigeonhole/pkg/models"
)

// MemoryStore is an in-memory Store used by tests and local development.
// Semantics match PostgresStore, including the compare-and-swap resolve
// and the pending-keyword merge.
type MemoryStore struct {
	mu sync.RWMutex

	users        []*models.User
	apiKeys      map[uuid.UUID]*models.APIKey
	transactions map[uuid.UUID]*models.Transaction
	categories   map[uuid.UUID]*models.Category
	rules        map[uuid.UUID]*models.CategoryRule
	suggestions  map[uuid.UUID]*models.Suggestion
	skipped      map[uuid.UUID]*models.SkippedTransaction
}

// NewMemoryStore creates an empty MemoryStore seeded with a default user.
func NewMemoryStore() *MemoryStore {
	now := time.Now().UTC()
	return &MemoryStore{
		users: []*models.User{{
			ID:        uuid.MustParse("00000000-0000-0000-0000-000000000001"),
			Email:     "default@pigeonhole.local",
			CreatedAt: now,
			UpdatedAt: now,
		}},
		apiKeys:      make(map[uuid.UUID]*models.APIKey),
		transactions: make(map[uuid.UUID]*models.Transaction),
		categories:   make(map[uuid.UUID]*models.Category),
		rules:        make(map[uuid.UUID]*models.CategoryRule),
		suggestions:  make(map[uuid.UUID]*models.Suggestion),
		skipped:      make(map[uuid.UUID]*models.SkippedTransaction),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// --- Users ---

func (s *MemoryStore) GetDefaultUser(_ context.Context) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.users) == 0 {
		return nil, ErrNotFound
	}
	u := *s.users[0]
	return &u, nil
}

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []*models.APIKey
	for _, k := range s.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			copied := *k
			keys = append(keys, &copied)
		}
	}
	return keys, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now
	k.UpdatedAt = now
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apiKeys[key.ID]; ok {
		return ErrDuplicateKey
	}
	copied := *key
	s.apiKeys[key.ID] = &copied
	return nil
}

// --- Transactions ---

func (s *MemoryStore) CreateTransaction(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[tx.ID]; ok {
		return ErrDuplicateKey
	}
	copied := *tx
	s.transactions[tx.ID] = &copied
	return nil
}

func (s *MemoryStore) CountUncategorized(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uncategorizedLocked(userID)), nil
}

func (s *MemoryStore) ListUncategorized(_ context.Context, userID uuid.UUID, offset, limit int) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.uncategorizedLocked(userID)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	out := make([]models.Transaction, len(all))
	for i, t := range all {
		out[i] = *t
	}
	return out, nil
}

// uncategorizedLocked returns the user's uncategorized transactions sorted
// by date then id. Callers must hold at least a read lock.
func (s *MemoryStore) uncategorizedLocked(userID uuid.UUID) []*models.Transaction {
	pending := make(map[uuid.UUID]bool)
	for _, sg := range s.suggestions {
		if sg.UserID != userID || sg.Status != models.SuggestionStatusPending {
			continue
		}
		for _, ref := range sg.AffectedTransactions {
			pending[ref.ID] = true
		}
	}

	var txs []*models.Transaction
	for _, t := range s.transactions {
		if t.UserID == userID && t.CategoryID == nil && !pending[t.ID] {
			txs = append(txs, t)
		}
	}
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.Before(txs[j].Date)
		}
		return txs[i].ID.String() < txs[j].ID.String()
	})
	return txs
}

// --- Categories ---

func (s *MemoryStore) ListCategories(_ context.Context, userID uuid.UUID) ([]models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cats []models.Category
	for _, c := range s.categories {
		if c.UserID == userID {
			cats = append(cats, *c)
		}
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })
	return cats, nil
}

func (s *MemoryStore) GetCategory(_ context.Context, id, userID uuid.UUID) (*models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (s *MemoryStore) CreateCategory(_ context.Context, category *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.categories {
		if c.UserID == category.UserID && c.Name == category.Name {
			return ErrDuplicateKey
		}
	}
	copied := *category
	s.categories[category.ID] = &copied
	return nil
}

func (s *MemoryStore) UpsertCategoryRule(_ context.Context, rule *models.CategoryRule) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		if r.UserID == rule.UserID && r.Keyword == rule.Keyword {
			r.CategoryID = rule.CategoryID
			r.MatchType = rule.MatchType
			r.UpdatedAt = time.Now().UTC()
			return r.ID, nil
		}
	}
	copied := *rule
	s.rules[rule.ID] = &copied
	return rule.ID, nil
}

func (s *MemoryStore) ApplyCategory(_ context.Context, userID, categoryID uuid.UUID, transactionIDs []uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, id := range transactionIDs {
		t, ok := s.transactions[id]
		if !ok || t.UserID != userID {
			continue
		}
		cid := categoryID
		t.CategoryID = &cid
		count++
	}
	return count, nil
}

// --- Suggestions ---

func (s *MemoryStore) UpsertPendingSuggestion(_ context.Context, sg *models.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.suggestions {
		if existing.UserID != sg.UserID || existing.Status != models.SuggestionStatusPending ||
			existing.Match.Keyword != sg.Match.Keyword {
			continue
		}
		seen := make(map[uuid.UUID]bool, len(existing.AffectedTransactions))
		for _, ref := range existing.AffectedTransactions {
			seen[ref.ID] = true
		}
		for _, ref := range sg.AffectedTransactions {
			if !seen[ref.ID] {
				existing.AffectedTransactions = append(existing.AffectedTransactions, ref)
			}
		}
		existing.AffectedCount = len(existing.AffectedTransactions)
		sg.ID = existing.ID
		return nil
	}

	copied := *sg
	copied.Status = models.SuggestionStatusPending
	copied.AffectedTransactions = append([]models.TransactionRef(nil), sg.AffectedTransactions...)
	copied.AffectedCount = len(copied.AffectedTransactions)
	s.suggestions[copied.ID] = &copied
	return nil
}

func (s *MemoryStore) ListSuggestions(_ context.Context, userID uuid.UUID, status string) ([]*models.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Suggestion
	for _, sg := range s.suggestions {
		if sg.UserID == userID && sg.Status == status {
			out = append(out, copySuggestion(sg))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *MemoryStore) GetSuggestion(_ context.Context, id, userID uuid.UUID) (*models.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sg, ok := s.suggestions[id]
	if !ok || sg.UserID != userID {
		return nil, ErrNotFound
	}
	return copySuggestion(sg), nil
}

func (s *MemoryStore) CountPendingSuggestions(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, sg := range s.suggestions {
		if sg.UserID == userID && sg.Status == models.SuggestionStatusPending {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ResolveSuggestion(_ context.Context, id, userID uuid.UUID, status string, opts ...ResolveOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sg, ok := s.suggestions[id]
	if !ok || sg.UserID != userID {
		return ErrNotFound
	}
	if sg.Status != models.SuggestionStatusPending {
		return ErrAlreadyResolved
	}

	p := applyResolveOptions(opts)
	if p.Category != nil {
		sg.Category = *p.Category
	}
	if p.Match != nil {
		sg.Match = *p.Match
	}
	if p.RejectReason != nil {
		reason := *p.RejectReason
		sg.RejectReason = &reason
	}
	sg.Status = status
	now := time.Now().UTC()
	sg.ResolvedAt = &now
	return nil
}

func (s *MemoryStore) DeletePendingSuggestions(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, sg := range s.suggestions {
		if sg.UserID == userID && sg.Status == models.SuggestionStatusPending {
			delete(s.suggestions, id)
			count++
		}
	}
	return count, nil
}

func copySuggestion(sg *models.Suggestion) *models.Suggestion {
	copied := *sg
	copied.AffectedTransactions = append([]models.TransactionRef(nil), sg.AffectedTransactions...)
	copied.AffectedCount = len(copied.AffectedTransactions)
	return &copied
}

// --- Skipped transactions ---

func (s *MemoryStore) CreateSkippedTransaction(_ context.Context, rec *models.SkippedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rec
	if copied.Description == "" {
		if t, ok := s.transactions[rec.TransactionID]; ok {
			copied.Description = t.Description
		}
	}
	s.skipped[rec.TransactionID] = &copied
	return nil
}

func (s *MemoryStore) ListSkippedTransactions(_ context.Context, userID uuid.UUID) ([]*models.SkippedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.SkippedTransaction
	for _, r := range s.skipped {
		if r.UserID == userID {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].TransactionID.String() < out[j].TransactionID.String()
	})
	return out, nil
}

func (s *MemoryStore) CountSkippedTransactions(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, r := range s.skipped {
		if r.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) DeleteSkippedTransactions(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, r := range s.skipped {
		if r.UserID == userID {
			delete(s.skipped, id)
			count++
		}
	}
	return count, nil
}

var _ Store = (*MemoryStore)(nil)
