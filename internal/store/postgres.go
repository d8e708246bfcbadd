package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwhitby/pigeonhole/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

func (s *PostgresStore) GetDefaultUser(ctx context.Context) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, created_at, updated_at FROM users ORDER BY created_at LIMIT 1`,
	).Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default user: %w", err)
	}
	return &u, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Transactions ---

// uncategorizedWhere is the shared predicate for the uncategorized set:
// no category and no pending suggestion referencing the transaction.
const uncategorizedWhere = `
	t.user_id = $1 AND t.category_id IS NULL AND NOT EXISTS (
		SELECT 1 FROM suggestion_transactions st
		JOIN suggestions sg ON sg.id = st.suggestion_id
		WHERE st.transaction_id = t.id AND sg.status = 'pending'
	)`

func (s *PostgresStore) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, user_id, description, amount, date, category_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tx.ID, tx.UserID, tx.Description, tx.Amount, tx.Date, tx.CategoryID, tx.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountUncategorized(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions t WHERE`+uncategorizedWhere, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count uncategorized: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListUncategorized(ctx context.Context, userID uuid.UUID, offset, limit int) ([]models.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.user_id, t.description, t.amount, t.date, t.category_id, t.created_at
		 FROM transactions t WHERE`+uncategorizedWhere+`
		 ORDER BY t.date, t.id OFFSET $2 LIMIT $3`, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list uncategorized: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Description, &t.Amount, &t.Date, &t.CategoryID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// --- Categories ---

func (s *PostgresStore) ListCategories(ctx context.Context, userID uuid.UUID) ([]models.Category, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, icon, color, created_at
		 FROM categories WHERE user_id = $1 ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var cats []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Icon, &c.Color, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (s *PostgresStore) GetCategory(ctx context.Context, id, userID uuid.UUID) (*models.Category, error) {
	var c models.Category
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, icon, color, created_at
		 FROM categories WHERE id = $1 AND user_id = $2`, id, userID,
	).Scan(&c.ID, &c.UserID, &c.Name, &c.Icon, &c.Color, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) CreateCategory(ctx context.Context, category *models.Category) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO categories (id, user_id, name, icon, color, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		category.ID, category.UserID, category.Name, category.Icon, category.Color, category.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertCategoryRule(ctx context.Context, rule *models.CategoryRule) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO category_rules (id, user_id, category_id, match_type, keyword, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, keyword) DO UPDATE SET
		   category_id = EXCLUDED.category_id,
		   match_type = EXCLUDED.match_type,
		   updated_at = NOW()
		 RETURNING id`,
		rule.ID, rule.UserID, rule.CategoryID, rule.MatchType, rule.Keyword,
		rule.CreatedAt, rule.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert category rule: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ApplyCategory(ctx context.Context, userID, categoryID uuid.UUID, transactionIDs []uuid.UUID) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET category_id = $1 WHERE user_id = $2 AND id = ANY($3)`,
		categoryID, userID, transactionIDs)
	if err != nil {
		return 0, fmt.Errorf("apply category: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Suggestions ---

func (s *PostgresStore) UpsertPendingSuggestion(ctx context.Context, sg *models.Suggestion) error {
	categoryJSON, err := json.Marshal(sg.Category)
	if err != nil {
		return fmt.Errorf("marshal category choice: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert suggestion: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO suggestions (id, user_id, category, match_type, keyword, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		 ON CONFLICT (user_id, keyword) WHERE status = 'pending' DO UPDATE SET
		   keyword = EXCLUDED.keyword
		 RETURNING id`,
		sg.ID, sg.UserID, categoryJSON, sg.Match.Type, sg.Match.Keyword, sg.CreatedAt,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("upsert suggestion: %w", err)
	}

	for _, ref := range sg.AffectedTransactions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO suggestion_transactions (suggestion_id, transaction_id)
			 VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, ref.ID); err != nil {
			return fmt.Errorf("link suggestion transaction: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert suggestion: %w", err)
	}

	sg.ID = id
	return nil
}

func (s *PostgresStore) ListSuggestions(ctx context.Context, userID uuid.UUID, status string) ([]*models.Suggestion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, category, match_type, keyword, status, reject_reason, created_at, resolved_at
		 FROM suggestions WHERE user_id = $1 AND status = $2 ORDER BY created_at, id`, userID, status)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []*models.Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sg := range suggestions {
		if err := s.loadAffected(ctx, sg); err != nil {
			return nil, err
		}
	}
	return suggestions, nil
}

func (s *PostgresStore) GetSuggestion(ctx context.Context, id, userID uuid.UUID) (*models.Suggestion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, category, match_type, keyword, status, reject_reason, created_at, resolved_at
		 FROM suggestions WHERE id = $1 AND user_id = $2`, id, userID)

	sg, err := scanSuggestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadAffected(ctx, sg); err != nil {
		return nil, err
	}
	return sg, nil
}

func (s *PostgresStore) CountPendingSuggestions(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM suggestions WHERE user_id = $1 AND status = 'pending'`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending suggestions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ResolveSuggestion(ctx context.Context, id, userID uuid.UUID, status string, opts ...ResolveOption) error {
	p := applyResolveOptions(opts)

	query := `UPDATE suggestions SET status = $1, resolved_at = NOW()`
	args := []any{status, id, userID}
	if p.Category != nil {
		categoryJSON, err := json.Marshal(*p.Category)
		if err != nil {
			return fmt.Errorf("marshal category choice: %w", err)
		}
		args = append(args, categoryJSON)
		query += fmt.Sprintf(", category = $%d", len(args))
	}
	if p.Match != nil {
		args = append(args, p.Match.Type)
		query += fmt.Sprintf(", match_type = $%d", len(args))
		args = append(args, p.Match.Keyword)
		query += fmt.Sprintf(", keyword = $%d", len(args))
	}
	if p.RejectReason != nil {
		args = append(args, *p.RejectReason)
		query += fmt.Sprintf(", reject_reason = $%d", len(args))
	}
	query += ` WHERE id = $2 AND user_id = $3 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("resolve suggestion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing suggestion from a lost CAS race.
		var existing string
		err := s.pool.QueryRow(ctx,
			`SELECT status FROM suggestions WHERE id = $1 AND user_id = $2`, id, userID).Scan(&existing)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("resolve suggestion status check: %w", err)
		}
		return ErrAlreadyResolved
	}
	return nil
}

func (s *PostgresStore) DeletePendingSuggestions(ctx context.Context, userID uuid.UUID) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM suggestions WHERE user_id = $1 AND status = 'pending'`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete pending suggestions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanSuggestion(row pgx.Row) (*models.Suggestion, error) {
	var sg models.Suggestion
	var categoryJSON []byte
	if err := row.Scan(&sg.ID, &sg.UserID, &categoryJSON, &sg.Match.Type, &sg.Match.Keyword,
		&sg.Status, &sg.RejectReason, &sg.CreatedAt, &sg.ResolvedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan suggestion: %w", err)
	}
	if err := json.Unmarshal(categoryJSON, &sg.Category); err != nil {
		return nil, fmt.Errorf("unmarshal category choice: %w", err)
	}
	return &sg, nil
}

func (s *PostgresStore) loadAffected(ctx context.Context, sg *models.Suggestion) error {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.description, t.amount, t.date
		 FROM suggestion_transactions st
		 JOIN transactions t ON t.id = st.transaction_id
		 WHERE st.suggestion_id = $1 ORDER BY t.date, t.id`, sg.ID)
	if err != nil {
		return fmt.Errorf("load affected transactions: %w", err)
	}
	defer rows.Close()

	sg.AffectedTransactions = nil
	for rows.Next() {
		var ref models.TransactionRef
		if err := rows.Scan(&ref.ID, &ref.Description, &ref.Amount, &ref.Date); err != nil {
			return fmt.Errorf("scan affected transaction: %w", err)
		}
		sg.AffectedTransactions = append(sg.AffectedTransactions, ref)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	sg.AffectedCount = len(sg.AffectedTransactions)
	return nil
}

// --- Skipped transactions ---

func (s *PostgresStore) CreateSkippedTransaction(ctx context.Context, rec *models.SkippedTransaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO skipped_transactions (transaction_id, user_id, reason, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (transaction_id) DO UPDATE SET reason = EXCLUDED.reason, created_at = EXCLUDED.created_at`,
		rec.TransactionID, rec.UserID, rec.Reason, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create skipped transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSkippedTransactions(ctx context.Context, userID uuid.UUID) ([]*models.SkippedTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sk.transaction_id, sk.user_id, t.description, sk.reason, sk.created_at
		 FROM skipped_transactions sk
		 JOIN transactions t ON t.id = sk.transaction_id
		 WHERE sk.user_id = $1 ORDER BY sk.created_at, sk.transaction_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list skipped transactions: %w", err)
	}
	defer rows.Close()

	var recs []*models.SkippedTransaction
	for rows.Next() {
		var r models.SkippedTransaction
		if err := rows.Scan(&r.TransactionID, &r.UserID, &r.Description, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan skipped transaction: %w", err)
		}
		recs = append(recs, &r)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) CountSkippedTransactions(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM skipped_transactions WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count skipped transactions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) DeleteSkippedTransactions(ctx context.Context, userID uuid.UUID) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM skipped_transactions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete skipped transactions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Store = (*PostgresStore)(nil)
