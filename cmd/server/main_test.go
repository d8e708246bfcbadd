package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mwhitby/pigeonhole/internal/cache"
	"github.com/mwhitby/pigeonhole/internal/store"
	"github.com/mwhitby/pigeonhole/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── mock store ──────────────────────────────────────────────────────────────

type testStore struct {
	pingErr error
}

func (s *testStore) Ping(_ context.Context) error { return s.pingErr }
func (s *testStore) GetDefaultUser(_ context.Context) (*models.User, error) {
	return nil, nil
}
func (s *testStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *testStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (s *testStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }
func (s *testStore) CreateTransaction(_ context.Context, _ *models.Transaction) error {
	return nil
}
func (s *testStore) CountUncategorized(_ context.Context, _ uuid.UUID) (int, error) { return 0, nil }
func (s *testStore) ListUncategorized(_ context.Context, _ uuid.UUID, _, _ int) ([]models.Transaction, error) {
	return nil, nil
}
func (s *testStore) ListCategories(_ context.Context, _ uuid.UUID) ([]models.Category, error) {
	return nil, nil
}
func (s *testStore) GetCategory(_ context.Context, _, _ uuid.UUID) (*models.Category, error) {
	return nil, store.ErrNotFound
}
func (s *testStore) CreateCategory(_ context.Context, _ *models.Category) error { return nil }
func (s *testStore) UpsertCategoryRule(_ context.Context, _ *models.CategoryRule) (uuid.UUID, error) {
	return uuid.Nil, nil
}
func (s *testStore) ApplyCategory(_ context.Context, _, _ uuid.UUID, _ []uuid.UUID) (int, error) {
	return 0, nil
}
func (s *testStore) UpsertPendingSuggestion(_ context.Context, _ *models.Suggestion) error {
	return nil
}
func (s *testStore) ListSuggestions(_ context.Context, _ uuid.UUID, _ string) ([]*models.Suggestion, error) {
	return nil, nil
}
func (s *testStore) GetSuggestion(_ context.Context, _, _ uuid.UUID) (*models.Suggestion, error) {
	return nil, store.ErrNotFound
}
func (s *testStore) CountPendingSuggestions(_ context.Context, _ uuid.UUID) (int, error) {
	return 0, nil
}
func (s *testStore) ResolveSuggestion(_ context.Context, _, _ uuid.UUID, _ string, _ ...store.ResolveOption) error {
	return nil
}
func (s *testStore) DeletePendingSuggestions(_ context.Context, _ uuid.UUID) (int, error) {
	return 0, nil
}
func (s *testStore) CreateSkippedTransaction(_ context.Context, _ *models.SkippedTransaction) error {
	return nil
}
func (s *testStore) ListSkippedTransactions(_ context.Context, _ uuid.UUID) ([]*models.SkippedTransaction, error) {
	return nil, nil
}
func (s *testStore) CountSkippedTransactions(_ context.Context, _ uuid.UUID) (int, error) {
	return 0, nil
}
func (s *testStore) DeleteSkippedTransactions(_ context.Context, _ uuid.UUID) (int, error) {
	return 0, nil
}

var _ store.Store = (*testStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type testCache struct {
	pingErr error
}

func (c *testCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *testCache) Get(_ context.Context, _ string) ([]byte, error) {
	return nil, cache.ErrCacheMiss
}
func (c *testCache) Ping(_ context.Context) error                { return c.pingErr }
func (c *testCache) Close() error                                { return nil }
func (c *testCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

var _ cache.Cache = (*testCache)(nil)

// ─── health handler tests ───────────────────────────────────────────────────

func TestHealthHandler_AllOK(t *testing.T) {
	h := healthHandler(&testStore{}, &testCache{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	services := data["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["cache"])
}

func TestHealthHandler_DatabaseDegraded(t *testing.T) {
	h := healthHandler(&testStore{pingErr: errors.New("connection refused")}, &testCache{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "DEGRADED", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "degraded", details["database"])
	assert.Equal(t, "ok", details["cache"])
}

func TestHealthHandler_CacheDegraded(t *testing.T) {
	h := healthHandler(&testStore{}, &testCache{pingErr: errors.New("redis down")})

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthHandler_BothDegraded(t *testing.T) {
	h := healthHandler(
		&testStore{pingErr: errors.New("db down")},
		&testCache{pingErr: errors.New("redis down")},
	)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ─── run() config validation tests ──────────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_FailsOnMissingConfig(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL", "AI_PROVIDER",
	} {
		t.Setenv(key, "")
	}

	err := run(testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("AI_PROVIDER", "mock")

	err := run(testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

// ─── logger construction ────────────────────────────────────────────────────

func TestNewLogger(t *testing.T) {
	assert.NotNil(t, newLogger("development"))
	assert.NotNil(t, newLogger(""))
	assert.NotNil(t, newLogger("production"))
}

// ─── shutdown timeout constant test ─────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
