package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mwhitby/pigeonhole/internal/api"
	"github.com/mwhitby/pigeonhole/internal/api/handler"
	mw "github.com/mwhitby/pigeonhole/internal/api/middleware"
	"github.com/mwhitby/pigeonhole/internal/classifier"
	"github.com/mwhitby/pigeonhole/internal/config"
	"github.com/mwhitby/pigeonhole/internal/job"
	"github.com/mwhitby/pigeonhole/internal/review"
	"github.com/mwhitby/pigeonhole/internal/store"
	"github.com/mwhitby/pigeonhole/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testAPIKey = "ph_test_1234567890abcdef"

type testEnv struct {
	store  *store.MemoryStore
	router http.Handler
	userID uuid.UUID
}

func setupEnv(t *testing.T, clf models.Classifier, maxAffected int) *testEnv {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()

	user, err := s.GetDefaultUser(ctx)
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, s.CreateAPIKey(ctx, &models.APIKey{
		ID:        uuid.New(),
		UserID:    user.ID,
		Name:      "contract-test",
		KeyHash:   string(hash),
		KeyPrefix: testAPIKey[:8],
		Scopes:    []string{"read", "write"},
		CreatedAt: now,
		UpdatedAt: now,
	}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.ClassifierConfig{
		Provider:                "mock",
		Timeout:                 time.Second,
		BatchSize:               4,
		MaxAffectedTransactions: maxAffected,
		RequestsPerMinute:       60,
	}
	ctrl := job.NewController(s, clf, nil, cfg, logger)
	reviewSvc := review.NewService(s, logger)

	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(s),
		RateLimit: mw.NewRateLimit(nil, cfg.RequestsPerMinute),

		StartHandler:       handler.NewStartHandler(ctrl),
		StatusHandler:      handler.NewStatusHandler(ctrl),
		SuggestionsHandler: handler.NewSuggestionsHandler(s, ctrl, cfg.MaxAffectedTransactions),
		ApproveHandler:     handler.NewApproveHandler(reviewSvc),
		RejectHandler:      handler.NewRejectHandler(reviewSvc),
		ClearHandler:       handler.NewClearHandler(reviewSvc),
	})

	return &testEnv{store: s, router: router, userID: user.ID}
}

func (e *testEnv) seed(t *testing.T, descriptions ...string) {
	t.Helper()
	for i, desc := range descriptions {
		tx := models.Transaction{
			ID:          uuid.New(),
			UserID:      e.userID,
			Description: desc,
			Amount:      -5,
			Date:        time.Date(2026, 5, i+1, 0, 0, 0, 0, time.UTC),
			CreatedAt:   time.Now().UTC(),
		}
		require.NoError(t, e.store.CreateTransaction(context.Background(), &tx))
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "expected data envelope, got: %s", w.Body.String())
	return data
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got: %s", w.Body.String())
	return errObj
}

func (e *testEnv) waitComplete(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		w := e.do(t, "GET", "/api/v1/categorize/status", nil)
		if w.Code != http.StatusOK {
			return false
		}
		return decodeData(t, w)["status"] == models.JobStatusComplete
	}, 5*time.Second, 10*time.Millisecond)
}

func TestContract_AuthRequired(t *testing.T) {
	env := setupEnv(t, classifier.NewMock(), 50)

	req := httptest.NewRequest("GET", "/api/v1/categorize/status", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", decodeError(t, w)["code"])
}

func TestContract_StartWithNothingToDo(t *testing.T) {
	env := setupEnv(t, classifier.NewMock(), 50)

	w := env.do(t, "POST", "/api/v1/categorize/start", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.JobStatusComplete, decodeData(t, w)["status"])
}

func TestContract_StartConflict(t *testing.T) {
	env := setupEnv(t, classifier.NewBlockingMock(), 50)
	env.seed(t, "TESCO STORES 1")

	w := env.do(t, "POST", "/api/v1/categorize/start", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = env.do(t, "POST", "/api/v1/categorize/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_PROCESSING", decodeError(t, w)["code"])
}

func TestContract_FullReviewFlow(t *testing.T) {
	env := setupEnv(t, classifier.NewMock(), 50)
	env.seed(t, "TESCO STORES 1", "SHELL PETROL 1")

	w := env.do(t, "POST", "/api/v1/categorize/start", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	env.waitComplete(t)

	// Suggestions are visible once the job completes.
	w = env.do(t, "GET", "/api/v1/categorize/suggestions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	suggestions := data["suggestions"].([]any)
	require.Len(t, suggestions, 2)
	assert.Equal(t, float64(2), data["total_pending"])
	assert.Equal(t, false, data["is_partial"])

	first := suggestions[0].(map[string]any)
	suggestionID := first["id"].(string)

	// Approve the first one as-is.
	w = env.do(t, "POST", "/api/v1/categorize/suggestions/"+suggestionID+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	approved := decodeData(t, w)
	assert.Equal(t, float64(1), approved["transactions_categorized"])
	assert.Equal(t, true, approved["is_new_category"])

	// A second resolve of the same suggestion conflicts.
	w = env.do(t, "POST", "/api/v1/categorize/suggestions/"+suggestionID+"/reject", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_RESOLVED", decodeError(t, w)["code"])

	// Reject the second suggestion.
	second := suggestions[1].(map[string]any)
	w = env.do(t, "POST", "/api/v1/categorize/suggestions/"+second["id"].(string)+"/reject",
		map[string]any{"reason": "wrong merchant"})
	require.Equal(t, http.StatusOK, w.Code)

	// One transaction categorized, one back in the uncategorized set.
	w = env.do(t, "GET", "/api/v1/categorize/status", nil)
	status := decodeData(t, w)
	assert.Equal(t, float64(1), status["uncategorized_count"])
	assert.Equal(t, float64(0), status["pending_suggestions_count"])
	assert.Equal(t, false, status["is_processing"])
	assert.Equal(t, false, status["has_error"])
}

func TestContract_SuggestionsVisibleMidRun(t *testing.T) {
	// The second batch blocks until released, so the first batch's
	// suggestions can be read while the job is still processing.
	release := make(chan struct{})
	calls := 0
	working := classifier.NewMock()
	gated := &classifier.Mock{
		Name_: "mock-gated",
		ClassifyFunc: func(ctx context.Context, req models.ClassifyRequest) (models.ClassifyResult, error) {
			calls++
			if calls > 1 {
				<-release
			}
			return working.Classify(ctx, req)
		},
	}

	env := setupEnv(t, gated, 50)
	env.seed(t, "TESCO STORES 1", "SHELL PETROL 1", "NETFLIX.COM", "SPOTIFY AB", "AMAZON MKTP")

	w := env.do(t, "POST", "/api/v1/categorize/start", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	// Batch one produces four suggestions; poll until they land.
	var data map[string]any
	require.Eventually(t, func() bool {
		w := env.do(t, "GET", "/api/v1/categorize/suggestions", nil)
		if w.Code != http.StatusOK {
			return false
		}
		data = decodeData(t, w)
		suggestions, ok := data["suggestions"].([]any)
		return ok && len(suggestions) == 4
	}, 5*time.Second, 10*time.Millisecond, "first batch's suggestions never appeared")

	assert.Equal(t, true, data["is_partial"])
	assert.Equal(t, float64(4), data["total_pending"])

	w = env.do(t, "GET", "/api/v1/categorize/status", nil)
	status := decodeData(t, w)
	assert.Equal(t, models.JobStatusProcessing, status["status"])
	assert.Equal(t, true, status["is_processing"])

	close(release)
	env.waitComplete(t)

	w = env.do(t, "GET", "/api/v1/categorize/suggestions", nil)
	data = decodeData(t, w)
	assert.Equal(t, false, data["is_partial"])
	assert.Equal(t, float64(5), data["total_pending"])
}

func TestContract_ApproveWithOverrides(t *testing.T) {
	env := setupEnv(t, classifier.NewMock(), 50)
	env.seed(t, "TESCO STORES 1")

	env.do(t, "POST", "/api/v1/categorize/start", nil)
	env.waitComplete(t)

	w := env.do(t, "GET", "/api/v1/categorize/suggestions", nil)
	suggestions := decodeData(t, w)["suggestions"].([]any)
	require.Len(t, suggestions, 1)
	suggestionID := suggestions[0].(map[string]any)["id"].(string)

	w = env.do(t, "POST", "/api/v1/categorize/suggestions/"+suggestionID+"/approve", map[string]any{
		"category": map[string]any{"kind": "new", "name": "Food Shopping", "icon": "basket", "color": "#112233"},
		"match":    map[string]any{"type": "exact", "keyword": "tesco stores"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Food Shopping", decodeData(t, w)["category_name"])
}

func TestContract_ApproveValidation(t *testing.T) {
	env := setupEnv(t, classifier.NewMock(), 50)

	w := env.do(t, "POST", "/api/v1/categorize/suggestions/not-a-uuid/approve", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/v1/categorize/suggestions/"+uuid.NewString()+"/approve",
		map[string]any{"match": map[string]any{"type": "fuzzy", "keyword": "tesco"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/v1/categorize/suggestions/"+uuid.NewString()+"/approve", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, w)["code"])
}

func TestContract_SuggestionsTruncation(t *testing.T) {
	env := setupEnv(t, classifier.NewMock(), 2)
	env.seed(t, "TESCO STORES 1", "TESCO STORES 2", "TESCO STORES 3")

	env.do(t, "POST", "/api/v1/categorize/start", nil)
	env.waitComplete(t)

	w := env.do(t, "GET", "/api/v1/categorize/suggestions", nil)
	suggestions := decodeData(t, w)["suggestions"].([]any)
	require.Len(t, suggestions, 1)

	sg := suggestions[0].(map[string]any)
	assert.Equal(t, float64(3), sg["affected_count"])
	assert.Len(t, sg["affected_transactions"].([]any), 2)
	assert.Equal(t, true, sg["is_truncated"])
}

func TestContract_Clear(t *testing.T) {
	env := setupEnv(t, classifier.NewMock(), 50)
	env.seed(t, "TESCO STORES 1", "")

	env.do(t, "POST", "/api/v1/categorize/start", nil)
	env.waitComplete(t)

	w := env.do(t, "POST", "/api/v1/categorize/suggestions/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(1), data["suggestions_cleared"])
	assert.Equal(t, float64(1), data["skipped_cleared"])

	w = env.do(t, "GET", "/api/v1/categorize/status", nil)
	assert.Equal(t, float64(2), decodeData(t, w)["uncategorized_count"])
}
