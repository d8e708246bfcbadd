package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mwhitby/pigeonhole/internal/config"
	"github.com/mwhitby/pigeonhole/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- parseResult ---

func TestParseResult_Valid(t *testing.T) {
	txID := uuid.New()
	content := fmt.Sprintf(`{
		"groupings": [{
			"keyword": "tesco",
			"match_type": "contains",
			"category_name": "Groceries",
			"is_new_category": true,
			"icon": "cart",
			"color": "#00AA00",
			"transaction_ids": ["%s"]
		}],
		"skipped": []
	}`, txID)

	result, err := parseResult(content)
	require.NoError(t, err)
	require.Len(t, result.Groupings, 1)
	assert.Equal(t, "tesco", result.Groupings[0].Keyword)
	assert.Equal(t, []uuid.UUID{txID}, result.Groupings[0].TransactionIDs)
}

func TestParseResult_StripsMarkdownFences(t *testing.T) {
	txID := uuid.New()
	content := fmt.Sprintf("```json\n{\"groupings\":[{\"keyword\":\"tesco\",\"category_name\":\"Groceries\",\"transaction_ids\":[\"%s\"]}],\"skipped\":[]}\n```", txID)

	result, err := parseResult(content)
	require.NoError(t, err)
	require.Len(t, result.Groupings, 1)
}

func TestParseResult_DefaultsMatchTypeToContains(t *testing.T) {
	content := fmt.Sprintf(`{"groupings":[{"keyword":"tesco","match_type":"fuzzy","category_name":"Groceries","transaction_ids":["%s"]}]}`, uuid.New())

	result, err := parseResult(content)
	require.NoError(t, err)
	assert.Equal(t, models.MatchContains, result.Groupings[0].MatchType)
}

func TestParseResult_InvalidJSON(t *testing.T) {
	_, err := parseResult("the transactions look like groceries to me")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestParseResult_IncompleteGrouping(t *testing.T) {
	_, err := parseResult(`{"groupings":[{"keyword":"","category_name":"Groceries","transaction_ids":[]}]}`)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestParseResult_SkippedMissingID(t *testing.T) {
	_, err := parseResult(`{"groupings":[],"skipped":[{"reason":"unclear"}]}`)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

// --- taxonomy ---

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"rate limited", ErrRateLimited, CodeRateLimited},
		{"timeout", ErrTimeout, CodeTimeout},
		{"deadline exceeded", context.DeadlineExceeded, CodeTimeout},
		{"unavailable", ErrUnavailable, CodeUnavailable},
		{"invalid response", ErrInvalidResponse, CodeInvalidResponse},
		{"wrapped invalid response", fmt.Errorf("parse: %w", ErrInvalidResponse), CodeInvalidResponse},
		{"wrapped", fmt.Errorf("call failed: %w", ErrRateLimited), CodeRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrRateLimited))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(ErrUnavailable))
	assert.False(t, IsRetryable(ErrInvalidResponse))
	assert.False(t, IsRetryable(fmt.Errorf("parse: %w", ErrInvalidResponse)))
}

// --- OpenAI provider ---

func classifyReq() models.ClassifyRequest {
	return models.ClassifyRequest{
		Transactions: []models.Transaction{{
			ID:          uuid.New(),
			Description: "TESCO STORES 1234",
			Amount:      -12.50,
			Date:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		}},
		Categories: []models.Category{{Name: "Groceries"}},
	}
}

func openAIServer(t *testing.T, handler http.HandlerFunc) *openAIClassifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := newOpenAIClassifier(config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	c.baseURL = srv.URL
	return c
}

func TestOpenAI_Classify_Success(t *testing.T) {
	req := classifyReq()
	txID := req.Transactions[0].ID

	c := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		content := fmt.Sprintf(`{"groupings":[{"keyword":"tesco","match_type":"contains","category_name":"Groceries","transaction_ids":["%s"]}],"skipped":[]}`, txID)
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	result, err := c.Classify(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Groupings, 1)
	assert.Equal(t, "Groceries", result.Groupings[0].CategoryName)
}

func TestOpenAI_Classify_RateLimited(t *testing.T) {
	c := openAIServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Classify(context.Background(), classifyReq())
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, CodeRateLimited, Code(err))
}

func TestOpenAI_Classify_ServerError(t *testing.T) {
	c := openAIServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Classify(context.Background(), classifyReq())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenAI_Classify_Timeout(t *testing.T) {
	c := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can detect the client disconnect
		// and cancel the request context; otherwise Close hangs.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Classify(ctx, classifyReq())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, CodeTimeout, Code(err))
}

func TestOpenAI_Classify_NoChoices(t *testing.T) {
	c := openAIServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	})

	_, err := c.Classify(context.Background(), classifyReq())
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestOpenAI_RequiresAPIKey(t *testing.T) {
	_, err := newOpenAIClassifier(config.OpenAIConfig{})
	assert.Error(t, err)
}

// --- Anthropic provider ---

func TestAnthropic_Classify_Success(t *testing.T) {
	req := classifyReq()
	txID := req.Transactions[0].ID

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))

		content := fmt.Sprintf(`{"groupings":[{"keyword":"tesco","category_name":"Groceries","transaction_ids":["%s"]}],"skipped":[]}`, txID)
		resp := map[string]any{
			"content": []map[string]any{{"type": "text", "text": content}},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)

	c, err := newAnthropicClassifier(config.AnthropicConfig{APIKey: "sk-ant-test", Model: "test-model"})
	require.NoError(t, err)
	c.baseURL = srv.URL

	result, err := c.Classify(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Groupings, 1)
}

// --- factory ---

func TestNew_Providers(t *testing.T) {
	clf, err := New(config.ClassifierConfig{Provider: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "mock", clf.Name())

	clf, err = New(config.ClassifierConfig{Provider: "openai", OpenAI: config.OpenAIConfig{APIKey: "sk-test"}})
	require.NoError(t, err)
	assert.Equal(t, "openai", clf.Name())

	clf, err = New(config.ClassifierConfig{Provider: "anthropic", Anthropic: config.AnthropicConfig{APIKey: "sk-ant"}})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", clf.Name())

	_, err = New(config.ClassifierConfig{Provider: "bard"})
	assert.Error(t, err)
}

// --- mock ---

func TestMock_GroupsByFirstWord(t *testing.T) {
	clf := NewMock()
	result, err := clf.Classify(context.Background(), models.ClassifyRequest{
		Transactions: []models.Transaction{
			{ID: uuid.New(), Description: "TESCO STORES 1"},
			{ID: uuid.New(), Description: "TESCO EXPRESS 2"},
			{ID: uuid.New(), Description: "SHELL PETROL"},
			{ID: uuid.New(), Description: ""},
		},
		Categories: []models.Category{{Name: "Shell"}},
	})
	require.NoError(t, err)

	require.Len(t, result.Groupings, 2)
	assert.Equal(t, "tesco", result.Groupings[0].Keyword)
	assert.True(t, result.Groupings[0].IsNewCategory)
	assert.Len(t, result.Groupings[0].TransactionIDs, 2)
	assert.Equal(t, "shell", result.Groupings[1].Keyword)
	assert.False(t, result.Groupings[1].IsNewCategory)

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "empty description", result.Skipped[0].Reason)
}
