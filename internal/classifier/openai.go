package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mwhitby/pigeonhole/internal/config"
	"github.com/mwhitby/pigeonhole/pkg/models"
)

const openAIDefaultURL = "https://api.openai.com/v1/chat/completions"

// openAIClassifier implements models.Classifier against the OpenAI chat
// completions API.
type openAIClassifier struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

func newOpenAIClassifier(cfg config.OpenAIConfig) (*openAIClassifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	return &openAIClassifier{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: openAIDefaultURL,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

func (c *openAIClassifier) Name() string { return "openai" }

func (c *openAIClassifier) Classify(ctx context.Context, req models.ClassifyRequest) (models.ClassifyResult, error) {
	requestBody := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": buildPrompt(req)},
		},
		"temperature":     0.2,
		"response_format": map[string]string{"type": "json_object"},
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return models.ClassifyResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(string(jsonBody)))
	if err != nil {
		return models.ClassifyResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.ClassifyResult{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return models.ClassifyResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.ClassifyResult{}, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if err := statusToError(resp.StatusCode, body, "OpenAI"); err != nil {
		return models.ClassifyResult{}, err
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return models.ClassifyResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(response.Choices) == 0 {
		return models.ClassifyResult{}, fmt.Errorf("%w: no completion choices returned", ErrInvalidResponse)
	}

	return parseResult(response.Choices[0].Message.Content)
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// statusToError maps a non-200 provider status onto the failure taxonomy.
func statusToError(status int, body []byte, provider string) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s returned 429", ErrRateLimited, provider)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, provider, status)
	default:
		return fmt.Errorf("%w: %s error (status %d): %s", ErrUnavailable, provider, status, truncate(string(body), 200))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ models.Classifier = (*openAIClassifier)(nil)
