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

const anthropicDefaultURL = "https://api.anthropic.com/v1/messages"

// anthropicClassifier implements models.Classifier against the Anthropic
// messages API.
type anthropicClassifier struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

func newAnthropicClassifier(cfg config.AnthropicConfig) (*anthropicClassifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	return &anthropicClassifier{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: anthropicDefaultURL,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

func (c *anthropicClassifier) Name() string { return "anthropic" }

func (c *anthropicClassifier) Classify(ctx context.Context, req models.ClassifyRequest) (models.ClassifyResult, error) {
	requestBody := map[string]any{
		"model":      c.model,
		"max_tokens": 4096,
		"system":     systemPrompt,
		"messages": []map[string]string{
			{"role": "user", "content": buildPrompt(req)},
		},
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
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

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

	if err := statusToError(resp.StatusCode, body, "Anthropic"); err != nil {
		return models.ClassifyResult{}, err
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return models.ClassifyResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(response.Content) == 0 {
		return models.ClassifyResult{}, fmt.Errorf("%w: no content in response", ErrInvalidResponse)
	}

	return parseResult(response.Content[0].Text)
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

var _ models.Classifier = (*anthropicClassifier)(nil)
