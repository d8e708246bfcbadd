package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mwhitby/pigeonhole/pkg/models"
)

const systemPrompt = "You are a financial transaction classifier. You MUST respond with ONLY a valid JSON object. " +
	"Do not include any explanatory text, markdown formatting, or commentary before or after the JSON. " +
	"Start your response directly with { and end with }."

// buildPrompt renders one batch into the user prompt shared by all remote
// providers.
func buildPrompt(req models.ClassifyRequest) string {
	var b strings.Builder

	b.WriteString("Group the following bank transactions into spending categories.\n\n")
	b.WriteString("Existing categories (prefer these; only propose a new category when none fits):\n")
	if len(req.Categories) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, c := range req.Categories {
		fmt.Fprintf(&b, "  - %s\n", c.Name)
	}

	b.WriteString("\nTransactions:\n")
	for _, t := range req.Transactions {
		fmt.Fprintf(&b, "  %s | %s | %.2f | %s\n",
			t.ID, t.Description, t.Amount, t.Date.Format("2006-01-02"))
	}

	b.WriteString(`
For each group, pick a short keyword from the transaction descriptions and a
match type ("contains" or "exact"). Every transaction id must appear in
exactly one grouping, or in "skipped" with a reason if you cannot categorize
it confidently.

Respond with JSON of this exact shape:
{
  "groupings": [
    {
      "keyword": "string",
      "match_type": "contains",
      "category_name": "string",
      "is_new_category": false,
      "icon": "string",
      "color": "#rrggbb",
      "transaction_ids": ["uuid"]
    }
  ],
  "skipped": [
    {"transaction_id": "uuid", "reason": "string"}
  ]
}`)

	return b.String()
}

// parseResult decodes the provider's JSON content into a ClassifyResult.
func parseResult(content string) (models.ClassifyResult, error) {
	content = cleanMarkdownWrapper(content)

	var result models.ClassifyResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return models.ClassifyResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	for i := range result.Groupings {
		g := &result.Groupings[i]
		if g.Keyword == "" || g.CategoryName == "" || len(g.TransactionIDs) == 0 {
			return models.ClassifyResult{}, fmt.Errorf("%w: grouping %d is incomplete", ErrInvalidResponse, i)
		}
		if g.MatchType != models.MatchExact {
			g.MatchType = models.MatchContains
		}
	}
	for _, s := range result.Skipped {
		if s.TransactionID == uuid.Nil {
			return models.ClassifyResult{}, fmt.Errorf("%w: skipped entry missing transaction_id", ErrInvalidResponse)
		}
	}

	return result, nil
}

// cleanMarkdownWrapper strips ```json fences some models wrap around their
// output despite instructions.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if idx := strings.Index(content, "\n"); idx != -1 {
			content = content[idx+1:]
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	return strings.TrimSpace(content)
}
