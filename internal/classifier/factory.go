// Package classifier provides the AI classification providers and the
// failure taxonomy the job engine maps their errors through.
package classifier

import (
	"fmt"

	"github.com/mwhitby/pigeonhole/internal/config"
	"github.com/mwhitby/pigeonhole/pkg/models"
)

// New constructs the configured classifier provider. Called once at server
// startup.
func New(cfg config.ClassifierConfig) (models.Classifier, error) {
	switch cfg.Provider {
	case "openai":
		return newOpenAIClassifier(cfg.OpenAI)
	case "anthropic":
		return newAnthropicClassifier(cfg.Anthropic)
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown classifier provider %q: must be one of openai, anthropic, mock", cfg.Provider)
	}
}
