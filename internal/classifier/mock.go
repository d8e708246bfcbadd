package classifier

import (
	"context"
	"strings"

	"github.com/mwhitby/pigeonhole/pkg/models"
)

// Mock satisfies models.Classifier for tests and local development.
type Mock struct {
	Name_        string
	ClassifyFunc func(ctx context.Context, req models.ClassifyRequest) (models.ClassifyResult, error)
}

func (m *Mock) Name() string {
	if m.Name_ == "" {
		return "mock"
	}
	return m.Name_
}

func (m *Mock) Classify(ctx context.Context, req models.ClassifyRequest) (models.ClassifyResult, error) {
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, req)
	}
	return models.ClassifyResult{}, nil
}

// NewMock returns a Mock with a deterministic default: transactions are
// grouped by the first word of their description, proposed as new
// categories; empty descriptions are skipped.
func NewMock() *Mock {
	return &Mock{
		Name_: "mock",
		ClassifyFunc: func(_ context.Context, req models.ClassifyRequest) (models.ClassifyResult, error) {
			existing := make(map[string]bool, len(req.Categories))
			for _, c := range req.Categories {
				existing[strings.ToLower(c.Name)] = true
			}

			groups := make(map[string]*models.Grouping)
			var order []string
			var result models.ClassifyResult
			for _, t := range req.Transactions {
				fields := strings.Fields(t.Description)
				if len(fields) == 0 {
					result.Skipped = append(result.Skipped, models.SkipReport{
						TransactionID: t.ID,
						Reason:        "empty description",
					})
					continue
				}
				keyword := strings.ToLower(fields[0])
				g, ok := groups[keyword]
				if !ok {
					g = &models.Grouping{
						Keyword:       keyword,
						MatchType:     models.MatchContains,
						CategoryName:  strings.ToUpper(keyword[:1]) + keyword[1:],
						IsNewCategory: !existing[keyword],
						Icon:          "tag",
						Color:         "#808080",
					}
					groups[keyword] = g
					order = append(order, keyword)
				}
				g.TransactionIDs = append(g.TransactionIDs, t.ID)
			}

			for _, keyword := range order {
				result.Groupings = append(result.Groupings, *groups[keyword])
			}
			return result, nil
		},
	}
}

// NewFailingMock returns a Mock whose Classify always returns err.
func NewFailingMock(err error) *Mock {
	return &Mock{
		Name_: "mock-failing",
		ClassifyFunc: func(_ context.Context, _ models.ClassifyRequest) (models.ClassifyResult, error) {
			return models.ClassifyResult{}, err
		},
	}
}

// NewBlockingMock returns a Mock that blocks until the context is cancelled,
// then reports a timeout.
func NewBlockingMock() *Mock {
	return &Mock{
		Name_: "mock-timeout",
		ClassifyFunc: func(ctx context.Context, _ models.ClassifyRequest) (models.ClassifyResult, error) {
			<-ctx.Done()
			return models.ClassifyResult{}, ErrTimeout
		},
	}
}

var _ models.Classifier = (*Mock)(nil)
