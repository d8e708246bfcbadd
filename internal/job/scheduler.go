package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mwhitby/pigeonhole/internal/classifier"
	"github.com/mwhitby/pigeonhole/internal/metrics"
	"github.com/mwhitby/pigeonhole/pkg/models"
)

// run drives one categorization run to a terminal status. Batches are
// processed strictly in sequence; work persisted before a failure stays
// persisted, and the next start resumes over whatever is still
// uncategorized.
func (c *Controller) run(userID uuid.UUID, total int) {
	ctx := context.Background()
	log := c.logger.With("user_id", userID, "provider", c.classifier.Name())
	log.Info("categorization run started", "total", total)

	// Skip records describe the current run only.
	if _, err := c.store.DeleteSkippedTransactions(ctx, userID); err != nil {
		c.fail(userID, fmt.Errorf("clear skip records: %w", err))
		return
	}

	processed := 0
	// Transactions suggested in earlier batches leave the uncategorized set;
	// skipped ones stay in it, so each fetch starts past them.
	skippedSoFar := 0

	for batchNum := 1; ; batchNum++ {
		batch, err := c.store.ListUncategorized(ctx, userID, skippedSoFar, c.cfg.BatchSize)
		if err != nil {
			c.fail(userID, fmt.Errorf("fetch batch %d: %w", batchNum, err))
			return
		}
		if len(batch) == 0 {
			break
		}

		categories, err := c.store.ListCategories(ctx, userID)
		if err != nil {
			c.fail(userID, fmt.Errorf("list categories: %w", err))
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		start := time.Now()
		result, err := c.classifier.Classify(callCtx, models.ClassifyRequest{
			Transactions: batch,
			Categories:   categories,
		})
		cancel()
		metrics.ClassifyDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			code := classifier.Code(err)
			metrics.ClassifierErrors.WithLabelValues(code).Inc()
			c.failWithCode(userID, code, classifier.IsRetryable(err), err)
			log.Error("classifier call failed", "batch", batchNum, "code", code, "error", err)
			return
		}

		skippedInBatch, err := c.applyResult(ctx, userID, batch, categories, result)
		if err != nil {
			c.fail(userID, err)
			return
		}
		skippedSoFar += skippedInBatch
		processed += len(batch)
		metrics.BatchesProcessed.Inc()

		c.update(userID, func(j *models.CategorizationJob) {
			now := time.Now().UTC()
			j.LastProcessedAt = &now
			if j.Progress != nil {
				j.Progress.ProcessedTransactions = processed
				j.Progress.CurrentBatch = batchNum
			}
		})
		log.Info("batch processed", "batch", batchNum, "size", len(batch), "skipped", skippedInBatch)
	}

	c.update(userID, func(j *models.CategorizationJob) {
		now := time.Now().UTC()
		j.Status = models.JobStatusComplete
		j.LastError = nil
		j.LastProcessedAt = &now
	})
	metrics.JobsCompleted.WithLabelValues(models.JobStatusComplete).Inc()
	log.Info("categorization run complete", "processed", processed, "skipped", skippedSoFar)
}

// applyResult persists one batch's classifier output: groupings become
// pending suggestions, everything unaccounted for becomes a skip record.
// Returns how many batch transactions were skipped.
func (c *Controller) applyResult(ctx context.Context, userID uuid.UUID, batch []models.Transaction, categories []models.Category, result models.ClassifyResult) (int, error) {
	byID := make(map[uuid.UUID]models.Transaction, len(batch))
	for _, t := range batch {
		byID[t.ID] = t
	}
	catByName := make(map[string]models.Category, len(categories))
	for _, cat := range categories {
		catByName[strings.ToLower(cat.Name)] = cat
	}

	now := time.Now().UTC()
	accounted := make(map[uuid.UUID]bool)

	for _, g := range result.Groupings {
		var refs []models.TransactionRef
		for _, id := range g.TransactionIDs {
			// IDs outside the batch (hallucinated or duplicated) are dropped.
			t, ok := byID[id]
			if !ok || accounted[id] {
				continue
			}
			refs = append(refs, t.Ref())
			accounted[id] = true
		}
		if len(refs) == 0 {
			continue
		}

		sg := &models.Suggestion{
			ID:                   uuid.New(),
			UserID:               userID,
			Category:             chooseCategory(g, catByName),
			Match:                models.Match{Type: g.MatchType, Keyword: g.Keyword},
			AffectedTransactions: refs,
			AffectedCount:        len(refs),
			Status:               models.SuggestionStatusPending,
			CreatedAt:            now,
		}
		if err := c.store.UpsertPendingSuggestion(ctx, sg); err != nil {
			return 0, fmt.Errorf("persist suggestion %q: %w", g.Keyword, err)
		}
		metrics.SuggestionsCreated.Inc()
	}

	skipReasons := make(map[uuid.UUID]string, len(result.Skipped))
	for _, sk := range result.Skipped {
		skipReasons[sk.TransactionID] = sk.Reason
	}

	skipped := 0
	for _, t := range batch {
		if accounted[t.ID] {
			continue
		}
		reason := skipReasons[t.ID]
		if reason == "" {
			reason = "unclassified"
		}
		rec := &models.SkippedTransaction{
			TransactionID: t.ID,
			UserID:        userID,
			Description:   t.Description,
			Reason:        reason,
			CreatedAt:     now,
		}
		if err := c.store.CreateSkippedTransaction(ctx, rec); err != nil {
			return 0, fmt.Errorf("record skipped transaction: %w", err)
		}
		skipped++
	}
	return skipped, nil
}

// chooseCategory resolves a grouping's category against the user's existing
// ones. A claimed-existing name that does not match anything falls back to a
// new-category proposal rather than failing the batch.
func chooseCategory(g models.Grouping, existing map[string]models.Category) models.CategoryChoice {
	if !g.IsNewCategory {
		if cat, ok := existing[strings.ToLower(g.CategoryName)]; ok {
			return models.CategoryChoice{Kind: models.CategoryKindExisting, Existing: &models.ExistingCategory{
				ID: cat.ID, Name: cat.Name, Icon: cat.Icon, Color: cat.Color,
			}}
		}
	}
	return models.CategoryChoice{Kind: models.CategoryKindNew, New: &models.NewCategory{
		Name: g.CategoryName, Icon: g.Icon, Color: g.Color,
	}}
}

func (c *Controller) fail(userID uuid.UUID, err error) {
	c.failWithCode(userID, "INTERNAL", true, err)
	c.logger.Error("categorization run failed", "user_id", userID, "error", err)
}

func (c *Controller) failWithCode(userID uuid.UUID, code string, retryable bool, err error) {
	c.update(userID, func(j *models.CategorizationJob) {
		j.Status = models.JobStatusError
		j.LastError = &models.JobError{
			Code:      code,
			Message:   err.Error(),
			Retryable: retryable,
			Timestamp: time.Now().UTC(),
		}
	})
	metrics.JobsCompleted.WithLabelValues(models.JobStatusError).Inc()
}
