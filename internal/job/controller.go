// Package job runs the per-user categorization lifecycle: at most one job
// per user, advancing idle -> processing -> complete or error. Clients poll
// status; nothing here blocks a request for longer than a store call.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mwhitby/pigeonhole/internal/cache"
	"github.com/mwhitby/pigeonhole/internal/config"
	"github.com/mwhitby/pigeonhole/internal/metrics"
	"github.com/mwhitby/pigeonhole/internal/store"
	"github.com/mwhitby/pigeonhole/pkg/models"
)

// ErrAlreadyProcessing is returned by Start while the user's job is running.
var ErrAlreadyProcessing = errors.New("categorization job already in progress")

// statusMirrorTTL bounds how long a stale snapshot can linger in Redis if
// the server dies mid-run.
const statusMirrorTTL = 24 * time.Hour

// Controller owns the job registry. One entry per user; entries are never
// removed, they just return to a terminal status.
type Controller struct {
	store      store.Store
	classifier models.Classifier
	cache      cache.Cache
	cfg        config.ClassifierConfig
	logger     *slog.Logger

	mu   sync.Mutex
	jobs map[uuid.UUID]*userJob
}

type userJob struct {
	mu  sync.Mutex
	job models.CategorizationJob
}

// NewController creates a Controller. redisCache may be nil; the status
// mirror is then skipped.
func NewController(s store.Store, c models.Classifier, redisCache cache.Cache, cfg config.ClassifierConfig, logger *slog.Logger) *Controller {
	return &Controller{
		store:      s,
		classifier: c,
		cache:      redisCache,
		cfg:        cfg,
		logger:     logger,
		jobs:       make(map[uuid.UUID]*userJob),
	}
}

// Start begins a categorization run for userID. If a run is already
// processing, the current snapshot is returned with ErrAlreadyProcessing.
// With nothing to categorize the job completes immediately and no run is
// scheduled.
func (c *Controller) Start(ctx context.Context, userID uuid.UUID) (models.CategorizationJob, error) {
	entry := c.entry(userID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.job.Status == models.JobStatusProcessing {
		return copyJob(entry.job), ErrAlreadyProcessing
	}

	total, err := c.store.CountUncategorized(ctx, userID)
	if err != nil {
		return models.CategorizationJob{}, err
	}

	now := time.Now().UTC()
	if total == 0 {
		entry.job = models.CategorizationJob{
			ID:        uuid.New(),
			UserID:    userID,
			Status:    models.JobStatusComplete,
			StartedAt: &now,
		}
		c.mirror(ctx, entry.job)
		return copyJob(entry.job), nil
	}

	totalBatches := (total + c.cfg.BatchSize - 1) / c.cfg.BatchSize
	entry.job = models.CategorizationJob{
		ID:     uuid.New(),
		UserID: userID,
		Status: models.JobStatusProcessing,
		Progress: &models.Progress{
			TotalTransactions: total,
			TotalBatches:      totalBatches,
		},
		StartedAt: &now,
	}
	c.mirror(ctx, entry.job)
	metrics.JobsStarted.Inc()

	go c.run(userID, total)

	return copyJob(entry.job), nil
}

// Snapshot returns the user's current job state. Users that never started a
// job are idle.
func (c *Controller) Snapshot(userID uuid.UUID) models.CategorizationJob {
	c.mu.Lock()
	entry, ok := c.jobs[userID]
	c.mu.Unlock()
	if !ok {
		return models.CategorizationJob{UserID: userID, Status: models.JobStatusIdle}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.job.Status == "" {
		return models.CategorizationJob{UserID: userID, Status: models.JobStatusIdle}
	}
	return copyJob(entry.job)
}

func (c *Controller) entry(userID uuid.UUID) *userJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.jobs[userID]
	if !ok {
		entry = &userJob{job: models.CategorizationJob{UserID: userID, Status: models.JobStatusIdle}}
		c.jobs[userID] = entry
	}
	return entry
}

// update applies fn to the user's job under its lock and refreshes the
// Redis mirror.
func (c *Controller) update(userID uuid.UUID, fn func(*models.CategorizationJob)) {
	entry := c.entry(userID)
	entry.mu.Lock()
	fn(&entry.job)
	snapshot := copyJob(entry.job)
	entry.mu.Unlock()

	c.mirror(context.Background(), snapshot)
}

// mirrored reads the snapshot another instance (or a previous process)
// wrote to Redis. A miss, a decode failure, or a nil cache all report no
// snapshot.
func (c *Controller) mirrored(ctx context.Context, userID uuid.UUID) (models.CategorizationJob, bool) {
	if c.cache == nil {
		return models.CategorizationJob{}, false
	}
	payload, err := c.cache.Get(ctx, cache.JobStatusKey(userID))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("read job snapshot mirror", "user_id", userID, "error", err)
		}
		return models.CategorizationJob{}, false
	}
	var job models.CategorizationJob
	if err := json.Unmarshal(payload, &job); err != nil {
		c.logger.Warn("decode job snapshot mirror", "user_id", userID, "error", err)
		return models.CategorizationJob{}, false
	}
	return job, job.Status != ""
}

// mirror writes the snapshot to Redis so pollers on other instances see it.
// Best effort: a cache failure never fails the job.
func (c *Controller) mirror(ctx context.Context, job models.CategorizationJob) {
	if c.cache == nil {
		return
	}
	payload, err := json.Marshal(job)
	if err != nil {
		c.logger.Error("marshal job snapshot", "error", err)
		return
	}
	if err := c.cache.Set(ctx, cache.JobStatusKey(job.UserID), payload, statusMirrorTTL); err != nil {
		c.logger.Warn("mirror job snapshot", "user_id", job.UserID, "error", err)
	}
}

func copyJob(j models.CategorizationJob) models.CategorizationJob {
	out := j
	if j.Progress != nil {
		p := *j.Progress
		out.Progress = &p
	}
	if j.LastError != nil {
		e := *j.LastError
		out.LastError = &e
	}
	return out
}
