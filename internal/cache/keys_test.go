package cache_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/mwhitby/pigeonhole/internal/cache"
	"github.com/stretchr/testify/assert"
)

func TestJobStatusKey(t *testing.T) {
	userID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	assert.Equal(t, "categorize:job:00000000-0000-0000-0000-000000000001", cache.JobStatusKey(userID))
}

func TestRateLimitKey(t *testing.T) {
	assert.Equal(t, "ratelimit:ph_test1", cache.RateLimitKey("ph_test1"))
}
