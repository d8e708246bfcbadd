package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// JobStatusKey is the mirror of a user's categorization job snapshot.
// Written on every state change so pollers can be served without a
// registry lookup.
func JobStatusKey(userID uuid.UUID) string {
	return fmt.Sprintf("categorize:job:%s", userID)
}

// RateLimitKey is the fixed-window request counter for an API key prefix.
func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
