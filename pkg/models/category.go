package models

import (
	"time"

	"github.com/google/uuid"
)

// Category is a user-defined spending category.
type Category struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	UserID    uuid.UUID `db:"user_id"    json:"user_id"`
	Name      string    `db:"name"       json:"name"`
	Icon      string    `db:"icon"       json:"icon"`
	Color     string    `db:"color"      json:"color"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CategoryRule maps a textual keyword pattern to a category so future
// transactions matching the pattern can be categorized without the
// classifier.
type CategoryRule struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	UserID     uuid.UUID `db:"user_id"     json:"user_id"`
	CategoryID uuid.UUID `db:"category_id" json:"category_id"`
	MatchType  MatchType `db:"match_type"  json:"match_type"`
	Keyword    string    `db:"keyword"     json:"keyword"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`
}
