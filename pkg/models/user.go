package models

import (
	"time"

	"github.com/google/uuid"
)

// User owns transactions, categories, and categorization jobs. Every other
// entity belongs to a user.
type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Email     string    `db:"email"      json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
