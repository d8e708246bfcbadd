package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction is a bank transaction. A nil CategoryID marks it as
// uncategorized; a transaction also leaves the uncategorized set while a
// pending suggestion references it.
type Transaction struct {
	ID          uuid.UUID  `db:"id"          json:"id"`
	UserID      uuid.UUID  `db:"user_id"     json:"user_id"`
	Description string     `db:"description" json:"description"`
	Amount      float64    `db:"amount"      json:"amount"`
	Date        time.Time  `db:"date"        json:"date"`
	CategoryID  *uuid.UUID `db:"category_id" json:"category_id,omitempty"`
	CreatedAt   time.Time  `db:"created_at"  json:"created_at"`
}

// TransactionRef is the compact view of a transaction embedded in a
// suggestion payload.
type TransactionRef struct {
	ID          uuid.UUID `json:"id"`
	Description string    `json:"description"`
	Amount      float64   `json:"amount"`
	Date        time.Time `json:"date"`
}

// Ref returns the compact payload view of t.
func (t Transaction) Ref() TransactionRef {
	return TransactionRef{
		ID:          t.ID,
		Description: t.Description,
		Amount:      t.Amount,
		Date:        t.Date,
	}
}
