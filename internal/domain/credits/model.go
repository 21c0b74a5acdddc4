package credits

import (
	"time"

	"github.com/google/uuid"
)

type TransactionType string

const (
	TransactionPurchase   TransactionType = "purchase"
	TransactionBonus      TransactionType = "bonus"
	TransactionRefund     TransactionType = "refund"
	TransactionAdjustment TransactionType = "adjustment"
)

// Reference types used by the webhook pipeline. A bonus grant carries the
// BonusSuffix so base and bonus credits for the same checkout session are
// independently idempotent.
const (
	RefCheckoutSession = "checkout_session"
	RefRefund          = "refund"
	BonusSuffix        = "_bonus"
)

// CreditTransaction is append-only. The composite uniqueness on
// (reference_type, reference_id) is the idempotency mechanism: a retried
// grant collides here instead of double-crediting. There is deliberately no
// pre-check before insert.
type CreditTransaction struct {
	ID             uint            `gorm:"primaryKey"`
	OrganizationID uuid.UUID       `gorm:"type:uuid;index;not null"`
	Amount         int64           `gorm:"not null"` // signed
	Type           TransactionType `gorm:"not null"`
	ReferenceType  string          `gorm:"not null;uniqueIndex:idx_credit_transactions_reference,priority:1"`
	ReferenceID    string          `gorm:"not null;uniqueIndex:idx_credit_transactions_reference,priority:2"`
	Metadata       []byte          `gorm:"type:jsonb"`
	BalanceAfter   int64           `gorm:"not null"`

	CreatedAt time.Time
}
