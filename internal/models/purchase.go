package models

import (
	"time"

	"github.com/google/uuid"
)

// Store product identifiers understood by purchase validation.
const (
	ProductProMonthly      = "app.typeflow.pro.monthly"
	ProductCredits100      = "app.typeflow.credits.100"
	ProductCredits500      = "app.typeflow.credits.500"
	ProductPreRegistration = "app.typeflow.preregistration"
)

// ProductCredits maps consumable credit packs to their fixed pack size.
var ProductCredits = map[string]int{
	ProductCredits100: 100,
	ProductCredits500: 500,
}

// PurchaseTransaction is the idempotency-and-audit record of one processed
// payment. transaction_id carries a unique index at the store level; the
// lookup-before-insert in billing is only an optimization.
type PurchaseTransaction struct {
	ID                    uuid.UUID `json:"id"`
	AccountID             uuid.UUID `json:"account_id"`
	TransactionID         string    `json:"transaction_id"`
	OriginalTransactionID string    `json:"original_transaction_id"`
	ProductID             string    `json:"product_id"`
	CreditsAdded          int       `json:"credits_added"`
	IsSubscription        bool      `json:"is_subscription"`
	CreatedAt             time.Time `json:"created_at"`
}
