package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit adjustment kinds.
const (
	AdjustmentBonus        = "bonus"
	AdjustmentRefund       = "refund"
	AdjustmentPromo        = "promo"
	AdjustmentCompensation = "compensation"
	AdjustmentAdmin        = "admin"
)

// Grant sources. Every credit grant is tagged at creation time so intent is
// recorded explicitly instead of inferred later from the numeric amount.
const (
	SourceInitialGrant = "initial_grant"
	SourcePurchase     = "purchase"
	SourceMerge        = "merge"
	SourceAdmin        = "admin"
	SourceRefund       = "refund"
	SourceSystem       = "system"
)

// SystemActor is recorded on adjustments not made by a human admin.
const SystemActor = "system"

// CreditAdjustment is an append-only audit entry for every non-debit credit
// change that is not covered by a PurchaseTransaction record.
type CreditAdjustment struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	Delta     int       `json:"delta"`
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	Reason    string    `json:"reason"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}
