package models

import (
	"time"

	"github.com/google/uuid"
)

// DeviceLedger tracks anonymous usage per device identifier, independent of
// any account. Rows are never deleted automatically; they back anti-fraud
// checks (free-grant dedup) and analytics.
type DeviceLedger struct {
	DeviceID                  string     `json:"device_id"`
	TotalCreditsUsed          int        `json:"total_credits_used"`
	RequestsToday             int        `json:"requests_today"`
	LastRequestDate           string     `json:"last_request_date"` // YYYY-MM-DD
	HasReceivedInitialCredits bool       `json:"has_received_initial_credits"`
	ConvertedAccountID        *uuid.UUID `json:"converted_account_id,omitempty"`
	CreatedAt                 time.Time  `json:"created_at"`
	LastUsedAt                time.Time  `json:"last_used_at"`
}
