package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageLog is an append-only record of one metered request by an account.
type UsageLog struct {
	ID             uuid.UUID `json:"id"`
	AccountID      uuid.UUID `json:"account_id"`
	RequestType    string    `json:"request_type"`
	HadImage       bool      `json:"had_image"`
	CreditsCharged int       `json:"credits_charged"`
	TokensInput    *int      `json:"tokens_input,omitempty"`
	TokensOutput   *int      `json:"tokens_output,omitempty"`
	CostUSD        *float64  `json:"cost_usd,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// GuestUsageLog is the device-scoped counterpart. ConvertedAccountID is
// stamped retroactively when the device is linked to an account at signup.
type GuestUsageLog struct {
	ID                 uuid.UUID  `json:"id"`
	DeviceID           string     `json:"device_id"`
	RequestType        string     `json:"request_type"`
	HadImage           bool       `json:"had_image"`
	CreditsCharged     int        `json:"credits_charged"`
	TokensInput        *int       `json:"tokens_input,omitempty"`
	TokensOutput       *int       `json:"tokens_output,omitempty"`
	CostUSD            *float64   `json:"cost_usd,omitempty"`
	ConvertedAccountID *uuid.UUID `json:"converted_account_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}
