package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan types and their monthly allowance ceilings.
const (
	PlanFree = "free"
	PlanPro  = "pro"

	FreeMonthlyCredits = 50
	ProMonthlyCredits  = 500

	// FreeInitialCredits is the signup bonus granted once per account/device.
	FreeInitialCredits = 50
)

// ArchiveWindowDays is how long an archived account can still be restored
// before the purge sweep removes it for good.
const ArchiveWindowDays = 30

type Account struct {
	ID                        uuid.UUID  `json:"id"`
	Email                     string     `json:"email"`
	PasswordHash              *string    `json:"-"`
	ExternalSubjectID         *string    `json:"-"`
	PlanType                  string     `json:"plan_type"`
	MonthlyCredits            int        `json:"monthly_credits"`
	MonthlyCreditsUsed        int        `json:"monthly_credits_used"`
	BonusCredits              int        `json:"bonus_credits"`
	HasReceivedInitialCredits bool       `json:"has_received_initial_credits"`
	IsVip                     bool       `json:"is_vip"`
	IsAdmin                   bool       `json:"is_admin"`
	AdminNotes                *string    `json:"admin_notes,omitempty"`
	ProcessorCustomerID       *string    `json:"-"`
	ProcessorSubscriptionID   *string    `json:"-"`
	ArchivedAt                *time.Time `json:"archived_at,omitempty"`
	CreatedAt                 time.Time  `json:"created_at"`
	LastActiveAt              time.Time  `json:"last_active_at"`
}

// MonthlyRemaining is the unspent part of the monthly allowance, clamped at
// zero so a mid-cycle downgrade can never produce a negative term.
func (a *Account) MonthlyRemaining() int {
	if rem := a.MonthlyCredits - a.MonthlyCreditsUsed; rem > 0 {
		return rem
	}
	return 0
}

// AvailableCredits is the spendable balance: remaining allowance plus bonus pool.
func (a *Account) AvailableCredits() int {
	return a.MonthlyRemaining() + a.BonusCredits
}

// Archived reports whether the account is soft-deleted.
func (a *Account) Archived() bool {
	return a.ArchivedAt != nil
}

// RestorableAt reports whether the restore window is still open at now.
func (a *Account) RestorableAt(now time.Time) bool {
	return a.ArchivedAt != nil && now.Sub(*a.ArchivedAt) < ArchiveWindowDays*24*time.Hour
}
