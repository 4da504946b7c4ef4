package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/typeflow/backend/internal/middleware"
	"github.com/typeflow/backend/internal/models"
)

// Archiver soft-deletes accounts.
type Archiver interface {
	Archive(ctx context.Context, accountID uuid.UUID) error
}

// AccountHandler serves the logged-in account endpoints.
type AccountHandler struct {
	Archive Archiver
	Logger  *slog.Logger
}

type meResponse struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	PlanType           string    `json:"plan_type"`
	Credits            int       `json:"credits"`
	MonthlyCredits     int       `json:"monthly_credits"`
	MonthlyCreditsUsed int       `json:"monthly_credits_used"`
	BonusCredits       int       `json:"bonus_credits"`
	IsVip              bool      `json:"is_vip"`
	CreatedAt          time.Time `json:"created_at"`
}

// Me handles GET /api/v1/me.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, accountToMe(acc))
}

// Delete handles POST /api/v1/account/delete. Deletion is a soft archive:
// the account stays restorable for the retention window, then gets purged.
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	if err := h.Archive.Archive(r.Context(), acc.ID); err != nil {
		h.Logger.Error("archive failed", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"account deletion failed"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

func accountToMe(a *models.Account) meResponse {
	return meResponse{
		ID:                 a.ID.String(),
		Email:              a.Email,
		PlanType:           a.PlanType,
		Credits:            a.AvailableCredits(),
		MonthlyCredits:     a.MonthlyCredits,
		MonthlyCreditsUsed: a.MonthlyCreditsUsed,
		BonusCredits:       a.BonusCredits,
		IsVip:              a.IsVip,
		CreatedAt:          a.CreatedAt,
	}
}
