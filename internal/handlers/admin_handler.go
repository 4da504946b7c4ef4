package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/typeflow/backend/internal/middleware"
	"github.com/typeflow/backend/internal/models"
)

// AdminAccountStore is the subset of the account repository the admin
// endpoints need.
type AdminAccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	SetVip(ctx context.Context, id uuid.UUID, vip bool, notes *string) error
}

// PurchaseLister returns an account's purchase history.
type PurchaseLister interface {
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.PurchaseTransaction, error)
}

// AdjustmentLister returns an account's credit adjustment history.
type AdjustmentLister interface {
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.CreditAdjustment, error)
}

// UsageLister returns an account's most recent usage logs.
type UsageLister interface {
	ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.UsageLog, error)
}

// AdminHandler serves the support endpoints. Routes are behind AdminOnly.
type AdminHandler struct {
	Accounts    AdminAccountStore
	Granter     CreditGranter
	Purchases   PurchaseLister
	Adjustments AdjustmentLister
	Usage       UsageLister
	Logger      *slog.Logger
}

type adminCreditsRequest struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

// GrantCredits handles POST /api/v1/admin/accounts/{id}/credits.
func (h *AdminHandler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	accountID, ok := extractAccountID(r)
	if !ok {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return
	}

	var req adminCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, `{"error":"amount must be > 0"}`, http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, `{"error":"reason is required"}`, http.StatusBadRequest)
		return
	}

	actor := models.SystemActor
	if admin := middleware.AccountFromCtx(r.Context()); admin != nil {
		actor = admin.Email
	}

	balance, err := h.Granter.GrantBonus(r.Context(), accountID, req.Amount,
		models.AdjustmentAdmin, models.SourceAdmin, req.Reason, actor)
	if err != nil {
		h.Logger.Error("admin grant failed", "account_id", accountID, "error", err)
		http.Error(w, `{"error":"grant failed"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"credits": balance})
}

type adminVipRequest struct {
	IsVip bool   `json:"is_vip"`
	Notes string `json:"notes,omitempty"`
}

// SetVip handles POST /api/v1/admin/accounts/{id}/vip.
func (h *AdminHandler) SetVip(w http.ResponseWriter, r *http.Request) {
	accountID, ok := extractAccountID(r)
	if !ok {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return
	}

	var req adminVipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	var notes *string
	if req.Notes != "" {
		notes = &req.Notes
	}
	if err := h.Accounts.SetVip(r.Context(), accountID, req.IsVip, notes); err != nil {
		h.Logger.Error("set vip failed", "account_id", accountID, "error", err)
		http.Error(w, `{"error":"update failed"}`, http.StatusInternalServerError)
		return
	}

	acc, err := h.Accounts.GetByID(r.Context(), accountID)
	if err != nil {
		h.Logger.Error("reload account failed", "account_id", accountID, "error", err)
		http.Error(w, `{"error":"update failed"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"is_vip": acc.IsVip})
}

// activityUsageLimit caps how many usage logs one activity view returns.
const activityUsageLimit = 100

type adminActivityResponse struct {
	Account     adminAccountSummary           `json:"account"`
	Purchases   []*models.PurchaseTransaction `json:"purchases"`
	Adjustments []*models.CreditAdjustment    `json:"adjustments"`
	Usage       []*models.UsageLog            `json:"usage"`
}

type adminAccountSummary struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	PlanType string `json:"plan_type"`
	Credits  int    `json:"credits"`
	IsVip    bool   `json:"is_vip"`
}

// AccountActivity handles GET /api/v1/admin/accounts/{id}/activity: the
// support view of an account's purchase, adjustment, and usage history.
func (h *AdminHandler) AccountActivity(w http.ResponseWriter, r *http.Request) {
	accountID, ok := extractAccountID(r)
	if !ok {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return
	}

	acc, err := h.Accounts.GetByID(r.Context(), accountID)
	if err != nil {
		http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
		return
	}

	purchases, err := h.Purchases.ListByAccountID(r.Context(), accountID)
	if err != nil {
		h.Logger.Error("list purchases failed", "account_id", accountID, "error", err)
		http.Error(w, `{"error":"lookup failed"}`, http.StatusInternalServerError)
		return
	}
	adjustments, err := h.Adjustments.ListByAccountID(r.Context(), accountID)
	if err != nil {
		h.Logger.Error("list adjustments failed", "account_id", accountID, "error", err)
		http.Error(w, `{"error":"lookup failed"}`, http.StatusInternalServerError)
		return
	}
	usage, err := h.Usage.ListByAccountID(r.Context(), accountID, activityUsageLimit)
	if err != nil {
		h.Logger.Error("list usage failed", "account_id", accountID, "error", err)
		http.Error(w, `{"error":"lookup failed"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, adminActivityResponse{
		Account: adminAccountSummary{
			ID:       acc.ID.String(),
			Email:    acc.Email,
			PlanType: acc.PlanType,
			Credits:  acc.AvailableCredits(),
			IsVip:    acc.IsVip,
		},
		Purchases:   purchases,
		Adjustments: adjustments,
		Usage:       usage,
	})
}

// extractAccountID parses the account UUID from paths like
// /api/v1/admin/accounts/{id}/credits.
func extractAccountID(r *http.Request) (uuid.UUID, bool) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/admin/accounts/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
