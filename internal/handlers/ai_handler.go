package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/typeflow/backend/internal/ai"
	"github.com/typeflow/backend/internal/guest"
	"github.com/typeflow/backend/internal/ledger"
	"github.com/typeflow/backend/internal/middleware"
	"github.com/typeflow/backend/internal/models"
)

// CreditLedger is the subset of the ledger service the feature handlers need.
type CreditLedger interface {
	DebitUsage(ctx context.Context, accountID uuid.UUID, amount int, rec ledger.UsageRecord) (int, error)
}

// GuestTracker records guest usage against the device ledger.
type GuestTracker interface {
	Record(ctx context.Context, deviceID string, u guest.Usage) (*models.DeviceLedger, error)
}

// AIHandler serves POST /api/v1/ai/process. It sits behind optional auth:
// authenticated requests are debited server-side, guest requests are trusted
// to enforce their own balance and only get usage recorded.
type AIHandler struct {
	Completer ai.Completer
	Ledger    CreditLedger
	Guests    GuestTracker
	Logger    *slog.Logger
}

type processRequest struct {
	Action string `json:"action"`
	Text   string `json:"text"`
	Tone   string `json:"tone,omitempty"`
	Image  string `json:"image,omitempty"`

	// Guest-mode fields. CreditsAvailable is client-declared and not
	// enforced here; the client debits its own local balance.
	DeviceID         string `json:"device_id,omitempty"`
	CreditsAvailable int    `json:"credits_available,omitempty"`
}

type processResponse struct {
	Result      string `json:"result"`
	Model       string `json:"model,omitempty"`
	CreditsUsed int    `json:"credits_used"`
	Credits     int    `json:"credits"`
}

func (h *AIHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Action == "" || req.Text == "" {
		http.Error(w, `{"error":"action and text are required"}`, http.StatusBadRequest)
		return
	}

	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil && req.DeviceID == "" {
		http.Error(w, `{"error":"authentication or device_id required"}`, http.StatusUnauthorized)
		return
	}

	cost := ledger.ActionCost(req.Image != "")

	completion, err := h.Completer.Complete(r.Context(), ai.CompleteRequest{
		Action:   req.Action,
		Text:     req.Text,
		Tone:     req.Tone,
		ImageB64: req.Image,
	})
	if err != nil {
		h.Logger.Error("completion failed", "action", req.Action, "error", err)
		http.Error(w, `{"error":"AI processing failed"}`, http.StatusBadGateway)
		return
	}

	rec := ledger.UsageRecord{
		RequestType:  req.Action,
		HadImage:     req.Image != "",
		TokensInput:  &completion.TokensIn,
		TokensOutput: &completion.TokensOut,
	}

	if acc != nil {
		remaining, err := h.Ledger.DebitUsage(r.Context(), acc.ID, cost, rec)
		if err != nil {
			if errors.Is(err, ledger.ErrInsufficientCredits) {
				http.Error(w, `{"error":"insufficient credits"}`, http.StatusPaymentRequired)
				return
			}
			h.Logger.Error("debit failed", "account_id", acc.ID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, processResponse{
			Result:      completion.Text,
			Model:       completion.Model,
			CreditsUsed: cost,
			Credits:     remaining,
		})
		return
	}

	// Guest path: record usage for analytics, report the cost, and let the
	// client debit its locally-held balance.
	if _, err := h.Guests.Record(r.Context(), req.DeviceID, guest.Usage{
		RequestType:  req.Action,
		HadImage:     req.Image != "",
		Credits:      cost,
		TokensInput:  &completion.TokensIn,
		TokensOutput: &completion.TokensOut,
	}); err != nil {
		h.Logger.Warn("guest usage record failed", "device_id", req.DeviceID, "error", err)
	}

	remaining := req.CreditsAvailable - cost
	if remaining < 0 {
		remaining = 0
	}
	writeJSON(w, http.StatusOK, processResponse{
		Result:      completion.Text,
		Model:       completion.Model,
		CreditsUsed: cost,
		Credits:     remaining,
	})
}
