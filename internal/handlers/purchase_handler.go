package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/typeflow/backend/internal/billing"
	"github.com/typeflow/backend/internal/middleware"
)

// PurchaseValidator is the subset of the billing service the handler needs.
type PurchaseValidator interface {
	Validate(ctx context.Context, accountID uuid.UUID, productID, transactionID, originalTransactionID string) (*billing.ValidateResult, error)
}

// ProcessorEvents applies payment-processor lifecycle notifications.
type ProcessorEvents interface {
	SubscriptionStarted(ctx context.Context, customerID, subscriptionID string) error
	SubscriptionCanceled(ctx context.Context, customerID string) error
	PaymentSucceeded(ctx context.Context, customerID string, credits int) error
}

// CustomerLinker binds the processor's customer reference to an account so
// later processor notifications can be resolved.
type CustomerLinker interface {
	LinkProcessorCustomer(ctx context.Context, accountID uuid.UUID, customerID string) error
}

// PurchaseHandler serves purchase validation, anonymous-purchase transfer,
// checkout customer linking, and the processor notification intake.
type PurchaseHandler struct {
	Billing PurchaseValidator
	Events  ProcessorEvents
	Linker  CustomerLinker
	Logger  *slog.Logger
}

type validatePurchaseRequest struct {
	ProductID             string `json:"product_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id,omitempty"`
}

type validatePurchaseResponse struct {
	PlanType         string `json:"plan_type"`
	Credits          int    `json:"credits"`
	CreditsAdded     int    `json:"credits_added"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
}

// ValidatePurchase handles POST /api/v1/purchases/validate.
func (h *PurchaseHandler) ValidatePurchase(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req validatePurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.ProductID == "" || req.TransactionID == "" {
		http.Error(w, `{"error":"product_id and transaction_id are required"}`, http.StatusBadRequest)
		return
	}

	res, err := h.Billing.Validate(r.Context(), acc.ID, req.ProductID, req.TransactionID, req.OriginalTransactionID)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownProduct):
			http.Error(w, `{"error":"unknown product"}`, http.StatusBadRequest)
		case errors.Is(err, billing.ErrSubscriptionLinkedElsewhere):
			http.Error(w, `{"error":"purchase is linked to another account"}`, http.StatusConflict)
		default:
			h.Logger.Error("purchase validation failed", "account_id", acc.ID, "transaction_id", req.TransactionID, "error", err)
			http.Error(w, `{"error":"purchase validation failed"}`, http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, validatePurchaseResponse{
		PlanType:         res.Account.PlanType,
		Credits:          res.Account.AvailableCredits(),
		CreditsAdded:     res.CreditsAdded,
		AlreadyProcessed: res.AlreadyProcessed,
	})
}

type transferCreditsRequest struct {
	Purchases []validatePurchaseRequest `json:"purchases"`
}

type transferCreditsResponse struct {
	CreditsAdded int    `json:"credits_added"`
	Transferred  int    `json:"transferred"`
	Skipped      int    `json:"skipped"`
	Credits      int    `json:"credits"`
	PlanType     string `json:"plan_type"`
}

// TransferCredits handles POST /api/v1/purchases/transfer. It claims
// purchases made while the device was anonymous onto the logged-in account.
// Each purchase goes through the same idempotent validation as a direct
// validate call; ones already bound to another account are skipped, not fatal.
func (h *PurchaseHandler) TransferCredits(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req transferCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if len(req.Purchases) == 0 {
		http.Error(w, `{"error":"purchases is required"}`, http.StatusBadRequest)
		return
	}

	resp := transferCreditsResponse{PlanType: acc.PlanType, Credits: acc.AvailableCredits()}
	for _, p := range req.Purchases {
		if p.ProductID == "" || p.TransactionID == "" {
			resp.Skipped++
			continue
		}
		res, err := h.Billing.Validate(r.Context(), acc.ID, p.ProductID, p.TransactionID, p.OriginalTransactionID)
		if err != nil {
			if errors.Is(err, billing.ErrSubscriptionLinkedElsewhere) || errors.Is(err, billing.ErrUnknownProduct) {
				resp.Skipped++
				continue
			}
			h.Logger.Error("transfer validation failed", "account_id", acc.ID, "transaction_id", p.TransactionID, "error", err)
			http.Error(w, `{"error":"transfer failed"}`, http.StatusInternalServerError)
			return
		}
		resp.Transferred++
		resp.CreditsAdded += res.CreditsAdded
		resp.PlanType = res.Account.PlanType
		resp.Credits = res.Account.AvailableCredits()
	}

	writeJSON(w, http.StatusOK, resp)
}

type linkCustomerRequest struct {
	CustomerID string `json:"customer_id"`
}

// LinkCustomer handles POST /api/v1/billing/link: checkout registration of
// the processor customer id against the logged-in account. Without this link
// the processor notifications below cannot be attributed.
func (h *PurchaseHandler) LinkCustomer(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req linkCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.CustomerID == "" {
		http.Error(w, `{"error":"customer_id is required"}`, http.StatusBadRequest)
		return
	}

	if err := h.Linker.LinkProcessorCustomer(r.Context(), acc.ID, req.CustomerID); err != nil {
		if errors.Is(err, billing.ErrCustomerLinkedElsewhere) {
			http.Error(w, `{"error":"customer is linked to another account"}`, http.StatusConflict)
			return
		}
		h.Logger.Error("customer link failed", "account_id", acc.ID, "customer_id", req.CustomerID, "error", err)
		http.Error(w, `{"error":"link failed"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

type processorEventRequest struct {
	Type           string `json:"type"`
	CustomerID     string `json:"customer_id"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Credits        int    `json:"credits,omitempty"`
}

// ProcessorEvent handles POST /api/v1/billing/events, the payment
// processor's lifecycle notifications. Unknown customers are acknowledged
// so the processor stops retrying.
func (h *PurchaseHandler) ProcessorEvent(w http.ResponseWriter, r *http.Request) {
	var req processorEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.CustomerID == "" {
		http.Error(w, `{"error":"customer_id is required"}`, http.StatusBadRequest)
		return
	}

	var err error
	switch req.Type {
	case "subscription.started":
		err = h.Events.SubscriptionStarted(r.Context(), req.CustomerID, req.SubscriptionID)
	case "subscription.canceled":
		err = h.Events.SubscriptionCanceled(r.Context(), req.CustomerID)
	case "payment.succeeded":
		err = h.Events.PaymentSucceeded(r.Context(), req.CustomerID, req.Credits)
	default:
		http.Error(w, `{"error":"unknown event type"}`, http.StatusBadRequest)
		return
	}
	if err != nil {
		h.Logger.Error("processor event failed", "type", req.Type, "customer_id", req.CustomerID, "error", err)
		http.Error(w, `{"error":"event processing failed"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
