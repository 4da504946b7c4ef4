package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/typeflow/backend/internal/entitlement"
	"github.com/typeflow/backend/internal/models"
)

// Request/response structs use snake_case JSON, matching the mobile client.

type localSubscription struct {
	OriginalTransactionID string `json:"original_transaction_id"`
	RemainingCredits      int    `json:"remaining_credits"`
}

type SignupHTTPRequest struct {
	Email             string             `json:"email"`
	Password          string             `json:"password"`
	IdentityToken     string             `json:"identity_token,omitempty"`
	DeviceID          string             `json:"device_id,omitempty"`
	LocalBonusCredits int                `json:"local_bonus_credits,omitempty"`
	LocalSubscription *localSubscription `json:"local_subscription,omitempty"`
}

type LoginHTTPRequest struct {
	Email             string             `json:"email"`
	Password          string             `json:"password"`
	DeviceID          string             `json:"device_id,omitempty"`
	LocalBonusCredits int                `json:"local_bonus_credits,omitempty"`
	LocalSubscription *localSubscription `json:"local_subscription,omitempty"`
}

type ExternalLoginHTTPRequest struct {
	IdentityToken     string             `json:"identity_token"`
	Email             string             `json:"email,omitempty"`
	DeviceID          string             `json:"device_id,omitempty"`
	LocalBonusCredits int                `json:"local_bonus_credits,omitempty"`
	LocalSubscription *localSubscription `json:"local_subscription,omitempty"`
}

type AccountResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	PlanType string `json:"plan_type"`
	Credits  int    `json:"credits"`
	IsVip    bool   `json:"is_vip"`
}

type SessionResponse struct {
	User          AccountResponse `json:"user"`
	Token         string          `json:"token"`
	Restored      bool            `json:"restored,omitempty"`
	MergedCredits int             `json:"merged_credits,omitempty"`
}

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}
	sess, err := h.svc.Signup(r.Context(), SignupRequest{
		Email:             req.Email,
		Password:          req.Password,
		IdentityToken:     req.IdentityToken,
		DeviceID:          req.DeviceID,
		LocalBonusCredits: req.LocalBonusCredits,
		LocalSub:          toLocalSub(req.LocalSubscription),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			http.Error(w, "email already registered", http.StatusConflict)
			return
		}
		h.log.Error("signup failed", "error", err)
		http.Error(w, "signup failed", http.StatusInternalServerError)
		return
	}
	writeSession(w, http.StatusCreated, sess)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}
	sess, err := h.svc.Login(r.Context(), LoginRequest{
		Email:             req.Email,
		Password:          req.Password,
		DeviceID:          req.DeviceID,
		LocalBonusCredits: req.LocalBonusCredits,
		LocalSub:          toLocalSub(req.LocalSubscription),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			http.Error(w, "invalid email or password", http.StatusUnauthorized)
		case errors.Is(err, ErrAccountArchived):
			http.Error(w, "account archived, sign up again to restore", http.StatusGone)
		default:
			h.log.Error("login failed", "error", err)
			http.Error(w, "login failed", http.StatusInternalServerError)
		}
		return
	}
	writeSession(w, http.StatusOK, sess)
}

func (h *Handler) ExternalLogin(w http.ResponseWriter, r *http.Request) {
	var req ExternalLoginHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.IdentityToken == "" {
		http.Error(w, "identity token is required", http.StatusBadRequest)
		return
	}
	sess, err := h.svc.ExternalLogin(r.Context(), ExternalLoginRequest{
		IdentityToken:     req.IdentityToken,
		Email:             req.Email,
		DeviceID:          req.DeviceID,
		LocalBonusCredits: req.LocalBonusCredits,
		LocalSub:          toLocalSub(req.LocalSubscription),
	})
	if err != nil {
		if errors.Is(err, ErrInvalidIdentityToken) {
			http.Error(w, "invalid identity token", http.StatusUnauthorized)
			return
		}
		h.log.Error("external login failed", "error", err)
		http.Error(w, "sign in failed", http.StatusInternalServerError)
		return
	}
	writeSession(w, http.StatusOK, sess)
}

func toLocalSub(s *localSubscription) *entitlement.LocalSubscription {
	if s == nil {
		return nil
	}
	return &entitlement.LocalSubscription{
		OriginalTransactionID: s.OriginalTransactionID,
		RemainingCredits:      s.RemainingCredits,
	}
}

func writeSession(w http.ResponseWriter, status int, sess *Session) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SessionResponse{
		User:          accountToResponse(sess.Account),
		Token:         sess.Token,
		Restored:      sess.Restored,
		MergedCredits: sess.MergedCredits,
	})
}

func accountToResponse(a *models.Account) AccountResponse {
	return AccountResponse{
		ID:       a.ID.String(),
		Email:    a.Email,
		PlanType: a.PlanType,
		Credits:  a.AvailableCredits(),
		IsVip:    a.IsVip,
	}
}
