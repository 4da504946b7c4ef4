package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// GuestGrantTracker tracks whether a device ever received the free initial
// credit grant.
type GuestGrantTracker interface {
	HasReceivedInitialCredits(ctx context.Context, deviceID string) (bool, error)
	MarkInitialCredits(ctx context.Context, deviceID string) error
}

// GuestHandler serves the device-level initial-grant endpoints the keyboard
// calls before and after handing out its local free credits.
type GuestHandler struct {
	Guests GuestGrantTracker
	Logger *slog.Logger
}

type guestDeviceRequest struct {
	DeviceID string `json:"device_id"`
}

// CheckInitialCredits handles POST /api/v1/guest/initial-credits/check.
func (h *GuestHandler) CheckInitialCredits(w http.ResponseWriter, r *http.Request) {
	var req guestDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		http.Error(w, `{"error":"device_id is required"}`, http.StatusBadRequest)
		return
	}

	received, err := h.Guests.HasReceivedInitialCredits(r.Context(), req.DeviceID)
	if err != nil {
		h.Logger.Error("initial credits check failed", "device_id", req.DeviceID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"has_received_initial_credits": received})
}

// MarkInitialCredits handles POST /api/v1/guest/initial-credits/mark.
func (h *GuestHandler) MarkInitialCredits(w http.ResponseWriter, r *http.Request) {
	var req guestDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		http.Error(w, `{"error":"device_id is required"}`, http.StatusBadRequest)
		return
	}

	if err := h.Guests.MarkInitialCredits(r.Context(), req.DeviceID); err != nil {
		h.Logger.Error("initial credits mark failed", "device_id", req.DeviceID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
