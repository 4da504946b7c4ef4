package handlers

import (
	"context"
	"encoding/base64"
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

// CreditGranter writes an audited credit grant, used here for refunds.
type CreditGranter interface {
	GrantBonus(ctx context.Context, accountID uuid.UUID, amount int, kind, source, reason, actor string) (int, error)
}

// VoiceHandler serves the voice feature endpoints: transcription, spoken
// response generation, and voice profile creation. Transcription follows the
// same optional-auth trust boundary as text processing; the two profile-based
// operations require an account.
type VoiceHandler struct {
	Transcriber ai.Transcriber
	Synthesizer ai.Synthesizer
	Cloner      ai.VoiceCloner
	Completer   ai.Completer
	Ledger      CreditLedger
	Refunder    CreditGranter
	Guests      GuestTracker
	Logger      *slog.Logger
}

type transcribeRequest struct {
	Audio  string `json:"audio"`
	Format string `json:"format,omitempty"`

	DeviceID         string `json:"device_id,omitempty"`
	CreditsAvailable int    `json:"credits_available,omitempty"`
}

type transcribeResponse struct {
	Text        string `json:"text"`
	Language    string `json:"language,omitempty"`
	CreditsUsed int    `json:"credits_used"`
	Credits     int    `json:"credits"`
}

// Transcribe handles POST /api/v1/voice/transcribe.
func (h *VoiceHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil || len(audio) == 0 {
		http.Error(w, `{"error":"audio must be non-empty base64"}`, http.StatusBadRequest)
		return
	}

	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil && req.DeviceID == "" {
		http.Error(w, `{"error":"authentication or device_id required"}`, http.StatusUnauthorized)
		return
	}

	transcript, err := h.Transcriber.Transcribe(r.Context(), audio, req.Format)
	if err != nil {
		h.Logger.Error("transcription failed", "error", err)
		http.Error(w, `{"error":"transcription failed"}`, http.StatusBadGateway)
		return
	}

	cost := ledger.CostTranscription
	rec := ledger.UsageRecord{RequestType: "transcription"}

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
		writeJSON(w, http.StatusOK, transcribeResponse{
			Text: transcript.Text, Language: transcript.Language,
			CreditsUsed: cost, Credits: remaining,
		})
		return
	}

	if _, err := h.Guests.Record(r.Context(), req.DeviceID, guest.Usage{
		RequestType: "transcription",
		Credits:     cost,
	}); err != nil {
		h.Logger.Warn("guest usage record failed", "device_id", req.DeviceID, "error", err)
	}
	remaining := req.CreditsAvailable - cost
	if remaining < 0 {
		remaining = 0
	}
	writeJSON(w, http.StatusOK, transcribeResponse{
		Text: transcript.Text, Language: transcript.Language,
		CreditsUsed: cost, Credits: remaining,
	})
}

type respondRequest struct {
	VoiceID string `json:"voice_id"`
	Message string `json:"message"`
	Tone    string `json:"tone,omitempty"`
}

type respondResponse struct {
	Responses   []voiceResponse `json:"responses"`
	CreditsUsed int             `json:"credits_used"`
	Credits     int             `json:"credits"`
}

type voiceResponse struct {
	Text  string `json:"text"`
	Audio string `json:"audio"`
}

// respondVariants is how many reply candidates one generate call produces.
// The cost is flat regardless of the count.
const respondVariants = 3

// Respond handles POST /api/v1/voice/respond. One flat debit covers the
// whole batch of generated replies; a batch where every variant fails is
// refunded.
func (h *VoiceHandler) Respond(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.VoiceID == "" || req.Message == "" {
		http.Error(w, `{"error":"voice_id and message are required"}`, http.StatusBadRequest)
		return
	}

	cost := ledger.CostVoiceResponse
	remaining, err := h.Ledger.DebitUsage(r.Context(), acc.ID, cost, ledger.UsageRecord{RequestType: "voice_response"})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			http.Error(w, `{"error":"insufficient credits"}`, http.StatusPaymentRequired)
			return
		}
		h.Logger.Error("debit failed", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	out := make([]voiceResponse, 0, respondVariants)
	for i := 0; i < respondVariants; i++ {
		completion, err := h.Completer.Complete(r.Context(), ai.CompleteRequest{
			Action: "voice_reply",
			Text:   req.Message,
			Tone:   req.Tone,
		})
		if err != nil {
			h.Logger.Error("voice reply generation failed", "error", err)
			continue
		}
		audio, err := h.Synthesizer.Synthesize(r.Context(), req.VoiceID, completion.Text)
		if err != nil {
			h.Logger.Error("synthesis failed", "voice_id", req.VoiceID, "error", err)
			continue
		}
		out = append(out, voiceResponse{
			Text:  completion.Text,
			Audio: base64.StdEncoding.EncodeToString(audio),
		})
	}
	if len(out) == 0 {
		h.Logger.Error("all voice replies failed, refunding", "account_id", acc.ID, "voice_id", req.VoiceID)
		if _, refundErr := h.Refunder.GrantBonus(r.Context(), acc.ID, cost,
			models.AdjustmentRefund, models.SourceSystem, "voice response generation failed", models.SystemActor); refundErr != nil {
			h.Logger.Error("refund failed", "account_id", acc.ID, "error", refundErr)
		}
		http.Error(w, `{"error":"voice generation failed"}`, http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, respondResponse{Responses: out, CreditsUsed: cost, Credits: remaining})
}

type createProfileRequest struct {
	Name   string `json:"name"`
	Sample string `json:"sample"`
}

type createProfileResponse struct {
	VoiceID     string `json:"voice_id"`
	CreditsUsed int    `json:"credits_used"`
	Credits     int    `json:"credits"`
}

// CreateProfile handles POST /api/v1/voice/profile.
func (h *VoiceHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req createProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	sample, err := base64.StdEncoding.DecodeString(req.Sample)
	if err != nil || len(sample) == 0 {
		http.Error(w, `{"error":"sample must be non-empty base64"}`, http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = "My Voice"
	}

	cost := ledger.CostVoiceProfile
	remaining, err := h.Ledger.DebitUsage(r.Context(), acc.ID, cost, ledger.UsageRecord{RequestType: "voice_profile"})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			http.Error(w, `{"error":"insufficient credits"}`, http.StatusPaymentRequired)
			return
		}
		h.Logger.Error("debit failed", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	voiceID, err := h.Cloner.CloneVoice(r.Context(), req.Name, sample)
	if err != nil {
		h.Logger.Error("voice clone failed, refunding", "account_id", acc.ID, "error", err)
		if _, refundErr := h.Refunder.GrantBonus(r.Context(), acc.ID, cost,
			models.AdjustmentRefund, models.SourceSystem, "voice profile creation failed", models.SystemActor); refundErr != nil {
			h.Logger.Error("refund failed", "account_id", acc.ID, "error", refundErr)
		}
		http.Error(w, `{"error":"voice profile creation failed"}`, http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, createProfileResponse{VoiceID: voiceID, CreditsUsed: cost, Credits: remaining})
}
