package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/typeflow/backend/internal/ai"
	"github.com/typeflow/backend/internal/guest"
	"github.com/typeflow/backend/internal/ledger"
	"github.com/typeflow/backend/internal/middleware"
	"github.com/typeflow/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubCompleter struct {
	completion ai.Completion
	err        error
	lastReq    ai.CompleteRequest
}

func (s *stubCompleter) Complete(_ context.Context, req ai.CompleteRequest) (*ai.Completion, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	cp := s.completion
	return &cp, nil
}

type stubLedger struct {
	mu        sync.Mutex
	remaining int
	err       error
	debits    []int
}

func (s *stubLedger) DebitUsage(_ context.Context, _ uuid.UUID, amount int, _ ledger.UsageRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.debits = append(s.debits, amount)
	s.remaining -= amount
	return s.remaining, nil
}

type stubGuests struct {
	mu      sync.Mutex
	err     error
	records []guest.Usage
}

func (s *stubGuests) Record(_ context.Context, _ string, u guest.Usage) (*models.DeviceLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.records = append(s.records, u)
	return &models.DeviceLedger{}, nil
}

func newAIHandler(c *stubCompleter, l *stubLedger, g *stubGuests) *AIHandler {
	return &AIHandler{Completer: c, Ledger: l, Guests: g, Logger: slog.Default()}
}

func processReq(t *testing.T, body string, acc *models.Account) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ai/process", strings.NewReader(body))
	if acc != nil {
		req = req.WithContext(middleware.WithAccount(req.Context(), acc))
	}
	return req
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestProcess_AuthenticatedDebitsServerSide(t *testing.T) {
	comp := &stubCompleter{completion: ai.Completion{Text: "Fixed text.", Model: "m-1"}}
	led := &stubLedger{remaining: 20}
	guests := &stubGuests{}
	h := newAIHandler(comp, led, guests)

	acc := &models.Account{ID: uuid.New(), Email: "test@example.com"}
	rec := httptest.NewRecorder()
	h.Process(rec, processReq(t, `{"action":"fix_grammar","text":"helo"}`, acc))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp processResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Result != "Fixed text." || resp.CreditsUsed != ledger.CostTextAction {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Credits != 20-ledger.CostTextAction {
		t.Errorf("remaining credits: got %d, want %d", resp.Credits, 20-ledger.CostTextAction)
	}
	if len(led.debits) != 1 || led.debits[0] != ledger.CostTextAction {
		t.Errorf("debits: %v", led.debits)
	}
	if len(guests.records) != 0 {
		t.Error("authenticated request must not touch the device ledger")
	}
}

func TestProcess_VisionCostsMore(t *testing.T) {
	comp := &stubCompleter{completion: ai.Completion{Text: "a cat"}}
	led := &stubLedger{remaining: 20}
	h := newAIHandler(comp, led, &stubGuests{})

	acc := &models.Account{ID: uuid.New()}
	rec := httptest.NewRecorder()
	h.Process(rec, processReq(t, `{"action":"describe","text":"what is this","image":"aGk="}`, acc))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(led.debits) != 1 || led.debits[0] != ledger.CostVisionAction {
		t.Errorf("vision debit: %v, want [%d]", led.debits, ledger.CostVisionAction)
	}
	if comp.lastReq.ImageB64 == "" {
		t.Error("image payload was not forwarded")
	}
}

func TestProcess_InsufficientCredits(t *testing.T) {
	comp := &stubCompleter{completion: ai.Completion{Text: "ok"}}
	led := &stubLedger{err: ledger.ErrInsufficientCredits}
	h := newAIHandler(comp, led, &stubGuests{})

	acc := &models.Account{ID: uuid.New()}
	rec := httptest.NewRecorder()
	h.Process(rec, processReq(t, `{"action":"fix_grammar","text":"helo"}`, acc))

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestProcess_GuestTrustsClientBalance(t *testing.T) {
	comp := &stubCompleter{completion: ai.Completion{Text: "Fixed."}}
	led := &stubLedger{remaining: 999}
	guests := &stubGuests{}
	h := newAIHandler(comp, led, guests)

	rec := httptest.NewRecorder()
	h.Process(rec, processReq(t, `{"action":"fix_grammar","text":"helo","device_id":"dev-1","credits_available":5}`, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp processResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// The server reports client-declared balance minus cost and does not
	// enforce it; the device ledger records the usage.
	if resp.Credits != 5-ledger.CostTextAction {
		t.Errorf("guest credits: got %d, want %d", resp.Credits, 5-ledger.CostTextAction)
	}
	if len(led.debits) != 0 {
		t.Error("guest request must not debit any account")
	}
	if len(guests.records) != 1 || guests.records[0].Credits != ledger.CostTextAction {
		t.Errorf("guest records: %+v", guests.records)
	}
}

func TestProcess_GuestAtZeroIsNotBlocked(t *testing.T) {
	comp := &stubCompleter{completion: ai.Completion{Text: "Fixed."}}
	h := newAIHandler(comp, &stubLedger{}, &stubGuests{})

	rec := httptest.NewRecorder()
	h.Process(rec, processReq(t, `{"action":"fix_grammar","text":"helo","device_id":"dev-1","credits_available":0}`, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp processResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Credits != 0 {
		t.Errorf("reported balance clamps at zero, got %d", resp.Credits)
	}
}

func TestProcess_GuestRecordFailureIsNotFatal(t *testing.T) {
	comp := &stubCompleter{completion: ai.Completion{Text: "Fixed."}}
	guests := &stubGuests{err: errors.New("db down")}
	h := newAIHandler(comp, &stubLedger{}, guests)

	rec := httptest.NewRecorder()
	h.Process(rec, processReq(t, `{"action":"fix_grammar","text":"helo","device_id":"dev-1","credits_available":10}`, nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 despite record failure, got %d", rec.Code)
	}
}

func TestProcess_NoAccountNoDevice(t *testing.T) {
	h := newAIHandler(&stubCompleter{}, &stubLedger{}, &stubGuests{})

	rec := httptest.NewRecorder()
	h.Process(rec, processReq(t, `{"action":"fix_grammar","text":"helo"}`, nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestProcess_MissingFields(t *testing.T) {
	h := newAIHandler(&stubCompleter{}, &stubLedger{}, &stubGuests{})

	acc := &models.Account{ID: uuid.New()}
	cases := []struct {
		name string
		body string
	}{
		{"no action", `{"text":"helo"}`},
		{"no text", `{"action":"fix_grammar"}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Process(rec, processReq(t, tc.body, acc))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestProcess_CompletionFailureIsNotCharged(t *testing.T) {
	comp := &stubCompleter{err: errors.New("gateway timeout")}
	led := &stubLedger{remaining: 20}
	h := newAIHandler(comp, led, &stubGuests{})

	acc := &models.Account{ID: uuid.New()}
	rec := httptest.NewRecorder()
	h.Process(rec, processReq(t, `{"action":"fix_grammar","text":"helo"}`, acc))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if len(led.debits) != 0 {
		t.Error("failed completion must not be charged")
	}
}
