package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/typeflow/backend/internal/billing"
	"github.com/typeflow/backend/internal/middleware"
	"github.com/typeflow/backend/internal/models"
)

type stubLinker struct {
	err    error
	linked []string
}

func (s *stubLinker) LinkProcessorCustomer(_ context.Context, _ uuid.UUID, customerID string) error {
	if s.err != nil {
		return s.err
	}
	s.linked = append(s.linked, customerID)
	return nil
}

func linkReq(t *testing.T, body string, acc *models.Account) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/link", strings.NewReader(body))
	if acc != nil {
		req = req.WithContext(middleware.WithAccount(req.Context(), acc))
	}
	return req
}

func TestLinkCustomer(t *testing.T) {
	linker := &stubLinker{}
	h := &PurchaseHandler{Linker: linker, Logger: slog.Default()}

	acc := &models.Account{ID: uuid.New()}
	rec := httptest.NewRecorder()
	h.LinkCustomer(rec, linkReq(t, `{"customer_id":"cus_1"}`, acc))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(linker.linked) != 1 || linker.linked[0] != "cus_1" {
		t.Errorf("linked: %v", linker.linked)
	}
}

func TestLinkCustomer_HeldByOtherAccount(t *testing.T) {
	linker := &stubLinker{err: billing.ErrCustomerLinkedElsewhere}
	h := &PurchaseHandler{Linker: linker, Logger: slog.Default()}

	acc := &models.Account{ID: uuid.New()}
	rec := httptest.NewRecorder()
	h.LinkCustomer(rec, linkReq(t, `{"customer_id":"cus_1"}`, acc))

	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestLinkCustomer_BadRequest(t *testing.T) {
	h := &PurchaseHandler{Linker: &stubLinker{}, Logger: slog.Default()}

	acc := &models.Account{ID: uuid.New()}
	cases := []struct {
		name string
		body string
	}{
		{"missing customer id", `{}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.LinkCustomer(rec, linkReq(t, tc.body, acc))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestLinkCustomer_RequiresAuth(t *testing.T) {
	h := &PurchaseHandler{Linker: &stubLinker{}, Logger: slog.Default()}

	rec := httptest.NewRecorder()
	h.LinkCustomer(rec, linkReq(t, `{"customer_id":"cus_1"}`, nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}
