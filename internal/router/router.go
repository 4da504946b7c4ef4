package router

import (
	"net/http"
	"strings"

	"github.com/typeflow/backend/internal/auth"
	"github.com/typeflow/backend/internal/handlers"
	"github.com/typeflow/backend/internal/middleware"
)

// Deps bundles everything the router wires together.
type Deps struct {
	Auth      *auth.Handler
	AI        *handlers.AIHandler
	Voice     *handlers.VoiceHandler
	Purchases *handlers.PurchaseHandler
	Guest     *handlers.GuestHandler
	Account   *handlers.AccountHandler
	Admin     *handlers.AdminHandler

	Tokens   middleware.TokenValidator
	Accounts middleware.AccountLookup
}

// New returns an http.Handler serving the API under /api/v1.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	requireAuth := middleware.JWTAuth(d.Tokens, d.Accounts)
	optionalAuth := middleware.OptionalJWTAuth(d.Tokens, d.Accounts)

	// Identity. Sync runs inside these before the response.
	mux.HandleFunc(base+"/auth/signup", methodPOST(d.Auth.Signup))
	mux.HandleFunc(base+"/auth/login", methodPOST(d.Auth.Login))
	mux.HandleFunc(base+"/auth/external", methodPOST(d.Auth.ExternalLogin))

	// Feature endpoints. Process and transcribe accept guests.
	mux.Handle(base+"/ai/process", optionalAuth(methodPOST(d.AI.Process)))
	mux.Handle(base+"/voice/transcribe", optionalAuth(methodPOST(d.Voice.Transcribe)))
	mux.Handle(base+"/voice/respond", requireAuth(methodPOST(d.Voice.Respond)))
	mux.Handle(base+"/voice/profile", requireAuth(methodPOST(d.Voice.CreateProfile)))

	// Purchases. The processor notification intake is unauthenticated.
	mux.Handle(base+"/purchases/validate", requireAuth(methodPOST(d.Purchases.ValidatePurchase)))
	mux.Handle(base+"/purchases/transfer", requireAuth(methodPOST(d.Purchases.TransferCredits)))
	mux.Handle(base+"/billing/link", requireAuth(methodPOST(d.Purchases.LinkCustomer)))
	mux.HandleFunc(base+"/billing/events", methodPOST(d.Purchases.ProcessorEvent))

	// Guest device tracking.
	mux.HandleFunc(base+"/guest/initial-credits/check", methodPOST(d.Guest.CheckInitialCredits))
	mux.HandleFunc(base+"/guest/initial-credits/mark", methodPOST(d.Guest.MarkInitialCredits))

	// Account.
	mux.Handle(base+"/me", requireAuth(methodGET(d.Account.Me)))
	mux.Handle(base+"/account/delete", requireAuth(methodPOST(d.Account.Delete)))

	// Admin.
	adminChain := func(h http.HandlerFunc) http.Handler {
		return requireAuth(middleware.AdminOnly(h))
	}
	mux.Handle(base+"/admin/accounts/", adminChain(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/credits"):
			methodPOST(d.Admin.GrantCredits)(w, r)
		case strings.HasSuffix(r.URL.Path, "/vip"):
			methodPOST(d.Admin.SetVip)(w, r)
		case strings.HasSuffix(r.URL.Path, "/activity"):
			methodGET(d.Admin.AccountActivity)(w, r)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))

	return mux
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
