package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/typeflow/backend/internal/entitlement"
	"github.com/typeflow/backend/internal/models"
	"github.com/typeflow/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubAccounts struct {
	byEmail map[string]*models.Account
	touched []uuid.UUID
}

func (s *stubAccounts) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	acc, ok := s.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return acc, nil
}

func (s *stubAccounts) TouchLastActive(_ context.Context, id uuid.UUID) error {
	s.touched = append(s.touched, id)
	return nil
}

// stubSyncer records the request and plays back a canned result.
type stubSyncer struct {
	req    entitlement.SyncRequest
	result *entitlement.SyncResult
	err    error
}

func (s *stubSyncer) Sync(_ context.Context, req entitlement.SyncRequest) (*entitlement.SyncResult, error) {
	s.req = req
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &entitlement.SyncResult{
		Account: &models.Account{ID: uuid.New(), Email: req.Email},
		Created: true,
	}, nil
}

type stubVerifier struct {
	identity *VerifiedIdentity
	err      error
}

func (s *stubVerifier) Verify(context.Context, string) (*VerifiedIdentity, error) {
	return s.identity, s.err
}

var testSecret = []byte("test-secret")

func hashOf(t *testing.T, password string) *string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	s := string(h)
	return &s
}

// ---------------------------------------------------------------------------
// Signup
// ---------------------------------------------------------------------------

func TestSignup_CreatesAccountAndIssuesToken(t *testing.T) {
	syncer := &stubSyncer{}
	svc := NewService(&stubAccounts{}, syncer, &stubVerifier{}, testSecret)

	sess, err := svc.Signup(context.Background(), SignupRequest{
		Email:    "new@example.com",
		Password: "hunter22",
		DeviceID: "device-1",
	})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if sess.Token == "" {
		t.Error("expected a token")
	}
	if !sess.Created {
		t.Error("expected Created")
	}
	if syncer.req.PasswordHash == nil {
		t.Fatal("sync should receive the password hash")
	}
	if bcrypt.CompareHashAndPassword([]byte(*syncer.req.PasswordHash), []byte("hunter22")) != nil {
		t.Error("stored hash should match the password")
	}
	if syncer.req.DeviceID != "device-1" {
		t.Errorf("device id should pass through, got %q", syncer.req.DeviceID)
	}
}

func TestSignup_ExistingLiveAccountIsDuplicate(t *testing.T) {
	syncer := &stubSyncer{result: &entitlement.SyncResult{
		Account: &models.Account{ID: uuid.New(), Email: "user@example.com"},
		// Neither created nor restored: the email already has a live account.
	}}
	svc := NewService(&stubAccounts{}, syncer, &stubVerifier{}, testSecret)

	_, err := svc.Signup(context.Background(), SignupRequest{Email: "user@example.com", Password: "pw"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got: %v", err)
	}
}

func TestSignup_RestoredAccountIsNotDuplicate(t *testing.T) {
	syncer := &stubSyncer{result: &entitlement.SyncResult{
		Account:  &models.Account{ID: uuid.New(), Email: "user@example.com"},
		Restored: true,
	}}
	svc := NewService(&stubAccounts{}, syncer, &stubVerifier{}, testSecret)

	sess, err := svc.Signup(context.Background(), SignupRequest{Email: "user@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if !sess.Restored {
		t.Error("restored flag should reach the session")
	}
}

func TestSignup_BadIdentityTokenMeansNoVerifiedEmail(t *testing.T) {
	syncer := &stubSyncer{}
	svc := NewService(&stubAccounts{}, syncer, &stubVerifier{err: errors.New("garbage token")}, testSecret)

	if _, err := svc.Signup(context.Background(), SignupRequest{
		Email:         "new@example.com",
		Password:      "pw",
		IdentityToken: "not-a-jwt",
	}); err != nil {
		t.Fatalf("a bad identity token should not fail signup: %v", err)
	}
	if syncer.req.VerifiedEmail != "" {
		t.Errorf("verified email should be empty, got %q", syncer.req.VerifiedEmail)
	}
}

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

func TestLogin_Success(t *testing.T) {
	acc := &models.Account{
		ID:           uuid.New(),
		Email:        "user@example.com",
		PasswordHash: hashOf(t, "correct-horse"),
	}
	accounts := &stubAccounts{byEmail: map[string]*models.Account{acc.Email: acc}}
	syncer := &stubSyncer{result: &entitlement.SyncResult{Account: acc, MergedCredits: 20}}
	svc := NewService(accounts, syncer, &stubVerifier{}, testSecret)

	sess, err := svc.Login(context.Background(), LoginRequest{
		Email:    "user@example.com",
		Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.MergedCredits != 20 {
		t.Errorf("merged credits: got %d, want 20", sess.MergedCredits)
	}
	if len(accounts.touched) != 1 || accounts.touched[0] != acc.ID {
		t.Error("login should touch last_active")
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	acc := &models.Account{
		ID:           uuid.New(),
		Email:        "user@example.com",
		PasswordHash: hashOf(t, "correct-horse"),
	}
	accounts := &stubAccounts{byEmail: map[string]*models.Account{acc.Email: acc}}
	svc := NewService(accounts, &stubSyncer{}, &stubVerifier{}, testSecret)

	_, err := svc.Login(context.Background(), LoginRequest{Email: "user@example.com", Password: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got: %v", err)
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	svc := NewService(&stubAccounts{}, &stubSyncer{}, &stubVerifier{}, testSecret)

	_, err := svc.Login(context.Background(), LoginRequest{Email: "ghost@example.com", Password: "pw"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got: %v", err)
	}
}

func TestLogin_ArchivedAccount(t *testing.T) {
	archivedAt := time.Now().Add(-time.Hour)
	acc := &models.Account{
		ID:           uuid.New(),
		Email:        "user@example.com",
		PasswordHash: hashOf(t, "pw"),
		ArchivedAt:   &archivedAt,
	}
	accounts := &stubAccounts{byEmail: map[string]*models.Account{acc.Email: acc}}
	svc := NewService(accounts, &stubSyncer{}, &stubVerifier{}, testSecret)

	_, err := svc.Login(context.Background(), LoginRequest{Email: "user@example.com", Password: "pw"})
	if !errors.Is(err, ErrAccountArchived) {
		t.Fatalf("expected ErrAccountArchived, got: %v", err)
	}
}

func TestLogin_ExternalOnlyAccountHasNoPassword(t *testing.T) {
	acc := &models.Account{ID: uuid.New(), Email: "user@example.com"}
	accounts := &stubAccounts{byEmail: map[string]*models.Account{acc.Email: acc}}
	svc := NewService(accounts, &stubSyncer{}, &stubVerifier{}, testSecret)

	_, err := svc.Login(context.Background(), LoginRequest{Email: "user@example.com", Password: "anything"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// External login
// ---------------------------------------------------------------------------

func TestExternalLogin_PassesSubjectAndEmail(t *testing.T) {
	syncer := &stubSyncer{}
	verifier := &stubVerifier{identity: &VerifiedIdentity{SubjectID: "subject-1", Email: "idp@example.com"}}
	svc := NewService(&stubAccounts{}, syncer, verifier, testSecret)

	if _, err := svc.ExternalLogin(context.Background(), ExternalLoginRequest{IdentityToken: "token"}); err != nil {
		t.Fatalf("ExternalLogin: %v", err)
	}
	if syncer.req.ExternalSubjectID != "subject-1" {
		t.Errorf("subject: got %q, want subject-1", syncer.req.ExternalSubjectID)
	}
	if syncer.req.Email != "idp@example.com" {
		t.Errorf("email should fall back to the token's, got %q", syncer.req.Email)
	}
}

func TestExternalLogin_RequestEmailWins(t *testing.T) {
	syncer := &stubSyncer{}
	verifier := &stubVerifier{identity: &VerifiedIdentity{SubjectID: "subject-1", Email: "idp@example.com"}}
	svc := NewService(&stubAccounts{}, syncer, verifier, testSecret)

	if _, err := svc.ExternalLogin(context.Background(), ExternalLoginRequest{
		IdentityToken: "token",
		Email:         "chosen@example.com",
	}); err != nil {
		t.Fatalf("ExternalLogin: %v", err)
	}
	if syncer.req.Email != "chosen@example.com" {
		t.Errorf("client-supplied email should win, got %q", syncer.req.Email)
	}
}

func TestExternalLogin_BadToken(t *testing.T) {
	svc := NewService(&stubAccounts{}, &stubSyncer{}, &stubVerifier{err: errors.New("nope")}, testSecret)

	_, err := svc.ExternalLogin(context.Background(), ExternalLoginRequest{IdentityToken: "bad"})
	if !errors.Is(err, ErrInvalidIdentityToken) {
		t.Fatalf("expected ErrInvalidIdentityToken, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService(&stubAccounts{}, &stubSyncer{}, &stubVerifier{}, testSecret)
	acc := &models.Account{ID: uuid.New(), Email: "user@example.com", IsAdmin: true}

	token, err := svc.IssueToken(acc)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	id, claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if id != acc.ID {
		t.Errorf("subject: got %s, want %s", id, acc.ID)
	}
	if claims.Email != acc.Email || !claims.IsAdmin {
		t.Errorf("claims: %+v", claims)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	issuer := NewService(&stubAccounts{}, &stubSyncer{}, &stubVerifier{}, []byte("one-secret"))
	validator := NewService(&stubAccounts{}, &stubSyncer{}, &stubVerifier{}, []byte("another-secret"))

	token, err := issuer.IssueToken(&models.Account{ID: uuid.New()})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, _, err := validator.ValidateToken(token); err == nil {
		t.Error("token signed with a different secret should fail validation")
	}
}

// ---------------------------------------------------------------------------
// Claims verifier
// ---------------------------------------------------------------------------

func TestClaimsVerifier_RelayFallback(t *testing.T) {
	v := NewClaimsVerifier("relay.test")

	// Token with sub but no email claim (unsigned test token).
	withEmail := makeIdentityToken(t, "subject-1", "real@example.com")
	id, err := v.Verify(context.Background(), withEmail)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Email != "real@example.com" {
		t.Errorf("email: got %q", id.Email)
	}

	withoutEmail := makeIdentityToken(t, "subject-2", "")
	id, err = v.Verify(context.Background(), withoutEmail)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Email != "subject-2@relay.test" {
		t.Errorf("relay fallback: got %q, want subject-2@relay.test", id.Email)
	}
}

// makeIdentityToken builds a signed token with the given sub/email claims.
// The verifier only decodes claims, so the signing key is irrelevant.
func makeIdentityToken(t *testing.T, sub, email string) string {
	t.Helper()
	claims := jwt.MapClaims{}
	if sub != "" {
		claims["sub"] = sub
	}
	if email != "" {
		claims["email"] = email
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("irrelevant"))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestClaimsVerifier_RejectsMissingSubject(t *testing.T) {
	v := NewClaimsVerifier("")
	if _, err := v.Verify(context.Background(), makeIdentityToken(t, "", "x@example.com")); err == nil {
		t.Error("token without a subject should be rejected")
	}
}
