package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/typeflow/backend/internal/entitlement"
	"github.com/typeflow/backend/internal/models"
	"github.com/typeflow/backend/internal/repository"
)

var (
	// ErrInvalidCredentials is returned for a bad email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateEmail is returned when signup races another signup for the same email.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrAccountArchived is returned when login hits a soft-deleted account.
	// The caller should sign up again to trigger the restore path.
	ErrAccountArchived = errors.New("account archived")
	// ErrInvalidIdentityToken is returned for an unusable external identity token.
	ErrInvalidIdentityToken = errors.New("invalid identity token")
)

const tokenTTL = 30 * 24 * time.Hour

// VerifiedIdentity is what the identity provider vouches for.
type VerifiedIdentity struct {
	SubjectID string
	Email     string
}

// IdentityVerifier checks an external-IdP identity token.
type IdentityVerifier interface {
	Verify(ctx context.Context, identityToken string) (*VerifiedIdentity, error)
}

// AccountStore is the account repository surface auth needs.
type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	TouchLastActive(ctx context.Context, id uuid.UUID) error
}

// Syncer runs entitlement sync once per login/signup.
type Syncer interface {
	Sync(ctx context.Context, req entitlement.SyncRequest) (*entitlement.SyncResult, error)
}

// Session is the outcome of a successful login or signup.
type Session struct {
	Account       *models.Account
	Token         string
	Created       bool
	Restored      bool
	MergedCredits int
}

// SignupRequest is an email/password signup. IdentityToken, when present, is
// a verified external-identity token used only for free-grant eligibility.
type SignupRequest struct {
	Email             string
	Password          string
	IdentityToken     string
	DeviceID          string
	LocalBonusCredits int
	LocalSub          *entitlement.LocalSubscription
}

// LoginRequest is an email/password login with optional local state to merge.
type LoginRequest struct {
	Email             string
	Password          string
	DeviceID          string
	LocalBonusCredits int
	LocalSub          *entitlement.LocalSubscription
}

// ExternalLoginRequest is a login/signup via an external-IdP identity token.
// Email covers IdPs that only include the address in the first assertion.
type ExternalLoginRequest struct {
	IdentityToken     string
	Email             string
	DeviceID          string
	LocalBonusCredits int
	LocalSub          *entitlement.LocalSubscription
}

type Claims struct {
	jwt.RegisteredClaims
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

type Service struct {
	accounts AccountStore
	sync     Syncer
	verifier IdentityVerifier
	secret   []byte
}

func NewService(accounts AccountStore, sync Syncer, verifier IdentityVerifier, secret []byte) *Service {
	return &Service{accounts: accounts, sync: sync, verifier: verifier, secret: secret}
}

// Signup creates (or restores) an account for an email/password identity and
// runs entitlement sync.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	hashStr := string(hash)

	// An accompanying identity token only feeds the free-grant eligibility
	// rule; a bad one just means no grant.
	verifiedEmail := ""
	if req.IdentityToken != "" {
		if id, err := s.verifier.Verify(ctx, req.IdentityToken); err == nil {
			verifiedEmail = id.Email
		}
	}

	res, err := s.sync.Sync(ctx, entitlement.SyncRequest{
		Email:             req.Email,
		PasswordHash:      &hashStr,
		VerifiedEmail:     verifiedEmail,
		DeviceID:          req.DeviceID,
		LocalBonusCredits: req.LocalBonusCredits,
		LocalSub:          req.LocalSub,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	// A plain signup against a live account is a duplicate; restore is the
	// one case where an existing match is expected.
	if !res.Created && !res.Restored {
		return nil, ErrDuplicateEmail
	}
	return s.sessionFrom(res)
}

// Login authenticates an email/password identity and runs entitlement sync.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	acc, err := s.accounts.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if acc.Archived() {
		return nil, ErrAccountArchived
	}
	if acc.PasswordHash == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*acc.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	res, err := s.sync.Sync(ctx, entitlement.SyncRequest{
		Email:             req.Email,
		DeviceID:          req.DeviceID,
		LocalBonusCredits: req.LocalBonusCredits,
		LocalSub:          req.LocalSub,
	})
	if err != nil {
		return nil, err
	}
	if err := s.accounts.TouchLastActive(ctx, res.Account.ID); err != nil {
		return nil, err
	}
	return s.sessionFrom(res)
}

// ExternalLogin verifies an identity token and logs in or signs up the
// subject, restoring an archived match within its window.
func (s *Service) ExternalLogin(ctx context.Context, req ExternalLoginRequest) (*Session, error) {
	id, err := s.verifier.Verify(ctx, req.IdentityToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentityToken, err)
	}
	email := req.Email
	if email == "" {
		email = id.Email
	}
	res, err := s.sync.Sync(ctx, entitlement.SyncRequest{
		Email:             email,
		ExternalSubjectID: id.SubjectID,
		DeviceID:          req.DeviceID,
		LocalBonusCredits: req.LocalBonusCredits,
		LocalSub:          req.LocalSub,
	})
	if err != nil {
		return nil, err
	}
	return s.sessionFrom(res)
}

func (s *Service) sessionFrom(res *entitlement.SyncResult) (*Session, error) {
	token, err := s.IssueToken(res.Account)
	if err != nil {
		return nil, err
	}
	return &Session{
		Account:       res.Account,
		Token:         token,
		Created:       res.Created,
		Restored:      res.Restored,
		MergedCredits: res.MergedCredits,
	}, nil
}

// IssueToken signs a bearer token for the account.
func (s *Service) IssueToken(acc *models.Account) (string, error) {
	now := time.Now()
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acc.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email:   acc.Email,
		IsAdmin: acc.IsAdmin,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

// ValidateToken parses and verifies a bearer token.
func (s *Service) ValidateToken(tokenString string) (uuid.UUID, *Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, nil, err
	}
	c, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return uuid.Nil, nil, errors.New("invalid token")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return id, c, nil
}
