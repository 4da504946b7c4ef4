package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimsVerifier extracts the subject and email claims from an external-IdP
// identity token. When the email claim is withheld (the IdP only sends it on
// first sign-in) a private-relay address derived from the subject is used so
// the account still gets a stable, unique email.
//
// TODO: verify the token signature against the IdP's published JWKS instead
// of trusting the decoded claims.
type ClaimsVerifier struct {
	relayDomain string
}

func NewClaimsVerifier(relayDomain string) *ClaimsVerifier {
	if relayDomain == "" {
		relayDomain = "privaterelay.example.com"
	}
	return &ClaimsVerifier{relayDomain: relayDomain}
}

func (v *ClaimsVerifier) Verify(_ context.Context, identityToken string) (*VerifiedIdentity, error) {
	var claims jwt.MapClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(identityToken, &claims); err != nil {
		return nil, err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("identity token has no subject")
	}
	email, _ := claims["email"].(string)
	if email == "" {
		email = fmt.Sprintf("%s@%s", sub, v.relayDomain)
	}
	return &VerifiedIdentity{SubjectID: sub, Email: email}, nil
}
