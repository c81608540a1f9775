// Package oidc verifies ID tokens presented by administrators. Sign-in itself is
// handled by the organisation's SSO in front of the portal; this package only
// checks the resulting token against the issuer's published keys and derives the
// admin identity recorded in the audit log.
package oidc

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/aspr-photos/intake/internal/config"
)

// Admin is the identity extracted from a verified ID token.
type Admin struct {
	Subject string
	Email   string
	Name    string
}

// AdminVerifier validates admin ID tokens.
type AdminVerifier struct {
	verifier       *oidc.IDTokenVerifier
	allowedDomains []string
}

// NewAdminVerifier performs OIDC discovery against cfg.IssuerURL. ctx bounds the
// discovery request.
func NewAdminVerifier(ctx context.Context, cfg *config.OIDCConfig) (*AdminVerifier, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("OIDC is not enabled")
	}
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("OIDC client ID is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	return newAdminVerifier(provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}), cfg.AllowedDomains), nil
}

func newAdminVerifier(v *oidc.IDTokenVerifier, domains []string) *AdminVerifier {
	normalized := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
		if d != "" {
			normalized = append(normalized, d)
		}
	}
	return &AdminVerifier{verifier: v, allowedDomains: normalized}
}

// Verify checks rawIDToken and returns the admin it identifies.
func (a *AdminVerifier) Verify(ctx context.Context, rawIDToken string) (*Admin, error) {
	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	admin, err := extractAdmin(idToken)
	if err != nil {
		return nil, err
	}
	if !a.domainAllowed(admin.Email) {
		return nil, fmt.Errorf("email domain not permitted for admin access")
	}
	return admin, nil
}

func (a *AdminVerifier) domainAllowed(email string) bool {
	if len(a.allowedDomains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, d := range a.allowedDomains {
		if domain == d {
			return true
		}
	}
	return false
}

// extractAdmin reads the identity claims. Entra ID omits "email" for some
// account types and carries the address in preferred_username instead.
func extractAdmin(idToken *oidc.IDToken) (*Admin, error) {
	var claims struct {
		Sub               string `json:"sub"`
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
		Name              string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	if claims.Sub == "" {
		return nil, fmt.Errorf("ID token missing 'sub' claim")
	}
	email := claims.Email
	if email == "" && strings.Contains(claims.PreferredUsername, "@") {
		email = claims.PreferredUsername
	}
	if email == "" {
		return nil, fmt.Errorf("ID token missing 'email' claim")
	}
	if claims.Name == "" {
		claims.Name = email
	}

	return &Admin{Subject: claims.Sub, Email: email, Name: claims.Name}, nil
}
