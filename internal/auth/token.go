// Package auth provides the authentication primitives used by the intake API:
// bearer tokens for field team sessions, PIN generation and hashing, and the
// static admin token accepted from automation. See internal/middleware/auth.go
// for the request-time checks built on these.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	// AdminTokenLength is the number of random bytes in a generated admin token.
	AdminTokenLength = 32

	adminTokenPrefix = "adm"
)

// GenerateAdminToken creates a random token suitable for auth.admin_token.
func GenerateAdminToken() (string, error) {
	randomBytes := make([]byte, AdminTokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return adminTokenPrefix + "_" + base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// CompareAdminToken reports whether provided equals expected in constant time.
// An empty expected token never matches.
func CompareAdminToken(provided, expected string) bool {
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// ExtractBearerToken extracts the token from an Authorization header.
// Expected format: "Bearer eyJhbGciOi..."
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}
	return token, nil
}
