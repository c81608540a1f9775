// jwt.go issues and verifies the bearer tokens handed to field teams after a
// successful PIN validation. Tokens are HS256 and bound to one upload session.

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "photo-intake"

var (
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// SessionClaims are the claims carried by a field team bearer token.
type SessionClaims struct {
	SessionID string `json:"sessionId"`
	TeamName  string `json:"teamName"`
	jwt.RegisteredClaims
}

// isDevMode reports whether the process runs in a development environment.
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")
	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

func generateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ValidateJWTSecret checks that INTAKE_JWT_SECRET is configured. Outside dev mode a
// missing secret is fatal; in dev mode a random secret is generated, which means
// tokens do not survive a restart. Call once at startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv("INTAKE_JWT_SECRET")
		if secret == "" {
			if !isDevMode() {
				jwtSecretErr = errors.New("INTAKE_JWT_SECRET environment variable is required in production; " +
					"generate one with: keygen secret")
				return
			}
			generated, err := generateRandomSecret()
			if err != nil {
				jwtSecretErr = fmt.Errorf("generate development JWT secret: %w", err)
				return
			}
			slog.Warn("INTAKE_JWT_SECRET not set; using an auto-generated secret, tokens will not survive restarts")
			jwtSecret = generated
			return
		}
		if len(secret) < 32 {
			jwtSecretErr = errors.New("INTAKE_JWT_SECRET must be at least 32 characters")
			return
		}
		jwtSecret = secret
	})
	return jwtSecretErr
}

// GetJWTSecret returns the validated secret, validating lazily if needed.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateSessionToken issues a bearer token for sessionID valid for ttl.
func GenerateSessionToken(sessionID, teamName string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := &SessionClaims{
		SessionID: sessionID,
		TeamName:  teamName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   sessionID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(GetJWTSecret()))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ValidateSessionToken parses tokenString and returns its claims.
func ValidateSessionToken(tokenString string) (*SessionClaims, error) {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if claims.SessionID == "" {
		return nil, errors.New("token missing session id")
	}
	return claims, nil
}
