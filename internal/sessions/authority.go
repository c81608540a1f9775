// Package sessions issues and verifies the PIN-bearing upload sessions used by
// field teams.
//
// PINs are stored only as bcrypt hashes, so there is no index to look a PIN up
// by. Validation loads every live session and compares the candidate PIN against
// each hash in turn; the first match wins. The scan is bounded by the number of
// live sessions, which stays small because sessions expire after SessionTTL.
package sessions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aspr-photos/intake/internal/apierrors"
	"github.com/aspr-photos/intake/internal/auth"
	"github.com/aspr-photos/intake/internal/db/models"
	"github.com/aspr-photos/intake/internal/telemetry"
	"github.com/aspr-photos/intake/internal/validation"
)

// ErrInvalidPIN is the cause behind every failed PIN validation. Unknown,
// expired and revoked PINs are indistinguishable to the caller.
var ErrInvalidPIN = errors.New("invalid or expired PIN")

// invalidPINMessage is the only message a failed validation ever shows.
const invalidPINMessage = "Invalid or expired PIN"

// Store is the persistence the Authority needs. *repositories.SessionRepository
// satisfies it.
type Store interface {
	Create(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	ListLive(ctx context.Context, now time.Time) ([]models.Session, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) (bool, error)
	IncrementUploads(ctx context.Context, id string) error
	ListSummaries(ctx context.Context) ([]models.SessionSummary, error)
}

// Options tunes the Authority. Zero values take the defaults below.
type Options struct {
	BcryptCost int
	SessionTTL time.Duration
	TokenTTL   time.Duration
}

const (
	DefaultBcryptCost = 12
	DefaultSessionTTL = 48 * time.Hour
	DefaultTokenTTL   = 24 * time.Hour
)

// Authority creates, validates, revokes and reactivates upload sessions.
type Authority struct {
	store      Store
	cost       int
	sessionTTL time.Duration
	tokenTTL   time.Duration
	now        func() time.Time
}

// NewAuthority builds an Authority over store.
func NewAuthority(store Store, opts Options) *Authority {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = DefaultBcryptCost
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	return &Authority{
		store:      store,
		cost:       opts.BcryptCost,
		sessionTTL: opts.SessionTTL,
		tokenTTL:   opts.TokenTTL,
		now:        time.Now,
	}
}

// Created is returned once by Create. PIN is the only copy of the plaintext.
type Created struct {
	ID        string    `json:"id"`
	TeamName  string    `json:"teamName"`
	PIN       string    `json:"pin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Validated is the result of a successful PIN validation.
type Validated struct {
	SessionID string `json:"sessionId"`
	TeamName  string `json:"teamName"`
	Token     string `json:"token"`
}

// Create issues a new session for teamName and returns its plaintext PIN.
func (a *Authority) Create(ctx context.Context, teamName string) (*Created, error) {
	name, err := validation.NormalizeTeamName(teamName)
	if err != nil {
		return nil, err
	}

	pin, err := auth.GeneratePIN()
	if err != nil {
		return nil, apierrors.Internal("generate PIN", err)
	}
	hash, err := auth.HashPIN(pin, a.cost)
	if err != nil {
		return nil, apierrors.Internal("hash PIN", err)
	}

	now := a.now().UTC()
	s := &models.Session{
		ID:        uuid.New().String(),
		PinHash:   hash,
		TeamName:  name,
		CreatedAt: now,
		ExpiresAt: now.Add(a.sessionTTL),
		IsActive:  true,
	}
	if err := a.store.Create(ctx, s); err != nil {
		return nil, apierrors.Internal("create session", err)
	}

	return &Created{ID: s.ID, TeamName: s.TeamName, PIN: pin, ExpiresAt: s.ExpiresAt}, nil
}

// Validate checks pin against every live session and issues a bearer token for
// the first match.
func (a *Authority) Validate(ctx context.Context, pin string) (*Validated, error) {
	if err := validation.ValidatePIN(pin); err != nil {
		return nil, err
	}

	now := a.now()
	live, err := a.store.ListLive(ctx, now)
	if err != nil {
		return nil, apierrors.Internal("list live sessions", err)
	}

	match := a.findMatch(live, pin, now)
	if match == nil {
		telemetry.PINValidationsTotal.WithLabelValues("failure").Inc()
		return nil, invalidPIN()
	}

	if err := a.store.TouchLastUsed(ctx, match.ID, now.UTC()); err != nil {
		slog.Warn("failed to record session use", "session_id", match.ID, "error", err)
	}

	token, err := auth.GenerateSessionToken(match.ID, match.TeamName, a.tokenTTL)
	if err != nil {
		return nil, apierrors.Internal("issue session token", err)
	}
	telemetry.PINValidationsTotal.WithLabelValues("success").Inc()

	return &Validated{SessionID: match.ID, TeamName: match.TeamName, Token: token}, nil
}

// findMatch compares pin against each candidate hash. Candidates are rechecked
// for liveness so a stale row from the store can never authenticate.
func (a *Authority) findMatch(candidates []models.Session, pin string, now time.Time) *models.Session {
	for i := range candidates {
		s := &candidates[i]
		if !s.IsLive(now) {
			continue
		}
		ok, err := auth.ComparePIN(s.PinHash, pin)
		if err != nil {
			slog.Error("corrupt PIN hash", "session_id", s.ID, "error", err)
			continue
		}
		if ok {
			return s
		}
	}
	return nil
}

// Authenticate resolves a bearer token to its session, rejecting tokens whose
// session has since been revoked or has expired.
func (a *Authority) Authenticate(ctx context.Context, token string) (*models.Session, error) {
	claims, err := auth.ValidateSessionToken(token)
	if err != nil {
		return nil, apierrors.Authentication("Invalid or expired session")
	}

	s, err := a.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, apierrors.Internal("load session", err)
	}
	if s == nil || !s.IsLive(a.now()) {
		return nil, apierrors.Authentication("Invalid or expired session")
	}
	return s, nil
}

// Revoke deactivates a session. Existing tokens stop working immediately.
func (a *Authority) Revoke(ctx context.Context, id string) (*models.Session, error) {
	s, err := a.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := a.store.SetActive(ctx, id, false); err != nil {
		return nil, apierrors.Internal("revoke session", err)
	}
	s.IsActive = false
	return s, nil
}

// Reactivate re-enables a revoked session. Expiry is immutable, so an expired
// session cannot be reactivated.
func (a *Authority) Reactivate(ctx context.Context, id string) (*models.Session, error) {
	s, err := a.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.now().Before(s.ExpiresAt) {
		return nil, apierrors.Validation("Cannot reactivate an expired session")
	}
	if _, err := a.store.SetActive(ctx, id, true); err != nil {
		return nil, apierrors.Internal("reactivate session", err)
	}
	s.IsActive = true
	return s, nil
}

// List returns every session with its status and photo counters.
func (a *Authority) List(ctx context.Context) ([]models.SessionSummary, error) {
	rows, err := a.store.ListSummaries(ctx)
	if err != nil {
		return nil, apierrors.Internal("list sessions", err)
	}
	return rows, nil
}

// RecordUpload bumps the session's upload counter. Failures are logged only;
// the photo is already durable.
func (a *Authority) RecordUpload(ctx context.Context, id string) {
	if err := a.store.IncrementUploads(ctx, id); err != nil {
		slog.Warn("failed to increment session upload count", "session_id", id, "error", err)
	}
}

func (a *Authority) load(ctx context.Context, id string) (*models.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apierrors.NotFound("Session not found")
	}
	s, err := a.store.GetByID(ctx, id)
	if err != nil {
		return nil, apierrors.Internal("load session", err)
	}
	if s == nil {
		return nil, apierrors.NotFound("Session not found")
	}
	return s, nil
}

func invalidPIN() error {
	return &apierrors.Error{
		Kind:    apierrors.KindAuthentication,
		Message: invalidPINMessage,
		Err:     ErrInvalidPIN,
	}
}

