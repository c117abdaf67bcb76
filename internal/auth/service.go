package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/haulmark/backoffice/internal/rbac"
	"github.com/haulmark/backoffice/internal/shared"
)

// ErrUnauthenticated covers missing, invalid, expired or revoked credentials
// as well as inactive or unknown identities.
var ErrUnauthenticated = errors.New("auth: authentication required")

// IdentityResolver loads a fresh identity for an authenticated user id.
type IdentityResolver interface {
	Identity(ctx context.Context, id int64) (*rbac.Identity, error)
}

// Sessions tracks revocable token sessions.
type Sessions interface {
	Register(ctx context.Context, sessionID string, userID int64, ttl time.Duration) error
	Owner(ctx context.Context, sessionID string) (int64, error)
	Revoke(ctx context.Context, sessionID string) error
}

// Service wraps authentication business rules. It is the single place that
// turns a bearer credential into an identity, for HTTP and realtime alike.
type Service struct {
	repo       Repository
	tokens     *TokenIssuer
	sessions   Sessions
	identities IdentityResolver
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *TokenIssuer, sessions Sessions, identities IdentityResolver) *Service {
	return &Service{repo: repo, tokens: tokens, sessions: sessions, identities: identities}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates credentials and issues a registered bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (Token, *User, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return Token{}, nil, err
	}
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return Token{}, nil, err
	}
	if err := s.sessions.Register(ctx, token.SessionID, user.ID, s.tokens.TTL()); err != nil {
		return Token{}, nil, fmt.Errorf("auth: register session: %w", err)
	}
	return token, user, nil
}

// Logout revokes the session behind raw.
func (s *Service) Logout(ctx context.Context, raw string) error {
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return err
	}
	return s.sessions.Revoke(ctx, claims.SessionID)
}

// Resolve verifies a bearer credential and loads the identity behind it.
func (s *Service) Resolve(ctx context.Context, raw string) (*rbac.Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrUnauthenticated
	}
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return nil, err
	}
	owner, err := s.sessions.Owner(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if owner != claims.UserID {
		return nil, ErrUnauthenticated
	}
	identity, err := s.identities.Identity(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	if identity == nil || !identity.IsActive {
		return nil, ErrUnauthenticated
	}
	return identity, nil
}
