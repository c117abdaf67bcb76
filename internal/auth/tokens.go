package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// TokenIssuer signs and verifies HS256 bearer tokens. The subject carries the
// user id and the JWT id carries the revocable session id.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(secret, issuer string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// TTL exposes the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue signs a token for userID.
func (t *TokenIssuer) Issue(userID int64) (Token, error) {
	now := t.now().UTC()
	sessionID := uuid.NewString()
	expires := now.Add(t.ttl)
	tok, err := jwt.NewBuilder().
		Issuer(t.issuer).
		Subject(strconv.FormatInt(userID, 10)).
		JwtID(sessionID).
		IssuedAt(now).
		Expiration(expires).
		Build()
	if err != nil {
		return Token{}, fmt.Errorf("auth: build token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, t.secret))
	if err != nil {
		return Token{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return Token{Value: string(signed), SessionID: sessionID, ExpiresAt: expires}, nil
}

// Verify checks signature, issuer and expiry and returns the claims.
func (t *TokenIssuer) Verify(raw string) (Claims, error) {
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, t.secret),
		jwt.WithValidate(true),
		jwt.WithIssuer(t.issuer),
		jwt.WithClock(jwt.ClockFunc(t.now)),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	userID, err := strconv.ParseInt(tok.Subject(), 10, 64)
	if err != nil || userID <= 0 || tok.JwtID() == "" {
		return Claims{}, ErrUnauthenticated
	}
	return Claims{UserID: userID, SessionID: tok.JwtID(), ExpiresAt: tok.Expiration()}, nil
}
