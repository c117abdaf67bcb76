package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("0123456789abcdef0123456789abcdef", "haulmark", time.Hour)
	token, err := issuer.Issue(42)
	require.NoError(t, err)

	claims, err := issuer.Verify(token.Value)
	require.NoError(t, err)
	require.Equal(t, int64(42), claims.UserID)
	require.Equal(t, token.SessionID, claims.SessionID)
}

func TestTokenRejectsWrongSecretAndIssuer(t *testing.T) {
	token, err := NewTokenIssuer("0123456789abcdef0123456789abcdef", "haulmark", time.Hour).Issue(1)
	require.NoError(t, err)

	_, err = NewTokenIssuer("another-secret-another-secret-000", "haulmark", time.Hour).Verify(token.Value)
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = NewTokenIssuer("0123456789abcdef0123456789abcdef", "someone-else", time.Hour).Verify(token.Value)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestTokenExpiry(t *testing.T) {
	issuer := NewTokenIssuer("0123456789abcdef0123456789abcdef", "haulmark", time.Minute)
	token, err := issuer.Issue(1)
	require.NoError(t, err)

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = issuer.Verify(token.Value)
	require.ErrorIs(t, err, ErrUnauthenticated)
}
