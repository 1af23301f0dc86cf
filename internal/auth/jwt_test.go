package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := New("test-secret", "HS256", 30, 7)
	require.NoError(t, err)
	return s
}

func TestNewRejectsNonHMAC(t *testing.T) {
	_, err := New("secret", "RS256", 30, 7)
	require.Error(t, err)
	_, err = New("secret", "NOPE", 30, 7)
	require.Error(t, err)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	s := newTestService(t)
	token, err := s.MintAccessToken("user-123", "admin")
	require.NoError(t, err)

	sub, role, err := s.ParseAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-123", sub)
	require.Equal(t, "admin", role)
}

func TestParseAccessTokenWrongSecret(t *testing.T) {
	s := newTestService(t)
	other, err := New("different-secret", "HS256", 30, 7)
	require.NoError(t, err)

	token, err := s.MintAccessToken("user-123", "user")
	require.NoError(t, err)
	_, _, err = other.ParseAccessToken(token)
	require.Error(t, err)
}

func TestParseAccessTokenExpired(t *testing.T) {
	s, err := New("test-secret", "HS256", -1, 7)
	require.NoError(t, err)
	token, err := s.MintAccessToken("user-123", "user")
	require.NoError(t, err)
	_, _, err = s.ParseAccessToken(token)
	require.Error(t, err)
}

func TestParseAccessTokenGarbage(t *testing.T) {
	s := newTestService(t)
	_, _, err := s.ParseAccessToken("not.a.token")
	require.Error(t, err)
}

func TestValidateWSToken(t *testing.T) {
	s := newTestService(t)
	token, err := s.MintAccessToken("user-123", "user")
	require.NoError(t, err)

	sub, role := s.ValidateWSToken(token)
	require.Equal(t, "user-123", sub)
	require.Equal(t, "user", role)

	sub, role = s.ValidateWSToken("")
	require.Empty(t, sub)
	require.Empty(t, role)

	sub, _ = s.ValidateWSToken("garbage")
	require.Empty(t, sub)
}

func TestPasswordPool(t *testing.T) {
	p := NewPasswordPool(2)
	ctx := context.Background()

	hash, err := p.Hash(ctx, "hunter22")
	require.NoError(t, err)
	require.NotEqual(t, "hunter22", hash)

	ok, err := p.Verify(ctx, "hunter22", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = p.Verify(ctx, "wrong", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashTokenStable(t *testing.T) {
	raw := GenerateRefreshToken()
	require.NotEmpty(t, raw)
	require.Equal(t, HashToken(raw), HashToken(raw))
	require.NotEqual(t, HashToken(raw), HashToken(raw+"x"))
	require.Len(t, HashToken(raw), 64)
}
