package tokengate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/cartsync/internal/localstore"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func signed(t *testing.T, tokenType string, exp time.Time) string {
	t.Helper()
	claims := accessClaims{
		TokenType:        tokenType,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	require.NoError(t, err)
	return tok
}

func newGate(t *testing.T, kv localstore.KV) *Gate {
	t.Helper()
	g, err := New(kv, JWTClassifier{RejectExpired: true, Now: func() time.Time { return fixedNow }}, nil)
	require.NoError(t, err)
	return g
}

func TestJWTClassifier(t *testing.T) {
	c := JWTClassifier{RejectExpired: true, Now: func() time.Time { return fixedNow }}

	require.True(t, c.IsAccessToken(signed(t, "access", fixedNow.Add(time.Hour))))
	require.False(t, c.IsAccessToken(signed(t, "refresh", fixedNow.Add(time.Hour))))
	require.False(t, c.IsAccessToken(signed(t, "access", fixedNow.Add(-time.Minute))))
	require.True(t, c.IsAccessToken("opaque-session-token"))
	require.False(t, c.IsAccessToken("a.b.c"), "three segments that do not parse")
	require.False(t, c.IsAccessToken(""))

	lenient := JWTClassifier{}
	require.True(t, lenient.IsAccessToken(signed(t, "access", time.Now().Add(-time.Hour))))
}

func TestGateChecksKeysInOrderAndStripsBearer(t *testing.T) {
	ctx := context.Background()
	mem := localstore.NewMemory()
	g := newGate(t, mem)

	require.False(t, g.IsAuthenticated(ctx))

	// a refresh token stored under an access key does not open the gate
	require.NoError(t, mem.Set(ctx, "access", signed(t, "refresh", fixedNow.Add(time.Hour))))
	require.False(t, g.IsAuthenticated(ctx))

	good := signed(t, "access", fixedNow.Add(time.Hour))
	require.NoError(t, mem.Set(ctx, "auth_token", "Bearer "+good))
	tok, ok := g.AccessToken(ctx)
	require.True(t, ok)
	require.Equal(t, good, tok)

	require.NoError(t, mem.Set(ctx, "access_token", "   "))
	require.True(t, g.IsAuthenticated(ctx))
}

func TestGateCredentialsLifecycle(t *testing.T) {
	ctx := context.Background()
	mem := localstore.NewMemory()
	g := newGate(t, mem)

	require.Error(t, g.SetCredentials(ctx, "Bearer  ", ""))

	access := signed(t, "access", fixedNow.Add(time.Hour))
	require.NoError(t, g.SetCredentials(ctx, "Bearer "+access, "ref"))
	snap := mem.Snapshot()
	require.Equal(t, access, snap["access"])
	require.Equal(t, access, snap["access_token"])
	require.Equal(t, access, snap["token"])
	require.Equal(t, "ref", snap["refresh"])
	require.True(t, g.IsAuthenticated(ctx))

	require.NoError(t, mem.Set(ctx, "refresh_token", "x"))
	require.NoError(t, g.ClearCredentials(ctx))
	require.Empty(t, mem.Snapshot())
	require.False(t, g.IsAuthenticated(ctx))
}

type brokenKV struct{ localstore.KV }

func (brokenKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("storage disabled")
}

func TestGateTreatsStoreFailureAsClosed(t *testing.T) {
	g := newGate(t, brokenKV{KV: localstore.NewMemory()})
	require.False(t, g.IsAuthenticated(context.Background()))
}

func TestNewDefaults(t *testing.T) {
	_, err := New(nil, nil, nil)
	require.Error(t, err)

	g, err := New(localstore.NewMemory(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, g.kv.Set(context.Background(), "token", "anything"))
	require.True(t, g.IsAuthenticated(context.Background()))
}

func TestStripBearer(t *testing.T) {
	require.Equal(t, "abc", StripBearer(" Bearer abc "))
	require.Equal(t, "abc", StripBearer("bearer abc"))
	require.Equal(t, "Bearerabc", StripBearer("Bearerabc"))
	require.Equal(t, "", StripBearer("Bearer "))
}
