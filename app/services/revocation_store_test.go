package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/amirphl/orgsync/utils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisRevocations(t *testing.T) (RevocationStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return NewRedisRevocationStore(rc, "orgsync:"), mr
}

func TestRedisRevocationStore(t *testing.T) {
	store, mr := newRedisRevocations(t)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "jti-1", time.Minute))

	key := "orgsync:" + utils.RevokedTokenPrefix + "jti-1"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))

	tests := []struct {
		name    string
		tokenID string
		want    bool
	}{
		{"revoked", "jti-1", true},
		{"unknown", "jti-2", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.IsRevoked(ctx, tt.tokenID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	mr.FastForward(61 * time.Second)
	got, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, got, "entries past their ttl are forgotten")
}

func TestRedisRevocationStoreBacksTokenService(t *testing.T) {
	store, mr := newRedisRevocations(t)
	svc, err := NewTokenService(time.Hour, "test-issuer", "test-audience", false, "", "", testSecret, store)
	require.NoError(t, err)
	ctx := context.Background()

	token, _, err := svc.GenerateAccessToken(testSubject())
	require.NoError(t, err)
	claims, err := svc.ValidateAccessToken(ctx, token)
	require.NoError(t, err)

	require.NoError(t, svc.RevokeToken(ctx, token))
	ttl := mr.TTL("orgsync:" + utils.RevokedTokenPrefix + claims.TokenID)
	assert.True(t, ttl > 0 && ttl <= time.Hour, "revocation lives until the token expires, got %s", ttl)

	_, err = svc.ValidateAccessToken(ctx, token)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRedisRevocationStoreUnavailable(t *testing.T) {
	store, mr := newRedisRevocations(t)
	mr.Close()

	_, err := store.IsRevoked(context.Background(), "jti-1")
	assert.Error(t, err)
	assert.Error(t, store.Revoke(context.Background(), "jti-1", time.Minute))
}
