package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

//go:generate mockgen -source=cache.go -destination=cache_mock.go -package=core

func TestFireGuard_TryAcquire(t *testing.T) {
	t.Parallel()

	fireAt := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	wantKey := "fire:job-123:1787563800"

	tests := []struct {
		name    string
		setup   func(*MockCacheRepository)
		wantOwn bool
		wantErr bool
	}{
		{
			name: "first claim wins",
			setup: func(cache *MockCacheRepository) {
				cache.EXPECT().
					SetIfNotExists(gomock.Any(), wantKey, []byte("1"), 5*time.Minute).
					Return(true, nil)
			},
			wantOwn: true,
		},
		{
			name: "duplicate claim suppressed",
			setup: func(cache *MockCacheRepository) {
				cache.EXPECT().
					SetIfNotExists(gomock.Any(), wantKey, []byte("1"), 5*time.Minute).
					Return(false, nil)
			},
			wantOwn: false,
		},
		{
			name: "cache error still allows the fire",
			setup: func(cache *MockCacheRepository) {
				cache.EXPECT().
					SetIfNotExists(gomock.Any(), wantKey, []byte("1"), 5*time.Minute).
					Return(false, errors.New("redis error"))
			},
			wantOwn: true,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			cache := NewMockCacheRepository(ctrl)
			tt.setup(cache)

			guard := NewFireGuard(FireGuardOptions{
				Cache:  cache,
				Config: DefaultFireGuardConfig(),
			})

			own, err := guard.TryAcquire(context.Background(), "job-123", fireAt)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantOwn, own)
		})
	}
}

func TestFireGuard_NilCachePassesThrough(t *testing.T) {
	t.Parallel()

	guard := NewFireGuard(FireGuardOptions{})

	own, err := guard.TryAcquire(context.Background(), "job-123", time.Now())
	require.NoError(t, err)
	assert.True(t, own)

	require.NoError(t, guard.Release(context.Background(), "job-123", time.Now()))
}

func TestFireGuard_Release(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fireAt := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	cache := NewMockCacheRepository(ctrl)
	cache.EXPECT().Delete(gomock.Any(), "fire:job-123:1787563800").Return(true, nil)

	guard := NewFireGuard(FireGuardOptions{Cache: cache})
	require.NoError(t, guard.Release(context.Background(), "job-123", fireAt))
}

func TestFireGuard_KeyIsZoneIndependent(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	// Same instant expressed in two zones must claim the same key.
	utcFire := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	localFire := utcFire.In(chicago)

	cache := NewMockCacheRepository(ctrl)
	cache.EXPECT().
		SetIfNotExists(gomock.Any(), "fire:job-123:1787563800", gomock.Any(), gomock.Any()).
		Return(true, nil)
	cache.EXPECT().
		SetIfNotExists(gomock.Any(), "fire:job-123:1787563800", gomock.Any(), gomock.Any()).
		Return(false, nil)

	guard := NewFireGuard(FireGuardOptions{Cache: cache})

	own, err := guard.TryAcquire(context.Background(), "job-123", utcFire)
	require.NoError(t, err)
	assert.True(t, own)

	own, err = guard.TryAcquire(context.Background(), "job-123", localFire)
	require.NoError(t, err)
	assert.False(t, own)
}

func TestNewFireGuard_DefaultsTTL(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cache := NewMockCacheRepository(ctrl)
	cache.EXPECT().
		SetIfNotExists(gomock.Any(), gomock.Any(), gomock.Any(), 5*time.Minute).
		Return(true, nil)

	guard := NewFireGuard(FireGuardOptions{Cache: cache, Config: FireGuardConfig{TTL: 0}})

	_, err := guard.TryAcquire(context.Background(), "job-123", time.Now())
	require.NoError(t, err)
}
