package entitlements

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/chloecircle/chloecircle/internal/pkg/cache"
)

func TestAccessTierFor(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-time.Second)

	tests := []struct {
		name string
		user *models.User
		want Tier
	}{
		{name: "anonymous", user: nil, want: TierFree},
		{name: "no subscription", user: &models.User{Role: models.RoleUser, SubscriptionStatus: models.SubscriptionNone}, want: TierFree},
		{name: "lifetime", user: &models.User{Role: models.RoleUser, SubscriptionStatus: models.SubscriptionLifetime}, want: TierPremium},
		{name: "monthly active", user: &models.User{Role: models.RoleUser, SubscriptionStatus: models.SubscriptionMonthly, SubscriptionExpires: &future}, want: TierPremium},
		{name: "yearly expired", user: &models.User{Role: models.RoleUser, SubscriptionStatus: models.SubscriptionYearly, SubscriptionExpires: &past}, want: TierFree},
		{name: "monthly without expiry", user: &models.User{Role: models.RoleUser, SubscriptionStatus: models.SubscriptionMonthly}, want: TierFree},
		{name: "admin", user: &models.User{Role: models.RoleAdmin}, want: TierStaff},
		{name: "chloe", user: &models.User{Role: models.RoleChloe, SubscriptionStatus: models.SubscriptionNone}, want: TierStaff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AccessTierFor(tt.user, now))
		})
	}
}

func TestTier_CanRead(t *testing.T) {
	free := &models.Post{Premium: false}
	premium := &models.Post{Premium: true}

	assert.True(t, TierFree.CanRead(free))
	assert.False(t, TierFree.CanRead(premium))
	assert.True(t, TierPremium.CanRead(premium))
	assert.True(t, TierStaff.CanRead(premium))
}

type stubUsers struct {
	users map[uint]*models.User
	calls int
}

func (s *stubUsers) GetByID(id uint) (*models.User, error) {
	s.calls++
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, errors.New("record not found")
}

func TestService_TierForUser(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	tiers := cache.NewAccessTierCache(rdb, time.Hour)

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	expires := now.Add(10 * time.Minute)
	users := &stubUsers{users: map[uint]*models.User{
		1: {ID: 1, Role: models.RoleUser, SubscriptionStatus: models.SubscriptionMonthly, SubscriptionExpires: &expires},
	}}
	svc := NewService(users, tiers)
	svc.now = func() time.Time { return now }

	tier, err := svc.TierForUser(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, TierFree, tier)
	assert.Zero(t, users.calls)

	tier, err = svc.TierForUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, TierPremium, tier)
	assert.Equal(t, 1, users.calls)
	// The cached tier must not outlive the subscription.
	assert.Equal(t, 10*time.Minute, mr.TTL(cache.AccessTierKey(1)))

	tier, err = svc.TierForUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, TierPremium, tier)
	assert.Equal(t, 1, users.calls)

	require.NoError(t, tiers.InvalidateAccessTier(ctx, 1))
	users.users[1].SubscriptionStatus = models.SubscriptionNone
	tier, err = svc.TierForUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, TierFree, tier)
	assert.Equal(t, 2, users.calls)

	_, err = svc.TierForUser(ctx, 99)
	assert.Error(t, err)
}

func TestService_CacheDownFallsBackToDatabase(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	users := &stubUsers{users: map[uint]*models.User{2: {ID: 2, Role: models.RoleUser, SubscriptionStatus: models.SubscriptionLifetime}}}
	tier, err := NewService(users, cache.NewAccessTierCache(rdb, time.Minute)).TierForUser(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, TierPremium, tier)
}
