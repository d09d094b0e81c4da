package accountreg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialscrape/engine/pkg/dbx"
)

func newTestRegistry(t *testing.T, accounts []dbx.Account) (*Registry, *dbx.InMemoryAccountRepository) {
	t.Helper()
	repo := dbx.NewInMemoryAccountRepository(accounts)
	reg := New(repo, 5, 15*time.Minute, 60*time.Minute)
	_, err := reg.LoadActive(context.Background())
	require.NoError(t, err)
	return reg, repo
}

func TestNext_PrefersHealthiestWhenAboveAverageByTwenty(t *testing.T) {
	reg, _ := newTestRegistry(t, []dbx.Account{
		{ID: "a", HealthScore: 90},
		{ID: "b", HealthScore: 40},
	})
	acc, ok := reg.Next(time.Now())
	require.True(t, ok)
	assert.Equal(t, "a", acc.ID)
}

func TestNext_FallsBackToLeastRecentlyUsedWhenClose(t *testing.T) {
	reg, _ := newTestRegistry(t, []dbx.Account{
		{ID: "a", HealthScore: 60},
		{ID: "b", HealthScore: 55},
	})
	now := time.Now()
	reg.RecordSuccess(context.Background(), "a", 10, now)
	// "b" has never been used, so it is the LRU choice once scores are close.
	acc, ok := reg.Next(now.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, "b", acc.ID)
}

func TestNext_ExcludesSuspendedAndCoolingDown(t *testing.T) {
	future := time.Now().Add(time.Hour)
	reg, _ := newTestRegistry(t, []dbx.Account{
		{ID: "suspended", Status: "suspended", HealthScore: 100},
		{ID: "cooling", HealthScore: 100, CooldownUntil: &future},
		{ID: "ok", HealthScore: 50},
	})
	acc, ok := reg.Next(time.Now())
	require.True(t, ok)
	assert.Equal(t, "ok", acc.ID)
}

func TestRecordFailure_SuspendsOnTerminalSignal(t *testing.T) {
	reg, repo := newTestRegistry(t, []dbx.Account{{ID: "a", HealthScore: 80}})
	reg.RecordFailure(context.Background(), "a", "account_suspended", time.Now())

	accounts, err := repo.LoadActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts, "a suspended account must not be selectable")
}

func TestRecordFailure_CooldownAfterConsecutiveThreshold(t *testing.T) {
	reg, _ := newTestRegistry(t, []dbx.Account{{ID: "a", HealthScore: 80}})
	now := time.Now()
	for i := 0; i < 5; i++ {
		reg.RecordFailure(context.Background(), "a", "", now)
	}
	_, ok := reg.Next(now)
	assert.False(t, ok, "account should be in cooldown after 5 consecutive failures")
}

func TestRecordFailure_RateLimitedSetsCooldownWindow(t *testing.T) {
	reg, _ := newTestRegistry(t, []dbx.Account{{ID: "a", HealthScore: 80}})
	now := time.Now()
	reg.RecordFailure(context.Background(), "a", "rate_limited", now)

	_, ok := reg.Next(now.Add(time.Minute))
	assert.False(t, ok)

	_, ok = reg.Next(now.Add(61 * time.Minute))
	assert.True(t, ok)
}
