package proxyreg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialscrape/engine/pkg/dbx"
)

func seedRegistry(t *testing.T, proxies []dbx.Proxy) *Registry {
	t.Helper()
	repo := dbx.NewInMemoryProxyRepository(proxies)
	reg := New(repo, 20, 0)
	n, err := reg.LoadActive(context.Background())
	require.NoError(t, err)
	require.Equal(t, len(proxies), n)
	return reg
}

func TestAssignThreads_CoversEveryMaxThreadsSlot(t *testing.T) {
	reg := seedRegistry(t, []dbx.Proxy{
		{ID: "low", Priority: 1, MaxThreads: 2, IsActive: true},
		{ID: "high", Priority: 10, MaxThreads: 3, IsActive: true},
	})

	total := reg.AssignThreads()
	assert.Equal(t, 5, total)
	assert.Equal(t, 5, reg.TotalThreads())

	// Higher-priority proxy's threads are assigned first (thread IDs 0..2).
	for threadID := 0; threadID < 3; threadID++ {
		p, ok := reg.ProxyForThread(threadID)
		require.True(t, ok)
		assert.Equal(t, "high", p.ID)
	}
	for threadID := 3; threadID < 5; threadID++ {
		p, ok := reg.ProxyForThread(threadID)
		require.True(t, ok)
		assert.Equal(t, "low", p.ID)
	}
}

func TestAssignThreads_NoActiveProxiesYieldsZeroThreads(t *testing.T) {
	reg := seedRegistry(t, nil)
	assert.Equal(t, 0, reg.AssignThreads())
}

func TestBestScored_UnusedProxyScoresMax(t *testing.T) {
	reg := seedRegistry(t, []dbx.Proxy{
		{ID: "fresh", Priority: 1, MaxThreads: 1, IsActive: true},
	})
	best, ok := reg.BestScored()
	require.True(t, ok)
	assert.Equal(t, "fresh", best.ID)
}

func TestBestScored_PrefersHealthierProxy(t *testing.T) {
	reg := seedRegistry(t, []dbx.Proxy{
		{ID: "flaky", Priority: 1, MaxThreads: 1, IsActive: true, TotalRequests: 10, SuccessCount: 2, ConsecutiveErrors: 3},
		{ID: "solid", Priority: 1, MaxThreads: 1, IsActive: true, TotalRequests: 10, SuccessCount: 10},
	})
	best, ok := reg.BestScored()
	require.True(t, ok)
	assert.Equal(t, "solid", best.ID)
}

func TestRecordResult_FlushesAtThreshold(t *testing.T) {
	repo := dbx.NewInMemoryProxyRepository([]dbx.Proxy{{ID: "p1", IsActive: true, MaxThreads: 1}})
	reg := New(repo, 1, 0) // flush every single request
	_, err := reg.LoadActive(context.Background())
	require.NoError(t, err)

	reg.RecordResult(context.Background(), "p1", true, 123, "")

	persisted, err := repo.LoadActive(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, int64(1), persisted[0].TotalRequests)
	assert.Equal(t, int64(1), persisted[0].SuccessCount)
}

func TestDisableUnhealthy_DisablesPastThreshold(t *testing.T) {
	repo := dbx.NewInMemoryProxyRepository([]dbx.Proxy{
		{ID: "bad", IsActive: true, MaxThreads: 1, ConsecutiveErrors: 5},
		{ID: "ok", IsActive: true, MaxThreads: 1, ConsecutiveErrors: 1},
	})
	reg := New(repo, 20, 0)
	_, err := reg.LoadActive(context.Background())
	require.NoError(t, err)

	reg.DisableUnhealthy(context.Background(), 5)

	active, err := repo.LoadActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "ok", active[0].ID)
}
