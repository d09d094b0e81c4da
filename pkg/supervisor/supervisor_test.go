package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialscrape/engine/pkg/control"
	"github.com/socialscrape/engine/pkg/dbx"
)

func TestSupervisor_SkipsRunWhenDisabled(t *testing.T) {
	repo := dbx.NewInMemoryControlRepository()
	ctl := control.New(repo, time.Millisecond)

	var runs int32
	sup := New(ctl, "test_scraper", "reddit", 5*time.Millisecond, 50*time.Millisecond,
		func(ctx context.Context, probe func() bool) error {
			atomic.AddInt32(&runs, 1)
			return nil
		}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := sup.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(0), runs, "disabled scraper must never invoke run")

	rec, err := repo.Load(context.Background(), "test_scraper")
	require.NoError(t, err)
	assert.Equal(t, "stopped", rec.Status)
	assert.False(t, rec.Enabled)
}

func TestSupervisor_RunsWhenEnabled(t *testing.T) {
	repo := dbx.NewInMemoryControlRepository()
	ctl := control.New(repo, time.Millisecond)
	ctx0 := context.Background()
	require.NoError(t, repo.EnsureExists(ctx0, "test_scraper2", "reddit", nil))
	enabled := true
	require.NoError(t, repo.Update(ctx0, "test_scraper2", dbx.ControlPatch{Enabled: &enabled}))

	var runs int32
	sup := New(ctl, "test_scraper2", "reddit", 5*time.Millisecond, 50*time.Millisecond,
		func(ctx context.Context, probe func() bool) error {
			atomic.AddInt32(&runs, 1)
			return nil
		}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := sup.Start(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(1), "enabled scraper must invoke run at least once")
}

func TestSupervisor_WaitsWhenNextCycleInFuture(t *testing.T) {
	repo := dbx.NewInMemoryControlRepository()
	ctl := control.New(repo, time.Millisecond)
	ctx0 := context.Background()
	require.NoError(t, repo.EnsureExists(ctx0, "test_scraper3", "instagram", nil))
	enabled := true
	require.NoError(t, repo.Update(ctx0, "test_scraper3", dbx.ControlPatch{Enabled: &enabled}))

	future := time.Now().Add(time.Hour)
	var runs int32
	sup := New(ctl, "test_scraper3", "instagram", 5*time.Millisecond, 50*time.Millisecond,
		func(ctx context.Context, probe func() bool) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
		func() *time.Time { return &future })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := sup.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(0), runs, "run must not fire while next_cycle_at is in the future")

	rec, err := repo.Load(context.Background(), "test_scraper3")
	require.NoError(t, err)
	assert.Equal(t, "stopped", rec.Status, "Start's final patch always sets stopped on shutdown")
}
