package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/internal/infra/storage"
	"github.com/ahrav/curation-progress/internal/infra/storage/storetest"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

func setupTaskStore(t *testing.T, retention progress.Retention) (*TaskStore, *redis.Client) {
	t.Helper()

	addr, cleanup := storage.SetupRedisContainer(t)
	t.Cleanup(cleanup)

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	return NewTaskStore(client, retention, timeutil.Default(), storage.NoOpTracer()), client
}

func TestTaskStoreConformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	t.Parallel()

	// Redis expires keys on its own clock, so the suite waits in real time.
	retention := progress.Retention{TaskTTL: 4 * time.Second, InputTTL: time.Second}
	store, _ := setupTaskStore(t, retention)

	storetest.Run(t, &storetest.Harness{
		Store:     store,
		Retention: retention,
		Now:       time.Now,
		Advance:   time.Sleep,
	})
}

func TestTaskStoreKeyLayout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	t.Parallel()

	ctx := context.Background()
	store, client := setupTaskStore(t, progress.DefaultRetention())

	require.NoError(t, store.Create(ctx, "layout-1", "f.pdf"))
	rec := progress.StageRecord{
		Stage:     "curate",
		Status:    progress.StageStatusProcessing,
		Data:      progress.MustJSONPayload(`{"done":1}`),
		Timestamp: time.Now(),
	}
	require.NoError(t, store.PutStage(ctx, "layout-1", rec))
	require.NoError(t, store.PutInput(ctx, "layout-1", []byte("pdf")))

	score, err := client.ZScore(ctx, indexKey, "layout-1").Result()
	require.NoError(t, err)
	assert.Positive(t, score)

	data, err := client.HGet(ctx, "task:layout-1:stage_data", "curate").Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"done":1}`, data)

	ttl, err := client.PTTL(ctx, "task:layout-1:input").Result()
	require.NoError(t, err)
	assert.InDelta(t, progress.DefaultInputTTL.Seconds(), ttl.Seconds(), 5)

	ttl, err = client.PTTL(ctx, "task:layout-1:stages").Result()
	require.NoError(t, err)
	assert.InDelta(t, progress.DefaultTaskTTL.Seconds(), ttl.Seconds(), 5)
}

func TestListRecentPrunesStaleIndexEntries(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	t.Parallel()

	ctx := context.Background()
	store, client := setupTaskStore(t, progress.DefaultRetention())

	require.NoError(t, store.Create(ctx, "live", "a.pdf"))
	require.NoError(t, client.ZAdd(ctx, indexKey, redis.Z{Score: float64(time.Now().Add(time.Hour).UnixMilli()), Member: "ghost"}).Err())

	tasks, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "live", tasks[0].TaskID)

	_, err = client.ZScore(ctx, indexKey, "ghost").Result()
	assert.ErrorIs(t, err, redis.Nil)
}
