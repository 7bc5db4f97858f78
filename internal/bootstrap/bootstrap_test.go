package bootstrap

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"

	"github.com/ahrav/curation-progress/internal/config"
	"github.com/ahrav/curation-progress/internal/infra/storage"
	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

func TestOpenStoreDefaultsToMemory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := timeutil.NewMock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	store, closeStore, err := OpenStore(ctx, config.StoreConfig{Backend: config.StoreMemory}, clock, logger.Noop(), storage.NoOpTracer())
	require.NoError(t, err)
	defer closeStore()

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Create(ctx, "t-1", "a.pdf"))

	task, err := store.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", task.Label)
}

func TestOpenBusesMemorySharesBroker(t *testing.T) {
	t.Parallel()

	buses, err := OpenBuses(context.Background(), config.BusConfig{Backend: config.BusMemory}, "host",
		metricnoop.NewMeterProvider(), logger.Noop(), storage.NoOpTracer(), RoleGateway, RoleWorker)
	require.NoError(t, err)
	defer buses.Close()

	assert.Same(t, buses.Updates, buses.Jobs)
}

func TestNewLoggerMirrorsErrors(t *testing.T) {
	t.Parallel()

	var errOut bytes.Buffer
	log := NewLogger(io.Discard, &errOut, "INFO", "svc", "host", "test")

	log.Info(context.Background(), "fine")
	assert.Empty(t, errOut.String())

	log.Error(context.Background(), "boom", "task_id", "t-1")
	assert.Contains(t, errOut.String(), "Error event: boom")
	assert.Contains(t, errOut.String(), `"task_id":"t-1"`)
}
