package delivery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagerapp/pushgate/internal/config"
	"github.com/pagerapp/pushgate/internal/gateway"
	"github.com/pagerapp/pushgate/internal/storage"
)

func TestPoolProcessesAndDrains(t *testing.T) {
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	defer store.Close()

	log := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	transport := &fakeTransport{resp: &gateway.Response{StatusCode: 200}}
	worker := NewWorker(store, transport, "com.example.pager", 3, time.Second, log)

	cfg := config.QueueConfig{
		Workers:            4,
		RatePerSecond:      100,
		LeaseTimeout:       time.Minute,
		CompletedRetention: time.Hour,
		CompletedKeepMax:   1000,
		FailedRetention:    24 * time.Hour,
	}
	pool := NewPool(cfg, worker, store, log)
	pool.pollRate = 20 * time.Millisecond

	for i := 0; i < 3; i++ {
		enqueueAlert(t, store, "u1")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.Eventually(t, func() bool {
		m, err := store.QueueMetrics(context.Background())
		return err == nil && m.Completed == 3
	}, 5*time.Second, 25*time.Millisecond)

	pool.Stop()

	m, err := store.QueueMetrics(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, m.Completed)
	assert.Zero(t, m.Waiting)
	assert.Zero(t, m.Active)
}
