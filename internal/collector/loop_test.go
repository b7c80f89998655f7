package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/domain"
	"github.com/user/price-tracker/internal/monitoring"
)

func newTestLoop(stores *fakeStores, result domain.ExtractionResult) *Loop {
	coord := newTestCoordinator(stores, result)
	return NewLoop(coord, stores, stores, stores, nil, zap.NewNop(), LoopConfig{
		CollectorID: "col-1",
	})
}

func TestRunOncePausedClaimsNothing(t *testing.T) {
	stores := newFakeStores()
	stores.heartbeatStatus = domain.CollectorPaused
	stores.claimable = []domain.CollectionJob{leasedJob()}

	report := newTestLoop(stores, okResult(99)).RunOnce(context.Background())

	assert.True(t, report.Paused)
	assert.Zero(t, report.Processed)
	assert.Empty(t, stores.attempts)
}

func TestRunOnceHeartbeatFailureIsNotFatal(t *testing.T) {
	stores := newFakeStores()
	stores.heartbeatErr = errors.New("connection refused")
	stores.claimable = []domain.CollectionJob{leasedJob()}

	report := newTestLoop(stores, okResult(99)).RunOnce(context.Background())

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Success)
}

func TestRunOnceProcessesSequentially(t *testing.T) {
	stores := newFakeStores()
	job2 := leasedJob()
	job2.ID = "job-2"
	job2.ASIN = "B0OTHER"
	stores.claimable = []domain.CollectionJob{leasedJob(), job2}

	report := newTestLoop(stores, okResult(42)).RunOnce(context.Background())

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Success)
	require.Len(t, report.Items, 2)
	assert.Equal(t, "B0TEST", report.Items[0].ASIN)
	assert.Equal(t, "B0OTHER", report.Items[1].ASIN)
}

func TestRunOnceMixedOutcomes(t *testing.T) {
	stores := newFakeStores()
	stores.claimable = []domain.CollectionJob{leasedJob()}

	report := newTestLoop(stores, domain.ExtractionResult{
		Status: domain.ExtractionNoPrice,
		Method: domain.MethodHTMLJSON,
	}).RunOnce(context.Background())

	assert.Equal(t, 1, report.Processed)
	assert.Zero(t, report.Success)
	assert.Equal(t, 1, report.Failed)
}

func TestRunOnceUpdatesQueueDepthGauge(t *testing.T) {
	stores := newFakeStores()
	job2 := leasedJob()
	job2.ID = "job-2"
	stores.claimable = []domain.CollectionJob{leasedJob(), job2}

	metrics := monitoring.NewMetrics()
	coord := newTestCoordinator(stores, okResult(99))
	loop := NewLoop(coord, stores, stores, stores, metrics, zap.NewNop(), LoopConfig{
		CollectorID: "col-1",
	})

	loop.RunOnce(context.Background())

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.QueueDepth))
}

func TestRunOnceClaimFailure(t *testing.T) {
	stores := newFakeStores()
	stores.claimErr = errors.New("database unavailable")

	report := newTestLoop(stores, okResult(99)).RunOnce(context.Background())

	assert.Zero(t, report.Processed)
	assert.Empty(t, stores.attempts)
}
