package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/pos-device-bridge/internal/domain"
	"github.com/tbourn/pos-device-bridge/internal/repo"
)

func newReconcileFixture(t *testing.T) (*Reconciler, *Broadcaster, *recordingDeliverer) {
	t.Helper()
	db := newSvcDB(t)
	d := &recordingDeliverer{}
	b := NewBroadcaster(db, d, 64, 1)
	b.Start()
	t.Cleanup(b.Stop)
	return NewReconciler(db, b, time.Second, 50), b, d
}

func countLogs(t *testing.T, r *Reconciler) int64 {
	t.Helper()
	var n int64
	require.NoError(t, r.DB.Model(&domain.OrderUpdateLog{}).Count(&n).Error)
	return n
}

func TestReconciler_ClosedOrderCompletes(t *testing.T) {
	r, b, d := newReconcileFixture(t)
	ctx := context.Background()
	dev := mkDevice(t, r.DB, domain.DeviceOrdering)
	o := mkOrder(t, r.DB, dev.ID, 42, domain.OrderConfirmed)
	_, err := repo.CreateUpdateLog(ctx, r.DB, 42, false, false, time.Now().UTC())
	require.NoError(t, err)

	res, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	got, err := repo.GetDeviceOrder(ctx, r.DB, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, got.Status)
	assert.Zero(t, countLogs(t, r), "applied row is deleted")

	replay, err := b.Replay(ctx, domain.DeviceChannel(dev.ID), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, replay, 1)
	assert.Equal(t, domain.EventOrderCompleted, replay[0].Event)

	var p domain.OrderEventPayload
	require.NoError(t, json.Unmarshal(replay[0].Payload, &p))
	assert.Equal(t, uint(42), p.OrderID)
	assert.Equal(t, domain.OrderConfirmed, p.PreviousStatus)

	eventually(t, func() bool { return len(d.all()) == 1 }, "live delivery")
	assert.Equal(t, domain.DeviceChannel(dev.ID), d.all()[0].Channel)
}

func TestReconciler_VoidedOrder(t *testing.T) {
	r, b, _ := newReconcileFixture(t)
	ctx := context.Background()
	dev := mkDevice(t, r.DB, domain.DeviceOrdering)
	o := mkOrder(t, r.DB, dev.ID, 42, domain.OrderConfirmed)
	_, err := repo.CreateUpdateLog(ctx, r.DB, 42, true, false, time.Now().UTC())
	require.NoError(t, err)

	_, err = r.RunOnce(ctx)
	require.NoError(t, err)

	got, _ := repo.GetDeviceOrder(ctx, r.DB, o.ID)
	assert.Equal(t, domain.OrderVoided, got.Status)
	replay, _ := b.Replay(ctx, domain.DeviceChannel(dev.ID), time.Time{})
	require.Len(t, replay, 1)
	assert.Equal(t, domain.EventOrderVoided, replay[0].Event)
}

func TestReconciler_MissingOrderKeepsRow(t *testing.T) {
	r, _, _ := newReconcileFixture(t)
	ctx := context.Background()
	_, err := repo.CreateUpdateLog(ctx, r.DB, 999, false, false, time.Now().UTC())
	require.NoError(t, err)

	res, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.MissingOrder)
	assert.EqualValues(t, 1, countLogs(t, r))

	// Claimed, so it is not scanned again.
	res, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)

	stale, err := repo.CountStaleUpdateLogs(ctx, r.DB)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stale)
}

func TestReconciler_InvalidTransitionKeepsRow(t *testing.T) {
	r, b, _ := newReconcileFixture(t)
	ctx := context.Background()
	dev := mkDevice(t, r.DB, domain.DeviceOrdering)
	o := mkOrder(t, r.DB, dev.ID, 50, domain.OrderCompleted)
	_, err := repo.CreateUpdateLog(ctx, r.DB, 50, true, false, time.Now().UTC())
	require.NoError(t, err)

	res, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.InvalidTransition)

	got, _ := repo.GetDeviceOrder(ctx, r.DB, o.ID)
	assert.Equal(t, domain.OrderCompleted, got.Status)
	assert.EqualValues(t, 1, countLogs(t, r))
	replay, _ := b.Replay(ctx, domain.DeviceChannel(dev.ID), time.Time{})
	assert.Empty(t, replay)
}

func TestReconciler_ConcurrentAppliesOnce(t *testing.T) {
	r, b, _ := newReconcileFixture(t)
	ctx := context.Background()
	dev := mkDevice(t, r.DB, domain.DeviceOrdering)
	for i := uint(1); i <= 10; i++ {
		mkOrder(t, r.DB, dev.ID, 100+i, domain.OrderConfirmed)
		_, err := repo.CreateUpdateLog(ctx, r.DB, 100+i, false, false, time.Now().UTC())
		require.NoError(t, err)
	}

	other := NewReconciler(r.DB, b, time.Second, 50)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for _, rc := range []*Reconciler{r, other, r, other} {
		wg.Add(1)
		go func(rc *Reconciler) {
			defer wg.Done()
			res, err := rc.RunOnce(ctx)
			assert.NoError(t, err)
			mu.Lock()
			applied += res.Applied
			mu.Unlock()
		}(rc)
	}
	wg.Wait()

	assert.Equal(t, 10, applied)
	assert.Zero(t, countLogs(t, r))
	replay, err := b.Replay(ctx, domain.DeviceChannel(dev.ID), time.Time{})
	require.NoError(t, err)
	assert.Len(t, replay, 10, "one event per row")
}

func TestReconciler_EmptyCycle(t *testing.T) {
	r, _, _ := newReconcileFixture(t)
	for i := 0; i < 3; i++ {
		res, err := r.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, res.Scanned)
	}
	assert.True(t, r.idle)
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	r, _, _ := newReconcileFixture(t)
	r.Interval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { r.Run(ctx); close(done) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
