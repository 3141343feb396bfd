package location

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/richxcame/driver-location/pkg/cache"
	"github.com/richxcame/driver-location/pkg/httpclient"
	"github.com/richxcame/driver-location/pkg/kafkaevents"
)

// fakeStream captures published messages in memory.
type fakeStream struct {
	mu      sync.Mutex
	updates []kafkaevents.LocationUpdate
	regions []kafkaevents.RegionChange
}

func (f *fakeStream) PublishLocationUpdate(_ context.Context, _ string, u kafkaevents.LocationUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakeStream) PublishRegionChange(_ context.Context, _ string, ev kafkaevents.RegionChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regions = append(f.regions, ev)
	return nil
}

func (f *fakeStream) published() []kafkaevents.LocationUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafkaevents.LocationUpdate(nil), f.updates...)
}

// squareGeofence covers lon/lat 0..90 under a single region name.
func squareGeofence(name string) *Geofence {
	return &Geofence{regions: []region{{
		name: name,
		polygons: []polygon{{
			exterior: ring{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 90}, {Lat: 90, Lon: 90}, {Lat: 90, Lon: 0}},
		}},
	}}}
}

type serviceFixture struct {
	service *Service
	store   *Store
	stream  *fakeStream
	drainer *Drainer
	mr      *miniredis.Miniredis
	client  *goredis.Client
}

func newServiceFixture(t *testing.T, tweak func(*ServiceConfig)) *serviceFixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	keys := KeySchema{}
	store := &Store{Primary: client, Keys: keys}
	drainer := NewDrainer(store, keys, DrainerConfig{
		Capacity:              64,
		DrainerDelay:          10 * time.Millisecond,
		NewRideDrainerDelay:   10 * time.Millisecond,
		BucketSize:            time.Minute,
		NearbyBucketThreshold: 2,
	})
	stream := &fakeStream{}

	cfg := ServiceConfig{
		LocationUpdateLimit:    100,
		LocationUpdateInterval: time.Minute,
		MinLocationAccuracy:    50,
		AccuracyBuffer:         10,
		LastTimestampExpiry:    time.Hour,
		BatchSize:              100,
		OnRideExpiry:           time.Hour,
		RideEndExpiry:          time.Minute,
		ProcessingLockTTL:      5 * time.Second,
		ActiveTripExpiry:       time.Hour,
		BucketSize:             time.Minute,
		NearbyBucketThreshold:  2,
		VehicleTypes:           []string{"auto", "cab"},
	}
	if tweak != nil {
		tweak(&cfg)
	}

	service := NewService(ServiceDeps{
		Store:    store,
		Keys:     keys,
		Geofence: squareGeofence("blr"),
		Limiter:  NewRateLimiter(store),
		Drainer:  drainer,
		Stream:   stream,
	}, cfg)

	return &serviceFixture{service: service, store: store, stream: stream, drainer: drainer, mr: mr, client: client}
}

func ptr(f float64) *float64 { return &f }

func TestFilterBatch_DropsInaccurateAndStale(t *testing.T) {
	fx := newServiceFixture(t, nil)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, fx.store.Set(ctx, KeySchema{}.LastTimestamp("d1"), base.Format(time.RFC3339), time.Hour))

	batch := []LocationUpdate{
		{Pt: Point{Lat: 12.97, Lon: 77.59}, TS: base.Add(2 * time.Second)},
		{Pt: Point{Lat: 12.98, Lon: 77.60}, TS: base.Add(time.Second), Accuracy: ptr(500)}, // too inaccurate
		{Pt: Point{Lat: 12.96, Lon: 77.58}, TS: base.Add(-time.Second)},                    // stale
		{Pt: Point{Lat: 12.95, Lon: 77.57}, TS: base.Add(time.Second)},
	}

	got := fx.service.filterBatch(ctx, "d1", batch)
	require.Len(t, got, 2)
	// Sorted ascending by timestamp.
	require.True(t, got[0].TS.Before(got[1].TS))
	require.Equal(t, base.Add(time.Second), got[0].TS)
}

func TestProcessDriverBatch_OffRideEnqueuesAndStreams(t *testing.T) {
	fx := newServiceFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fx.drainer.Run(ctx)
	defer fx.drainer.Shutdown()

	now := time.Now().UTC().Truncate(time.Second)
	batch := []LocationUpdate{
		{Pt: Point{Lat: 12.97, Lon: 77.59}, TS: now},
		{Pt: Point{Lat: 12.971, Lon: 77.591}, TS: now.Add(time.Second)},
	}

	require.NoError(t, fx.service.processDriverBatch(ctx, "d1", "m1", "blr", "auto", batch, ""))

	// Last timestamp refreshed to the newest accepted fix.
	raw, err := fx.store.Get(ctx, KeySchema{}.LastTimestamp("d1"))
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Second).Format(time.RFC3339), raw)

	// Both points land in the current geo bucket once the drainer flushes.
	key := KeySchema{}.GeoBucket("m1", "blr", "auto", Bucket(time.Now().Unix(), 60))
	require.Eventually(t, func() bool {
		n, err := fx.client.ZCard(ctx, key).Result()
		return err == nil && n == 1 // same driver: last write wins per member
	}, time.Second, 10*time.Millisecond)

	// Streamed with IDLE status and no ride id.
	updates := fx.stream.published()
	require.Len(t, updates, 2)
	require.Equal(t, kafkaevents.RideStatusIdle, updates[0].RideStatus)
	require.Empty(t, updates[0].RideID)

	// The processing lock is released on exit.
	_, err = fx.store.Get(ctx, KeySchema{}.ProcessingLock("d1", "blr"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestProcessDriverBatch_NewRideStatusStreamsOnPickup(t *testing.T) {
	fx := newServiceFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fx.drainer.Run(ctx)
	defer fx.drainer.Shutdown()

	details, _ := json.Marshal(RideDetails{RideID: "r1", RideStatus: RideStatusNew})
	require.NoError(t, fx.store.Set(ctx, KeySchema{}.OnRide("m1", "blr", "d1"), string(details), time.Hour))

	now := time.Now().UTC()
	batch := []LocationUpdate{{Pt: Point{Lat: 12.97, Lon: 77.59}, TS: now}}
	require.NoError(t, fx.service.processDriverBatch(ctx, "d1", "m1", "blr", "auto", batch, ""))

	updates := fx.stream.published()
	require.Len(t, updates, 1)
	require.Equal(t, kafkaevents.RideStatusOnPickup, updates[0].RideStatus)
	require.Equal(t, "r1", updates[0].RideID)
}

func TestProcessDriverBatch_LockContention(t *testing.T) {
	fx := newServiceFixture(t, nil)
	ctx := context.Background()

	// Simulate another in-flight call holding the lock.
	held, err := fx.store.SetNX(ctx, KeySchema{}.ProcessingLock("d1", "blr"), "true", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	batch := []LocationUpdate{{Pt: Point{Lat: 12.97, Lon: 77.59}, TS: time.Now().UTC()}}
	err = fx.service.processDriverBatch(ctx, "d1", "m1", "blr", "auto", batch, "")
	requireAppErrorCode(t, err, "UNDER_PROCESSING")
}

func TestProcessDriverBatch_RateLimited(t *testing.T) {
	fx := newServiceFixture(t, func(cfg *ServiceConfig) {
		cfg.LocationUpdateLimit = 1
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fx.drainer.Run(ctx)
	defer fx.drainer.Shutdown()

	batch := []LocationUpdate{{Pt: Point{Lat: 12.97, Lon: 77.59}, TS: time.Now().UTC()}}
	require.NoError(t, fx.service.processDriverBatch(ctx, "d1", "m1", "blr", "auto", batch, ""))

	err := fx.service.processDriverBatch(ctx, "d1", "m1", "blr", "auto", batch, "")
	requireAppErrorCode(t, err, "HITS_LIMIT_EXCEEDED")
}

func TestProcessOnRide_TrajectoryFlushAtBatchSize(t *testing.T) {
	var callbacks []BulkLocationCallback
	var mu sync.Mutex
	callbackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cb BulkLocationCallback
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cb))
		mu.Lock()
		callbacks = append(callbacks, cb)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer callbackSrv.Close()

	fx := newServiceFixture(t, func(cfg *ServiceConfig) {
		cfg.BatchSize = 3
	})
	fx.service.bulkClient = httpclient.NewClient(callbackSrv.URL)
	ctx := context.Background()

	details, _ := json.Marshal(RideDetails{RideID: "r9", RideStatus: RideStatusInProgress})
	require.NoError(t, fx.store.Set(ctx, KeySchema{}.OnRide("m1", "blr", "d1"), string(details), time.Hour))

	base := time.Now().UTC().Truncate(time.Second)
	batch := make([]LocationUpdate, 0, 3)
	for i := 0; i < 3; i++ {
		batch = append(batch, LocationUpdate{
			Pt: Point{Lat: 12.97 + float64(i)*0.001, Lon: 77.59},
			TS: base.Add(time.Duration(i) * time.Second),
		})
	}

	require.NoError(t, fx.service.processDriverBatch(ctx, "d1", "m1", "blr", "auto", batch, ""))

	// The third append reaches batch size, so the chunk flushed and the
	// trajectory set was truncated.
	mu.Lock()
	require.Len(t, callbacks, 1)
	require.Equal(t, "r9", callbacks[0].RideID)
	require.Equal(t, "d1", callbacks[0].DriverID)
	require.Len(t, callbacks[0].Loc, 3)
	mu.Unlock()

	card, err := fx.store.ZCard(ctx, KeySchema{}.OnRideLoc("m1", "blr", "d1"))
	require.NoError(t, err)
	require.Zero(t, card)

	// Every point streamed with ON_RIDE status.
	updates := fx.stream.published()
	require.Len(t, updates, 3)
	for _, u := range updates {
		require.Equal(t, kafkaevents.RideStatusOnRide, u.RideStatus)
		require.Equal(t, "r9", u.RideID)
	}
}

func TestProcessOnRide_SameSecondFixesDedup(t *testing.T) {
	fx := newServiceFixture(t, nil)
	ctx := context.Background()

	details, _ := json.Marshal(RideDetails{RideID: "r1", RideStatus: RideStatusInProgress})
	require.NoError(t, fx.store.Set(ctx, KeySchema{}.OnRide("m1", "blr", "d1"), string(details), time.Hour))

	ts := time.Now().UTC().Truncate(time.Second)
	batch := []LocationUpdate{
		{Pt: Point{Lat: 12.97, Lon: 77.59}, TS: ts},
		{Pt: Point{Lat: 12.98, Lon: 77.60}, TS: ts.Add(500 * time.Millisecond)}, // same rfc3339 second
	}
	require.NoError(t, fx.service.processDriverBatch(ctx, "d1", "m1", "blr", "auto", batch, ""))

	card, err := fx.store.ZCard(ctx, KeySchema{}.OnRideLoc("m1", "blr", "d1"))
	require.NoError(t, err)
	require.Equal(t, int64(1), card)
}

func TestUpdateDriverLocation_AuthAndUnserviceable(t *testing.T) {
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("token") != "tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"driverId": "d42"})
	}))
	defer authSrv.Close()

	fx := newServiceFixture(t, nil)
	fx.service.auth = NewAuthenticator(
		cache.NewCache(fx.client), httpclient.NewClient(authSrv.URL), "key", time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fx.drainer.Run(ctx)
	defer fx.drainer.Shutdown()

	now := time.Now().UTC()
	good := []LocationUpdate{{Pt: Point{Lat: 12.97, Lon: 77.59}, TS: now}}

	require.NoError(t, fx.service.UpdateDriverLocation(ctx, "tok-1", "m1", "auto", good))

	// Token now cached: a second call with the same token is resolved from
	// the cache.
	require.NoError(t, fx.service.UpdateDriverLocation(ctx, "tok-1", "m1", "auto",
		[]LocationUpdate{{Pt: Point{Lat: 12.97, Lon: 77.59}, TS: now.Add(2 * time.Second)}}))

	err := fx.service.UpdateDriverLocation(ctx, "bad-token", "m1", "auto", good)
	requireAppErrorCode(t, err, "DRIVER_APP_AUTH_FAILED")

	outside := []LocationUpdate{{Pt: Point{Lat: -40, Lon: -120}, TS: now}}
	err = fx.service.UpdateDriverLocation(ctx, "tok-1", "m1", "auto", outside)
	requireAppErrorCode(t, err, "UNSERVICEABLE")
}

func TestTrackRegionChange_EmitsOnTransition(t *testing.T) {
	fx := newServiceFixture(t, nil)
	ctx := context.Background()

	fx.service.trackRegionChange(ctx, "d1", "m1", "blr")
	require.Empty(t, fx.stream.regions)

	fx.service.trackRegionChange(ctx, "d1", "m1", "hyd")
	require.Len(t, fx.stream.regions, 1)
	require.Equal(t, "blr", fx.stream.regions[0].From)
	require.Equal(t, "hyd", fx.stream.regions[0].To)

	// Unchanged region: no extra event.
	fx.service.trackRegionChange(ctx, "d1", "m1", "hyd")
	require.Len(t, fx.stream.regions, 1)
}
