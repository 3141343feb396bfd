package location

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetNearbyDrivers_FindsDriversAcrossBuckets(t *testing.T) {
	fx := newServiceFixture(t, nil)
	ctx := context.Background()

	now := time.Now().Unix()
	current := Bucket(now, 60)

	// d1 written into the current bucket, d2 only into the previous one.
	require.NoError(t, fx.store.GeoAdd(ctx, KeySchema{}.GeoBucket("m1", "blr", "auto", current),
		[]GeoEntry{{DriverID: "d1", Lon: 77.59, Lat: 12.97}}, time.Minute))
	require.NoError(t, fx.store.GeoAdd(ctx, KeySchema{}.GeoBucket("m1", "blr", "auto", current-1),
		[]GeoEntry{{DriverID: "d2", Lon: 77.60, Lat: 12.98}}, time.Minute))

	drivers, err := fx.service.GetNearbyDrivers(ctx, NearbyRequest{
		Lat: 12.97, Lon: 77.59, RadiusKm: 5, VehicleType: "auto", MerchantID: "m1",
	})
	require.NoError(t, err)
	require.Len(t, drivers, 2)
	require.Equal(t, "d1", drivers[0].DriverID) // closest first
	require.Equal(t, "d2", drivers[1].DriverID)
}

func TestGetNearbyDrivers_VehicleTypeFanOut(t *testing.T) {
	fx := newServiceFixture(t, nil)
	ctx := context.Background()

	current := Bucket(time.Now().Unix(), 60)
	require.NoError(t, fx.store.GeoAdd(ctx, KeySchema{}.GeoBucket("m1", "blr", "auto", current),
		[]GeoEntry{{DriverID: "d-auto", Lon: 77.59, Lat: 12.97}}, time.Minute))
	require.NoError(t, fx.store.GeoAdd(ctx, KeySchema{}.GeoBucket("m1", "blr", "cab", current),
		[]GeoEntry{{DriverID: "d-cab", Lon: 77.60, Lat: 12.98}}, time.Minute))

	// No vehicle type: both configured types are searched.
	drivers, err := fx.service.GetNearbyDrivers(ctx, NearbyRequest{
		Lat: 12.97, Lon: 77.59, RadiusKm: 5, MerchantID: "m1",
	})
	require.NoError(t, err)
	require.Len(t, drivers, 2)

	// Narrowed to one type.
	drivers, err = fx.service.GetNearbyDrivers(ctx, NearbyRequest{
		Lat: 12.97, Lon: 77.59, RadiusKm: 5, VehicleType: "cab", MerchantID: "m1",
	})
	require.NoError(t, err)
	require.Len(t, drivers, 1)
	require.Equal(t, "d-cab", drivers[0].DriverID)
}

func TestGetNearbyDrivers_ExcludesOnRide(t *testing.T) {
	fx := newServiceFixture(t, nil)
	ctx := context.Background()

	current := Bucket(time.Now().Unix(), 60)
	require.NoError(t, fx.store.GeoAdd(ctx, KeySchema{}.GeoBucket("m1", "blr", "auto", current), []GeoEntry{
		{DriverID: "free", Lon: 77.59, Lat: 12.97},
		{DriverID: "busy", Lon: 77.591, Lat: 12.971},
		{DriverID: "assigned", Lon: 77.592, Lat: 12.972},
	}, time.Minute))

	busy, _ := json.Marshal(RideDetails{RideID: "r1", RideStatus: RideStatusInProgress})
	require.NoError(t, fx.store.Set(ctx, KeySchema{}.OnRide("m1", "blr", "busy"), string(busy), time.Hour))

	// NEW (assigned but not picked up) must still be returned.
	assigned, _ := json.Marshal(RideDetails{RideID: "r2", RideStatus: RideStatusNew})
	require.NoError(t, fx.store.Set(ctx, KeySchema{}.OnRide("m1", "blr", "assigned"), string(assigned), time.Hour))

	drivers, err := fx.service.GetNearbyDrivers(ctx, NearbyRequest{
		Lat: 12.97, Lon: 77.59, RadiusKm: 5, VehicleType: "auto", MerchantID: "m1",
	})
	require.NoError(t, err)

	ids := make(map[DriverID]bool)
	for _, d := range drivers {
		ids[d.DriverID] = true
	}
	require.True(t, ids["free"])
	require.True(t, ids["assigned"])
	require.False(t, ids["busy"])
}

func TestGetNearbyDrivers_LastTimestampAttached(t *testing.T) {
	fx := newServiceFixture(t, nil)
	ctx := context.Background()

	seen := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, fx.store.Set(ctx, KeySchema{}.LastTimestamp("d1"), seen.Format(time.RFC3339), time.Hour))

	current := Bucket(time.Now().Unix(), 60)
	require.NoError(t, fx.store.GeoAdd(ctx, KeySchema{}.GeoBucket("m1", "blr", "auto", current), []GeoEntry{
		{DriverID: "d1", Lon: 77.59, Lat: 12.97},
		{DriverID: "d2", Lon: 77.591, Lat: 12.971}, // no ts record: defaults to now
	}, time.Minute))

	drivers, err := fx.service.GetNearbyDrivers(ctx, NearbyRequest{
		Lat: 12.97, Lon: 77.59, RadiusKm: 5, VehicleType: "auto", MerchantID: "m1",
	})
	require.NoError(t, err)
	require.Len(t, drivers, 2)

	for _, d := range drivers {
		switch d.DriverID {
		case "d1":
			require.True(t, d.UpdatedAt.Equal(seen))
		case "d2":
			require.WithinDuration(t, time.Now(), d.UpdatedAt, 5*time.Second)
		}
	}
}

func TestGetNearbyDrivers_Unserviceable(t *testing.T) {
	fx := newServiceFixture(t, nil)
	_, err := fx.service.GetNearbyDrivers(context.Background(), NearbyRequest{
		Lat: -40, Lon: -120, RadiusKm: 5, MerchantID: "m1",
	})
	requireAppErrorCode(t, err, "UNSERVICEABLE")
}
