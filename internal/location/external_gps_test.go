package location

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateExternalAPIKey(t *testing.T) {
	fx := newServiceFixture(t, nil)
	fx.service.externalGPSAPIKey = "vendor-key"

	requireAppErrorCode(t, fx.service.ValidateExternalAPIKey(""), "MISSING_API_KEY")
	requireAppErrorCode(t, fx.service.ValidateExternalAPIKey("wrong"), "INVALID_API_KEY")
	require.NoError(t, fx.service.ValidateExternalAPIKey("vendor-key"))
}

func TestConvertExternalGPS(t *testing.T) {
	speed := 36 // km/h
	angle := 270.0
	updates, err := convertExternalGPS([]ExternalGPSUpdate{{
		IMEI:        "123",
		DTServer:    "2025-09-16 12:51:23",
		Lat:         12.97,
		Lng:         77.59,
		Speed:       &speed,
		Angle:       &angle,
		PlateNumber: "KA01AB1234",
	}})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Equal(t, time.Date(2025, 9, 16, 12, 51, 23, 0, time.UTC), updates[0].TS)
	require.InDelta(t, 10.0, *updates[0].Speed, 1e-9) // 36 km/h == 10 m/s
	require.Equal(t, 270.0, *updates[0].Bearing)
}

func TestConvertExternalGPS_RejectsBadData(t *testing.T) {
	_, err := convertExternalGPS([]ExternalGPSUpdate{{
		DTServer: "2025-09-16 12:51:23", Lat: 95, Lng: 77.59, PlateNumber: "p",
	}})
	requireAppErrorCode(t, err, "INVALID_GPS_DATA")

	_, err = convertExternalGPS([]ExternalGPSUpdate{{
		DTServer: "16/09/2025", Lat: 12.97, Lng: 77.59, PlateNumber: "p",
	}})
	requireAppErrorCode(t, err, "INVALID_GPS_DATA")
}

func TestProcessExternalGPS_SkipsPlatesWithoutActiveRide(t *testing.T) {
	fx := newServiceFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fx.drainer.Run(ctx)
	defer fx.drainer.Shutdown()

	// Only plate A has an active trip cached (seeded at ride start).
	entry, _ := json.Marshal(DriverByPlate{
		DriverID: "d1", MerchantID: "m1", VehicleServiceTier: "auto", BusNumber: "PLATE-A",
	})
	require.NoError(t, fx.store.Set(ctx, KeySchema{}.DriverByPlate("PLATE-A"), string(entry), time.Hour))

	batch := []ExternalGPSUpdate{
		{DTServer: "2025-09-16 12:51:23", Lat: 12.97, Lng: 77.59, PlateNumber: "PLATE-A"},
		{DTServer: "2025-09-16 12:51:24", Lat: 12.98, Lng: 77.60, PlateNumber: "PLATE-B"},
	}
	require.NoError(t, fx.service.ProcessExternalGPS(ctx, batch))

	// Plate A's fix flowed through the shared pipeline: last-ts updated.
	raw, err := fx.store.Get(ctx, KeySchema{}.LastTimestamp("d1"))
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	// Plate B produced nothing.
	updates := fx.stream.published()
	require.Len(t, updates, 1)
	require.Equal(t, "m1", updates[0].MerchantID)
}

func TestProcessExternalGPS_EmptyBatch(t *testing.T) {
	fx := newServiceFixture(t, nil)
	err := fx.service.ProcessExternalGPS(context.Background(), nil)
	requireAppErrorCode(t, err, "INVALID_GPS_DATA")
}
