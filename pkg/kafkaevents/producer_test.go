package kafkaevents

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocationUpdate_WireFormat(t *testing.T) {
	acc := 5.0
	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	u := LocationUpdate{
		RideID:       "r1",
		MerchantID:   "m1",
		Pt:           Point{Lat: 12.97, Lon: 77.59},
		TS:           ts,
		ST:           ts.Add(time.Second),
		Acc:          &acc,
		RideStatus:   RideStatusOnRide,
		DriverActive: true,
		Mode:         "ONLINE",
	}

	data, err := json.Marshal(u)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Field names are the consumer contract; renames break downstream.
	for _, field := range []string{"rId", "mId", "pt", "ts", "st", "acc", "rideStatus", "da", "mode"} {
		require.Contains(t, decoded, field, "missing wire field %s", field)
	}
	require.Equal(t, "ON_RIDE", decoded["rideStatus"])
	require.Equal(t, true, decoded["da"])

	pt := decoded["pt"].(map[string]interface{})
	require.InDelta(t, 12.97, pt["lat"].(float64), 1e-9)
	require.InDelta(t, 77.59, pt["lon"].(float64), 1e-9)
}

func TestLocationUpdate_OptionalFieldsOmitted(t *testing.T) {
	u := LocationUpdate{
		MerchantID: "m1",
		Pt:         Point{Lat: 1, Lon: 2},
		TS:         time.Now(),
		ST:         time.Now(),
		RideStatus: RideStatusIdle,
	}

	data, err := json.Marshal(u)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotContains(t, decoded, "rId")
	require.NotContains(t, decoded, "acc")
	require.NotContains(t, decoded, "mode")
}

func TestPublishRegionChange_NoTopicIsNoop(t *testing.T) {
	p := &Producer{regionChangeTopic: ""}
	require.NoError(t, p.PublishRegionChange(t.Context(), "d1", RegionChange{From: "a", To: "b"}))
}
