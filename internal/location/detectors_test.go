package location

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDetectionEngine_OverspeedingEdges(t *testing.T) {
	engine := NewDetectionEngine(&OverspeedingDetector{
		On:  true,
		Cfg: OverspeedingConfig{SampleSize: 3, SpeedLimit: 15, BufferPct: 0},
	})

	feed := func(speed float64) []ViolationAlert {
		return engine.ProcessPoint("d1", "r1", DetectionInput{
			Point: Point{Lat: 12.97, Lon: 77.59}, TS: time.Now(), Speed: &speed,
		})
	}

	// Speeds [10,16,20]: avg 15.33 > 15 on the third sample fires Violated.
	require.Empty(t, feed(10))
	require.Empty(t, feed(16))
	alerts := feed(20)
	require.Len(t, alerts, 1)
	require.Equal(t, StatusViolated, alerts[0].Status)
	require.Equal(t, "overspeeding", alerts[0].Detector)

	// Slow window [12,12,12]: avg 12 <= 15, the anti check flips the FSM to
	// AntiViolated and emits exactly one end-of-violation alert.
	var antiAlerts []ViolationAlert
	for i := 0; i < 6; i++ {
		antiAlerts = append(antiAlerts, feed(12)...)
	}
	require.Len(t, antiAlerts, 1)
	require.Equal(t, StatusAntiViolated, antiAlerts[0].Status)
}

func TestDetectionEngine_DisabledDetectorIsSilent(t *testing.T) {
	engine := NewDetectionEngine(&OverspeedingDetector{
		On:  false,
		Cfg: OverspeedingConfig{SampleSize: 1, SpeedLimit: 1},
	})
	speed := 100.0
	alerts := engine.ProcessPoint("d1", "r1", DetectionInput{Point: Point{}, TS: time.Now(), Speed: &speed})
	require.Empty(t, alerts)
}

func TestDetectionEngine_RouteDeviationThreshold(t *testing.T) {
	// Straight segment (0,0) -> (0,1); query point ~100m east of it.
	route := []Point{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 0}}
	in := DetectionInput{Point: Point{Lat: 0.5, Lon: 0.0009}, TS: time.Now()}

	tight := NewDetectionEngine(&RouteDeviationDetector{On: true, Cfg: RouteDeviationConfig{ThresholdMeters: 50}})
	in.Route = route
	// The first-ever check seeds the FSM at ContinuedAntiViolation; the edge
	// fires on the next deviating point.
	require.Empty(t, tight.ProcessPoint("d1", "r1", in))
	alerts := tight.ProcessPoint("d1", "r1", in)
	require.Len(t, alerts, 1)
	require.Equal(t, StatusViolated, alerts[0].Status)

	loose := NewDetectionEngine(&RouteDeviationDetector{On: true, Cfg: RouteDeviationConfig{ThresholdMeters: 200}})
	require.Empty(t, loose.ProcessPoint("d1", "r1", in))
	require.Empty(t, loose.ProcessPoint("d1", "r1", in))
}

func TestDetectionEngine_StopDetector(t *testing.T) {
	engine := NewDetectionEngine(&StopDetector{
		On:  true,
		Cfg: StopDetectionConfig{SampleSize: 4, BatchCount: 2, MaxEligibleDistance: 30},
	})

	// Four fixes within a few meters of each other: stop fires on the
	// window-completing sample.
	var alerts []ViolationAlert
	for i := 0; i < 4; i++ {
		alerts = append(alerts, engine.ProcessPoint("d1", "r1", DetectionInput{
			Point: Point{Lat: 12.9700 + float64(i)*0.00001, Lon: 77.5900}, TS: time.Now(),
		})...)
	}
	require.Len(t, alerts, 1)
	require.Equal(t, StatusViolated, alerts[0].Status)
	require.Equal(t, "stop", alerts[0].Detector)
}

func TestDetectionEngine_ClearDriverResetsState(t *testing.T) {
	engine := NewDetectionEngine(&OverspeedingDetector{
		On:  true,
		Cfg: OverspeedingConfig{SampleSize: 2, SpeedLimit: 10},
	})
	speed := 50.0
	in := DetectionInput{Point: Point{}, TS: time.Now(), Speed: &speed}

	engine.ProcessPoint("d1", "r1", in)
	alerts := engine.ProcessPoint("d1", "r1", in)
	require.Len(t, alerts, 1)

	engine.ClearDriver("d1")

	// A fresh ride starts from ContinuedAntiViolation with an empty window:
	// the first full window fires again instead of continuing.
	engine.ProcessPoint("d1", "r2", in)
	alerts = engine.ProcessPoint("d1", "r2", in)
	require.Len(t, alerts, 1)
	require.Equal(t, StatusViolated, alerts[0].Status)
}

func TestDetectionEngine_NoRepeatAlertWhileViolationContinues(t *testing.T) {
	engine := NewDetectionEngine(&OverspeedingDetector{
		On:  true,
		Cfg: OverspeedingConfig{SampleSize: 2, SpeedLimit: 10},
	})
	speed := 50.0
	in := DetectionInput{Point: Point{}, TS: time.Now(), Speed: &speed}

	var all []ViolationAlert
	for i := 0; i < 8; i++ {
		all = append(all, engine.ProcessPoint("d1", "r1", in)...)
	}
	// Every completed window re-confirms the violation, but only the first
	// edge alerts; the rest are ContinuedViolation.
	require.Len(t, all, 1)
}
