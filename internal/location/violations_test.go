package location

import "testing"

func statusPtr(s DetectionStatus) *DetectionStatus { return &s }

func TestNextStatus_FullCycle(t *testing.T) {
	// Starting from ContinuedAntiViolation, (v,a)=(true,*)
	// -> Violated; subsequently (*,true) -> AntiViolated.
	status := NextStatus(nil, false, false)
	if status != StatusContinuedAntiViolation {
		t.Fatalf("initial status = %v, want ContinuedAntiViolation", status)
	}

	status = NextStatus(&status, true, false)
	if status != StatusViolated || !FiresAlert(status) {
		t.Fatalf("expected Violated alert edge, got %v", status)
	}

	status = NextStatus(&status, false, true)
	if status != StatusAntiViolated || !FiresAlert(status) {
		t.Fatalf("expected AntiViolated alert edge, got %v", status)
	}
}

func TestNextStatus_ContinuationsAreSilent(t *testing.T) {
	status := StatusContinuedAntiViolation
	next := NextStatus(&status, false, false)
	if next != StatusContinuedAntiViolation || FiresAlert(next) {
		t.Fatalf("expected silent continuation, got %v", next)
	}

	status = StatusContinuedViolation
	next = NextStatus(&status, false, false)
	if next != StatusContinuedViolation || FiresAlert(next) {
		t.Fatalf("expected silent continuation, got %v", next)
	}
}

func TestCheckOverspeeding_Scenario(t *testing.T) {
	// sample_size=3, speed_limit=15, buffer=0; speeds
	// [10,16,20] -> avg 15.33 > 15 -> fires on the 3rd sample.
	cfg := OverspeedingConfig{SampleSize: 3, SpeedLimit: 15, BufferPct: 0}
	var state *OverspeedingState
	var fired bool

	state, fired = CheckOverspeeding(cfg, state, 10)
	if fired {
		t.Fatalf("should not fire on first sample")
	}
	state, fired = CheckOverspeeding(cfg, state, 16)
	if fired {
		t.Fatalf("should not fire on second sample")
	}
	state, fired = CheckOverspeeding(cfg, state, 20)
	if !fired {
		t.Fatalf("expected fire on third sample, avg=%v", state.AvgSpeed)
	}
}

func TestCheckAntiOverspeeding_FiresAtOrBelowLimit(t *testing.T) {
	cfg := OverspeedingConfig{SampleSize: 1, SpeedLimit: 15}
	_, fired := CheckAntiOverspeeding(cfg, nil, 15)
	if !fired {
		t.Fatalf("expected anti-violation to fire at exactly the speed limit")
	}
	_, fired2 := CheckAntiOverspeeding(cfg, nil, 16)
	if fired2 {
		t.Fatalf("expected anti-violation not to fire above the speed limit")
	}
}

func TestCheckRouteDeviation_Scenario(t *testing.T) {
	// Straight segment (0,0)-(0,1), query (0.0009,0.5)
	// ~100m east. threshold=50 fires, threshold=200 does not.
	route := []Point{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 0}}
	current := Point{Lat: 0.5, Lon: 0.0009}

	_, fired := CheckRouteDeviation(RouteDeviationConfig{ThresholdMeters: 50}, route, current)
	if !fired {
		t.Fatalf("expected deviation to fire with a 50m threshold")
	}

	_, fired2 := CheckRouteDeviation(RouteDeviationConfig{ThresholdMeters: 200}, route, current)
	if fired2 {
		t.Fatalf("expected deviation not to fire with a 200m threshold")
	}
}

func TestCheckRouteDeviation_TooFewPoints(t *testing.T) {
	_, fired := CheckRouteDeviation(RouteDeviationConfig{ThresholdMeters: 10}, []Point{{Lat: 0, Lon: 0}}, Point{Lat: 1, Lon: 1})
	if fired {
		t.Fatalf("expected no deviation check with fewer than 2 route points")
	}
}

func TestCheckStop_StationaryFires(t *testing.T) {
	cfg := StopDetectionConfig{SampleSize: 4, BatchCount: 2, MaxEligibleDistance: 10}
	var state *StopDetectionState
	var fired bool

	pt := Point{Lat: 12.9716, Lon: 77.5946}
	for i := 0; i < 4; i++ {
		state, fired = CheckStop(cfg, state, pt)
	}
	if !fired {
		t.Fatalf("expected stationary driver to trigger stop detection")
	}
}

func TestCheckStop_MovingDoesNotFire(t *testing.T) {
	cfg := StopDetectionConfig{SampleSize: 4, BatchCount: 2, MaxEligibleDistance: 10}
	var state *StopDetectionState
	var fired bool

	points := []Point{
		{Lat: 12.9716, Lon: 77.5946},
		{Lat: 12.98, Lon: 77.6},
		{Lat: 13.0, Lon: 77.65},
		{Lat: 13.05, Lon: 77.7},
	}
	for _, pt := range points {
		state, fired = CheckStop(cfg, state, pt)
	}
	if fired {
		t.Fatalf("expected a moving driver not to trigger stop detection")
	}
}
