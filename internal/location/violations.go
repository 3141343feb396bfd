package location

import "math"

// DetectionStatus is the hysteretic FSM's state, driving when an alert is
// actually emitted versus silently continued.
type DetectionStatus string

const (
	StatusViolated               DetectionStatus = "Violated"
	StatusAntiViolated           DetectionStatus = "AntiViolated"
	StatusContinuedViolation     DetectionStatus = "ContinuedViolation"
	StatusContinuedAntiViolation DetectionStatus = "ContinuedAntiViolation"
)

// NextStatus runs one step of the hysteretic decision tree. prev is nil on
// the very first call for a driver, which always yields
// ContinuedAntiViolation regardless of curV/curA.
func NextStatus(prev *DetectionStatus, curV, curA bool) DetectionStatus {
	if prev == nil {
		return StatusContinuedAntiViolation
	}
	switch *prev {
	case StatusViolated:
		if curA {
			return StatusAntiViolated
		}
		return StatusContinuedViolation
	case StatusAntiViolated:
		if curV {
			return StatusViolated
		}
		return StatusContinuedAntiViolation
	case StatusContinuedAntiViolation:
		if curV {
			return StatusViolated
		}
		return StatusContinuedAntiViolation
	case StatusContinuedViolation:
		if curA {
			return StatusAntiViolated
		}
		return StatusContinuedViolation
	default:
		return StatusContinuedAntiViolation
	}
}

// FiresAlert reports whether transitioning into status is an edge that
// should emit an alert event: only the Violated and AntiViolated states do;
// the Continued* states are silent.
func FiresAlert(status DetectionStatus) bool {
	return status == StatusViolated || status == StatusAntiViolated
}

// haversineMeters returns the great-circle distance between two points, in
// meters.
func haversineMeters(a, b Point) float64 {
	const earthRadiusMeters = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180.0
	dLon := (b.Lon - a.Lon) * math.Pi / 180.0
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180.0)*math.Cos(b.Lat*math.Pi/180.0)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// --- Overspeeding (and its anti-violation mirror) -------------------------

// OverspeedingState is the rolling-average state carried between calls.
type OverspeedingState struct {
	AvgSpeed        float64
	TotalDataPoints int
}

// OverspeedingConfig tunes the overspeeding detector.
type OverspeedingConfig struct {
	SampleSize int
	SpeedLimit float64
	BufferPct  float64 // e.g. 0.1 for a 10% buffer
}

// CheckOverspeeding folds one more speed sample into state and reports
// whether the rolling average exceeds speedLimit*(1+buffer). Once the
// sample count reaches SampleSize the window resets on the next call,
// mirroring the upstream "reset once full" behavior.
func CheckOverspeeding(cfg OverspeedingConfig, state *OverspeedingState, speed float64) (*OverspeedingState, bool) {
	if state != nil && state.TotalDataPoints >= cfg.SampleSize {
		return &OverspeedingState{AvgSpeed: speed, TotalDataPoints: 1}, false
	}

	prevAvg, prevCount := 0.0, 0
	if state != nil {
		prevAvg, prevCount = state.AvgSpeed, state.TotalDataPoints
	}
	count := prevCount + 1
	avg := (prevAvg*float64(prevCount) + speed) / float64(count)

	fired := count == cfg.SampleSize && avg > cfg.SpeedLimit*(1+cfg.BufferPct)
	return &OverspeedingState{AvgSpeed: avg, TotalDataPoints: count}, fired
}

// CheckAntiOverspeeding is CheckOverspeeding's mirror: it fires once the
// rolling average drops to or below the bare speed limit (no buffer).
func CheckAntiOverspeeding(cfg OverspeedingConfig, state *OverspeedingState, speed float64) (*OverspeedingState, bool) {
	if state != nil && state.TotalDataPoints >= cfg.SampleSize {
		return &OverspeedingState{AvgSpeed: speed, TotalDataPoints: 1}, false
	}

	prevAvg, prevCount := 0.0, 0
	if state != nil {
		prevAvg, prevCount = state.AvgSpeed, state.TotalDataPoints
	}
	count := prevCount + 1
	avg := (prevAvg*float64(prevCount) + speed) / float64(count)

	fired := count == cfg.SampleSize && avg <= cfg.SpeedLimit
	return &OverspeedingState{AvgSpeed: avg, TotalDataPoints: count}, fired
}

// --- Route deviation -------------------------------------------------------

// RouteDeviationConfig tunes the route-deviation detector.
type RouteDeviationConfig struct {
	ThresholdMeters float64
}

// CheckRouteDeviation decodes no polyline itself; callers pass the already
// decoded route (DecodePolyline). It reports the perpendicular distance
// from current to the nearest point on the nearest segment, firing when it
// exceeds the configured threshold.
func CheckRouteDeviation(cfg RouteDeviationConfig, route []Point, current Point) (float64, bool) {
	if len(route) < 2 {
		return 0, false
	}

	minDist := math.MaxFloat64
	for i := 0; i < len(route)-1; i++ {
		closest := closestPointOnSegment(route[i], route[i+1], current)
		d := haversineMeters(closest, current)
		if d < minDist {
			minDist = d
		}
	}

	return minDist, minDist > cfg.ThresholdMeters
}

// closestPointOnSegment projects p onto segment p1-p2, clamped to the
// segment's endpoints, treating lon/lat as planar coordinates, adequate at
// the scale of a single route segment.
func closestPointOnSegment(p1, p2, p Point) Point {
	x, y := p.Lon, p.Lat
	x1, y1 := p1.Lon, p1.Lat
	x2, y2 := p2.Lon, p2.Lat

	a := x - x1
	b := y - y1
	c := x2 - x1
	d := y2 - y1

	lenSq := c*c + d*d
	param := -1.0
	if lenSq != 0 {
		param = (a*c + b*d) / lenSq
	}

	var xx, yy float64
	switch {
	case param < 0:
		xx, yy = x1, y1
	case param > 1:
		xx, yy = x2, y2
	default:
		xx, yy = x1+param*c, y1+param*d
	}

	return Point{Lon: xx, Lat: yy}
}

// --- Stop detection ---------------------------------------------------------

// stopBatch is one bucket of the stop detector's double-buffered deque: a
// running average point over up to batchSize datapoints.
type stopBatch struct {
	avg   Point
	count int
}

// StopDetectionState is the deque of batch averages carried between calls.
type StopDetectionState struct {
	batches        []stopBatch
	totalDataPoints int
}

// StopDetectionConfig tunes the stop detector.
type StopDetectionConfig struct {
	SampleSize          int
	BatchCount          int
	MaxEligibleDistance float64 // meters
}

func (c StopDetectionConfig) batchSize() int {
	if c.BatchCount <= 0 {
		return c.SampleSize
	}
	size := (c.SampleSize + c.BatchCount - 1) / c.BatchCount
	if size < 1 {
		return 1
	}
	return size
}

// CheckStop accumulates point into state's back batch; once SampleSize
// datapoints have been seen across the deque, it compares the front and
// back batch averages and fires if they are within MaxEligibleDistance:
// the driver has stayed close to the same spot across the whole window.
func CheckStop(cfg StopDetectionConfig, state *StopDetectionState, point Point) (*StopDetectionState, bool) {
	if state == nil {
		state = &StopDetectionState{}
	}

	batchSize := cfg.batchSize()
	if len(state.batches) == 0 || state.batches[len(state.batches)-1].count >= batchSize {
		state.batches = append(state.batches, stopBatch{})
	}

	back := &state.batches[len(state.batches)-1]
	back.avg = Point{
		Lat: (back.avg.Lat*float64(back.count) + point.Lat) / float64(back.count+1),
		Lon: (back.avg.Lon*float64(back.count) + point.Lon) / float64(back.count+1),
	}
	back.count++
	state.totalDataPoints++

	if state.totalDataPoints < cfg.SampleSize {
		return state, false
	}

	front := state.batches[0]
	last := state.batches[len(state.batches)-1]
	dist := haversineMeters(front.avg, last.avg)
	fired := dist <= cfg.MaxEligibleDistance

	// Slide the window: drop the front batch and carry the rest forward.
	if len(state.batches) > 1 {
		dropped := state.batches[0]
		state.batches = state.batches[1:]
		state.totalDataPoints -= dropped.count
	}

	return state, fired
}
