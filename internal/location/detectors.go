package location

import (
	"sync"
	"time"
)

// DetectionInput is the per-point context handed to every registered detector.
type DetectionInput struct {
	Point Point
	TS    time.Time
	Speed *float64
	Route []Point // decoded ride polyline, empty when the ride has none
}

// Detector is the capability set every violation detector implements: a name
// for the registry, an enablement switch, and a pure check over (state,
// input) returning the new state plus the violation/anti-violation verdicts
// fed into the hysteretic FSM.
type Detector interface {
	Name() string
	Enabled() bool
	Check(state any, in DetectionInput) (any, bool, bool)
}

// ViolationAlert is one alert edge produced by the FSM; posted best-effort to
// the violation endpoint.
type ViolationAlert struct {
	DriverID   DriverID        `json:"driverId"`
	RideID     RideID          `json:"rideId"`
	Detector   string          `json:"detectionType"`
	Status     DetectionStatus `json:"status"`
	Point      Point           `json:"pt"`
	DetectedAt time.Time       `json:"detectedAt"`
}

// detectorRuntime is the per-driver, per-detector slot: the FSM's previous
// status plus the detector's opaque rolling state. The state lives for one
// ride and is cleared on ride end.
type detectorRuntime struct {
	prev  *DetectionStatus
	state any
}

// DetectionEngine runs every registered detector over each on-ride point and
// folds the verdicts through the hysteretic FSM. Detector state is confined
// behind the engine's mutex; callers only see alert edges.
type DetectionEngine struct {
	mu        sync.Mutex
	detectors map[string]Detector
	order     []string
	drivers   map[DriverID]map[string]*detectorRuntime
}

// NewDetectionEngine builds an engine over the given registry. Disabled
// detectors are registered but skipped at check time, so enablement can be
// asserted without re-wiring.
func NewDetectionEngine(detectors ...Detector) *DetectionEngine {
	e := &DetectionEngine{
		detectors: make(map[string]Detector, len(detectors)),
		drivers:   make(map[DriverID]map[string]*detectorRuntime),
	}
	for _, d := range detectors {
		if _, dup := e.detectors[d.Name()]; dup {
			continue
		}
		e.detectors[d.Name()] = d
		e.order = append(e.order, d.Name())
	}
	return e
}

// Detector returns the registered detector with the given name.
func (e *DetectionEngine) Detector(name string) (Detector, bool) {
	d, ok := e.detectors[name]
	return d, ok
}

// ProcessPoint runs every enabled detector over one point and returns the
// alert edges (Violated / AntiViolated transitions) that fired. Continued*
// states are silent.
func (e *DetectionEngine) ProcessPoint(driverID DriverID, rideID RideID, in DetectionInput) []ViolationAlert {
	e.mu.Lock()
	defer e.mu.Unlock()

	slots, ok := e.drivers[driverID]
	if !ok {
		slots = make(map[string]*detectorRuntime, len(e.order))
		e.drivers[driverID] = slots
	}

	var alerts []ViolationAlert
	for _, name := range e.order {
		det := e.detectors[name]
		if !det.Enabled() {
			continue
		}

		rt, ok := slots[name]
		if !ok {
			rt = &detectorRuntime{}
			slots[name] = rt
		}

		state, curV, curA := det.Check(rt.state, in)
		rt.state = state

		next := NextStatus(rt.prev, curV, curA)
		prev := rt.prev
		rt.prev = &next

		if !FiresAlert(next) {
			continue
		}
		// The very first status for a ride is ContinuedAntiViolation by the
		// FSM's none-row; an immediate repeat of the same alert state is a
		// continuation, not an edge.
		if prev != nil && *prev == next {
			continue
		}
		violationAlertsTotal.WithLabelValues(name, string(next)).Inc()
		alerts = append(alerts, ViolationAlert{
			DriverID:   driverID,
			RideID:     rideID,
			Detector:   name,
			Status:     next,
			Point:      in.Point,
			DetectedAt: in.TS,
		})
	}
	return alerts
}

// ClearDriver drops all detector state for a driver; called at ride end.
func (e *DetectionEngine) ClearDriver(driverID DriverID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.drivers, driverID)
}

// --- Detector implementations over the detection primitives ---------------

// overspeedingState pairs the mirrored violation/anti windows; each resets
// independently once full, matching the primitive's semantics.
type overspeedingState struct {
	v *OverspeedingState
	a *OverspeedingState
}

// OverspeedingDetector folds speeds through the rolling-average check and its
// anti mirror.
type OverspeedingDetector struct {
	Cfg OverspeedingConfig
	On  bool
}

func (d *OverspeedingDetector) Name() string  { return "overspeeding" }
func (d *OverspeedingDetector) Enabled() bool { return d.On }

func (d *OverspeedingDetector) Check(state any, in DetectionInput) (any, bool, bool) {
	if in.Speed == nil {
		return state, false, false
	}
	st, _ := state.(*overspeedingState)
	if st == nil {
		st = &overspeedingState{}
	}
	var curV, curA bool
	st.v, curV = CheckOverspeeding(d.Cfg, st.v, *in.Speed)
	st.a, curA = CheckAntiOverspeeding(d.Cfg, st.a, *in.Speed)
	return st, curV, curA
}

// RouteDeviationDetector is stateless: it projects each point onto the ride's
// polyline. Anti-violation is the complement at the same threshold.
type RouteDeviationDetector struct {
	Cfg RouteDeviationConfig
	On  bool
}

func (d *RouteDeviationDetector) Name() string  { return "route_deviation" }
func (d *RouteDeviationDetector) Enabled() bool { return d.On }

func (d *RouteDeviationDetector) Check(state any, in DetectionInput) (any, bool, bool) {
	if len(in.Route) < 2 {
		return state, false, false
	}
	_, deviated := CheckRouteDeviation(d.Cfg, in.Route, in.Point)
	return state, deviated, !deviated
}

// StopDetector fires when the driver has stayed within MaxEligibleDistance
// across the whole sample window; its anti mirror fires when a full window
// shows them moving again. Both verdicts come off the same double-buffered
// window, so neither reports until enough datapoints have accumulated.
type StopDetector struct {
	Cfg StopDetectionConfig
	On  bool
}

func (d *StopDetector) Name() string  { return "stop" }
func (d *StopDetector) Enabled() bool { return d.On }

func (d *StopDetector) Check(state any, in DetectionInput) (any, bool, bool) {
	st, _ := state.(*StopDetectionState)
	seen := 1
	if st != nil {
		seen = st.totalDataPoints + 1
	}
	st, stopped := CheckStop(d.Cfg, st, in.Point)
	if seen < d.Cfg.SampleSize {
		return st, false, false
	}
	return st, stopped, !stopped
}
