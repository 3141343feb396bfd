package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/richxcame/driver-location/pkg/async"
	"github.com/richxcame/driver-location/pkg/cache"
	"github.com/richxcame/driver-location/pkg/common"
	"github.com/richxcame/driver-location/pkg/httpclient"
	"github.com/richxcame/driver-location/pkg/kafkaevents"
	"github.com/richxcame/driver-location/pkg/logger"
	"github.com/richxcame/driver-location/pkg/resilience"
)

// StreamPublisher is the slice of the Kafka producer the pipeline needs;
// kept as an interface so tests can capture published messages.
type StreamPublisher interface {
	PublishLocationUpdate(ctx context.Context, driverID string, update kafkaevents.LocationUpdate) error
	PublishRegionChange(ctx context.Context, driverID string, ev kafkaevents.RegionChange) error
}

// DemandCounter is the optional H3 demand-heatmap hook; nil disables it.
type DemandCounter interface {
	IncrementDemand(ctx context.Context, latitude, longitude float64)
}

// ServiceConfig collects the ingestion/query tunables the handlers and the
// pipeline share.
type ServiceConfig struct {
	LocationUpdateLimit    int
	LocationUpdateInterval time.Duration
	MinLocationAccuracy    float64
	AccuracyBuffer         float64
	LastTimestampExpiry    time.Duration
	BatchSize              int64
	OnRideExpiry           time.Duration
	RideEndExpiry          time.Duration
	ProcessingLockTTL      time.Duration
	ActiveTripExpiry       time.Duration
	BucketSize             time.Duration
	NearbyBucketThreshold  int64
	VehicleTypes           []string
}

// Service is the request-handling core: ingestion, nearby query, ride
// lifecycle, and the external GPS path all hang off it.
type Service struct {
	store    *Store
	keys     KeySchema
	geofence *Geofence
	limiter  *RateLimiter
	drainer  *Drainer
	stream   StreamPublisher
	auth     *Authenticator
	engine   *DetectionEngine
	demand   DemandCounter

	bulkClient   *httpclient.Client
	bulkBreaker  *resilience.CircuitBreaker
	alertClient  *httpclient.Client
	alertBreaker *resilience.CircuitBreaker

	externalGPSAPIKey string
	cfg               ServiceConfig
}

// ServiceDeps carries the collaborators main wires into NewService. Optional
// fields (breakers, demand, alert client) may be nil.
type ServiceDeps struct {
	Store    *Store
	Keys     KeySchema
	Geofence *Geofence
	Limiter  *RateLimiter
	Drainer  *Drainer
	Stream   StreamPublisher
	Auth     *Authenticator
	Engine   *DetectionEngine
	Demand   DemandCounter

	BulkClient   *httpclient.Client
	BulkBreaker  *resilience.CircuitBreaker
	AlertClient  *httpclient.Client
	AlertBreaker *resilience.CircuitBreaker

	ExternalGPSAPIKey string
}

// NewService assembles the pipeline.
func NewService(deps ServiceDeps, cfg ServiceConfig) *Service {
	return &Service{
		store:             deps.Store,
		keys:              deps.Keys,
		geofence:          deps.Geofence,
		limiter:           deps.Limiter,
		drainer:           deps.Drainer,
		stream:            deps.Stream,
		auth:              deps.Auth,
		engine:            deps.Engine,
		demand:            deps.Demand,
		bulkClient:        deps.BulkClient,
		bulkBreaker:       deps.BulkBreaker,
		alertClient:       deps.AlertClient,
		alertBreaker:      deps.AlertBreaker,
		externalGPSAPIKey: deps.ExternalGPSAPIKey,
		cfg:               cfg,
	}
}

// UpdateDriverLocation is the driver-app ingestion entrypoint: authenticate
// the token, then run the shared per-driver pipeline over the batch.
func (s *Service) UpdateDriverLocation(ctx context.Context, token string, merchantID MerchantID, vehicleType VehicleType, batch []LocationUpdate) error {
	if len(batch) == 0 {
		return common.NewValidationError("location batch is empty")
	}
	for _, u := range batch {
		if !u.Pt.Validate() {
			return common.NewValidationError(fmt.Sprintf("invalid coordinates (%.6f, %.6f)", u.Pt.Lat, u.Pt.Lon))
		}
	}

	city, ok := s.geofence.Lookup(batch[0].Pt)
	if !ok {
		return common.NewUnserviceableError(batch[0].Pt.Lat, batch[0].Pt.Lon)
	}

	driverID, err := s.auth.Authenticate(ctx, token, merchantID)
	if err != nil {
		return err
	}

	return s.processDriverBatch(ctx, driverID, merchantID, city, vehicleType, batch, "")
}

// processDriverBatch is the shared core behind the driver-app and external
// GPS paths: rate limit, processing lock, filter, ride-state branch.
func (s *Service) processDriverBatch(ctx context.Context, driverID DriverID, merchantID MerchantID, city CityName, vehicleType VehicleType, batch []LocationUpdate, mode DriverMode) error {
	if err := s.limiter.Allow(ctx, s.keys.RateLimit(driverID), s.cfg.LocationUpdateLimit, s.cfg.LocationUpdateInterval); err != nil {
		if errors.Is(err, ErrRateLimited) {
			return common.NewHitsLimitExceededError(driverID)
		}
		return common.NewInternalError("rate limit check failed", err)
	}

	lockKey := s.keys.ProcessingLock(driverID, city)
	locked, err := s.store.SetNX(ctx, lockKey, "true", s.cfg.ProcessingLockTTL)
	if err != nil {
		return common.NewInternalError("processing lock acquire failed", err)
	}
	if !locked {
		return common.NewUnderProcessingError(driverID)
	}
	defer func() {
		if delErr := s.store.Del(context.WithoutCancel(ctx), lockKey); delErr != nil {
			logger.WarnContext(ctx, "processing lock release failed",
				zap.String("driver_id", driverID), zap.Error(delErr))
		}
	}()

	points := s.filterBatch(ctx, driverID, batch)
	if len(points) == 0 {
		return nil
	}

	ride, err := s.rideDetails(ctx, merchantID, city, driverID)
	if err != nil {
		return err
	}

	if ride != nil && ride.RideStatus == RideStatusInProgress {
		return s.processOnRide(ctx, driverID, merchantID, city, ride, points, mode)
	}
	return s.processOffRide(ctx, driverID, merchantID, city, vehicleType, ride, points, mode)
}

// filterBatch drops inaccurate fixes, sorts the batch by timestamp, and
// discards anything at or before the driver's last stored fix time.
func (s *Service) filterBatch(ctx context.Context, driverID DriverID, batch []LocationUpdate) []LocationUpdate {
	maxAccuracy := s.cfg.MinLocationAccuracy + s.cfg.AccuracyBuffer

	points := make([]LocationUpdate, 0, len(batch))
	for _, u := range batch {
		if u.Accuracy != nil && *u.Accuracy > maxAccuracy {
			continue
		}
		points = append(points, u)
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].TS.Before(points[j].TS) })

	lastTS, ok := s.lastTimestamp(ctx, driverID)
	if !ok {
		return points
	}
	fresh := points[:0]
	for _, u := range points {
		if !u.TS.After(lastTS) {
			continue
		}
		fresh = append(fresh, u)
	}
	return fresh
}

func (s *Service) lastTimestamp(ctx context.Context, driverID DriverID) (time.Time, bool) {
	raw, err := s.store.Get(ctx, s.keys.LastTimestamp(driverID))
	if err != nil {
		return time.Time{}, false
	}
	ts, parseErr := time.Parse(time.RFC3339, raw)
	if parseErr != nil {
		return time.Time{}, false
	}
	return ts, true
}

// rideDetails loads and decodes the driver's on_ride record; nil when the
// driver has no assigned ride.
func (s *Service) rideDetails(ctx context.Context, merchantID MerchantID, city CityName, driverID DriverID) (*RideDetails, error) {
	raw, err := s.store.Get(ctx, s.keys.OnRide(merchantID, city, driverID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, common.NewInternalError("on_ride lookup failed", err)
	}
	var rd RideDetails
	if jsonErr := json.Unmarshal([]byte(raw), &rd); jsonErr != nil {
		return nil, common.NewSerializationError("decode ride details", jsonErr)
	}
	return &rd, nil
}

// processOnRide persists each point into the ride trajectory, flushing a full
// chunk through the bulk callback, and streams every point with ON_RIDE
// status. Violation detectors run per point; their alerts post best-effort.
func (s *Service) processOnRide(ctx context.Context, driverID DriverID, merchantID MerchantID, city CityName, ride *RideDetails, points []LocationUpdate, mode DriverMode) error {
	trajKey := s.keys.OnRideLoc(merchantID, city, driverID)
	var route []Point
	if ride.Polyline != "" {
		route = DecodePolyline(ride.Polyline)
	}

	var firstErr error
	for _, u := range points {
		if err := s.store.TrajectoryAppend(ctx, trajKey, u.TS, u.Pt, s.cfg.OnRideExpiry); err != nil {
			if firstErr == nil {
				firstErr = common.NewInternalError("trajectory append failed", err)
			}
			continue
		}

		card, err := s.store.ZCard(ctx, trajKey)
		if err == nil && card >= s.cfg.BatchSize {
			if flushErr := s.flushTrajectory(ctx, trajKey, ride.RideID, driverID); flushErr != nil {
				logger.ErrorContext(ctx, "trajectory chunk flush failed",
					zap.String("driver_id", driverID), zap.String("ride_id", ride.RideID), zap.Error(flushErr))
				if firstErr == nil {
					firstErr = flushErr
				}
			}
		}

		locationUpdatesTotal.WithLabelValues("on_ride").Inc()
		s.streamUpdate(ctx, driverID, merchantID, ride.RideID, kafkaevents.RideStatusOnRide, u, mode)

		if s.engine != nil {
			alerts := s.engine.ProcessPoint(driverID, ride.RideID, DetectionInput{
				Point: u.Pt, TS: u.TS, Speed: u.Speed, Route: route,
			})
			for _, alert := range alerts {
				s.postViolationAlert(ctx, alert)
			}
		}
	}
	return firstErr
}

// flushTrajectory reads the full trajectory chunk in timestamp order,
// resolves coordinates, posts the bulk callback, and truncates the set on
// success.
func (s *Service) flushTrajectory(ctx context.Context, trajKey string, rideID RideID, driverID DriverID) error {
	members, err := s.store.ZRange(ctx, trajKey)
	if err != nil {
		return common.NewInternalError("trajectory read failed", err)
	}
	if len(members) == 0 {
		return nil
	}
	sort.Strings(members)

	positions, err := s.store.GeoPos(ctx, trajKey, members...)
	if err != nil {
		return common.NewInternalError("trajectory geopos failed", err)
	}
	loc := make([]Point, 0, len(positions))
	for _, p := range positions {
		if p == nil {
			continue
		}
		loc = append(loc, *p)
	}

	payload := BulkLocationCallback{RideID: rideID, DriverID: driverID, Loc: loc}
	if err := s.postBulkCallback(ctx, payload); err != nil {
		return common.NewDriverBulkLocationUpdateFailedError(err)
	}

	if err := s.store.Del(ctx, trajKey); err != nil {
		return common.NewInternalError("trajectory truncate failed", err)
	}
	return nil
}

func (s *Service) postBulkCallback(ctx context.Context, payload BulkLocationCallback) error {
	if s.bulkClient == nil {
		return nil
	}
	call := func(ctx context.Context) (interface{}, error) {
		return s.bulkClient.Post(ctx, "", payload, nil)
	}
	var err error
	if s.bulkBreaker != nil {
		_, err = s.bulkBreaker.Execute(ctx, call)
	} else {
		_, err = call(ctx)
	}
	return err
}

// processOffRide refreshes the driver's last-fix timestamp, enqueues every
// point to the drainer for geo-bucket indexing, and streams telemetry.
func (s *Service) processOffRide(ctx context.Context, driverID DriverID, merchantID MerchantID, city CityName, vehicleType VehicleType, ride *RideDetails, points []LocationUpdate, mode DriverMode) error {
	latest := points[len(points)-1].TS
	tsKey := s.keys.LastTimestamp(driverID)
	if err := s.store.Set(ctx, tsKey, latest.UTC().Format(time.RFC3339), s.cfg.LastTimestampExpiry); err != nil {
		return common.NewInternalError("last timestamp update failed", err)
	}

	newRide := ride != nil && ride.RideStatus == RideStatusNew
	status := kafkaevents.RideStatusIdle
	rideID := RideID("")
	if newRide {
		status = kafkaevents.RideStatusOnPickup
		rideID = ride.RideID
	}

	dims := Dimensions{MerchantID: merchantID, City: city, VehicleType: vehicleType, NewRide: newRide}
	for _, u := range points {
		if err := s.drainer.Enqueue(ctx, DrainerEntry{Dims: dims, Point: u.Pt, DriverID: driverID}); err != nil {
			logger.ErrorContext(ctx, "drainer enqueue failed",
				zap.String("driver_id", driverID), zap.Error(err))
			continue
		}
		locationUpdatesTotal.WithLabelValues("off_ride").Inc()
		s.streamUpdate(ctx, driverID, merchantID, rideID, status, u, mode)
	}

	if s.demand != nil {
		s.demand.IncrementDemand(ctx, points[0].Pt.Lat, points[0].Pt.Lon)
	}
	s.trackRegionChange(ctx, driverID, merchantID, city)
	return nil
}

// streamUpdate publishes one point to the location-update topic; failures
// are logged by the producer and never block the caller.
func (s *Service) streamUpdate(ctx context.Context, driverID DriverID, merchantID MerchantID, rideID RideID, status string, u LocationUpdate, mode DriverMode) {
	if s.stream == nil {
		return
	}
	_ = s.stream.PublishLocationUpdate(ctx, driverID, kafkaevents.LocationUpdate{
		RideID:       rideID,
		MerchantID:   merchantID,
		Pt:           kafkaevents.Point{Lat: u.Pt.Lat, Lon: u.Pt.Lon},
		TS:           u.TS,
		ST:           time.Now().UTC(),
		Acc:          u.Accuracy,
		RideStatus:   status,
		DriverActive: true,
		Mode:         string(mode),
	})
}

// trackRegionChange compares the driver's cached serviceability region with
// the current city and emits an informational event on a transition.
func (s *Service) trackRegionChange(ctx context.Context, driverID DriverID, merchantID MerchantID, city CityName) {
	key := cache.GeofenceRegionKey(driverID)
	prev, err := s.store.Get(ctx, key)
	if err == nil && prev != "" && prev != city && s.stream != nil {
		_ = s.stream.PublishRegionChange(ctx, driverID, kafkaevents.RegionChange{
			DriverID:   driverID,
			MerchantID: merchantID,
			From:       prev,
			To:         city,
			At:         time.Now().UTC(),
		})
	}
	if err := s.store.Set(ctx, key, string(city), s.cfg.LastTimestampExpiry); err != nil {
		logger.WarnContext(ctx, "region cache update failed",
			zap.String("driver_id", driverID), zap.Error(err))
	}
}

// postViolationAlert fires an alert POST in a sibling task; delivery is
// best-effort and never blocks ingestion.
func (s *Service) postViolationAlert(ctx context.Context, alert ViolationAlert) {
	if s.alertClient == nil {
		return
	}
	async.Go(ctx, "violation-alert", func(ctx context.Context) {
		call := func(ctx context.Context) (interface{}, error) {
			return s.alertClient.Post(ctx, "", alert, nil)
		}
		var err error
		if s.alertBreaker != nil {
			_, err = s.alertBreaker.Execute(ctx, call)
		} else {
			_, err = call(ctx)
		}
		if err != nil {
			logger.WarnContext(ctx, "violation alert post failed",
				zap.String("driver_id", alert.DriverID),
				zap.String("detector", alert.Detector), zap.Error(err))
		}
	})
}
