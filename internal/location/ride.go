package location

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/richxcame/driver-location/pkg/common"
	"github.com/richxcame/driver-location/pkg/logger"
)

// RideStartRequest carries the dispatcher's ride-start event. PlateNumber is
// optional; when present it seeds the plate cache the external GPS path
// reads.
type RideStartRequest struct {
	Lat                float64    `json:"lat"`
	Lon                float64    `json:"lon"`
	DriverID           DriverID   `json:"driverId"`
	MerchantID         MerchantID `json:"merchantId"`
	Polyline           string     `json:"polyline,omitempty"`
	PlateNumber        string     `json:"plateNumber,omitempty"`
	VehicleServiceTier string     `json:"vehicleServiceTier,omitempty"`
	GroupID            string     `json:"groupId,omitempty"`
}

// RideEndRequest carries the dispatcher's ride-end event.
type RideEndRequest struct {
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	DriverID   DriverID   `json:"driverId"`
	MerchantID MerchantID `json:"merchantId"`
	Cancelled  bool       `json:"cancelled,omitempty"`
}

// RideEndResponse returns the collected trajectory to the caller.
type RideEndResponse struct {
	RideID   RideID   `json:"rideId"`
	DriverID DriverID `json:"driverId"`
	Loc      []Point  `json:"loc"`
}

// RideStart marks the driver as assigned (NEW) under the on_ride key and,
// when a plate is supplied, seeds the plate cache for external GPS
// ingestion. Subsequent off-ride updates route through the drainer's
// new-ride lane until pickup.
func (s *Service) RideStart(ctx context.Context, rideID RideID, req RideStartRequest) error {
	city, ok := s.geofence.Lookup(Point{Lat: req.Lat, Lon: req.Lon})
	if !ok {
		return common.NewUnserviceableError(req.Lat, req.Lon)
	}

	details := RideDetails{RideID: rideID, RideStatus: RideStatusNew, Polyline: req.Polyline}
	encoded, err := json.Marshal(details)
	if err != nil {
		return common.NewSerializationError("encode ride details", err)
	}
	if err := s.store.Set(ctx, s.keys.OnRide(req.MerchantID, city, req.DriverID), string(encoded), s.cfg.OnRideExpiry); err != nil {
		return common.NewInternalError("on_ride set failed", err)
	}

	if req.PlateNumber != "" {
		entry := DriverByPlate{
			DriverID:           req.DriverID,
			MerchantID:         req.MerchantID,
			VehicleServiceTier: req.VehicleServiceTier,
			BusNumber:          req.PlateNumber,
			GroupID:            req.GroupID,
		}
		encodedPlate, marshalErr := json.Marshal(entry)
		if marshalErr != nil {
			return common.NewSerializationError("encode plate cache entry", marshalErr)
		}
		if err := s.store.Set(ctx, s.keys.DriverByPlate(req.PlateNumber), string(encodedPlate), s.cfg.ActiveTripExpiry); err != nil {
			logger.WarnContext(ctx, "plate cache seed failed",
				zap.String("plate", req.PlateNumber), zap.Error(err))
		}
	}
	return nil
}

// RideInProgress flips the ride to INPROGRESS after pickup; from here every
// accepted point persists into the trajectory instead of the geo index.
func (s *Service) RideInProgress(ctx context.Context, rideID RideID, req RideStartRequest) error {
	city, ok := s.geofence.Lookup(Point{Lat: req.Lat, Lon: req.Lon})
	if !ok {
		return common.NewUnserviceableError(req.Lat, req.Lon)
	}

	details := RideDetails{RideID: rideID, RideStatus: RideStatusInProgress, Polyline: req.Polyline}
	encoded, err := json.Marshal(details)
	if err != nil {
		return common.NewSerializationError("encode ride details", err)
	}
	if err := s.store.Set(ctx, s.keys.OnRide(req.MerchantID, city, req.DriverID), string(encoded), s.cfg.OnRideExpiry); err != nil {
		return common.NewInternalError("on_ride set failed", err)
	}
	return nil
}

// RideEnd records the terminal ride status, collects and deletes the stored
// trajectory, posts it to the bulk callback when non-empty, and clears
// detection state for the driver.
func (s *Service) RideEnd(ctx context.Context, rideID RideID, req RideEndRequest) (*RideEndResponse, error) {
	city, ok := s.geofence.Lookup(Point{Lat: req.Lat, Lon: req.Lon})
	if !ok {
		return nil, common.NewUnserviceableError(req.Lat, req.Lon)
	}

	status := RideStatusCompleted
	if req.Cancelled {
		status = RideStatusCancelled
	}
	details := RideDetails{RideID: rideID, RideStatus: status}
	encoded, err := json.Marshal(details)
	if err != nil {
		return nil, common.NewSerializationError("encode ride details", err)
	}
	if err := s.store.Set(ctx, s.keys.OnRide(req.MerchantID, city, req.DriverID), string(encoded), s.cfg.RideEndExpiry); err != nil {
		return nil, common.NewInternalError("on_ride set failed", err)
	}

	trajKey := s.keys.OnRideLoc(req.MerchantID, city, req.DriverID)
	members, err := s.store.ZRange(ctx, trajKey)
	if err != nil {
		return nil, common.NewInternalError("trajectory read failed", err)
	}
	sort.Strings(members)

	loc := make([]Point, 0, len(members))
	if len(members) > 0 {
		positions, posErr := s.store.GeoPos(ctx, trajKey, members...)
		if posErr != nil {
			return nil, common.NewInternalError("trajectory geopos failed", posErr)
		}
		for _, p := range positions {
			if p == nil {
				continue
			}
			loc = append(loc, *p)
		}
	}

	if err := s.store.Del(ctx, trajKey); err != nil {
		return nil, common.NewInternalError("trajectory delete failed", err)
	}

	if len(loc) > 0 {
		if cbErr := s.postBulkCallback(ctx, BulkLocationCallback{RideID: rideID, DriverID: req.DriverID, Loc: loc}); cbErr != nil {
			logger.ErrorContext(ctx, "ride-end bulk callback failed",
				zap.String("ride_id", rideID), zap.String("driver_id", req.DriverID), zap.Error(cbErr))
		}
	}

	if s.engine != nil {
		s.engine.ClearDriver(req.DriverID)
	}

	return &RideEndResponse{RideID: rideID, DriverID: req.DriverID, Loc: loc}, nil
}

// DriverDetailsRequest sets a driver's self-reported mode.
type DriverDetailsRequest struct {
	DriverID DriverID   `json:"driverId"`
	Mode     DriverMode `json:"mode"`
}

// SetDriverDetails stores the driver's mode record.
func (s *Service) SetDriverDetails(ctx context.Context, req DriverDetailsRequest) error {
	switch req.Mode {
	case DriverModeOnline, DriverModeOffline, DriverModeSilent:
	default:
		return common.NewValidationError("unknown driver mode")
	}
	encoded, err := json.Marshal(map[string]string{"driverId": req.DriverID, "mode": string(req.Mode)})
	if err != nil {
		return common.NewSerializationError("encode driver details", err)
	}
	if err := s.store.Set(ctx, s.keys.DriverDetails(req.DriverID), string(encoded), s.cfg.OnRideExpiry); err != nil {
		return common.NewInternalError("driver details set failed", err)
	}
	return nil
}

// DriverMode returns the stored mode for a driver, defaulting to ONLINE when
// no record exists.
func (s *Service) DriverMode(ctx context.Context, driverID DriverID) (DriverMode, error) {
	raw, err := s.store.Get(ctx, s.keys.DriverDetails(driverID))
	if errors.Is(err, ErrNotFound) {
		return DriverModeOnline, nil
	}
	if err != nil {
		return "", common.NewInternalError("driver details lookup failed", err)
	}
	var rec struct {
		Mode DriverMode `json:"mode"`
	}
	if json.Unmarshal([]byte(raw), &rec) != nil || rec.Mode == "" {
		return DriverModeOnline, nil
	}
	return rec.Mode, nil
}

// Healthy verifies the store round-trip used by the readiness probe.
func (s *Service) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.store.Ping(ctx)
}
