package location

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/richxcame/driver-location/pkg/common"
	"github.com/richxcame/driver-location/pkg/geo"
)

// NearbyRequest is a dispatch-side radius search. VehicleType empty means
// fan out across every configured vehicle type.
type NearbyRequest struct {
	Lat         float64
	Lon         float64
	RadiusKm    float64
	VehicleType VehicleType
	MerchantID  MerchantID
}

// GetNearbyDrivers runs the multi-bucket geo-radius query: current bucket
// plus the previous nearby_bucket_threshold buckets, optionally fanned out
// across vehicle types, with on-ride drivers excluded.
func (s *Service) GetNearbyDrivers(ctx context.Context, req NearbyRequest) ([]NearbyDriver, error) {
	center := Point{Lat: req.Lat, Lon: req.Lon}
	if !center.Validate() {
		return nil, common.NewValidationError("invalid coordinates")
	}

	city, ok := s.geofence.Lookup(center)
	if !ok {
		return nil, common.NewUnserviceableError(req.Lat, req.Lon)
	}

	vehicleTypes := s.cfg.VehicleTypes
	if req.VehicleType != "" {
		vehicleTypes = []VehicleType{req.VehicleType}
	}

	currentBucket := Bucket(time.Now().Unix(), int64(s.cfg.BucketSize.Seconds()))

	// Newest buckets first so the first hit per driver is their freshest
	// stored position; within a key, results come back nearest first.
	type hit struct {
		pt       Point
		distance float64
	}
	found := make(map[DriverID]hit)
	order := make([]DriverID, 0)

	for k := int64(0); k <= s.cfg.NearbyBucketThreshold; k++ {
		bucket := currentBucket - k
		for _, vt := range vehicleTypes {
			key := s.keys.GeoBucket(req.MerchantID, city, vt, bucket)
			results, err := s.store.GeoSearch(ctx, key, center, req.RadiusKm)
			if err != nil {
				return nil, common.NewInternalError("geo search failed", err)
			}
			for _, r := range results {
				if _, seen := found[r.DriverID]; seen {
					continue
				}
				found[r.DriverID] = hit{pt: r.Point, distance: geo.Haversine(center.Lat, center.Lon, r.Point.Lat, r.Point.Lon)}
				order = append(order, r.DriverID)
			}
		}
	}

	if len(found) == 0 {
		return []NearbyDriver{}, nil
	}

	onRide, err := s.onRideDrivers(ctx, req.MerchantID, city, order)
	if err != nil {
		return nil, err
	}

	lastSeen := s.lastTimestamps(ctx, order)

	drivers := make([]NearbyDriver, 0, len(order))
	for _, id := range order {
		if onRide[id] {
			continue
		}
		h := found[id]
		drivers = append(drivers, NearbyDriver{
			DriverID:  id,
			Lat:       h.pt.Lat,
			Lon:       h.pt.Lon,
			UpdatedAt: lastSeen[id],
		})
	}

	// Closest first across buckets and vehicle types.
	sort.SliceStable(drivers, func(i, j int) bool {
		return found[drivers[i].DriverID].distance < found[drivers[j].DriverID].distance
	})
	return drivers, nil
}

// onRideDrivers reports which of the given drivers are currently INPROGRESS,
// resolved with a single MGET over their on_ride keys.
func (s *Service) onRideDrivers(ctx context.Context, merchantID MerchantID, city CityName, driverIDs []DriverID) (map[DriverID]bool, error) {
	keys := make([]string, len(driverIDs))
	for i, id := range driverIDs {
		keys[i] = s.keys.OnRide(merchantID, city, id)
	}
	vals, err := s.store.MGet(ctx, keys...)
	if err != nil {
		return nil, common.NewInternalError("on_ride batch lookup failed", err)
	}

	out := make(map[DriverID]bool, len(driverIDs))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok || raw == "" {
			continue
		}
		var rd RideDetails
		if json.Unmarshal([]byte(raw), &rd) != nil {
			continue
		}
		out[driverIDs[i]] = rd.RideStatus == RideStatusInProgress
	}
	return out, nil
}

// lastTimestamps resolves each driver's last-fix time, defaulting to now on
// a missing or unparsable value.
func (s *Service) lastTimestamps(ctx context.Context, driverIDs []DriverID) map[DriverID]time.Time {
	keys := make([]string, len(driverIDs))
	for i, id := range driverIDs {
		keys[i] = s.keys.LastTimestamp(id)
	}

	now := time.Now().UTC()
	out := make(map[DriverID]time.Time, len(driverIDs))
	vals, err := s.store.MGet(ctx, keys...)
	if err != nil {
		for _, id := range driverIDs {
			out[id] = now
		}
		return out
	}
	for i, v := range vals {
		ts := now
		if raw, ok := v.(string); ok {
			if parsed, parseErr := time.Parse(time.RFC3339, raw); parseErr == nil {
				ts = parsed
			}
		}
		out[driverIDs[i]] = ts
	}
	return out
}
