package location

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/richxcame/driver-location/pkg/common"
	"github.com/richxcame/driver-location/pkg/logger"
)

// ExternalGPSUpdate is one fix from the third-party GPS vendor's batch feed.
// Speed arrives in km/h, timestamps as "2006-01-02 15:04:05" UTC.
type ExternalGPSUpdate struct {
	IMEI        string   `json:"imei"`
	DTServer    string   `json:"dt_server"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Speed       *int     `json:"speed,omitempty"`
	PlateNumber string   `json:"plate_number"`
	Altitude    *string  `json:"altitude,omitempty"`
	Angle       *float64 `json:"angle,omitempty"`
	Name        *string  `json:"name,omitempty"`
	Active      *string  `json:"active,omitempty"`
	Address     *string  `json:"address,omitempty"`
}

const externalGPSTimeLayout = "2006-01-02 15:04:05"

// ValidateExternalAPIKey checks the vendor's X-API-Key header value.
func (s *Service) ValidateExternalAPIKey(provided string) error {
	if provided == "" {
		return common.NewMissingApiKeyError()
	}
	if s.externalGPSAPIKey == "" || provided != s.externalGPSAPIKey {
		return common.NewInvalidApiKeyError()
	}
	return nil
}

// ProcessExternalGPS ingests a vendor batch: group by plate, resolve active
// rides through the plate cache in one MGET, and run each vehicle's fixes
// through the shared per-driver pipeline. Plates without a cached entry have
// no active ride and are skipped.
func (s *Service) ProcessExternalGPS(ctx context.Context, batch []ExternalGPSUpdate) error {
	if len(batch) == 0 {
		return common.NewInvalidGPSDataError("gps batch is empty")
	}

	byPlate := make(map[string][]ExternalGPSUpdate)
	plates := make([]string, 0)
	for _, gps := range batch {
		if gps.PlateNumber == "" {
			return common.NewInvalidGPSDataError("missing plate_number")
		}
		if _, seen := byPlate[gps.PlateNumber]; !seen {
			plates = append(plates, gps.PlateNumber)
		}
		byPlate[gps.PlateNumber] = append(byPlate[gps.PlateNumber], gps)
	}

	keys := make([]string, len(plates))
	for i, plate := range plates {
		keys[i] = s.keys.DriverByPlate(plate)
	}
	cached, err := s.store.MGet(ctx, keys...)
	if err != nil {
		return common.NewInternalError("plate cache lookup failed", err)
	}

	var firstErr error
	for i, plate := range plates {
		raw, ok := cached[i].(string)
		if !ok || raw == "" {
			gpsUpdatesIgnoredNoActiveRide.Inc()
			logger.WarnContext(ctx, "skipping gps updates, no active ride for plate",
				zap.String("plate", plate), zap.Int("updates", len(byPlate[plate])))
			continue
		}

		var info DriverByPlate
		if jsonErr := json.Unmarshal([]byte(raw), &info); jsonErr != nil {
			if firstErr == nil {
				firstErr = common.NewSerializationError("decode plate cache entry", jsonErr)
			}
			continue
		}

		updates, convErr := convertExternalGPS(byPlate[plate])
		if convErr != nil {
			if firstErr == nil {
				firstErr = convErr
			}
			continue
		}

		city, inRegion := s.geofence.Lookup(updates[0].Pt)
		if !inRegion {
			logger.WarnContext(ctx, "skipping gps updates outside serviceable regions",
				zap.String("plate", plate))
			continue
		}

		if procErr := s.processDriverBatch(ctx, info.DriverID, info.MerchantID, city, info.VehicleServiceTier, updates, DriverModeOnline); procErr != nil {
			logger.ErrorContext(ctx, "external gps batch processing failed",
				zap.String("plate", plate), zap.String("driver_id", info.DriverID), zap.Error(procErr))
			if firstErr == nil {
				firstErr = procErr
			}
		}
	}
	return firstErr
}

// convertExternalGPS validates coordinates, parses vendor timestamps, and
// converts km/h speeds to m/s.
func convertExternalGPS(batch []ExternalGPSUpdate) ([]LocationUpdate, error) {
	updates := make([]LocationUpdate, 0, len(batch))
	for _, gps := range batch {
		pt := Point{Lat: gps.Lat, Lon: gps.Lng}
		if !pt.Validate() {
			return nil, common.NewInvalidGPSDataError(
				fmt.Sprintf("coordinates out of range: lat=%v, lng=%v", gps.Lat, gps.Lng))
		}

		ts, err := time.Parse(externalGPSTimeLayout, gps.DTServer)
		if err != nil {
			return nil, common.NewInvalidGPSDataError(
				fmt.Sprintf("invalid timestamp format: %s", gps.DTServer))
		}

		var speed *float64
		if gps.Speed != nil {
			mps := float64(*gps.Speed) / 3.6
			speed = &mps
		}

		updates = append(updates, LocationUpdate{
			Pt:      pt,
			TS:      ts.UTC(),
			Speed:   speed,
			Bearing: gps.Angle,
		})
	}
	return updates, nil
}
