package demand

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/richxcame/driver-location/pkg/logger"
	redisClient "github.com/richxcame/driver-location/pkg/redis"
)

const (
	surgeKeyPrefix  = "h3:surge:"
	demandKeyPrefix = "h3:demand:"

	surgeTTL  = 5 * time.Minute
	demandTTL = 15 * time.Minute
)

// SurgeInfo is the per-zone supply/demand snapshot.
type SurgeInfo struct {
	H3Cell          string    `json:"h3_cell"`
	SurgeMultiplier float64   `json:"surge_multiplier"`
	DemandCount     int       `json:"demand_count"`
	SupplyCount     int       `json:"supply_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CellDemand is one heatmap cell's rolling request count.
type CellDemand struct {
	H3Cell       string  `json:"h3_cell"`
	RequestCount int     `json:"request_count"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
}

// Tracker keeps short-TTL demand counters per H3 cell. All writes are
// best-effort telemetry: a failed increment is logged and dropped, never
// surfaced to the ingestion path.
type Tracker struct {
	redis redisClient.ClientInterface
}

// NewTracker wraps a Redis client.
func NewTracker(redis redisClient.ClientInterface) *Tracker {
	return &Tracker{redis: redis}
}

// IncrementDemand bumps the demand counter for the cell containing the
// point, resetting its TTL window.
func (t *Tracker) IncrementDemand(ctx context.Context, latitude, longitude float64) {
	zone := DemandZone(latitude, longitude)
	key := demandKeyPrefix + zone

	count := 0
	if data, err := t.redis.GetString(ctx, key); err == nil {
		var info CellDemand
		if json.Unmarshal([]byte(data), &info) == nil {
			count = info.RequestCount
		}
	}

	centerLat, centerLng := CellToLatLng(LatLngToCell(latitude, longitude, ResolutionDemand))
	info := CellDemand{
		H3Cell:       zone,
		RequestCount: count + 1,
		Latitude:     centerLat,
		Longitude:    centerLng,
	}

	data, err := json.Marshal(info)
	if err != nil {
		logger.WarnContext(ctx, "failed to marshal demand data", zap.Error(err))
		return
	}
	if err := t.redis.SetWithExpiration(ctx, key, data, demandTTL); err != nil {
		logger.WarnContext(ctx, "failed to store demand data", zap.Error(err))
	}
}

// Heatmap returns demand counts for the cells surrounding a point.
func (t *Tracker) Heatmap(ctx context.Context, latitude, longitude float64) ([]CellDemand, error) {
	cells := KRingCellStrings(latitude, longitude, ResolutionDemand, KRingHeatmap)
	heatmap := make([]CellDemand, 0)

	for _, cell := range cells {
		data, err := t.redis.GetString(ctx, demandKeyPrefix+cell)
		if err != nil {
			continue
		}
		var info CellDemand
		if json.Unmarshal([]byte(data), &info) != nil {
			continue
		}
		if info.RequestCount > 0 {
			heatmap = append(heatmap, info)
		}
	}
	return heatmap, nil
}

// Surge returns the surge snapshot for the zone containing a point, with a
// neutral default when none has been recorded.
func (t *Tracker) Surge(ctx context.Context, latitude, longitude float64) (*SurgeInfo, error) {
	zone := SurgeZone(latitude, longitude)
	key := surgeKeyPrefix + zone

	data, err := t.redis.GetString(ctx, key)
	if err != nil {
		return &SurgeInfo{
			H3Cell:          zone,
			SurgeMultiplier: 1.0,
			UpdatedAt:       time.Now(),
		}, nil
	}

	var info SurgeInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, fmt.Errorf("demand: unmarshal surge data: %w", err)
	}
	return &info, nil
}

// UpdateSurge recomputes and stores a zone's surge multiplier from observed
// supply and demand.
func (t *Tracker) UpdateSurge(ctx context.Context, latitude, longitude float64, demandCount, supplyCount int) error {
	zone := SurgeZone(latitude, longitude)
	info := SurgeInfo{
		H3Cell:          zone,
		SurgeMultiplier: surgeMultiplier(demandCount, supplyCount),
		DemandCount:     demandCount,
		SupplyCount:     supplyCount,
		UpdatedAt:       time.Now(),
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("demand: marshal surge data: %w", err)
	}
	return t.redis.SetWithExpiration(ctx, surgeKeyPrefix+zone, data, surgeTTL)
}

// surgeMultiplier maps a demand/supply ratio to a bounded multiplier.
func surgeMultiplier(demand, supply int) float64 {
	if supply == 0 {
		if demand == 0 {
			return 1.0
		}
		return 2.0
	}
	ratio := float64(demand) / float64(supply)
	switch {
	case ratio <= 1.0:
		return 1.0
	case ratio >= 4.0:
		return 3.0
	default:
		return 1.0 + (ratio-1.0)*(2.0/3.0)
	}
}
