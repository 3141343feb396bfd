package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/richxcame/driver-location/pkg/logger"
	redisClient "github.com/richxcame/driver-location/pkg/redis"
)

// ErrNotFound is returned by Get, LPop and RPop when the key is absent in
// the store.
var ErrNotFound = errors.New("location: key not found")

// GeoEntry is one member of a geo-add pipeline: a driver's position keyed by
// driver ID, grouped under a bucket key by the caller.
type GeoEntry struct {
	DriverID DriverID
	Lon      float64
	Lat      float64
}

// Store is the KV/Geo store adapter: a typed wrapper over the
// Redis-compatible non-persistent store, with every TTL-carrying write
// setting its key's TTL in the same call or pipeline. When Secondary is
// non-nil the adapter is running in migration mode: Set, SetNX, Del, the geo
// adds, TrajectoryAppend and ZAddNX fan out best-effort to both endpoints;
// the list operations and ZRemByRank write to Primary only, and reads are
// served from Primary only.
type Store struct {
	Primary   goredis.Cmdable
	Secondary goredis.Cmdable
	Keys      KeySchema
}

// NewStore wraps a primary (and optional migration-secondary) Redis client.
func NewStore(primary *redisClient.Client, secondary *redisClient.Client, keys KeySchema) *Store {
	s := &Store{Primary: primary.Client, Keys: keys}
	if secondary != nil {
		s.Secondary = secondary.Client
	}
	return s
}

func (s *Store) mirror(ctx context.Context, op string, fn func(goredis.Cmdable) error) {
	if s.Secondary == nil {
		return
	}
	if err := fn(s.Secondary); err != nil {
		logger.WarnContext(ctx, "migration secondary write failed, continuing on primary",
			zap.String("op", op), zap.Error(err))
	}
}

// Set stores value under key with ttl, mirrored best-effort on migration.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := s.Primary.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("location: set %s: %w", key, err)
	}
	s.mirror(ctx, "set", func(c goredis.Cmdable) error { return c.Set(ctx, key, value, ttl).Err() })
	return nil
}

// SetNX is the processing-lock primitive: setnx(key, value, ttl). It returns
// true when the key was absent and this call created it (lock acquired).
func (s *Store) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	ok, err := s.Primary.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("location: setnx %s: %w", key, err)
	}
	if ok {
		s.mirror(ctx, "setnx", func(c goredis.Cmdable) error { return c.SetNX(ctx, key, value, ttl).Err() })
	}
	return ok, nil
}

// Get returns the value for key, or ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.Primary.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("location: get %s: %w", key, err)
	}
	return val, nil
}

// MGet returns one value per key; an absent key's slot is nil.
func (s *Store) MGet(ctx context.Context, keys ...string) ([]interface{}, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.Primary.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("location: mget: %w", err)
	}
	return vals, nil
}

// Del deletes one or more keys, mirrored best-effort on migration.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.Primary.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("location: del: %w", err)
	}
	s.mirror(ctx, "del", func(c goredis.Cmdable) error { return c.Del(ctx, keys...).Err() })
	return nil
}

// GeoAdd adds entries to key's geo sorted set and refreshes its TTL in the
// same pipeline, mirrored best-effort on migration.
func (s *Store) GeoAdd(ctx context.Context, key string, entries []GeoEntry, ttl time.Duration) error {
	return s.GeoAddMany(ctx, map[string][]GeoEntry{key: entries}, ttl)
}

// GeoAddMany pipelines a geo-add + TTL refresh per key across the whole
// batch; this is the drainer's per-lane flush path.
func (s *Store) GeoAddMany(ctx context.Context, byKey map[string][]GeoEntry, ttl time.Duration) error {
	if len(byKey) == 0 {
		return nil
	}

	pipe := s.Primary.Pipeline()
	for key, entries := range byKey {
		locs := make([]*goredis.GeoLocation, 0, len(entries))
		for _, e := range entries {
			locs = append(locs, &goredis.GeoLocation{Name: e.DriverID, Longitude: e.Lon, Latitude: e.Lat})
		}
		pipe.GeoAdd(ctx, key, locs...)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("location: geo_add_many: %w", err)
	}

	if s.Secondary != nil {
		secPipe := s.Secondary.Pipeline()
		for key, entries := range byKey {
			locs := make([]*goredis.GeoLocation, 0, len(entries))
			for _, e := range entries {
				locs = append(locs, &goredis.GeoLocation{Name: e.DriverID, Longitude: e.Lon, Latitude: e.Lat})
			}
			secPipe.GeoAdd(ctx, key, locs...)
			if ttl > 0 {
				secPipe.Expire(ctx, key, ttl)
			}
		}
		if _, err := secPipe.Exec(ctx); err != nil {
			logger.WarnContext(ctx, "migration secondary geo_add_many failed, continuing on primary", zap.Error(err))
		}
	}

	return nil
}

// GeoSearch runs a radius search centered on center, nearest first.
func (s *Store) GeoSearch(ctx context.Context, key string, center Point, radiusKm float64) ([]GeoSearchResult, error) {
	q := &goredis.GeoSearchLocationQuery{
		GeoSearchQuery: goredis.GeoSearchQuery{
			Longitude:  center.Lon,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
	}
	locs, err := s.Primary.GeoSearchLocation(ctx, key, q).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("location: geo_search %s: %w", key, err)
	}

	out := make([]GeoSearchResult, 0, len(locs))
	for _, l := range locs {
		out = append(out, GeoSearchResult{DriverID: l.Name, Point: Point{Lat: l.Latitude, Lon: l.Longitude}})
	}
	return out, nil
}

// GeoPos returns the position of each member, or nil for members not present.
func (s *Store) GeoPos(ctx context.Context, key string, members ...string) ([]*Point, error) {
	if len(members) == 0 {
		return nil, nil
	}
	poss, err := s.Primary.GeoPos(ctx, key, members...).Result()
	if err != nil {
		return nil, fmt.Errorf("location: geo_pos %s: %w", key, err)
	}
	out := make([]*Point, len(poss))
	for i, p := range poss {
		if p == nil {
			continue
		}
		out[i] = &Point{Lat: p.Latitude, Lon: p.Longitude}
	}
	return out, nil
}

// TrajectoryAppend records one on-ride point under the trajectory key. The
// member is the fix's rfc3339 timestamp, so two writes in the same second
// dedup by replacement; the key's TTL is refreshed in the same pipeline.
func (s *Store) TrajectoryAppend(ctx context.Context, key string, ts time.Time, pt Point, ttl time.Duration) error {
	member := ts.UTC().Format(time.RFC3339)
	add := func(c goredis.Cmdable) error {
		pipe := c.Pipeline()
		pipe.GeoAdd(ctx, key, &goredis.GeoLocation{Name: member, Longitude: pt.Lon, Latitude: pt.Lat})
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, err := pipe.Exec(ctx)
		return err
	}
	if err := add(s.Primary); err != nil {
		return fmt.Errorf("location: trajectory append %s: %w", key, err)
	}
	s.mirror(ctx, "trajectory_append", add)
	return nil
}

// ZAddNX adds member with score iff it is not already present. The
// trajectory path does not use it; it writes through TrajectoryAppend.
func (s *Store) ZAddNX(ctx context.Context, key string, score float64, member string) error {
	if err := s.Primary.ZAddNX(ctx, key, goredis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("location: zadd_nx %s: %w", key, err)
	}
	s.mirror(ctx, "zadd_nx", func(c goredis.Cmdable) error {
		return c.ZAddNX(ctx, key, goredis.Z{Score: score, Member: member}).Err()
	})
	return nil
}

// ZCard returns the number of members in the sorted set at key.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.Primary.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("location: zcard %s: %w", key, err)
	}
	return n, nil
}

// ZRange returns every member of the sorted set at key, ascending by score.
func (s *Store) ZRange(ctx context.Context, key string) ([]string, error) {
	members, err := s.Primary.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("location: zrange %s: %w", key, err)
	}
	return members, nil
}

// ZRemByRank removes members in rank range [start, stop] (inclusive).
func (s *Store) ZRemByRank(ctx context.Context, key string, start, stop int64) error {
	if err := s.Primary.ZRemRangeByRank(ctx, key, start, stop).Err(); err != nil {
		return fmt.Errorf("location: zrem_by_rank %s: %w", key, err)
	}
	return nil
}

// RPushWithExpiry appends values to the list at key and refreshes its TTL
// in the same pipeline.
func (s *Store) RPushWithExpiry(ctx context.Context, key string, ttl time.Duration, values ...interface{}) error {
	pipe := s.Primary.Pipeline()
	pipe.RPush(ctx, key, values...)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("location: rpush %s: %w", key, err)
	}
	return nil
}

// LPop pops and returns the leftmost element of the list at key.
func (s *Store) LPop(ctx context.Context, key string) (string, error) {
	val, err := s.Primary.LPop(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("location: lpop %s: %w", key, err)
	}
	return val, nil
}

// RPop pops and returns the rightmost element of the list at key.
func (s *Store) RPop(ctx context.Context, key string) (string, error) {
	val, err := s.Primary.RPop(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("location: rpop %s: %w", key, err)
	}
	return val, nil
}

// LRange returns elements [start, stop] (inclusive, -1 = last) of the list.
func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.Primary.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("location: lrange %s: %w", key, err)
	}
	return vals, nil
}

// LLen returns the length of the list at key.
func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.Primary.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("location: llen %s: %w", key, err)
	}
	return n, nil
}

// Ping round-trips the health-check key; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.Primary.Set(ctx, s.Keys.HealthCheck(), "1", time.Minute).Err()
}
