package location

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return &Store{Primary: client, Keys: KeySchema{}}, mr
}

func TestStore_SetGetTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", "v1", 30*time.Second))
	val, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, "v1", val)
	require.True(t, mr.TTL("k1") > 0)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SetNXLock(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock", "holder", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok2, err := s.SetNX(ctx, "lock", "other", time.Second)
	require.NoError(t, err)
	require.False(t, ok2)
}

func TestStore_GeoAddAndSearch(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	err := s.GeoAdd(ctx, "bucket:1", []GeoEntry{
		{DriverID: "d1", Lon: 77.5946, Lat: 12.9716},
		{DriverID: "d2", Lon: 77.6, Lat: 12.98},
	}, time.Minute)
	require.NoError(t, err)
	require.True(t, mr.TTL("bucket:1") > 0)

	results, err := s.GeoSearch(ctx, "bucket:1", Point{Lat: 12.9716, Lon: 77.5946}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "d1", results[0].DriverID)
}

func TestStore_ZAddNXDedupAndTrim(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ZAddNX(ctx, "traj", 1.0, "pt1"))
	require.NoError(t, s.ZAddNX(ctx, "traj", 2.0, "pt2"))
	require.NoError(t, s.ZAddNX(ctx, "traj", 1.0, "pt1-dup-score")) // different member, same score ok
	require.NoError(t, s.ZAddNX(ctx, "traj", 9.0, "pt1"))           // existing member: NX leaves it as is

	card, err := s.ZCard(ctx, "traj")
	require.NoError(t, err)
	require.Equal(t, int64(3), card)

	require.NoError(t, s.ZRemByRank(ctx, "traj", 0, 0))
	card2, err := s.ZCard(ctx, "traj")
	require.NoError(t, err)
	require.Equal(t, int64(2), card2)
}

func TestStore_ListOps(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RPushWithExpiry(ctx, "list", time.Minute, "a", "b", "c"))
	require.True(t, mr.TTL("list") > 0)

	n, err := s.LLen(ctx, "list")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	vals, err := s.LRange(ctx, "list", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, vals)

	left, err := s.LPop(ctx, "list")
	require.NoError(t, err)
	require.Equal(t, "a", left)

	right, err := s.RPop(ctx, "list")
	require.NoError(t, err)
	require.Equal(t, "c", right)
}

func TestStore_MigrationMirroring(t *testing.T) {
	primaryMr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(primaryMr.Close)
	secondaryMr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(secondaryMr.Close)

	primary := goredis.NewClient(&goredis.Options{Addr: primaryMr.Addr()})
	secondary := goredis.NewClient(&goredis.Options{Addr: secondaryMr.Addr()})
	t.Cleanup(func() { _ = primary.Close(); _ = secondary.Close() })

	s := &Store{Primary: primary, Secondary: secondary, Keys: KeySchema{}}
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))

	primaryVal, err := primary.Get(ctx, "k").Result()
	require.NoError(t, err)
	require.Equal(t, "v", primaryVal)

	secondaryVal, err := secondary.Get(ctx, "k").Result()
	require.NoError(t, err)
	require.Equal(t, "v", secondaryVal)
}
