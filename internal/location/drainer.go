package location

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/richxcame/driver-location/pkg/logger"
)

// DrainerEntry is one queued position update: the geo-index partition it
// belongs to, its coordinates, and the driver that produced it.
type DrainerEntry struct {
	Dims     Dimensions
	Point    Point
	DriverID DriverID
}

// DrainerConfig tunes the batching drainer.
type DrainerConfig struct {
	Capacity              int
	DrainerDelay          time.Duration
	NewRideDrainerDelay   time.Duration
	BucketSize            time.Duration
	NearbyBucketThreshold int64
}

// Drainer is a bounded MPSC sink that coalesces non-on-ride location
// updates into per-bucket geo batches and flushes them to the geo store
// under a capacity or timer trigger. It runs as a single dedicated loop
// over two priority lanes: regular and new-ride.
type Drainer struct {
	entries chan DrainerEntry
	store   *Store
	keys    KeySchema
	cfg     DrainerConfig

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
}

// NewDrainer constructs a Drainer with a bounded channel of the configured
// capacity. Run must be started in its own goroutine.
func NewDrainer(store *Store, keys KeySchema, cfg DrainerConfig) *Drainer {
	return &Drainer{
		entries:  make(chan DrainerEntry, cfg.Capacity),
		store:    store,
		keys:     keys,
		cfg:      cfg,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Enqueue publishes an entry to the drainer's channel. It blocks when the
// channel is full, propagating backpressure to the caller as added latency
// rather than unbounded memory growth.
func (d *Drainer) Enqueue(ctx context.Context, entry DrainerEntry) error {
	select {
	case d.entries <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown requests a graceful stop: the run loop force-flushes both lanes
// once more and exits. It blocks until the run loop has returned.
func (d *Drainer) Shutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdown) })
	<-d.done
}

// Run is the drainer's dedicated loop. It owns both lane maps exclusively;
// no other goroutine may touch them. Call it once, in its own goroutine.
func (d *Drainer) Run(ctx context.Context) {
	defer close(d.done)

	regular := make(map[string][]GeoEntry)
	newRide := make(map[string][]GeoEntry)
	regularSize := 0
	newRideSize := 0

	bucketExpiry := d.cfg.BucketSize * time.Duration(d.cfg.NearbyBucketThreshold)

	timer := time.NewTicker(d.cfg.DrainerDelay)
	defer timer.Stop()
	newRideTimer := time.NewTicker(d.cfg.NewRideDrainerDelay)
	defer newRideTimer.Stop()

	flush := func(lane map[string][]GeoEntry, label, trigger string) {
		if len(lane) == 0 {
			return
		}
		entries := 0
		for _, vals := range lane {
			entries += len(vals)
		}
		logger.Info("draining location queue", zap.String("lane", label), zap.Int("buckets", len(lane)))
		if err := d.store.GeoAddMany(context.Background(), lane, bucketExpiry); err != nil {
			logger.Error("drainer push to store failed", zap.String("lane", label), zap.Error(err))
		}
		drainerFlushesTotal.WithLabelValues(label, trigger).Inc()
		drainerFlushedEntries.WithLabelValues(label).Add(float64(entries))
		drainerQueueDepth.WithLabelValues(label).Set(0)
		for k := range lane {
			delete(lane, k)
		}
	}

	for {
		select {
		case <-d.shutdown:
			if regularSize > 0 {
				flush(regular, "regular", "shutdown")
				regularSize = 0
			}
			if newRideSize > 0 {
				flush(newRide, "new_ride", "shutdown")
				newRideSize = 0
			}
			return

		case <-ctx.Done():
			if regularSize > 0 {
				flush(regular, "regular", "shutdown")
			}
			if newRideSize > 0 {
				flush(newRide, "new_ride", "shutdown")
			}
			return

		case entry, ok := <-d.entries:
			if !ok {
				if regularSize > 0 {
					flush(regular, "regular", "shutdown")
				}
				if newRideSize > 0 {
					flush(newRide, "new_ride", "shutdown")
				}
				return
			}

			bucket := Bucket(time.Now().Unix(), int64(d.cfg.BucketSize.Seconds()))
			key := d.keys.GeoBucket(entry.Dims.MerchantID, entry.Dims.City, entry.Dims.VehicleType, bucket)
			value := GeoEntry{DriverID: entry.DriverID, Lon: entry.Point.Lon, Lat: entry.Point.Lat}

			if entry.Dims.NewRide {
				newRide[key] = append(newRide[key], value)
				newRideSize++
				drainerQueueDepth.WithLabelValues("new_ride").Set(float64(newRideSize))
				if newRideSize >= d.cfg.Capacity {
					flush(newRide, "new_ride", "capacity")
					newRideSize = 0
				}
			} else {
				regular[key] = append(regular[key], value)
				regularSize++
				drainerQueueDepth.WithLabelValues("regular").Set(float64(regularSize))
				if regularSize >= d.cfg.Capacity {
					flush(regular, "regular", "capacity")
					regularSize = 0
				}
			}

		case <-timer.C:
			if regularSize > 0 {
				flush(regular, "regular", "timer")
				regularSize = 0
			}

		case <-newRideTimer.C:
			if newRideSize > 0 {
				flush(newRide, "new_ride", "timer")
				newRideSize = 0
			}
		}
	}
}
