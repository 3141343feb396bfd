package location

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	drainerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "driver_location_drainer_queue_entries",
		Help: "Entries currently buffered in a drainer lane awaiting flush",
	}, []string{"lane"})

	drainerFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driver_location_drainer_flushes_total",
		Help: "Drainer flushes per lane and trigger (capacity, timer, shutdown)",
	}, []string{"lane", "trigger"})

	drainerFlushedEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driver_location_drainer_flushed_entries_total",
		Help: "Location entries written to the geo index per lane",
	}, []string{"lane"})

	locationUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driver_location_updates_total",
		Help: "Accepted location points per ride status branch",
	}, []string{"branch"})

	gpsUpdatesIgnoredNoActiveRide = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driver_location_gps_updates_ignored_no_active_ride_total",
		Help: "External GPS updates dropped because no active ride was cached for the plate",
	})

	violationAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driver_location_violation_alerts_total",
		Help: "Violation/anti-violation alert edges per detector",
	}, []string{"detector", "status"})
)
