// Package location implements the driver location tracking service: batch
// ingestion, geo-bucket indexing, nearby search, ride lifecycle, and the
// violation detectors that ride on top of them.
package location

import "time"

// DriverID, MerchantID, CityName, VehicleType and RideID are kept as plain
// strings rather than a distinct value-object type per field, so callers
// can compose store keys with fmt.Sprintf directly.
type (
	DriverID    = string
	MerchantID  = string
	CityName    = string
	VehicleType = string
	RideID      = string
)

// Point is a WGS84 coordinate pair. Lat must be in [-90, 90], Lon in
// [-180, 180]; Validate rejects anything outside that range at ingress.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate reports whether the point is a legal WGS84 coordinate.
func (p Point) Validate() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Dimensions identifies a geo-index partition. NewRide routes the update to
// the drainer's high-priority lane.
type Dimensions struct {
	MerchantID  MerchantID
	City        CityName
	VehicleType VehicleType
	NewRide     bool
}

// RideStatus mirrors the lifecycle of an assigned ride.
type RideStatus string

const (
	RideStatusNew        RideStatus = "NEW"
	RideStatusInProgress RideStatus = "INPROGRESS"
	RideStatusCompleted  RideStatus = "COMPLETED"
	RideStatusCancelled  RideStatus = "CANCELLED"
)

// DriverMode is the driver app's self-reported availability.
type DriverMode string

const (
	DriverModeOnline  DriverMode = "ONLINE"
	DriverModeOffline DriverMode = "OFFLINE"
	DriverModeSilent  DriverMode = "SILENT"
)

// RideDetails is stored under the on_ride key with a TTL equal to the
// on-ride expiry, or the ride-end expiry once RideEnd records the terminal
// status. Polyline, when present, is the Google-encoded route the
// deviation detector projects against.
type RideDetails struct {
	RideID     RideID     `json:"rideId"`
	RideStatus RideStatus `json:"rideStatus"`
	Polyline   string     `json:"polyline,omitempty"`
}

// LocationUpdate is one inbound GPS fix. Speed/Bearing/Accuracy are pointers
// so a driver app that omits them round-trips as "absent", not "zero".
type LocationUpdate struct {
	Pt       Point      `json:"pt"`
	TS       time.Time  `json:"ts"`
	Accuracy *float64   `json:"acc,omitempty"`
	Speed    *float64   `json:"speed,omitempty"`
	Bearing  *float64   `json:"bearing,omitempty"`
}

// GeoSearchResult is one hit from a nearby-driver query.
type GeoSearchResult struct {
	DriverID DriverID
	Point    Point
}

// NearbyDriver is a single entry in the nearby-query response, distance
// already implied by result ordering (closest first).
type NearbyDriver struct {
	DriverID  DriverID  `json:"driverId"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DriverByPlate is the plate -> driver cache entry seeded at ride start for
// the external GPS ingestion path.
type DriverByPlate struct {
	DriverID           DriverID   `json:"driverId"`
	MerchantID         MerchantID `json:"merchantId"`
	VehicleServiceTier string     `json:"vehicleServiceTier"`
	BusNumber          string     `json:"busNumber"`
	GroupID            string     `json:"groupId"`
}

// BulkLocationCallback is the payload posted to the bulk-location callback
// endpoint both on trajectory-chunk flush and on ride end.
type BulkLocationCallback struct {
	RideID   RideID   `json:"rideId"`
	DriverID DriverID `json:"driverId"`
	Loc      []Point  `json:"loc"`
}
