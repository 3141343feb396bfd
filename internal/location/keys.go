package location

import "fmt"

// KeySchema produces the store keyspace shared with the sibling services;
// key shapes must stay stable for interop. An optional "lts:" prefix is
// prepended during a migration cutover (DEPLOYMENT_VERSION set, DEV unset).
type KeySchema struct {
	Prefix string // "" normally, "lts:" during migration
}

func (k KeySchema) p(s string) string {
	if k.Prefix == "" {
		return s
	}
	return k.Prefix + s
}

// OnRide returns the key holding a driver's current RideDetails.
func (k KeySchema) OnRide(merchantID MerchantID, city CityName, driverID DriverID) string {
	return k.p(fmt.Sprintf("ds:on_ride:%s:%s:%s", merchantID, city, driverID))
}

// DriverDetails returns the key holding a driver's mode/details record.
func (k KeySchema) DriverDetails(driverID DriverID) string {
	return k.p(fmt.Sprintf("ds:driver_details:%s", driverID))
}

// LastTimestamp returns the key holding a driver's last accepted fix time.
func (k KeySchema) LastTimestamp(driverID DriverID) string {
	return k.p(fmt.Sprintf("dl:ts:%s", driverID))
}

// OnRideLoc returns the sorted-set key holding the in-progress trajectory.
func (k KeySchema) OnRideLoc(merchantID MerchantID, city CityName, driverID DriverID) string {
	return k.p(fmt.Sprintf("dl:loc:%s:%s:%s", merchantID, city, driverID))
}

// GeoBucket returns the geo sorted-set key for one time-bucket partition.
func (k KeySchema) GeoBucket(merchantID MerchantID, city CityName, vehicleType VehicleType, bucket int64) string {
	return k.p(fmt.Sprintf("dl:loc:%s:%s:%s:%d", merchantID, city, vehicleType, bucket))
}

// ProcessingLock returns the per-driver serialization lock key.
func (k KeySchema) ProcessingLock(driverID DriverID, city CityName) string {
	return k.p(fmt.Sprintf("dl:processing:%s:%s", driverID, city))
}

// RateLimit returns the key holding a driver's sliding-window hit list.
func (k KeySchema) RateLimit(driverID DriverID) string {
	return k.p(fmt.Sprintf("dl:ratelimit:%s", driverID))
}

// HealthCheck returns the key used by the readiness probe's store round-trip.
func (k KeySchema) HealthCheck() string {
	return k.p("health_check")
}

// DriverByPlate returns the plate -> driver cache key for the external GPS
// ingestion path, seeded at ride start.
func (k KeySchema) DriverByPlate(plate string) string {
	return k.p(fmt.Sprintf("dl:plate:%s", plate))
}

// Bucket computes floor(unixSeconds / bucketSize).
func Bucket(unixSeconds int64, bucketSize int64) int64 {
	if bucketSize <= 0 {
		bucketSize = 1
	}
	return unixSeconds / bucketSize
}
