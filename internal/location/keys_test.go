package location

import "testing"

func TestKeySchema_NoMigration(t *testing.T) {
	k := KeySchema{}

	cases := []struct {
		name string
		got  string
		want string
	}{
		{"on_ride", k.OnRide("m1", "blr", "d1"), "ds:on_ride:m1:blr:d1"},
		{"driver_details", k.DriverDetails("d1"), "ds:driver_details:d1"},
		{"last_ts", k.LastTimestamp("d1"), "dl:ts:d1"},
		{"on_ride_loc", k.OnRideLoc("m1", "blr", "d1"), "dl:loc:m1:blr:d1"},
		{"geo_bucket", k.GeoBucket("m1", "blr", "auto", 42), "dl:loc:m1:blr:auto:42"},
		{"processing_lock", k.ProcessingLock("d1", "blr"), "dl:processing:d1:blr"},
		{"health_check", k.HealthCheck(), "health_check"},
	}

	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, tc.got, tc.want)
		}
	}
}

func TestKeySchema_MigrationPrefix(t *testing.T) {
	k := KeySchema{Prefix: "lts:"}
	if got, want := k.OnRide("m1", "blr", "d1"), "lts:ds:on_ride:m1:blr:d1"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBucket(t *testing.T) {
	if got := Bucket(190, 60); got != 3 {
		t.Errorf("Bucket(190, 60) = %d, want 3", got)
	}
	if got := Bucket(120, 60); got != 2 {
		t.Errorf("Bucket(120, 60) = %d, want 2", got)
	}
}
