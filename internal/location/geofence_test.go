package location

import (
	"os"
	"path/filepath"
	"testing"
)

func writeGeofenceFixture(t *testing.T, dir, name, geojson string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(geojson), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func TestGeofence_LoadAndLookup(t *testing.T) {
	dir := t.TempDir()

	// A 10x10 square region named "blr" via a bare MultiPolygon geometry.
	writeGeofenceFixture(t, dir, "blr.geojson", `{
		"type": "MultiPolygon",
		"coordinates": [[[[0,0],[10,0],[10,10],[0,10],[0,0]]]]
	}`)

	// A FeatureCollection-wrapped Polygon with a hole, named "hyd".
	writeGeofenceFixture(t, dir, "hyd.geojson", `{
		"type": "FeatureCollection",
		"features": [{
			"type": "Feature",
			"geometry": {
				"type": "Polygon",
				"coordinates": [
					[[20,20],[40,20],[40,40],[20,40],[20,20]],
					[[25,25],[35,25],[35,35],[25,35],[25,25]]
				]
			}
		}]
	}`)

	gf, err := LoadGeofence(dir)
	if err != nil {
		t.Fatalf("LoadGeofence: %v", err)
	}
	if len(gf.regions) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(gf.regions))
	}

	if name, ok := gf.Lookup(Point{Lat: 5, Lon: 5}); !ok || name != "blr" {
		t.Errorf("expected blr, got %q ok=%v", name, ok)
	}

	if name, ok := gf.Lookup(Point{Lat: 30, Lon: 30}); !ok || name != "hyd" {
		t.Errorf("expected hyd, got %q ok=%v", name, ok)
	}

	// Inside the hole carved out of hyd's polygon: must miss.
	if _, ok := gf.Lookup(Point{Lat: 30, Lon: 28}); ok {
		t.Errorf("expected hole point to be unserviceable")
	}

	if _, ok := gf.Lookup(Point{Lat: 100, Lon: 100}); ok {
		t.Errorf("expected out-of-bounds point to be unserviceable")
	}
}
