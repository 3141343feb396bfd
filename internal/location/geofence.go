package location

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ring is a closed linear ring: ring[0] and ring[len-1] need not be equal,
// containment is computed as if the ring were closed.
type ring []Point

// polygon is an exterior ring plus zero or more interior (hole) rings.
type polygon struct {
	exterior ring
	holes    []ring
}

// region is one named multipolygon loaded from a single GeoJSON file.
type region struct {
	name     string
	polygons []polygon
}

// Geofence is an in-memory collection of named
// multipolygons loaded once at startup, queried with a linear scan for the
// first containing region.
type Geofence struct {
	regions []region
}

// geoJSONFeatureCollection and friends model the subset of GeoJSON this
// loader needs: a MultiPolygon (or a FeatureCollection of one) per file. No
// geojson library ships in this module's dependency set, so the shapes are
// decoded directly with encoding/json.
type geoJSONGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type geoJSONFeature struct {
	Type     string          `json:"type"`
	Geometry geoJSONGeometry `json:"geometry"`
}

type geoJSONFeatureCollection struct {
	Type     string           `json:"type"`
	Features []geoJSONFeature `json:"features"`
}

// LoadGeofence reads every file in dir as a named GeoJSON region: the file
// name without extension becomes the region name. Each file must contain
// either a bare MultiPolygon/Polygon geometry or a FeatureCollection whose
// features are such geometries.
func LoadGeofence(dir string) (*Geofence, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("location: read geofence dir %s: %w", dir, err)
	}

	gf := &Geofence{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("location: read geofence file %s: %w", path, err)
		}

		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		polys, err := parseGeoJSONPolygons(raw)
		if err != nil {
			return nil, fmt.Errorf("location: parse geofence file %s: %w", path, err)
		}
		gf.regions = append(gf.regions, region{name: name, polygons: polys})
	}

	return gf, nil
}

func parseGeoJSONPolygons(raw []byte) ([]polygon, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}

	switch probe.Type {
	case "FeatureCollection":
		var fc geoJSONFeatureCollection
		if err := json.Unmarshal(raw, &fc); err != nil {
			return nil, err
		}
		var out []polygon
		for _, f := range fc.Features {
			polys, err := geometryToPolygons(f.Geometry)
			if err != nil {
				return nil, err
			}
			out = append(out, polys...)
		}
		return out, nil
	case "MultiPolygon", "Polygon":
		var g geoJSONGeometry
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, err
		}
		return geometryToPolygons(g)
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", probe.Type)
	}
}

func geometryToPolygons(g geoJSONGeometry) ([]polygon, error) {
	var coords json.RawMessage = g.Coordinates
	if g.Type != "MultiPolygon" && g.Type != "Polygon" {
		var full geoJSONGeometry
		if err := json.Unmarshal(coords, &full); err != nil {
			return nil, err
		}
		g = full
		coords = g.Coordinates
	}

	switch g.Type {
	case "Polygon":
		var rings [][][2]float64
		if err := json.Unmarshal(coords, &rings); err != nil {
			return nil, err
		}
		return []polygon{ringsToPolygon(rings)}, nil
	case "MultiPolygon":
		var polys [][][][2]float64
		if err := json.Unmarshal(coords, &polys); err != nil {
			return nil, err
		}
		out := make([]polygon, 0, len(polys))
		for _, rings := range polys {
			out = append(out, ringsToPolygon(rings))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", g.Type)
	}
}

func ringsToPolygon(rings [][][2]float64) polygon {
	p := polygon{}
	for i, r := range rings {
		pts := make(ring, len(r))
		for j, c := range r {
			pts[j] = Point{Lon: c[0], Lat: c[1]}
		}
		if i == 0 {
			p.exterior = pts
		} else {
			p.holes = append(p.holes, pts)
		}
	}
	return p
}

// Lookup returns the name of the first region whose multipolygon contains
// pt, and true. If no region contains pt, it returns "", false.
func (g *Geofence) Lookup(pt Point) (string, bool) {
	for _, r := range g.regions {
		for _, poly := range r.polygons {
			if poly.contains(pt) {
				return r.name, true
			}
		}
	}
	return "", false
}

func (p polygon) contains(pt Point) bool {
	if !p.exterior.contains(pt) {
		return false
	}
	for _, h := range p.holes {
		if h.contains(pt) {
			return false
		}
	}
	return true
}

// contains implements the standard even-odd ray-casting test, treating the
// ring as implicitly closed.
func (r ring) contains(pt Point) bool {
	inside := false
	n := len(r)
	if n < 3 {
		return false
	}
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := r[i].Lon, r[i].Lat
		xj, yj := r[j].Lon, r[j].Lat
		intersects := (yi > pt.Lat) != (yj > pt.Lat) &&
			pt.Lon < (xj-xi)*(pt.Lat-yi)/(yj-yi)+xi
		if intersects {
			inside = !inside
		}
	}
	return inside
}
