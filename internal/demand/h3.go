// Package demand layers an H3-indexed supply/demand view on top of the
// location pipeline: every accepted off-ride batch increments a demand
// counter for the hex cell of its first fix, and dispatch can read back surge zones and a
// demand heatmap around a point.
package demand

import (
	"github.com/uber/h3-go/v4"
)

// H3 resolution levels for the two aggregation granularities.
// See: https://h3geo.org/docs/core-library/restable
const (
	// ResolutionSurge is used for surge zones (~460m edge, ~0.74 km²).
	ResolutionSurge = 8

	// ResolutionDemand is used for demand heat maps (~1.2 km edge, ~5.16 km²).
	ResolutionDemand = 7

	// KRingHeatmap is the k-ring radius read back for the heatmap view.
	KRingHeatmap = 3
)

// LatLngToCell converts latitude/longitude to an H3 cell at the given
// resolution; 0 on invalid input, which callers treat as "no cell".
func LatLngToCell(lat, lng float64, resolution int) h3.Cell {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), resolution)
	if err != nil {
		return 0
	}
	return cell
}

// CellToLatLng returns the center point of an H3 cell.
func CellToLatLng(cell h3.Cell) (lat, lng float64) {
	latLng, err := h3.CellToLatLng(cell)
	if err != nil {
		return 0, 0
	}
	return latLng.Lat, latLng.Lng
}

// KRingCellStrings returns the string form of all cells within k rings of
// the cell containing the given point.
func KRingCellStrings(lat, lng float64, resolution, k int) []string {
	center := LatLngToCell(lat, lng, resolution)
	if center == 0 {
		return nil
	}
	cells, err := h3.GridDisk(center, k)
	if err != nil {
		return []string{center.String()}
	}
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.String())
	}
	return out
}

// SurgeZone returns the surge-resolution cell ID for a point.
func SurgeZone(lat, lng float64) string {
	return LatLngToCell(lat, lng, ResolutionSurge).String()
}

// DemandZone returns the demand-resolution cell ID for a point.
func DemandZone(lat, lng float64) string {
	return LatLngToCell(lat, lng, ResolutionDemand).String()
}
