package location

// DecodePolyline decodes a Google-encoded polyline string into the sequence
// of points it represents. The format packs each coordinate delta as a
// zig-zag-encoded, base-5-bit-group varint scaled by 1e-5.
func DecodePolyline(encoded string) []Point {
	var points []Point
	index := 0
	lat, lon := 0, 0

	for index < len(encoded) {
		dlat, nextIndex, ok := decodePolylineValue(encoded, index)
		if !ok {
			break
		}
		index = nextIndex
		lat += dlat

		dlon, nextIndex2, ok := decodePolylineValue(encoded, index)
		if !ok {
			break
		}
		index = nextIndex2
		lon += dlon

		points = append(points, Point{Lat: float64(lat) / 1e5, Lon: float64(lon) / 1e5})
	}

	return points
}

// decodePolylineValue reads one zig-zag varint starting at index and
// returns its signed value, the index just past it, and whether a complete
// value was read before the string ran out.
func decodePolylineValue(encoded string, index int) (int, int, bool) {
	shift := 0
	result := 0

	for {
		if index >= len(encoded) {
			return 0, index, false
		}
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), index, true
	}
	return result >> 1, index, true
}
