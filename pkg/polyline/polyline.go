// Package polyline decodes Google encoded polylines and turns routes into
// camera viewpoints for panorama crops.
// The encoding is documented at: https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"errors"
	"math"

	"github.com/roadcondition/streetcrop/pkg/geo"
)

// ErrMalformed is returned when an encoded polyline ends mid-value or
// contains bytes outside the encoding alphabet.
var ErrMalformed = errors.New("malformed polyline")

// minSegmentMeters is the shortest step that still yields a usable bearing.
const minSegmentMeters = 0.5

// Viewpoint is a camera position looking toward the next point on a route.
type Viewpoint struct {
	From geo.Point
	To   geo.Point
}

// Decode decodes a polyline with 5 decimal places of precision.
func Decode(encoded string) ([]geo.Point, error) {
	if encoded == "" {
		return nil, nil
	}

	var points []geo.Point
	index, lat, lng := 0, 0, 0

	for index < len(encoded) {
		latDelta, next, err := decodeValue(encoded, index)
		if err != nil {
			return nil, err
		}
		lngDelta, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		index = next
		lat += latDelta
		lng += lngDelta

		points = append(points, geo.Point{
			Lat: float64(lat) / 1e5,
			Lng: float64(lng) / 1e5,
		})
	}

	return points, nil
}

// decodeValue reads one zig-zag varint starting at index.
func decodeValue(encoded string, index int) (int, int, error) {
	shift, result := 0, 0

	for {
		if index >= len(encoded) {
			return 0, index, ErrMalformed
		}
		b := int(encoded[index]) - 63
		if b < 0 || b > 0x3f {
			return 0, index, ErrMalformed
		}
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), index, nil
	}
	return result >> 1, index, nil
}

// Encode encodes points with 5 decimal places of precision.
func Encode(points []geo.Point) string {
	if len(points) == 0 {
		return ""
	}

	encoded := make([]byte, 0, len(points)*4)
	prevLat, prevLng := 0, 0

	for _, p := range points {
		lat := int(math.Round(p.Lat * 1e5))
		lng := int(math.Round(p.Lng * 1e5))

		encoded = encodeValue(encoded, lat-prevLat)
		encoded = encodeValue(encoded, lng-prevLng)

		prevLat, prevLng = lat, lng
	}

	return string(encoded)
}

func encodeValue(buf []byte, value int) []byte {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}

	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	return append(buf, byte(value)+63)
}

// Length returns the total path length in meters.
func Length(points []geo.Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += geo.Distance(points[i-1], points[i])
	}
	return total
}

// Resample returns points spaced approximately spacingMeters apart along the
// path, always keeping the first and last point. A non-positive spacing
// returns the input unchanged.
func Resample(points []geo.Point, spacingMeters float64) []geo.Point {
	if len(points) == 0 {
		return nil
	}
	if spacingMeters <= 0 {
		return points
	}

	out := []geo.Point{points[0]}
	accumulated := 0.0

	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		segment := geo.Distance(a, b)
		travelled := 0.0

		for accumulated+(segment-travelled) >= spacingMeters {
			travelled += spacingMeters - accumulated
			f := travelled / segment
			out = append(out, geo.Point{
				Lat: a.Lat + f*(b.Lat-a.Lat),
				Lng: a.Lng + f*(b.Lng-a.Lng),
			})
			accumulated = 0
		}
		accumulated += segment - travelled
	}

	if last := points[len(points)-1]; out[len(out)-1] != last {
		out = append(out, last)
	}
	return out
}

// Viewpoints resamples a route and pairs each point with its successor, so
// each viewpoint looks along the direction of travel. Steps too short to
// define a bearing are skipped.
func Viewpoints(points []geo.Point, spacingMeters float64) []Viewpoint {
	sampled := Resample(points, spacingMeters)
	if len(sampled) < 2 {
		return nil
	}

	views := make([]Viewpoint, 0, len(sampled)-1)
	for i := 1; i < len(sampled); i++ {
		if geo.Distance(sampled[i-1], sampled[i]) < minSegmentMeters {
			continue
		}
		views = append(views, Viewpoint{From: sampled[i-1], To: sampled[i]})
	}
	return views
}
