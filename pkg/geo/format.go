package geo

import "strconv"

// FormatCoordinate renders a degree value with the fewest digits that round-trip,
// so 36.183217 stays "36.183217". Cache keys and provider queries depend on it.
func FormatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
