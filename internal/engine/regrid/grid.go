package regrid

import "math"

// GridDefinition is the uniform target grid: ascending 1D longitude and
// latitude axes at a fixed spacing.
type GridDefinition struct {
	Lon        []float64
	Lat        []float64
	Resolution float64
}

func (g GridDefinition) Cells() int { return len(g.Lon) * len(g.Lat) }

// BuildGrid spans the given extent plus a margin of at least two cells on
// every side.
func BuildGrid(lonMin, lonMax, latMin, latMax, resolution float64) GridDefinition {
	margin := math.Max(2*resolution, 0.1)
	return GridDefinition{
		Lon:        arange(lonMin-margin, lonMax+margin, resolution),
		Lat:        arange(latMin-margin, latMax+margin, resolution),
		Resolution: resolution,
	}
}

// arange returns start, start+step, ... over the half-open interval
// [start, stop).
func arange(start, stop, step float64) []float64 {
	if stop <= start || step <= 0 {
		return nil
	}
	n := int(math.Ceil((stop - start) / step))
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		v := start + float64(i)*step
		if v >= stop {
			break
		}
		out = append(out, v)
	}
	return out
}
