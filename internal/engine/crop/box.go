package crop

import (
	"math"

	"github.com/gridcrop/server/pkg/ndarray"
)

// CoordinateFill is the sentinel some producers store in coordinate fields.
// It is reported in the valid-extent diagnostics but never gates selection.
const CoordinateFill = -9999.9

// BoundingBox is a geographic selection in degrees. After Normalize, LonMin >
// LonMax describes an interval wrapping the antimeridian.
type BoundingBox struct {
	LatMin, LatMax float64
	LonMin, LonMax float64
}

// normalizeLon maps a longitude into [-180, 180).
func normalizeLon(lon float64) float64 {
	m := math.Mod(lon+180, 360)
	if m < 0 {
		m += 360
	}
	return m - 180
}

// Normalize clamps latitudes to [-90, 90] and wraps each longitude bound
// independently.
func (b BoundingBox) Normalize() BoundingBox {
	return BoundingBox{
		LatMin: math.Max(-90, b.LatMin),
		LatMax: math.Min(90, b.LatMax),
		LonMin: normalizeLon(b.LonMin),
		LonMax: normalizeLon(b.LonMax),
	}
}

// LonRanges returns the one or two longitude intervals the box covers. A
// wrapped box splits at the antimeridian.
func (b BoundingBox) LonRanges() [][2]float64 {
	if b.LonMin > b.LonMax {
		return [][2]float64{{b.LonMin, 180}, {-180, b.LonMax}}
	}
	return [][2]float64{{b.LonMin, b.LonMax}}
}

// Selection holds the coordinate indices satisfying a bounding box. For 1D
// coordinates LatIdx/LonIdx index the respective axes; for 2D grids they are
// the selected row and column sets (a rectangular superset of the true
// point selection).
type Selection struct {
	LatIdx []int
	LonIdx []int
	IsGrid bool
}

// ValidExtent reports the min/max of coordinate values above the fill
// sentinel, for diagnostics. ok is false when no value is valid.
func ValidExtent(coord *ndarray.Array) (min, max float64, ok bool) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, v := range coord.Data() {
		if v <= CoordinateFill {
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		ok = true
	}
	return min, max, ok
}

// SelectIndices computes the index sets satisfying a normalized bounding box
// over a pair of coordinate fields of identical shape.
func SelectIndices(lat, lon *ndarray.Array, box BoundingBox) (Selection, error) {
	lonRanges := box.LonRanges()

	switch {
	case lat.Rank() == 1 && lon.Rank() == 1:
		sel := Selection{}
		for i, v := range lat.Data() {
			if v >= box.LatMin && v <= box.LatMax {
				sel.LatIdx = append(sel.LatIdx, i)
			}
		}
		for i, v := range lon.Data() {
			if lonInRanges(v, lonRanges) {
				sel.LonIdx = append(sel.LonIdx, i)
			}
		}
		if len(sel.LatIdx) == 0 || len(sel.LonIdx) == 0 {
			return Selection{}, &EmptySelectionError{Box: box}
		}
		return sel, nil

	case lat.Rank() == 2 && lon.Rank() == 2:
		rows := lat.Dim(0)
		cols := lat.Dim(1)
		rowHit := make([]bool, rows)
		colHit := make([]bool, cols)
		any := false
		latD := lat.Data()
		lonD := lon.Data()
		for r := 0; r < rows; r++ {
			for col := 0; col < cols; col++ {
				i := r*cols + col
				if latD[i] < box.LatMin || latD[i] > box.LatMax {
					continue
				}
				if !lonInRanges(lonD[i], lonRanges) {
					continue
				}
				rowHit[r] = true
				colHit[col] = true
				any = true
			}
		}
		if !any {
			return Selection{}, &EmptySelectionError{Box: box}
		}
		sel := Selection{IsGrid: true}
		for r, hit := range rowHit {
			if hit {
				sel.LatIdx = append(sel.LatIdx, r)
			}
		}
		for col, hit := range colHit {
			if hit {
				sel.LonIdx = append(sel.LonIdx, col)
			}
		}
		return sel, nil

	default:
		return Selection{}, &DimensionInferenceError{
			Variable:   "coordinates",
			DataShape:  lon.Shape(),
			CoordShape: lat.Shape(),
		}
	}
}

func lonInRanges(v float64, ranges [][2]float64) bool {
	for _, r := range ranges {
		if v >= r[0] && v <= r[1] {
			return true
		}
	}
	return false
}
