package regrid

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"
)

// FillStats reports what happened to one layer's missing cells.
type FillStats struct {
	Valid        int `json:"valid"`
	Missing      int `json:"missing"`
	Interpolated int `json:"interpolated"`
	MeanFilled   int `json:"mean_filled"`
}

// FillLayer repairs missing cells of one flattened layer. A cell is missing
// when its coordinates are usable but its value is the sentinel or not
// finite. Cells repaired by spatial interpolation count as valid in the
// returned mask; mean-filled cells carry a synthetic value and stay invalid.
func FillLayer(layer, lon, lat []float64, coordValid []bool, p Params) ([]float64, []bool, FillStats) {
	p = p.withDefaults()

	filled := make([]float64, len(layer))
	copy(filled, layer)
	valid := make([]bool, len(layer))

	var stats FillStats
	var missingIdx []int
	var samples points
	var sampleValues []float64
	for i, v := range layer {
		if !coordValid[i] {
			continue
		}
		if v == Sentinel || math.IsNaN(v) || math.IsInf(v, 0) {
			stats.Missing++
			missingIdx = append(missingIdx, i)
			continue
		}
		valid[i] = true
		stats.Valid++
		samples = append(samples, point{lon: lon[i], lat: lat[i], idx: len(sampleValues)})
		sampleValues = append(sampleValues, v)
	}
	if stats.Missing == 0 {
		return filled, valid, stats
	}

	if stats.Valid < minValidForSpatial {
		fill := Sentinel
		if stats.Valid > 0 {
			fill = stat.Mean(sampleValues, nil)
		}
		for _, i := range missingIdx {
			filled[i] = fill
			stats.MeanFilled++
		}
		return filled, valid, stats
	}

	mean := stat.Mean(sampleValues, nil)
	tree := kdtree.New(samples, false)
	for _, i := range missingIdx {
		nbs := p.nearest(tree, len(samples), lon[i], lat[i])
		if len(nbs) >= p.MinNeighbors {
			filled[i] = idw(nbs, sampleValues, p.Power)
			valid[i] = true
			stats.Interpolated++
		} else {
			filled[i] = mean
			stats.MeanFilled++
		}
	}
	return filled, valid, stats
}
