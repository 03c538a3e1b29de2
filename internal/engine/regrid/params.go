package regrid

import "runtime"

// Sentinel marks cells with no usable value, both in source swaths and in
// regridded output.
const Sentinel = -9999.9

// DefaultResolution is the target grid spacing in degrees when a request
// leaves it unset.
const DefaultResolution = 0.1

// minValidForSpatial is the smallest sample count worth building a spatial
// index for; below it every missing cell takes the layer mean.
const minValidForSpatial = 5

// Params bundles the interpolation tuning constants. Zero fields take the
// defaults, so Params{} behaves like DefaultParams().
type Params struct {
	MaxNeighbors      int
	MinNeighbors      int
	Power             float64
	MaxDistance       float64
	BlockSize         int
	MaxPointsPerBlock int
	Workers           int
}

func DefaultParams() Params {
	return Params{
		MaxNeighbors:      10,
		MinNeighbors:      3,
		Power:             2,
		MaxDistance:       0.5,
		BlockSize:         128,
		MaxPointsPerBlock: 50000,
		Workers:           runtime.GOMAXPROCS(0),
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.MaxNeighbors <= 0 {
		p.MaxNeighbors = d.MaxNeighbors
	}
	if p.MinNeighbors <= 0 {
		p.MinNeighbors = d.MinNeighbors
	}
	if p.Power <= 0 {
		p.Power = d.Power
	}
	if p.MaxDistance <= 0 {
		p.MaxDistance = d.MaxDistance
	}
	if p.BlockSize <= 0 {
		p.BlockSize = d.BlockSize
	}
	if p.MaxPointsPerBlock <= 0 {
		p.MaxPointsPerBlock = d.MaxPointsPerBlock
	}
	if p.Workers <= 0 {
		p.Workers = d.Workers
	}
	return p
}
