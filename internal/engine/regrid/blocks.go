package regrid

import (
	"sync"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// Regridder projects scattered samples onto a regular grid, one fixed-size
// block of cells at a time.
type Regridder struct {
	Params Params
}

// blockSpan is a half-open tile of the target grid in index space. Rows index
// the latitude axis, columns the longitude axis.
type blockSpan struct {
	r0, r1 int
	c0, c1 int
}

// RegridLayer interpolates one layer onto the grid. The output is row-major
// (lat, lon); unreachable cells hold the sentinel. The returned coverage is
// the fraction of non-sentinel cells.
func (r *Regridder) RegridLayer(lon, lat, values []float64, grid GridDefinition) ([]float64, float64) {
	p := r.Params.withDefaults()
	rows, cols := len(grid.Lat), len(grid.Lon)
	out := make([]float64, rows*cols)
	for i := range out {
		out[i] = Sentinel
	}
	if rows == 0 || cols == 0 {
		return out, 0
	}

	var spans []blockSpan
	for r0 := 0; r0 < rows; r0 += p.BlockSize {
		r1 := r0 + p.BlockSize
		if r1 > rows {
			r1 = rows
		}
		for c0 := 0; c0 < cols; c0 += p.BlockSize {
			c1 := c0 + p.BlockSize
			if c1 > cols {
				c1 = cols
			}
			spans = append(spans, blockSpan{r0: r0, r1: r1, c0: c0, c1: c1})
		}
	}

	// Blocks write disjoint cell ranges of out, so workers need no locking.
	if p.Workers > 1 && len(spans) > 1 {
		jobs := make(chan blockSpan, len(spans))
		var wg sync.WaitGroup
		workers := p.Workers
		if workers > len(spans) {
			workers = len(spans)
		}
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for span := range jobs {
					processBlock(span, lon, lat, values, grid, p, out)
				}
			}()
		}
		for _, span := range spans {
			jobs <- span
		}
		close(jobs)
		wg.Wait()
	} else {
		for _, span := range spans {
			processBlock(span, lon, lat, values, grid, p, out)
		}
	}

	filled := 0
	for _, v := range out {
		if v != Sentinel {
			filled++
		}
	}
	return out, float64(filled) / float64(len(out))
}

// processBlock interpolates every cell of one tile against the samples inside
// the tile's bounding box expanded by the search distance.
func processBlock(span blockSpan, lon, lat, values []float64, grid GridDefinition, p Params, out []float64) {
	lonLo := grid.Lon[span.c0] - p.MaxDistance
	lonHi := grid.Lon[span.c1-1] + p.MaxDistance
	latLo := grid.Lat[span.r0] - p.MaxDistance
	latHi := grid.Lat[span.r1-1] + p.MaxDistance

	var candidates points
	for i := range lon {
		if lon[i] < lonLo || lon[i] > lonHi || lat[i] < latLo || lat[i] > latHi {
			continue
		}
		candidates = append(candidates, point{lon: lon[i], lat: lat[i], idx: i})
	}
	if len(candidates) < p.MinNeighbors {
		return
	}
	// Dense blocks split along the longer axis so per-block candidate sets
	// stay bounded. Every sample within the search distance of a sub-block's
	// cells is still inside its expanded bounding box, so the split never
	// drops a neighbor and the cell values are unchanged.
	if len(candidates) > p.MaxPointsPerBlock {
		if a, b, ok := splitSpan(span); ok {
			processBlock(a, lon, lat, values, grid, p, out)
			processBlock(b, lon, lat, values, grid, p, out)
			return
		}
	}

	tree := kdtree.New(candidates, false)
	cols := len(grid.Lon)
	for row := span.r0; row < span.r1; row++ {
		for col := span.c0; col < span.c1; col++ {
			nbs := p.nearest(tree, len(candidates), grid.Lon[col], grid.Lat[row])
			if len(nbs) >= p.MinNeighbors {
				out[row*cols+col] = idw(nbs, values, p.Power)
			}
		}
	}
}

// splitSpan halves a span along its longer axis. Single-cell spans cannot
// split; their candidate set is the cell's true neighborhood.
func splitSpan(s blockSpan) (blockSpan, blockSpan, bool) {
	if s.r1-s.r0 >= s.c1-s.c0 && s.r1-s.r0 > 1 {
		mid := (s.r0 + s.r1) / 2
		return blockSpan{r0: s.r0, r1: mid, c0: s.c0, c1: s.c1},
			blockSpan{r0: mid, r1: s.r1, c0: s.c0, c1: s.c1}, true
	}
	if s.c1-s.c0 > 1 {
		mid := (s.c0 + s.c1) / 2
		return blockSpan{r0: s.r0, r1: s.r1, c0: s.c0, c1: mid},
			blockSpan{r0: s.r0, r1: s.r1, c0: mid, c1: s.c1}, true
	}
	return blockSpan{}, blockSpan{}, false
}
