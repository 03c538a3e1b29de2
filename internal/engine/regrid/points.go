package regrid

import (
	"container/heap"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// point is one scattered sample position. idx refers back into the caller's
// value slice.
type point struct {
	lon, lat float64
	idx      int
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(point)
	switch d {
	case 0:
		return p.lon - q.lon
	case 1:
		return p.lat - q.lat
	default:
		panic("illegal dimension")
	}
}

func (p point) Dims() int { return 2 }

// Distance returns the squared Euclidean distance.
func (p point) Distance(c kdtree.Comparable) float64 {
	q := c.(point)
	dx := p.lon - q.lon
	dy := p.lat - q.lat
	return dx*dx + dy*dy
}

type points []point

func (p points) Index(i int) kdtree.Comparable         { return p[i] }
func (p points) Len() int                              { return len(p) }
func (p points) Slice(start, end int) kdtree.Interface { return p[start:end] }
// Pivot uses the deterministic median so tree construction, and with it the
// neighbor visit order, is identical across runs.
func (p points) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(plane{points: p, Dim: d}, kdtree.MedianOfMedians(plane{points: p, Dim: d}))
}

// plane implements sort.Interface and kdtree.SortSlicer over one dimension.
type plane struct {
	points
	kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.points[i].lon < p.points[j].lon
	case 1:
		return p.points[i].lat < p.points[j].lat
	default:
		panic("illegal dimension")
	}
}

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{points: p.points[start:end], Dim: p.Dim}
}

func (p plane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}

// neighbor is one candidate sample with its true (not squared) distance to
// the query position.
type neighbor struct {
	idx  int
	dist float64
}

// nearest finds up to p.MaxNeighbors samples strictly within p.MaxDistance of
// the query position. size is the number of points in the tree.
func (p Params) nearest(tree *kdtree.Tree, size int, lon, lat float64) []neighbor {
	k := p.MaxNeighbors
	if size < k {
		k = size
	}
	if k < 1 {
		return nil
	}
	keeper := kdtree.NewNKeeper(k)
	tree.NearestSet(keeper, point{lon: lon, lat: lat})

	maxSq := p.MaxDistance * p.MaxDistance
	var found []neighbor
	for keeper.Len() > 0 {
		item := heap.Pop(keeper).(kdtree.ComparableDist)
		if item.Comparable == nil || item.Dist >= maxSq {
			continue
		}
		q := item.Comparable.(point)
		found = append(found, neighbor{idx: q.idx, dist: math.Sqrt(item.Dist)})
	}
	// Canonical (distance, index) order fixes the floating-point summation
	// order in idw regardless of heap pop order.
	sort.Slice(found, func(i, j int) bool {
		if found[i].dist != found[j].dist {
			return found[i].dist < found[j].dist
		}
		return found[i].idx < found[j].idx
	})
	return found
}

// idw averages the neighbor values weighted by inverse distance to the given
// power. An exact positional hit returns that sample directly.
func idw(nbs []neighbor, values []float64, power float64) float64 {
	var wSum, vSum float64
	for _, nb := range nbs {
		if nb.dist == 0 {
			return values[nb.idx]
		}
		w := 1 / math.Pow(nb.dist, power)
		wSum += w
		vSum += w * values[nb.idx]
	}
	return vSum / wSum
}
