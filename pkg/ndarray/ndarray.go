// Package ndarray provides a minimal n-rank numeric array with row-major
// layout, used for cropping and regridding gridded variables.
package ndarray

import "fmt"

// Array is an n-rank float64 array stored in row-major (C) order.
type Array struct {
	shape []int
	data  []float64
}

// New wraps data in an Array of the given shape. The data slice is not copied;
// callers that need isolation should copy first.
func New(shape []int, data []float64) (*Array, error) {
	n := 1
	for i, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("ndarray: negative dimension %d at axis %d", d, i)
		}
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("ndarray: shape %v needs %d elements, got %d", shape, n, len(data))
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return &Array{shape: s, data: data}, nil
}

// Zeros returns a zero-filled Array of the given shape.
func Zeros(shape ...int) *Array {
	n := 1
	for _, d := range shape {
		n *= d
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return &Array{shape: s, data: make([]float64, n)}
}

// Full returns an Array of the given shape with every element set to v.
func Full(v float64, shape ...int) *Array {
	a := Zeros(shape...)
	for i := range a.data {
		a.data[i] = v
	}
	return a
}

// Shape returns a copy of the array's shape.
func (a *Array) Shape() []int {
	s := make([]int, len(a.shape))
	copy(s, a.shape)
	return s
}

// Rank returns the number of axes.
func (a *Array) Rank() int { return len(a.shape) }

// Len returns the total element count.
func (a *Array) Len() int { return len(a.data) }

// Dim returns the length of one axis.
func (a *Array) Dim(axis int) int { return a.shape[axis] }

// Data returns the backing slice.
func (a *Array) Data() []float64 { return a.data }

func (a *Array) strides() []int {
	st := make([]int, len(a.shape))
	acc := 1
	for i := len(a.shape) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= a.shape[i]
	}
	return st
}

func (a *Array) flatIndex(idx []int) int {
	if len(idx) != len(a.shape) {
		panic(fmt.Sprintf("ndarray: index rank %d for array rank %d", len(idx), len(a.shape)))
	}
	flat := 0
	st := a.strides()
	for i, v := range idx {
		if v < 0 || v >= a.shape[i] {
			panic(fmt.Sprintf("ndarray: index %d out of range [0,%d) at axis %d", v, a.shape[i], i))
		}
		flat += v * st[i]
	}
	return flat
}

// At returns the element at the given index vector.
func (a *Array) At(idx ...int) float64 { return a.data[a.flatIndex(idx)] }

// Set stores v at the given index vector.
func (a *Array) Set(v float64, idx ...int) { a.data[a.flatIndex(idx)] = v }

// Reshape returns a view of the same data with a new shape. The element count
// must match.
func (a *Array) Reshape(shape ...int) (*Array, error) {
	return New(shape, a.data)
}

// Copy returns a deep copy.
func (a *Array) Copy() *Array {
	d := make([]float64, len(a.data))
	copy(d, a.data)
	s := make([]int, len(a.shape))
	copy(s, a.shape)
	return &Array{shape: s, data: d}
}

// Take selects the given indices along one axis, returning a new Array of the
// same rank. Indices may repeat and need not be sorted.
func (a *Array) Take(axis int, indices []int) (*Array, error) {
	if axis < 0 || axis >= len(a.shape) {
		return nil, fmt.Errorf("ndarray: axis %d out of range for rank %d", axis, len(a.shape))
	}
	dim := a.shape[axis]
	for _, ix := range indices {
		if ix < 0 || ix >= dim {
			return nil, fmt.Errorf("ndarray: index %d out of range [0,%d) on axis %d", ix, dim, axis)
		}
	}

	outShape := a.Shape()
	outShape[axis] = len(indices)

	// Row-major layout decomposes as (outer, axis, inner) blocks.
	outer := 1
	for i := 0; i < axis; i++ {
		outer *= a.shape[i]
	}
	inner := 1
	for i := axis + 1; i < len(a.shape); i++ {
		inner *= a.shape[i]
	}

	out := make([]float64, outer*len(indices)*inner)
	for o := 0; o < outer; o++ {
		srcBase := o * dim * inner
		dstBase := o * len(indices) * inner
		for k, ix := range indices {
			copy(out[dstBase+k*inner:dstBase+(k+1)*inner], a.data[srcBase+ix*inner:srcBase+(ix+1)*inner])
		}
	}
	return New(outShape, out)
}

// TakePair selects index sets along two distinct axes in one call, holding all
// other axes intact.
func (a *Array) TakePair(axis1 int, idx1 []int, axis2 int, idx2 []int) (*Array, error) {
	if axis1 == axis2 {
		return nil, fmt.Errorf("ndarray: TakePair axes must differ, got %d twice", axis1)
	}
	t, err := a.Take(axis1, idx1)
	if err != nil {
		return nil, err
	}
	return t.Take(axis2, idx2)
}
