package container

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Metadata document names within a group or dataset prefix.
const (
	groupMetaKey = ".zgroup"
	arrayMetaKey = ".zarray"
	attrsMetaKey = ".zattrs"

	zarrFormat = 2
)

// GroupMeta is the ".zgroup" document.
type GroupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

// ArrayMeta is the ".zarray" document describing one dataset.
type ArrayMeta struct {
	ZarrFormat         int               `json:"zarr_format"`
	Shape              []int             `json:"shape"`
	Chunks             []int             `json:"chunks"`
	DType              DType             `json:"dtype"`
	Compressor         *CompressorConfig `json:"compressor"`
	FillValue          interface{}       `json:"fill_value"`
	Order              string            `json:"order"`
	Filters            []json.RawMessage `json:"filters"`
	DimensionSeparator string            `json:"dimension_separator,omitempty"`
}

// Attributes holds userland metadata as JSON scalar/array/string values.
type Attributes map[string]interface{}

// Copy returns a shallow copy; values are shared.
func (a Attributes) Copy() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

func (m *ArrayMeta) separator() string {
	if m.DimensionSeparator == "" {
		return "."
	}
	return m.DimensionSeparator
}

// gridShape returns the chunk count along each dimension.
func gridShape(shape, chunks []int) []int {
	grid := make([]int, len(shape))
	for i := range shape {
		grid[i] = (shape[i] + chunks[i] - 1) / chunks[i]
	}
	return grid
}

// chunkKey renders chunk indices as a storage key segment, "0" for scalars.
func chunkKey(indices []int, separator string) string {
	if len(indices) == 0 {
		return "0"
	}
	var sb strings.Builder
	for i, idx := range indices {
		if i > 0 {
			sb.WriteString(separator)
		}
		sb.WriteString(strconv.Itoa(idx))
	}
	return sb.String()
}

// chunkExtent returns the actual extent of one chunk, clipped at the array
// boundary, along with the chunk's global start offsets.
func chunkExtent(shape, chunks, indices []int) (start, extent []int) {
	start = make([]int, len(shape))
	extent = make([]int, len(shape))
	for d := range shape {
		start[d] = indices[d] * chunks[d]
		ext := chunks[d]
		if rem := shape[d] - start[d]; rem < ext {
			ext = rem
		}
		extent[d] = ext
	}
	return start, extent
}

// incIndex advances an n-d counter bounded by dims, returning false on wrap.
func incIndex(idx, dims []int) bool {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < dims[d] {
			return true
		}
		idx[d] = 0
	}
	return false
}

func product(dims []int) int {
	p := 1
	for _, d := range dims {
		p *= d
	}
	return p
}

// fillValueFloat interprets the JSON fill_value as a float64, defaulting to 0.
func fillValueFloat(v interface{}) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		switch t {
		case "NaN":
			return math.NaN()
		case "Infinity":
			return math.Inf(1)
		case "-Infinity":
			return math.Inf(-1)
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return 0
	}
}
