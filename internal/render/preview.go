// Package render produces quicklook PNG previews of gridded layers using
// fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/gridcrop/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	MaxPixels       int // cap on the longer output edge
	DefaultColormap string
}

// PreviewRenderer renders grid layers as PNG images.
type PreviewRenderer struct {
	config     Config
	bufferPool sync.Pool
}

// NewPreviewRenderer creates a new preview renderer.
func NewPreviewRenderer(cfg Config) *PreviewRenderer {
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = 1024
	}
	if cfg.DefaultColormap == "" {
		cfg.DefaultColormap = "viridis"
	}
	return &PreviewRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}
}

// RenderLayer renders one row-major (rows, cols) layer. Cells equal to the
// sentinel or not finite stay transparent; the rest are normalized over the
// layer's finite range and mapped through the named colormap. Row 0 is drawn
// at the bottom so ascending latitudes point up.
func (r *PreviewRenderer) RenderLayer(layer []float64, rows, cols int, sentinel float64, colormapName string) ([]byte, error) {
	if rows <= 0 || cols <= 0 || len(layer) != rows*cols {
		return nil, fmt.Errorf("layer size %d does not match %dx%d", len(layer), rows, cols)
	}

	lo, hi, any := valueRange(layer, sentinel)
	if !any {
		lo, hi = 0, 1
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	step := 1
	for (rows+step-1)/step > r.config.MaxPixels || (cols+step-1)/step > r.config.MaxPixels {
		step++
	}
	outRows := (rows + step - 1) / step
	outCols := (cols + step - 1) / step

	cmap := colormap.ByName(colormapName)
	if colormapName == "" {
		cmap = colormap.ByName(r.config.DefaultColormap)
	}

	dc := gg.NewContext(outCols, outRows)
	for or := 0; or < outRows; or++ {
		for oc := 0; oc < outCols; oc++ {
			v, ok := sampleCell(layer, rows, cols, or*step, oc*step, step, sentinel)
			if !ok {
				continue
			}
			dc.SetColor(cmap.At((v - lo) / span))
			// Flip vertically; image y grows downward.
			dc.SetPixel(oc, outRows-1-or)
		}
	}

	return r.encodeContext(dc)
}

// valueRange scans for the finite, non-sentinel extent of a layer.
func valueRange(layer []float64, sentinel float64) (lo, hi float64, any bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range layer {
		if v == sentinel || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		any = true
	}
	return lo, hi, any
}

// sampleCell averages the step x step source cells behind one output pixel.
func sampleCell(layer []float64, rows, cols, r0, c0, step int, sentinel float64) (float64, bool) {
	var sum float64
	var n int
	for r := r0; r < r0+step && r < rows; r++ {
		for c := c0; c < c0+step && c < cols; c++ {
			v := layer[r*cols+c]
			if v == sentinel || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (r *PreviewRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
