package crop

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gridcrop/server/internal/container"
	"github.com/gridcrop/server/pkg/ndarray"
)

// Output datasets are recompressed with a fixed lossless policy.
var outputCompressor = &container.CompressorConfig{ID: "zlib", Level: 4}

// Request names the inputs of one crop operation. DataVars nil means every
// dataset child of the data group except the coordinate variables. Group
// paths empty mean the container root.
type Request struct {
	Source      string
	Destination string
	Box         BoundingBox
	LatVar      string
	LonVar      string
	DataVars    []string
	DataGroup   string
	LatLonGroup string
}

// Result summarizes a completed crop.
type Result struct {
	Destination string `json:"destination"`
	Processed   int    `json:"processed"`
	Skipped     int    `json:"skipped"`
}

// Cropper subsets containers by bounding box.
type Cropper struct {
	Verbose bool
}

// Crop runs one crop operation. Fatal errors remove the partially written
// destination before returning; per-variable failures are logged, skipped and
// counted.
func (c *Cropper) Crop(ctx context.Context, req Request) (*Result, error) {
	src, err := container.OpenDir(req.Source)
	if err != nil {
		return nil, &InvalidInputError{Path: req.Source, Err: err}
	}

	box := req.Box.Normalize()
	if c.Verbose {
		log.Printf("[Crop] bounds: lat [%g, %g], lon [%g, %g]", box.LatMin, box.LatMax, box.LonMin, box.LonMax)
		if box.LonMin > box.LonMax {
			log.Printf("[Crop] longitude range wraps the antimeridian, selecting two segments")
		}
	}

	dst, err := container.CreateDir(req.Destination)
	if err != nil {
		return nil, &OpError{Stage: "create destination", Err: err}
	}

	res, err := c.run(ctx, src, dst, box, req)
	if err != nil {
		if rmErr := os.RemoveAll(req.Destination); rmErr != nil {
			log.Printf("[Crop] failed to remove partial output %s: %v", req.Destination, rmErr)
		}
		return nil, err
	}
	return res, nil
}

func (c *Cropper) run(ctx context.Context, src, dst *container.Container, box BoundingBox, req Request) (*Result, error) {
	repl := NewReplicator(src, dst, c.Verbose)
	if err := repl.CopyRootAttrs(); err != nil {
		return nil, &OpError{Stage: "root attributes", Err: err}
	}

	dataGroup := req.DataGroup
	latlonGroup := req.LatLonGroup
	if latlonGroup == "" {
		latlonGroup = dataGroup
	}
	if err := repl.Ensure(dataGroup); err != nil {
		return nil, &OpError{Stage: "data group", Err: err}
	}
	if err := repl.Ensure(latlonGroup); err != nil {
		return nil, &OpError{Stage: "latlon group", Err: err}
	}

	latPath := joinPath(latlonGroup, req.LatVar)
	lonPath := joinPath(latlonGroup, req.LonVar)
	if !src.IsDataset(latPath) || !src.IsDataset(lonPath) {
		_, available, err := src.Children(latlonGroup)
		if err != nil {
			return nil, &OpError{Stage: "listing coordinate group", Err: err}
		}
		return nil, &MissingCoordinateError{
			LatVar:    req.LatVar,
			LonVar:    req.LonVar,
			Group:     "/" + latlonGroup,
			Available: available,
		}
	}

	latDS, err := src.ReadDataset(latPath)
	if err != nil {
		return nil, &OpError{Stage: "reading latitude", Err: err}
	}
	lonDS, err := src.ReadDataset(lonPath)
	if err != nil {
		return nil, &OpError{Stage: "reading longitude", Err: err}
	}
	if c.Verbose {
		if min, max, ok := ValidExtent(latDS.Data); ok {
			log.Printf("[Crop] valid latitude extent: %g to %g", min, max)
		}
		if min, max, ok := ValidExtent(lonDS.Data); ok {
			log.Printf("[Crop] valid longitude extent: %g to %g", min, max)
		}
	}

	sel, err := SelectIndices(latDS.Data, lonDS.Data, box)
	if err != nil {
		return nil, err
	}
	if c.Verbose {
		log.Printf("[Crop] selected %d latitude and %d longitude indices", len(sel.LatIdx), len(sel.LonIdx))
	}

	if err := c.writeCoordinates(dst, latDS, lonDS, latPath, lonPath, sel); err != nil {
		return nil, &OpError{Stage: "writing coordinates", Err: err}
	}

	dataVars := req.DataVars
	if dataVars == nil {
		_, children, err := src.Children(dataGroup)
		if err != nil {
			return nil, &OpError{Stage: "listing data group", Err: err}
		}
		for _, name := range children {
			if name == req.LatVar || name == req.LonVar {
				continue
			}
			dataVars = append(dataVars, name)
		}
	}

	processed, skipped := 0, 0
	for _, name := range dataVars {
		if err := ctx.Err(); err != nil {
			return nil, &OpError{Stage: "processing variables", Err: err}
		}
		if c.cropVariable(src, dst, dataGroup, name, latDS.Data, lonDS.Data, sel) {
			processed++
		} else {
			skipped++
		}
	}

	if c.Verbose {
		log.Printf("[Crop] done: %d processed, %d skipped", processed, skipped)
	}
	return &Result{Destination: req.Destination, Processed: processed, Skipped: skipped}, nil
}

// cropVariable processes one data variable, reporting success. Failures are
// logged and recoverable.
func (c *Cropper) cropVariable(src, dst *container.Container, dataGroup, name string, lat, lon *ndarray.Array, sel Selection) bool {
	path := joinPath(dataGroup, name)
	if !src.IsDataset(path) {
		log.Printf("[Crop] variable %q not found, skipping", name)
		return false
	}
	ds, err := src.ReadDataset(path)
	if err != nil {
		log.Printf("[Crop] reading %q failed, skipping: %v", name, err)
		return false
	}

	axes, err := InferAxes(name, lat.Shape(), lon.Shape(), ds.Data.Shape())
	if err != nil {
		log.Printf("[Crop] %v, skipping", err)
		return false
	}

	cropped, err := ds.Data.TakePair(axes.LatAxis, sel.LatIdx, axes.LonAxis, sel.LonIdx)
	if err != nil {
		log.Printf("[Crop] slicing %q failed, skipping: %v", name, err)
		return false
	}

	err = dst.WriteDataset(path, cropped, container.DatasetOptions{
		DType:      ds.Meta.DType,
		Compressor: outputCompressor,
		Attrs:      ds.Attrs.Copy(),
		FillValue:  ds.Meta.FillValue,
	})
	if err != nil {
		log.Printf("[Crop] writing %q failed, skipping: %v", name, err)
		return false
	}

	if c.Verbose {
		log.Printf("[Crop] variable %q: %v -> %v (%d extra axes intact)",
			name, ds.Data.Shape(), cropped.Shape(), len(axes.ExtraAxes))
	}
	return true
}

func (c *Cropper) writeCoordinates(dst *container.Container, latDS, lonDS *container.Dataset, latPath, lonPath string, sel Selection) error {
	var croppedLat, croppedLon *ndarray.Array
	var err error
	if sel.IsGrid {
		croppedLat, err = latDS.Data.TakePair(0, sel.LatIdx, 1, sel.LonIdx)
		if err == nil {
			croppedLon, err = lonDS.Data.TakePair(0, sel.LatIdx, 1, sel.LonIdx)
		}
	} else {
		croppedLat, err = latDS.Data.Take(0, sel.LatIdx)
		if err == nil {
			croppedLon, err = lonDS.Data.Take(0, sel.LonIdx)
		}
	}
	if err != nil {
		return err
	}

	if err := dst.WriteDataset(latPath, croppedLat, container.DatasetOptions{
		DType:      latDS.Meta.DType,
		Compressor: outputCompressor,
		Attrs:      latDS.Attrs.Copy(),
		FillValue:  latDS.Meta.FillValue,
	}); err != nil {
		return err
	}
	return dst.WriteDataset(lonPath, croppedLon, container.DatasetOptions{
		DType:      lonDS.Meta.DType,
		Compressor: outputCompressor,
		Attrs:      lonDS.Attrs.Copy(),
		FillValue:  lonDS.Meta.FillValue,
	})
}

func joinPath(group, name string) string {
	if group == "" {
		return name
	}
	return fmt.Sprintf("%s/%s", group, name)
}
