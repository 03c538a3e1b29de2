package regrid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path"

	"github.com/gridcrop/server/internal/container"
	"github.com/gridcrop/server/pkg/ndarray"
)

// OutputGroup is the group every interpolation result is written under.
const OutputGroup = "idw_interpolation"

// ErrNoValidPoints is returned when filtering leaves nothing to interpolate
// from. No destination file exists in that case.
var ErrNoValidPoints = errors.New("no valid data points after filtering")

// Bounds restricts interpolation to a sub-extent, in degrees. Each side is
// optional; nil keeps the extent of the valid data on that side.
type Bounds struct {
	LonMin, LonMax *float64
	LatMin, LatMax *float64
}

// Request names the inputs of one interpolation run. Variable, LatVar and
// LonVar are dataset paths inside the source container. LayerMin/LayerMax
// clamp the layer range of 3D variables; nil means the full range.
type Request struct {
	Source      string
	Destination string
	Variable    string
	LatVar      string
	LonVar      string
	Resolution  float64
	LayerMin    *int
	LayerMax    *int
	Bounds      *Bounds
	Params      Params
}

// LayerReport is the per-layer diagnostic summary.
type LayerReport struct {
	Layer    int       `json:"layer"`
	Coverage float64   `json:"coverage"`
	Fill     FillStats `json:"fill"`
}

// Result summarizes a completed interpolation.
type Result struct {
	Destination  string        `json:"destination"`
	GridRows     int           `json:"grid_rows"`
	GridCols     int           `json:"grid_cols"`
	OriginalRank int           `json:"original_rank"`
	LayerMin     int           `json:"layer_min"`
	LayerMax     int           `json:"layer_max"`
	Layers       []LayerReport `json:"layers"`
}

// Interpolator runs the gap-fill plus regrid pipeline over one variable.
type Interpolator struct {
	Verbose bool
}

// Run reads the variable and its coordinates, repairs missing samples layer
// by layer, projects the globally valid points onto a uniform grid and
// writes the result container. Failures before the write leave no output.
func (ip *Interpolator) Run(ctx context.Context, req Request) (*Result, error) {
	p := req.Params.withDefaults()
	resolution := req.Resolution
	if resolution <= 0 {
		resolution = DefaultResolution
	}

	src, err := container.OpenDir(req.Source)
	if err != nil {
		return nil, fmt.Errorf("opening source %s: %w", req.Source, err)
	}
	lonDS, err := src.ReadDataset(req.LonVar)
	if err != nil {
		return nil, fmt.Errorf("reading longitude %s: %w", req.LonVar, err)
	}
	latDS, err := src.ReadDataset(req.LatVar)
	if err != nil {
		return nil, fmt.Errorf("reading latitude %s: %w", req.LatVar, err)
	}
	varDS, err := src.ReadDataset(req.Variable)
	if err != nil {
		return nil, fmt.Errorf("reading variable %s: %w", req.Variable, err)
	}

	lonArr, latArr, err := coordinateGrids(lonDS.Data, latDS.Data)
	if err != nil {
		return nil, err
	}
	layers, originalRank, layerMin, layerMax, err := splitLayers(varDS.Data, lonArr.Shape(), req.LayerMin, req.LayerMax)
	if err != nil {
		return nil, err
	}
	if ip.Verbose {
		log.Printf("[Interp] variable %s: rank %d, layers %d-%d", req.Variable, originalRank, layerMin, layerMax)
	}

	lonF := lonArr.Data()
	latF := latArr.Data()
	coordValid := make([]bool, len(lonF))
	for i := range lonF {
		coordValid[i] = !math.IsNaN(lonF[i]) && lonF[i] >= -180 && lonF[i] <= 180 &&
			!math.IsNaN(latF[i]) && latF[i] >= -90 && latF[i] <= 90
	}

	globalValid := make([]bool, len(lonF))
	copy(globalValid, coordValid)
	filledLayers := make([][]float64, len(layers))
	reports := make([]LayerReport, len(layers))
	for l, layer := range layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		filled, layerValid, stats := FillLayer(layer, lonF, latF, coordValid, p)
		filledLayers[l] = filled
		reports[l] = LayerReport{Layer: layerMin + l, Fill: stats}
		for i := range globalValid {
			globalValid[i] = globalValid[i] && layerValid[i]
		}
		if ip.Verbose {
			log.Printf("[Interp] layer %d: %d valid, %d missing, %d interpolated, %d mean-filled",
				layerMin+l, stats.Valid, stats.Missing, stats.Interpolated, stats.MeanFilled)
		}
	}

	ptLon, ptLat, ptLayers := gatherValid(lonF, latF, filledLayers, globalValid)
	if len(ptLon) == 0 {
		return nil, ErrNoValidPoints
	}

	lonMin, lonMax := extent(ptLon)
	latMin, latMax := extent(ptLat)
	if b := req.Bounds; b != nil {
		// Only supplied sides override the data extent.
		if b.LonMin != nil {
			lonMin = math.Max(*b.LonMin, -180)
		}
		if b.LonMax != nil {
			lonMax = math.Min(*b.LonMax, 180)
		}
		if b.LatMin != nil {
			latMin = math.Max(*b.LatMin, -90)
		}
		if b.LatMax != nil {
			latMax = math.Min(*b.LatMax, 90)
		}
		ptLon, ptLat, ptLayers = clipToBounds(ptLon, ptLat, ptLayers, lonMin, lonMax, latMin, latMax)
		if len(ptLon) == 0 {
			return nil, fmt.Errorf("%w: bounds lon [%g, %g], lat [%g, %g]",
				ErrNoValidPoints, lonMin, lonMax, latMin, latMax)
		}
	}

	grid := BuildGrid(lonMin, lonMax, latMin, latMax, resolution)
	if grid.Cells() == 0 {
		return nil, fmt.Errorf("empty target grid at resolution %g", resolution)
	}
	if ip.Verbose {
		log.Printf("[Interp] grid %dx%d, %d source points", len(grid.Lat), len(grid.Lon), len(ptLon))
	}

	regridder := &Regridder{Params: p}
	outLayers := make([][]float64, len(ptLayers))
	for l, values := range ptLayers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, coverage := regridder.RegridLayer(ptLon, ptLat, values, grid)
		outLayers[l] = out
		reports[l].Coverage = coverage
		if ip.Verbose {
			log.Printf("[Interp] layer %d coverage: %.2f%%", layerMin+l, 100*coverage)
		}
	}

	if err := writeOutput(req.Destination, path.Base(req.Variable), grid, outLayers, originalRank, layerMin, layerMax, resolution); err != nil {
		if rmErr := os.RemoveAll(req.Destination); rmErr != nil {
			log.Printf("[Interp] failed to remove partial output %s: %v", req.Destination, rmErr)
		}
		return nil, err
	}

	return &Result{
		Destination:  req.Destination,
		GridRows:     len(grid.Lat),
		GridCols:     len(grid.Lon),
		OriginalRank: originalRank,
		LayerMin:     layerMin,
		LayerMax:     layerMax,
		Layers:       reports,
	}, nil
}

// coordinateGrids brings the coordinate pair to a common 2D shape. 1D axes
// are expanded to the (lat, lon) product grid.
func coordinateGrids(lon, lat *ndarray.Array) (*ndarray.Array, *ndarray.Array, error) {
	if lon.Rank() == 1 && lat.Rank() == 1 {
		rows, cols := lat.Len(), lon.Len()
		lonG := ndarray.Zeros(rows, cols)
		latG := ndarray.Zeros(rows, cols)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				lonG.Set(lon.At(c), r, c)
				latG.Set(lat.At(r), r, c)
			}
		}
		return lonG, latG, nil
	}
	if lon.Rank() == 2 && lat.Rank() == 2 {
		if !sameShape(lon.Shape(), lat.Shape()) {
			return nil, nil, fmt.Errorf("coordinate shapes differ: %v vs %v", lon.Shape(), lat.Shape())
		}
		return lon, lat, nil
	}
	return nil, nil, fmt.Errorf("unsupported coordinate ranks %d and %d", lon.Rank(), lat.Rank())
}

// splitLayers flattens the variable into per-layer slices matching the
// coordinate grid shape. 2D variables become a single layer; 3D variables may
// carry their layer axis first or last.
func splitLayers(data *ndarray.Array, coordShape []int, reqMin, reqMax *int) (layers [][]float64, originalRank, layerMin, layerMax int, err error) {
	rows, cols := coordShape[0], coordShape[1]
	shape := data.Shape()

	switch data.Rank() {
	case 2:
		if shape[0] != rows || shape[1] != cols {
			return nil, 0, 0, 0, fmt.Errorf("variable shape %v does not match coordinate shape %v", shape, coordShape)
		}
		return [][]float64{data.Data()}, 2, 0, 0, nil

	case 3:
		var total int
		var layerAt func(l int) []float64
		flat := data.Data()
		switch {
		case shape[0] == rows && shape[1] == cols:
			total = shape[2]
			layerAt = func(l int) []float64 {
				out := make([]float64, rows*cols)
				for i := 0; i < rows*cols; i++ {
					out[i] = flat[i*total+l]
				}
				return out
			}
		case shape[1] == rows && shape[2] == cols:
			total = shape[0]
			layerAt = func(l int) []float64 {
				return flat[l*rows*cols : (l+1)*rows*cols]
			}
		default:
			return nil, 0, 0, 0, fmt.Errorf("variable shape %v does not match coordinate shape %v", shape, coordShape)
		}

		layerMin, layerMax = clampLayerRange(reqMin, reqMax, total)
		for l := layerMin; l <= layerMax; l++ {
			layers = append(layers, layerAt(l))
		}
		return layers, 3, layerMin, layerMax, nil

	default:
		return nil, 0, 0, 0, fmt.Errorf("variable must be 2D or 3D, got shape %v", shape)
	}
}

func clampLayerRange(reqMin, reqMax *int, total int) (int, int) {
	min, max := 0, total-1
	if reqMin != nil {
		min = clampInt(*reqMin, 0, total-1)
	}
	if reqMax != nil {
		max = clampInt(*reqMax, min, total-1)
	}
	return min, max
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func gatherValid(lon, lat []float64, layers [][]float64, valid []bool) ([]float64, []float64, [][]float64) {
	var outLon, outLat []float64
	outLayers := make([][]float64, len(layers))
	for i, ok := range valid {
		if !ok {
			continue
		}
		outLon = append(outLon, lon[i])
		outLat = append(outLat, lat[i])
		for l := range layers {
			outLayers[l] = append(outLayers[l], layers[l][i])
		}
	}
	return outLon, outLat, outLayers
}

func clipToBounds(lon, lat []float64, layers [][]float64, lonMin, lonMax, latMin, latMax float64) ([]float64, []float64, [][]float64) {
	var outLon, outLat []float64
	outLayers := make([][]float64, len(layers))
	for i := range lon {
		if lon[i] < lonMin || lon[i] > lonMax || lat[i] < latMin || lat[i] > latMax {
			continue
		}
		outLon = append(outLon, lon[i])
		outLat = append(outLat, lat[i])
		for l := range layers {
			outLayers[l] = append(outLayers[l], layers[l][i])
		}
	}
	return outLon, outLat, outLayers
}

func extent(v []float64) (float64, float64) {
	min, max := v[0], v[0]
	for _, x := range v[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	return min, max
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var outputCompressor = &container.CompressorConfig{ID: "zlib", Level: 3}

func writeOutput(dest, varName string, grid GridDefinition, layers [][]float64, originalRank, layerMin, layerMax int, resolution float64) error {
	dst, err := container.CreateDir(dest)
	if err != nil {
		return fmt.Errorf("creating output %s: %w", dest, err)
	}
	if err := dst.CreateGroup(OutputGroup); err != nil {
		return err
	}

	groupAttrs := container.Attributes{
		"grid_resolution":    resolution,
		"variable_name":      varName,
		"original_dimension": originalRank,
	}
	if originalRank == 3 {
		groupAttrs["layers_processed"] = fmt.Sprintf("%d-%d", layerMin, layerMax)
	}
	if err := dst.SetAttrs(OutputGroup, groupAttrs); err != nil {
		return err
	}

	lonArr, err := ndarray.New([]int{len(grid.Lon)}, grid.Lon)
	if err != nil {
		return err
	}
	latArr, err := ndarray.New([]int{len(grid.Lat)}, grid.Lat)
	if err != nil {
		return err
	}
	if err := dst.WriteDataset(OutputGroup+"/longitude", lonArr, container.DatasetOptions{
		DType: container.Float64,
	}); err != nil {
		return err
	}
	if err := dst.WriteDataset(OutputGroup+"/latitude", latArr, container.DatasetOptions{
		DType: container.Float64,
	}); err != nil {
		return err
	}

	rows, cols := len(grid.Lat), len(grid.Lon)
	var cube *ndarray.Array
	if originalRank == 2 && len(layers) == 1 {
		cube, err = ndarray.New([]int{rows, cols}, layers[0])
	} else {
		flat := make([]float64, 0, len(layers)*rows*cols)
		for _, layer := range layers {
			flat = append(flat, layer...)
		}
		cube, err = ndarray.New([]int{len(layers), rows, cols}, flat)
	}
	if err != nil {
		return err
	}
	return dst.WriteDataset(OutputGroup+"/"+varName, cube, container.DatasetOptions{
		DType:      container.Float32,
		Compressor: outputCompressor,
		FillValue:  Sentinel,
		Attrs:      container.Attributes{"missing_value": Sentinel},
	})
}
