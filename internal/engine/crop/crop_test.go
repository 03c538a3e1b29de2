package crop

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gridcrop/server/internal/container"
	"github.com/gridcrop/server/pkg/ndarray"
)

// buildSwath writes a source container with 1D coordinates: 50 latitudes
// starting at 0 step 1, 60 longitudes starting at 0 step 2, and a temperature
// variable whose value encodes its row and column.
func buildSwath(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "source")
	src, err := container.CreateDir(dir)
	if err != nil {
		t.Fatalf("create source: %v", err)
	}

	lat := ndarray.Zeros(50)
	for i := 0; i < 50; i++ {
		lat.Set(float64(i), i)
	}
	lon := ndarray.Zeros(60)
	for j := 0; j < 60; j++ {
		lon.Set(float64(2*j), j)
	}
	temp := ndarray.Zeros(50, 60)
	for i := 0; i < 50; i++ {
		for j := 0; j < 60; j++ {
			temp.Set(float64(1000*i+j), i, j)
		}
	}

	writeVar(t, src, "latitude", lat, container.Attributes{"units": "degrees_north"})
	writeVar(t, src, "longitude", lon, container.Attributes{"units": "degrees_east"})
	writeVar(t, src, "temperature", temp, container.Attributes{"units": "K"})
	return dir
}

func writeVar(t *testing.T, c *container.Container, path string, arr *ndarray.Array, attrs container.Attributes) {
	t.Helper()
	err := c.WriteDataset(path, arr, container.DatasetOptions{
		DType:      container.Float64,
		Compressor: &container.CompressorConfig{ID: "zlib", Level: 4},
		Attrs:      attrs,
	})
	if err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestCropBasic(t *testing.T) {
	srcDir := buildSwath(t)
	dstDir := filepath.Join(t.TempDir(), "out")

	cropper := &Cropper{}
	res, err := cropper.Crop(context.Background(), Request{
		Source:      srcDir,
		Destination: dstDir,
		Box:         BoundingBox{LatMin: 10, LatMax: 20, LonMin: 6, LonMax: 30},
		LatVar:      "latitude",
		LonVar:      "longitude",
	})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	if res.Processed != 1 || res.Skipped != 0 {
		t.Fatalf("got processed=%d skipped=%d", res.Processed, res.Skipped)
	}

	out, err := container.OpenDir(dstDir)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	lat, err := out.ReadDataset("latitude")
	if err != nil {
		t.Fatalf("read latitude: %v", err)
	}
	if got := lat.Data.Len(); got != 11 {
		t.Fatalf("latitude length = %d, want 11", got)
	}
	if lat.Data.At(0) != 10 || lat.Data.At(10) != 20 {
		t.Fatalf("latitude range = [%g, %g], want [10, 20]", lat.Data.At(0), lat.Data.At(10))
	}
	if units, _ := lat.Attrs["units"].(string); units != "degrees_north" {
		t.Fatalf("latitude units attr = %v", lat.Attrs["units"])
	}

	temp, err := out.ReadDataset("temperature")
	if err != nil {
		t.Fatalf("read temperature: %v", err)
	}
	shape := temp.Data.Shape()
	if shape[0] != 11 {
		t.Fatalf("temperature rows = %d, want 11", shape[0])
	}
	// Longitudes 6..30 step 2 are columns 3..15.
	if shape[1] != 13 {
		t.Fatalf("temperature cols = %d, want 13", shape[1])
	}
	if got := temp.Data.At(0, 0); got != 1000*10+3 {
		t.Fatalf("corner value = %g, want %d", got, 1000*10+3)
	}
}

func TestCropAntimeridian(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "source")
	src, err := container.CreateDir(dir)
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	lonVals := []float64{-175, -170, 0, 165, 170, 175}
	lon, _ := ndarray.New([]int{6}, lonVals)
	lat, _ := ndarray.New([]int{3}, []float64{-10, 0, 10})
	v := ndarray.Zeros(3, 6)
	for i := 0; i < 3; i++ {
		for j := 0; j < 6; j++ {
			v.Set(lonVals[j], i, j)
		}
	}
	writeVar(t, src, "latitude", lat, nil)
	writeVar(t, src, "longitude", lon, nil)
	writeVar(t, src, "wind", v, nil)

	dstDir := filepath.Join(t.TempDir(), "out")
	cropper := &Cropper{}
	_, err = cropper.Crop(context.Background(), Request{
		Source:      dir,
		Destination: dstDir,
		Box:         BoundingBox{LatMin: -90, LatMax: 90, LonMin: 170, LonMax: -170},
		LatVar:      "latitude",
		LonVar:      "longitude",
	})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}

	out, _ := container.OpenDir(dstDir)
	lonOut, err := out.ReadDataset("longitude")
	if err != nil {
		t.Fatalf("read longitude: %v", err)
	}
	want := []float64{-175, -170, 170, 175}
	if lonOut.Data.Len() != len(want) {
		t.Fatalf("longitudes = %v, want %v", lonOut.Data.Data(), want)
	}
	for i, w := range want {
		if lonOut.Data.At(i) != w {
			t.Fatalf("longitudes = %v, want %v", lonOut.Data.Data(), want)
		}
	}
}

func TestCropNormalizesLongitudes(t *testing.T) {
	srcDir := buildSwath(t)
	dstDir := filepath.Join(t.TempDir(), "out")

	// 366 and 390 normalize to 6 and 30.
	cropper := &Cropper{}
	_, err := cropper.Crop(context.Background(), Request{
		Source:      srcDir,
		Destination: dstDir,
		Box:         BoundingBox{LatMin: 10, LatMax: 20, LonMin: 366, LonMax: 390},
		LatVar:      "latitude",
		LonVar:      "longitude",
	})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	out, _ := container.OpenDir(dstDir)
	lonOut, err := out.ReadDataset("longitude")
	if err != nil {
		t.Fatalf("read longitude: %v", err)
	}
	if lonOut.Data.Len() != 13 || lonOut.Data.At(0) != 6 {
		t.Fatalf("longitudes = %v", lonOut.Data.Data())
	}
}

func TestCropIdempotent(t *testing.T) {
	srcDir := buildSwath(t)
	first := filepath.Join(t.TempDir(), "first")
	second := filepath.Join(t.TempDir(), "second")
	box := BoundingBox{LatMin: 5, LatMax: 25, LonMin: 0, LonMax: 40}

	cropper := &Cropper{}
	req := Request{Source: srcDir, Destination: first, Box: box, LatVar: "latitude", LonVar: "longitude"}
	if _, err := cropper.Crop(context.Background(), req); err != nil {
		t.Fatalf("first crop: %v", err)
	}
	req.Source, req.Destination = first, second
	if _, err := cropper.Crop(context.Background(), req); err != nil {
		t.Fatalf("second crop: %v", err)
	}

	a, _ := container.OpenDir(first)
	b, _ := container.OpenDir(second)
	for _, name := range []string{"latitude", "longitude", "temperature"} {
		da, err := a.ReadDataset(name)
		if err != nil {
			t.Fatalf("read first %s: %v", name, err)
		}
		db, err := b.ReadDataset(name)
		if err != nil {
			t.Fatalf("read second %s: %v", name, err)
		}
		if da.Data.Len() != db.Data.Len() {
			t.Fatalf("%s: sizes differ, %d vs %d", name, da.Data.Len(), db.Data.Len())
		}
		for i, v := range da.Data.Data() {
			if !container.SameFloat(v, db.Data.Data()[i]) {
				t.Fatalf("%s differs at %d: %g vs %g", name, i, v, db.Data.Data()[i])
			}
		}
	}
}

func TestCropGridRectangularSuperset(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "source")
	src, err := container.CreateDir(dir)
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	// A tilted grid: only the (1,1) cell is strictly inside the box, but its
	// row and column come along whole.
	lat := ndarray.Zeros(3, 3)
	lon := ndarray.Zeros(3, 3)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			lat.Set(float64(10*i)+float64(j), i, j)
			lon.Set(float64(10*j)+float64(i), i, j)
		}
	}
	v := ndarray.Zeros(3, 3)
	writeVar(t, src, "latitude", lat, nil)
	writeVar(t, src, "longitude", lon, nil)
	writeVar(t, src, "chl", v, nil)

	dstDir := filepath.Join(t.TempDir(), "out")
	cropper := &Cropper{}
	_, err = cropper.Crop(context.Background(), Request{
		Source:      dir,
		Destination: dstDir,
		Box:         BoundingBox{LatMin: 10.5, LatMax: 12.5, LonMin: 10.5, LonMax: 12.5},
		LatVar:      "latitude",
		LonVar:      "longitude",
	})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	out, _ := container.OpenDir(dstDir)
	latOut, err := out.ReadDataset("latitude")
	if err != nil {
		t.Fatalf("read latitude: %v", err)
	}
	shape := latOut.Data.Shape()
	if len(shape) != 2 || shape[0] != 1 || shape[1] != 1 {
		t.Fatalf("cropped grid shape = %v, want [1 1]", shape)
	}
	if latOut.Data.At(0, 0) != 11 {
		t.Fatalf("cropped latitude = %g, want 11", latOut.Data.At(0, 0))
	}
}

func TestCropExtraAxesPreserved(t *testing.T) {
	srcDir := buildSwath(t)
	src, _ := container.OpenDir(srcDir)
	layered := ndarray.Zeros(4, 50, 60)
	writeVar(t, src, "profile", layered, nil)

	dstDir := filepath.Join(t.TempDir(), "out")
	cropper := &Cropper{}
	res, err := cropper.Crop(context.Background(), Request{
		Source:      srcDir,
		Destination: dstDir,
		Box:         BoundingBox{LatMin: 10, LatMax: 20, LonMin: 6, LonMax: 30},
		LatVar:      "latitude",
		LonVar:      "longitude",
		DataVars:    []string{"profile"},
	})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("processed = %d", res.Processed)
	}
	out, _ := container.OpenDir(dstDir)
	ds, err := out.ReadDataset("profile")
	if err != nil {
		t.Fatalf("read profile: %v", err)
	}
	shape := ds.Data.Shape()
	if len(shape) != 3 || shape[0] != 4 || shape[1] != 11 || shape[2] != 13 {
		t.Fatalf("profile shape = %v, want [4 11 13]", shape)
	}
}

func TestInferAxes1DExtraAxes(t *testing.T) {
	axes, err := InferAxes("profile", []int{50}, []int{60}, []int{4, 50, 60})
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if axes.LatAxis != 1 || axes.LonAxis != 2 || axes.IsGrid {
		t.Fatalf("axes = %+v, want lat 1, lon 2, vector coordinates", axes)
	}
	if len(axes.ExtraAxes) != 1 || axes.ExtraAxes[0] != 0 {
		t.Fatalf("extra axes = %v, want [0]", axes.ExtraAxes)
	}
}

func TestCropSkipsUninferable(t *testing.T) {
	srcDir := buildSwath(t)
	src, _ := container.OpenDir(srcDir)
	odd := ndarray.Zeros(7, 9)
	writeVar(t, src, "odd", odd, nil)

	dstDir := filepath.Join(t.TempDir(), "out")
	cropper := &Cropper{}
	res, err := cropper.Crop(context.Background(), Request{
		Source:      srcDir,
		Destination: dstDir,
		Box:         BoundingBox{LatMin: 10, LatMax: 20, LonMin: 6, LonMax: 30},
		LatVar:      "latitude",
		LonVar:      "longitude",
	})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	if res.Processed != 1 || res.Skipped != 1 {
		t.Fatalf("got processed=%d skipped=%d, want 1 and 1", res.Processed, res.Skipped)
	}
	out, _ := container.OpenDir(dstDir)
	if out.IsDataset("odd") {
		t.Fatal("skipped variable must not be written")
	}
}

func TestCropMissingCoordinate(t *testing.T) {
	srcDir := buildSwath(t)
	dstDir := filepath.Join(t.TempDir(), "out")

	cropper := &Cropper{}
	_, err := cropper.Crop(context.Background(), Request{
		Source:      srcDir,
		Destination: dstDir,
		Box:         BoundingBox{LatMin: 10, LatMax: 20, LonMin: 6, LonMax: 30},
		LatVar:      "lat2d",
		LonVar:      "longitude",
	})
	var mc *MissingCoordinateError
	if !errors.As(err, &mc) {
		t.Fatalf("want MissingCoordinateError, got %v", err)
	}
	found := false
	for _, name := range mc.Available {
		if name == "latitude" {
			found = true
		}
	}
	if !found {
		t.Fatalf("available names %v should list latitude", mc.Available)
	}
	if _, statErr := os.Stat(dstDir); !os.IsNotExist(statErr) {
		t.Fatal("partial destination must be removed on fatal error")
	}
}

func TestCropEmptySelection(t *testing.T) {
	srcDir := buildSwath(t)
	dstDir := filepath.Join(t.TempDir(), "out")

	cropper := &Cropper{}
	_, err := cropper.Crop(context.Background(), Request{
		Source:      srcDir,
		Destination: dstDir,
		Box:         BoundingBox{LatMin: 80, LatMax: 85, LonMin: 6, LonMax: 30},
		LatVar:      "latitude",
		LonVar:      "longitude",
	})
	var es *EmptySelectionError
	if !errors.As(err, &es) {
		t.Fatalf("want EmptySelectionError, got %v", err)
	}
	if _, statErr := os.Stat(dstDir); !os.IsNotExist(statErr) {
		t.Fatal("partial destination must be removed on fatal error")
	}
}

func TestCropIgnoresFillCoordinates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "source")
	src, err := container.CreateDir(dir)
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	lat, _ := ndarray.New([]int{4}, []float64{CoordinateFill, 10, 11, math.NaN()})
	lon, _ := ndarray.New([]int{3}, []float64{5, CoordinateFill, 6})
	v := ndarray.Zeros(4, 3)
	writeVar(t, src, "latitude", lat, nil)
	writeVar(t, src, "longitude", lon, nil)
	writeVar(t, src, "sst", v, nil)

	dstDir := filepath.Join(t.TempDir(), "out")
	cropper := &Cropper{}
	_, err = cropper.Crop(context.Background(), Request{
		Source:      dir,
		Destination: dstDir,
		Box:         BoundingBox{LatMin: 0, LatMax: 90, LonMin: 0, LonMax: 90},
		LatVar:      "latitude",
		LonVar:      "longitude",
	})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	out, _ := container.OpenDir(dstDir)
	ds, err := out.ReadDataset("sst")
	if err != nil {
		t.Fatalf("read sst: %v", err)
	}
	shape := ds.Data.Shape()
	if shape[0] != 2 || shape[1] != 2 {
		t.Fatalf("sst shape = %v, want [2 2]", shape)
	}
}
