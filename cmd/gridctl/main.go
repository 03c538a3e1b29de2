// Package main is gridctl, a command line frontend for the crop and
// interpolation engines that works directly on container directories.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gridcrop/server/internal/container"
	"github.com/gridcrop/server/internal/engine/crop"
	"github.com/gridcrop/server/internal/engine/regrid"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "crop":
		err = runCrop(os.Args[2:])
	case "interpolate":
		err = runInterpolate(os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("gridctl: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: gridctl <command> [flags]

commands:
  crop         extract a geographic sub-region from a container
  interpolate  gap-fill and regrid one variable onto a uniform grid
  inspect      print the group/dataset tree of a container`)
}

func runCrop(args []string) error {
	fs := flag.NewFlagSet("crop", flag.ExitOnError)
	src := fs.String("in", "", "source container directory")
	dst := fs.String("out", "", "destination container directory")
	latMin := fs.Float64("lat-min", 0, "minimum latitude")
	latMax := fs.Float64("lat-max", 0, "maximum latitude")
	lonMin := fs.Float64("lon-min", 0, "minimum longitude")
	lonMax := fs.Float64("lon-max", 0, "maximum longitude (smaller than lon-min crosses the antimeridian)")
	latVar := fs.String("lat-var", "Latitude", "latitude dataset name")
	lonVar := fs.String("lon-var", "Longitude", "longitude dataset name")
	group := fs.String("group", "", "group holding the coordinate and data variables")
	vars := fs.String("vars", "", "comma separated data variables (default: all in the group)")
	fs.Parse(args)

	if *src == "" || *dst == "" {
		return fmt.Errorf("crop: -in and -out are required")
	}

	var dataVars []string
	if *vars != "" {
		for _, v := range strings.Split(*vars, ",") {
			if v = strings.TrimSpace(v); v != "" {
				dataVars = append(dataVars, v)
			}
		}
	}

	cropper := &crop.Cropper{Verbose: true}
	res, err := cropper.Crop(context.Background(), crop.Request{
		Source:      *src,
		Destination: *dst,
		Box: crop.BoundingBox{
			LatMin: *latMin, LatMax: *latMax,
			LonMin: *lonMin, LonMax: *lonMax,
		},
		LatVar:      *latVar,
		LonVar:      *lonVar,
		DataVars:    dataVars,
		DataGroup:   *group,
		LatLonGroup: *group,
	})
	if err != nil {
		return err
	}
	log.Printf("cropped %d variable(s) (%d skipped) into %s", res.Processed, res.Skipped, res.Destination)
	return nil
}

func runInterpolate(args []string) error {
	fs := flag.NewFlagSet("interpolate", flag.ExitOnError)
	src := fs.String("in", "", "source container directory")
	dst := fs.String("out", "", "destination container directory")
	variable := fs.String("var", "", "data variable path, e.g. S1/precipRate")
	latVar := fs.String("lat-var", "", "latitude dataset path (default: Latitude next to the variable)")
	lonVar := fs.String("lon-var", "", "longitude dataset path (default: Longitude next to the variable)")
	res := fs.Float64("res", 0, "target grid resolution in degrees")
	lonMin := fs.Float64("lon-min", 0, "western bound (default: data extent)")
	lonMax := fs.Float64("lon-max", 0, "eastern bound (default: data extent)")
	latMin := fs.Float64("lat-min", 0, "southern bound (default: data extent)")
	latMax := fs.Float64("lat-max", 0, "northern bound (default: data extent)")
	layerMin := fs.Int("layer-min", -1, "first layer of a 3D variable (default: all)")
	layerMax := fs.Int("layer-max", -1, "last layer of a 3D variable (default: all)")
	workers := fs.Int("workers", 0, "parallel block workers (default: GOMAXPROCS)")
	fs.Parse(args)

	if *src == "" || *dst == "" || *variable == "" {
		return fmt.Errorf("interpolate: -in, -out and -var are required")
	}

	parent := ""
	if i := strings.LastIndex(*variable, "/"); i >= 0 {
		parent = (*variable)[:i+1]
	}
	if *latVar == "" {
		*latVar = parent + "Latitude"
	}
	if *lonVar == "" {
		*lonVar = parent + "Longitude"
	}

	req := regrid.Request{
		Source:      *src,
		Destination: *dst,
		Variable:    *variable,
		LatVar:      *latVar,
		LonVar:      *lonVar,
		Resolution:  *res,
		Params:      regrid.Params{Workers: *workers},
	}
	// Unset sides keep the extent of the valid data.
	bounds := regrid.Bounds{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "lon-min":
			bounds.LonMin = lonMin
		case "lon-max":
			bounds.LonMax = lonMax
		case "lat-min":
			bounds.LatMin = latMin
		case "lat-max":
			bounds.LatMax = latMax
		}
	})
	if bounds.LonMin != nil || bounds.LonMax != nil || bounds.LatMin != nil || bounds.LatMax != nil {
		req.Bounds = &bounds
	}
	if *layerMin >= 0 {
		req.LayerMin = layerMin
	}
	if *layerMax >= 0 {
		req.LayerMax = layerMax
	}

	ip := &regrid.Interpolator{Verbose: true}
	out, err := ip.Run(context.Background(), req)
	if err != nil {
		return err
	}
	for _, layer := range out.Layers {
		log.Printf("layer %d: coverage %.1f%%, %d interpolated, %d mean filled",
			layer.Layer, layer.Coverage*100, layer.Fill.Interpolated, layer.Fill.MeanFilled)
	}
	log.Printf("wrote %dx%d grid to %s", out.GridRows, out.GridCols, out.Destination)
	return nil
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	src := fs.String("in", "", "container directory")
	showAttrs := fs.Bool("attrs", false, "print attributes")
	fs.Parse(args)

	if *src == "" {
		return fmt.Errorf("inspect: -in is required")
	}
	c, err := container.OpenDir(*src)
	if err != nil {
		return err
	}
	return c.Walk(func(n container.Node) error {
		switch n.Kind {
		case container.KindGroup:
			fmt.Printf("group    %s\n", n.Path)
		case container.KindDataset:
			shape, err := c.DatasetShape(n.Path)
			if err != nil {
				return err
			}
			fmt.Printf("dataset  %s  shape=%v\n", n.Path, shape)
		}
		if *showAttrs && len(n.Attrs) > 0 {
			body, _ := json.Marshal(n.Attrs)
			fmt.Printf("         attrs=%s\n", body)
		}
		return nil
	})
}
