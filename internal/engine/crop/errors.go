// Package crop implements spatial subsetting of hierarchical array
// containers by geographic bounding box.
package crop

import (
	"fmt"
	"strings"
)

// InvalidInputError marks a source that is missing or not a well-formed
// container. Fatal: nothing has been written when it is returned.
type InvalidInputError struct {
	Path string
	Err  error
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input container %q: %v", e.Path, e.Err)
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

// MissingCoordinateError marks an absent latitude or longitude dataset. The
// message lists what the group actually contains.
type MissingCoordinateError struct {
	LatVar    string
	LonVar    string
	Group     string
	Available []string
}

func (e *MissingCoordinateError) Error() string {
	return fmt.Sprintf("coordinate variables %q/%q not found in group %q (available: %s)",
		e.LatVar, e.LonVar, e.Group, strings.Join(e.Available, ", "))
}

// EmptySelectionError marks a bounding box that selects zero points.
type EmptySelectionError struct {
	Box BoundingBox
}

func (e *EmptySelectionError) Error() string {
	return fmt.Sprintf("no points selected by lat [%g, %g], lon [%g, %g]",
		e.Box.LatMin, e.Box.LatMax, e.Box.LonMin, e.Box.LonMax)
}

// DimensionInferenceError marks a variable whose axes cannot be mapped onto
// the coordinate fields. Recoverable: the caller skips the variable.
type DimensionInferenceError struct {
	Variable   string
	DataShape  []int
	CoordShape []int
}

func (e *DimensionInferenceError) Error() string {
	return fmt.Sprintf("cannot infer lat/lon axes of %q: data shape %v, coordinate shape %v",
		e.Variable, e.DataShape, e.CoordShape)
}

// OpError wraps an unrecoverable failure of a crop operation stage.
type OpError struct {
	Stage string
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("crop %s: %v", e.Stage, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
