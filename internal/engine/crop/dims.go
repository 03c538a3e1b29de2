package crop

// AxisMap describes how a data variable's axes align with the coordinate
// fields.
type AxisMap struct {
	LatAxis int
	LonAxis int
	// IsGrid is true when the coordinates are a 2D grid and LatAxis/LonAxis
	// carry row/column index sets rather than independent axis selections.
	IsGrid bool
	// ExtraAxes are the axes passed through untouched (time, channel, level).
	ExtraAxes []int
}

// InferAxes maps a data shape onto a coordinate field pair.
//
// For 1D coordinates of length L the first axis of length L is latitude and
// the first other axis matching the longitude length is longitude. For 2D
// coordinates of shape (R, C) an adjacent axis pair (i, i+1) matching (R, C)
// is preferred; otherwise R and C are matched against any two distinct axes.
func InferAxes(variable string, latShape, lonShape, dataShape []int) (AxisMap, error) {
	fail := func() (AxisMap, error) {
		return AxisMap{}, &DimensionInferenceError{Variable: variable, DataShape: dataShape, CoordShape: latShape}
	}

	if len(latShape) == 1 && len(lonShape) == 1 {
		latAxis := -1
		for i, d := range dataShape {
			if d == latShape[0] {
				latAxis = i
				break
			}
		}
		if latAxis < 0 {
			return fail()
		}
		lonAxis := -1
		for i, d := range dataShape {
			if i != latAxis && d == lonShape[0] {
				lonAxis = i
				break
			}
		}
		if lonAxis < 0 {
			return fail()
		}
		return AxisMap{
			LatAxis:   latAxis,
			LonAxis:   lonAxis,
			ExtraAxes: extraAxes(len(dataShape), latAxis, lonAxis),
		}, nil
	}

	if len(latShape) == 2 && len(lonShape) == 2 {
		r, c := latShape[0], latShape[1]

		for i := 0; i+1 < len(dataShape); i++ {
			if dataShape[i] == r && dataShape[i+1] == c {
				return AxisMap{
					LatAxis:   i,
					LonAxis:   i + 1,
					IsGrid:    true,
					ExtraAxes: extraAxes(len(dataShape), i, i+1),
				}, nil
			}
		}

		// No contiguous pair: match the two grid extents independently.
		latAxis, lonAxis := -1, -1
		for i, d := range dataShape {
			if latAxis < 0 && d == r {
				latAxis = i
			} else if lonAxis < 0 && d == c {
				lonAxis = i
			}
		}
		if latAxis < 0 || lonAxis < 0 {
			return fail()
		}
		return AxisMap{
			LatAxis:   latAxis,
			LonAxis:   lonAxis,
			IsGrid:    true,
			ExtraAxes: extraAxes(len(dataShape), latAxis, lonAxis),
		}, nil
	}

	return fail()
}

func extraAxes(rank, a, b int) []int {
	var extra []int
	for i := 0; i < rank; i++ {
		if i != a && i != b {
			extra = append(extra, i)
		}
	}
	return extra
}
