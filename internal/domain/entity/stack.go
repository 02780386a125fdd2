package entity

import "fmt"

// Axis labels one dimension of an image stack.
type Axis string

const (
	AxisX       Axis = "X"
	AxisY       Axis = "Y"
	AxisZ       Axis = "Z"
	AxisChannel Axis = "C"
	AxisTime    Axis = "T"
)

// ParseAxis converts the label used in stack metadata to an Axis.
func ParseAxis(s string) (Axis, error) {
	switch Axis(s) {
	case AxisX, AxisY, AxisZ, AxisChannel, AxisTime:
		return Axis(s), nil
	}
	return "", fmt.Errorf("unknown axis label %q", s)
}

// Calibration holds the physical-unit-per-pixel scale factors of a
// stack, e.g. micrometers per pixel.
type Calibration struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Interval is an axis-aligned crop of a stack. Bounds are inclusive.
// Z and T bounds are ignored for stacks without the matching axis.
type Interval struct {
	MinX int64 `json:"min_x"`
	MaxX int64 `json:"max_x"`
	MinY int64 `json:"min_y"`
	MaxY int64 `json:"max_y"`
	MinZ int64 `json:"min_z"`
	MaxZ int64 `json:"max_z"`
	MinT int64 `json:"min_t"`
	MaxT int64 `json:"max_t"`
}

func (i Interval) Width() int64  { return i.MaxX - i.MinX + 1 }
func (i Interval) Height() int64 { return i.MaxY - i.MinY + 1 }

// Frames is the number of time points covered by the interval.
func (i Interval) Frames() int64 { return i.MaxT - i.MinT + 1 }

// ValidateWithin checks that every axis range is non-empty and lies
// inside bounds. Intervals arrive on the wire, so callers must reject
// them before indexing into a stack.
func (i Interval) ValidateWithin(bounds Interval) error {
	spans := []struct {
		axis       Axis
		min, max   int64
		bMin, bMax int64
	}{
		{AxisX, i.MinX, i.MaxX, bounds.MinX, bounds.MaxX},
		{AxisY, i.MinY, i.MaxY, bounds.MinY, bounds.MaxY},
		{AxisZ, i.MinZ, i.MaxZ, bounds.MinZ, bounds.MaxZ},
		{AxisTime, i.MinT, i.MaxT, bounds.MinT, bounds.MaxT},
	}
	for _, s := range spans {
		if s.min > s.max {
			return fmt.Errorf("%s range [%d,%d] is empty", s.axis, s.min, s.max)
		}
		if s.min < s.bMin || s.max > s.bMax {
			return fmt.Errorf("%s range [%d,%d] is outside the stack extent [%d,%d]", s.axis, s.min, s.max, s.bMin, s.bMax)
		}
	}
	return nil
}

// ImageStack is an axis-ordered numeric array with per-axis physical
// calibration. Samples are stored flattened in axis order, row-major
// over Dims. 8-bit sources are widened to uint16 on load; BitDepth
// records the original depth.
type ImageStack struct {
	Axes        []Axis
	Dims        []int64
	BitDepth    int
	Calibration Calibration
	Samples     []uint16
}

// AxisIndex returns the position of the axis in the stack layout, or
// -1 if the stack does not carry it.
func (s *ImageStack) AxisIndex(a Axis) int {
	for i, ax := range s.Axes {
		if ax == a {
			return i
		}
	}
	return -1
}

// Dim returns the extent of the axis, or 1 if the stack does not
// carry it.
func (s *ImageStack) Dim(a Axis) int64 {
	i := s.AxisIndex(a)
	if i < 0 {
		return 1
	}
	return s.Dims[i]
}

// HasAxis reports whether the stack carries the axis.
func (s *ImageStack) HasAxis(a Axis) bool { return s.AxisIndex(a) >= 0 }

// At reads one sample. Coordinates on axes the stack does not carry
// are ignored.
func (s *ImageStack) At(x, y, z, c, t int64) uint16 {
	var offset int64
	stride := int64(1)
	for i := len(s.Axes) - 1; i >= 0; i-- {
		var coord int64
		switch s.Axes[i] {
		case AxisX:
			coord = x
		case AxisY:
			coord = y
		case AxisZ:
			coord = z
		case AxisChannel:
			coord = c
		case AxisTime:
			coord = t
		}
		offset += coord * stride
		stride *= s.Dims[i]
	}
	return s.Samples[offset]
}

// FullInterval covers the whole stack extent.
func (s *ImageStack) FullInterval() Interval {
	return Interval{
		MaxX: s.Dim(AxisX) - 1,
		MaxY: s.Dim(AxisY) - 1,
		MaxZ: s.Dim(AxisZ) - 1,
		MaxT: s.Dim(AxisTime) - 1,
	}
}

// Validate checks that the layout is self-consistent.
func (s *ImageStack) Validate() error {
	if len(s.Axes) == 0 || len(s.Axes) != len(s.Dims) {
		return fmt.Errorf("stack has %d axes but %d dims", len(s.Axes), len(s.Dims))
	}
	if s.AxisIndex(AxisX) < 0 || s.AxisIndex(AxisY) < 0 {
		return fmt.Errorf("stack must carry X and Y axes, got %v", s.Axes)
	}
	total := int64(1)
	for i, d := range s.Dims {
		if d <= 0 {
			return fmt.Errorf("axis %s has non-positive extent %d", s.Axes[i], d)
		}
		total *= d
	}
	if int64(len(s.Samples)) != total {
		return fmt.Errorf("stack has %d samples, layout needs %d", len(s.Samples), total)
	}
	return nil
}
