package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackAtResolvesAxisOrder(t *testing.T) {
	// C is the fastest axis here; the accessor must follow the
	// declared layout, not a fixed one.
	stack := &ImageStack{
		Axes:     []Axis{AxisY, AxisX, AxisChannel},
		Dims:     []int64{2, 2, 3},
		BitDepth: 8,
		Samples:  make([]uint16, 12),
	}
	for i := range stack.Samples {
		stack.Samples[i] = uint16(i)
	}
	require.NoError(t, stack.Validate())

	// y=1, x=0, c=2 -> (1*2+0)*3 + 2 = 8
	assert.Equal(t, uint16(8), stack.At(0, 1, 0, 2, 0))
}

func TestStackFullInterval(t *testing.T) {
	stack := &ImageStack{
		Axes: []Axis{AxisTime, AxisY, AxisX},
		Dims: []int64{7, 4, 5},
	}

	iv := stack.FullInterval()
	assert.Equal(t, int64(4), iv.MaxX)
	assert.Equal(t, int64(3), iv.MaxY)
	assert.Equal(t, int64(6), iv.MaxT)
	assert.Equal(t, int64(5), iv.Width())
	assert.Equal(t, int64(4), iv.Height())
	assert.Equal(t, int64(7), iv.Frames())
}

func TestStackValidate(t *testing.T) {
	stack := &ImageStack{
		Axes:    []Axis{AxisY, AxisX},
		Dims:    []int64{2, 2},
		Samples: make([]uint16, 3),
	}
	err := stack.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "samples")
}

func TestParseAxis(t *testing.T) {
	a, err := ParseAxis("T")
	require.NoError(t, err)
	assert.Equal(t, AxisTime, a)

	_, err = ParseAxis("W")
	assert.Error(t, err)
}

func TestIntervalValidateWithin(t *testing.T) {
	bounds := Interval{MaxX: 4, MaxY: 3, MaxT: 6}

	tests := []struct {
		name    string
		crop    Interval
		wantErr string
	}{
		{"full extent", bounds, ""},
		{"interior sub-crop", Interval{MinX: 1, MaxX: 3, MinY: 1, MaxY: 2, MinT: 2, MaxT: 5}, ""},
		{"x beyond extent", Interval{MaxX: 99, MaxY: 3, MaxT: 6}, "outside the stack extent"},
		{"negative min", Interval{MinY: -1, MaxX: 4, MaxY: 3, MaxT: 6}, "outside the stack extent"},
		{"empty time range", Interval{MaxX: 4, MaxY: 3, MinT: 5, MaxT: 2}, "is empty"},
		{"z on flat stack", Interval{MaxX: 4, MaxY: 3, MaxZ: 1, MaxT: 6}, "outside the stack extent"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.crop.ValidateWithin(bounds)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
