package entity

import (
	"sort"
	"sync"
)

// Detection is one object reported by the external detector, converted
// to calibrated physical coordinates. Z is 0 for planar images.
type Detection struct {
	ClassID    int
	X          float64
	Y          float64
	Z          float64
	Radius     float64
	Confidence float64
}

// Collection maps a frame index to the detections found in that frame.
// Inserts are serialized with a single lock so result files can be
// parsed concurrently.
type Collection struct {
	mu     sync.Mutex
	frames map[int][]Detection
}

func NewCollection() *Collection {
	return &Collection{frames: make(map[int][]Detection)}
}

// Put appends detections to a frame. An explicit empty slice records
// a frame that produced a result file with no detections.
func (c *Collection) Put(frame int, detections []Detection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames[frame] = append(c.frames[frame], detections...)
}

// Frame returns the detections for one frame index.
func (c *Collection) Frame(frame int) []Detection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[frame]
}

// Frames returns the frame indices present, in ascending order.
func (c *Collection) Frames() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.frames))
	for f := range c.frames {
		out = append(out, f)
	}
	sort.Ints(out)
	return out
}

// Total counts detections across all frames.
func (c *Collection) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, d := range c.frames {
		n += len(d)
	}
	return n
}
