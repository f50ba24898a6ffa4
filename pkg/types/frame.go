package types

import (
	"image"
	"time"
)

// Frame is one decoded video frame with its position in the source stream
type Frame struct {
	Image     image.Image   // Decoded pixels
	Index     int           // Zero-based index in the source stream
	Timestamp time.Duration // Offset from stream start (Index / fps)
}

// Width returns the frame width in pixels
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// ChairStatus is the per-chair occupancy view after a frame's update
type ChairStatus struct {
	Index    int    `json:"index"`
	Count    int    `json:"count"`
	State    string `json:"state"`
	Occupied bool   `json:"occupied"`
}

// AnnotatedFrame is the output of one pipeline cycle
type AnnotatedFrame struct {
	SessionID string
	Index     int
	Timestamp time.Duration
	Image     *image.RGBA   // Rendered frame (chairs + people drawn)
	People    []Polygon     // Person regions detected in this frame
	Overlaps  []OverlapPair // Raw overlap pairs before hysteresis
	Occupied  []OverlapPair // Pairs whose chair passed the hysteresis threshold
	Chairs    []ChairStatus // Occupancy view of every chair
}

// OccupiedChairs returns the distinct chair indices present in Occupied,
// in first-seen order
func (f *AnnotatedFrame) OccupiedChairs() []int {
	seen := make(map[int]bool, len(f.Occupied))
	chairs := make([]int, 0, len(f.Occupied))
	for _, p := range f.Occupied {
		if !seen[p.Chair] {
			seen[p.Chair] = true
			chairs = append(chairs, p.Chair)
		}
	}
	return chairs
}
