package pipeline

import "math"

// DefaultSampleOffsets are the positions within each cadence period that get
// processed: the first frame of every second of video and the frame four
// after it.
var DefaultSampleOffsets = []int{0, 4}

// Sampler selects the frames the pipeline runs detection on.
type Sampler struct {
	base    int
	offsets map[int]bool
}

// NewSampler builds a sampler for a source running at fps. The cadence period
// is fps rounded to the nearest whole frame, at least 1. Offsets not smaller
// than the period never match. No offsets selects DefaultSampleOffsets.
func NewSampler(fps float64, offsets ...int) Sampler {
	base := 1
	if r := math.Round(fps); r >= 1 && !math.IsInf(r, 0) {
		base = int(r)
	}
	if len(offsets) == 0 {
		offsets = DefaultSampleOffsets
	}
	set := make(map[int]bool, len(offsets))
	for _, o := range offsets {
		set[o] = true
	}
	return Sampler{base: base, offsets: set}
}

// Base returns the cadence period in frames.
func (s Sampler) Base() int {
	return s.base
}

// ShouldProcess reports whether the frame at index is sampled.
func (s Sampler) ShouldProcess(index int) bool {
	if s.base <= 0 || index < 0 {
		return false
	}
	return s.offsets[index%s.base]
}

// PerPeriod returns how many frames of each period are sampled.
func (s Sampler) PerPeriod() int {
	n := 0
	for o := range s.offsets {
		if o >= 0 && o < s.base {
			n++
		}
	}
	return n
}

// Rate returns the sampled frames per second for a source running at fps.
func (s Sampler) Rate(fps float64) float64 {
	if s.base <= 0 {
		return 0
	}
	return fps * float64(s.PerPeriod()) / float64(s.base)
}
