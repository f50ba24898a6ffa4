// Package occupancy turns per-frame chair/person overlaps into a debounced
// occupancy signal.
//
// Each chair keeps a consecutive-overlap counter. A sampled frame in which the
// chair overlaps anyone increments it; a frame without overlap resets it to
// zero. A chair is reported occupied once its counter exceeds the hysteresis
// threshold, i.e. after threshold+1 consecutive overlapping frames, and is
// released on the first frame without overlap.
package occupancy

import (
	"errors"
	"fmt"

	"github.com/dj-oyu/seat-monitor/pkg/types"
)

// DefaultThreshold is the counter value a chair must exceed to be occupied.
const DefaultThreshold = 4

// ErrUnknownChair is returned when an overlap references a chair index
// outside [0, nChairs).
var ErrUnknownChair = errors.New("unknown chair index")

// Update applies one frame of overlaps to counters and returns the overlaps
// whose chair counter, after the update, exceeds DefaultThreshold, together
// with the updated counters. The returned map holds exactly nChairs entries.
// Overlaps naming a chair outside [0, nChairs) are counted but never kept in
// the returned map.
func Update(counters map[int]int, overlaps []types.OverlapPair, nChairs int) ([]types.OverlapPair, map[int]int) {
	return UpdateThreshold(counters, overlaps, nChairs, DefaultThreshold)
}

// UpdateThreshold is Update with an explicit hysteresis threshold.
func UpdateThreshold(counters map[int]int, overlaps []types.OverlapPair, nChairs, threshold int) ([]types.OverlapPair, map[int]int) {
	if counters == nil {
		counters = make(map[int]int, nChairs)
	}

	seen := make(map[int]bool, len(overlaps))
	for _, o := range overlaps {
		counters[o.Chair]++
		seen[o.Chair] = true
	}

	filtered := make([]types.OverlapPair, 0, len(overlaps))
	for _, o := range overlaps {
		if counters[o.Chair] > threshold {
			filtered = append(filtered, o)
		}
	}

	for id := 0; id < nChairs; id++ {
		if !seen[id] {
			counters[id] = 0
		}
	}
	for id := range counters {
		if id < 0 || id >= nChairs {
			delete(counters, id)
		}
	}
	return filtered, counters
}

// Result is the outcome of one Tracker update.
type Result struct {
	Occupied    []types.OverlapPair // Input overlaps whose chair is occupied
	Transitions []Transition        // State changes in this update, by chair index
}

// Tracker owns the occupancy state of every chair in a session. It is not
// safe for concurrent use: a single goroutine applies updates in frame order.
type Tracker struct {
	threshold int
	chairs    []Chair
	updates   uint64
}

// NewTracker creates a tracker for nChairs chairs, all idle with a zero
// counter. A negative threshold selects DefaultThreshold.
func NewTracker(nChairs, threshold int) *Tracker {
	if nChairs < 0 {
		nChairs = 0
	}
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	chairs := make([]Chair, nChairs)
	for i := range chairs {
		chairs[i] = Chair{Index: i, State: StateIdle}
	}
	return &Tracker{
		threshold: threshold,
		chairs:    chairs,
	}
}

// Len returns the number of chairs.
func (t *Tracker) Len() int {
	return len(t.chairs)
}

// Threshold returns the hysteresis threshold.
func (t *Tracker) Threshold() int {
	return t.threshold
}

// Updates returns how many updates have been applied.
func (t *Tracker) Updates() uint64 {
	return t.updates
}

// Update applies one sampled frame's overlaps. It fails without touching any
// state if an overlap names an unknown chair.
func (t *Tracker) Update(overlaps []types.OverlapPair) (Result, error) {
	hits := make([]int, len(t.chairs))
	for _, o := range overlaps {
		if o.Chair < 0 || o.Chair >= len(t.chairs) {
			return Result{}, fmt.Errorf("%w: %d (have %d chairs)", ErrUnknownChair, o.Chair, len(t.chairs))
		}
		hits[o.Chair]++
	}

	var res Result
	for i := range t.chairs {
		c := &t.chairs[i]
		from := c.State
		if c.observe(hits[i], t.threshold) {
			res.Transitions = append(res.Transitions, Transition{
				Chair: i,
				From:  from,
				To:    c.State,
				Count: c.Count,
			})
		}
	}

	res.Occupied = make([]types.OverlapPair, 0, len(overlaps))
	for _, o := range overlaps {
		if t.chairs[o.Chair].Occupied() {
			res.Occupied = append(res.Occupied, o)
		}
	}

	t.updates++
	return res, nil
}

// Chair returns a copy of chair i's state.
func (t *Tracker) Chair(i int) (Chair, bool) {
	if i < 0 || i >= len(t.chairs) {
		return Chair{}, false
	}
	return t.chairs[i], true
}

// Counters returns a copy of the per-chair counters.
func (t *Tracker) Counters() map[int]int {
	counters := make(map[int]int, len(t.chairs))
	for _, c := range t.chairs {
		counters[c.Index] = c.Count
	}
	return counters
}

// Snapshot returns the status of every chair, ordered by index.
func (t *Tracker) Snapshot() []types.ChairStatus {
	out := make([]types.ChairStatus, len(t.chairs))
	for i, c := range t.chairs {
		out[i] = types.ChairStatus{
			Index:    c.Index,
			Count:    c.Count,
			State:    string(c.State),
			Occupied: c.Occupied(),
		}
	}
	return out
}

// Reset returns every chair to idle(0).
func (t *Tracker) Reset() {
	for i := range t.chairs {
		t.chairs[i].Count = 0
		t.chairs[i].State = StateIdle
	}
}
