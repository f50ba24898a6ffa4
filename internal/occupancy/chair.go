package occupancy

// State is the lifecycle state of one chair.
type State string

const (
	StateIdle     State = "idle"     // Counting consecutive overlapping frames
	StateOccupied State = "occupied" // Streak passed the hysteresis threshold
)

// Chair is the per-chair debounce state machine.
//
//	idle(n) --overlap--> idle(n+k)     while n+k <= threshold
//	idle(n) --overlap--> occupied      once n+k > threshold
//	any     --no overlap--> idle(0)
//
// k is the number of overlap pairs the chair appeared in this frame.
type Chair struct {
	Index int
	State State
	Count int
}

// observe applies one sampled frame in which the chair appeared in hits
// overlap pairs, and reports whether the state changed.
func (c *Chair) observe(hits, threshold int) bool {
	prev := c.State
	if hits == 0 {
		c.Count = 0
		c.State = StateIdle
		return prev != c.State
	}

	c.Count += hits
	if c.Count > threshold {
		c.State = StateOccupied
	} else {
		c.State = StateIdle
	}
	return prev != c.State
}

// Occupied reports whether the chair is currently occupied.
func (c Chair) Occupied() bool {
	return c.State == StateOccupied
}

// Transition records a chair changing state during one update.
type Transition struct {
	Chair int   `json:"chair"`
	From  State `json:"from"`
	To    State `json:"to"`
	Count int   `json:"count"`
}
