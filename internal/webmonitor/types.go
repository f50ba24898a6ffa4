package webmonitor

import (
	"github.com/dj-oyu/seat-monitor/pkg/types"
)

// ChairView is one chair zone with its current state, as served by /api/chairs.
type ChairView struct {
	Index    int          `json:"index"`
	Label    string       `json:"label,omitempty"`
	Points   [][2]float64 `json:"points"`
	State    string       `json:"state"`
	Count    int          `json:"count"`
	Occupied bool         `json:"occupied"`
}

// OccupancyEvent is the payload for /api/occupancy/stream and the WebRTC data
// channel. One event is published per processed frame.
type OccupancyEvent struct {
	SessionID   string              `json:"session_id"`
	FrameNumber int                 `json:"frame_number"`
	Timestamp   float64             `json:"timestamp"` // Seconds from stream start
	People      int                 `json:"people"`
	Overlaps    [][2]int            `json:"overlaps"` // [chair, person]
	Occupied    []int               `json:"occupied"` // Distinct occupied chairs
	Chairs      []types.ChairStatus `json:"chairs"`
}

// NewOccupancyEvent builds the event for an annotated frame.
func NewOccupancyEvent(frame *types.AnnotatedFrame) OccupancyEvent {
	overlaps := make([][2]int, len(frame.Overlaps))
	for i, p := range frame.Overlaps {
		overlaps[i] = [2]int{p.Chair, p.Person}
	}
	chairs := frame.Chairs
	if chairs == nil {
		chairs = []types.ChairStatus{}
	}
	return OccupancyEvent{
		SessionID:   frame.SessionID,
		FrameNumber: frame.Index,
		Timestamp:   frame.Timestamp.Seconds(),
		People:      len(frame.People),
		Overlaps:    overlaps,
		Occupied:    frame.OccupiedChairs(),
		Chairs:      chairs,
	}
}

// MonitorStats is the session part of the status payload.
type MonitorStats struct {
	SessionID       string  `json:"session_id"`
	FramesProcessed int     `json:"frames_processed"`
	LastFrame       int     `json:"last_frame"`
	CurrentFPS      float64 `json:"current_fps"`
	OccupiedCount   int     `json:"occupied_count"`
	ChairCount      int     `json:"chair_count"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// StatusPayload is served by /api/status and /api/status/stream.
type StatusPayload struct {
	Monitor         MonitorStats     `json:"monitor"`
	Chairs          []ChairView      `json:"chairs"`
	LatestOccupancy *OccupancyEvent  `json:"latest_occupancy"`
	History         []OccupancyEvent `json:"occupancy_history"` // Most recent first
	Recording       any              `json:"recording,omitempty"`
	Timestamp       float64          `json:"timestamp"`
}
