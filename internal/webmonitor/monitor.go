package webmonitor

import (
	"slices"
	"sync"
	"time"

	"github.com/dj-oyu/seat-monitor/internal/zones"
)

// Monitor keeps the latest published occupancy view of a session. The
// pipeline writes it through Update; HTTP handlers only read snapshots.
type Monitor struct {
	startTime   time.Time
	zones       []zones.Zone
	historySize int

	mu              sync.Mutex
	sessionID       string
	framesProcessed int
	lastUpdate      time.Time
	fps             float64
	latest          *OccupancyEvent
	history         []OccupancyEvent
}

// NewMonitor creates a Monitor over a chair layout. layout may be nil.
func NewMonitor(layout *zones.Layout, historySize int) *Monitor {
	m := &Monitor{
		startTime:   time.Now(),
		historySize: historySize,
	}
	if layout != nil {
		m.zones = layout.Zones()
	}
	return m
}

// Update records the event of a processed frame.
func (m *Monitor) Update(event OccupancyEvent) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastUpdate.IsZero() {
		if dt := now.Sub(m.lastUpdate).Seconds(); dt > 0 {
			inst := 1 / dt
			if m.fps == 0 {
				m.fps = inst
			} else {
				m.fps = 0.8*m.fps + 0.2*inst
			}
		}
	}
	m.lastUpdate = now
	m.framesProcessed++
	m.sessionID = event.SessionID

	if m.latest == nil || !slices.Equal(m.latest.Occupied, event.Occupied) {
		m.history = append([]OccupancyEvent{event}, m.history...)
		if len(m.history) > m.historySize {
			m.history = m.history[:m.historySize]
		}
	}
	m.latest = &event
}

// Chairs returns every chair zone with its latest state.
func (m *Monitor) Chairs() []ChairView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chairsLocked()
}

func (m *Monitor) chairsLocked() []ChairView {
	views := make([]ChairView, len(m.zones))
	for i, z := range m.zones {
		pts := make([][2]float64, len(z.Polygon))
		for j, p := range z.Polygon {
			pts[j] = [2]float64{p.X, p.Y}
		}
		views[i] = ChairView{
			Index:  z.Index,
			Label:  z.Label,
			Points: pts,
			State:  "idle",
		}
		if m.latest != nil && i < len(m.latest.Chairs) {
			c := m.latest.Chairs[i]
			views[i].State = c.State
			views[i].Count = c.Count
			views[i].Occupied = c.Occupied
		}
	}
	return views
}

// Snapshot returns the current status payload.
func (m *Monitor) Snapshot() StatusPayload {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		SessionID:       m.sessionID,
		FramesProcessed: m.framesProcessed,
		LastFrame:       -1,
		CurrentFPS:      m.fps,
		ChairCount:      len(m.zones),
		UptimeSeconds:   time.Since(m.startTime).Seconds(),
	}

	var latest *OccupancyEvent
	if m.latest != nil {
		ev := *m.latest
		latest = &ev
		stats.LastFrame = ev.FrameNumber
		stats.OccupiedCount = len(ev.Occupied)
	}

	history := make([]OccupancyEvent, len(m.history))
	copy(history, m.history)

	return StatusPayload{
		Monitor:         stats,
		Chairs:          m.chairsLocked(),
		LatestOccupancy: latest,
		History:         history,
		Timestamp:       float64(time.Now().Unix()),
	}
}

// Latest returns the most recent event, if any.
func (m *Monitor) Latest() (OccupancyEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return OccupancyEvent{}, false
	}
	return *m.latest, true
}
