package webmonitor

import (
	"time"
)

// Config defines the runtime configuration for the live monitor.
type Config struct {
	Addr           string
	AssetsDir      string        // Optional directory served under /assets/
	WebRTCBaseURL  string        // Offers are proxied here when no in-process handler is set
	TargetFPS      int           // Upper bound on MJPEG frames per second
	PreviewWidth   int           // MJPEG frames wider than this are down-scaled; 0 keeps full size
	JPEGQuality    int
	StatusInterval time.Duration // Period of /api/status/stream events
	HistorySize    int           // Occupancy changes kept for /api/status
}

// DefaultConfig returns the default monitor settings.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		TargetFPS:      10,
		PreviewWidth:   960,
		JPEGQuality:    75,
		StatusInterval: 2 * time.Second,
		HistorySize:    8,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TargetFPS <= 0 {
		c.TargetFPS = def.TargetFPS
	}
	if c.PreviewWidth < 0 {
		c.PreviewWidth = 0
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	return c
}
