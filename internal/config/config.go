// Package config loads the seat monitor configuration: built-in defaults,
// an optional YAML file, then command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/seat-monitor/internal/geometry"
	"github.com/dj-oyu/seat-monitor/internal/logger"
	"github.com/dj-oyu/seat-monitor/internal/occupancy"
	"github.com/dj-oyu/seat-monitor/internal/pipeline"
)

// Detector kinds.
const (
	DetectorHTTP   = "http"
	DetectorReplay = "replay"
)

// Config represents the complete seat monitor configuration
type Config struct {
	SessionID string          `yaml:"session_id"` // Empty generates a UUID
	Input     InputConfig     `yaml:"input"`
	Zones     string          `yaml:"zones" validate:"required"` // Chair zone JSON document
	Detector  DetectorConfig  `yaml:"detector"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Server    ServerConfig    `yaml:"server"`
	WebRTC    WebRTCConfig    `yaml:"webrtc"`
	Recording RecordingConfig `yaml:"recording"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// InputConfig selects the video source
type InputConfig struct {
	Video       string  `yaml:"video" validate:"required"` // Video file, URL or image directory
	FallbackFPS float64 `yaml:"fallback_fps" validate:"gt=0"`
	Prefetch    int     `yaml:"prefetch" validate:"gte=0"` // Frames decoded ahead of processing
}

// DetectorConfig selects and tunes the person detector
type DetectorConfig struct {
	Kind        string        `yaml:"kind" validate:"oneof=http replay"`
	URL         string        `yaml:"url" validate:"required_if=Kind http,omitempty,url"`
	Model       string        `yaml:"model"`
	Replay      string        `yaml:"replay" validate:"required_if=Kind replay"` // JSON-lines detections
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
	JPEGQuality int           `yaml:"jpeg_quality" validate:"min=1,max=100"`
}

// PipelineConfig contains the occupancy parameters
type PipelineConfig struct {
	OverlapThreshold    float64 `yaml:"overlap_threshold" validate:"gte=0"`
	OccupancyThreshold  int     `yaml:"occupancy_threshold" validate:"gte=0"`
	SampleOffsets       []int   `yaml:"sample_offsets" validate:"dive,gte=0"`
	SkipDetectionErrors bool    `yaml:"skip_detection_errors"`
	SkipInvalidPairs    bool    `yaml:"skip_invalid_pairs"`
}

// ServerConfig contains the live monitor settings
type ServerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr" validate:"required_if=Enabled true"`
	AssetsDir      string        `yaml:"assets_dir"`
	PreviewFPS     int           `yaml:"preview_fps" validate:"gte=0"`
	PreviewWidth   int           `yaml:"preview_width" validate:"gte=0"`
	JPEGQuality    int           `yaml:"jpeg_quality" validate:"min=1,max=100"`
	StatusInterval time.Duration `yaml:"status_interval" validate:"gte=0"`
	Linger         bool          `yaml:"linger"` // Keep serving after the session ends until interrupted
}

// WebRTCConfig contains the occupancy data channel settings
type WebRTCConfig struct {
	Enabled    bool     `yaml:"enabled"`
	STUN       []string `yaml:"stun" validate:"dive,required"`
	MaxClients int      `yaml:"max_clients" validate:"gte=0"`
}

// RecordingConfig contains the annotated video output settings
type RecordingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	AutoStart    bool   `yaml:"auto_start"` // Record the whole session from the first frame
	Path         string `yaml:"path" validate:"required_if=Enabled true"`
	Name         string `yaml:"name"` // File name for auto-started recordings
	Format       string `yaml:"format" validate:"oneof=mjpeg mp4"`
	QueueSize    int    `yaml:"queue_size" validate:"gte=0"`
	DropWhenFull bool   `yaml:"drop_when_full"`
}

// MetricsConfig contains the Prometheus and pprof endpoint settings
type MetricsConfig struct {
	Addr string `yaml:"addr"` // Empty disables the endpoint
}

// LogConfig contains logging settings
type LogConfig struct {
	Level string             `yaml:"level" validate:"oneof=debug info warn warning error silent none"`
	Color bool               `yaml:"color"`
	File  logger.FileOptions `yaml:"file"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Input: InputConfig{
			FallbackFPS: 30,
		},
		Detector: DetectorConfig{
			Kind:        DetectorHTTP,
			Timeout:     10 * time.Second,
			JPEGQuality: 90,
		},
		Pipeline: PipelineConfig{
			OverlapThreshold:   geometry.DefaultOverlapThreshold,
			OccupancyThreshold: occupancy.DefaultThreshold,
			SampleOffsets:      append([]int(nil), pipeline.DefaultSampleOffsets...),
		},
		Server: ServerConfig{
			Enabled:        true,
			Addr:           ":8080",
			PreviewFPS:     10,
			PreviewWidth:   960,
			JPEGQuality:    75,
			StatusInterval: 2 * time.Second,
		},
		WebRTC: WebRTCConfig{
			STUN:       []string{"stun:stun.l.google.com:19302"},
			MaxClients: 10,
		},
		Recording: RecordingConfig{
			Enabled: true,
			Path:    "./recordings",
			Format:  "mp4",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
			File: logger.FileOptions{
				MaxSizeMB:  100,
				MaxBackups: 3,
				MaxAgeDays: 7,
			},
		},
	}
}

var validate = validator.New()

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %s", describe(verrs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func describe(verrs validator.ValidationErrors) string {
	var buf bytes.Buffer
	for i, fe := range verrs {
		if i > 0 {
			buf.WriteString("; ")
		}
		fmt.Fprintf(&buf, "%s failed %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			fmt.Fprintf(&buf, " (%s)", fe.Param())
		}
	}
	return buf.String()
}

// Decode reads YAML over the defaults. Unknown keys are rejected. The result
// is not validated.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Load reads and validates a YAML configuration file
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}
