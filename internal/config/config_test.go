package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seatmonitor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultRequiresInputs(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Config.Zones")
	assert.Contains(t, err.Error(), "Config.Input.Video")
	// the http detector needs an endpoint
	assert.Contains(t, err.Error(), "Config.Detector.URL")

	cfg.Zones = "zones.json"
	cfg.Input.Video = "session.mp4"
	cfg.Detector.URL = "http://localhost:9000/infer"
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, []int{0, 4}, cfg.Pipeline.SampleOffsets)
	assert.Equal(t, 4, cfg.Pipeline.OccupancyThreshold)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
session_id: lecture-hall
input:
  video: ./frames
  fallback_fps: 25
zones: ./zones.json
detector:
  kind: replay
  replay: ./detections.jsonl
pipeline:
  sample_offsets: [0, 10]
  skip_detection_errors: true
server:
  status_interval: 500ms
  linger: true
recording:
  format: mjpeg
  auto_start: true
log:
  level: debug
  file:
    path: ./logs/seatmonitor.log
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "lecture-hall", cfg.SessionID)
	assert.Equal(t, "./frames", cfg.Input.Video)
	assert.Equal(t, 25.0, cfg.Input.FallbackFPS)
	assert.Equal(t, DetectorReplay, cfg.Detector.Kind)
	assert.Equal(t, []int{0, 10}, cfg.Pipeline.SampleOffsets)
	assert.True(t, cfg.Pipeline.SkipDetectionErrors)
	assert.Equal(t, 500*time.Millisecond, cfg.Server.StatusInterval)
	assert.True(t, cfg.Server.Linger)
	assert.True(t, cfg.Recording.AutoStart)
	assert.Equal(t, "mjpeg", cfg.Recording.Format)
	assert.Equal(t, "./logs/seatmonitor.log", cfg.Log.File.Path)

	// untouched keys keep their defaults
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 100, cfg.Log.File.MaxSizeMB)
	assert.Equal(t, 10*time.Second, cfg.Detector.Timeout)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "input:\n  vidoe: x\n"))
	assert.ErrorContains(t, err, "failed to parse config")

	cases := map[string]string{
		"detector kind":    "zones: z\ninput: {video: v}\ndetector: {kind: grpc}\n",
		"detector url":     "zones: z\ninput: {video: v}\ndetector: {kind: http, url: not-a-url}\n",
		"replay file":      "zones: z\ninput: {video: v}\ndetector: {kind: replay}\n",
		"negative offset":  "zones: z\ninput: {video: v}\ndetector: {kind: replay, replay: r}\npipeline: {sample_offsets: [0, -4]}\n",
		"recording format": "zones: z\ninput: {video: v}\ndetector: {kind: replay, replay: r}\nrecording: {format: avi}\n",
		"log level":        "zones: z\ninput: {video: v}\ndetector: {kind: replay, replay: r}\nlog: {level: loud}\n",
		"fps":              "zones: z\ninput: {video: v, fallback_fps: 0}\ndetector: {kind: replay, replay: r}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
			assert.True(t, strings.HasPrefix(err.Error(), "invalid configuration"), err.Error())
		})
	}
}

func TestDecodeEmpty(t *testing.T) {
	cfg, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestParseFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
input: {video: a.mp4}
zones: zones.json
detector: {kind: replay, replay: a.jsonl}
pipeline: {occupancy_threshold: 7}
webrtc: {enabled: true}
`)
	cfg, err := Parse("seatmonitor", []string{
		"-config", path,
		"-video", "b.mp4",
		"-sample-offsets", "0, 2",
		"-stun", "stun:a:3478,stun:b:3478",
		"-webrtc=false",
	})
	require.NoError(t, err)

	assert.Equal(t, "b.mp4", cfg.Input.Video)
	assert.Equal(t, "a.jsonl", cfg.Detector.Replay)
	assert.Equal(t, 7, cfg.Pipeline.OccupancyThreshold)
	assert.Equal(t, []int{0, 2}, cfg.Pipeline.SampleOffsets)
	assert.Equal(t, []string{"stun:a:3478", "stun:b:3478"}, cfg.WebRTC.STUN)
	assert.False(t, cfg.WebRTC.Enabled)
}

func TestParseWithoutFile(t *testing.T) {
	cfg, err := Parse("seatmonitor", []string{
		"-video", "frames", "-zones", "zones.json",
		"-detector", "replay", "-replay", "d.jsonl",
		"-fps", "12.5", "-detector-timeout", "3s", "-metrics", "",
	})
	require.NoError(t, err)
	assert.Equal(t, 12.5, cfg.Input.FallbackFPS)
	assert.Equal(t, 3*time.Second, cfg.Detector.Timeout)
	assert.Empty(t, cfg.Metrics.Addr)

	_, err = Parse("seatmonitor", []string{"-sample-offsets", "0,x"})
	assert.Error(t, err)

	_, err = Parse("seatmonitor", []string{"-video", "v"})
	assert.ErrorContains(t, err, "invalid configuration")
}
