package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// intList is a comma-separated list of ints.
type intList struct{ v *[]int }

func (l intList) String() string {
	if l.v == nil {
		return ""
	}
	parts := make([]string, len(*l.v))
	for i, n := range *l.v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func (l intList) Set(s string) error {
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid integer %q", p)
		}
		out = append(out, n)
	}
	*l.v = out
	return nil
}

// stringList is a comma-separated list of strings.
type stringList struct{ v *[]string }

func (l stringList) String() string {
	if l.v == nil {
		return ""
	}
	return strings.Join(*l.v, ",")
}

func (l stringList) Set(s string) error {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*l.v = out
	return nil
}

// BindFlags registers command-line flags writing into cfg.
func BindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.SessionID, "session", cfg.SessionID, "Session ID (default: random UUID)")
	fs.StringVar(&cfg.Input.Video, "video", cfg.Input.Video, "Video file, stream URL or image directory")
	fs.Float64Var(&cfg.Input.FallbackFPS, "fps", cfg.Input.FallbackFPS, "Frame rate when the source does not report one")
	fs.IntVar(&cfg.Input.Prefetch, "prefetch", cfg.Input.Prefetch, "Frames decoded ahead of processing")
	fs.StringVar(&cfg.Zones, "zones", cfg.Zones, "Chair zone JSON document")

	fs.StringVar(&cfg.Detector.Kind, "detector", cfg.Detector.Kind, "Detector kind (http, replay)")
	fs.StringVar(&cfg.Detector.URL, "detector-url", cfg.Detector.URL, "Inference endpoint URL")
	fs.StringVar(&cfg.Detector.Model, "detector-model", cfg.Detector.Model, "Model name sent to the inference endpoint")
	fs.StringVar(&cfg.Detector.Replay, "replay", cfg.Detector.Replay, "JSON-lines detections for the replay detector")
	fs.DurationVar(&cfg.Detector.Timeout, "detector-timeout", cfg.Detector.Timeout, "Inference request timeout")

	fs.Float64Var(&cfg.Pipeline.OverlapThreshold, "overlap-threshold", cfg.Pipeline.OverlapThreshold, "Minimum chair/person intersection area")
	fs.IntVar(&cfg.Pipeline.OccupancyThreshold, "occupancy-threshold", cfg.Pipeline.OccupancyThreshold, "Consecutive overlapping frames before a chair is occupied")
	fs.Var(intList{&cfg.Pipeline.SampleOffsets}, "sample-offsets", "Processed frame offsets within each second (comma-separated)")
	fs.BoolVar(&cfg.Pipeline.SkipDetectionErrors, "skip-detection-errors", cfg.Pipeline.SkipDetectionErrors, "Skip frames whose detection fails")
	fs.BoolVar(&cfg.Pipeline.SkipInvalidPairs, "skip-invalid-pairs", cfg.Pipeline.SkipInvalidPairs, "Drop chair/person pairs whose intersection fails")

	fs.BoolVar(&cfg.Server.Enabled, "serve", cfg.Server.Enabled, "Serve the live monitor")
	fs.StringVar(&cfg.Server.Addr, "http", cfg.Server.Addr, "Live monitor address")
	fs.BoolVar(&cfg.Server.Linger, "linger", cfg.Server.Linger, "Keep serving after the session ends")

	fs.BoolVar(&cfg.WebRTC.Enabled, "webrtc", cfg.WebRTC.Enabled, "Accept WebRTC occupancy channels")
	fs.Var(stringList{&cfg.WebRTC.STUN}, "stun", "STUN server URLs (comma-separated)")
	fs.IntVar(&cfg.WebRTC.MaxClients, "max-clients", cfg.WebRTC.MaxClients, "Maximum WebRTC clients")

	fs.BoolVar(&cfg.Recording.Enabled, "recording", cfg.Recording.Enabled, "Enable the recorder")
	fs.BoolVar(&cfg.Recording.AutoStart, "record", cfg.Recording.AutoStart, "Record the whole session")
	fs.StringVar(&cfg.Recording.Path, "record-path", cfg.Recording.Path, "Recording output path")
	fs.StringVar(&cfg.Recording.Name, "record-name", cfg.Recording.Name, "File name for the session recording")
	fs.StringVar(&cfg.Recording.Format, "record-format", cfg.Recording.Format, "Recording format (mjpeg, mp4)")

	fs.StringVar(&cfg.Metrics.Addr, "metrics", cfg.Metrics.Addr, "Metrics and pprof address (empty disables)")

	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&cfg.Log.Color, "log-color", cfg.Log.Color, "Enable colored log output")
	fs.StringVar(&cfg.Log.File.Path, "log-file", cfg.Log.File.Path, "Rotating log file (empty disables)")
}

// Parse builds the configuration from command-line arguments. Flags set
// explicitly override values from the -config file, which override the
// defaults. The result is validated.
func Parse(name string, args []string) (*Config, error) {
	cfg := Default()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", "", "YAML configuration file")
	BindFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *path != "" {
		fileCfg, err := load(*path)
		if err != nil {
			return nil, err
		}
		overlay := flag.NewFlagSet(name, flag.ContinueOnError)
		BindFlags(overlay, fileCfg)
		var setErr error
		fs.Visit(func(f *flag.Flag) {
			if f.Name == "config" || setErr != nil {
				return
			}
			setErr = overlay.Set(f.Name, f.Value.String())
		})
		if setErr != nil {
			return nil, setErr
		}
		cfg = *fileCfg
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
