// Command seatmonitor runs one seat occupancy monitoring session over a video
// and serves the annotated result live.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/seat-monitor/internal/config"
	"github.com/dj-oyu/seat-monitor/internal/detector"
	"github.com/dj-oyu/seat-monitor/internal/logger"
	"github.com/dj-oyu/seat-monitor/internal/metrics"
	"github.com/dj-oyu/seat-monitor/internal/pipeline"
	"github.com/dj-oyu/seat-monitor/internal/recorder"
	"github.com/dj-oyu/seat-monitor/internal/video"
	"github.com/dj-oyu/seat-monitor/internal/webmonitor"
	"github.com/dj-oyu/seat-monitor/internal/webrtc"
	"github.com/dj-oyu/seat-monitor/internal/zones"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logFile := logger.Init(logger.Options{
		Level:  level,
		Output: os.Stderr,
		Color:  cfg.Log.Color,
		File:   cfg.Log.File,
	})
	defer logFile.Close()

	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	logger.Info("Main", "Seat monitor starting (session %s, log level %s)", cfg.SessionID, level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := NewServer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	err = srv.Run(ctx)
	if cerr := srv.Close(); cerr != nil {
		logger.Warn("Main", "Error during shutdown: %v", cerr)
	}
	if err != nil {
		logger.Error("Main", "Session failed: %v", err)
		logFile.Close()
		os.Exit(1)
	}
	logger.Info("Main", "Seat monitor stopped")
}

// Server wires one monitoring session to its sinks and HTTP endpoints
type Server struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	source   video.Source
	driver   *pipeline.Driver
	recorder *recorder.Recorder
	monitor  *webmonitor.Server
	webrtc   *webrtc.Server

	httpServer    *http.Server
	metricsServer *http.Server
}

// NewServer loads zones, opens the video source and builds the pipeline
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	layout, err := zones.LoadFile(cfg.Zones)
	if err != nil {
		return nil, err
	}
	logger.Info("Main", "Loaded %d chair zones from %s", layout.Len(), cfg.Zones)

	det, err := newDetector(cfg.Detector)
	if err != nil {
		return nil, err
	}

	source, err := video.Open(ctx, cfg.Input.Video, cfg.Input.FallbackFPS)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		metrics: metrics.New(),
		source:  source,
	}

	pcfg := pipeline.Config{
		SessionID:           cfg.SessionID,
		OverlapThreshold:    cfg.Pipeline.OverlapThreshold,
		OccupancyThreshold:  cfg.Pipeline.OccupancyThreshold,
		SampleOffsets:       cfg.Pipeline.SampleOffsets,
		SkipDetectionErrors: cfg.Pipeline.SkipDetectionErrors,
		SkipInvalidPairs:    cfg.Pipeline.SkipInvalidPairs,
		PrefetchFrames:      cfg.Input.Prefetch,
	}
	sampler := pipeline.NewSampler(source.FPS(), pcfg.SampleOffsets...)

	var sinks []pipeline.Sink

	if cfg.Recording.Enabled {
		// the recording plays the sampled frames back in real time
		fps := sampler.Rate(source.FPS())
		if fps <= 0 {
			fps = source.FPS()
		}
		s.recorder, err = recorder.NewRecorder(recorder.Config{
			BasePath:     cfg.Recording.Path,
			Format:       cfg.Recording.Format,
			FPS:          fps,
			QueueSize:    cfg.Recording.QueueSize,
			DropWhenFull: cfg.Recording.DropWhenFull,
		}, s.metrics)
		if err != nil {
			source.Close()
			return nil, err
		}
		sinks = append(sinks, s.recorder)
	}

	if cfg.Server.Enabled {
		s.monitor = webmonitor.NewServer(webmonitor.Config{
			Addr:           cfg.Server.Addr,
			AssetsDir:      cfg.Server.AssetsDir,
			TargetFPS:      cfg.Server.PreviewFPS,
			PreviewWidth:   cfg.Server.PreviewWidth,
			JPEGQuality:    cfg.Server.JPEGQuality,
			StatusInterval: cfg.Server.StatusInterval,
		}, layout, s.recorder, s.metrics)
		sinks = append(sinks, s.monitor)

		if cfg.WebRTC.Enabled {
			s.webrtc = webrtc.NewServer(webrtc.Config{
				STUNServers: cfg.WebRTC.STUN,
				MaxClients:  cfg.WebRTC.MaxClients,
			}, s.metrics)
			s.monitor.SetOfferHandler(s.webrtc)
			sinks = append(sinks, s.webrtc)
		}

		s.httpServer = &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           s.monitor.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	if cfg.Metrics.Addr != "" {
		s.metricsServer = s.metrics.NewServer(cfg.Metrics.Addr)
	}

	s.driver, err = pipeline.NewDriver(pcfg, pipeline.Deps{
		Source:   source,
		Detector: det,
		Layout:   layout,
		Sinks:    sinks,
		Metrics:  s.metrics,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func newDetector(cfg config.DetectorConfig) (detector.Detector, error) {
	switch cfg.Kind {
	case config.DetectorHTTP:
		logger.Info("Main", "Detector: %s (model %q)", cfg.URL, cfg.Model)
		return detector.NewHTTPDetector(detector.HTTPConfig{
			URL:         cfg.URL,
			Model:       cfg.Model,
			JPEGQuality: cfg.JPEGQuality,
			Timeout:     cfg.Timeout,
		}), nil
	case config.DetectorReplay:
		d, err := detector.OpenReplay(cfg.Replay)
		if err != nil {
			return nil, err
		}
		logger.Info("Main", "Detector: replaying %d records from %s", d.Len(), cfg.Replay)
		return d, nil
	default:
		return nil, fmt.Errorf("unknown detector kind %q", cfg.Kind)
	}
}

// Run starts the servers, runs the session and shuts everything down. With
// server.linger the servers keep running after the session until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	for _, hs := range []*http.Server{s.httpServer, s.metricsServer} {
		if hs == nil {
			continue
		}
		hs := hs
		g.Go(func() error {
			logger.Info("Main", "Listening on %s", hs.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", hs.Addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-serveCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		err := s.runSession(gctx)
		if err != nil {
			return err
		}
		if s.cfg.Server.Linger && s.httpServer != nil {
			logger.Info("Main", "Session finished, still serving on %s (Ctrl+C to exit)", s.cfg.Server.Addr)
			<-gctx.Done()
		}
		stopServing()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("Main", "Interrupted")
		return nil
	}
	return err
}

func (s *Server) runSession(ctx context.Context) (err error) {
	if s.recorder != nil && s.cfg.Recording.AutoStart {
		name := s.cfg.Recording.Name
		if name == "" {
			name = s.cfg.SessionID
		}
		path, startErr := s.recorder.Start(name)
		if startErr != nil {
			return startErr
		}
		logger.Info("Main", "Recording session to %s", path)
		defer func() {
			if !s.recorder.IsRecording() {
				return
			}
			status, stopErr := s.recorder.Stop()
			if stopErr == nil {
				logger.Info("Main", "Saved %s (%d frames, %d bytes)", status.Path, status.FrameCount, status.BytesWritten)
			}
			err = multierr.Append(err, stopErr)
		}()
	}

	res, err := s.driver.Run(ctx)
	logger.Info("Main", "Time taken: %.2f seconds", res.Elapsed.Seconds())
	logger.Info("Main", "Session %s: %d frames read, %d processed, %d skipped, %d transitions",
		res.SessionID, res.FramesRead, res.FramesEmitted, res.FramesSkipped, res.Transitions)
	for _, c := range res.Chairs {
		logger.Info("Main", "  chair %d: %s (streak %d)", c.Index, c.State, c.Count)
	}
	return err
}

// Close releases the source and every sink
func (s *Server) Close() error {
	var err error
	if s.recorder != nil {
		err = multierr.Append(err, s.recorder.Close())
	}
	if s.webrtc != nil {
		err = multierr.Append(err, s.webrtc.Close())
	}
	if s.monitor != nil {
		err = multierr.Append(err, s.monitor.Close())
	}
	if s.source != nil {
		err = multierr.Append(err, s.source.Close())
	}
	return err
}
