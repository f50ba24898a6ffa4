// Package pipeline drives a monitoring session: it samples frames from a video
// source, runs person detection, reduces detections to chair overlaps, feeds
// them through the occupancy tracker and emits annotated frames to sinks.
//
// The per-frame sequence is strictly ordered and runs on the goroutine that
// calls Run. Only decoding can run ahead, on a single reader goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dj-oyu/seat-monitor/internal/detector"
	"github.com/dj-oyu/seat-monitor/internal/geometry"
	"github.com/dj-oyu/seat-monitor/internal/logger"
	"github.com/dj-oyu/seat-monitor/internal/metrics"
	"github.com/dj-oyu/seat-monitor/internal/occupancy"
	"github.com/dj-oyu/seat-monitor/internal/render"
	"github.com/dj-oyu/seat-monitor/internal/video"
	"github.com/dj-oyu/seat-monitor/internal/zones"
	"github.com/dj-oyu/seat-monitor/pkg/types"
)

// Config tunes a session.
type Config struct {
	SessionID           string
	OverlapThreshold    float64 // Minimum intersection area, exclusive
	OccupancyThreshold  int     // Streak length a chair must exceed to be occupied
	SampleOffsets       []int   // Processed positions within each cadence period
	SkipDetectionErrors bool    // Log and skip frames whose detection fails
	SkipInvalidPairs    bool    // Drop chair/person pairs whose intersection fails
	PrefetchFrames      int     // Frames decoded ahead of processing; 0 reads inline
}

// DefaultConfig returns the reference session settings.
func DefaultConfig() Config {
	return Config{
		OverlapThreshold:   geometry.DefaultOverlapThreshold,
		OccupancyThreshold: occupancy.DefaultThreshold,
		SampleOffsets:      append([]int(nil), DefaultSampleOffsets...),
	}
}

// Deps are the collaborators of a session.
type Deps struct {
	Source   video.Source
	Detector detector.Detector
	Layout   *zones.Layout
	Renderer *render.Renderer // Defaults to render.DefaultOptions
	Sinks    []Sink
	Metrics  *metrics.Metrics // Optional
}

// Result summarizes a finished session.
type Result struct {
	SessionID     string
	FramesRead    int
	FramesSampled int
	FramesSkipped int // Sampled frames dropped after a detection error
	FramesEmitted int
	Transitions   int
	Elapsed       time.Duration
	Chairs        []types.ChairStatus // Final per-chair state
}

// Driver runs one monitoring session. It is not reusable: the occupancy
// counters live for exactly one Run.
type Driver struct {
	cfg      Config
	deps     Deps
	sampler  Sampler
	engine   *geometry.Engine
	tracker  *occupancy.Tracker
	chairs   []types.Polygon
	renderer *render.Renderer
}

// NewDriver validates deps and prepares a session.
func NewDriver(cfg Config, deps Deps) (*Driver, error) {
	if deps.Source == nil {
		return nil, errors.New("pipeline: no video source")
	}
	if deps.Detector == nil {
		return nil, errors.New("pipeline: no detector")
	}
	if deps.Layout == nil {
		return nil, errors.New("pipeline: no chair layout")
	}
	if cfg.PrefetchFrames < 0 {
		return nil, fmt.Errorf("pipeline: negative prefetch %d", cfg.PrefetchFrames)
	}

	renderer := deps.Renderer
	if renderer == nil {
		renderer = render.NewRenderer(render.DefaultOptions())
	}

	return &Driver{
		cfg:      cfg,
		deps:     deps,
		sampler:  NewSampler(deps.Source.FPS(), cfg.SampleOffsets...),
		engine:   geometry.NewEngine(cfg.OverlapThreshold),
		tracker:  occupancy.NewTracker(deps.Layout.Len(), cfg.OccupancyThreshold),
		chairs:   deps.Layout.Polygons(),
		renderer: renderer,
	}, nil
}

// Sampler returns the frame sampler in use.
func (d *Driver) Sampler() Sampler {
	return d.sampler
}

// Run processes the source until it ends, ctx is cancelled, or a frame fails.
// The returned Result is valid in every case.
func (d *Driver) Run(ctx context.Context) (res Result, err error) {
	start := time.Now()
	res.SessionID = d.cfg.SessionID
	defer func() {
		res.Elapsed = time.Since(start)
		res.Chairs = d.tracker.Snapshot()
	}()

	logger.Info("Pipeline", "Session %s: %d chairs, %.2f fps, sampling every %d frames at %v",
		d.cfg.SessionID, len(d.chairs), d.deps.Source.FPS(), d.sampler.Base(), d.cfg.SampleOffsets)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var next func(context.Context) (types.Frame, error)
	if d.cfg.PrefetchFrames > 0 {
		p := startPrefetch(runCtx, d.deps.Source, d.cfg.PrefetchFrames)
		defer p.wait()
		defer cancel()
		next = p.next
	} else {
		next = d.deps.Source.Read
	}

	for {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		frame, err := next(runCtx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, &FrameError{Index: res.FramesRead, Stage: StageRead, Err: err}
		}
		res.FramesRead++
		d.count(func(m *metrics.Metrics) { m.FramesRead.Add(1) })

		if !d.sampler.ShouldProcess(frame.Index) {
			continue
		}
		res.FramesSampled++
		d.count(func(m *metrics.Metrics) { m.FramesSampled.Add(1) })

		out, transitions, err := d.process(runCtx, frame)
		if err != nil {
			return res, err
		}
		if out == nil {
			res.FramesSkipped++
			continue
		}
		res.Transitions += transitions
		res.FramesEmitted++
	}

	if res.FramesRead == 0 {
		return res, ErrNoFrames
	}
	logger.Info("Pipeline", "Session %s finished: %d frames read, %d sampled, %d emitted, %d skipped",
		d.cfg.SessionID, res.FramesRead, res.FramesSampled, res.FramesEmitted, res.FramesSkipped)
	return res, nil
}

// process runs detect, overlap, track, render and emit for one sampled frame.
// A nil frame with a nil error means the frame was skipped.
func (d *Driver) process(ctx context.Context, frame types.Frame) (*types.AnnotatedFrame, int, error) {
	start := time.Now()

	people, err := detector.DetectPeople(detector.WithFrameIndex(ctx, frame.Index), d.deps.Detector, frame.Image)
	d.count(func(m *metrics.Metrics) {
		m.DetectorCalls.Add(1)
		m.UpdateDetectorLatency(time.Since(start))
	})
	if err != nil {
		d.count(func(m *metrics.Metrics) { m.DetectorErrors.Add(1) })
		if d.cfg.SkipDetectionErrors && ctx.Err() == nil {
			logger.Warn("Pipeline", "Frame %d: skipping after detection failure: %v", frame.Index, err)
			d.count(func(m *metrics.Metrics) { m.FramesSkipped.Add(1) })
			return nil, 0, nil
		}
		return nil, 0, &FrameError{Index: frame.Index, Stage: StageDetect, Err: err}
	}

	pairs, err := d.engine.FindOverlaps(d.chairs, people)
	if err != nil {
		failures := geometry.PairErrors(err)
		d.count(func(m *metrics.Metrics) { m.GeometryErrors.Add(uint64(len(failures))) })
		if !d.cfg.SkipInvalidPairs {
			return nil, 0, &FrameError{Index: frame.Index, Stage: StageGeometry, Err: err}
		}
		for _, f := range failures {
			logger.Warn("Pipeline", "Frame %d: dropping pair: %v", frame.Index, f)
		}
	}
	d.count(func(m *metrics.Metrics) { m.OverlapPairs.Add(uint64(len(pairs))) })

	update, err := d.tracker.Update(pairs)
	if err != nil {
		return nil, 0, &FrameError{Index: frame.Index, Stage: StageTrack, Err: err}
	}
	for _, tr := range update.Transitions {
		logger.Info("Occupancy", "Frame %d: chair %d %s -> %s (streak %d)",
			frame.Index, tr.Chair, tr.From, tr.To, tr.Count)
	}

	out := &types.AnnotatedFrame{
		SessionID: d.cfg.SessionID,
		Index:     frame.Index,
		Timestamp: frame.Timestamp,
		Image:     d.renderer.Render(frame.Image, d.chairs, people, update.Occupied),
		People:    people,
		Overlaps:  pairs,
		Occupied:  update.Occupied,
		Chairs:    d.tracker.Snapshot(),
	}
	logger.Debug("Pipeline", "Frame %d: %d people, overlaps %v, occupied %v",
		frame.Index, len(people), pairs, update.Occupied)

	for _, sink := range d.deps.Sinks {
		if err := sink.Emit(ctx, out); err != nil {
			return nil, 0, &FrameError{Index: frame.Index, Stage: StageEmit, Err: err}
		}
	}

	d.count(func(m *metrics.Metrics) {
		m.FramesEmitted.Add(1)
		m.Transitions.Add(uint64(len(update.Transitions)))
		m.OccupiedChairs.Store(uint64(len(out.OccupiedChairs())))
		m.UpdateProcessLatency(time.Since(start))
	})
	return out, len(update.Transitions), nil
}

func (d *Driver) count(fn func(m *metrics.Metrics)) {
	if d.deps.Metrics != nil {
		fn(d.deps.Metrics)
	}
}
