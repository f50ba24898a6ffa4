package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/seat-monitor/internal/logger"
	"github.com/dj-oyu/seat-monitor/internal/metrics"
	"github.com/dj-oyu/seat-monitor/internal/video"
	"github.com/dj-oyu/seat-monitor/pkg/types"
)

// Output formats.
const (
	FormatMJPEG = "mjpeg" // Concatenated JPEG frames
	FormatMP4   = "mp4"   // Encoded by ffmpeg
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Config configures a recorder.
type Config struct {
	BasePath     string
	Format       string
	FPS          float64 // Output rate for mp4, normally the source rate
	JPEGQuality  int
	QueueSize    int
	DropWhenFull bool // Drop frames instead of blocking the pipeline when the queue is full
}

// DefaultConfig returns the default recorder settings.
func DefaultConfig() Config {
	return Config{
		BasePath:    "./recordings",
		Format:      FormatMP4,
		FPS:         30,
		JPEGQuality: 85,
		QueueSize:   60,
	}
}

// frameWriter is one open output file.
type frameWriter interface {
	WriteFrame(img *image.RGBA) error
	Size() uint64
	Close() error
}

// Recorder records annotated frames to file
type Recorder struct {
	cfg     Config
	metrics *metrics.Metrics

	mu           sync.RWMutex
	out          frameWriter
	path         string
	recording    bool
	frameCount   uint64
	droppedCount uint64
	startTime    time.Time
	frameChan    chan *types.AnnotatedFrame
	writeErr     error
	wg           sync.WaitGroup

	// sendMu orders Emit's channel sends before Stop closes the queue
	sendMu sync.RWMutex

	openWriter func(path string) (frameWriter, error)
}

// NewRecorder creates a new recorder. m may be nil.
func NewRecorder(cfg Config, m *metrics.Metrics) (*Recorder, error) {
	def := DefaultConfig()
	switch cfg.Format {
	case "":
		cfg.Format = def.Format
	case FormatMJPEG, FormatMP4:
	default:
		return nil, fmt.Errorf("unknown recording format %q", cfg.Format)
	}
	if cfg.BasePath == "" {
		cfg.BasePath = def.BasePath
	}
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	r := &Recorder{cfg: cfg, metrics: m}
	r.openWriter = r.openFile
	return r, nil
}

func (r *Recorder) openFile(path string) (frameWriter, error) {
	if r.cfg.Format == FormatMJPEG {
		return newMJPEGWriter(path, r.cfg.JPEGQuality)
	}
	// the encoder is sized by the first frame
	return &mp4Writer{path: path, fps: r.cfg.FPS}, nil
}

// Start starts recording to a new file under the base path. An empty name
// gets a timestamped one. It returns the output path.
func (r *Recorder) Start(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", ErrAlreadyRecording
	}

	if name == "" {
		name = fmt.Sprintf("recording_%s", time.Now().Format("20060102_150405"))
	}
	name = filepath.Base(name)
	if filepath.Ext(name) == "" {
		name += "." + r.cfg.Format
	}
	if err := os.MkdirAll(r.cfg.BasePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recordings directory: %w", err)
	}
	path := filepath.Join(r.cfg.BasePath, name)

	out, err := r.openWriter(path)
	if err != nil {
		return "", err
	}

	r.out = out
	r.path = path
	r.recording = true
	r.frameCount = 0
	r.droppedCount = 0
	r.writeErr = nil
	r.startTime = time.Now()
	r.frameChan = make(chan *types.AnnotatedFrame, r.cfg.QueueSize)

	r.wg.Add(1)
	go r.writeFrames(r.frameChan, out)

	r.setActive(true)
	logger.Info("Recorder", "Recording started: %s", path)
	return path, nil
}

// Stop stops recording, flushes queued frames and closes the file.
func (r *Recorder) Stop() (RecordingStatus, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return RecordingStatus{}, ErrNotRecording
	}
	r.recording = false
	ch := r.frameChan
	r.mu.Unlock()

	r.sendMu.Lock()
	close(ch)
	r.sendMu.Unlock()

	// Wait for write goroutine to drain the queue
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.out.Close()
	status := r.statusLocked()
	status.Duration = time.Since(r.startTime)
	r.setActive(false)
	if err != nil {
		return status, fmt.Errorf("failed to close recording: %w", err)
	}
	logger.Info("Recorder", "Recording stopped: %s (%d frames, %d bytes)", r.path, status.FrameCount, status.BytesWritten)
	return status, r.writeErr
}

// Emit queues an annotated frame while recording. It returns the first write
// error of the current recording so the session fails instead of silently
// losing output.
func (r *Recorder) Emit(ctx context.Context, frame *types.AnnotatedFrame) error {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()

	r.mu.RLock()
	recording := r.recording
	ch := r.frameChan
	werr := r.writeErr
	r.mu.RUnlock()

	if werr != nil {
		return fmt.Errorf("recorder: %w", werr)
	}
	if !recording {
		return nil
	}

	if r.cfg.DropWhenFull {
		select {
		case ch <- frame:
		default:
			r.mu.Lock()
			r.droppedCount++
			r.mu.Unlock()
			if r.metrics != nil {
				r.metrics.RecorderFramesDropped.Add(1)
			}
		}
		return nil
	}

	select {
	case ch <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeFrames writes queued frames until the queue is closed
func (r *Recorder) writeFrames(ch <-chan *types.AnnotatedFrame, out frameWriter) {
	defer r.wg.Done()

	for frame := range ch {
		if frame.Image == nil {
			continue
		}
		err := out.WriteFrame(frame.Image)

		r.mu.Lock()
		if err != nil {
			if r.writeErr == nil {
				r.writeErr = err
				logger.Error("Recorder", "Write failed at frame %d: %v", frame.Index, err)
			}
			if r.metrics != nil {
				r.metrics.RecorderErrors.Add(1)
			}
		} else {
			r.frameCount++
			if r.metrics != nil {
				r.metrics.RecordingFrames.Store(r.frameCount)
				r.metrics.RecordingBytes.Store(out.Size())
			}
		}
		r.mu.Unlock()
	}
}

func (r *Recorder) setActive(active bool) {
	if r.metrics == nil {
		return
	}
	if active {
		r.metrics.RecordingActive.Store(1)
	} else {
		r.metrics.RecordingActive.Store(0)
	}
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statusLocked()
}

func (r *Recorder) statusLocked() RecordingStatus {
	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}
	var size uint64
	if r.out != nil {
		size = r.out.Size()
	}
	return RecordingStatus{
		Recording:    r.recording,
		Format:       r.cfg.Format,
		Path:         r.path,
		FrameCount:   r.frameCount,
		DroppedCount: r.droppedCount,
		BytesWritten: size,
		Duration:     duration,
		StartTime:    r.startTime,
	}
}

// Close stops any active recording.
func (r *Recorder) Close() error {
	if r.IsRecording() {
		_, err := r.Stop()
		return err
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool          `json:"recording"`
	Format       string        `json:"format"`
	Path         string        `json:"filename"`
	FrameCount   uint64        `json:"frame_count"`
	DroppedCount uint64        `json:"dropped_count"`
	BytesWritten uint64        `json:"bytes_written"`
	Duration     time.Duration `json:"duration_ms"`
	StartTime    time.Time     `json:"start_time"`
}

// mjpegWriter appends JPEG frames to a single file.
type mjpegWriter struct {
	file    *os.File
	buf     *bufio.Writer
	quality int
	bytes   atomic.Uint64
}

func newMJPEGWriter(path string, quality int) (*mjpegWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &mjpegWriter{file: file, buf: bufio.NewWriter(file), quality: quality}, nil
}

type countingWriter struct {
	w *bufio.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

func (w *mjpegWriter) WriteFrame(img *image.RGBA) error {
	cw := &countingWriter{w: w.buf}
	if err := jpeg.Encode(cw, img, &jpeg.Options{Quality: w.quality}); err != nil {
		return err
	}
	w.bytes.Add(cw.n)
	return nil
}

func (w *mjpegWriter) Size() uint64 { return w.bytes.Load() }

func (w *mjpegWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return w.file.Close()
}

// mp4Writer starts the ffmpeg encoder on the first frame.
type mp4Writer struct {
	path string
	fps  float64
	enc  *video.Writer
}

func (w *mp4Writer) WriteFrame(img *image.RGBA) error {
	if w.enc == nil {
		b := img.Bounds()
		// yuv420p needs even dimensions
		enc, err := video.NewWriter(video.WriterConfig{
			Path:   w.path,
			Width:  b.Dx() &^ 1,
			Height: b.Dy() &^ 1,
			FPS:    w.fps,
		})
		if err != nil {
			return err
		}
		w.enc = enc
	}
	return w.enc.Write(img)
}

func (w *mp4Writer) Size() uint64 {
	info, err := os.Stat(w.path)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

func (w *mp4Writer) Close() error {
	if w.enc == nil {
		return nil
	}
	return w.enc.Close()
}
