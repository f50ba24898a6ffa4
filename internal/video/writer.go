package video

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os/exec"
	"sync"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// WriterConfig configures an ffmpeg encoder.
type WriterConfig struct {
	Path   string
	Width  int
	Height int
	FPS    float64
	Codec  string // Defaults to mpeg4, which every ffmpeg build carries
}

// Writer encodes frames into a video file through an ffmpeg child process
// reading rgb24 raw frames from a pipe.
type Writer struct {
	cfg    WriterConfig
	pipe   *io.PipeWriter
	done   chan struct{}
	err    error
	frame  *image.RGBA
	packed []byte
	frames int

	closeOnce sync.Once
}

// NewWriter starts the encoder. Frames of a different size are scaled onto
// the configured canvas by Write.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return nil, fmt.Errorf("invalid writer geometry %dx%d @ %.3f", cfg.Width, cfg.Height, cfg.FPS)
	}
	if cfg.Codec == "" {
		cfg.Codec = "mpeg4"
	}

	pr, pw := io.Pipe()
	w := &Writer{
		cfg:    cfg,
		pipe:   pw,
		done:   make(chan struct{}),
		frame:  image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height)),
		packed: make([]byte, cfg.Width*cfg.Height*3),
	}

	go func() {
		defer close(w.done)
		var stderr bytes.Buffer
		err := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
			"format":  "rawvideo",
			"pix_fmt": "rgb24",
			"s":       fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
			"r":       fmt.Sprintf("%.3f", cfg.FPS),
		}).
			Output(cfg.Path, ffmpeg.KwArgs{"c:v": cfg.Codec, "pix_fmt": "yuv420p", "q:v": 3}).
			OverWriteOutput().
			WithInput(pr).
			WithErrorOutput(&stderr).
			Run()
		if err != nil {
			w.err = fmt.Errorf("ffmpeg encode %s: %w: %s", cfg.Path, err, lastLine(stderr.String()))
			pr.CloseWithError(w.err)
			return
		}
		pr.Close()
	}()

	return w, nil
}

// Write appends one frame.
func (w *Writer) Write(img image.Image) error {
	if img.Bounds().Dx() == w.cfg.Width && img.Bounds().Dy() == w.cfg.Height {
		draw.Draw(w.frame, w.frame.Bounds(), img, img.Bounds().Min, draw.Src)
	} else {
		draw.Draw(w.frame, w.frame.Bounds(), fit(img, w.cfg.Width, w.cfg.Height), image.Point{}, draw.Src)
	}

	for src, dst := 0, 0; dst < len(w.packed); src, dst = src+4, dst+3 {
		w.packed[dst] = w.frame.Pix[src]
		w.packed[dst+1] = w.frame.Pix[src+1]
		w.packed[dst+2] = w.frame.Pix[src+2]
	}
	if _, err := w.pipe.Write(w.packed); err != nil {
		return fmt.Errorf("write frame %d: %w", w.frames, err)
	}
	w.frames++
	return nil
}

// Frames returns the number of frames written.
func (w *Writer) Frames() int { return w.frames }

// Close flushes the encoder and waits for ffmpeg to finalize the file.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.pipe.Close()
		<-w.done
	})
	return w.err
}
