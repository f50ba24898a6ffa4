package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/dj-oyu/seat-monitor/internal/logger"
	"github.com/dj-oyu/seat-monitor/pkg/types"
)

// ErrNoVideoStream is returned when the input has no decodable video stream.
var ErrNoVideoStream = errors.New("no video stream in input")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FFmpegConfig configures an ffmpeg-decoded source.
type FFmpegConfig struct {
	Input        string                 // File path or URL understood by ffmpeg
	InputKWArgs  map[string]interface{} // Extra input options, e.g. rtsp_transport
	FallbackFPS  float64                // Used when the container reports no rate
	Width        int                    // Skip probing when Width, Height and FPS are set
	Height       int
	FPS          float64
}

// FFmpegSource decodes a video through an ffmpeg child process that writes
// rgb24 raw frames to a pipe.
type FFmpegSource struct {
	width, height int
	fps           float64

	pipe   *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}

	buf   []byte
	index int

	closeOnce sync.Once
}

type probeResult struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

// NewFFmpegSource probes cfg.Input for geometry and rate, then starts decoding.
func NewFFmpegSource(ctx context.Context, cfg FFmpegConfig) (*FFmpegSource, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	width, height, fps := cfg.Width, cfg.Height, cfg.FPS
	if width <= 0 || height <= 0 || fps <= 0 {
		var err error
		width, height, fps, err = probe(cfg.Input)
		if err != nil {
			return nil, err
		}
	}
	if fps <= 0 {
		fps = cfg.FallbackFPS
	}
	if fps <= 0 {
		return nil, fmt.Errorf("video %s reports no frame rate", cfg.Input)
	}

	runCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	s := &FFmpegSource{
		width:  width,
		height: height,
		fps:    fps,
		pipe:   pr,
		cancel: cancel,
		done:   make(chan struct{}),
		buf:    make([]byte, width*height*3),
	}

	var inArgs ffmpeg.KwArgs
	if len(cfg.InputKWArgs) > 0 {
		inArgs = ffmpeg.KwArgs(cfg.InputKWArgs)
	}

	go func() {
		defer close(s.done)
		var stderr bytes.Buffer
		stream := ffmpeg.Input(cfg.Input, inArgs).
			Output("pipe:", ffmpeg.KwArgs{"format": "rawvideo", "pix_fmt": "rgb24"}).
			WithOutput(pw).
			WithErrorOutput(&stderr)
		stream.Context = runCtx
		err := stream.Run()
		if err != nil && runCtx.Err() == nil {
			pw.CloseWithError(fmt.Errorf("ffmpeg: %w: %s", err, lastLine(stderr.String())))
			return
		}
		pw.Close()
	}()

	logger.Info("Video", "Decoding %s (%dx%d @ %.3f fps)", cfg.Input, width, height, fps)
	return s, nil
}

func probe(input string) (int, int, float64, error) {
	out, err := ffmpeg.Probe(input)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("probe %s: %w", input, err)
	}
	var res probeResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		return 0, 0, 0, fmt.Errorf("decode probe output: %w", err)
	}
	for _, st := range res.Streams {
		if st.CodecType != "video" {
			continue
		}
		fps, _ := ParseRate(st.AvgFrameRate)
		if fps <= 0 {
			fps, _ = ParseRate(st.RFrameRate)
		}
		return st.Width, st.Height, fps, nil
	}
	return 0, 0, 0, fmt.Errorf("%s: %w", input, ErrNoVideoStream)
}

// ParseRate parses an ffprobe rational such as "30000/1001" or "25".
func ParseRate(s string) (float64, error) {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("parse frame rate %q: %w", s, err)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("parse frame rate %q: %w", s, err)
	}
	if d == 0 {
		return 0, nil
	}
	return n / d, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// FPS returns the source frame rate.
func (s *FFmpegSource) FPS() float64 { return s.fps }

// Size returns the frame dimensions.
func (s *FFmpegSource) Size() (int, int) { return s.width, s.height }

// Read returns the next frame. A truncated trailing frame is treated as the
// end of the stream.
func (s *FFmpegSource) Read(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	if _, err := io.ReadFull(s.pipe, s.buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return types.Frame{}, io.EOF
		}
		return types.Frame{}, err
	}

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	for src, dst := 0, 0; src < len(s.buf); src, dst = src+3, dst+4 {
		img.Pix[dst] = s.buf[src]
		img.Pix[dst+1] = s.buf[src+1]
		img.Pix[dst+2] = s.buf[src+2]
		img.Pix[dst+3] = 0xff
	}

	frame := types.Frame{
		Image:     img,
		Index:     s.index,
		Timestamp: frameTimestamp(s.index, s.fps),
	}
	s.index++
	return frame, nil
}

// Close stops the decoder and waits for it to exit.
func (s *FFmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.pipe.Close()
		<-s.done
	})
	return nil
}

func frameTimestamp(index int, fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(index) / fps * float64(time.Second))
}
