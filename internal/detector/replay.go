package detector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
)

// ErrReplayExhausted is returned when a replay detector runs out of
// recorded results.
var ErrReplayExhausted = errors.New("replay: no recorded result for frame")

// ReplayDetector serves detection results recorded as JSON lines, one
// object per processed frame:
//
//	{"frame": 4, "instances": [{"label": "person", "polygon": [[x, y], ...]}]}
//
// Records carrying "frame" are looked up by the frame index attached to the
// context. Records without it are served in call order.
type ReplayDetector struct {
	mu      sync.Mutex
	byFrame map[int]Result
	ordered []Result
	next    int
}

// NewReplayDetector decodes recorded results from r.
func NewReplayDetector(r io.Reader) (*ReplayDetector, error) {
	d := &ReplayDetector{byFrame: make(map[int]Result)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var wire wireResult
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("replay line %d: %w", line, err)
		}
		res, err := wire.toResult()
		if err != nil {
			return nil, fmt.Errorf("replay line %d: %w", line, err)
		}
		if wire.Frame != nil {
			d.byFrame[*wire.Frame] = res
		} else {
			d.ordered = append(d.ordered, res)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay: %w", err)
	}
	return d, nil
}

// OpenReplay loads a replay file.
func OpenReplay(path string) (*ReplayDetector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()
	return NewReplayDetector(f)
}

// Detect returns the recorded result for the current frame.
func (d *ReplayDetector) Detect(ctx context.Context, img image.Image) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if idx, ok := FrameIndex(ctx); ok {
		if res, found := d.byFrame[idx]; found {
			return res, nil
		}
		if len(d.ordered) == 0 {
			// keyed replays treat missing frames as empty scenes
			return Result{}, nil
		}
	}
	if d.next >= len(d.ordered) {
		return Result{}, ErrReplayExhausted
	}
	res := d.ordered[d.next]
	d.next++
	return res, nil
}

// Len returns the number of recorded results.
func (d *ReplayDetector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byFrame) + len(d.ordered)
}
