package pipeline

import (
	"errors"
	"fmt"
)

// Stage names the step of the per-frame sequence that failed.
type Stage string

const (
	StageRead     Stage = "read"
	StageDetect   Stage = "detect"
	StageGeometry Stage = "geometry"
	StageTrack    Stage = "track"
	StageEmit     Stage = "emit"
)

// ErrNoFrames is returned when the source ends before yielding any frame.
var ErrNoFrames = errors.New("video source produced no frames")

// FrameError is a failure while handling one source frame.
type FrameError struct {
	Index int
	Stage Stage
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %s: %v", e.Index, e.Stage, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
