// Package video provides the frame sources the pipeline reads from and the
// encoder used to write annotated output.
package video

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dj-oyu/seat-monitor/pkg/types"
)

// Source yields decoded frames in order. Read returns io.EOF once the source
// is exhausted; any other error is a read failure.
type Source interface {
	Read(ctx context.Context) (types.Frame, error)
	FPS() float64
	Close() error
}

// Open picks a source for path: a directory is read as an image sequence at
// fallbackFPS, anything else (including stream URLs) is decoded with ffmpeg.
func Open(ctx context.Context, path string, fallbackFPS float64) (Source, error) {
	if strings.Contains(path, "://") {
		return NewFFmpegSource(ctx, FFmpegConfig{Input: path, FallbackFPS: fallbackFPS})
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open video source: %w", err)
	}
	if info.IsDir() {
		return NewImageSequence(path, fallbackFPS)
	}
	return NewFFmpegSource(ctx, FFmpegConfig{Input: path, FallbackFPS: fallbackFPS})
}
