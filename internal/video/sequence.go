package video

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/dj-oyu/seat-monitor/pkg/types"
)

var sequenceExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// ImageSequence reads the still images of a directory, in lexical file name
// order, as frames at a fixed rate.
type ImageSequence struct {
	files []string
	fps   float64
	next  int
}

// NewImageSequence lists the images under dir.
func NewImageSequence(dir string, fps float64) (*ImageSequence, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("image sequence %s needs a positive frame rate", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list image sequence: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !sequenceExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return &ImageSequence{files: files, fps: fps}, nil
}

// Len returns the number of frames in the sequence.
func (s *ImageSequence) Len() int { return len(s.files) }

// FPS returns the configured rate.
func (s *ImageSequence) FPS() float64 { return s.fps }

// Read decodes the next image.
func (s *ImageSequence) Read(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	if s.next >= len(s.files) {
		return types.Frame{}, io.EOF
	}
	path := s.files[s.next]
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return types.Frame{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	frame := types.Frame{
		Image:     img,
		Index:     s.next,
		Timestamp: frameTimestamp(s.next, s.fps),
	}
	s.next++
	return frame, nil
}

// Close is a no-op.
func (s *ImageSequence) Close() error { return nil }
