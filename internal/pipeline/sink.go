package pipeline

import (
	"context"
	"sync"

	"github.com/dj-oyu/seat-monitor/pkg/types"
)

// Sink receives every annotated frame, in processing order. Emit is called
// from the driver goroutine; implementations that do slow work should hand
// the frame off and return. Sinks must not modify the frame.
type Sink interface {
	Emit(ctx context.Context, frame *types.AnnotatedFrame) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, frame *types.AnnotatedFrame) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, frame *types.AnnotatedFrame) error {
	return f(ctx, frame)
}

// Collector accumulates the output sequence in memory.
type Collector struct {
	mu     sync.Mutex
	frames []*types.AnnotatedFrame
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Emit appends frame.
func (c *Collector) Emit(_ context.Context, frame *types.AnnotatedFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

// Frames returns the collected frames in emission order.
func (c *Collector) Frames() []*types.AnnotatedFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.AnnotatedFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

// Len returns the number of collected frames.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}
