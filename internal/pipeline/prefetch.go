package pipeline

import (
	"context"
	"io"

	"github.com/dj-oyu/seat-monitor/internal/video"
	"github.com/dj-oyu/seat-monitor/pkg/types"
)

type readResult struct {
	frame types.Frame
	err   error
}

// prefetcher decodes ahead of the driver on a single goroutine. Frames come
// out in source order; the terminal error (io.EOF included) is delivered
// after the last frame.
type prefetcher struct {
	ch   chan readResult
	done chan struct{}
}

func startPrefetch(ctx context.Context, src video.Source, depth int) *prefetcher {
	p := &prefetcher{
		ch:   make(chan readResult, depth),
		done: make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		defer close(p.ch)
		for {
			frame, err := src.Read(ctx)
			select {
			case p.ch <- readResult{frame: frame, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return p
}

func (p *prefetcher) next(ctx context.Context) (types.Frame, error) {
	select {
	case r, ok := <-p.ch:
		if !ok {
			if err := ctx.Err(); err != nil {
				return types.Frame{}, err
			}
			return types.Frame{}, io.EOF
		}
		return r.frame, r.err
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	}
}

// wait blocks until the reader goroutine has exited. The context passed to
// startPrefetch must be cancelled first unless the source has ended.
func (p *prefetcher) wait() {
	<-p.done
}
