package webmonitor

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/seat-monitor/internal/logger"
	"github.com/dj-oyu/seat-monitor/internal/video"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const clientBuffer = 2 // Buffer 2 values per client to avoid blocking

// fanout distributes values to subscribed clients. Slow clients miss values
// instead of blocking the publisher.
type fanout[T any] struct {
	name  string
	gauge *atomic.Uint64

	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	closed  bool
}

func newFanout[T any](name string, gauge *atomic.Uint64) *fanout[T] {
	return &fanout[T]{
		name:    name,
		gauge:   gauge,
		clients: make(map[int]chan T),
	}
}

// Subscribe adds a client. Up to clientBuffer initial values are queued
// before any broadcast value. After close it returns a closed channel.
func (f *fanout[T]) Subscribe(initial ...T) (int, <-chan T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan T, clientBuffer)
	if f.closed {
		close(ch)
		return -1, ch
	}
	for i := 0; i < len(initial) && i < clientBuffer; i++ {
		ch <- initial[i]
	}

	id := f.nextID
	f.nextID++
	f.clients[id] = ch
	if f.gauge != nil {
		f.gauge.Add(1)
	}

	logger.Debug(f.name, "Client #%d subscribed (total clients: %d)", id, len(f.clients))
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (f *fanout[T]) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.clients[id]; ok {
		close(ch)
		delete(f.clients, id)
		if f.gauge != nil {
			f.gauge.Add(^uint64(0))
		}
		logger.Debug(f.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(f.clients))
	}
}

// Len returns the number of subscribed clients.
func (f *fanout[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fanout[T]) broadcast(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.clients {
		select {
		case ch <- v:
		default:
			// Client too slow, skip this value for this client
		}
	}
}

// close disconnects every client.
func (f *fanout[T]) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.clients {
		close(ch)
		delete(f.clients, id)
		if f.gauge != nil {
			f.gauge.Add(^uint64(0))
		}
	}
}

// FrameBroadcaster encodes annotated frames to JPEG and fans them out to
// MJPEG clients. Encoding runs on its own goroutine and only the newest
// pending frame is kept, so publishing never blocks the pipeline.
type FrameBroadcaster struct {
	*fanout[[]byte]

	limiter *rate.Limiter
	width   int
	quality int

	pending chan *image.RGBA
	stop    chan struct{}
	done    chan struct{}
	started atomic.Bool
	once    sync.Once

	lastMu sync.Mutex
	last   []byte
}

// NewFrameBroadcaster creates a broadcaster emitting at most maxFPS frames per
// second, down-scaled to width when width > 0.
func NewFrameBroadcaster(maxFPS, width, quality int, clients *atomic.Uint64) *FrameBroadcaster {
	return &FrameBroadcaster{
		fanout:  newFanout[[]byte]("FrameBroadcaster", clients),
		limiter: rate.NewLimiter(rate.Limit(maxFPS), 1),
		width:   width,
		quality: quality,
		pending: make(chan *image.RGBA, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Subscribe adds an MJPEG client. The last encoded frame, if any, is
// delivered first.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.lastMu.Lock()
	last := fb.last
	fb.lastMu.Unlock()
	if last == nil {
		return fb.fanout.Subscribe()
	}
	return fb.fanout.Subscribe(last)
}

// Start begins the encode and broadcast loop.
func (fb *FrameBroadcaster) Start() {
	fb.started.Store(true)
	go fb.run()
}

// Stop halts the broadcaster and disconnects its clients.
func (fb *FrameBroadcaster) Stop() {
	fb.once.Do(func() {
		close(fb.stop)
		if fb.started.Load() {
			<-fb.done
		}
		fb.close()
	})
}

// Publish offers a frame for broadcast. Frames are dropped when nobody is
// watching or the rate limit is exceeded. img must not be modified afterwards.
func (fb *FrameBroadcaster) Publish(img *image.RGBA) {
	if img == nil || fb.Len() == 0 || !fb.limiter.Allow() {
		return
	}
	for {
		select {
		case fb.pending <- img:
			return
		default:
		}
		// replace the frame the encoder has not picked up yet
		select {
		case <-fb.pending:
		default:
		}
	}
}

func (fb *FrameBroadcaster) run() {
	defer close(fb.done)
	for {
		select {
		case <-fb.stop:
			return
		case img := <-fb.pending:
			data, err := fb.encode(img)
			if err != nil {
				logger.Warn("FrameBroadcaster", "JPEG encode failed: %v", err)
				continue
			}
			fb.lastMu.Lock()
			fb.last = data
			fb.lastMu.Unlock()
			fb.broadcast(data)
		}
	}
}

func (fb *FrameBroadcaster) encode(img *image.RGBA) ([]byte, error) {
	var buf bytes.Buffer
	out := video.Downscale(img, fb.width)
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: fb.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // google.protobuf.Struct, base64 encoded for SSE
}

// serializeEvent encodes v as JSON and as a protobuf Struct with the same
// field layout.
func serializeEvent(v any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, err
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, err
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// EventBroadcaster fans out one occupancy event per processed frame to SSE
// clients. New clients receive the latest event first.
type EventBroadcaster struct {
	*fanout[*SerializedEvent]

	lastMu sync.Mutex
	last   *SerializedEvent
}

// NewEventBroadcaster creates a broadcaster for occupancy events.
func NewEventBroadcaster(clients *atomic.Uint64) *EventBroadcaster {
	return &EventBroadcaster{
		fanout: newFanout[*SerializedEvent]("EventBroadcaster", clients),
	}
}

// Subscribe adds an SSE client.
func (eb *EventBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	eb.lastMu.Lock()
	last := eb.last
	eb.lastMu.Unlock()
	if last == nil {
		return eb.fanout.Subscribe()
	}
	return eb.fanout.Subscribe(last)
}

// Publish serializes and broadcasts an event.
func (eb *EventBroadcaster) Publish(event OccupancyEvent) error {
	data, err := serializeEvent(event)
	if err != nil {
		return err
	}
	eb.lastMu.Lock()
	eb.last = data
	eb.lastMu.Unlock()
	eb.broadcast(data)
	return nil
}

// Stop disconnects all clients.
func (eb *EventBroadcaster) Stop() {
	eb.close()
}

// StatusBroadcaster periodically pushes status snapshots to SSE clients.
type StatusBroadcaster struct {
	*fanout[*SerializedEvent]

	snapshot func() any
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
}

// NewStatusBroadcaster creates a broadcaster publishing snapshot() every
// interval while clients are connected.
func NewStatusBroadcaster(snapshot func() any, interval time.Duration, clients *atomic.Uint64) *StatusBroadcaster {
	return &StatusBroadcaster{
		fanout:   newFanout[*SerializedEvent]("StatusBroadcaster", clients),
		snapshot: snapshot,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Subscribe adds a client and queues the current status for it.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	event, err := serializeEvent(sb.snapshot())
	if err != nil {
		logger.Error("StatusBroadcaster", "Serialize error: %v", err)
		return sb.fanout.Subscribe()
	}
	return sb.fanout.Subscribe(event)
}

// Start begins the status event loop.
func (sb *StatusBroadcaster) Start() {
	go sb.run()
}

// Stop halts the broadcaster and disconnects its clients.
func (sb *StatusBroadcaster) Stop() {
	sb.once.Do(func() {
		close(sb.stop)
		sb.close()
	})
}

func (sb *StatusBroadcaster) run() {
	logger.Debug("StatusBroadcaster", "Starting status event broadcaster (interval=%v)", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-ticker.C:
			if sb.Len() == 0 {
				continue
			}
			event, err := serializeEvent(sb.snapshot())
			if err != nil {
				logger.Error("StatusBroadcaster", "Serialize error: %v", err)
				continue
			}
			sb.broadcast(event)
		}
	}
}
