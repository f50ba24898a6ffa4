package webmonitor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/seat-monitor/internal/metrics"
	"github.com/dj-oyu/seat-monitor/internal/recorder"
	"github.com/dj-oyu/seat-monitor/internal/zones"
	"github.com/dj-oyu/seat-monitor/pkg/types"
)

func square(x, y, size float64) types.Polygon {
	return types.Polygon{{X: x, Y: y}, {X: x + size, Y: y}, {X: x + size, Y: y + size}, {X: x, Y: y + size}}
}

func testLayout() *zones.Layout {
	return zones.NewLayout([]types.Polygon{square(0, 0, 10), square(20, 0, 10)})
}

func frame(index int, occupied bool) *types.AnnotatedFrame {
	f := &types.AnnotatedFrame{
		SessionID: "session-1",
		Index:     index,
		Timestamp: time.Duration(index) * time.Second / 30,
		Image:     image.NewRGBA(image.Rect(0, 0, 64, 48)),
		People:    []types.Polygon{square(2, 2, 4)},
		Overlaps:  []types.OverlapPair{{Chair: 0, Person: 0}},
		Chairs: []types.ChairStatus{
			{Index: 0, Count: 1, State: "idle"},
			{Index: 1, Count: 0, State: "idle"},
		},
	}
	if occupied {
		f.Occupied = []types.OverlapPair{{Chair: 0, Person: 0}}
		f.Chairs[0] = types.ChairStatus{Index: 0, Count: 5, State: "occupied", Occupied: true}
	}
	return f
}

func newTestServer(t *testing.T, rec *recorder.Recorder) (*Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	cfg := DefaultConfig()
	cfg.TargetFPS = 1000
	cfg.StatusInterval = 50 * time.Millisecond
	s := NewServer(cfg, testLayout(), rec, m)
	t.Cleanup(func() { _ = s.Close() })
	return s, m
}

// readSSEData returns the payload of the next data event.
func readSSEData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			return strings.TrimSpace(data)
		}
	}
}

func TestNewOccupancyEvent(t *testing.T) {
	ev := NewOccupancyEvent(frame(30, true))
	assert.Equal(t, "session-1", ev.SessionID)
	assert.Equal(t, 30, ev.FrameNumber)
	assert.InDelta(t, 1.0, ev.Timestamp, 1e-9)
	assert.Equal(t, 1, ev.People)
	assert.Equal(t, [][2]int{{0, 0}}, ev.Overlaps)
	assert.Equal(t, []int{0}, ev.Occupied)
	assert.Len(t, ev.Chairs, 2)

	empty := NewOccupancyEvent(&types.AnnotatedFrame{})
	assert.NotNil(t, empty.Chairs)
	assert.Empty(t, empty.Occupied)
}

func TestMonitorSnapshot(t *testing.T) {
	m := NewMonitor(testLayout(), 2)

	snap := m.Snapshot()
	assert.Equal(t, -1, snap.Monitor.LastFrame)
	assert.Nil(t, snap.LatestOccupancy)
	require.Len(t, snap.Chairs, 2)
	assert.Equal(t, "idle", snap.Chairs[1].State)
	assert.Equal(t, [][2]float64{{20, 0}, {30, 0}, {30, 10}, {20, 10}}, snap.Chairs[1].Points)

	m.Update(NewOccupancyEvent(frame(0, false)))
	m.Update(NewOccupancyEvent(frame(4, false)))
	m.Update(NewOccupancyEvent(frame(30, true)))
	m.Update(NewOccupancyEvent(frame(34, true)))

	snap = m.Snapshot()
	assert.Equal(t, 4, snap.Monitor.FramesProcessed)
	assert.Equal(t, 34, snap.Monitor.LastFrame)
	assert.Equal(t, 1, snap.Monitor.OccupiedCount)
	assert.Equal(t, 2, snap.Monitor.ChairCount)
	assert.True(t, snap.Chairs[0].Occupied)
	assert.Equal(t, 5, snap.Chairs[0].Count)

	// only changes of the occupied set are kept, newest first
	require.Len(t, snap.History, 2)
	assert.Equal(t, 30, snap.History[0].FrameNumber)
	assert.Equal(t, 0, snap.History[1].FrameNumber)

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, 34, latest.FrameNumber)
}

func TestServerStatusAndChairs(t *testing.T) {
	s, _ := newTestServer(t, nil)
	require.NoError(t, s.Emit(context.Background(), frame(4, true)))

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var status StatusPayload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "session-1", status.Monitor.SessionID)
	assert.Equal(t, 4, status.Monitor.LastFrame)
	require.NotNil(t, status.LatestOccupancy)
	assert.Equal(t, []int{0}, status.LatestOccupancy.Occupied)
	assert.Nil(t, status.Recording)

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/chairs", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var chairs struct {
		Chairs []ChairView `json:"chairs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &chairs))
	require.Len(t, chairs.Chairs, 2)
	assert.Equal(t, "occupied", chairs.Chairs[0].State)
	assert.False(t, chairs.Chairs[1].Occupied)
}

func TestServerIndex(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Seat Monitor")

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/assets/monitor.css", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOccupancyStream(t *testing.T) {
	s, m := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	t.Run("json", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/occupancy/stream")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
		assert.Equal(t, "application/json", resp.Header.Get("X-Content-Format"))
		assert.Equal(t, uint64(1), m.SSEClients.Load())

		require.NoError(t, s.Emit(context.Background(), frame(34, true)))

		var ev OccupancyEvent
		require.NoError(t, json.Unmarshal([]byte(readSSEData(t, bufio.NewReader(resp.Body))), &ev))
		assert.Equal(t, 34, ev.FrameNumber)
		assert.Equal(t, []int{0}, ev.Occupied)
	})

	t.Run("protobuf", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/occupancy/stream", nil)
		require.NoError(t, err)
		req.Header.Set("Accept", "application/x-protobuf")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, "application/protobuf", resp.Header.Get("X-Content-Format"))

		// the latest event is replayed to new subscribers
		raw, err := base64.StdEncoding.DecodeString(readSSEData(t, bufio.NewReader(resp.Body)))
		require.NoError(t, err)
		var st structpb.Struct
		require.NoError(t, proto.Unmarshal(raw, &st))
		fields := st.AsMap()
		assert.Equal(t, float64(34), fields["frame_number"])
		assert.Equal(t, "session-1", fields["session_id"])
		assert.Equal(t, []any{float64(0)}, fields["occupied"])
	})
}

func TestStatusStream(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	r := bufio.NewReader(resp.Body)

	var first StatusPayload
	require.NoError(t, json.Unmarshal([]byte(readSSEData(t, r)), &first))
	assert.Equal(t, 0, first.Monitor.FramesProcessed)

	require.NoError(t, s.Emit(context.Background(), frame(0, false)))
	for i := 0; ; i++ {
		require.Less(t, i, 40, "status stream never reported the processed frame")
		var next StatusPayload
		require.NoError(t, json.Unmarshal([]byte(readSSEData(t, r)), &next))
		if next.Monitor.FramesProcessed == 1 {
			assert.Equal(t, 0, next.Monitor.LastFrame)
			break
		}
	}
}

func TestMJPEGStream(t *testing.T) {
	s, m := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "boundary=frame")
	assert.Equal(t, uint64(1), m.MJPEGClients.Load())

	require.NoError(t, s.Emit(context.Background(), frame(0, false)))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)

	length := -1
	for {
		line, err = r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			length, err = strconv.Atoi(v)
			require.NoError(t, err)
		}
	}
	require.Positive(t, length)

	data := make([]byte, length)
	_, err = io.ReadFull(r, data)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestCloseDisconnectsClients(t *testing.T) {
	s, m := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/occupancy/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.NoError(t, s.Close())
	_, err = io.ReadAll(resp.Body)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), m.SSEClients.Load())
}

func TestRecordingEndpoints(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		s, _ := newTestServer(t, nil)
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/recording/status", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	dir := t.TempDir()
	rec, err := recorder.NewRecorder(recorder.Config{BasePath: dir, Format: recorder.FormatMJPEG}, nil)
	require.NoError(t, err)
	s, _ := newTestServer(t, rec)
	h := s.Handler()

	do := func(method, path, body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rr
	}

	assert.Equal(t, http.StatusMethodNotAllowed, do(http.MethodGet, "/api/recording/start", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/recording/start", "{").Code)

	rr := do(http.MethodPost, "/api/recording/start", `{"filename":"clip"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var started map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &started))
	assert.Equal(t, "recording", started["status"])
	assert.True(t, strings.HasSuffix(started["file"].(string), "clip.mjpeg"))

	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/recording/start", "").Code)

	require.NoError(t, rec.Emit(context.Background(), frame(0, false)))

	rr = do(http.MethodGet, "/api/status", "")
	var status map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, true, status["recording"].(map[string]any)["recording"])

	rr = do(http.MethodPost, "/api/recording/stop", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var stopped map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stopped))
	assert.Equal(t, "stopped", stopped["status"])
	assert.Equal(t, float64(1), stopped["stats"].(map[string]any)["frame_count"])

	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/recording/stop", "").Code)

	rr = do(http.MethodGet, "/api/recording/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var idle map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &idle))
	assert.Equal(t, false, idle["recording"])
	assert.NotNil(t, idle["filename"])
}

func TestWebRTCOffer(t *testing.T) {
	offer := `{"sdp":"v=0","type":"offer"}`

	t.Run("not configured", func(t *testing.T) {
		s, _ := newTestServer(t, nil)
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/webrtc/offer", strings.NewReader(offer)))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

		rr = httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/webrtc/offer", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})

	t.Run("in process", func(t *testing.T) {
		s, _ := newTestServer(t, nil)
		s.SetOfferHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/webrtc/offer", strings.NewReader(offer)))
		assert.Equal(t, http.StatusTeapot, rr.Code)
	})

	t.Run("proxy", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/offer", r.URL.Path)
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, offer, string(body))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"sdp":"answer","type":"answer"}`))
		}))
		defer backend.Close()

		m := metrics.New()
		cfg := DefaultConfig()
		cfg.WebRTCBaseURL = backend.URL + "/"
		s := NewServer(cfg, testLayout(), nil, m)
		defer s.Close()

		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/webrtc/offer", strings.NewReader(offer)))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"sdp":"answer","type":"answer"}`, rr.Body.String())

		rr = httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/webrtc/offer", strings.NewReader(`{"sdp":"x"}`)))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestFanoutSkipsSlowClients(t *testing.T) {
	var gauge atomic.Uint64
	f := newFanout[int]("test", &gauge)

	id, ch := f.Subscribe(7)
	assert.Equal(t, uint64(1), gauge.Load())
	for i := 0; i < 5; i++ {
		f.broadcast(i)
	}
	assert.Equal(t, 7, <-ch)
	assert.Equal(t, 0, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected buffered value %d", v)
	default:
	}

	f.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, uint64(0), gauge.Load())

	f.close()
	id, ch = f.Subscribe()
	assert.Equal(t, -1, id)
	_, ok = <-ch
	assert.False(t, ok)
}
