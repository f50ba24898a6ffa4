package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.FramesRead.Add(120)
	m.FramesSampled.Add(8)
	m.OccupiedChairs.Store(2)
	m.UpdateDetectorLatency(42 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "seatmon_frames_read_total 120")
	assert.Contains(t, text, "seatmon_frames_sampled_total 8")
	assert.Contains(t, text, "seatmon_occupied_chairs 2")
	assert.Contains(t, text, "seatmon_detector_latency_ms 42")
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.FramesRead.Add(1)

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "seatmon_frames_read_total 0")
}

func TestServerRoutes(t *testing.T) {
	m := New()
	srv := m.NewServer(":0")

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/debug/pprof/", nil))
	assert.Equal(t, 200, rec.Code)
}
