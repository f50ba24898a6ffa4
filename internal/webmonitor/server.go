// Package webmonitor is the live display of a monitoring session: an HTTP
// server that receives annotated frames as a pipeline sink and serves them as
// MJPEG, together with occupancy events and status over SSE.
package webmonitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/seat-monitor/internal/metrics"
	"github.com/dj-oyu/seat-monitor/internal/recorder"
	"github.com/dj-oyu/seat-monitor/internal/zones"
	"github.com/dj-oyu/seat-monitor/pkg/types"
)

// Server serves the live monitor endpoints.
type Server struct {
	cfg      Config
	monitor  *Monitor
	recorder *recorder.Recorder
	webrtc   *http.Client

	offerMu sync.RWMutex
	offers  http.Handler

	frames *FrameBroadcaster
	events *EventBroadcaster
	status *StatusBroadcaster

	closeOnce sync.Once
}

// NewServer returns a running monitor server for a chair layout. rec and m
// may be nil.
func NewServer(cfg Config, layout *zones.Layout, rec *recorder.Recorder, m *metrics.Metrics) *Server {
	cfg = cfg.withDefaults()
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		cfg:      cfg,
		monitor:  NewMonitor(layout, cfg.HistorySize),
		recorder: rec,
		webrtc:   &http.Client{Timeout: 5 * time.Second},
		frames:   NewFrameBroadcaster(cfg.TargetFPS, cfg.PreviewWidth, cfg.JPEGQuality, &m.MJPEGClients),
		events:   NewEventBroadcaster(&m.SSEClients),
	}
	s.status = NewStatusBroadcaster(func() any { return s.statusPayload() }, cfg.StatusInterval, &m.SSEClients)

	s.frames.Start()
	s.status.Start()
	return s
}

// SetOfferHandler routes /api/webrtc/offer to an in-process signalling
// handler instead of proxying to WebRTCBaseURL.
func (s *Server) SetOfferHandler(h http.Handler) {
	s.offerMu.Lock()
	defer s.offerMu.Unlock()
	s.offers = h
}

// Monitor returns the session view backing the status endpoints.
func (s *Server) Monitor() *Monitor {
	return s.monitor
}

// Emit publishes a processed frame to the monitor and its clients.
func (s *Server) Emit(ctx context.Context, frame *types.AnnotatedFrame) error {
	event := NewOccupancyEvent(frame)
	s.monitor.Update(event)
	if err := s.events.Publish(event); err != nil {
		return fmt.Errorf("monitor: encode occupancy event: %w", err)
	}
	s.frames.Publish(frame.Image)
	return nil
}

// Close stops the broadcasters and disconnects streaming clients.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.frames.Stop()
		s.events.Stop()
		s.status.Stop()
	})
	return nil
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/assets/", http.StripPrefix("/assets/", newAssetHandler(s.cfg.AssetsDir)))
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/chairs", s.handleChairs)
	mux.HandleFunc("/api/occupancy/stream", s.handleOccupancyStream)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)

	return mux
}

func (s *Server) statusPayload() StatusPayload {
	payload := s.monitor.Snapshot()
	if s.recorder != nil {
		payload.Recording = recordingStatusPayload(s.recorder.GetStatus())
	}
	return payload
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)
	streamEventsFromChannel(w, r, eventCh, wantsProtobuf(r))
}

func (s *Server) handleChairs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"chairs": s.monitor.Chairs(),
	})
}

func (s *Server) handleOccupancyStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.events.Subscribe()
	defer s.events.Unsubscribe(id)
	streamEventsFromChannel(w, r, eventCh, wantsProtobuf(r))
}

// wantsProtobuf reports whether the client prefers protobuf events.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.offerMu.RLock()
	offers := s.offers
	s.offerMu.RUnlock()
	if offers != nil {
		offers.ServeHTTP(w, r)
		return
	}
	if s.cfg.WebRTCBaseURL == "" {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is not configured"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}
	if payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	targetURL := strings.TrimRight(s.cfg.WebRTCBaseURL, "/") + "/offer"
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC server unavailable"}, http.StatusBadGateway)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.webrtc.Do(req)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC server unavailable"}, http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC server unavailable"}, http.StatusBadGateway)
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
