// Package webrtc pushes occupancy events to browsers over WebRTC data
// channels. Clients offer a data channel labelled "occupancy"; every
// processed frame's event is sent to it as JSON text.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/seat-monitor/internal/logger"
	"github.com/dj-oyu/seat-monitor/internal/metrics"
	"github.com/dj-oyu/seat-monitor/internal/webmonitor"
	"github.com/dj-oyu/seat-monitor/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChannelLabel is the data channel label clients must offer.
const ChannelLabel = "occupancy"

var (
	ErrInvalidOffer   = errors.New("invalid offer")
	ErrTooManyClients = errors.New("maximum clients reached")
)

// Config configures the signalling server.
type Config struct {
	STUNServers   []string      // Empty gathers host candidates only
	MaxClients    int
	QueueSize     int           // Events buffered per client before dropping
	GatherTimeout time.Duration // Upper bound on ICE gathering per offer
}

// DefaultConfig returns the default WebRTC settings.
func DefaultConfig() Config {
	return Config{
		STUNServers:   []string{"stun:stun.l.google.com:19302"},
		MaxClients:    10,
		QueueSize:     30,
		GatherTimeout: 5 * time.Second,
	}
}

// Client represents a connected WebRTC client
type Client struct {
	id            string
	peerConn      *webrtc.PeerConnection
	eventChan     chan []byte
	closeChan     chan struct{}
	open          atomic.Bool
	eventsSent    atomic.Uint64
	eventsDropped atomic.Uint64
}

// Server manages WebRTC connections
type Server struct {
	clients   map[string]*Client
	clientsMu sync.RWMutex
	cfg       Config
	config    webrtc.Configuration
	api       *webrtc.API
	metrics   *metrics.Metrics

	lastMu sync.RWMutex
	last   []byte
}

// NewServer creates a new WebRTC server. m may be nil.
func NewServer(cfg Config, m *metrics.Metrics) *Server {
	def := DefaultConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = def.GatherTimeout
	}
	if m == nil {
		m = metrics.New()
	}

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.STUNServers))
	for _, url := range cfg.STUNServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	settingsEngine := webrtc.SettingEngine{}
	// Reduce DTLS retransmission timeout (faster connection, less CPU on retries)
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		cfg:     cfg,
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		api:     api,
		metrics: m,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer
func (s *Server) HandleOffer(ctx context.Context, offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("%w: expected an SDP offer", ErrInvalidOffer)
	}

	if s.GetClientCount() >= s.cfg.MaxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.cfg.MaxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        uuid.NewString(),
		peerConn:  peerConn,
		eventChan: make(chan []byte, s.cfg.QueueSize),
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			logger.Debug("WebRTC", "Client %s opened unknown channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			logger.Info("WebRTC", "Client %s occupancy channel open", client.id)
			client.open.Store(true)
			s.lastMu.RLock()
			last := s.last
			s.lastMu.RUnlock()
			if last != nil {
				client.enqueue(last)
			}
			go s.sendEvents(client, dc)
		})
		dc.OnClose(func() {
			client.open.Store(false)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("%w: failed to set remote description: %v", ErrInvalidOffer, err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	// Wait for ICE gathering so the answer carries the candidates
	timer := time.NewTimer(s.cfg.GatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
		logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)
	case <-timer.C:
		logger.Warn("WebRTC", "ICE gathering timed out for client %s, answering with partial candidates", client.id)
	case <-ctx.Done():
		peerConn.Close()
		return nil, ctx.Err()
	}

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.clientsMu.Lock()
	s.clients[client.id] = client
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.metrics.ActiveClients.Store(uint64(count))
	s.metrics.TotalClients.Add(1)
	logger.Info("WebRTC", "Client %s connected", client.id)

	return answerJSON, nil
}

// ServeHTTP accepts a JSON offer and replies with the answer.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	offerJSON, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	answerJSON, err := s.HandleOffer(r.Context(), offerJSON)
	if err != nil {
		logger.Warn("WebRTC", "Offer error: %v", err)
		switch {
		case errors.Is(err, ErrInvalidOffer):
			writeError(w, "Invalid offer data", http.StatusBadRequest)
		case errors.Is(err, ErrTooManyClients):
			writeError(w, err.Error(), http.StatusServiceUnavailable)
		default:
			writeError(w, fmt.Sprintf("Failed to handle offer: %v", err), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answerJSON)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Emit sends the occupancy event of a processed frame to every client with
// an open channel. Lagging clients drop events.
func (s *Server) Emit(ctx context.Context, frame *types.AnnotatedFrame) error {
	payload, err := json.Marshal(webmonitor.NewOccupancyEvent(frame))
	if err != nil {
		return fmt.Errorf("webrtc: encode occupancy event: %w", err)
	}

	s.lastMu.Lock()
	s.last = payload
	s.lastMu.Unlock()

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		if !client.open.Load() {
			continue
		}
		if client.enqueue(payload) {
			s.metrics.WebRTCEventsSent.Add(1)
		} else {
			s.metrics.WebRTCEventsDropped.Add(1)
		}
	}
	return nil
}

// enqueue reports whether the payload was queued.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case c.eventChan <- payload:
		c.eventsSent.Add(1)
		return true
	default:
		c.eventsDropped.Add(1)
		return false
	}
}

// sendEvents writes queued events to a client's data channel
func (s *Server) sendEvents(client *Client, dc *webrtc.DataChannel) {
	for {
		select {
		case <-client.closeChan:
			return
		case payload := <-client.eventChan:
			if err := dc.SendText(string(payload)); err != nil {
				if !errors.Is(err, io.ErrClosedPipe) {
					logger.Warn("WebRTC", "Error sending event to client %s: %v", client.id, err)
				}
				return
			}
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	s.metrics.ActiveClients.Store(uint64(count))

	close(client.closeChan)
	client.open.Store(false)
	// state callbacks from Close find the client already gone
	client.peerConn.Close()

	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.eventsSent.Load(), client.eventsDropped.Load())
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"events_sent":    client.eventsSent.Load(),
			"events_dropped": client.eventsDropped.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
