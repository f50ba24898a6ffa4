package webmonitor

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dj-oyu/seat-monitor/internal/recorder"
)

type recordingRequest struct {
	Filename string `json:"filename"`
}

func recordingStatusPayload(status recorder.RecordingStatus) map[string]any {
	var filename any
	if status.Path != "" {
		filename = status.Path
	}
	return map[string]any{
		"recording":        status.Recording,
		"format":           status.Format,
		"frame_count":      status.FrameCount,
		"dropped_count":    status.DroppedCount,
		"bytes_written":    status.BytesWritten,
		"duration_seconds": status.Duration.Seconds(),
		"filename":         filename,
	}
}

func (s *Server) requireRecorder(w http.ResponseWriter) bool {
	if s.recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recording is not configured"}, http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.requireRecorder(w) {
		return
	}

	var req recordingRequest
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": "Invalid request body"}, http.StatusBadRequest)
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeJSONWithStatus(w, map[string]any{"error": "Invalid request body"}, http.StatusBadRequest)
				return
			}
		}
	}

	path, err := s.recorder.Start(req.Filename)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, recorder.ErrAlreadyRecording) {
			status = http.StatusBadRequest
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       path,
		"started_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.requireRecorder(w) {
		return
	}

	status, err := s.recorder.Stop()
	if errors.Is(err, recorder.ErrNotRecording) {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	payload := map[string]any{
		"status":     "stopped",
		"file":       status.Path,
		"stats":      recordingStatusPayload(status),
		"stopped_at": float64(time.Now().Unix()),
	}
	if err != nil {
		payload["error"] = err.Error()
		writeJSONWithStatus(w, payload, http.StatusInternalServerError)
		return
	}
	writeJSON(w, payload)
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecorder(w) {
		return
	}
	writeJSON(w, recordingStatusPayload(s.recorder.GetStatus()))
}
