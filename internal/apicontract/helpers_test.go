package apicontract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultBaseURL        = "http://localhost:8080"
	defaultRequestTimeout = 2 * time.Second
)

type monitorClient struct {
	baseURL string
	client  *http.Client
}

func newMonitorClient(t *testing.T) *monitorClient {
	t.Helper()
	baseURL := os.Getenv("MONITOR_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+"/api/status") {
		t.Skipf("monitor not reachable at %s (set MONITOR_BASE_URL to run)", baseURL)
	}

	return &monitorClient{
		baseURL: baseURL,
		client:  client,
	}
}

func isReachable(client *http.Client, url string) bool {
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *monitorClient) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (c *monitorClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return c.do(t, req)
}

func (c *monitorClient) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(t, req)
}

// readSSEEvent returns the first event of a stream, without its trailing
// blank line.
func readSSEEvent(url string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
				return string(buf[:idx]), resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func parseSSEData(t *testing.T, event string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return decodeJSONMap(t, []byte(payload))
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return nil
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireBool(t *testing.T, value any, field string) bool {
	t.Helper()
	b, ok := value.(bool)
	if !ok {
		t.Fatalf("expected %s to be bool, got %T", field, value)
	}
	return b
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertChair(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	requireNumber(t, payload["index"], field+".index")
	requireNumber(t, payload["count"], field+".count")
	state := requireString(t, payload["state"], field+".state")
	if state != "idle" && state != "occupied" {
		t.Fatalf("%s.state = %q", field, state)
	}
	requireBool(t, payload["occupied"], field+".occupied")
}

func assertOccupancyEvent(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	requireString(t, payload["session_id"], field+".session_id")
	requireNumber(t, payload["frame_number"], field+".frame_number")
	requireNumber(t, payload["timestamp"], field+".timestamp")
	requireNumber(t, payload["people"], field+".people")
	for i, raw := range requireSlice(t, payload["overlaps"], field+".overlaps") {
		pair := requireSlice(t, raw, fmt.Sprintf("%s.overlaps[%d]", field, i))
		if len(pair) != 2 {
			t.Fatalf("%s.overlaps[%d] has %d elements", field, i, len(pair))
		}
	}
	for i, raw := range requireSlice(t, payload["occupied"], field+".occupied") {
		requireNumber(t, raw, fmt.Sprintf("%s.occupied[%d]", field, i))
	}
	for i, raw := range requireSlice(t, payload["chairs"], field+".chairs") {
		name := fmt.Sprintf("%s.chairs[%d]", field, i)
		assertChair(t, requireMap(t, raw, name), name)
	}
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	monitor := requireMap(t, payload["monitor"], "monitor")
	requireString(t, monitor["session_id"], "monitor.session_id")
	requireNumber(t, monitor["frames_processed"], "monitor.frames_processed")
	requireNumber(t, monitor["last_frame"], "monitor.last_frame")
	requireNumber(t, monitor["current_fps"], "monitor.current_fps")
	requireNumber(t, monitor["occupied_count"], "monitor.occupied_count")
	requireNumber(t, monitor["chair_count"], "monitor.chair_count")
	requireNumber(t, monitor["uptime_seconds"], "monitor.uptime_seconds")

	chairs := requireSlice(t, payload["chairs"], "chairs")
	if int(monitor["chair_count"].(float64)) != len(chairs) {
		t.Fatalf("chair_count %v does not match %d chairs", monitor["chair_count"], len(chairs))
	}
	for i, raw := range chairs {
		name := fmt.Sprintf("chairs[%d]", i)
		chair := requireMap(t, raw, name)
		assertChair(t, chair, name)
		requireSlice(t, chair["points"], name+".points")
	}

	requireNumber(t, payload["timestamp"], "timestamp")

	if payload["latest_occupancy"] != nil {
		assertOccupancyEvent(t, requireMap(t, payload["latest_occupancy"], "latest_occupancy"), "latest_occupancy")
	}
	for i, raw := range requireSlice(t, payload["occupancy_history"], "occupancy_history") {
		name := fmt.Sprintf("occupancy_history[%d]", i)
		assertOccupancyEvent(t, requireMap(t, raw, name), name)
	}
}
