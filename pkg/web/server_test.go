package web

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-hullwatch/internal/log"
	"github.com/teslashibe/go-hullwatch/pkg/dispatch"
	"github.com/teslashibe/go-hullwatch/pkg/pipeline"
	"github.com/teslashibe/go-hullwatch/pkg/processor"
)

type fakeStatus struct {
	state  pipeline.State
	status pipeline.Status
}

func (f *fakeStatus) Status() pipeline.Status { return f.status }
func (f *fakeStatus) State() pipeline.State   { return f.state }

func doGet(t *testing.T, s *Server, path string) (int, []byte) {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, path, nil))
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	s := NewServer(":0", nil, log.Discard())
	code, body := doGet(t, s, "/healthz")
	if code != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Errorf("GET /healthz = %d %s", code, body)
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name   string
		status StatusProvider
		want   int
	}{
		{"not configured", nil, http.StatusServiceUnavailable},
		{"idle", &fakeStatus{state: pipeline.StateIdle}, http.StatusServiceUnavailable},
		{"running", &fakeStatus{state: pipeline.StateRunning}, http.StatusOK},
		{"ended", &fakeStatus{state: pipeline.StateStreamEnded}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(":0", tt.status, log.Discard())
			if code, body := doGet(t, s, "/readyz"); code != tt.want {
				t.Errorf("GET /readyz = %d %s, want %d", code, body, tt.want)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	st := &fakeStatus{
		state: pipeline.StateRunning,
		status: pipeline.Status{
			State:      "running",
			RunID:      "run-1",
			Policy:     pipeline.PolicyCooldown,
			Frames:     150,
			Detections: 2,
			LastText:   "AB12",
		},
	}
	s := NewServer(":0", st, log.Discard())

	code, body := doGet(t, s, "/api/status")
	if code != http.StatusOK {
		t.Fatalf("GET /api/status = %d", code)
	}
	var got pipeline.Status
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "run-1" || got.Frames != 150 || got.LastText != "AB12" {
		t.Errorf("unexpected status: %+v", got)
	}
}

func TestMetrics(t *testing.T) {
	s := NewServer(":0", nil, log.Discard())
	code, body := doGet(t, s, "/metrics")
	if code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", code)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("expected Prometheus exposition")
	}
}

func TestWSRequiresUpgrade(t *testing.T) {
	s := NewServer(":0", nil, log.Discard())
	if code, _ := doGet(t, s, "/ws/events"); code != http.StatusUpgradeRequired {
		t.Errorf("GET /ws/events without upgrade = %d", code)
	}
}

func TestObserverEvents(t *testing.T) {
	s := NewServer(":0", nil, log.Discard())

	s.FrameProcessed(pipeline.FrameEvent{RunID: "r", Index: 1})
	s.FrameProcessed(pipeline.FrameEvent{RunID: "r", Index: 2, Err: errors.New("detector crashed")})
	s.FrameProcessed(pipeline.FrameEvent{RunID: "r", Index: 3, Result: &processor.Result{
		FrameIndex: 3,
		Text:       "AB12",
		Records:    []processor.Record{{XMin: 1, YMax: 2, Width: 3, Height: 4}},
		Annotated:  image.NewRGBA(image.Rect(0, 0, 4, 4)),
	}})
	s.Dispatched("r", dispatch.Result{
		Kind:       dispatch.KindDetection,
		Outcome:    dispatch.ServerRejected,
		FrameIndex: 3,
		StatusCode: 500,
		Err:        &dispatch.RejectedError{StatusCode: 500, Body: "down"},
	})

	recent := s.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected 3 events (misses are not published), got %d", len(recent))
	}
	if recent[0].Type != EventAdapterError || recent[1].Type != EventDetection || recent[2].Type != EventDispatch {
		t.Errorf("unexpected event order: %+v", recent)
	}
	if recent[2].Outcome != "server_rejected" || recent[2].Status != 500 {
		t.Errorf("unexpected dispatch event: %+v", recent[2])
	}

	code, body := doGet(t, s, "/api/events")
	if code != http.StatusOK || !strings.Contains(string(body), `"text":"AB12"`) {
		t.Errorf("GET /api/events = %d %s", code, body)
	}
}

func TestRecentIsBounded(t *testing.T) {
	s := NewServer(":0", nil, log.Discard())
	for i := 1; i <= recentEvents+10; i++ {
		s.Dispatched("r", dispatch.Result{Kind: dispatch.KindDetection, FrameIndex: i})
	}
	recent := s.Recent()
	if len(recent) != recentEvents {
		t.Fatalf("expected %d events, got %d", recentEvents, len(recent))
	}
	if recent[0].Frame != 11 {
		t.Errorf("oldest event frame = %d, want 11", recent[0].Frame)
	}
}

func TestEventsWebsocket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewServer("127.0.0.1:0", nil, log.Discard())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go s.Serve(ctx, ln)
	defer s.Shutdown()

	url := "ws://" + ln.Addr().String() + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.EventClients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Dispatched("run-9", dispatch.Result{Kind: dispatch.KindReport, Outcome: dispatch.Success, StatusCode: 201})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Errorf("message type = %d, want text", msgType)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != EventDispatch || ev.RunID != "run-9" || ev.Outcome != "success" || ev.Kind != "report" {
		t.Errorf("unexpected event: %+v", ev)
	}
}
