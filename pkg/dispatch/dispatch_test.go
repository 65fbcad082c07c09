package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/teslashibe/go-hullwatch/internal/log"
	"github.com/teslashibe/go-hullwatch/pkg/ocr"
	"github.com/teslashibe/go-hullwatch/pkg/processor"
)

func newDispatcher(t *testing.T, url string, opts ...Option) *Dispatcher {
	t.Helper()
	opts = append([]Option{WithLogger(log.Discard())}, opts...)
	d, err := New(url, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func detectionResult(text string) *processor.Result {
	return &processor.Result{
		FrameIndex: 5,
		Records:    []processor.Record{{XMin: 1, YMax: 2, Width: 3, Height: 4}},
		Text:       text,
		Annotated:  image.NewRGBA(image.Rect(0, 0, 32, 24)),
	}
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(""); !errors.Is(err, ErrNoURL) {
		t.Fatalf("expected ErrNoURL, got %v", err)
	}
}

func TestSendReport_JSONShape(t *testing.T) {
	var got map[string]map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected application/json, got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	d := newDispatcher(t, server.URL)
	res := d.SendReport(context.Background(), Report{
		HullNum:      []processor.Record{{XMin: 40, YMax: 45, Width: 20, Height: 10}},
		DetectedText: "AB12",
	})

	if res.Outcome != Success || !res.OK() {
		t.Fatalf("expected Success, got %v (%v)", res.Outcome, res.Err)
	}
	if res.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d", res.StatusCode)
	}

	data := got["data"]
	if string(data["detected_text"]) != `"AB12"` {
		t.Errorf("detected_text = %s", data["detected_text"])
	}
	want := `[{"xmin":40,"ymax":45,"width":20,"height":10}]`
	if string(data["hull_num"]) != want {
		t.Errorf("hull_num = %s, want %s", data["hull_num"], want)
	}
}

func TestSendReport_EmptyStillSent(t *testing.T) {
	var body map[string]map[string]any
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	res := newDispatcher(t, server.URL).SendReport(context.Background(), Report{})
	if res.Outcome != Success {
		t.Fatalf("expected Success, got %v", res.Outcome)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 request, got %d", hits.Load())
	}
	list, ok := body["data"]["hull_num"].([]any)
	if !ok || len(list) != 0 {
		t.Errorf("hull_num should be an empty list, got %#v", body["data"]["hull_num"])
	}
}

func TestSendDetection_Multipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		if v := r.FormValue(FieldText); v != "AB12" {
			t.Errorf("detected_text = %q", v)
		}

		f, hdr, err := r.FormFile(FieldImage)
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		if hdr.Filename != ImageFilename {
			t.Errorf("filename = %q", hdr.Filename)
		}
		if ct := hdr.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("part content type = %q", ct)
		}
		img, err := imaging.Decode(f)
		if err != nil {
			t.Errorf("image part is not a JPEG: %v", err)
		} else if img.Bounds().Dx() != 32 {
			t.Errorf("decoded width = %d", img.Bounds().Dx())
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	res := newDispatcher(t, server.URL).SendDetection(context.Background(), detectionResult("AB12"))
	if res.Outcome != Success {
		t.Fatalf("expected Success, got %v (%v)", res.Outcome, res.Err)
	}
	if res.FrameIndex != 5 || res.Kind != KindDetection {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestSendDetection_NoneSkipsRequest(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	res := newDispatcher(t, server.URL).SendDetection(context.Background(), detectionResult(ocr.NoText))
	if res.Outcome != Skipped || res.Err != nil {
		t.Fatalf("expected Skipped, got %v (%v)", res.Outcome, res.Err)
	}
	if !res.OK() {
		t.Error("skipped send should count as OK")
	}
	if hits.Load() != 0 {
		t.Errorf("expected no requests, got %d", hits.Load())
	}
}

func TestOutcomeClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		want    Outcome
		wantErr error
	}{
		{"ok", http.StatusOK, Success, nil},
		{"created", http.StatusCreated, Success, nil},
		{"accepted is not success", http.StatusAccepted, ServerRejected, ErrRejected},
		{"bad request", http.StatusBadRequest, ServerRejected, ErrRejected},
		{"server error", http.StatusInternalServerError, ServerRejected, ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("detail"))
			}))
			defer server.Close()

			res := newDispatcher(t, server.URL).SendReport(context.Background(), Report{})
			if res.Outcome != tt.want {
				t.Errorf("Outcome = %v, want %v", res.Outcome, tt.want)
			}
			if tt.wantErr == nil {
				if res.Err != nil {
					t.Errorf("unexpected error: %v", res.Err)
				}
				return
			}
			if !errors.Is(res.Err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, res.Err)
			}
			var rej *RejectedError
			if !errors.As(res.Err, &rej) || rej.StatusCode != tt.status || rej.Body != "detail" {
				t.Errorf("RejectedError fields wrong: %+v", rej)
			}
		})
	}
}

func TestSend_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	d := newDispatcher(t, server.URL, WithTimeout(50*time.Millisecond))
	res := d.SendDetection(context.Background(), detectionResult("AB12"))

	if res.Outcome != Timeout {
		t.Fatalf("expected Timeout, got %v (%v)", res.Outcome, res.Err)
	}
	if !IsTimeout(res.Err) {
		t.Errorf("expected ErrTimeout, got %v", res.Err)
	}
}

func TestSend_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	res := newDispatcher(t, url).SendReport(context.Background(), Report{})
	if res.Outcome != TransportError {
		t.Fatalf("expected TransportError, got %v (%v)", res.Outcome, res.Err)
	}
	if !errors.Is(res.Err, ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", res.Err)
	}
}

func TestSendDetection_Unexpected(t *testing.T) {
	d := newDispatcher(t, "http://127.0.0.1:1")

	res := d.SendDetection(context.Background(), &processor.Result{Text: "AB12"})
	if res.Outcome != UnexpectedError || !errors.Is(res.Err, ErrUnexpected) {
		t.Errorf("missing image: got %v (%v)", res.Outcome, res.Err)
	}

	res = d.SendDetection(context.Background(), nil)
	if res.Outcome != UnexpectedError {
		t.Errorf("nil result: got %v", res.Outcome)
	}
}

func TestOutcomeString(t *testing.T) {
	if Success.String() != "success" || ServerRejected.String() != "server_rejected" {
		t.Error("unexpected outcome labels")
	}
	if Outcome(42).String() != "outcome(42)" {
		t.Errorf("unknown outcome label = %q", Outcome(42).String())
	}
}
