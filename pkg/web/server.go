// Package web serves the hullwatch status API, Prometheus metrics and live
// websocket feeds of detections and annotated frames.
package web

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-hullwatch/internal/observe"
	"github.com/teslashibe/go-hullwatch/pkg/dispatch"
	"github.com/teslashibe/go-hullwatch/pkg/hub"
	"github.com/teslashibe/go-hullwatch/pkg/pipeline"
	"github.com/teslashibe/go-hullwatch/pkg/processor"
)

// recentEvents is how many events /api/events keeps.
const recentEvents = 200

// Event types.
const (
	EventDetection    = "detection"
	EventAdapterError = "adapter_error"
	EventDispatch     = "dispatch"
)

// StatusProvider exposes the pipeline state. *pipeline.Controller implements it.
type StatusProvider interface {
	Status() pipeline.Status
	State() pipeline.State
}

// Event is one entry of the live feed.
type Event struct {
	Type    string             `json:"type"`
	Time    time.Time          `json:"time"`
	RunID   string             `json:"run_id,omitempty"`
	Frame   int                `json:"frame,omitempty"`
	Text    string             `json:"text,omitempty"`
	Records []processor.Record `json:"records,omitempty"`
	Kind    string             `json:"kind,omitempty"`
	Outcome string             `json:"outcome,omitempty"`
	Status  int                `json:"status,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Server is the status and feed server. It also acts as a pipeline.Observer.
type Server struct {
	app    *fiber.App
	addr   string
	status StatusProvider
	logger *slog.Logger

	events *hub.Hub
	frames *hub.Hub

	recentMu sync.RWMutex
	recent   []Event
}

var _ pipeline.Observer = (*Server)(nil)

// NewServer builds the fiber app. status may be nil until SetStatus is called.
func NewServer(addr string, status StatusProvider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:   addr,
		status: status,
		logger: logger.With("component", "web"),
		events: hub.New("events", logger),
		frames: hub.New("frames", logger),
		recent: make([]Event, 0, recentEvents),
	}

	app := fiber.New(fiber.Config{
		AppName:               "hullwatch",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	app.Get("/healthz", s.handleHealth)
	app.Get("/readyz", s.handleReady)
	app.Get("/metrics", adaptor.HTTPHandler(observe.Handler()))

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/events", s.handleEvents)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.events.Serve))
	app.Get("/ws/frames", websocket.New(s.frames.Serve))

	s.app = app
	return s
}

// App returns the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// SetStatus sets the status source.
func (s *Server) SetStatus(p StatusProvider) {
	s.status = p
}

// Start runs the hubs until ctx is done and serves on the configured address.
// It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.events.Run(ctx)
	go s.frames.Run(ctx)

	s.logger.Info("status server listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// StartAsync runs Start in a goroutine and logs its error.
func (s *Server) StartAsync(ctx context.Context) {
	go func() {
		if err := s.Start(ctx); err != nil {
			s.logger.Error("status server stopped", "error", err)
		}
	}()
}

// Shutdown stops the HTTP server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// FrameProcessed publishes detections and adapter failures. Annotated
// frames are encoded only when a frame viewer is connected.
func (s *Server) FrameProcessed(ev pipeline.FrameEvent) {
	switch {
	case ev.Err != nil:
		s.publish(Event{
			Type:  EventAdapterError,
			RunID: ev.RunID,
			Frame: ev.Index,
			Error: ev.Err.Error(),
		})
	case ev.Result != nil:
		s.publish(Event{
			Type:    EventDetection,
			RunID:   ev.RunID,
			Frame:   ev.Index,
			Text:    ev.Result.Text,
			Records: ev.Result.Records,
		})
		s.publishFrame(ev.Result)
	}
}

// Dispatched publishes a dispatch outcome.
func (s *Server) Dispatched(runID string, res dispatch.Result) {
	ev := Event{
		Type:    EventDispatch,
		RunID:   runID,
		Frame:   res.FrameIndex,
		Kind:    string(res.Kind),
		Outcome: res.Outcome.String(),
		Status:  res.StatusCode,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	s.publish(ev)
}

func (s *Server) publish(ev Event) {
	ev.Time = time.Now()

	s.recentMu.Lock()
	if len(s.recent) == recentEvents {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:recentEvents-1]
	}
	s.recent = append(s.recent, ev)
	s.recentMu.Unlock()

	if err := s.events.BroadcastJSON(ev); err != nil {
		s.logger.Warn("event encode failed", "error", err)
	}
}

func (s *Server) publishFrame(res *processor.Result) {
	if res.Annotated == nil || s.frames.ClientCount() == 0 {
		return
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, res.Annotated, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		s.logger.Warn("frame encode failed", "frame", res.FrameIndex, "error", err)
		return
	}
	s.frames.BroadcastBinary(buf.Bytes())
}

// Recent returns a copy of the buffered events, oldest first.
func (s *Server) Recent() []Event {
	s.recentMu.RLock()
	defer s.recentMu.RUnlock()
	out := make([]Event, len(s.recent))
	copy(out, s.recent)
	return out
}

// EventClients returns the number of /ws/events subscribers.
func (s *Server) EventClients() int {
	return s.events.ClientCount()
}
