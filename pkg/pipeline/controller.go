// Package pipeline reads frames from a capture source, gates them through a
// sampling policy and dispatches detection results to the collector.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-hullwatch/internal/observe"
	"github.com/teslashibe/go-hullwatch/pkg/capture"
	"github.com/teslashibe/go-hullwatch/pkg/dispatch"
	"github.com/teslashibe/go-hullwatch/pkg/processor"
	"github.com/teslashibe/go-hullwatch/pkg/snapshot"
)

// Errors returned by the controller.
var (
	ErrAlreadyRunning = errors.New("pipeline: already running")
	ErrMissingOpener  = errors.New("pipeline: capture opener required")
	ErrMissingPolicy  = errors.New("pipeline: policy required")
	ErrMissingProc    = errors.New("pipeline: frame processor required")
	ErrMissingSender  = errors.New("pipeline: sender required")
)

// DefaultFlushTimeout bounds the end-of-run report after cancellation.
const DefaultFlushTimeout = 15 * time.Second

// FrameProcessor turns a frame into a result. *processor.Processor implements it.
type FrameProcessor interface {
	Process(ctx context.Context, frame capture.Frame) (*processor.Result, error)
	Close() error
}

// Sender delivers results to the collector. *dispatch.Dispatcher implements it.
type Sender interface {
	SendReport(ctx context.Context, r dispatch.Report) dispatch.Result
	SendDetection(ctx context.Context, r *processor.Result) dispatch.Result
	Close() error
}

// FrameEvent describes one processed frame.
type FrameEvent struct {
	RunID  string
	Index  int
	Result *processor.Result // nil when nothing was detected
	Err    error
}

// Observer receives pipeline events. Dispatched may be called from the
// dispatch worker goroutine.
type Observer interface {
	FrameProcessed(ev FrameEvent)
	Dispatched(runID string, res dispatch.Result)
}

// State is the controller lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStreamEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStreamEnded:
		return "stream_ended"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of a run.
type Status struct {
	State            string    `json:"state"`
	RunID            string    `json:"run_id,omitempty"`
	Policy           string    `json:"policy"`
	Frames           int       `json:"frames"`
	Processed        int       `json:"processed"`
	Detections       int       `json:"detections"`
	AdapterErrors    int       `json:"adapter_errors"`
	Dispatches       int       `json:"dispatches"`
	DispatchFailures int       `json:"dispatch_failures"`
	LastText         string    `json:"last_text,omitempty"`
	StartedAt        time.Time `json:"started_at,omitzero"`
	EndedAt          time.Time `json:"ended_at,omitzero"`
}

// Config wires a Controller.
type Config struct {
	// URI is the stream locator handed to Opener.
	URI    string
	Opener capture.Opener

	Policy    Policy
	Processor FrameProcessor
	Sender    Sender

	// Snapshots, when set, stores every annotated detection frame.
	Snapshots *snapshot.Saver

	// Observer, when set, receives frame and dispatch events.
	Observer Observer

	// Async moves dispatch onto a single worker so slow collector calls do
	// not pause frame reads. Results are still sent in frame order.
	Async     bool
	QueueSize int

	// FlushTimeout bounds the final report when the run was cancelled.
	FlushTimeout time.Duration

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Controller runs one stream at a time.
type Controller struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observe.Metrics

	running atomic.Bool
	state   atomic.Int32

	mu     sync.RWMutex
	status Status
}

// New validates cfg and returns a Controller.
func New(cfg Config) (*Controller, error) {
	switch {
	case cfg.Opener == nil:
		return nil, ErrMissingOpener
	case cfg.Policy == nil:
		return nil, ErrMissingPolicy
	case cfg.Processor == nil:
		return nil, ErrMissingProc
	case cfg.Sender == nil:
		return nil, ErrMissingSender
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.Noop()
	}

	c := &Controller{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "pipeline"),
		metrics: cfg.Metrics,
	}
	c.status = Status{State: StateIdle.String(), Policy: cfg.Policy.Name()}
	return c, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Status returns a copy of the current run status.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.update(func(st *Status) {
		st.State = s.String()
		if s == StateStreamEnded {
			st.EndedAt = time.Now()
		}
	})
}

func (c *Controller) update(fn func(*Status)) {
	c.mu.Lock()
	fn(&c.status)
	c.mu.Unlock()
}

// Run reads the stream until it ends or ctx is cancelled and returns the
// final status. A source that cannot be opened ends the run with an error
// wrapping capture.ErrSourceUnavailable and nothing is dispatched.
// Cancellation closes the source, sends any pending report and returns
// ctx.Err().
func (c *Controller) Run(ctx context.Context) (Status, error) {
	if !c.running.CompareAndSwap(false, true) {
		return c.Status(), ErrAlreadyRunning
	}
	defer c.running.Store(false)

	runID := uuid.NewString()
	logger := c.logger.With("run_id", runID, "policy", c.cfg.Policy.Name())

	c.cfg.Policy.Reset()
	c.mu.Lock()
	c.status = Status{
		State:     StateIdle.String(),
		RunID:     runID,
		Policy:    c.cfg.Policy.Name(),
		StartedAt: time.Now(),
	}
	c.mu.Unlock()

	src, err := c.cfg.Opener(ctx, c.cfg.URI)
	if err != nil {
		if !errors.Is(err, capture.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", capture.ErrSourceUnavailable, err)
		}
		logger.Error("unable to open stream", "uri", c.cfg.URI, "error", err)
		c.setState(StateStreamEnded)
		return c.Status(), err
	}

	var closeOnce sync.Once
	closeSource := func() {
		closeOnce.Do(func() {
			if err := src.Close(); err != nil {
				logger.Warn("closing source failed", "error", err)
			}
		})
	}
	defer closeSource()
	stop := context.AfterFunc(ctx, closeSource)
	defer stop()

	// Dispatches outlive cancellation so a pending report still goes out.
	sendCtx := context.WithoutCancel(ctx)
	send, wait := c.sender(sendCtx, runID)

	logger.Info("stream started", "uri", c.cfg.URI, "async", c.cfg.Async)
	c.setState(StateRunning)

	index := 0
	for ctx.Err() == nil {
		img, ok := src.Read()
		if !ok {
			break
		}
		index++
		c.metrics.FramesRead.Add(ctx, 1)
		c.update(func(st *Status) { st.Frames = index })

		if !c.cfg.Policy.Admit(index) {
			continue
		}

		frame := capture.Frame{Index: index, Image: img, Timestamp: time.Now()}
		res, err := c.process(ctx, runID, frame)
		if err != nil {
			logger.Warn("frame skipped", "frame", index, "error", err)
			continue
		}

		if c.cfg.Policy.Record(index, res) {
			send(func(ctx context.Context) dispatch.Result {
				return c.cfg.Sender.SendDetection(ctx, res)
			})
		}
	}

	cancelled := ctx.Err() != nil
	c.setState(StateStreamEnded)
	closeSource()

	if report, ok := c.cfg.Policy.Flush(); ok {
		send(func(ctx context.Context) dispatch.Result {
			if cancelled {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, c.cfg.FlushTimeout)
				defer cancel()
			}
			return c.cfg.Sender.SendReport(ctx, report)
		})
	}
	wait()

	st := c.Status()
	logger.Info("stream ended",
		"frames", st.Frames,
		"processed", st.Processed,
		"detections", st.Detections,
		"dispatches", st.Dispatches,
		"cancelled", cancelled,
	)
	if cancelled {
		return st, ctx.Err()
	}
	return st, nil
}

// process runs the frame processor and records the outcome.
func (c *Controller) process(ctx context.Context, runID string, frame capture.Frame) (*processor.Result, error) {
	c.metrics.FramesProcessed.Add(ctx, 1)
	res, err := c.cfg.Processor.Process(ctx, frame)

	c.update(func(st *Status) {
		st.Processed++
		switch {
		case err != nil:
			st.AdapterErrors++
		case res != nil:
			st.Detections++
			st.LastText = res.Text
		}
	})
	if c.cfg.Observer != nil {
		c.cfg.Observer.FrameProcessed(FrameEvent{RunID: runID, Index: frame.Index, Result: res, Err: err})
	}
	if err != nil || res == nil {
		return nil, err
	}

	if c.cfg.Snapshots != nil && res.Annotated != nil {
		if _, err := c.cfg.Snapshots.Save(frame.Index, res.Annotated); err != nil {
			c.logger.Warn("snapshot failed", "frame", frame.Index, "error", err)
		}
	}
	return res, nil
}

// sender returns the function used to submit dispatches and a wait function
// that blocks until all of them completed. In async mode a single errgroup
// worker drains a bounded queue in submission order.
func (c *Controller) sender(ctx context.Context, runID string) (send func(func(context.Context) dispatch.Result), wait func()) {
	deliver := func(job func(context.Context) dispatch.Result) {
		c.recordDispatch(runID, job(ctx))
	}
	if !c.cfg.Async {
		return deliver, func() {}
	}

	queue := make(chan func(context.Context) dispatch.Result, c.cfg.QueueSize)
	var g errgroup.Group
	g.Go(func() error {
		for job := range queue {
			deliver(job)
		}
		return nil
	})

	send = func(job func(context.Context) dispatch.Result) {
		queue <- job
	}
	wait = func() {
		close(queue)
		_ = g.Wait()
	}
	return send, wait
}

func (c *Controller) recordDispatch(runID string, res dispatch.Result) {
	c.update(func(st *Status) {
		if res.Outcome == dispatch.Skipped {
			return
		}
		st.Dispatches++
		if !res.OK() {
			st.DispatchFailures++
		}
	})
	if c.cfg.Observer != nil {
		c.cfg.Observer.Dispatched(runID, res)
	}
}

// Close releases the frame processor and the sender.
func (c *Controller) Close() error {
	return errors.Join(c.cfg.Processor.Close(), c.cfg.Sender.Close())
}
