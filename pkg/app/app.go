// Package app wires configuration into a running hullwatch pipeline.
//
// Backends that need native libraries (OpenCV capture and detection,
// Tesseract) are injected through [Backends] so this package builds without
// cgo. The pure-Go pieces (directory replay, PaddleHub OCR) are built in.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-hullwatch/internal/config"
	"github.com/teslashibe/go-hullwatch/internal/observe"
	"github.com/teslashibe/go-hullwatch/pkg/capture"
	"github.com/teslashibe/go-hullwatch/pkg/detection"
	"github.com/teslashibe/go-hullwatch/pkg/dispatch"
	"github.com/teslashibe/go-hullwatch/pkg/ocr"
	"github.com/teslashibe/go-hullwatch/pkg/pipeline"
	"github.com/teslashibe/go-hullwatch/pkg/processor"
	"github.com/teslashibe/go-hullwatch/pkg/snapshot"
	"github.com/teslashibe/go-hullwatch/pkg/web"
)

// DetectorFactory builds the object detector.
type DetectorFactory func(cfg config.DetectorConfig, logger *slog.Logger) (detection.Detector, error)

// RecognizerFactory builds a text recognizer.
type RecognizerFactory func(cfg config.RecognizerConfig, logger *slog.Logger) (ocr.Recognizer, error)

// SourceFactory builds a capture opener.
type SourceFactory func(logger *slog.Logger) capture.Opener

// Backends supplies the adapter constructors, keyed by config name.
type Backends struct {
	Detector    DetectorFactory
	Recognizers map[string]RecognizerFactory
	Sources     map[string]SourceFactory
}

// BuiltinBackends returns the backends that need no native libraries.
func BuiltinBackends() Backends {
	return Backends{
		Recognizers: map[string]RecognizerFactory{
			"paddlehub": func(cfg config.RecognizerConfig, logger *slog.Logger) (ocr.Recognizer, error) {
				return ocr.NewPaddleHub(cfg.URL, cfg.Timeout, logger)
			},
		},
		Sources: map[string]SourceFactory{
			"dir": capture.DirOpener,
		},
	}
}

// Merge returns b with other's entries added on top.
func (b Backends) Merge(other Backends) Backends {
	out := Backends{
		Detector:    b.Detector,
		Recognizers: make(map[string]RecognizerFactory),
		Sources:     make(map[string]SourceFactory),
	}
	if other.Detector != nil {
		out.Detector = other.Detector
	}
	for k, v := range b.Recognizers {
		out.Recognizers[k] = v
	}
	for k, v := range other.Recognizers {
		out.Recognizers[k] = v
	}
	for k, v := range b.Sources {
		out.Sources[k] = v
	}
	for k, v := range other.Sources {
		out.Sources[k] = v
	}
	return out
}

// App is one configured hullwatch process.
type App struct {
	cfg      *config.Config
	backends Backends
	logger   *slog.Logger
	metrics  *observe.Metrics

	controller *pipeline.Controller
	webServer  *web.Server
}

// New validates cfg and returns an App. Call Init before Run.
func New(cfg *config.Config, backends Backends, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		cfg:      cfg,
		backends: backends,
		logger:   logger,
		metrics:  observe.DefaultMetrics(),
	}, nil
}

// WithMetrics replaces the metric instruments. Call before Init.
func (a *App) WithMetrics(m *observe.Metrics) *App {
	a.metrics = m
	return a
}

// Init builds every component. Adapters are loaded once here and released
// by Shutdown.
func (a *App) Init() error {
	opener, err := a.opener()
	if err != nil {
		return err
	}

	proc, err := a.processor()
	if err != nil {
		return err
	}

	sender, err := dispatch.New(a.cfg.Collector.URL,
		dispatch.WithTimeout(a.cfg.Collector.Timeout),
		dispatch.WithJPEGQuality(a.cfg.Collector.JPEGQuality),
		dispatch.WithLogger(a.logger),
		dispatch.WithMetrics(a.metrics),
	)
	if err != nil {
		proc.Close()
		return err
	}

	n := a.cfg.Policy.SamplingPeriod
	if a.cfg.Policy.Mode == pipeline.PolicyCooldown {
		n = a.cfg.Policy.CooldownWindow
	}
	policy, err := pipeline.NewPolicy(a.cfg.Policy.Mode, n)
	if err != nil {
		return errors.Join(err, proc.Close(), sender.Close())
	}

	var saver *snapshot.Saver
	if a.cfg.Snapshots.Dir != "" {
		if saver, err = snapshot.New(a.cfg.Snapshots.Dir, a.logger); err != nil {
			return errors.Join(err, proc.Close(), sender.Close())
		}
	}

	pcfg := pipeline.Config{
		URI:       a.cfg.Stream.URL,
		Opener:    opener,
		Policy:    policy,
		Processor: proc,
		Sender:    sender,
		Snapshots: saver,
		Async:     a.cfg.Collector.Async,
		QueueSize: a.cfg.Collector.QueueSize,
		Logger:    a.logger,
		Metrics:   a.metrics,
	}
	if a.cfg.Web.Addr != "" {
		a.webServer = web.NewServer(a.cfg.Web.Addr, nil, a.logger)
		pcfg.Observer = a.webServer
	}

	a.controller, err = pipeline.New(pcfg)
	if err != nil {
		return errors.Join(err, proc.Close(), sender.Close())
	}
	if a.webServer != nil {
		a.webServer.SetStatus(a.controller)
	}

	a.logger.Info("hullwatch initialized",
		"stream", a.cfg.Stream.URL,
		"source", a.cfg.Stream.Source,
		"collector", a.cfg.Collector.URL,
		"policy", policy.Name(),
		"recognizer", a.cfg.Recognizer.Backend,
	)
	return nil
}

func (a *App) opener() (capture.Opener, error) {
	factory, ok := a.backends.Sources[a.cfg.Stream.Source]
	if !ok {
		return nil, fmt.Errorf("app: stream source %q is not available in this build", a.cfg.Stream.Source)
	}
	return factory(a.logger), nil
}

func (a *App) processor() (*processor.Processor, error) {
	if a.backends.Detector == nil {
		return nil, fmt.Errorf("app: %w", detection.ErrNoDetector)
	}
	recFactory, ok := a.backends.Recognizers[a.cfg.Recognizer.Backend]
	if !ok {
		return nil, fmt.Errorf("app: recognizer %q is not available in this build", a.cfg.Recognizer.Backend)
	}

	det, err := a.backends.Detector(a.cfg.Detector, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: detector: %w", err)
	}
	adapter, err := detection.NewAdapter(det, a.cfg.Detector.TargetClass)
	if err != nil {
		det.Close()
		return nil, err
	}

	rec, err := recFactory(a.cfg.Recognizer, a.logger)
	if err != nil {
		adapter.Close()
		return nil, fmt.Errorf("app: recognizer: %w", err)
	}

	proc, err := processor.New(adapter, rec,
		processor.WithLogger(a.logger),
		processor.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, errors.Join(err, adapter.Close(), rec.Close())
	}
	return proc, nil
}

// Run starts the status server and reads the stream once, until it ends or
// ctx is cancelled.
func (a *App) Run(ctx context.Context) (pipeline.Status, error) {
	if a.controller == nil {
		return pipeline.Status{}, errors.New("app: Init not called")
	}
	if a.webServer != nil {
		a.webServer.StartAsync(ctx)
	}
	return a.controller.Run(ctx)
}

// Controller returns the stream controller, nil before Init.
func (a *App) Controller() *pipeline.Controller {
	return a.controller
}

// Shutdown stops the status server and releases every adapter.
func (a *App) Shutdown() {
	if a.webServer != nil {
		if err := a.webServer.Shutdown(); err != nil {
			a.logger.Warn("status server shutdown failed", "error", err)
		}
	}
	if a.controller != nil {
		if err := a.controller.Close(); err != nil {
			a.logger.Warn("releasing adapters failed", "error", err)
		}
	}
}
