// hullwatch reads a camera stream, detects hull numbers and reports them to
// a collector endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-hullwatch/internal/config"
	"github.com/teslashibe/go-hullwatch/internal/log"
	"github.com/teslashibe/go-hullwatch/internal/observe"
	"github.com/teslashibe/go-hullwatch/pkg/app"
	"github.com/teslashibe/go-hullwatch/pkg/capture"
	"github.com/teslashibe/go-hullwatch/pkg/pipeline"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hullwatch: %v\n", err)
		return 2
	}

	log.Init(cfg.Log.Level)
	logger := log.Component("hullwatch")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		logger.Error("metrics provider init failed", "error", err)
		return 1
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdownMetrics(sctx)
	}()

	a, err := app.New(cfg, nativeBackends(), log.L())
	if err != nil {
		logger.Error("configuration error", "error", err)
		return 2
	}
	if err := a.Init(); err != nil {
		logger.Error("initialization failed", "error", err)
		return 1
	}
	defer a.Shutdown()

	st, err := a.Run(ctx)
	return exitCode(logger, st, err)
}

// exitCode maps the run result to the process exit status.
func exitCode(logger *slog.Logger, st pipeline.Status, err error) int {
	switch {
	case errors.Is(err, capture.ErrSourceUnavailable):
		// Already reported by the controller.
		logger.Debug("exiting: stream unavailable")
		return 1
	case errors.Is(err, context.Canceled):
		logger.Info("stopped by signal", "frames", st.Frames)
	case err != nil:
		logger.Error("run failed", "error", err)
		return 1
	}
	return 0
}

// parseFlags layers config file, environment and flags, in that order.
func parseFlags() (*config.Config, error) {
	configPath := flag.String("config", "", "YAML config file")
	stream := flag.String("stream", "", "Stream URL, video file, device index or image directory")
	source := flag.String("source", "", "Capture backend: opencv, dir")
	collector := flag.String("collector", "", "Collector endpoint URL")
	policy := flag.String("policy", "", "Gating policy: interval, cooldown")
	period := flag.Int("period", 0, "Sampling period in frames (interval policy)")
	window := flag.Int("cooldown", 0, "Cooldown window in frames (cooldown policy)")
	recognizer := flag.String("ocr", "", "Recognizer backend: paddlehub, tesseract")
	snapshots := flag.String("snapshots", "", "Directory for annotated frames")
	webAddr := flag.String("web", "", "Status server address (e.g. :8080)")
	async := flag.Bool("async", false, "Dispatch on a background worker")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.ReadFile(*configPath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	if *stream != "" {
		cfg.Stream.URL = *stream
	}
	if *source != "" {
		cfg.Stream.Source = *source
	}
	if *collector != "" {
		cfg.Collector.URL = *collector
	}
	if *policy != "" {
		cfg.Policy.Mode = *policy
	}
	if *period > 0 {
		cfg.Policy.SamplingPeriod = *period
	}
	if *window > 0 {
		cfg.Policy.CooldownWindow = *window
	}
	if *recognizer != "" {
		cfg.Recognizer.Backend = *recognizer
	}
	if *snapshots != "" {
		cfg.Snapshots.Dir = *snapshots
	}
	if *webAddr != "" {
		cfg.Web.Addr = *webAddr
	}
	if *async {
		cfg.Collector.Async = true
	}
	if *debug {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
