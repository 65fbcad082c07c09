// Package config loads hullwatch settings from YAML, environment and flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvStreamURL    = "HULLWATCH_STREAM_URL"
	EnvCollectorURL = "HULLWATCH_COLLECTOR_URL"
	EnvLogLevel     = "HULLWATCH_LOG_LEVEL"
)

// Config is the full hullwatch configuration.
type Config struct {
	Stream     StreamConfig     `yaml:"stream"`
	Collector  CollectorConfig  `yaml:"collector"`
	Policy     PolicyConfig     `yaml:"policy"`
	Detector   DetectorConfig   `yaml:"detector"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Snapshots  SnapshotConfig   `yaml:"snapshots"`
	Web        WebConfig        `yaml:"web"`
	Log        LogConfig        `yaml:"log"`
}

// StreamConfig selects the capture source.
type StreamConfig struct {
	// URL is an RTSP URL, video file, device index or image directory.
	URL string `yaml:"url"`

	// Source is "opencv" or "dir".
	Source string `yaml:"source"`
}

// CollectorConfig configures the dispatcher.
type CollectorConfig struct {
	URL         string        `yaml:"url"`
	Timeout     time.Duration `yaml:"timeout"`
	JPEGQuality int           `yaml:"jpeg_quality"`
	Async       bool          `yaml:"async"`
	QueueSize   int           `yaml:"queue_size"`
}

// PolicyConfig selects the gating policy.
type PolicyConfig struct {
	// Mode is "interval" (one report at stream end) or "cooldown" (one
	// request per detection).
	Mode           string `yaml:"mode"`
	SamplingPeriod int    `yaml:"sampling_period"`
	CooldownWindow int    `yaml:"cooldown_window"`
}

// DetectorConfig configures the YOLO detector.
type DetectorConfig struct {
	ModelPath   string  `yaml:"model_path"`
	TargetClass int     `yaml:"target_class"`
	Confidence  float32 `yaml:"confidence"`
	NMS         float32 `yaml:"nms"`
	InputSize   int     `yaml:"input_size"`
}

// RecognizerConfig selects the OCR backend.
type RecognizerConfig struct {
	// Backend is "paddlehub" or "tesseract".
	Backend   string        `yaml:"backend"`
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	Languages []string      `yaml:"languages"`
	Whitelist string        `yaml:"whitelist"`
}

// SnapshotConfig controls annotated frame persistence. An empty Dir
// disables it.
type SnapshotConfig struct {
	Dir string `yaml:"dir"`
}

// WebConfig controls the status server. An empty Addr disables it.
type WebConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			URL:    "rtsp://localhost:8554/PITSTOP",
			Source: "opencv",
		},
		Collector: CollectorConfig{
			Timeout:     10 * time.Second,
			JPEGQuality: 95,
			QueueSize:   16,
		},
		Policy: PolicyConfig{
			Mode:           "interval",
			SamplingPeriod: 25,
			CooldownWindow: 100,
		},
		Detector: DetectorConfig{
			ModelPath:   "models/hull.onnx",
			TargetClass: 0,
			Confidence:  0.25,
			NMS:         0.45,
			InputSize:   640,
		},
		Recognizer: RecognizerConfig{
			Backend:   "paddlehub",
			URL:       "http://localhost:8866/predict/ch_pp-ocrv3",
			Timeout:   10 * time.Second,
			Languages: []string{"eng"},
		},
		Web: WebConfig{Addr: ":8080"},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path on top of Default, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return cfg, nil
}

// ReadFile decodes the YAML file at path on top of Default without
// applying the environment or validating, so callers can layer flags first.
func ReadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r on top of Default, applies environment
// overrides and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := Decode(r)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads YAML from r on top of Default. Unknown keys are rejected.
// An empty document yields the defaults.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from HULLWATCH_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvStreamURL); v != "" {
		c.Stream.URL = v
	}
	if v := os.Getenv(EnvCollectorURL); v != "" {
		c.Collector.URL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Stream.URL == "" {
		errs = append(errs, errors.New("stream.url is required"))
	}
	switch c.Stream.Source {
	case "opencv", "dir":
	default:
		errs = append(errs, fmt.Errorf("stream.source %q is invalid; valid values: opencv, dir", c.Stream.Source))
	}

	if c.Collector.URL == "" {
		errs = append(errs, fmt.Errorf("collector.url is required (or set %s)", EnvCollectorURL))
	} else if u, err := url.Parse(c.Collector.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("collector.url %q is not an absolute URL", c.Collector.URL))
	}
	if c.Collector.Timeout <= 0 {
		errs = append(errs, errors.New("collector.timeout must be positive"))
	}
	if c.Collector.JPEGQuality < 1 || c.Collector.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("collector.jpeg_quality %d out of range 1-100", c.Collector.JPEGQuality))
	}

	switch c.Policy.Mode {
	case "interval":
		if c.Policy.SamplingPeriod <= 0 {
			errs = append(errs, errors.New("policy.sampling_period must be positive"))
		}
	case "cooldown":
		if c.Policy.CooldownWindow <= 0 {
			errs = append(errs, errors.New("policy.cooldown_window must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("policy.mode %q is invalid; valid values: interval, cooldown", c.Policy.Mode))
	}

	if c.Detector.ModelPath == "" {
		errs = append(errs, errors.New("detector.model_path is required"))
	}
	if c.Detector.TargetClass < 0 {
		errs = append(errs, errors.New("detector.target_class must not be negative"))
	}

	switch c.Recognizer.Backend {
	case "paddlehub":
		if c.Recognizer.URL == "" {
			errs = append(errs, errors.New("recognizer.url is required for paddlehub"))
		}
	case "tesseract":
	default:
		errs = append(errs, fmt.Errorf("recognizer.backend %q is invalid; valid values: paddlehub, tesseract", c.Recognizer.Backend))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", c.Log.Level))
	}

	return errors.Join(errs...)
}
