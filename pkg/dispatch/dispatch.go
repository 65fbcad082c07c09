// Package dispatch sends detection results to the collector endpoint.
//
// Two payload contracts are supported:
//
//   - Report: one JSON document with every box record and the accumulated
//     text, sent once at the end of a fixed-interval run.
//   - Detection: a multipart form with the recognized text and the annotated
//     JPEG, sent once per cooldown-gated detection.
//
// Each send is a single attempt. Failures are classified into an [Outcome]
// and logged; they are never returned as a panic or a fatal error.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/disintegration/imaging"

	"github.com/teslashibe/go-hullwatch/internal/httpc"
	"github.com/teslashibe/go-hullwatch/internal/observe"
	"github.com/teslashibe/go-hullwatch/pkg/ocr"
	"github.com/teslashibe/go-hullwatch/pkg/processor"
)

// DefaultTimeout bounds every collector request.
const DefaultTimeout = 10 * time.Second

// Multipart field names and the image file name.
const (
	FieldText     = "detected_text"
	FieldImage    = "image"
	ImageFilename = "frame.jpg"
)

// Kind is the payload contract.
type Kind string

const (
	KindReport    Kind = "report"
	KindDetection Kind = "detection"
)

// Outcome classifies one dispatch attempt.
type Outcome int

const (
	Success Outcome = iota
	Skipped
	ServerRejected
	Timeout
	TransportError
	UnexpectedError
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Skipped:
		return "skipped"
	case ServerRejected:
		return "server_rejected"
	case Timeout:
		return "timeout"
	case TransportError:
		return "transport_error"
	case UnexpectedError:
		return "unexpected_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes one dispatch attempt.
type Result struct {
	Kind       Kind
	Outcome    Outcome
	FrameIndex int    // Zero for reports
	StatusCode int    // Zero when no response arrived
	Body       string // Response body, truncated
	Err        error
	Duration   time.Duration
}

// OK reports whether the attempt succeeded or was deliberately skipped.
func (r Result) OK() bool {
	return r.Outcome == Success || r.Outcome == Skipped
}

// Report is the accumulated end-of-run payload.
type Report struct {
	HullNum      []processor.Record `json:"hull_num"`
	DetectedText string             `json:"detected_text"`
}

type reportEnvelope struct {
	Data Report `json:"data"`
}

// Config holds dispatcher settings.
type Config struct {
	Timeout     time.Duration
	JPEGQuality int
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Metrics     *observe.Metrics
}

// Option configures a Dispatcher.
type Option func(*Config)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithJPEGQuality sets the annotated image quality (1-100).
func WithJPEGQuality(q int) Option {
	return func(c *Config) { c.JPEGQuality = q }
}

// WithHTTPClient replaces the HTTP client. Its Timeout is left as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// Dispatcher posts payloads to one collector URL.
type Dispatcher struct {
	url     string
	cfg     Config
	http    *http.Client
	logger  *slog.Logger
	metrics *observe.Metrics
}

// New creates a Dispatcher for url.
func New(url string, opts ...Option) (*Dispatcher, error) {
	if url == "" {
		return nil, ErrNoURL
	}

	cfg := Config{
		Timeout:     DefaultTimeout,
		JPEGQuality: 95,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpc.NewClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.Noop()
	}

	return &Dispatcher{
		url:     url,
		cfg:     cfg,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger.With("component", "dispatch"),
		metrics: cfg.Metrics,
	}, nil
}

// URL returns the collector URL.
func (d *Dispatcher) URL() string {
	return d.url
}

// SendReport posts the accumulated report as JSON.
func (d *Dispatcher) SendReport(ctx context.Context, r Report) Result {
	if r.HullNum == nil {
		r.HullNum = []processor.Record{}
	}

	res := Result{Kind: KindReport}
	body, err := json.Marshal(reportEnvelope{Data: r})
	if err != nil {
		return d.finish(ctx, res, UnexpectedError, fmt.Errorf("%w: marshal report: %w", ErrUnexpected, err))
	}

	d.post(ctx, &res, "application/json", body)
	d.logger.Debug("report payload", "records", len(r.HullNum), "text", r.DetectedText)
	return res
}

// SendDetection posts one detection as a multipart form. Results whose text
// is "None" are skipped without a request.
func (d *Dispatcher) SendDetection(ctx context.Context, r *processor.Result) Result {
	res := Result{Kind: KindDetection}
	if r == nil {
		return d.finish(ctx, res, UnexpectedError, fmt.Errorf("%w: nil result", ErrUnexpected))
	}
	res.FrameIndex = r.FrameIndex

	if r.Text == ocr.NoText {
		return d.finish(ctx, res, Skipped, nil)
	}
	if r.Annotated == nil {
		return d.finish(ctx, res, UnexpectedError, fmt.Errorf("%w: no annotated image", ErrUnexpected))
	}

	body, contentType, err := d.encodeDetection(r)
	if err != nil {
		return d.finish(ctx, res, UnexpectedError, fmt.Errorf("%w: %w", ErrUnexpected, err))
	}

	d.post(ctx, &res, contentType, body)
	return res
}

func (d *Dispatcher) encodeDetection(r *processor.Result) ([]byte, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField(FieldText, r.Text); err != nil {
		return nil, "", fmt.Errorf("write text field: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FieldImage, ImageFilename))
	h.Set("Content-Type", "image/jpeg")
	pw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create image part: %w", err)
	}
	if err := imaging.Encode(pw, r.Annotated, imaging.JPEG, imaging.JPEGQuality(d.cfg.JPEGQuality)); err != nil {
		return nil, "", fmt.Errorf("encode jpeg: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body.Bytes(), mw.FormDataContentType(), nil
}

// post performs the single attempt and fills res.
func (d *Dispatcher) post(ctx context.Context, res *Result, contentType string, body []byte) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		*res = d.finish(ctx, *res, UnexpectedError, fmt.Errorf("%w: build request: %w", ErrUnexpected, err))
		return
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.http.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		outcome, tagged := classify(err)
		*res = d.finish(ctx, *res, outcome, tagged)
		return
	}
	defer httpc.Drain(resp)

	res.StatusCode = resp.StatusCode
	res.Body = httpc.ReadBody(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		*res = d.finish(ctx, *res, Success, nil)
	default:
		*res = d.finish(ctx, *res, ServerRejected, &RejectedError{StatusCode: resp.StatusCode, Body: res.Body})
	}
}

// finish stamps the outcome, logs it at the matching level and records metrics.
func (d *Dispatcher) finish(ctx context.Context, res Result, outcome Outcome, err error) Result {
	res.Outcome = outcome
	res.Err = err

	d.metrics.RecordDispatch(ctx, string(res.Kind), outcome.String(), res.Duration.Seconds())

	attrs := []any{
		"kind", res.Kind,
		"outcome", outcome.String(),
		"url", d.url,
	}
	if res.FrameIndex > 0 {
		attrs = append(attrs, "frame", res.FrameIndex)
	}
	if res.StatusCode != 0 {
		attrs = append(attrs, "status", res.StatusCode, "body", res.Body)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}

	switch outcome {
	case Success:
		d.logger.Info("data sent", attrs...)
	case Skipped:
		d.logger.Info("no text recognized, skipping send", attrs...)
	case ServerRejected:
		d.logger.Warn("collector rejected data", attrs...)
	case Timeout:
		d.logger.Warn("collector request timed out", attrs...)
	default:
		d.logger.Error("collector request failed", attrs...)
	}
	return res
}

// Close releases idle connections.
func (d *Dispatcher) Close() error {
	d.http.CloseIdleConnections()
	return nil
}
