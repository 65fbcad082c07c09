package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"github.com/teslashibe/go-hullwatch/internal/httpc"
)

// PaddleHub serving reports success with this status string.
const paddleStatusOK = "000"

// ErrNoEndpoint is returned when the PaddleHub URL is missing.
var ErrNoEndpoint = errors.New("ocr: endpoint required")

// ServingError is a failed PaddleHub response.
type ServingError struct {
	StatusCode int    // HTTP status
	Status     string // PaddleHub status field
	Message    string
}

// Error implements the error interface.
func (e *ServingError) Error() string {
	return fmt.Sprintf("ocr: paddlehub error http=%d status=%q: %s", e.StatusCode, e.Status, e.Message)
}

// PaddleHub calls a `hub serving` endpoint such as
// http://localhost:8866/predict/ch_pp-ocrv3.
type PaddleHub struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

// NewPaddleHub creates a recognizer for the given predict URL.
func NewPaddleHub(url string, timeout time.Duration, logger *slog.Logger) (*PaddleHub, error) {
	if url == "" {
		return nil, ErrNoEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PaddleHub{
		url:    url,
		http:   httpc.NewClient(timeout),
		logger: logger.With("component", "ocr.paddlehub"),
	}, nil
}

type paddleRequest struct {
	Images []string `json:"images"`
}

type paddleResponse struct {
	Msg     string `json:"msg"`
	Status  string `json:"status"`
	Results []struct {
		Data []struct {
			Text       string  `json:"text"`
			Confidence float64 `json:"confidence"`
		} `json:"data"`
	} `json:"results"`
}

// Recognize posts the crop as a base64 JPEG and flattens every data group.
func (p *PaddleHub) Recognize(ctx context.Context, img image.Image) ([]Fragment, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, fmt.Errorf("ocr: encode crop: %w", err)
	}

	body, err := json.Marshal(paddleRequest{
		Images: []string{base64.StdEncoding.EncodeToString(buf.Bytes())},
	})
	if err != nil {
		return nil, fmt.Errorf("ocr: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ocr: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ServingError{StatusCode: resp.StatusCode, Message: httpc.ReadBody(resp)}
	}

	var out paddleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ocr: decode response: %w", err)
	}
	if out.Status != paddleStatusOK {
		return nil, &ServingError{StatusCode: resp.StatusCode, Status: out.Status, Message: out.Msg}
	}

	var frags []Fragment
	for _, r := range out.Results {
		for _, item := range r.Data {
			frags = append(frags, Fragment{Text: item.Text, Confidence: item.Confidence})
		}
	}
	p.logger.Debug("text recognized", "fragments", len(frags))
	return frags, nil
}

// Close releases idle connections.
func (p *PaddleHub) Close() error {
	p.http.CloseIdleConnections()
	return nil
}
