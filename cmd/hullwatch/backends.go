package main

import (
	"log/slog"

	"github.com/teslashibe/go-hullwatch/internal/config"
	"github.com/teslashibe/go-hullwatch/pkg/app"
	"github.com/teslashibe/go-hullwatch/pkg/capture/opencv"
	"github.com/teslashibe/go-hullwatch/pkg/detection"
	"github.com/teslashibe/go-hullwatch/pkg/detection/yolo"
	"github.com/teslashibe/go-hullwatch/pkg/ocr"
	"github.com/teslashibe/go-hullwatch/pkg/ocr/tesseract"
)

// nativeBackends adds the OpenCV and Tesseract adapters.
func nativeBackends() app.Backends {
	return app.BuiltinBackends().Merge(app.Backends{
		Detector: newYOLO,
		Recognizers: map[string]app.RecognizerFactory{
			"tesseract": newTesseract,
		},
		Sources: map[string]app.SourceFactory{
			"opencv": opencv.Opener,
		},
	})
}

func newYOLO(cfg config.DetectorConfig, logger *slog.Logger) (detection.Detector, error) {
	ycfg := yolo.DefaultConfig()
	ycfg.ModelPath = cfg.ModelPath
	if cfg.Confidence > 0 {
		ycfg.ConfidenceThresh = cfg.Confidence
	}
	if cfg.NMS > 0 {
		ycfg.NMSThresh = cfg.NMS
	}
	if cfg.InputSize > 0 {
		ycfg.InputWidth, ycfg.InputHeight = cfg.InputSize, cfg.InputSize
	}
	return yolo.New(ycfg, logger)
}

func newTesseract(cfg config.RecognizerConfig, _ *slog.Logger) (ocr.Recognizer, error) {
	tcfg := tesseract.DefaultConfig()
	if len(cfg.Languages) > 0 {
		tcfg.Languages = cfg.Languages
	}
	if cfg.Whitelist != "" {
		tcfg.Whitelist = cfg.Whitelist
	}
	return tesseract.New(tcfg)
}
