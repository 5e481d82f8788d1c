package render

import (
	"context"
	"fmt"

	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/model"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/readiness"
)

// Capture is the outcome of one capture attempt
type Capture struct {
	PNG    []byte
	PDF    []byte // nil when the browser PDF export failed
	Report *readiness.Report
}

// Backend defines the interface for rendering backends
type Backend interface {
	// Capture loads the target, waits until it is ready and exports it.
	// A not-ready page fails with the engine's *readiness.StepError; the
	// returned Capture still carries the report.
	Capture(ctx context.Context, target *model.Target) (*Capture, error)

	// Close cleans up resources used by the backend
	Close() error

	// Name returns the name of the backend
	Name() string
}

// NewBackend creates the rendering backend named in config.Backend
func NewBackend(config model.RendererConfig, engine *readiness.Engine) (Backend, error) {
	if engine == nil {
		return nil, fmt.Errorf("readiness engine is required")
	}

	switch config.Backend {
	case "", "chromium":
		return NewChromiumRenderer(config, engine), nil
	case "playwright":
		return NewPlaywrightRenderer(config, engine), nil
	case "chromedp":
		return NewChromedpRenderer(config, engine), nil
	default:
		return nil, fmt.Errorf("unknown renderer backend '%s'", config.Backend)
	}
}

// applyDefaults fills renderer settings that were left empty
func applyDefaults(config model.RendererConfig) model.RendererConfig {
	if config.ViewportWidth == 0 {
		config.ViewportWidth = 2400
	}
	if config.ViewportHeight == 0 {
		config.ViewportHeight = 1400
	}
	if config.TimeoutMS == 0 {
		config.TimeoutMS = 180000
	}
	if config.DeviceScaleFactor == 0 {
		config.DeviceScaleFactor = 1.0
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Locale == "" {
		config.Locale = "en-US"
	}
	if config.PDF.PageFormat == "" {
		config.PDF.PageFormat = "A2"
	}
	if config.PDF.MarginInches == 0 {
		config.PDF.MarginInches = 0.3
	}
	if config.PDF.FitWidth == 0 {
		config.PDF.FitWidth = config.ViewportWidth
	}
	return config
}

// DefaultUserAgent is a desktop Safari user agent
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Safari/605.1.15"
