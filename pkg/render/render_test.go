package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/model"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/readiness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock advances only when slept on
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// fakeSession is a settled page with configurable exports
type fakeSession struct {
	widgets     int
	scrollWidth int
	png         []byte
	pdf         []byte
	pdfErr      error

	mu      sync.Mutex
	pdfOpts *pdfOptions
}

func (s *fakeSession) Eval(ctx context.Context, js string, out any) error {
	var v any
	switch {
	case js == scrollWidthJS:
		v = s.scrollWidth
	case strings.Contains(js, "readyState"):
		v = "complete"
	case strings.Contains(js, "scrollHeight"):
		v = 900
	case strings.Contains(js, "scrollTo"):
		v = nil
	case strings.Contains(js, "getClientRects"):
		v = map[string]any{"busy": 0, "text": 0, "sample": ""}
	case strings.Contains(js, "document.images"):
		v = map[string]any{"total": 2, "failed": 0}
	case strings.Contains(js, "querySelectorAll("):
		v = s.widgets
	default:
		return fmt.Errorf("unexpected script: %s", js)
	}
	raw, _ := json.Marshal(v)
	return decodeResult(raw, out)
}

func (s *fakeSession) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	return ctx.Err()
}

func (s *fakeSession) Frames(ctx context.Context) ([]readiness.Frame, error) {
	return nil, nil
}

func (s *fakeSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.png, nil
}

func (s *fakeSession) PDF(ctx context.Context, opts pdfOptions) ([]byte, error) {
	s.mu.Lock()
	s.pdfOpts = &opts
	s.mu.Unlock()
	return s.pdf, s.pdfErr
}

func testEngine(t *testing.T) *readiness.Engine {
	t.Helper()
	cfg := readiness.DefaultConfig()
	clk := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	engine, err := readiness.New(cfg, readiness.WithClock(clk), readiness.WithLogger(readiness.NopLogger()))
	require.NoError(t, err)
	return engine
}

func validPNG() []byte {
	return append(append([]byte{}, pngMagic...), make([]byte, 64)...)
}

var testTarget = &model.Target{Name: "buoy", URL: "https://dashboards.example.com/d/buoy"}

func TestRunCaptureReady(t *testing.T) {
	s := &fakeSession{widgets: 6, scrollWidth: 4800, png: validPNG(), pdf: []byte("%PDF-1.7 body")}
	cfg := applyDefaults(model.RendererConfig{}).PDF
	cfg.Landscape = true

	c, err := runCapture(context.Background(), testEngine(t), s, testTarget, cfg)
	require.NoError(t, err)
	require.NotNil(t, c.Report)

	assert.True(t, c.Report.Ready)
	assert.Equal(t, 6, c.Report.Widgets)
	assert.Equal(t, s.png, c.PNG)
	assert.Equal(t, s.pdf, c.PDF)

	require.NotNil(t, s.pdfOpts)
	assert.Equal(t, "A2", s.pdfOpts.Format)
	assert.True(t, s.pdfOpts.Landscape)
	assert.InDelta(t, 0.3, s.pdfOpts.Margin, 1e-9)
	assert.InDelta(t, 0.5, s.pdfOpts.Scale, 1e-9, "2400px fit width over 4800px content")
}

func TestRunCaptureNotReady(t *testing.T) {
	s := &fakeSession{widgets: 1, png: validPNG()}

	c, err := runCapture(context.Background(), testEngine(t), s, testTarget, applyDefaults(model.RendererConfig{}).PDF)
	require.Error(t, err)

	var stepErr *readiness.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, readiness.StepWidgets, stepErr.Step)
	assert.True(t, errors.Is(err, readiness.ErrTimeout))

	require.NotNil(t, c)
	assert.False(t, c.Report.Ready)
	assert.Nil(t, c.PNG, "nothing is captured from a page that never settled")
}

func TestRunCaptureRejectsNonPNG(t *testing.T) {
	s := &fakeSession{widgets: 4, png: []byte("<html>")}

	_, err := runCapture(context.Background(), testEngine(t), s, testTarget, applyDefaults(model.RendererConfig{}).PDF)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a PNG")
}

func TestRunCapturePDFFailureIsNotFatal(t *testing.T) {
	for name, s := range map[string]*fakeSession{
		"error":   {widgets: 4, png: validPNG(), pdfErr: errors.New("printing failed")},
		"garbage": {widgets: 4, png: validPNG(), pdf: []byte("not a pdf")},
	} {
		t.Run(name, func(t *testing.T) {
			c, err := runCapture(context.Background(), testEngine(t), s, testTarget, applyDefaults(model.RendererConfig{}).PDF)
			require.NoError(t, err)
			assert.NotNil(t, c.PNG)
			assert.Nil(t, c.PDF)
		})
	}
}

func TestPDFScale(t *testing.T) {
	tests := []struct {
		fit, content int
		want         float64
	}{
		{2400, 2400, 1},
		{2400, 1200, 1},
		{2400, 3000, 0.8},
		{2400, 100000, 0.1},
		{2400, 0, 1},
		{0, 2400, 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, pdfScale(tt.fit, tt.content), 1e-9, "fit=%d content=%d", tt.fit, tt.content)
	}
}

func TestResolvePDFOptions(t *testing.T) {
	opts := resolvePDFOptions(model.PDFConfig{PageFormat: "letter", MarginInches: 0.5, PrintBackground: true})
	assert.Equal(t, "LETTER", opts.Format)
	assert.Equal(t, 8.5, opts.PaperWidth)
	assert.Equal(t, 11.0, opts.PaperHeight)
	assert.Equal(t, 0.5, opts.Margin)
	assert.True(t, opts.PrintBackground)

	unknown := resolvePDFOptions(model.PDFConfig{PageFormat: "B7"})
	assert.Equal(t, "A2", unknown.Format)
	assert.Equal(t, 16.54, unknown.PaperWidth)
}

func TestClassifyEvalError(t *testing.T) {
	lost := classifyEvalError(errors.New("Execution context was destroyed, most likely because of a navigation"))
	assert.ErrorIs(t, lost, readiness.ErrContextLost)
	assert.True(t, readiness.IsTransient(lost))

	other := errors.New("ReferenceError: foo is not defined")
	assert.Equal(t, other, classifyEvalError(other))
	assert.Nil(t, classifyEvalError(nil))
}

func TestRunWithContext(t *testing.T) {
	v, err := runWithContext(context.Background(), func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := make(chan struct{})
	defer close(block)
	_, err = runWithContext(ctx, func() (int, error) {
		<-block
		return 0, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTimeoutMS(t *testing.T) {
	tests := []struct {
		remaining time.Duration
		want      float64
	}{
		{30 * time.Second, 30000},
		{1500 * time.Microsecond, 1},
		{999 * time.Microsecond, 1},
		{0, 1},
		{-time.Second, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, timeoutMS(tt.remaining), "remaining=%s", tt.remaining)
	}
}

func TestNewBackend(t *testing.T) {
	engine := testEngine(t)

	for backend, name := range map[string]string{
		"":           "chromium",
		"chromium":   "chromium",
		"playwright": "playwright",
		"chromedp":   "chromedp",
	} {
		b, err := NewBackend(model.RendererConfig{Backend: backend}, engine)
		require.NoError(t, err, backend)
		assert.Equal(t, name, b.Name())
		assert.NoError(t, b.Close(), "closing an unused backend is a no-op")
	}

	_, err := NewBackend(model.RendererConfig{Backend: "webkit"}, engine)
	assert.ErrorContains(t, err, "unknown renderer backend")

	_, err = NewBackend(model.RendererConfig{}, nil)
	assert.Error(t, err)
}

func TestApplyDefaults(t *testing.T) {
	cfg := applyDefaults(model.RendererConfig{ViewportWidth: 1600})
	assert.Equal(t, 1600, cfg.ViewportWidth)
	assert.Equal(t, 1400, cfg.ViewportHeight)
	assert.Equal(t, 180000, cfg.TimeoutMS)
	assert.Equal(t, 1.0, cfg.DeviceScaleFactor)
	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
	assert.Equal(t, "en-US", cfg.Locale)
	assert.Equal(t, 1600, cfg.PDF.FitWidth)
}

// TestChromiumCaptureLive drives a real browser against a data URL
func TestChromiumCaptureLive(t *testing.T) {
	if os.Getenv("SNAPSHOT_TEST_BROWSER") != "1" {
		t.Skip("set SNAPSHOT_TEST_BROWSER=1 to run against a local Chromium")
	}

	cfg := readiness.DefaultConfig()
	cfg.MinWidgets = 1
	cfg.Widgets.Required = 500 * time.Millisecond
	engine, err := readiness.New(cfg)
	require.NoError(t, err)

	for _, backend := range []string{"chromium", "chromedp"} {
		t.Run(backend, func(t *testing.T) {
			b, err := NewBackend(model.RendererConfig{Backend: backend, Headless: true, NoSandbox: true}, engine)
			require.NoError(t, err)
			defer b.Close()

			target := &model.Target{Name: "live", URL: "data:text/html,<html><body><svg width='10' height='10'></svg></body></html>"}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			c, err := b.Capture(ctx, target)
			require.NoError(t, err)
			assert.True(t, c.Report.Ready)
			assert.NotEmpty(t, c.PNG)
		})
	}
}
