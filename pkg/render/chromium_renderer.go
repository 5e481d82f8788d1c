package render

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/model"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/readiness"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// ChromiumRenderer captures pages with Chromium driven by rod
type ChromiumRenderer struct {
	config     model.RendererConfig
	engine     *readiness.Engine
	mu         sync.Mutex
	browser    *rod.Browser
	instanceID string // Unique ID for this renderer instance
	profileDir string // Unique profile directory for this instance
}

// findChromeBinary tries to locate Chrome binary in common locations
func findChromeBinary() string {
	candidatePaths := []string{
		"./chrome-linux64/chrome",
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		"/snap/bin/chromium",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	}

	for _, path := range candidatePaths {
		if info, err := os.Stat(path); err == nil && info.Mode()&0111 != 0 {
			log.Printf("DEBUG: Found executable Chrome binary at: %s", path)
			return path
		}
	}

	log.Printf("DEBUG: No Chrome binary found in any candidate paths")
	return ""
}

// generateInstanceID creates a unique identifier for this renderer instance
func generateInstanceID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// NewChromiumRenderer creates a new rod-backed renderer
func NewChromiumRenderer(config model.RendererConfig, engine *readiness.Engine) *ChromiumRenderer {
	instanceID := generateInstanceID()
	profileDir := fmt.Sprintf("%s/.chromium-profile-%s", os.TempDir(), instanceID)

	log.Printf("DEBUG: Created new ChromiumRenderer instance: %s, profile dir: %s", instanceID, profileDir)

	return &ChromiumRenderer{
		config:     applyDefaults(config),
		engine:     engine,
		instanceID: instanceID,
		profileDir: profileDir,
	}
}

// getBrowser initializes or returns the shared browser instance
func (r *ChromiumRenderer) getBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	if err := os.MkdirAll(r.profileDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}

	l := launcher.New()

	chromePath := r.config.ChromiumPath
	if chromePath == "" {
		chromePath = findChromeBinary()
	}
	if chromePath != "" {
		l = l.Bin(chromePath)
		log.Printf("Using Chrome binary: %s", chromePath)
	} else {
		log.Printf("WARNING: No Chrome binary specified. Attempting to use system default or auto-download.")
	}

	if r.config.NoSandbox {
		l = l.Set("no-sandbox").Set("disable-setuid-sandbox")
	}
	if r.config.DisableGPU {
		l = l.Set("disable-gpu")
	}
	l = l.Set("disable-dev-shm-usage") // Use /tmp instead of /dev/shm (prevents crashes in Docker)
	l = l.Set("no-first-run")
	l = l.Set("no-default-browser-check")
	l = l.Set("disable-breakpad")
	l = l.Set("user-data-dir", r.profileDir)
	l = l.Set("window-size", fmt.Sprintf("%d,%d", r.config.ViewportWidth, r.config.ViewportHeight))
	l = l.Set("lang", r.config.Locale)
	l = l.Headless(r.config.Headless)

	if r.config.SkipTLSVerify {
		l = l.Set("ignore-certificate-errors")
		log.Printf("WARNING: TLS certificate verification disabled for renderer")
	}

	launchURL, err := l.Launch()
	if err != nil {
		if chromePath == "" {
			return nil, fmt.Errorf("failed to launch browser: %w (Chrome/Chromium not found, set renderer.chromium_path)", err)
		}
		return nil, fmt.Errorf("failed to launch browser at '%s': %w", chromePath, err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	r.browser = browser
	log.Printf("Chromium browser initialized successfully (instance: %s)", r.instanceID)
	return browser, nil
}

func (r *ChromiumRenderer) newPage(browser *rod.Browser) (*rod.Page, error) {
	if r.config.Stealth {
		return stealth.Page(browser)
	}
	return browser.Page(proto.TargetCreateTarget{})
}

// Capture renders target with rod
func (r *ChromiumRenderer) Capture(ctx context.Context, target *model.Target) (*Capture, error) {
	browser, err := r.getBrowser()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}

	page, err := r.newPage(browser)
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      r.config.UserAgent,
		AcceptLanguage: r.config.Locale,
	}); err != nil {
		return nil, fmt.Errorf("failed to set user agent: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             r.config.ViewportWidth,
		Height:            r.config.ViewportHeight,
		DeviceScaleFactor: r.config.DeviceScaleFactor,
		Mobile:            false,
	}); err != nil {
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	// navigation only waits for DOMContentLoaded; the readiness pass does the rest
	navPage := page.Context(ctx).Timeout(time.Duration(r.config.TimeoutMS) * time.Millisecond)
	waitDOM := navPage.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	log.Printf("[CAPTURE] Navigating to %s", target.URL)
	if err := navPage.Navigate(target.URL); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", target.URL, err)
	}
	waitDOM()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return runCapture(ctx, r.engine, &rodSession{rodContext: rodContext{page: page}}, target, r.config.PDF)
}

// Close closes the browser instance
func (r *ChromiumRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser == nil {
		return nil
	}

	log.Printf("Closing Chromium browser (instance: %s)", r.instanceID)
	err := r.browser.Close()
	r.browser = nil

	if r.profileDir != "" {
		os.RemoveAll(r.profileDir)
	}
	return err
}

// Name returns the backend name
func (r *ChromiumRenderer) Name() string {
	return "chromium"
}

// rodContext evaluates scripts in a page or frame document
type rodContext struct {
	page *rod.Page
}

func (c rodContext) Eval(ctx context.Context, js string, out any) error {
	res, err := c.page.Context(ctx).Eval(js)
	if err != nil {
		return classifyEvalError(err)
	}
	return decodeResult([]byte(res.Value.JSON("", "")), out)
}

// rodSession adapts a top-level rod page
type rodSession struct {
	rodContext
}

func (s *rodSession) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	wait := s.page.Context(ctx).WaitRequestIdle(quiet, nil, nil, nil)
	wait()
	return ctx.Err()
}

func (s *rodSession) Frames(ctx context.Context) ([]readiness.Frame, error) {
	elements, err := s.page.Context(ctx).Elements("iframe")
	if err != nil {
		return nil, classifyEvalError(err)
	}

	frames := make([]readiness.Frame, 0, len(elements))
	for i, el := range elements {
		frames = append(frames, &rodFrame{el: el, name: frameName(el, i)})
	}
	return frames, nil
}

func (s *rodSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (s *rodSession) PDF(ctx context.Context, opts pdfOptions) ([]byte, error) {
	f := func(x float64) *float64 { return &x }
	stream, err := s.page.Context(ctx).PDF(&proto.PagePrintToPDF{
		Landscape:         opts.Landscape,
		PrintBackground:   opts.PrintBackground,
		PreferCSSPageSize: false,
		PaperWidth:        f(opts.PaperWidth),
		PaperHeight:       f(opts.PaperHeight),
		MarginTop:         f(opts.Margin),
		MarginBottom:      f(opts.Margin),
		MarginLeft:        f(opts.Margin),
		MarginRight:       f(opts.Margin),
		Scale:             f(opts.Scale),
	})
	if err != nil {
		return nil, err
	}
	return io.ReadAll(stream)
}

// rodFrame is an iframe element whose document is resolved lazily
type rodFrame struct {
	el   *rod.Element
	name string
}

func (f *rodFrame) Name() string { return f.name }

func (f *rodFrame) Resolve(ctx context.Context) (readiness.Context, error) {
	frame, err := f.el.Context(ctx).Frame()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", readiness.ErrFrameUnavailable, err)
	}
	return rodContext{page: frame}, nil
}

// frameName prefers the src attribute, then name, then the index
func frameName(el *rod.Element, index int) string {
	for _, attr := range []string{"src", "name"} {
		if v, err := el.Attribute(attr); err == nil && v != nil && *v != "" {
			return *v
		}
	}
	return fmt.Sprintf("#%d", index)
}
