package render

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/model"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/readiness"
	"github.com/playwright-community/playwright-go"
)

// PlaywrightRenderer captures pages using Playwright
type PlaywrightRenderer struct {
	config     model.RendererConfig
	engine     *readiness.Engine
	mu         sync.Mutex
	pw         *playwright.Playwright
	browser    playwright.Browser
	instanceID string
}

// NewPlaywrightRenderer creates a new Playwright renderer instance
func NewPlaywrightRenderer(config model.RendererConfig, engine *readiness.Engine) *PlaywrightRenderer {
	instanceID := generateInstanceID()
	log.Printf("DEBUG: Created new PlaywrightRenderer instance: %s", instanceID)

	return &PlaywrightRenderer{
		config:     applyDefaults(config),
		engine:     engine,
		instanceID: instanceID,
	}
}

// getBrowser initializes or returns existing browser instance
func (r *PlaywrightRenderer) getBrowser() (playwright.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	log.Printf("DEBUG: Initializing Playwright (instance: %s)", r.instanceID)

	// Set writable cache directory for Playwright
	// This is critical for containers where the home directory is read-only
	playwrightCache := os.Getenv("PLAYWRIGHT_BROWSERS_PATH")
	if playwrightCache == "" {
		playwrightCache = "/tmp/.playwright-cache"
		os.Setenv("PLAYWRIGHT_BROWSERS_PATH", playwrightCache)
		log.Printf("DEBUG: Set PLAYWRIGHT_BROWSERS_PATH to: %s", playwrightCache)
	}
	if err := os.MkdirAll(playwrightCache, 0755); err != nil {
		log.Printf("WARNING: Failed to create Playwright cache directory: %v", err)
	}

	driverPath := os.Getenv("PLAYWRIGHT_DRIVER_PATH")
	if driverPath == "" {
		driverPath = "/tmp/.playwright-driver"
		os.Setenv("PLAYWRIGHT_DRIVER_PATH", driverPath)
		log.Printf("DEBUG: Set PLAYWRIGHT_DRIVER_PATH to: %s", driverPath)
	}
	if err := os.MkdirAll(driverPath, 0755); err != nil {
		log.Printf("WARNING: Failed to create Playwright driver directory: %v", err)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start Playwright: %w\n\nPlaywright requires its Node.js driver.\nConsider using the 'chromium' backend instead by setting renderer.backend.", err)
	}
	r.pw = pw

	args := []string{
		"--disable-dev-shm-usage",
		"--no-first-run",
		"--no-default-browser-check",
		"--no-proxy-server",
		"--disable-breakpad",
	}
	if r.config.NoSandbox {
		args = append(args, "--no-sandbox", "--disable-setuid-sandbox")
	}
	if r.config.DisableGPU {
		args = append(args, "--disable-gpu")
	}
	if r.config.SkipTLSVerify {
		args = append(args, "--ignore-certificate-errors")
		log.Printf("WARNING: TLS certificate verification disabled for renderer")
	}

	launchOptions := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(r.config.Headless),
		Args:     args,
	}

	chromiumPath := r.config.ChromiumPath
	if chromiumPath == "" {
		chromiumPath = findChromeBinary()
	}
	if chromiumPath != "" {
		launchOptions.ExecutablePath = playwright.String(chromiumPath)
		log.Printf("DEBUG: Using system Chromium: %s", chromiumPath)
	} else {
		log.Printf("WARNING: No system Chromium found, will try Playwright's bundled version")
	}

	log.Printf("DEBUG: Launching Chromium browser with Playwright...")
	browser, err := pw.Chromium.Launch(launchOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to launch Chromium: %w", err)
	}

	r.browser = browser
	log.Printf("Playwright Chromium browser initialized successfully")
	return browser, nil
}

// Capture renders target with Playwright
func (r *PlaywrightRenderer) Capture(ctx context.Context, target *model.Target) (*Capture, error) {
	browser, err := r.getBrowser()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}

	browserContext, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  r.config.ViewportWidth,
			Height: r.config.ViewportHeight,
		},
		DeviceScaleFactor: playwright.Float(r.config.DeviceScaleFactor),
		UserAgent:         playwright.String(r.config.UserAgent),
		Locale:            playwright.String(r.config.Locale),
		IgnoreHttpsErrors: playwright.Bool(r.config.SkipTLSVerify),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	defer browserContext.Close()

	page, err := browserContext.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	log.Printf("[CAPTURE] Navigating to %s", target.URL)
	_, err = runWithContext(ctx, func() (playwright.Response, error) {
		return page.Goto(target.URL, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(r.config.TimeoutMS)),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", target.URL, err)
	}

	return runCapture(ctx, r.engine, &playwrightSession{playwrightContext: playwrightContext{ev: page}, page: page}, target, r.config.PDF)
}

// Close closes the browser instance
func (r *PlaywrightRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		log.Printf("Closing Playwright browser (instance: %s)", r.instanceID)
		err := r.browser.Close()
		r.browser = nil
		if err != nil {
			return err
		}
	}
	if r.pw != nil {
		log.Printf("Stopping Playwright (instance: %s)", r.instanceID)
		err := r.pw.Stop()
		r.pw = nil
		if err != nil {
			return err
		}
	}
	return nil
}

// Name returns the backend name
func (r *PlaywrightRenderer) Name() string {
	return "playwright"
}

// evaluator is implemented by both playwright.Page and playwright.Frame
type evaluator interface {
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
}

type playwrightContext struct {
	ev evaluator
}

func (c playwrightContext) Eval(ctx context.Context, js string, out any) error {
	v, err := runWithContext(ctx, func() (interface{}, error) {
		return c.ev.Evaluate(js)
	})
	if err != nil {
		return classifyEvalError(err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode script result: %w", err)
	}
	return decodeResult(raw, out)
}

type playwrightSession struct {
	playwrightContext
	page playwright.Page
}

// WaitNetworkIdle uses Playwright's own networkidle state, which has a
// fixed quiet window
func (s *playwrightSession) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	opts := playwright.PageWaitForLoadStateOptions{State: playwright.LoadStateNetworkidle}
	if deadline, ok := ctx.Deadline(); ok {
		opts.Timeout = playwright.Float(timeoutMS(time.Until(deadline)))
	}
	_, err := runWithContext(ctx, func() (struct{}, error) {
		return struct{}{}, s.page.WaitForLoadState(opts)
	})
	return err
}

// timeoutMS converts a remaining wait to Playwright milliseconds. Playwright
// reads 0 as no timeout, so anything shorter than 1ms becomes 1ms.
func timeoutMS(remaining time.Duration) float64 {
	ms := remaining.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return float64(ms)
}

func (s *playwrightSession) Frames(ctx context.Context) ([]readiness.Frame, error) {
	main := s.page.MainFrame()
	var frames []readiness.Frame
	for i, f := range s.page.Frames() {
		if f == main {
			continue
		}
		name := f.Name()
		if name == "" {
			name = f.URL()
		}
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		frames = append(frames, &playwrightFrame{frame: f, name: name})
	}
	return frames, ctx.Err()
}

func (s *playwrightSession) Screenshot(ctx context.Context) ([]byte, error) {
	return runWithContext(ctx, func() ([]byte, error) {
		return s.page.Screenshot(playwright.PageScreenshotOptions{
			FullPage: playwright.Bool(true),
			Type:     playwright.ScreenshotTypePng,
		})
	})
}

func (s *playwrightSession) PDF(ctx context.Context, opts pdfOptions) ([]byte, error) {
	margin := playwright.String(fmt.Sprintf("%.2fin", opts.Margin))
	return runWithContext(ctx, func() ([]byte, error) {
		return s.page.PDF(playwright.PagePdfOptions{
			Width:             playwright.String(fmt.Sprintf("%.2fin", opts.PaperWidth)),
			Height:            playwright.String(fmt.Sprintf("%.2fin", opts.PaperHeight)),
			Landscape:         playwright.Bool(opts.Landscape),
			PrintBackground:   playwright.Bool(opts.PrintBackground),
			PreferCSSPageSize: playwright.Bool(false),
			Margin: &playwright.Margin{
				Top:    margin,
				Bottom: margin,
				Left:   margin,
				Right:  margin,
			},
			Scale: playwright.Float(opts.Scale),
		})
	})
}

type playwrightFrame struct {
	frame playwright.Frame
	name  string
}

func (f *playwrightFrame) Name() string { return f.name }

func (f *playwrightFrame) Resolve(ctx context.Context) (readiness.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.frame.IsDetached() {
		return nil, fmt.Errorf("%w: frame %s detached", readiness.ErrFrameUnavailable, f.name)
	}
	return playwrightContext{ev: f.frame}, nil
}
