package render

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/model"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/readiness"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// ChromedpRenderer captures pages over the DevTools protocol with chromedp
type ChromedpRenderer struct {
	config      model.RendererConfig
	engine      *readiness.Engine
	mu          sync.Mutex
	browserCtx  context.Context
	cancelAlloc context.CancelFunc
	cancelBrows context.CancelFunc
	instanceID  string
}

// NewChromedpRenderer creates a new chromedp renderer instance
func NewChromedpRenderer(config model.RendererConfig, engine *readiness.Engine) *ChromedpRenderer {
	instanceID := generateInstanceID()
	log.Printf("DEBUG: Created new ChromedpRenderer instance: %s", instanceID)

	return &ChromedpRenderer{
		config:     applyDefaults(config),
		engine:     engine,
		instanceID: instanceID,
	}
}

func (r *ChromedpRenderer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(r.config.UserAgent),
		chromedp.WindowSize(r.config.ViewportWidth, r.config.ViewportHeight),
		chromedp.Flag("lang", r.config.Locale),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-breakpad", true),
		// keep cross-origin iframes in-process so their frames show up in the frame tree
		chromedp.Flag("disable-site-isolation-trials", true),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
	)

	chromePath := r.config.ChromiumPath
	if chromePath == "" {
		chromePath = findChromeBinary()
	}
	if chromePath != "" {
		opts = append(opts, chromedp.ExecPath(chromePath))
		log.Printf("Using Chrome binary: %s", chromePath)
	}
	if !r.config.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if r.config.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if r.config.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if r.config.SkipTLSVerify {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
		log.Printf("WARNING: TLS certificate verification disabled for renderer")
	}
	return opts
}

// getBrowser starts the browser once and returns its context
func (r *ChromedpRenderer) getBrowser() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCtx != nil {
		return r.browserCtx, nil
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), r.allocatorOptions()...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// the first Run launches the browser
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	r.browserCtx = browserCtx
	r.cancelAlloc = cancelAlloc
	r.cancelBrows = cancelBrowser
	log.Printf("chromedp browser initialized successfully (instance: %s)", r.instanceID)
	return browserCtx, nil
}

// Capture renders target with chromedp
func (r *ChromedpRenderer) Capture(ctx context.Context, target *model.Target) (*Capture, error) {
	browserCtx, err := r.getBrowser()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}

	tabCtx, closeTab := chromedp.NewContext(browserCtx)
	defer closeTab()

	s := &chromedpSession{tab: tabCtx, tracker: newRequestTracker()}
	s.tracker.listen(tabCtx)

	err = chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.EmulateViewport(int64(r.config.ViewportWidth), int64(r.config.ViewportHeight),
			chromedp.EmulateScale(r.config.DeviceScaleFactor)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, time.Duration(r.config.TimeoutMS)*time.Millisecond)
	defer cancel()

	log.Printf("[CAPTURE] Navigating to %s", target.URL)
	if err := s.run(navCtx, chromedp.Navigate(target.URL)); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", target.URL, err)
	}

	return runCapture(ctx, r.engine, s, target, r.config.PDF)
}

// Close shuts the browser down
func (r *ChromedpRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCtx == nil {
		return nil
	}

	log.Printf("Closing chromedp browser (instance: %s)", r.instanceID)
	err := chromedp.Cancel(r.browserCtx)
	r.cancelBrows()
	r.cancelAlloc()
	r.browserCtx = nil
	return err
}

// Name returns the backend name
func (r *ChromedpRenderer) Name() string {
	return "chromedp"
}

// requestTracker keeps the in-flight requests of one tab by request ID.
// A redirect reuses its ID, so it stays a single entry.
type requestTracker struct {
	mu           sync.Mutex
	inFlight     map[network.RequestID]struct{}
	lastActivity time.Time
}

func newRequestTracker() *requestTracker {
	return &requestTracker{
		inFlight:     make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
	}
}

func (t *requestTracker) listen(ctx context.Context) {
	chromedp.ListenTarget(ctx, t.handle)
}

func (t *requestTracker) handle(ev any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.inFlight[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(t.inFlight, e.RequestID)
	case *network.EventLoadingFailed:
		delete(t.inFlight, e.RequestID)
	default:
		return
	}
	t.lastActivity = time.Now()
}

func (t *requestTracker) idleFor(quiet time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inFlight) == 0 && time.Since(t.lastActivity) >= quiet
}

// chromedpContext evaluates in the main world or an isolated world of a frame
type chromedpContext struct {
	s         *chromedpSession
	contextID runtime.ExecutionContextID // zero for the top document
}

func (c chromedpContext) Eval(ctx context.Context, js string, out any) error {
	var raw []byte
	err := c.s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := runtime.Evaluate("(" + js + ")()").
			WithAwaitPromise(true).
			WithReturnByValue(true)
		if c.contextID != 0 {
			params = params.WithContextID(c.contextID)
		}

		res, exp, err := params.Do(ctx)
		if err != nil {
			return err
		}
		if exp != nil {
			return fmt.Errorf("script exception: %s", exp.Text)
		}
		if res != nil {
			raw = []byte(res.Value)
		}
		return nil
	}))
	if err != nil {
		return classifyEvalError(err)
	}
	return decodeResult(raw, out)
}

type chromedpSession struct {
	tab     context.Context
	tracker *requestTracker
}

// run executes actions on the tab, bounded by ctx
func (s *chromedpSession) run(ctx context.Context, actions ...chromedp.Action) error {
	callCtx, cancel := context.WithCancel(s.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(callCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *chromedpSession) Eval(ctx context.Context, js string, out any) error {
	return chromedpContext{s: s}.Eval(ctx, js, out)
}

func (s *chromedpSession) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.tracker.idleFor(quiet) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *chromedpSession) Frames(ctx context.Context) ([]readiness.Frame, error) {
	var tree *page.FrameTree
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, classifyEvalError(err)
	}

	var frames []readiness.Frame
	var walk func(children []*page.FrameTree)
	walk = func(children []*page.FrameTree) {
		for _, child := range children {
			if child.Frame != nil {
				frames = append(frames, &chromedpFrame{s: s, frame: child.Frame, index: len(frames)})
			}
			walk(child.ChildFrames)
		}
	}
	if tree != nil {
		walk(tree.ChildFrames)
	}
	return frames, nil
}

func (s *chromedpSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// quality 100 selects PNG
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *chromedpSession) PDF(ctx context.Context, opts pdfOptions) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, _, err = page.PrintToPDF().
			WithLandscape(opts.Landscape).
			WithPrintBackground(opts.PrintBackground).
			WithPaperWidth(opts.PaperWidth).
			WithPaperHeight(opts.PaperHeight).
			WithMarginTop(opts.Margin).
			WithMarginBottom(opts.Margin).
			WithMarginLeft(opts.Margin).
			WithMarginRight(opts.Margin).
			WithScale(opts.Scale).
			Do(ctx)
		return err
	}))
	return buf, err
}

type chromedpFrame struct {
	s     *chromedpSession
	frame *cdp.Frame
	index int
}

func (f *chromedpFrame) Name() string {
	switch {
	case f.frame.URL != "":
		return f.frame.URL
	case f.frame.Name != "":
		return f.frame.Name
	default:
		return fmt.Sprintf("#%d", f.index)
	}
}

// Resolve creates an isolated world in the frame; it shares the frame's DOM
func (f *chromedpFrame) Resolve(ctx context.Context) (readiness.Context, error) {
	var id runtime.ExecutionContextID
	err := f.s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		id, err = page.CreateIsolatedWorld(f.frame.ID).WithWorldName("snapshot-readiness").Do(ctx)
		return err
	}))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", readiness.ErrFrameUnavailable, err)
	}
	return chromedpContext{s: f.s, contextID: id}, nil
}
