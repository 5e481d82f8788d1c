package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Step identifies one stage of the readiness protocol.
type Step string

const (
	StepDOMComplete   Step = "dom_complete"
	StepNetworkIdle   Step = "network_idle"
	StepSettle        Step = "settle"
	StepScrollSweep   Step = "scroll_sweep"
	StepFrames        Step = "frames"
	StepFrameSpinners Step = "frame_spinners"
	StepSpinners      Step = "spinners"
	StepWidgets       Step = "widget_count"
	StepImages        Step = "images"
	StepFrameImages   Step = "frame_images"
	StepFinalSettle   Step = "final_settle"
)

// Report is the immutable outcome of one readiness pass.
type Report struct {
	PassID        string        `json:"pass_id"`
	Ready         bool          `json:"ready"`
	Warnings      []string      `json:"warnings,omitempty"`
	FailedStep    Step          `json:"failed_step,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Widgets       int           `json:"widgets"`
	Frames        int           `json:"frames"`
	StartedAt     time.Time     `json:"started_at"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Engine runs readiness passes. It holds no per-page state and may be
// reused for sequential or concurrent passes on different pages.
type Engine struct {
	cfg    Config
	clock  Clock
	logger Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger replaces the default Grafana SDK logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New validates cfg and returns an Engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid readiness config: %w", err)
	}
	e := &Engine{cfg: cfg, clock: RealClock(), logger: defaultLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// WaitUntilReady runs one pass with cfg on the wall clock.
func WaitUntilReady(ctx context.Context, page Page, cfg Config) (*Report, error) {
	e, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return e.WaitUntilReady(ctx, page)
}

// pass accumulates the state of one WaitUntilReady call.
type pass struct {
	report   *Report
	warnings []FrameWarning
}

func (p *pass) warn(ws ...FrameWarning) {
	p.warnings = append(p.warnings, ws...)
}

// WaitUntilReady blocks until the page is ready for capture or a mandatory
// step fails. The report is always returned; on failure the error is a
// *StepError naming the step. Nothing is retried within a pass.
func (e *Engine) WaitUntilReady(ctx context.Context, page Page) (*Report, error) {
	p := &pass{report: &Report{PassID: uuid.NewString(), StartedAt: e.clock.Now()}}
	log := e.logger

	log.Debug("Readiness pass started", "pass", p.report.PassID)
	err := e.run(ctx, page, p)

	r := p.report
	r.Elapsed = e.clock.Now().Sub(r.StartedAt)
	for _, w := range p.warnings {
		r.Warnings = append(r.Warnings, w.String())
		log.Warn("Frame check did not settle", "pass", r.PassID, "frame", w.Frame, "step", string(w.Step), "error", w.Err)
	}
	recordFrameWarnings(len(p.warnings))

	if err != nil {
		var se *StepError
		if !errors.As(err, &se) {
			se = &StepError{Step: "unknown", Err: err}
		}
		r.FailedStep = se.Step
		r.FailureReason = fmt.Sprintf("%s: %v", se.Step, se.Err)
		recordPass(r)
		log.Error("Readiness pass failed", "pass", r.PassID, "step", string(se.Step), "reason", r.FailureReason, "elapsed", r.Elapsed)
		return r, se
	}

	r.Ready = true
	recordPass(r)
	log.Info("Readiness pass succeeded", "pass", r.PassID, "widgets", r.Widgets, "frames", r.Frames, "warnings", len(r.Warnings), "elapsed", r.Elapsed)
	return r, nil
}

func (e *Engine) run(ctx context.Context, page Page, p *pass) error {
	cfg := e.cfg
	log := e.logger

	// 1. DOM completion
	if _, err := WaitProbe(ctx, e.clock, cfg.DOMComplete, page, DOMComplete); err != nil {
		return &StepError{Step: StepDOMComplete, Err: err}
	}

	// 2. network quiescence
	if err := e.waitNetworkIdle(ctx, page); err != nil {
		return &StepError{Step: StepNetworkIdle, Err: err}
	}

	// 3. rendering churn right after the data arrives
	if err := e.clock.Sleep(ctx, cfg.SettleDelay); err != nil {
		return &StepError{Step: StepSettle, Err: err}
	}

	// 4. mount scroll-triggered widgets
	if err := e.scrollSweep(ctx, page); err != nil {
		return &StepError{Step: StepScrollSweep, Err: err}
	}

	// 5. frames are best-effort
	spinners := NoBusyIndicators(cfg.BusySelector, cfg.BusyText)
	frames, ws := e.snapshotFrames(ctx, page)
	p.warn(ws...)
	resolved, ws := e.checkFrames(ctx, frames, spinners)
	p.warn(ws...)
	p.report.Frames = len(resolved)
	log.Debug("Frames checked", "pass", p.report.PassID, "found", len(frames), "resolved", len(resolved))

	// 6. top-document spinners
	if _, err := WaitProbe(ctx, e.clock, cfg.Spinners, page, spinners); err != nil {
		return &StepError{Step: StepSpinners, Err: err}
	}

	// 7. chart surfaces drawn and stable
	n, err := WaitCount(ctx, e.clock, cfg.Widgets, page, cfg.WidgetSelector, cfg.MinWidgets)
	if err != nil {
		return &StepError{Step: StepWidgets, Err: err}
	}
	p.report.Widgets = n

	// 8. images: mandatory on top, best-effort in frames
	if _, err := WaitProbe(ctx, e.clock, cfg.Images, page, ImagesDecoded); err != nil {
		return &StepError{Step: StepImages, Err: err}
	}
	p.warn(fanOut(ctx, resolved, StepFrameImages, func(ctx context.Context, c Context) error {
		_, err := WaitProbe(ctx, e.clock, cfg.FrameImages, c, ImagesDecoded)
		return err
	})...)

	// 9.
	if err := e.clock.Sleep(ctx, cfg.FinalSettle); err != nil {
		return &StepError{Step: StepFinalSettle, Err: err}
	}
	return nil
}

func (e *Engine) waitNetworkIdle(ctx context.Context, page Page) error {
	start := e.clock.Now()
	nctx, cancel := context.WithTimeout(ctx, e.cfg.NetworkIdleTimeout)
	defer cancel()

	if err := page.WaitNetworkIdle(nctx, e.cfg.NetworkQuietPeriod); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("wait cancelled: %w", ctx.Err())
		}
		return &TimeoutError{LastValue: "network busy", Elapsed: e.clock.Now().Sub(start), Cause: err}
	}
	return nil
}

// scrollSweep walks the viewport from the top to past the content height and
// back. Evaluation failures are tolerated; only cancellation aborts.
func (e *Engine) scrollSweep(ctx context.Context, page Page) error {
	sc := e.cfg.Scroll

	height := sc.FallbackHeight
	var h int
	if err := page.Eval(ctx, scrollHeightJS, &h); err != nil {
		e.logger.Warn("Could not read content height, using fallback", "fallback", sc.FallbackHeight, "error", err)
	} else if h > 0 {
		height = h
	}

	for y := 0; y < height+sc.ExtraMargin; y += sc.Step {
		if err := page.Eval(ctx, scrollToJS(y), nil); err != nil {
			e.logger.Debug("Scroll step failed", "y", y, "error", err)
		}
		if err := e.clock.Sleep(ctx, sc.Pause); err != nil {
			return err
		}
	}

	if err := page.Eval(ctx, scrollToJS(0), nil); err != nil {
		e.logger.Warn("Could not reset scroll position", "error", err)
	}
	return e.clock.Sleep(ctx, sc.ReturnPause)
}

func scrollToJS(y int) string {
	return fmt.Sprintf("() => window.scrollTo(0, %d)", y)
}
