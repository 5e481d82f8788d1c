package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/model"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/readiness"
)

// session is a navigated page that can be probed and exported
type session interface {
	readiness.Page

	// Screenshot returns a full-page PNG
	Screenshot(ctx context.Context) ([]byte, error)

	// PDF prints the page with the given layout
	PDF(ctx context.Context, opts pdfOptions) ([]byte, error)
}

// pdfOptions is the resolved PDF layout shared by every backend
type pdfOptions struct {
	Format          string
	PaperWidth      float64 // inches, portrait orientation
	PaperHeight     float64
	Landscape       bool
	Margin          float64 // inches, all sides
	Scale           float64
	PrintBackground bool
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

const scrollWidthJS = `() => document.documentElement.scrollWidth`

// runCapture is the capture workflow every backend runs once its page is
// navigated: readiness pass, full-page PNG, then a width-fit PDF.
func runCapture(ctx context.Context, engine *readiness.Engine, s session, target *model.Target, cfg model.PDFConfig) (*Capture, error) {
	report, err := engine.WaitUntilReady(ctx, s)
	c := &Capture{Report: report}
	if err != nil {
		log.Printf("[CAPTURE] Target '%s' not ready: %v", target.Name, err)
		return c, err
	}
	log.Printf("[CAPTURE] Target '%s' ready (widgets=%d, frames=%d, warnings=%d, elapsed=%s)",
		target.Name, report.Widgets, report.Frames, len(report.Warnings), report.Elapsed)

	png, err := s.Screenshot(ctx)
	if err != nil {
		return c, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if !bytes.HasPrefix(png, pngMagic) {
		return c, fmt.Errorf("output is not a PNG (got %d bytes)", len(png))
	}
	c.PNG = png

	opts := resolvePDFOptions(cfg)
	opts.Scale = fitScale(ctx, s, cfg.FitWidth)
	log.Printf("DEBUG: PDF layout: %s landscape=%t margin=%.2fin scale=%.3f", opts.Format, opts.Landscape, opts.Margin, opts.Scale)

	pdf, err := s.PDF(ctx, opts)
	switch {
	case err != nil:
		log.Printf("WARNING: PDF export failed for target '%s': %v", target.Name, err)
	case !bytes.HasPrefix(pdf, []byte("%PDF-")):
		log.Printf("WARNING: PDF export for target '%s' is not a PDF (got %d bytes)", target.Name, len(pdf))
	default:
		c.PDF = pdf
	}

	return c, nil
}

// fitScale shrinks wide pages so they fit fitWidth CSS pixels
func fitScale(ctx context.Context, c readiness.Context, fitWidth int) float64 {
	width := fitWidth
	var w int
	if err := c.Eval(ctx, scrollWidthJS, &w); err != nil {
		log.Printf("WARNING: Failed to read content width, assuming %dpx: %v", fitWidth, err)
	} else if w > 0 {
		width = w
	}
	return pdfScale(fitWidth, width)
}

func pdfScale(fitWidth, contentWidth int) float64 {
	if contentWidth <= 0 || fitWidth <= 0 {
		return 1
	}
	scale := math.Min(1, float64(fitWidth)/float64(contentWidth))
	// Chrome rejects scales below 0.1
	return math.Max(0.1, scale)
}

// paperSizes are portrait dimensions in inches
var paperSizes = map[string][2]float64{
	"A2":      {16.54, 23.39},
	"A3":      {11.69, 16.54},
	"A4":      {8.27, 11.69},
	"LETTER":  {8.5, 11},
	"LEGAL":   {8.5, 14},
	"TABLOID": {11, 17},
}

func resolvePDFOptions(cfg model.PDFConfig) pdfOptions {
	format := strings.ToUpper(cfg.PageFormat)
	size, ok := paperSizes[format]
	if !ok {
		log.Printf("WARNING: Unknown page format '%s', using A2", cfg.PageFormat)
		format, size = "A2", paperSizes["A2"]
	}
	return pdfOptions{
		Format:          format,
		PaperWidth:      size[0],
		PaperHeight:     size[1],
		Landscape:       cfg.Landscape,
		Margin:          cfg.MarginInches,
		Scale:           1,
		PrintBackground: cfg.PrintBackground,
	}
}

// decodeResult decodes a JSON script result into out
func decodeResult(raw []byte, out any) error {
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode script result: %w", err)
	}
	return nil
}

// lostContextMarkers are the CDP and Playwright messages for a rendering
// context that navigated away or was torn down mid-evaluation
var lostContextMarkers = []string{
	"Execution context was destroyed",
	"Cannot find context with specified id",
	"Frame was detached",
	"frame was detached",
	"Target closed",
	"Target page, context or browser has been closed",
	"Inspected target navigated or closed",
}

// classifyEvalError marks lost-context failures with readiness.ErrContextLost
func classifyEvalError(err error) error {
	if err == nil || errors.Is(err, readiness.ErrContextLost) {
		return err
	}
	msg := err.Error()
	for _, marker := range lostContextMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", readiness.ErrContextLost, err)
		}
	}
	return err
}

// runWithContext runs fn and gives up when ctx is done. Used for drivers
// whose calls do not take a context.
func runWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
