package readiness

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// frameContext is a frame whose nested context resolved and has a body.
type frameContext struct {
	name string
	c    Context
}

// snapshotFrames takes the one frame snapshot of a pass. Frames that mount
// later are not picked up; the widget-count step catches under-rendered pages.
func (e *Engine) snapshotFrames(ctx context.Context, page Page) ([]Frame, []FrameWarning) {
	fctx, cancel := context.WithTimeout(ctx, e.cfg.FrameResolveTimeout)
	defer cancel()

	frames, err := page.Frames(fctx)
	if err != nil {
		return nil, []FrameWarning{{Frame: "*", Step: StepFrames, Err: fmt.Errorf("enumerate frames: %w", err)}}
	}
	return frames, nil
}

// resolveFrame reaches the nested context of f and waits for its body, each
// within its own bound.
func (e *Engine) resolveFrame(ctx context.Context, f Frame) (Context, error) {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.FrameResolveTimeout)
	c, err := f.Resolve(rctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	if c == nil {
		return nil, ErrFrameUnavailable
	}
	if _, err := WaitProbe(ctx, e.clock, e.cfg.FrameBody, c, BodyPresent); err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	return c, nil
}

// checkFrames resolves every frame and runs the spinner wait in it, one
// goroutine per frame. It returns the frames usable for later steps.
func (e *Engine) checkFrames(ctx context.Context, frames []Frame, spinners Probe) ([]frameContext, []FrameWarning) {
	type slot struct {
		fc   *frameContext
		warn []FrameWarning
	}
	slots := make([]slot, len(frames))

	var g errgroup.Group
	for i, f := range frames {
		g.Go(func() error {
			name := f.Name()
			c, err := e.resolveFrame(ctx, f)
			if err != nil {
				slots[i].warn = append(slots[i].warn, FrameWarning{Frame: name, Step: StepFrames, Err: err})
				return nil
			}
			slots[i].fc = &frameContext{name: name, c: c}
			if _, err := WaitProbe(ctx, e.clock, e.cfg.FrameSpinners, c, spinners); err != nil {
				slots[i].warn = append(slots[i].warn, FrameWarning{Frame: name, Step: StepFrameSpinners, Err: err})
			}
			return nil
		})
	}
	_ = g.Wait()

	var (
		resolved []frameContext
		warnings []FrameWarning
	)
	for _, s := range slots {
		if s.fc != nil {
			resolved = append(resolved, *s.fc)
		}
		warnings = append(warnings, s.warn...)
	}
	return resolved, warnings
}

// fanOut runs check against every resolved frame concurrently and turns
// failures into warnings for step.
func fanOut(ctx context.Context, frames []frameContext, step Step, check func(context.Context, Context) error) []FrameWarning {
	warns := make([]*FrameWarning, len(frames))

	var g errgroup.Group
	for i, fc := range frames {
		g.Go(func() error {
			if err := check(ctx, fc.c); err != nil {
				warns[i] = &FrameWarning{Frame: fc.name, Step: step, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []FrameWarning
	for _, w := range warns {
		if w != nil {
			out = append(out, *w)
		}
	}
	return out
}
