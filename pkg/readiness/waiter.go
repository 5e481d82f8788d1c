package readiness

import (
	"context"
	"fmt"
	"time"
)

// WaitStable polls sample every w.Poll until it returns a value accepted by
// accept that stays unchanged for at least w.Required.
//
// The candidate-stable timestamp is the time of the first sample of the
// current run of equal, accepted values. Any change, rejection or sampling
// error ends the run. Once w.Timeout has elapsed without success the wait
// fails with a *TimeoutError holding the last observed value.
func WaitStable[T comparable](ctx context.Context, clk Clock, w Window, sample func(context.Context) (T, error), accept func(T) bool) (T, error) {
	start := clk.Now()

	var (
		last     T
		inRun    bool
		since    time.Time
		observed = "none"
		lastErr  error
	)

	for {
		// a hung evaluation is cut off at the step deadline
		budget := w.Timeout - clk.Now().Sub(start)
		if budget < w.Poll {
			budget = w.Poll
		}
		sctx, cancel := context.WithTimeout(ctx, budget)
		v, err := sample(sctx)
		cancel()

		if ctx.Err() != nil {
			return last, fmt.Errorf("wait cancelled: %w", ctx.Err())
		}

		now := clk.Now()
		switch {
		case err != nil:
			lastErr = err
			inRun = false
		case !accept(v):
			lastErr = nil
			observed = fmt.Sprint(v)
			inRun = false
			last = v
		default:
			lastErr = nil
			observed = fmt.Sprint(v)
			if !inRun || v != last {
				since = now
				inRun = true
			}
			last = v
		}

		if inRun && now.Sub(since) >= w.Required {
			return v, nil
		}

		elapsed := now.Sub(start)
		if elapsed >= w.Timeout {
			return last, &TimeoutError{LastValue: observed, Elapsed: elapsed, Cause: lastErr}
		}

		pause := w.Poll
		if rest := w.Timeout - elapsed; rest < pause {
			pause = rest
		}
		if err := clk.Sleep(ctx, pause); err != nil {
			return last, fmt.Errorf("wait cancelled: %w", err)
		}
	}
}

// WaitProbe holds a probe satisfied (with an unchanged result) for w.Required.
func WaitProbe(ctx context.Context, clk Clock, w Window, c Context, p Probe) (ProbeResult, error) {
	return WaitStable(ctx, clk, w,
		func(ctx context.Context) (ProbeResult, error) { return p(ctx, c) },
		func(r ProbeResult) bool { return r.Satisfied },
	)
}

// WaitCount waits until the number of elements matching selector is at
// least min and unchanged for w.Required.
func WaitCount(ctx context.Context, clk Clock, w Window, c Context, selector string, min int) (int, error) {
	return WaitStable(ctx, clk, w,
		func(ctx context.Context) (int, error) { return CountElements(ctx, c, selector) },
		func(n int) bool { return n >= min },
	)
}
