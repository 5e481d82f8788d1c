// Package readiness decides when an asynchronously rendering dashboard page
// has settled enough to be captured.
//
// The engine only observes the page: it evaluates small side-effect free
// scripts against the top document and its embedded frames, polls them
// through a stabilization waiter and folds the results into a Report. The
// one deliberate mutation is the scroll sweep, which is reset before return.
package readiness

import (
	"context"
	"time"
)

// Context is one rendering context: the top document or an embedded frame.
type Context interface {
	// Eval evaluates a JavaScript function expression such as
	// `() => document.readyState` and decodes its JSON result into out.
	// Promises are awaited. out may be nil when the result is not needed.
	Eval(ctx context.Context, js string, out any) error
}

// Page is the borrowed handle on the loaded top-level document.
type Page interface {
	Context

	// WaitNetworkIdle blocks until the driver observes no in-flight requests
	// for the quiet period, or ctx is done.
	WaitNetworkIdle(ctx context.Context, quiet time.Duration) error

	// Frames returns the embedding elements (iframes) present right now.
	Frames(ctx context.Context) ([]Frame, error)
}

// Frame is an embedding element whose nested context may not be reachable.
type Frame interface {
	// Name describes the frame for warnings (src, name or index).
	Name() string

	// Resolve returns the nested rendering context. It may block while the
	// frame is still navigating and fails with ErrFrameUnavailable when the
	// context cannot be reached.
	Resolve(ctx context.Context) (Context, error)
}
