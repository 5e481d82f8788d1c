package readiness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock advances only when slept on.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) advanceTo(t time.Time) {
	c.mu.Lock()
	if t.After(c.now) {
		c.now = t
	}
	c.mu.Unlock()
}

func (c *fakeClock) elapsed() time.Duration { return c.Now().Sub(epoch) }

// decodeInto mimics a driver decoding a JSON script result.
func decodeInto(v any, out any) error {
	if out == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// docState describes a document as a function of elapsed fake time.
type docState struct {
	readyAt    time.Duration
	busyUntil  time.Duration
	widgets    func(t time.Duration) int
	height     int
	heightErr  error
	imagesSeen int
}

func (s docState) eval(t time.Duration, js string) (any, error) {
	switch {
	case js == readyStateJS:
		if t >= s.readyAt {
			return "complete", nil
		}
		return "interactive", nil
	case js == bodyPresentJS:
		return true, nil
	case js == scrollHeightJS:
		if s.heightErr != nil {
			return nil, s.heightErr
		}
		return s.height, nil
	case js == imagesDecodedJS:
		return decodeState{Total: s.imagesSeen}, nil
	case strings.HasPrefix(js, "() => window.scrollTo"):
		return nil, nil
	case strings.Contains(js, "getClientRects"):
		if t < s.busyUntil {
			return busyState{Busy: 1, Text: 1, Sample: "Loading..."}, nil
		}
		return busyState{}, nil
	case strings.Contains(js, "querySelectorAll(") && strings.HasSuffix(js, ".length"):
		if s.widgets == nil {
			return 0, nil
		}
		return s.widgets(t), nil
	}
	return nil, fmt.Errorf("unexpected script: %s", js)
}

type fakePage struct {
	clk   *fakeClock
	state docState

	networkIdleAt time.Duration
	networkErr    error

	frames    []Frame
	framesErr error

	// interrupt, when set, can fail a script before the document answers
	interrupt func(t time.Duration, js string) error

	mu      sync.Mutex
	scripts []string
}

func (p *fakePage) Eval(ctx context.Context, js string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.scripts = append(p.scripts, js)
	p.mu.Unlock()

	t := p.clk.elapsed()
	if p.interrupt != nil {
		if err := p.interrupt(t, js); err != nil {
			return err
		}
	}
	v, err := p.state.eval(t, js)
	if err != nil {
		return err
	}
	return decodeInto(v, out)
}

func (p *fakePage) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	if p.networkErr != nil {
		return p.networkErr
	}
	p.clk.advanceTo(epoch.Add(p.networkIdleAt))
	return ctx.Err()
}

func (p *fakePage) Frames(ctx context.Context) ([]Frame, error) {
	return p.frames, p.framesErr
}

func (p *fakePage) count(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.scripts {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

// staticContext is a settled frame document.
type staticContext struct {
	state docState
}

func (c staticContext) Eval(ctx context.Context, js string, out any) error {
	v, err := c.state.eval(time.Hour, js)
	if err != nil {
		return err
	}
	return decodeInto(v, out)
}

// contextFunc answers every script with a function of its source.
type contextFunc func(js string) (any, error)

func (f contextFunc) Eval(ctx context.Context, js string, out any) error {
	v, err := f(js)
	if err != nil {
		return err
	}
	return decodeInto(v, out)
}

type fakeFrame struct {
	name string
	c    Context
	err  error
}

func (f fakeFrame) Name() string { return f.name }

func (f fakeFrame) Resolve(ctx context.Context) (Context, error) {
	return f.c, f.err
}

// testConfig keeps the default windows but drops the fixed pauses so
// scenario timings are easy to reason about.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SettleDelay = 0
	cfg.Scroll.Pause = 0
	cfg.Scroll.ReturnPause = 0
	cfg.Scroll.ExtraMargin = 0
	cfg.FinalSettle = 0
	return cfg
}

func newTestEngine(cfg Config, clk Clock) *Engine {
	e, err := New(cfg, WithClock(clk), WithLogger(NopLogger()))
	if err != nil {
		panic(err)
	}
	return e
}

var errEval = errors.New("evaluation failed")
