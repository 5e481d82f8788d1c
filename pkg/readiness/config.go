package readiness

import (
	"fmt"
	"time"
)

// Window governs how long a probe must hold before it is accepted and how
// long the wait may take overall.
type Window struct {
	Required time.Duration // value must hold unchanged this long; 0 accepts the first good sample
	Poll     time.Duration // interval between samples
	Timeout  time.Duration // overall bound for the wait
}

// ScrollConfig drives the lazy-load scroll sweep.
type ScrollConfig struct {
	Step           int           // pixels per step
	Pause          time.Duration // pause at each step
	ExtraMargin    int           // pixels swept past the reported content height
	FallbackHeight int           // used when the content height cannot be read
	ReturnPause    time.Duration // pause after returning to the top
}

// Config parameterizes one readiness pass.
type Config struct {
	DOMComplete Window

	NetworkIdleTimeout time.Duration
	NetworkQuietPeriod time.Duration

	SettleDelay time.Duration
	Scroll      ScrollConfig

	FrameResolveTimeout time.Duration
	FrameBody           Window
	FrameSpinners       Window
	FrameImages         Window

	Spinners Window
	// BusySelector matches loading indicators; only rendered matches count.
	BusySelector string
	// BusyText is searched case-insensitively in rendered text nodes.
	BusyText string

	Widgets        Window
	WidgetSelector string
	MinWidgets     int

	Images Window

	FinalSettle time.Duration
}

// DefaultConfig returns the defaults tuned for dashboards with lazy widgets.
func DefaultConfig() Config {
	return Config{
		DOMComplete:        Window{Required: 0, Poll: 100 * time.Millisecond, Timeout: 60 * time.Second},
		NetworkIdleTimeout: 30 * time.Second,
		NetworkQuietPeriod: 500 * time.Millisecond,
		SettleDelay:        2 * time.Second,
		Scroll: ScrollConfig{
			Step:           450,
			Pause:          250 * time.Millisecond,
			ExtraMargin:    2500,
			FallbackHeight: 4000,
			ReturnPause:    800 * time.Millisecond,
		},
		FrameResolveTimeout: 10 * time.Second,
		FrameBody:           Window{Required: 0, Poll: 200 * time.Millisecond, Timeout: 15 * time.Second},
		FrameSpinners:       Window{Required: 0, Poll: 200 * time.Millisecond, Timeout: 45 * time.Second},
		FrameImages:         Window{Required: 0, Poll: 200 * time.Millisecond, Timeout: 45 * time.Second},
		Spinners:            Window{Required: 500 * time.Millisecond, Poll: 200 * time.Millisecond, Timeout: 45 * time.Second},
		BusySelector:        `.loading, .spinner, .lds-ring, .lds-spinner, [aria-busy="true"]`,
		BusyText:            "loading",
		Widgets:             Window{Required: 2 * time.Second, Poll: 200 * time.Millisecond, Timeout: 45 * time.Second},
		WidgetSelector:      "svg, canvas",
		MinWidgets:          4,
		Images:              Window{Required: 0, Poll: 200 * time.Millisecond, Timeout: 45 * time.Second},
		FinalSettle:         500 * time.Millisecond,
	}
}

// Validate rejects configurations that would make a wait unbounded or spin.
func (c Config) Validate() error {
	windows := map[string]Window{
		"dom_complete":   c.DOMComplete,
		"frame_body":     c.FrameBody,
		"frame_spinners": c.FrameSpinners,
		"frame_images":   c.FrameImages,
		"spinners":       c.Spinners,
		"widgets":        c.Widgets,
		"images":         c.Images,
	}
	for name, w := range windows {
		if w.Timeout <= 0 {
			return fmt.Errorf("%s: timeout must be positive", name)
		}
		if w.Poll <= 0 {
			return fmt.Errorf("%s: poll interval must be positive", name)
		}
		if w.Required < 0 {
			return fmt.Errorf("%s: required duration cannot be negative", name)
		}
	}
	if c.NetworkIdleTimeout <= 0 {
		return fmt.Errorf("network_idle: timeout must be positive")
	}
	if c.FrameResolveTimeout <= 0 {
		return fmt.Errorf("frame_resolve: timeout must be positive")
	}
	if c.Scroll.Step <= 0 {
		return fmt.Errorf("scroll: step must be positive")
	}
	if c.MinWidgets < 0 {
		return fmt.Errorf("widgets: minimum count cannot be negative")
	}
	if c.WidgetSelector == "" || c.BusySelector == "" {
		return fmt.Errorf("widget and busy selectors are required")
	}
	return nil
}
