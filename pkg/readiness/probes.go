package readiness

import (
	"context"
	"encoding/json"
	"fmt"
)

// ProbeResult is a point-in-time evaluation of one readiness dimension.
type ProbeResult struct {
	Satisfied bool   `json:"satisfied"`
	Detail    string `json:"detail"`
}

func (r ProbeResult) String() string {
	if r.Detail == "" {
		return fmt.Sprintf("satisfied=%t", r.Satisfied)
	}
	return fmt.Sprintf("satisfied=%t (%s)", r.Satisfied, r.Detail)
}

// Probe evaluates one readiness dimension against a rendering context.
// Probes never mutate the page.
type Probe func(ctx context.Context, c Context) (ProbeResult, error)

const readyStateJS = `() => document.readyState`

const bodyPresentJS = `() => document.body !== null`

const scrollHeightJS = `() => document.documentElement.scrollHeight`

// busy indicators and loading text are only counted when they have a layout box
const busyJS = `() => {
	const selector = %s;
	const needle = %s.toLowerCase();
	const rendered = el => !!el && el.getClientRects().length > 0;
	const busy = Array.from(document.querySelectorAll(selector)).filter(rendered).length;
	let text = 0;
	let sample = '';
	if (document.body) {
		const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT);
		for (let n = walker.nextNode(); n; n = walker.nextNode()) {
			const value = n.nodeValue || '';
			if (value.toLowerCase().includes(needle) && rendered(n.parentElement)) {
				text++;
				if (!sample) sample = value.trim().slice(0, 60);
			}
		}
	}
	return {busy: busy, text: text, sample: sample};
}`

const countJS = `() => document.querySelectorAll(%s).length`

// decode failures resolve through catch so a broken image never blocks
const imagesDecodedJS = `async () => {
	const imgs = Array.from(document.images || []);
	let failed = 0;
	await Promise.all(imgs.map(img => img.decode
		? img.decode().catch(() => { failed++; })
		: Promise.resolve()));
	return {total: imgs.length, failed: failed};
}`

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// DOMComplete is satisfied once document.readyState is "complete".
func DOMComplete(ctx context.Context, c Context) (ProbeResult, error) {
	var state string
	if err := c.Eval(ctx, readyStateJS, &state); err != nil {
		return ProbeResult{}, err
	}
	return ProbeResult{Satisfied: state == "complete", Detail: "readyState=" + state}, nil
}

// BodyPresent is satisfied once the context has a body element.
func BodyPresent(ctx context.Context, c Context) (ProbeResult, error) {
	var ok bool
	if err := c.Eval(ctx, bodyPresentJS, &ok); err != nil {
		return ProbeResult{}, err
	}
	if !ok {
		return ProbeResult{Detail: "no body element"}, nil
	}
	return ProbeResult{Satisfied: true, Detail: "body present"}, nil
}

type busyState struct {
	Busy   int    `json:"busy"`
	Text   int    `json:"text"`
	Sample string `json:"sample"`
}

// NoBusyIndicators builds the no-spinner / no-loading-text probe.
func NoBusyIndicators(selector, needle string) Probe {
	js := fmt.Sprintf(busyJS, jsString(selector), jsString(needle))
	return func(ctx context.Context, c Context) (ProbeResult, error) {
		var st busyState
		if err := c.Eval(ctx, js, &st); err != nil {
			return ProbeResult{}, err
		}
		if st.Busy == 0 && st.Text == 0 {
			return ProbeResult{Satisfied: true, Detail: "no busy indicators"}, nil
		}
		detail := fmt.Sprintf("busy_elements=%d loading_text_nodes=%d", st.Busy, st.Text)
		if st.Sample != "" {
			detail += fmt.Sprintf(" sample=%q", st.Sample)
		}
		return ProbeResult{Detail: detail}, nil
	}
}

// CountElements returns how many elements match selector in the context.
func CountElements(ctx context.Context, c Context, selector string) (int, error) {
	var n int
	if err := c.Eval(ctx, fmt.Sprintf(countJS, jsString(selector)), &n); err != nil {
		return 0, err
	}
	return n, nil
}

// WidgetCount builds a probe satisfied when at least min chart surfaces exist.
func WidgetCount(selector string, min int) Probe {
	return func(ctx context.Context, c Context) (ProbeResult, error) {
		n, err := CountElements(ctx, c, selector)
		if err != nil {
			return ProbeResult{}, err
		}
		return ProbeResult{Satisfied: n >= min, Detail: fmt.Sprintf("widgets=%d min=%d", n, min)}, nil
	}
}

type decodeState struct {
	Total  int `json:"total"`
	Failed int `json:"failed"`
}

// ImagesDecoded waits inside the page for every image decode to settle.
// Failed decodes count as complete.
func ImagesDecoded(ctx context.Context, c Context) (ProbeResult, error) {
	var st decodeState
	if err := c.Eval(ctx, imagesDecodedJS, &st); err != nil {
		return ProbeResult{}, err
	}
	return ProbeResult{Satisfied: true, Detail: fmt.Sprintf("images=%d failed=%d", st.Total, st.Failed)}, nil
}
