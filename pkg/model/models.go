package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/readiness"
)

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Target is a dashboard page captured on a schedule
type Target struct {
	ID           int64      `json:"id" yaml:"-"`
	Name         string     `json:"name" yaml:"name"`
	URL          string     `json:"url" yaml:"url"`
	CronExpr     string     `json:"cron_expr" yaml:"cron_expr"`
	Timezone     string     `json:"timezone" yaml:"timezone"`
	FilePrefix   string     `json:"file_prefix,omitempty" yaml:"file_prefix"`
	FileSuffix   string     `json:"file_suffix,omitempty" yaml:"file_suffix"`
	Recipients   Recipients `json:"recipients" yaml:"recipients"`
	EmailSubject string     `json:"email_subject,omitempty" yaml:"email_subject"`
	EmailBody    string     `json:"email_body,omitempty" yaml:"email_body"`
	Disabled     bool       `json:"disabled" yaml:"disabled"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty" yaml:"-"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty" yaml:"-"`
	CreatedAt    time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time  `json:"updated_at" yaml:"-"`
}

// Recipients holds email recipient information
type Recipients struct {
	To  []string `json:"to" yaml:"to"`
	CC  []string `json:"cc,omitempty" yaml:"cc"`
	BCC []string `json:"bcc,omitempty" yaml:"bcc"`
}

// Run represents one capture of a target, including every retried attempt
type Run struct {
	ID            int64      `json:"id"`
	RunID         string     `json:"run_id"`
	TargetID      int64      `json:"target_id"`
	TargetName    string     `json:"target_name"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	Ready         bool       `json:"ready"`
	Widgets       int        `json:"widgets"`
	Frames        int        `json:"frames"`
	Warnings      StringList `json:"warnings,omitempty"`
	FailedStep    string     `json:"failed_step,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	ErrorText     string     `json:"error_text,omitempty"`
	PNGPath       string     `json:"png_path,omitempty"`
	PDFPath       string     `json:"pdf_path,omitempty"`
	PDFFallback   bool       `json:"pdf_fallback"` // PDF was rebuilt from the PNG
	Bytes         int64      `json:"bytes"`
	Checksum      string     `json:"checksum,omitempty"`
	EmailSent     bool       `json:"email_sent"`
	EmailError    string     `json:"email_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Settings is the complete service configuration
type Settings struct {
	DatabasePath string          `json:"database_path" yaml:"database_path"`
	ListenAddr   string          `json:"listen_addr" yaml:"listen_addr"`
	Renderer     RendererConfig  `json:"renderer" yaml:"renderer"`
	Readiness    ReadinessConfig `json:"readiness" yaml:"readiness"`
	Output       OutputConfig    `json:"output" yaml:"output"`
	Limits       Limits          `json:"limits" yaml:"limits"`
	SMTPConfig   *SMTPConfig     `json:"smtp_config,omitempty" yaml:"smtp"`
	Targets      []Target        `json:"targets" yaml:"targets"`
}

// SMTPConfig holds SMTP configuration
type SMTPConfig struct {
	Host          string `json:"host" yaml:"host"`
	Port          int    `json:"port" yaml:"port"`
	Username      string `json:"username" yaml:"username"`
	Password      string `json:"-" yaml:"password"`
	From          string `json:"from" yaml:"from"`
	UseTLS        bool   `json:"use_tls" yaml:"use_tls"`
	SkipTLSVerify bool   `json:"skip_tls_verify" yaml:"skip_tls_verify"` // Skip TLS certificate verification
}

// RendererConfig holds browser configuration
type RendererConfig struct {
	Backend           string  `json:"backend" yaml:"backend"`       // "chromium" (rod, default), "playwright" or "chromedp"
	TimeoutMS         int     `json:"timeout_ms" yaml:"timeout_ms"` // navigation timeout
	ViewportWidth     int     `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int     `json:"viewport_height" yaml:"viewport_height"`
	DeviceScaleFactor float64 `json:"device_scale_factor" yaml:"device_scale_factor"`
	UserAgent         string  `json:"user_agent" yaml:"user_agent"`
	Locale            string  `json:"locale" yaml:"locale"`
	SkipTLSVerify     bool    `json:"skip_tls_verify" yaml:"skip_tls_verify"` // ignore HTTPS errors

	ChromiumPath string `json:"chromium_path" yaml:"chromium_path"` // auto-detect if empty
	Headless     bool   `json:"headless" yaml:"headless"`
	DisableGPU   bool   `json:"disable_gpu" yaml:"disable_gpu"`
	NoSandbox    bool   `json:"no_sandbox" yaml:"no_sandbox"` // needed for Docker
	Stealth      bool   `json:"stealth" yaml:"stealth"`       // rod only

	PDF PDFConfig `json:"pdf" yaml:"pdf"`
}

// PDFConfig controls the width-fit PDF export
type PDFConfig struct {
	PageFormat      string  `json:"page_format" yaml:"page_format"` // A2, A3, A4, Letter
	Landscape       bool    `json:"landscape" yaml:"landscape"`
	MarginInches    float64 `json:"margin_inches" yaml:"margin_inches"`
	FitWidth        int     `json:"fit_width" yaml:"fit_width"` // scale = min(1, FitWidth / scrollWidth)
	PrintBackground bool    `json:"print_background" yaml:"print_background"`
}

// ReadinessConfig is the user-facing readiness tuning, in milliseconds.
// Zero values fall back to the engine defaults.
type ReadinessConfig struct {
	DOMTimeoutMS          int    `json:"dom_timeout_ms" yaml:"dom_timeout_ms"`
	DOMPollMS             int    `json:"dom_poll_ms" yaml:"dom_poll_ms"`
	NetworkIdleTimeoutMS  int    `json:"network_idle_timeout_ms" yaml:"network_idle_timeout_ms"`
	NetworkQuietMS        int    `json:"network_quiet_ms" yaml:"network_quiet_ms"`
	SettleMS              int    `json:"settle_ms" yaml:"settle_ms"`
	ScrollStepPx          int    `json:"scroll_step_px" yaml:"scroll_step_px"`
	ScrollPauseMS         int    `json:"scroll_pause_ms" yaml:"scroll_pause_ms"`
	ScrollExtraPx         int    `json:"scroll_extra_px" yaml:"scroll_extra_px"`
	ScrollFallbackPx      int    `json:"scroll_fallback_px" yaml:"scroll_fallback_px"`
	ScrollReturnPauseMS   int    `json:"scroll_return_pause_ms" yaml:"scroll_return_pause_ms"`
	FrameResolveTimeoutMS int    `json:"frame_resolve_timeout_ms" yaml:"frame_resolve_timeout_ms"`
	FrameBodyTimeoutMS    int    `json:"frame_body_timeout_ms" yaml:"frame_body_timeout_ms"`
	FramePollMS           int    `json:"frame_poll_ms" yaml:"frame_poll_ms"`                         // body, spinner and image polls inside frames
	FrameSpinnerTimeoutMS int    `json:"frame_spinner_timeout_ms" yaml:"frame_spinner_timeout_ms"` // defaults to spinner_timeout_ms
	FrameImagesTimeoutMS  int    `json:"frame_images_timeout_ms" yaml:"frame_images_timeout_ms"`   // defaults to images_timeout_ms
	SpinnerTimeoutMS      int    `json:"spinner_timeout_ms" yaml:"spinner_timeout_ms"`
	SpinnerStableMS       int    `json:"spinner_stable_ms" yaml:"spinner_stable_ms"`
	SpinnerPollMS         int    `json:"spinner_poll_ms" yaml:"spinner_poll_ms"`
	SpinnerSelector       string `json:"spinner_selector" yaml:"spinner_selector"`
	LoadingText           string `json:"loading_text" yaml:"loading_text"`
	WidgetSelector        string `json:"widget_selector" yaml:"widget_selector"`
	MinWidgets            int    `json:"min_widgets" yaml:"min_widgets"`
	WidgetStableMS        int    `json:"widget_stable_ms" yaml:"widget_stable_ms"`
	WidgetPollMS          int    `json:"widget_poll_ms" yaml:"widget_poll_ms"`
	WidgetTimeoutMS       int    `json:"widget_timeout_ms" yaml:"widget_timeout_ms"`
	ImagesTimeoutMS       int    `json:"images_timeout_ms" yaml:"images_timeout_ms"`
	ImagesPollMS          int    `json:"images_poll_ms" yaml:"images_poll_ms"`
	FinalSettleMS         int    `json:"final_settle_ms" yaml:"final_settle_ms"`
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func setMS(dst *time.Duration, v int) {
	if v > 0 {
		*dst = ms(v)
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// EngineConfig overlays the configured values on readiness.DefaultConfig.
func (r ReadinessConfig) EngineConfig() readiness.Config {
	cfg := readiness.DefaultConfig()

	setMS(&cfg.DOMComplete.Timeout, r.DOMTimeoutMS)
	setMS(&cfg.DOMComplete.Poll, r.DOMPollMS)
	setMS(&cfg.NetworkIdleTimeout, r.NetworkIdleTimeoutMS)
	setMS(&cfg.NetworkQuietPeriod, r.NetworkQuietMS)
	setMS(&cfg.SettleDelay, r.SettleMS)

	setInt(&cfg.Scroll.Step, r.ScrollStepPx)
	setMS(&cfg.Scroll.Pause, r.ScrollPauseMS)
	setInt(&cfg.Scroll.ExtraMargin, r.ScrollExtraPx)
	setInt(&cfg.Scroll.FallbackHeight, r.ScrollFallbackPx)
	setMS(&cfg.Scroll.ReturnPause, r.ScrollReturnPauseMS)

	setMS(&cfg.FrameResolveTimeout, r.FrameResolveTimeoutMS)
	setMS(&cfg.FrameBody.Timeout, r.FrameBodyTimeoutMS)
	setMS(&cfg.FrameBody.Poll, r.FramePollMS)
	setMS(&cfg.FrameSpinners.Poll, r.FramePollMS)
	setMS(&cfg.FrameImages.Poll, r.FramePollMS)

	// frames share the top-document spinner bound unless given their own
	setMS(&cfg.Spinners.Timeout, r.SpinnerTimeoutMS)
	setMS(&cfg.FrameSpinners.Timeout, r.SpinnerTimeoutMS)
	setMS(&cfg.FrameSpinners.Timeout, r.FrameSpinnerTimeoutMS)
	setMS(&cfg.Spinners.Required, r.SpinnerStableMS)
	setMS(&cfg.Spinners.Poll, r.SpinnerPollMS)
	setString(&cfg.BusySelector, r.SpinnerSelector)
	setString(&cfg.BusyText, r.LoadingText)

	setString(&cfg.WidgetSelector, r.WidgetSelector)
	setInt(&cfg.MinWidgets, r.MinWidgets)
	setMS(&cfg.Widgets.Required, r.WidgetStableMS)
	setMS(&cfg.Widgets.Poll, r.WidgetPollMS)
	setMS(&cfg.Widgets.Timeout, r.WidgetTimeoutMS)

	setMS(&cfg.Images.Timeout, r.ImagesTimeoutMS)
	setMS(&cfg.Images.Poll, r.ImagesPollMS)
	setMS(&cfg.FrameImages.Timeout, r.ImagesTimeoutMS)
	setMS(&cfg.FrameImages.Timeout, r.FrameImagesTimeoutMS)

	setMS(&cfg.FinalSettle, r.FinalSettleMS)
	return cfg
}

// OutputConfig controls where captures are written and how they are named
type OutputConfig struct {
	Dir         string `json:"dir" yaml:"dir"`
	Timezone    string `json:"timezone" yaml:"timezone"` // used for file timestamps
	Prefix      string `json:"prefix" yaml:"prefix"`
	Suffix      string `json:"suffix" yaml:"suffix"`
	MinBytes    int64  `json:"min_bytes" yaml:"min_bytes"`
	PDFFallback bool   `json:"pdf_fallback" yaml:"pdf_fallback"` // rebuild a PDF from the PNG when the export is too small
}

// Limits holds usage limits
type Limits struct {
	MaxRecipients        int      `json:"max_recipients" yaml:"max_recipients"`
	MaxConcurrentRenders int      `json:"max_concurrent_renders" yaml:"max_concurrent_renders"`
	MaxAttempts          int      `json:"max_attempts" yaml:"max_attempts"` // whole-pass attempts per run; 1 disables retries
	RetentionDays        int      `json:"retention_days" yaml:"retention_days"`
	AllowedDomains       []string `json:"allowed_domains,omitempty" yaml:"allowed_domains"` // If empty, all domains are allowed
}

// StringList is a custom type for storing string slices in SQLite
type StringList []string

// Scan implements sql.Scanner for StringList
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// Value implements driver.Valuer for StringList
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for Recipients
func (r *Recipients) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	return json.Unmarshal(bytes, r)
}

// Value implements driver.Valuer for Recipients
func (r Recipients) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// All returns every recipient address
func (r Recipients) All() []string {
	all := make([]string, 0, len(r.To)+len(r.CC)+len(r.BCC))
	all = append(all, r.To...)
	all = append(all, r.CC...)
	all = append(all, r.BCC...)
	return all
}
