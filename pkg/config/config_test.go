package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshots.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "chromium", cfg.Renderer.Backend)
	assert.Equal(t, 2400, cfg.Renderer.ViewportWidth)
	assert.Equal(t, 1400, cfg.Renderer.ViewportHeight)
	assert.Equal(t, "America/Chicago", cfg.Output.Timezone)
	assert.True(t, cfg.Output.PDFFallback)
	assert.Nil(t, cfg.SMTPConfig)

	require.Len(t, cfg.Targets, 1)
	assert.Equal(t, DefaultTargetName, cfg.Targets[0].Name)
	assert.Equal(t, DefaultTargetURL, cfg.Targets[0].URL)
	assert.Equal(t, "0 * * * *", cfg.Targets[0].CronExpr)
}

func TestLoadFileKeepsUnsetDefaults(t *testing.T) {
	path := writeConfig(t, `
renderer:
  backend: playwright
  headless: false
readiness:
  min_widgets: 8
output:
  dir: /tmp/captures
targets:
  - name: river
    url: https://dashboards.example.com/d/river
    cron_expr: "*/15 * * * *"
    timezone: UTC
    recipients:
      to: [ops@example.com]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "playwright", cfg.Renderer.Backend)
	assert.False(t, cfg.Renderer.Headless)
	assert.True(t, cfg.Renderer.NoSandbox, "unset keys keep their defaults")
	assert.Equal(t, 2400, cfg.Renderer.ViewportWidth)
	assert.Equal(t, 8, cfg.Readiness.EngineConfig().MinWidgets)
	assert.Equal(t, "/tmp/captures", cfg.Output.Dir)
	assert.Equal(t, "buoy", cfg.Output.Prefix)

	require.Len(t, cfg.Targets, 1)
	assert.Equal(t, "river", cfg.Targets[0].Name)
	assert.Equal(t, []string{"ops@example.com"}, cfg.Targets[0].Recipients.To)
}

func TestLoadReadinessKeys(t *testing.T) {
	path := writeConfig(t, `
readiness:
  frame_body_timeout_ms: 4000
  frame_poll_ms: 100
  frame_spinner_timeout_ms: 6000
  frame_images_timeout_ms: 7000
  dom_poll_ms: 50
  spinner_poll_ms: 300
  images_poll_ms: 400
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	engine := cfg.Readiness.EngineConfig()
	assert.Equal(t, 4*time.Second, engine.FrameBody.Timeout)
	assert.Equal(t, 100*time.Millisecond, engine.FrameBody.Poll)
	assert.Equal(t, 6*time.Second, engine.FrameSpinners.Timeout)
	assert.Equal(t, 7*time.Second, engine.FrameImages.Timeout)
	assert.Equal(t, 50*time.Millisecond, engine.DOMComplete.Poll)
	assert.Equal(t, 300*time.Millisecond, engine.Spinners.Poll)
	assert.Equal(t, 400*time.Millisecond, engine.Images.Poll)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SNAPSHOT_RENDERER", "chromedp")
	t.Setenv("SNAPSHOT_MAX_ATTEMPTS", "3")
	t.Setenv("SNAPSHOT_URL", "https://dashboards.example.com/d/override")
	t.Setenv("SNAPSHOT_SMTP_HOST", "smtp.example.com")
	t.Setenv("SNAPSHOT_SMTP_FROM", "snapshots@example.com")
	t.Setenv("SNAPSHOT_SMTP_PORT", "2525")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "chromedp", cfg.Renderer.Backend)
	assert.Equal(t, 3, cfg.Limits.MaxAttempts)
	assert.Equal(t, "https://dashboards.example.com/d/override", cfg.Targets[0].URL)

	require.NotNil(t, cfg.SMTPConfig)
	assert.Equal(t, "smtp.example.com", cfg.SMTPConfig.Host)
	assert.Equal(t, "snapshots@example.com", cfg.SMTPConfig.From)
	assert.Equal(t, 2525, cfg.SMTPConfig.Port)
	assert.True(t, cfg.SMTPConfig.UseTLS)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "renderer: [unclosed"))
		assert.Error(t, err)
	})

	t.Run("bad env number", func(t *testing.T) {
		t.Setenv("SNAPSHOT_MAX_ATTEMPTS", "three")
		_, err := Load("")
		assert.ErrorContains(t, err, "SNAPSHOT_MAX_ATTEMPTS")
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("SNAPSHOT_RENDERER", "webkit")
		_, err := Load("")
		assert.ErrorContains(t, err, "unknown renderer backend")
	})

	t.Run("invalid target", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
targets:
  - name: broken
    url: not-a-url
    cron_expr: "0 * * * *"
`))
		assert.ErrorContains(t, err, "broken")
	})
}
