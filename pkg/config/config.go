package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/model"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/output"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultTargetName and DefaultTargetURL describe the capture used when
	// no targets are configured
	DefaultTargetName = "buoy"
	DefaultTargetURL  = "https://www.southeastern.edu/college-of-science-and-technology/center-for-environmental-research/lakemaurepas/buoydata/"

	envPrefix = "SNAPSHOT_"
)

// Defaults returns the settings used before any file or environment is applied.
func Defaults() *model.Settings {
	return &model.Settings{
		DatabasePath: "data/snapshots.db",
		ListenAddr:   ":8080",
		Renderer: model.RendererConfig{
			Backend:           "chromium",
			TimeoutMS:         180000,
			ViewportWidth:     2400,
			ViewportHeight:    1400,
			DeviceScaleFactor: 1,
			Locale:            "en-US",
			SkipTLSVerify:     true,
			Headless:          true,
			DisableGPU:        true,
			NoSandbox:         true,
			PDF: model.PDFConfig{
				PageFormat:      "A2",
				Landscape:       true,
				MarginInches:    0.3,
				PrintBackground: true,
			},
		},
		Output: model.OutputConfig{
			Dir:         output.DefaultDir,
			Timezone:    output.DefaultTimezone,
			Prefix:      output.DefaultPrefix,
			Suffix:      output.DefaultSuffix,
			MinBytes:    output.DefaultMinBytes,
			PDFFallback: true,
		},
		Limits: model.Limits{
			MaxRecipients:        50,
			MaxConcurrentRenders: 2,
			MaxAttempts:          1,
			RetentionDays:        30,
		},
	}
}

// DefaultTarget is the hourly capture of the buoy dashboard.
func DefaultTarget() model.Target {
	return model.Target{
		Name:     DefaultTargetName,
		URL:      DefaultTargetURL,
		CronExpr: "0 * * * *",
		Timezone: output.DefaultTimezone,
	}
}

// Load builds the settings: defaults, then the YAML file at path (optional
// when empty), then a .env file next to the working directory, then
// SNAPSHOT_* environment overrides. The result is validated.
func Load(path string) (*model.Settings, error) {
	cfg := Defaults()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if len(cfg.Targets) == 0 {
		target := DefaultTarget()
		if v := os.Getenv(envPrefix + "URL"); v != "" {
			target.URL = v
		}
		cfg.Targets = append(cfg.Targets, target)
	}

	if err := model.ValidateSettings(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// loadFile decodes the YAML file over cfg, so keys absent from the file keep
// their defaults.
func loadFile(cfg *model.Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *model.Settings) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(envPrefix + name)); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v := strings.TrimSpace(os.Getenv(envPrefix + name))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = n
		return nil
	}
	flag := func(name string, dst *bool) error {
		v := strings.TrimSpace(os.Getenv(envPrefix + name))
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("DB_PATH", &cfg.DatabasePath)
	str("LISTEN", &cfg.ListenAddr)
	str("RENDERER", &cfg.Renderer.Backend)
	str("CHROMIUM_PATH", &cfg.Renderer.ChromiumPath)
	str("OUTPUT_DIR", &cfg.Output.Dir)
	str("TIMEZONE", &cfg.Output.Timezone)

	if err := num("MAX_ATTEMPTS", &cfg.Limits.MaxAttempts); err != nil {
		return err
	}
	if err := num("MAX_CONCURRENT_RENDERS", &cfg.Limits.MaxConcurrentRenders); err != nil {
		return err
	}
	if err := flag("HEADLESS", &cfg.Renderer.Headless); err != nil {
		return err
	}

	if host := os.Getenv(envPrefix + "SMTP_HOST"); host != "" {
		if cfg.SMTPConfig == nil {
			cfg.SMTPConfig = &model.SMTPConfig{Port: 587, UseTLS: true}
		}
		cfg.SMTPConfig.Host = host
	}
	if cfg.SMTPConfig != nil {
		str("SMTP_USERNAME", &cfg.SMTPConfig.Username)
		str("SMTP_PASSWORD", &cfg.SMTPConfig.Password)
		str("SMTP_FROM", &cfg.SMTPConfig.From)
		if err := num("SMTP_PORT", &cfg.SMTPConfig.Port); err != nil {
			return err
		}
	}
	return nil
}
