package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rendis/calltrace/internal/render"
	"github.com/rendis/calltrace/internal/validation"
	"github.com/rendis/calltrace/pkg/schema"
	"github.com/rendis/calltrace/pkg/tracer"
)

// Config holds calltrace's CLI configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	OutputDir     string `json:"output_dir"`
	DBPath        string `json:"db_path"`
	LogLevel      string `json:"log_level"`
	LogFormat     string `json:"log_format"`
	LoopThreshold int    `json:"loop_threshold"`
	PlantUML      string `json:"plantuml"`
	RenderTimeout string `json:"render_timeout"`
	Archive       bool   `json:"archive"`
}

func defaultConfig(dir string) Config {
	return Config{
		OutputDir:     "reports",
		DBPath:        filepath.Join(dir, "traces.db"),
		LogLevel:      "info",
		LogFormat:     "text",
		LoopThreshold: tracer.DefaultLoopThreshold,
		PlantUML:      render.DefaultCommand,
		RenderTimeout: "60s",
		Archive:       true,
	}
}

// calltraceDir is $CALLTRACE_HOME, or ~/.calltrace.
func calltraceDir() string {
	if v := os.Getenv("CALLTRACE_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".calltrace"
	}
	return filepath.Join(home, ".calltrace")
}

func settingsPath(dir string) string {
	return filepath.Join(dir, "settings.json")
}

// loadConfig layers defaults, dir/settings.json and CALLTRACE_* env vars. A
// settings file that fails validation is skipped as a whole and reported as a
// CONFIG_ERROR alongside a usable config.
func loadConfig(dir string, validator validation.Validator) (Config, error) {
	cfg := defaultConfig(dir)

	// Layer 2: settings.json (ignore if missing).
	settingsErr := applySettings(&cfg, settingsPath(dir), validator)

	// Layer 3: env vars override.
	if v := os.Getenv("CALLTRACE_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("CALLTRACE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CALLTRACE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CALLTRACE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("CALLTRACE_LOOP_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			cfg.LoopThreshold = n
		}
	}
	if v := os.Getenv("CALLTRACE_PLANTUML"); v != "" {
		cfg.PlantUML = v
	}
	if v := os.Getenv("CALLTRACE_RENDER_TIMEOUT"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			cfg.RenderTimeout = v
		}
	}
	if v := os.Getenv("CALLTRACE_ARCHIVE"); v != "" {
		cfg.Archive = v == "true" || v == "1"
	}

	return cfg, settingsErr
}

func applySettings(cfg *Config, path string, v validation.Validator) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeConfig, "read %s: %v", path, err).WithCause(err)
	}

	if err := v.ValidateSettings(data); err != nil {
		cfgErr := schema.NewErrorf(schema.ErrCodeConfig, "ignoring %s: %v", path, err).WithCause(err)
		var te *schema.TraceError
		if errors.As(err, &te) {
			cfgErr = cfgErr.WithDetails(te.Details)
		}
		return cfgErr
	}

	next := *cfg
	if err := json.Unmarshal(data, &next); err != nil {
		return schema.NewErrorf(schema.ErrCodeConfig, "ignoring %s: %v", path, err).WithCause(err)
	}
	*cfg = next
	return nil
}

// renderTimeout parses RenderTimeout, falling back to the renderer default.
func (c Config) renderTimeout() time.Duration {
	d, err := time.ParseDuration(c.RenderTimeout)
	if err != nil || d <= 0 {
		return render.DefaultTimeout
	}
	return d
}
