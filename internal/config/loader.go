// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader resolves the effective configuration with precedence
// ENV > file > defaults.
type Loader struct {
	path string
}

// NewLoader returns a loader for the optional YAML file at path.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load builds the effective configuration.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", l.path, err)
		}
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays RABBITIZE_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	cfg.ClientID = ParseString("RABBITIZE_CLIENT_ID", cfg.ClientID)
	cfg.TestID = ParseString("RABBITIZE_TEST_ID", cfg.TestID)
	cfg.SessionID = ParseString("SESSION_ID", ParseString("RABBITIZE_SESSION_ID", cfg.SessionID))
	cfg.RunsDir = ParseString("RABBITIZE_RUNS_DIR", cfg.RunsDir)
	cfg.ShowOverlay = ParseBool("RABBITIZE_SHOW_OVERLAY", cfg.ShowOverlay)
	cfg.ExitOnEnd = ParseBool("RABBITIZE_EXIT_ON_END", cfg.ExitOnEnd)
	cfg.PreviewRefresh = ParseInt("RABBITIZE_PREVIEW_REFRESH", cfg.PreviewRefresh)
	cfg.LogLevel = ParseString("LOG_LEVEL", cfg.LogLevel)
	cfg.FFmpegBin = ParseString("RABBITIZE_FFMPEG", cfg.FFmpegBin)
	cfg.EventSinkDir = ParseString("RABBITIZE_EVENT_SINK_DIR", cfg.EventSinkDir)

	cfg.Server.Port = ParseInt("PORT", cfg.Server.Port)
	cfg.Server.RateLimitRPS = ParseInt("RABBITIZE_RATE_LIMIT_RPS", cfg.Server.RateLimitRPS)
	if origins := ParseString("RABBITIZE_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.Server.AllowedOrigins = splitAndTrim(origins)
	}

	cfg.Stability.Enabled = ParseBool("RABBITIZE_STABILITY_DETECTION", cfg.Stability.Enabled)
	cfg.Stability.WaitTime = ParseFloat("RABBITIZE_STABILITY_WAIT", cfg.Stability.WaitTime)
	cfg.Stability.Sensitivity = ParseFloat("RABBITIZE_STABILITY_SENSITIVITY", cfg.Stability.Sensitivity)
	cfg.Stability.Interval = ParseInt("RABBITIZE_STABILITY_INTERVAL", cfg.Stability.Interval)
	cfg.Stability.Timeout = ParseInt("RABBITIZE_STABILITY_TIMEOUT", cfg.Stability.Timeout)
	cfg.Stability.TimeoutThreshold = ParseInt("RABBITIZE_STABILITY_TIMEOUT_THRESHOLD", cfg.Stability.TimeoutThreshold)

	cfg.Video.ProcessVideo = ParseBool("RABBITIZE_PROCESS_VIDEO", cfg.Video.ProcessVideo)
	cfg.Video.ClipSegments = ParseBool("RABBITIZE_CLIP_SEGMENTS", cfg.Video.ClipSegments)

	cfg.EyesURL = ParseString("RABBITIZE_EYES_URL", cfg.EyesURL)
	cfg.EyesAPIKey = ParseString("GEMINI_API_KEY", cfg.EyesAPIKey)
}

// Validate rejects configurations the engine cannot run with.
func Validate(cfg Config) error {
	if cfg.Stability.Sensitivity < 0 || cfg.Stability.Sensitivity > 1 {
		return fmt.Errorf("stability sensitivity %v out of range [0,1]", cfg.Stability.Sensitivity)
	}
	if cfg.Stability.Interval <= 0 {
		return fmt.Errorf("stability interval must be positive, got %d", cfg.Stability.Interval)
	}
	if cfg.Stability.Timeout <= 0 {
		return fmt.Errorf("stability timeout must be positive, got %d", cfg.Stability.Timeout)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Server.Port)
	}
	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
