// SPDX-License-Identifier: MIT

// Package config holds the engine configuration and its loading rules.
// Precedence is ENV (RABBITIZE_*) > YAML file > built-in defaults; CLI flags
// are bound on top by cmd/rabbitize.
package config

import "time"

// Stability configures the visual settle detector.
type Stability struct {
	Enabled          bool    `yaml:"enabled"`
	WaitTime         float64 `yaml:"waitTime"`         // target settle window, seconds
	Sensitivity      float64 `yaml:"sensitivity"`      // 0..1 frame delta threshold
	Interval         int     `yaml:"interval"`         // poll interval, ms
	Timeout          int     `yaml:"timeout"`          // hard cap, ms
	DownscaleWidth   int     `yaml:"downscaleWidth"`   // px
	TimeoutThreshold int     `yaml:"timeoutThreshold"` // consecutive timeouts before auto-disable
}

// Video configures recording and post-processing.
type Video struct {
	ProcessVideo bool `yaml:"processVideo"` // webm -> mp4 + cover + 4x
	ClipSegments bool `yaml:"clipSegments"` // scene-split per-command clips
	Width        int  `yaml:"width"`
	Height       int  `yaml:"height"`
}

// Server configures the HTTP facade.
type Server struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	RateLimitRPS   int      `yaml:"rateLimitRPS"`
}

// Config is the full engine configuration.
type Config struct {
	ClientID  string `yaml:"clientId"`
	TestID    string `yaml:"testId"`
	SessionID string `yaml:"sessionId"` // optional deterministic id for batch runs

	RunsDir     string `yaml:"runsDir"` // root of the artifact tree
	ShowOverlay bool   `yaml:"showOverlay"`
	ExitOnEnd   bool   `yaml:"exitOnEnd"`

	// Preview refresh in whole seconds; 0 means the fastest (~220ms) cadence.
	PreviewRefresh int `yaml:"previewRefresh"`

	Stability Stability `yaml:"stability"`
	Video     Video     `yaml:"video"`
	Server    Server    `yaml:"server"`

	BatchURL      string   `yaml:"batchUrl"`
	BatchCommands string   `yaml:"batchCommands"` // JSON array of command arrays
	UploadTargets []string `yaml:"uploadTargets"`

	LogLevel string `yaml:"logLevel"`

	// rabbit-eyes collaborator
	EyesURL    string `yaml:"eyesUrl"`
	EyesAPIKey string `yaml:"-"` // env only, never persisted

	FFmpegBin string `yaml:"ffmpegBin"`

	// EventSinkDir is the badger directory for the write-only event log;
	// empty disables the sink.
	EventSinkDir string `yaml:"eventSinkDir"`
}

// InactivityTimeout is the one-shot auto-end timer, reset by every execute.
const InactivityTimeout = 15 * time.Minute

// InteractiveSessionID is the reserved session id with special video and
// time-overlay behavior.
const InteractiveSessionID = "interactive"

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		RunsDir:     "rabbitize-runs",
		ShowOverlay: true,
		Stability: Stability{
			Enabled:          true,
			WaitTime:         1.0,
			Sensitivity:      0.02,
			Interval:         250,
			Timeout:          15000,
			DownscaleWidth:   160,
			TimeoutThreshold: 1,
		},
		Video: Video{
			Width:  1920,
			Height: 1080,
		},
		Server: Server{
			Port:         8080,
			RateLimitRPS: 50,
		},
		LogLevel:  "info",
		FFmpegBin: "ffmpeg",
	}
}
