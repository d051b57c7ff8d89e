// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoaderPrecedenceEnvOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
clientId: file-client
stability:
  enabled: true
  waitTime: 2.5
  sensitivity: 0.1
  interval: 500
  timeout: 9000
  downscaleWidth: 160
  timeoutThreshold: 3
server:
  port: 3037
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RABBITIZE_CLIENT_ID", "env-client")
	t.Setenv("RABBITIZE_STABILITY_WAIT", "4")

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ClientID != "env-client" {
		t.Errorf("expected env to win, got clientId=%q", cfg.ClientID)
	}
	if cfg.Stability.WaitTime != 4 {
		t.Errorf("expected env stability wait 4, got %v", cfg.Stability.WaitTime)
	}
	if cfg.Stability.TimeoutThreshold != 3 {
		t.Errorf("expected file timeoutThreshold 3, got %d", cfg.Stability.TimeoutThreshold)
	}
	if cfg.Server.Port != 3037 {
		t.Errorf("expected file port 3037, got %d", cfg.Server.Port)
	}
}

func TestLoaderRejectsBadSensitivity(t *testing.T) {
	t.Setenv("RABBITIZE_STABILITY_SENSITIVITY", "1.5")
	_, err := NewLoader("").Load()
	if err == nil {
		t.Fatal("expected validation error for sensitivity > 1")
	}
}

func TestParseHelpersFallBack(t *testing.T) {
	t.Setenv("RABBITIZE_TEST_INT", "not-a-number")
	if got := ParseInt("RABBITIZE_TEST_INT", 42); got != 42 {
		t.Errorf("expected fallback 42, got %d", got)
	}
	t.Setenv("RABBITIZE_TEST_BOOL", "yep")
	if got := ParseBool("RABBITIZE_TEST_BOOL", true); got != true {
		t.Errorf("expected fallback true, got %v", got)
	}
}
