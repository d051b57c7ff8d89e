// SPDX-License-Identifier: MIT

// Package fs provides filesystem confinement helpers. Download and upload
// paths supplied over the HTTP surface are resolved through these before any
// file is created or read.
package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfineRelPath resolves relTarget against root and guarantees the result
// stays inside root, following symlinks. The target itself does not need to
// exist; its closest existing ancestor is resolved instead.
func ConfineRelPath(root, relTarget string) (string, error) {
	if filepath.IsAbs(relTarget) {
		return "", fmt.Errorf("absolute path not allowed: %s", relTarget)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}

	joined := filepath.Join(realRoot, relTarget)
	resolved, err := resolveExistingPrefix(joined)
	if err != nil {
		return "", err
	}

	if err := ensureWithin(realRoot, resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

// ConfineAbsPath verifies targetAbs stays inside rootAbs after symlink
// resolution.
func ConfineAbsPath(rootAbs, targetAbs string) (string, error) {
	realRoot, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", rootAbs, err)
	}
	resolved, err := resolveExistingPrefix(targetAbs)
	if err != nil {
		return "", err
	}
	if err := ensureWithin(realRoot, resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

// IsRegularFile returns an error unless path exists and is a regular file.
func IsRegularFile(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", path)
	}
	return nil
}

// resolveExistingPrefix resolves symlinks for the longest existing ancestor
// of path, then re-joins the non-existing remainder.
func resolveExistingPrefix(path string) (string, error) {
	remainder := ""
	current := filepath.Clean(path)
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve %s: %w", current, err)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

func ensureWithin(realRoot, target string) error {
	rel, err := filepath.Rel(realRoot, target)
	if err != nil {
		return fmt.Errorf("relativize %s against %s: %w", target, realRoot, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes root: %s", target)
	}
	return nil
}
