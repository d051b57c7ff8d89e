// SPDX-License-Identifier: MIT

package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfineRelPath(t *testing.T) {
	tmpDir := t.TempDir()

	subDir := filepath.Join(tmpDir, "subdir")
	if err := os.Mkdir(subDir, 0o750); err != nil {
		t.Fatal(err)
	}
	safeFile := filepath.Join(tmpDir, "safe.txt")
	if err := os.WriteFile(safeFile, []byte("safe"), 0o600); err != nil {
		t.Fatal(err)
	}
	linkOutside := filepath.Join(tmpDir, "link_outside")
	if err := os.Symlink("..", linkOutside); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		target   string
		wantErr  bool
		wantPath string // suffix check
	}{
		{name: "valid simple file", target: "safe.txt", wantPath: "safe.txt"},
		{name: "valid not-yet-existing subdir file", target: "subdir/foo.txt", wantPath: filepath.Join("subdir", "foo.txt")},
		{name: "traversal attempt ..", target: "../outside.txt", wantErr: true},
		{name: "absolute path", target: "/etc/passwd", wantErr: true},
		{name: "symlink escape", target: "link_outside/foo", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConfineRelPath(tmpDir, tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ConfineRelPath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.wantPath != "" && !strings.HasSuffix(got, tt.wantPath) {
				t.Errorf("ConfineRelPath() = %v, want suffix %v", got, tt.wantPath)
			}
		})
	}
}

func TestIsRegularFile(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := IsRegularFile(file); err != nil {
		t.Errorf("regular file rejected: %v", err)
	}
	if err := IsRegularFile(tmpDir); err == nil {
		t.Error("directory accepted as regular file")
	}
	if err := IsRegularFile(filepath.Join(tmpDir, "missing")); err == nil {
		t.Error("missing file accepted")
	}
}
