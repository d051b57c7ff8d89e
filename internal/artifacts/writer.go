// SPDX-License-Identifier: MIT

package artifacts

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// WriteFileAtomic writes data to path via a temp file and atomic rename.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", path, err)
	}
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending file for %s: %w", path, err)
	}
	defer pending.Cleanup() //nolint:errcheck // cleanup of an already-committed file is a no-op

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}

// WriteJSONAtomic marshals v with indentation and writes it atomically.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return WriteFileAtomic(path, data)
}

// CopyFile copies src into dstDir keeping the base name. Used to mirror
// browser downloads into the session root.
func CopyFile(src, dstDir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close() //nolint:errcheck

	dst := filepath.Join(dstDir, filepath.Base(src))
	pending, err := renameio.NewPendingFile(dst)
	if err != nil {
		return "", fmt.Errorf("create pending copy %s: %w", dst, err)
	}
	defer pending.Cleanup() //nolint:errcheck

	if _, err := io.Copy(pending, in); err != nil {
		return "", fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("finalize copy %s: %w", dst, err)
	}
	return dst, nil
}
