// SPDX-License-Identifier: MIT

// Package procgroup runs child processes (ffmpeg, mostly) in their own
// process group so a stuck encoder can be reaped with all of its children.
package procgroup

import (
	"os/exec"
	"syscall"
	"time"
)

// Terminate stops a process group gracefully. SIGTERM first, then SIGKILL
// after grace. waitCh must carry the result of cmd.Wait; its error is
// returned. Nil commands are a no-op.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = Kill(cmd, syscall.SIGTERM)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
		_ = Kill(cmd, syscall.SIGKILL)
		// SIGKILL frees a blocked Wait; always drain the channel.
		return <-waitCh
	}
}
