// SPDX-License-Identifier: MIT

package procgroup

import (
	"syscall"
	"testing"
	"time"
)

func TestTerminateNilSafe(t *testing.T) {
	if err := Terminate(nil, nil, time.Second); err != nil {
		t.Errorf("nil cmd: %v", err)
	}
}

func TestKillNilSafe(t *testing.T) {
	if err := Kill(nil, syscall.SIGTERM); err != nil {
		t.Errorf("nil cmd: %v", err)
	}
}
