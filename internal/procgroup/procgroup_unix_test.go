// SPDX-License-Identifier: MIT

//go:build unix && !windows

package procgroup

import (
	"os/exec"
	"testing"
	"time"
)

func TestSetMarksProcessGroupLeader(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	Set(cmd)
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Fatal("Setpgid not set")
	}
}

func TestTerminateReapsSleepingChild(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	Set(cmd)
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	start := time.Now()
	Terminate(cmd, waitCh, 2*time.Second)
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("terminate took %v", elapsed)
	}
}

func TestTerminateAfterNaturalExit(t *testing.T) {
	cmd := exec.Command("true")
	Set(cmd)
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start true: %v", err)
	}
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	time.Sleep(100 * time.Millisecond)

	if err := Terminate(cmd, waitCh, time.Second); err != nil {
		t.Errorf("terminate after exit: %v", err)
	}
}
