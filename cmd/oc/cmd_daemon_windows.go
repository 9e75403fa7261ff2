//go:build windows

package main

import (
	"os"
	"syscall"
)

// isDaemonAlive is not supported on Windows.
func isDaemonAlive(_ int) bool {
	return false
}

// daemonSysProcAttr returns nil on Windows (no process group detachment).
func daemonSysProcAttr() *syscall.SysProcAttr {
	return nil
}

// terminateDaemon kills the process; Windows has no graceful signal.
func terminateDaemon(pid int) error {
	return killDaemon(pid)
}

// killDaemon forcefully ends the daemon process.
func killDaemon(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
