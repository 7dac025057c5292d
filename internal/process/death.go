// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package process

import (
	"os"
	"syscall"
	"time"
)

const (
	// killGrace is how long a child gets to act on SIGTERM before the
	// escalation to SIGKILL.
	killGrace = 500 * time.Millisecond

	waitPollInterval = 10 * time.Millisecond
)

// Alive checks if a process with the given PID exists.
func Alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds; signal 0 probes existence
	// without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}

// Reap collects the child's exit status without blocking. reaped is false
// while the child is still running or was merely stopped. An error means
// the PID is not a waitable child of this process.
func Reap(pid int) (status syscall.WaitStatus, reaped bool, err error) {
	for {
		wpid, werr := syscall.Wait4(pid, &status, syscall.WNOHANG, nil)
		switch {
		case werr == syscall.EINTR:
			continue
		case werr != nil:
			return status, false, werr
		case wpid == pid:
			return status, true, nil
		default:
			return status, false, nil
		}
	}
}

// Wait blocks until the child is reaped, retrying on EINTR.
func Wait(pid int) (syscall.WaitStatus, error) {
	var status syscall.WaitStatus
	for {
		wpid, err := syscall.Wait4(pid, &status, 0, nil)
		switch {
		case err == syscall.EINTR:
			continue
		case err != nil:
			return status, err
		case wpid == pid:
			return status, nil
		}
	}
}

// WaitForDeath reports whether the child died and was reaped within the
// timeout. It polls with WNOHANG on a short interval, so there is no
// process-global timer and concurrent bounded waits on distinct PIDs do
// not interfere. A child already collected elsewhere (ECHILD) counts as
// dead. A timeout of zero or less performs a single check.
func WaitForDeath(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		_, reaped, err := Reap(pid)
		switch {
		case err == syscall.ECHILD:
			return true
		case err != nil:
			return false
		case reaped:
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(waitPollInterval)
	}
}

// EnsureDeath makes certain the child is dead and reaped, whatever state
// it is in. The ladder: reap in case it already exited; SIGTERM with a
// short grace; SIGKILL plus SIGCONT so even a stopped child acts on the
// kill; blocking wait until the zombie is collected.
func EnsureDeath(pid int) {
	if _, reaped, err := Reap(pid); reaped || err == syscall.ECHILD {
		return
	}

	syscall.Kill(pid, syscall.SIGTERM)
	if WaitForDeath(pid, killGrace) {
		return
	}

	syscall.Kill(pid, syscall.SIGKILL)
	syscall.Kill(pid, syscall.SIGCONT)
	Wait(pid)
}
