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

// Package vt mediates Linux virtual-terminal switching. A Console wraps
// the VT ioctl family on an opened console device; a Guard takes the
// console into process-controlled switch mode and answers the kernel's
// release and acquire requests.
package vt

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Request codes from <linux/vt.h>.
const (
	vtOpenQry     = 0x5600
	vtGetMode     = 0x5601
	vtSetMode     = 0x5602
	vtGetState    = 0x5603
	vtRelDisp     = 0x5605
	vtActivate    = 0x5606
	vtWaitActive  = 0x5607
	vtDisallocate = 0x5608
)

const (
	// ModeAuto lets the kernel switch consoles on its own.
	ModeAuto = 0x00
	// ModeProcess makes the kernel request each switch via signals.
	ModeProcess = 0x01

	// ackAcquire is the VT_ACKACQ argument to VT_RELDISP.
	ackAcquire = 0x02
)

// Mode mirrors the kernel's vt_mode structure.
type Mode struct {
	Mode   uint8
	Waitv  uint8
	Relsig int16
	Acqsig int16
	Frsig  int16
}

// vtState mirrors the kernel's vt_stat structure.
type vtState struct {
	active uint16
	signal uint16
	state  uint16
}

// consoleDevices are tried in order by Open.
var consoleDevices = []string{"/dev/tty0", "/dev/console"}

// ErrNotConsole marks a device that does not speak the VT ioctls.
var ErrNotConsole = errors.New("terminal is not a virtual console")

// Console is an opened VT device.
type Console struct {
	f    *os.File
	path string
}

// Open opens the first available console device. This usually needs
// root or membership in the tty group.
func Open() (*Console, error) {
	var lastErr error
	for _, path := range consoleDevices {
		c, err := OpenPath(path)
		if err == nil {
			return c, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// OpenPath opens a specific console device.
func OpenPath(path string) (*Console, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening console: %w", err)
	}
	return &Console{f: f, path: path}, nil
}

// Path returns the device path this console was opened from.
func (c *Console) Path() string { return c.path }

// File exposes the underlying device, for callers that need to bind it to
// standard descriptors.
func (c *Console) File() *os.File { return c.f }

// Close releases the device.
func (c *Console) Close() error { return c.f.Close() }

func (c *Console) ioctlPtr(req uintptr, p unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, c.f.Fd(), req, uintptr(p))
	if errno != 0 {
		return mapNotConsole(errno)
	}
	return nil
}

func (c *Console) ioctlInt(req uint, val int) error {
	if err := unix.IoctlSetInt(int(c.f.Fd()), req, val); err != nil {
		return mapNotConsole(err)
	}
	return nil
}

// mapNotConsole folds the errnos a non-VT device produces into
// ErrNotConsole so callers can branch with errors.Is.
func mapNotConsole(err error) error {
	if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("%w: %v", ErrNotConsole, err)
	}
	return err
}

// GetMode reads the current switch mode (VT_GETMODE).
func (c *Console) GetMode() (Mode, error) {
	var m Mode
	if err := c.ioctlPtr(vtGetMode, unsafe.Pointer(&m)); err != nil {
		return Mode{}, fmt.Errorf("VT_GETMODE on %s: %w", c.path, err)
	}
	return m, nil
}

// SetMode installs a switch mode (VT_SETMODE).
func (c *Console) SetMode(m Mode) error {
	if err := c.ioctlPtr(vtSetMode, unsafe.Pointer(&m)); err != nil {
		return fmt.Errorf("VT_SETMODE on %s: %w", c.path, err)
	}
	return nil
}

// Active returns the number of the VT currently displayed (VT_GETSTATE).
func (c *Console) Active() (int, error) {
	var st vtState
	if err := c.ioctlPtr(vtGetState, unsafe.Pointer(&st)); err != nil {
		return 0, fmt.Errorf("VT_GETSTATE on %s: %w", c.path, err)
	}
	return int(st.active), nil
}

// FindFree returns the number of the first unallocated VT (VT_OPENQRY).
func (c *Console) FindFree() (int, error) {
	n, err := unix.IoctlGetInt(int(c.f.Fd()), vtOpenQry)
	if err != nil {
		return 0, fmt.Errorf("VT_OPENQRY on %s: %w", c.path, mapNotConsole(err))
	}
	if n <= 0 {
		return 0, errors.New("no free virtual terminal")
	}
	return n, nil
}

// Activate asks the kernel to display VT n (VT_ACTIVATE).
func (c *Console) Activate(n int) error {
	if err := c.ioctlInt(vtActivate, n); err != nil {
		return fmt.Errorf("VT_ACTIVATE %d on %s: %w", n, c.path, err)
	}
	return nil
}

// WaitActive blocks until VT n is displayed (VT_WAITACTIVE), retrying when
// a signal interrupts the wait.
func (c *Console) WaitActive(n int) error {
	for {
		err := unix.IoctlSetInt(int(c.f.Fd()), vtWaitActive, n)
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return fmt.Errorf("VT_WAITACTIVE %d on %s: %w", n, c.path, mapNotConsole(err))
	}
}

// Disallocate frees the kernel structures of an unused VT (VT_DISALLOCATE).
func (c *Console) Disallocate(n int) error {
	if err := c.ioctlInt(vtDisallocate, n); err != nil {
		return fmt.Errorf("VT_DISALLOCATE %d on %s: %w", n, c.path, err)
	}
	return nil
}

// AckRelease answers a pending release request (VT_RELDISP): permit lets
// the switch happen, otherwise it is refused and the console stays put.
func (c *Console) AckRelease(permit bool) error {
	arg := 0
	if permit {
		arg = 1
	}
	if err := c.ioctlInt(vtRelDisp, arg); err != nil {
		return fmt.Errorf("VT_RELDISP %d on %s: %w", arg, c.path, err)
	}
	return nil
}

// AckAcquire completes an acquisition handed to us by the kernel.
func (c *Console) AckAcquire() error {
	if err := c.ioctlInt(vtRelDisp, ackAcquire); err != nil {
		return fmt.Errorf("VT_RELDISP ack on %s: %w", c.path, err)
	}
	return nil
}
