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

package vt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestModeLayout pins the Mode struct to the kernel's vt_mode layout; the
// ioctls copy raw memory, so any drift here corrupts the call.
func TestModeLayout(t *testing.T) {
	var m Mode
	assert.Equal(t, uintptr(8), unsafe.Sizeof(m))
	assert.Equal(t, uintptr(0), unsafe.Offsetof(m.Mode))
	assert.Equal(t, uintptr(1), unsafe.Offsetof(m.Waitv))
	assert.Equal(t, uintptr(2), unsafe.Offsetof(m.Relsig))
	assert.Equal(t, uintptr(4), unsafe.Offsetof(m.Acqsig))
	assert.Equal(t, uintptr(6), unsafe.Offsetof(m.Frsig))
}

func TestStateLayout(t *testing.T) {
	var st vtState
	assert.Equal(t, uintptr(6), unsafe.Sizeof(st))
	assert.Equal(t, uintptr(0), unsafe.Offsetof(st.active))
	assert.Equal(t, uintptr(2), unsafe.Offsetof(st.signal))
	assert.Equal(t, uintptr(4), unsafe.Offsetof(st.state))
}

func TestOpenPath_Missing(t *testing.T) {
	c, err := OpenPath("/nonexistent/console-device")
	require.Error(t, err)
	assert.Nil(t, c)
}

// notAConsole opens a plain file, which accepts no VT ioctls.
func notAConsole(t *testing.T) *Console {
	t.Helper()
	path := filepath.Join(t.TempDir(), "not-a-console")
	require.NoError(t, os.WriteFile(path, nil, 0600))
	c, err := OpenPath(path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConsole_IoctlsOnRegularFile(t *testing.T) {
	c := notAConsole(t)

	_, err := c.GetMode()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConsole)

	_, err = c.Active()
	assert.ErrorIs(t, err, ErrNotConsole)

	_, err = c.FindFree()
	assert.Error(t, err)
}

func TestGuard_AcquireOnNonConsoleFails(t *testing.T) {
	g := NewGuard(notAConsole(t))

	err := g.Acquire()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConsole)
	assert.False(t, g.Engaged(), "a failed acquire must not half-engage the guard")
}

func TestGuard_UnengagedIsInert(t *testing.T) {
	g := NewGuard(notAConsole(t))

	// None of these may touch the device while unengaged.
	assert.NoError(t, g.HandleRelease())
	assert.NoError(t, g.HandleAcquire())
	assert.NoError(t, g.Release())
	assert.NoError(t, g.Release())
}

func TestGuard_DenySwitchToggle(t *testing.T) {
	g := NewGuard(notAConsole(t))
	g.SetDenySwitch(true)
	g.SetDenySwitch(false)
	assert.False(t, g.Engaged())
}

// TestConsole_OnRealConsole exercises the read-only ioctls when the test
// runs somewhere with console access. It never changes modes: leaving a
// CI console in VT_PROCESS on a crash would wedge the machine.
func TestConsole_OnRealConsole(t *testing.T) {
	c, err := Open()
	if err != nil {
		t.Skipf("no console access: %v", err)
	}
	defer c.Close()

	mode, err := c.GetMode()
	if err != nil {
		t.Skipf("console does not answer VT_GETMODE: %v", err)
	}
	assert.Contains(t, []uint8{ModeAuto, ModeProcess}, mode.Mode)

	active, err := c.Active()
	require.NoError(t, err)
	assert.Greater(t, active, 0)
}
