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

package plugin

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/lollipopman/vlock/internal/log"
)

func init() {
	Register(newVTPlugin())
}

// newVT carries the borrowed terminal across the lock: which VT we came
// from, which one we allocated, and the original stdio descriptors.
type newVT struct {
	previous int
	borrowed int
	tty      *os.File
	savedFDs [3]int
}

// newVTPlugin switches to a freshly allocated virtual terminal before the
// lock engages and switches back afterwards. Moving to a fresh VT while
// the others stay switchable would be pointless, so it requires the all
// plugin, which also orders the display lock ahead of the move.
func newVTPlugin() *Plugin {
	n := &newVT{savedFDs: [3]int{-1, -1, -1}}
	return &Plugin{
		Name:     "new",
		Requires: []string{"all"},
		Hooks: map[string]func(*HookContext) error{
			HookStart: n.start,
			HookEnd:   n.end,
		},
	}
}

func (n *newVT) start(ctx *HookContext) error {
	if ctx.Console == nil {
		return errors.New("no console device for VT allocation")
	}

	previous, err := ctx.Console.Active()
	if err != nil {
		return fmt.Errorf("reading active console: %w", err)
	}

	borrowed, err := ctx.Console.FindFree()
	if err != nil {
		return fmt.Errorf("allocating console: %w", err)
	}

	path := fmt.Sprintf("/dev/tty%d", borrowed)
	tty, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}

	if err := ctx.Console.Activate(borrowed); err != nil {
		tty.Close()
		return fmt.Errorf("activating console %d: %w", borrowed, err)
	}
	if err := ctx.Console.WaitActive(borrowed); err != nil {
		tty.Close()
		return fmt.Errorf("waiting for console %d: %w", borrowed, err)
	}

	if err := n.rebindStdio(tty); err != nil {
		tty.Close()
		return fmt.Errorf("rebinding stdio to %s: %w", path, err)
	}

	n.previous = previous
	n.borrowed = borrowed
	n.tty = tty
	ctx.Logger.Debug("switched to fresh console",
		"console", borrowed, "previous", previous)
	return nil
}

func (n *newVT) end(ctx *HookContext) error {
	if n.tty == nil {
		return nil
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if ctx.Console != nil {
		record(ctx.Console.Activate(n.previous))
		record(ctx.Console.WaitActive(n.previous))
	}

	record(n.restoreStdio())
	record(n.tty.Close())
	n.tty = nil

	// The borrowed VT may refuse disallocation while another process
	// still holds it open; that is not worth failing the unlock over.
	if ctx.Console != nil {
		if err := ctx.Console.Disallocate(n.borrowed); err != nil {
			ctx.Logger.Debug("could not disallocate console",
				"console", n.borrowed, log.Error(err))
		}
	}
	return firstErr
}

// rebindStdio points descriptors 0-2 at the borrowed terminal, keeping
// close-on-exec duplicates of the originals for the switch back.
func (n *newVT) rebindStdio(tty *os.File) error {
	fd := int(tty.Fd())
	for i := 0; i < 3; i++ {
		saved, err := unix.FcntlInt(uintptr(i), unix.F_DUPFD_CLOEXEC, 3)
		if err != nil {
			n.restoreStdio()
			return fmt.Errorf("saving descriptor %d: %w", i, err)
		}
		n.savedFDs[i] = saved
		if err := unix.Dup3(fd, i, 0); err != nil {
			n.restoreStdio()
			return fmt.Errorf("redirecting descriptor %d: %w", i, err)
		}
	}
	return nil
}

// restoreStdio puts the saved descriptors back onto 0-2 and closes the
// duplicates. Safe to call with a partial save.
func (n *newVT) restoreStdio() error {
	var firstErr error
	for i := 0; i < 3; i++ {
		if n.savedFDs[i] < 0 {
			continue
		}
		if err := unix.Dup3(n.savedFDs[i], i, 0); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("restoring descriptor %d: %w", i, err)
		}
		unix.Close(n.savedFDs[i])
		n.savedFDs[i] = -1
	}
	return firstErr
}
