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

// Package terminal controls the locked terminal: attribute snapshots
// restored on every exit path, echo suppression around password reads, and
// prompts bounded by a real deadline.
package terminal

import (
	"fmt"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// State is a saved set of terminal attributes.
type State struct {
	fd    int
	state *term.State
}

// Snapshot records the full attribute set of the terminal on fd so it can
// be put back after the lock, whatever happened in between.
func Snapshot(fd int) (*State, error) {
	st, err := term.GetState(fd)
	if err != nil {
		return nil, fmt.Errorf("saving terminal state: %w", err)
	}
	return &State{fd: fd, state: st}, nil
}

// Restore puts the snapshot back. Restoring a nil snapshot is a no-op, so
// teardown paths can call it unconditionally.
func (s *State) Restore() error {
	if s == nil || s.state == nil {
		return nil
	}
	if err := term.Restore(s.fd, s.state); err != nil {
		return fmt.Errorf("restoring terminal state: %w", err)
	}
	return nil
}

// IsTerminal reports whether fd is attached to a terminal.
func IsTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

// DisableKeyboardSignals clears ISIG on the terminal so interrupt chords
// stop generating signals at the line discipline while locked. The
// snapshot taken before the lock brings it back.
func DisableKeyboardSignals(fd int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("reading terminal attributes: %w", err)
	}
	t.Lflag &^= unix.ISIG
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("disabling keyboard signals: %w", err)
	}
	return nil
}

// echoOff suppresses input echo on fd and returns the undo function.
// Everything else about the terminal is left alone.
func echoOff(fd int) (func() error, error) {
	old, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("reading terminal attributes: %w", err)
	}

	hidden := *old
	hidden.Lflag &^= unix.ECHO
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &hidden); err != nil {
		return nil, fmt.Errorf("disabling echo: %w", err)
	}

	return func() error {
		if err := unix.IoctlSetTermios(fd, unix.TCSETS, old); err != nil {
			return fmt.Errorf("restoring echo: %w", err)
		}
		return nil
	}, nil
}
