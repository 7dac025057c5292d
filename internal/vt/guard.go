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
	"fmt"
	"sync"
	"syscall"
)

// Guard holds a console in process-controlled switch mode for the duration
// of a lock. While engaged, the kernel delivers SIGUSR1 before any switch
// away and SIGUSR2 when handing the console back; the supervisor routes
// those to HandleRelease and HandleAcquire. Release puts the saved mode
// back exactly once.
type Guard struct {
	mu      sync.Mutex
	console *Console
	saved   Mode
	engaged bool
	deny    bool
}

// NewGuard wraps an opened console. The guard does nothing until Acquire.
func NewGuard(c *Console) *Guard {
	return &Guard{console: c}
}

// SetDenySwitch controls the answer given to release requests while
// engaged: true refuses every switch away from the locked console.
func (g *Guard) SetDenySwitch(deny bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deny = deny
}

// Engaged reports whether the guard currently holds the console.
func (g *Guard) Engaged() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.engaged
}

// Acquire saves the current mode and switches the console to
// process-controlled switching with SIGUSR1/SIGUSR2 as the mediation
// signals. On failure nothing is left half-engaged. Acquiring an engaged
// guard is a no-op.
func (g *Guard) Acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.engaged {
		return nil
	}

	saved, err := g.console.GetMode()
	if err != nil {
		return fmt.Errorf("acquiring console: %w", err)
	}

	m := saved
	m.Mode = ModeProcess
	m.Relsig = int16(syscall.SIGUSR1)
	m.Acqsig = int16(syscall.SIGUSR2)
	if err := g.console.SetMode(m); err != nil {
		return fmt.Errorf("acquiring console: %w", err)
	}

	g.saved = saved
	g.engaged = true
	return nil
}

// HandleRelease answers a kernel release request. The kernel is blocked
// waiting on this answer, so it must never be delayed: permit the switch
// unless deny is set. A guard that never engaged stays silent; there is
// nothing to answer on an unguarded console.
func (g *Guard) HandleRelease() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.engaged {
		return nil
	}
	return g.console.AckRelease(!g.deny)
}

// HandleAcquire completes the kernel handing the console back to us.
func (g *Guard) HandleAcquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.engaged {
		return nil
	}
	return g.console.AckAcquire()
}

// Release restores the mode saved by Acquire. Safe to call from multiple
// teardown paths: only the first call after an Acquire does anything.
func (g *Guard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.engaged {
		return nil
	}
	g.engaged = false
	if err := g.console.SetMode(g.saved); err != nil {
		return fmt.Errorf("releasing console: %w", err)
	}
	return nil
}
