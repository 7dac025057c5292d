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

// Package signals owns the process-wide signal policy while a console is
// locked. Terminal interrupts are discarded, and the signals that drive
// the lock (VT switch mediation, child exits) are translated into events
// drained synchronously by the supervisor. No decision is ever made on
// the signal delivery path itself.
package signals

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Event is a received signal translated into what it means for the lock.
type Event int

const (
	// VTRelease means the kernel asks us to release the console
	// (SIGUSR1). The kernel blocks the switch until it is acknowledged.
	VTRelease Event = iota
	// VTAcquire means the kernel hands the console back (SIGUSR2).
	VTAcquire
	// ChildExit means a child changed state (SIGCHLD) and may need
	// reaping.
	ChildExit
)

func (e Event) String() string {
	switch e {
	case VTRelease:
		return "vt-release"
	case VTAcquire:
		return "vt-acquire"
	case ChildExit:
		return "child-exit"
	default:
		return "unknown"
	}
}

// ignored are the signals a locked console must survive: keyboard
// interrupt chords, job control, and terminal hangup.
var ignored = []os.Signal{
	syscall.SIGINT,
	syscall.SIGQUIT,
	syscall.SIGTSTP,
	syscall.SIGTTIN,
	syscall.SIGTTOU,
	syscall.SIGHUP,
}

// routed are the signals translated into Events.
var routed = []os.Signal{
	syscall.SIGUSR1,
	syscall.SIGUSR2,
	syscall.SIGCHLD,
}

// IgnoreTerminal applies just the ignore set. Authentication children call
// this so a stray ^C at the password prompt cannot kill them either.
func IgnoreTerminal() {
	signal.Ignore(ignored...)
}

// Custodian installs the lock-time signal policy and translates incoming
// signals into Events. Install and Restore are each idempotent and
// symmetric: Restore puts back the default disposition of every signal
// Install touched, and nothing else.
type Custodian struct {
	mu        sync.Mutex
	installed bool
	restored  bool

	// sigCh is deliberately buffered: a burst of VT traffic while the
	// supervisor is busy must not cost us the one SIGCHLD that matters.
	sigCh  chan os.Signal
	events chan Event
	done   chan struct{}
}

// New returns a custodian ready to Install. Each custodian is single-use:
// once restored it stays inert.
func New() *Custodian {
	return &Custodian{
		sigCh:  make(chan os.Signal, 8),
		events: make(chan Event, 8),
		done:   make(chan struct{}),
	}
}

// Events yields the translated signal stream. The channel is closed by
// Restore.
func (c *Custodian) Events() <-chan Event {
	return c.events
}

// Install applies the signal policy and starts translation. Calling it
// again is a no-op.
func (c *Custodian) Install() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.installed {
		return
	}
	c.installed = true

	signal.Ignore(ignored...)
	signal.Notify(c.sigCh, routed...)
	go c.translate()
}

// Restore undoes Install: deliveries stop, every touched signal returns to
// its default disposition, and the event stream ends. Idempotent, and a
// no-op on a custodian that was never installed.
func (c *Custodian) Restore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.installed || c.restored {
		return
	}
	c.restored = true

	signal.Stop(c.sigCh)

	all := make([]os.Signal, 0, len(ignored)+len(routed))
	all = append(all, ignored...)
	all = append(all, routed...)
	signal.Reset(all...)

	close(c.done)
}

func (c *Custodian) translate() {
	defer close(c.events)
	for {
		select {
		case sig := <-c.sigCh:
			var ev Event
			switch sig {
			case syscall.SIGUSR1:
				ev = VTRelease
			case syscall.SIGUSR2:
				ev = VTAcquire
			case syscall.SIGCHLD:
				ev = ChildExit
			default:
				continue
			}
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		case <-c.done:
			return
		}
	}
}
