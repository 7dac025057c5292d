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

// Package supervisor drives a console lock from preparation through
// authentication to teardown. The supervisor process itself never reads
// a password: each attempt runs in a forked child so a crash in the
// authentication stack cannot leave the console unlocked or the
// terminal broken.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/lollipopman/vlock/internal/config"
	"github.com/lollipopman/vlock/internal/log"
	"github.com/lollipopman/vlock/internal/plugin"
	"github.com/lollipopman/vlock/internal/process"
	"github.com/lollipopman/vlock/internal/signals"
	"github.com/lollipopman/vlock/internal/terminal"
	"github.com/lollipopman/vlock/internal/vt"
	vlockerrors "github.com/lollipopman/vlock/pkg/errors"
)

const (
	// attemptInterval paces authentication attempts so a wedged retry
	// loop cannot hammer the authentication stack.
	attemptInterval = time.Second

	// childPollInterval backstops SIGCHLD delivery: the kernel coalesces
	// the signal, so the child is also checked on a timer.
	childPollInterval = 200 * time.Millisecond
)

// State names the supervisor's position in the lock lifecycle.
type State int

const (
	StateInit State = iota
	StatePrepared
	StateLocked
	StateAuthenticating
	StateUnlocking
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePrepared:
		return "prepared"
	case StateLocked:
		return "locked"
	case StateAuthenticating:
		return "authenticating"
	case StateUnlocking:
		return "unlocking"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Supervisor owns everything a lock acquires: terminal attributes, the
// signal policy, the console guard, and the plugin set. Run gives all of
// it back through a single teardown that executes exactly once, on every
// exit path.
type Supervisor struct {
	cfg    *config.Config
	logger *slog.Logger
	engine *plugin.Engine

	state State
	user  string

	termSnap  *terminal.State
	custodian *signals.Custodian
	console   *vt.Console
	guard     *vt.Guard
	hookCtx   *plugin.HookContext

	limiter *rate.Limiter
	launch  func(process.ChildSpec) (*process.Child, error)
	out     io.Writer

	teardownOnce sync.Once
}

// New creates a supervisor for the given configuration. The logger is
// shared with the plugin engine; pass nil to build one from the
// environment.
func New(cfg *config.Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = log.New(log.FromEnv())
	}
	return &Supervisor{
		cfg:     cfg,
		logger:  log.WithComponent(logger, "supervisor"),
		engine:  plugin.NewEngine(logger),
		state:   StateInit,
		limiter: rate.NewLimiter(rate.Every(attemptInterval), 1),
		launch:  process.Launch,
		out:     os.Stderr,
	}
}

// User returns the account that will be asked to unlock. Valid after
// Prepare.
func (s *Supervisor) User() string { return s.user }

// Prepare resolves the user to authenticate and the plugin set: the
// configured plugins first, then the ones given on the command line.
// Nothing has been locked yet, so failures here are plain setup errors.
func (s *Supervisor) Prepare(pluginNames []string) error {
	if s.state != StateInit {
		return errors.New("supervisor: already prepared")
	}

	user, err := config.CurrentUser()
	if err != nil {
		return err
	}
	s.user = user

	names := make([]string, 0, len(s.cfg.Plugins)+len(pluginNames))
	names = append(names, s.cfg.Plugins...)
	names = append(names, pluginNames...)
	for _, name := range names {
		if err := s.engine.Load(name); err != nil {
			return &vlockerrors.SetupError{Stage: "plugins", Cause: err}
		}
	}
	if err := s.engine.Resolve(); err != nil {
		return &vlockerrors.SetupError{Stage: "plugins", Cause: err}
	}

	s.logger.Debug("prepared",
		log.UserKey, s.user, "plugins", s.engine.PluginNames())
	s.setState(StatePrepared)
	return nil
}

// Run locks the console and blocks until the user authenticates or the
// lock fails fatally. Whatever happens, teardown runs exactly once
// before Run returns.
func (s *Supervisor) Run() (err error) {
	if s.state != StatePrepared {
		return errors.New("supervisor: Run before Prepare")
	}
	defer s.teardown()

	if err := s.guardTerminal(); err != nil {
		return &vlockerrors.SetupError{Stage: "terminal", Cause: err}
	}

	s.custodian = signals.New()
	s.custodian.Install()

	s.openConsole()

	s.hookCtx = &plugin.HookContext{
		Console: s.console,
		Guard:   s.guard,
		Config:  s.cfg,
		Logger:  s.logger,
	}
	if err := s.engine.CallHook(plugin.HookStart, s.hookCtx); err != nil {
		return fmt.Errorf("engaging lock: %w", err)
	}

	fmt.Fprintf(s.out, "\n%s\n\n", s.cfg.Banner(s.engine.Loaded("all")))
	s.setState(StateLocked)

	return s.authLoop()
}

// guardTerminal snapshots the controlling terminal and turns off the
// keyboard signal characters so ^C and friends become ordinary input.
// A non-terminal stdin is left alone.
func (s *Supervisor) guardTerminal() error {
	fd := int(os.Stdin.Fd())
	if !terminal.IsTerminal(fd) {
		return nil
	}
	snap, err := terminal.Snapshot(fd)
	if err != nil {
		return err
	}
	if err := terminal.DisableKeyboardSignals(fd); err != nil {
		snap.Restore()
		return err
	}
	s.termSnap = snap
	return nil
}

// openConsole attaches the VT guard. Failure is tolerated here: sessions
// on terminals that are not consoles can still lock, they just cannot
// mediate VT switching. Plugins that demand a console report their own
// errors through vlock_start.
func (s *Supervisor) openConsole() {
	console, err := vt.Open()
	if err != nil {
		s.logger.Debug("console unavailable", log.Error(err))
		return
	}
	s.console = console
	s.guard = vt.NewGuard(console)
}

// authLoop spawns one authentication child per attempt and interprets
// its exit status. Denials loop; anything else ends the lock.
func (s *Supervisor) authLoop() error {
	for {
		if err := s.limiter.Wait(context.Background()); err != nil {
			return err
		}

		s.setState(StateAuthenticating)
		if err := s.engine.CallHook(plugin.HookSave, s.hookCtx); err != nil {
			s.logger.Warn("save hooks", log.Error(err))
		}

		status, err := s.attempt()
		if err != nil {
			return err
		}

		if status.Exited() && status.ExitStatus() == authExitSuccess {
			s.logger.Info("authenticated", log.UserKey, s.user)
			return nil
		}

		if err := s.engine.CallHook(plugin.HookSaveAbort, s.hookCtx); err != nil {
			s.logger.Warn("save abort hooks", log.Error(err))
		}

		switch {
		case status.Exited() && status.ExitStatus() == authExitDenied:
			s.logger.Info("authentication denied", log.UserKey, s.user)
			s.setState(StateLocked)
		case status.Signaled():
			return fmt.Errorf("authenticator killed by signal %v", status.Signal())
		default:
			return fmt.Errorf("authenticator failed (exit status %d)", status.ExitStatus())
		}
	}
}

// attempt runs one authentication child on the locked terminal and
// returns its exit status.
func (s *Supervisor) attempt() (syscall.WaitStatus, error) {
	env := []string{
		fmt.Sprintf("%s=%s", envUser, s.user),
		fmt.Sprintf("VLOCK_TIMEOUT=%d", s.cfg.Timeout),
		fmt.Sprintf("VLOCK_PROMPT_TIMEOUT=%d", s.cfg.PromptTimeout),
	}
	if s.cfg.EnableRootPassword {
		env = append(env, envRootFallback+"=1")
	}

	child, err := s.launch(process.ChildSpec{
		Func:   childName,
		Env:    env,
		Stdin:  process.NoRedirect(),
		Stdout: process.NoRedirect(),
		Stderr: process.NoRedirect(),
	})
	if err != nil {
		return 0, fmt.Errorf("launching authenticator: %w", err)
	}
	defer child.Close()
	s.logger.Debug("authenticator started", log.PIDKey, child.PID)

	status, err := s.superviseChild(child.PID)
	if err != nil {
		process.EnsureDeath(child.PID)
		return 0, err
	}
	return status, nil
}

// superviseChild drains custodian events until the child is reaped,
// answering VT mediation requests along the way. The kernel holds a
// console switch until HandleRelease answers, so this loop must keep
// turning for the whole attempt.
func (s *Supervisor) superviseChild(pid int) (syscall.WaitStatus, error) {
	check := func() (syscall.WaitStatus, bool, error) {
		status, reaped, err := process.Reap(pid)
		if err != nil {
			return 0, false, fmt.Errorf("reaping authenticator: %w", err)
		}
		return status, reaped, nil
	}

	poll := time.NewTicker(childPollInterval)
	defer poll.Stop()

	for {
		select {
		case ev, ok := <-s.custodian.Events():
			if !ok {
				return 0, errors.New("signal custodian stopped during authentication")
			}
			s.logger.Debug("signal event", log.EventKey, ev.String())
			switch ev {
			case signals.VTRelease:
				if s.guard != nil {
					if err := s.guard.HandleRelease(); err != nil {
						s.logger.Warn("answering console release request", log.Error(err))
					}
				}
			case signals.VTAcquire:
				if s.guard != nil {
					if err := s.guard.HandleAcquire(); err != nil {
						s.logger.Warn("completing console reacquisition", log.Error(err))
					}
				}
			case signals.ChildExit:
				if status, reaped, err := check(); err != nil || reaped {
					return status, err
				}
			}
		case <-poll.C:
			if status, reaped, err := check(); err != nil || reaped {
				return status, err
			}
		}
	}
}

// teardown releases everything Run acquired, in reverse order of
// acquisition. Every failure is logged and the remaining steps still
// run; the console must come back in whatever shape we can manage.
func (s *Supervisor) teardown() {
	s.teardownOnce.Do(func() {
		s.setState(StateUnlocking)

		if s.hookCtx != nil {
			if err := s.engine.CallHook(plugin.HookEnd, s.hookCtx); err != nil {
				s.logger.Warn("end hooks", log.Error(err))
			}
		}
		if s.guard != nil {
			if err := s.guard.Release(); err != nil {
				s.logger.Warn("restoring console switch mode", log.Error(err))
			}
		}
		if s.console != nil {
			if err := s.console.Close(); err != nil {
				s.logger.Warn("closing console", log.Error(err))
			}
		}
		if s.custodian != nil {
			s.custodian.Restore()
		}
		if s.termSnap != nil {
			if err := s.termSnap.Restore(); err != nil {
				s.logger.Warn("restoring terminal attributes", log.Error(err))
			}
		}

		s.setState(StateDone)
	})
}

func (s *Supervisor) setState(next State) {
	s.logger.Debug("state change",
		"from", s.state.String(), log.StateKey, next.String())
	s.state = next
}
