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

package supervisor

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/lollipopman/vlock/internal/config"
	"github.com/lollipopman/vlock/internal/plugin"
	"github.com/lollipopman/vlock/internal/process"
	vlockerrors "github.com/lollipopman/vlock/pkg/errors"
)

func TestMain(m *testing.M) {
	// A re-executed function child must dispatch before any tests run.
	process.RunFunctionChild()
	os.Exit(m.Run())
}

// hookRecorder notes every hook invocation on the probe plugin. Tests
// run sequentially and reset it between runs.
type hookRecorder struct {
	calls     []string
	failStart bool
}

func (r *hookRecorder) reset() {
	r.calls = nil
	r.failStart = false
}

func (r *hookRecorder) count(hook string) int {
	n := 0
	for _, h := range r.calls {
		if h == hook {
			n++
		}
	}
	return n
}

var probe = &hookRecorder{}

func init() {
	record := func(hook string) func(*plugin.HookContext) error {
		return func(*plugin.HookContext) error {
			probe.calls = append(probe.calls, hook)
			if hook == plugin.HookStart && probe.failStart {
				return errors.New("probe refused to start")
			}
			return nil
		}
	}
	plugin.Register(&plugin.Plugin{
		Name: "probe",
		Hooks: map[string]func(*plugin.HookContext) error{
			plugin.HookStart:     record(plugin.HookStart),
			plugin.HookSave:      record(plugin.HookSave),
			plugin.HookSaveAbort: record(plugin.HookSaveAbort),
			plugin.HookEnd:       record(plugin.HookEnd),
		},
	})

	process.RegisterFunc("auth-pass", func() int { return authExitSuccess })
	process.RegisterFunc("auth-deny", func() int { return authExitDenied })
	process.RegisterFunc("auth-fail", func() int { return authExitError })
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testSupervisor builds a prepared supervisor whose authentication
// children run the scripted functions instead of the real authenticator.
func testSupervisor(t *testing.T, script ...string) *Supervisor {
	t.Helper()
	probe.reset()

	cfg := config.Default()
	cfg.Plugins = []string{"probe"}
	s := New(cfg, discardLogger())
	s.out = io.Discard
	s.limiter = rate.NewLimiter(rate.Every(time.Millisecond), 1)

	next := 0
	s.launch = func(spec process.ChildSpec) (*process.Child, error) {
		require.Equal(t, childName, spec.Func)
		require.Less(t, next, len(script), "unexpected authentication attempt")
		fn := script[next]
		next++
		return process.Launch(process.ChildSpec{Func: fn})
	}

	require.NoError(t, s.Prepare(nil))
	return s
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "init", StateInit.String())
	assert.Equal(t, "prepared", StatePrepared.String())
	assert.Equal(t, "locked", StateLocked.String())
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.Equal(t, "unlocking", StateUnlocking.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestRunBeforePrepare(t *testing.T) {
	s := New(config.Default(), discardLogger())
	assert.Error(t, s.Run())
}

func TestPrepareTwice(t *testing.T) {
	s := testSupervisor(t, "auth-pass")
	assert.Error(t, s.Prepare(nil))
}

func TestPrepareUnknownPlugin(t *testing.T) {
	cfg := config.Default()
	cfg.Plugins = []string{"no-such-plugin"}
	s := New(cfg, discardLogger())

	err := s.Prepare(nil)
	require.Error(t, err)
	var se *vlockerrors.SetupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "plugins", se.Stage)
}

func TestPrepareResolvesUser(t *testing.T) {
	s := testSupervisor(t, "auth-pass")
	assert.NotEmpty(t, s.User())
}

func TestUnlockFirstAttempt(t *testing.T) {
	s := testSupervisor(t, "auth-pass")
	require.NoError(t, s.Run())

	assert.Equal(t, 1, probe.count(plugin.HookStart))
	assert.Equal(t, 1, probe.count(plugin.HookSave))
	assert.Equal(t, 0, probe.count(plugin.HookSaveAbort))
	assert.Equal(t, 1, probe.count(plugin.HookEnd))
	assert.Equal(t, StateDone, s.state)
}

func TestDeniedAttemptsKeepLocked(t *testing.T) {
	s := testSupervisor(t, "auth-deny", "auth-deny", "auth-pass")
	require.NoError(t, s.Run())

	assert.Equal(t, 3, probe.count(plugin.HookSave))
	assert.Equal(t, 2, probe.count(plugin.HookSaveAbort))
	assert.Equal(t, 1, probe.count(plugin.HookEnd))
}

func TestAuthenticatorFailureAborts(t *testing.T) {
	s := testSupervisor(t, "auth-fail")

	err := s.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 2")
	assert.Equal(t, 1, probe.count(plugin.HookSaveAbort))
	assert.Equal(t, 1, probe.count(plugin.HookEnd))
	assert.Equal(t, StateDone, s.state)
}

func TestStartHookFailureSkipsAuthentication(t *testing.T) {
	s := testSupervisor(t)
	probe.failStart = true

	err := s.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe")
	assert.Contains(t, err.Error(), plugin.HookStart)
	assert.Equal(t, 0, probe.count(plugin.HookSave))
	// Teardown still runs: end hooks fire even for an aborted start.
	assert.Equal(t, 1, probe.count(plugin.HookEnd))
	assert.Equal(t, StateDone, s.state)
}

func TestLaunchFailureTearsDown(t *testing.T) {
	s := testSupervisor(t, "auth-pass")
	s.launch = func(process.ChildSpec) (*process.Child, error) {
		return nil, errors.New("out of processes")
	}

	err := s.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "launching authenticator")
	assert.Equal(t, 1, probe.count(plugin.HookEnd))
}

func TestTeardownRunsOnce(t *testing.T) {
	s := testSupervisor(t, "auth-pass")
	require.NoError(t, s.Run())
	require.Equal(t, 1, probe.count(plugin.HookEnd))

	s.teardown()
	assert.Equal(t, 1, probe.count(plugin.HookEnd))
}

func TestAuthChildEnvironment(t *testing.T) {
	s := testSupervisor(t, "auth-pass")
	s.cfg.PromptTimeout = 30
	s.cfg.EnableRootPassword = false

	var captured []string
	inner := s.launch
	s.launch = func(spec process.ChildSpec) (*process.Child, error) {
		captured = spec.Env
		return inner(spec)
	}

	require.NoError(t, s.Run())
	assert.Contains(t, captured, envUser+"="+s.User())
	assert.Contains(t, captured, "VLOCK_PROMPT_TIMEOUT=30")
	for _, kv := range captured {
		assert.False(t, strings.HasPrefix(kv, envRootFallback+"="),
			"root fallback should be off: %s", kv)
	}
}

func TestRootFallbackFlagged(t *testing.T) {
	s := testSupervisor(t, "auth-pass")
	s.cfg.EnableRootPassword = true

	var captured []string
	inner := s.launch
	s.launch = func(spec process.ChildSpec) (*process.Child, error) {
		captured = spec.Env
		return inner(spec)
	}

	require.NoError(t, s.Run())
	assert.Contains(t, captured, envRootFallback+"=1")
}
