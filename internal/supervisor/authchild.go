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
	"fmt"
	"os"
	"time"

	"github.com/lollipopman/vlock/internal/auth"
	"github.com/lollipopman/vlock/internal/config"
	"github.com/lollipopman/vlock/internal/process"
	"github.com/lollipopman/vlock/internal/signals"
	"github.com/lollipopman/vlock/internal/terminal"
	vlockerrors "github.com/lollipopman/vlock/pkg/errors"
)

const (
	childName = "auth"

	envUser         = "VLOCK_AUTH_USER"
	envRootFallback = "VLOCK_AUTH_ROOT"

	authExitSuccess = 0
	authExitDenied  = 1
	authExitError   = 2
)

func init() {
	process.RegisterFunc(childName, authChild)
}

// authChild runs in a forked copy of the binary with the locked terminal
// on its standard descriptors. It prompts for the password and reports
// the outcome through its exit status: 0 unlocked, 1 denied, 2 the
// authentication stack itself broke.
func authChild() int {
	signals.IgnoreTerminal()

	user := os.Getenv(envUser)
	if user == "" {
		fmt.Fprintln(os.Stderr, "vlock: no user to authenticate")
		return authExitError
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "vlock: %v\n", err)
		return authExitError
	}

	// The overall timeout bounds the whole exchange. Expiry counts as a
	// denial: the console stays locked and the supervisor prompts again.
	if d := cfg.TimeoutDuration(); d > 0 {
		time.AfterFunc(d, func() {
			fmt.Fprintln(os.Stderr)
			os.Exit(authExitDenied)
		})
	}

	p := &terminal.Prompter{}
	err = auth.Authenticate(user, p, cfg.PromptTimeoutDuration())
	if err == nil {
		return authExitSuccess
	}

	// A rejected password gets one more chance via root, so an
	// administrator can always clear an abandoned lock.
	if auth.IsDenied(err) && user != "root" && os.Getenv(envRootFallback) != "" {
		if rerr := auth.Authenticate("root", p, cfg.PromptTimeoutDuration()); rerr == nil {
			return authExitSuccess
		}
	}

	if !auth.IsDenied(err) {
		fmt.Fprintf(os.Stderr, "vlock: %v\n", err)
	}
	return vlockerrors.ExitCode(err, authExitError)
}
