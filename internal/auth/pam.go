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

//go:build !nopam

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/msteinert/pam/v2"

	"github.com/lollipopman/vlock/internal/terminal"
)

// service names the PAM stack consulted for unlock attempts, usually
// configured at /etc/pam.d/vlock.
const service = "vlock"

// Authenticate runs one PAM authentication for user, prompting on p. The
// transaction is ended exactly once on every path. A nil error means the
// credentials were accepted; otherwise the *Error kind tells a rejection
// apart from a broken stack.
func Authenticate(user string, p *terminal.Prompter, timeout time.Duration) (err error) {
	if user == "" {
		return failed(errors.New("no user to authenticate"))
	}

	tx, err := pam.StartFunc(service, user, Conversation(p, timeout))
	if err != nil {
		return failed(fmt.Errorf("starting pam transaction: %w", err))
	}
	defer func() {
		if eerr := tx.End(); eerr != nil && err == nil {
			err = failed(fmt.Errorf("ending pam transaction: %w", eerr))
		}
	}()

	if tty := ttyName(p.Input()); tty != "" {
		if serr := tx.SetItem(pam.Tty, tty); serr != nil {
			return failed(fmt.Errorf("setting pam tty: %w", serr))
		}
	}

	// Prefix the module's "Password:" prompt so the line reads
	// "jane's Password:".
	fmt.Fprintf(p.Writer(), "%s's ", user)

	if aerr := tx.Authenticate(0); aerr != nil {
		return classify(aerr)
	}
	return nil
}

// Conversation adapts p into a PAM conversation handler. A prompt that
// times out surfaces as a conversation error, which PAM reports as a
// failed attempt.
func Conversation(p *terminal.Prompter, timeout time.Duration) func(pam.Style, string) (string, error) {
	return func(style pam.Style, msg string) (string, error) {
		switch style {
		case pam.PromptEchoOff:
			return p.PromptEchoOff(msg, timeout)
		case pam.PromptEchoOn:
			return p.Prompt(msg, timeout)
		case pam.ErrorMsg, pam.TextInfo:
			fmt.Fprintln(p.Writer(), msg)
			return "", nil
		}
		return "", fmt.Errorf("unrecognized conversation style %d", style)
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, pam.ErrAuth),
		errors.Is(err, pam.ErrConv),
		errors.Is(err, pam.ErrUserUnknown),
		errors.Is(err, pam.ErrMaxtries):
		return denied(err)
	}
	return failed(err)
}
