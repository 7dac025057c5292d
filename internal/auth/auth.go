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

// Package auth checks a user's credentials against the system
// authentication stack. The default backend talks to PAM; builds with the
// nopam tag verify against the local shadow database instead.
package auth

import (
	"errors"
	"fmt"
	"os"

	"github.com/lollipopman/vlock/internal/terminal"
)

// Kind separates credential rejections from breakage in the
// authentication machinery itself. Callers retry the former and abort on
// the latter.
type Kind int

const (
	// Denied means the stack worked and rejected the credentials.
	Denied Kind = iota
	// Failed means authentication could not be carried out at all.
	Failed
)

func (k Kind) String() string {
	switch k {
	case Denied:
		return "denied"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Error is an authentication outcome other than success.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("authentication %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExitCode maps the outcome onto the authentication child's exit
// status: denials are 1, subsystem failures 2.
func (e *Error) ExitCode() int {
	if e.Kind == Denied {
		return 1
	}
	return 2
}

func denied(err error) error {
	return &Error{Kind: Denied, Err: err}
}

func failed(err error) error {
	return &Error{Kind: Failed, Err: err}
}

// IsDenied reports whether err is a credential rejection rather than a
// subsystem failure.
func IsDenied(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == Denied
}

// ttyName resolves the terminal device behind f, or "" when f is not a
// terminal.
func ttyName(f *os.File) string {
	if f == nil || !terminal.IsTerminal(int(f.Fd())) {
		return ""
	}
	name, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", f.Fd()))
	if err != nil {
		return ""
	}
	return name
}
