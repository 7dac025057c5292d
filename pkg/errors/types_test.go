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

package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupError(t *testing.T) {
	cause := stderrors.New("no such device")

	err := &SetupError{Stage: "console", Cause: cause}
	assert.Equal(t, "setup failed in console: no such device", err.Error())
	assert.ErrorIs(t, err, cause)

	err = &SetupError{Cause: cause}
	assert.Equal(t, "setup failed: no such device", err.Error())
}

func TestConfigError(t *testing.T) {
	cause := stderrors.New("strconv: parsing")

	err := &ConfigError{Key: "VLOCK_TIMEOUT", Reason: "not a number", Cause: cause}
	assert.Equal(t, "config error at VLOCK_TIMEOUT: not a number", err.Error())
	assert.ErrorIs(t, err, cause)

	err = &ConfigError{Reason: "unreadable file"}
	assert.Equal(t, "config error: unreadable file", err.Error())
}

type codedError struct{ code int }

func (e *codedError) Error() string { return "coded" }
func (e *codedError) ExitCode() int { return e.code }

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil, 1))
	assert.Equal(t, 1, ExitCode(stderrors.New("plain"), 1))
	assert.Equal(t, 2, ExitCode(&codedError{code: 2}, 1))

	wrapped := Wrap(&codedError{code: 3}, "outer")
	assert.Equal(t, 3, ExitCode(wrapped, 1))
}
