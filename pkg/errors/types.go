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

// Package errors defines the error taxonomy shared across the lock
// lifecycle: setup problems that abort before the terminal is touched,
// and configuration problems with enough structure to name the offending
// key.
package errors

import (
	"fmt"
)

// SetupError represents failures before the lock engages: option parsing,
// plugin resolution, terminal attribute saves, VT device opens. Nothing
// is recovered from a setup error; teardown covers only what was already
// acquired.
type SetupError struct {
	// Stage identifies which setup step failed (e.g., "plugins", "terminal")
	Stage string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *SetupError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("setup failed in %s: %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("setup failed: %v", e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SetupError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, bad environment values, or
// invalid settings.
type ConfigError struct {
	// Key is the configuration key or environment variable that has the
	// problem (e.g., "timeout", "VLOCK_PROMPT_TIMEOUT")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
