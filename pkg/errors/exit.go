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
	"errors"
)

// ExitCoder defines errors that carry their own process exit code.
//
// Domain-specific errors (like the authentication error) implement this
// interface so main can map outcomes to exit statuses without inspecting
// concrete types.
type ExitCoder interface {
	error

	// ExitCode returns the process exit status this error maps to.
	ExitCode() int
}

// ExitCode walks err's tree for an ExitCoder and returns its code, or
// fallback when none is found. A nil err returns 0.
func ExitCode(err error, fallback int) int {
	if err == nil {
		return 0
	}
	var ec ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return fallback
}
