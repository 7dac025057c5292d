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

package config

import (
	"os"
	"path/filepath"
)

// systemPath is the machine-wide config file.
const systemPath = "/etc/vlock/vlock.yaml"

// probePath returns the config file to read: the user's XDG config file
// when it exists, otherwise the system one when it exists, otherwise "".
// Respects the XDG_CONFIG_HOME environment variable. vlock only ever
// reads configuration, so nothing is created here.
func probePath() string {
	var base string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, ".config")
	}

	if base != "" {
		userPath := filepath.Join(base, "vlock", "vlock.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath
		}
	}

	if _, err := os.Stat(systemPath); err == nil {
		return systemPath
	}
	return ""
}

// StateDir returns where vlock keeps local state such as the audit
// database. Root uses the system directory, everyone else XDG state.
// Respects the XDG_STATE_HOME environment variable.
func StateDir() (string, error) {
	if os.Getuid() == 0 {
		return "/var/lib/vlock", nil
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "vlock"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "vlock"), nil
}
