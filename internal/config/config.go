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

// Package config loads vlock's configuration from the system or XDG
// config file and the VLOCK_* environment variables. Precedence is file,
// then environment, then command line options.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	vlockerrors "github.com/lollipopman/vlock/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

const (
	defaultMessage = "This TTY is now locked."

	defaultAllMessage = "The entire console display is now completely locked.\n" +
		"You will not be able to switch to another virtual console."
)

// Config represents the complete vlock configuration.
type Config struct {
	// Plugins are loaded before any named on the command line.
	Plugins []string `yaml:"plugins,omitempty"`

	// Timeout bounds the whole authentication exchange, in seconds.
	// Zero means wait forever.
	// Environment: VLOCK_TIMEOUT
	Timeout int `yaml:"timeout,omitempty"`

	// PromptTimeout bounds each individual prompt read, in seconds.
	// Zero means wait forever.
	// Environment: VLOCK_PROMPT_TIMEOUT
	PromptTimeout int `yaml:"prompt_timeout,omitempty"`

	// Message replaces the default lock banner.
	// Environment: VLOCK_MESSAGE
	Message string `yaml:"message,omitempty"`

	// AllMessage replaces the banner when every console is locked.
	// Environment: VLOCK_ALL_MESSAGE
	AllMessage string `yaml:"all_message,omitempty"`

	// AuditPath is where the audit plugin keeps its event database.
	// Empty uses the state directory default.
	AuditPath string `yaml:"audit_path,omitempty"`

	// Debug enables debug logging.
	// Environment: VLOCK_DEBUG
	Debug bool `yaml:"debug,omitempty"`

	// EnableRootPassword also accepts the root password for unlocking.
	// Default: true
	EnableRootPassword bool `yaml:"enable_root_password"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		EnableRootPassword: true,
	}
}

// Load loads configuration from the config file and the environment.
// Environment variables take precedence over file-based configuration.
// If configPath is empty, the XDG config file is probed, then the system
// one; a missing probed file just yields defaults, while a missing
// explicit path is an error.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	explicit := configPath != ""
	if !explicit {
		configPath = probePath()
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			if explicit || !os.IsNotExist(err) {
				return nil, &vlockerrors.ConfigError{
					Key:    "config_file",
					Reason: fmt.Sprintf("failed to load from %s", configPath),
					Cause:  err,
				}
			}
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, &vlockerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// loadFromFile reads and parses the YAML config file into c.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables. Numeric
// variables that fail to parse are reported as errors naming the
// variable rather than silently ignored.
func (c *Config) loadFromEnv() error {
	if val := os.Getenv("VLOCK_TIMEOUT"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return &vlockerrors.ConfigError{
				Key:    "VLOCK_TIMEOUT",
				Reason: fmt.Sprintf("not a number: %q", val),
				Cause:  err,
			}
		}
		c.Timeout = n
	}
	if val := os.Getenv("VLOCK_PROMPT_TIMEOUT"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return &vlockerrors.ConfigError{
				Key:    "VLOCK_PROMPT_TIMEOUT",
				Reason: fmt.Sprintf("not a number: %q", val),
				Cause:  err,
			}
		}
		c.PromptTimeout = n
	}
	if val := os.Getenv("VLOCK_MESSAGE"); val != "" {
		c.Message = val
	}
	if val := os.Getenv("VLOCK_ALL_MESSAGE"); val != "" {
		c.AllMessage = val
	}
	if val := os.Getenv("VLOCK_NEW_VT"); val != "" {
		c.Plugins = append(c.Plugins, "new")
	}
	if val := os.Getenv("VLOCK_DEBUG"); val != "" {
		c.Debug = val == "1" || strings.ToLower(val) == "true"
	}
	return nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidConfig)
	}
	if c.PromptTimeout < 0 {
		return fmt.Errorf("%w: prompt_timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

// TimeoutDuration returns the overall authentication timeout.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// PromptTimeoutDuration returns the per-prompt timeout.
func (c *Config) PromptTimeoutDuration() time.Duration {
	return time.Duration(c.PromptTimeout) * time.Second
}

// Banner returns the message shown when the lock engages. Under a
// whole-console lock the all-consoles message takes precedence.
func (c *Config) Banner(allConsoles bool) string {
	if allConsoles {
		if c.AllMessage != "" {
			return c.AllMessage
		}
		if c.Message != "" {
			return c.Message
		}
		return defaultAllMessage
	}
	if c.Message != "" {
		return c.Message
	}
	return defaultMessage
}

// CurrentUser resolves the account to authenticate: the real uid's passwd
// entry, then $USER, then $LOGNAME. Root falls back to the literal
// "root" when nothing resolves; for anyone else that is a setup error,
// since locking a terminal nobody can unlock would be worse than not
// locking it.
func CurrentUser() (string, error) {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username, nil
	}
	for _, key := range []string{"USER", "LOGNAME"} {
		if val := os.Getenv(key); val != "" {
			return val, nil
		}
	}
	if os.Getuid() == 0 {
		return "root", nil
	}
	return "", &vlockerrors.SetupError{
		Stage: "user",
		Cause: errors.New("cannot determine the user to authenticate"),
	}
}
