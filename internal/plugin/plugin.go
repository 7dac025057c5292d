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

// Package plugin implements the lock's extension engine: compile-time
// registered plugins with declared dependencies, resolved into a
// deterministic call order, and invoked through the lifecycle hooks.
package plugin

import (
	"log/slog"

	"github.com/lollipopman/vlock/internal/config"
	"github.com/lollipopman/vlock/internal/vt"
)

// Hook names fired by the supervisor, in lifecycle order.
const (
	// HookStart runs before the lock engages. A failure aborts the lock.
	HookStart = "vlock_start"
	// HookSave runs when an authentication attempt starts.
	HookSave = "vlock_save"
	// HookSaveAbort runs when an authentication attempt fails.
	HookSaveAbort = "vlock_save_abort"
	// HookEnd runs after the unlock, always.
	HookEnd = "vlock_end"
)

// HookContext carries the resources hooks may touch. Console is nil when
// no console device could be opened; hooks that need one must check.
type HookContext struct {
	Console *vt.Console
	Guard   *vt.Guard
	Config  *config.Config
	Logger  *slog.Logger
}

// Plugin is a named set of hook handlers plus the dependency declarations
// the engine resolves against the other loaded plugins.
type Plugin struct {
	// Name identifies the plugin to command line arguments and to the
	// dependency lists of other plugins.
	Name string

	// Requires names plugins that are loaded automatically with this one
	// and must be loadable.
	Requires []string

	// Needs names plugins that must have been loaded by other means.
	Needs []string

	// Depends names plugins loaded on demand with this one, sharing its
	// lifetime.
	Depends []string

	// Conflicts names plugins that must not be loaded together with this
	// one.
	Conflicts []string

	// After names plugins whose hooks run before this one's when loaded.
	After []string

	// Before names plugins whose hooks run after this one's when loaded.
	Before []string

	// Hooks maps hook names to handlers. Missing entries are skipped.
	Hooks map[string]func(*HookContext) error
}
