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

package plugin

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/lollipopman/vlock/internal/log"
	"github.com/lollipopman/vlock/internal/tsort"
)

var (
	// ErrNotResolved is returned when hooks are called before a successful
	// Resolve.
	ErrNotResolved = errors.New("plugin: engine not resolved")
)

// Engine holds the loaded plugins and, after Resolve, their frozen call
// order. A failed resolution leaves the engine unusable for hooks but
// safe to inspect.
type Engine struct {
	logger *slog.Logger
	lookup func(string) (*Plugin, bool)

	plugins  []*Plugin
	index    map[string]*Plugin
	resolved bool

	// saveDisabled marks plugins whose vlock_save failed; their save and
	// save_abort hooks are skipped for the rest of the session.
	saveDisabled map[string]bool
}

// NewEngine returns an empty engine backed by the built-in registry.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:       log.WithComponent(logger, "plugins"),
		lookup:       Lookup,
		index:        make(map[string]*Plugin),
		saveDisabled: make(map[string]bool),
	}
}

// Load adds the named plugin to the engine. Loading an already-loaded
// plugin is a no-op; unknown names fail.
func (e *Engine) Load(name string) error {
	if _, ok := e.index[name]; ok {
		return nil
	}
	p, ok := e.lookup(name)
	if !ok {
		return fmt.Errorf("unknown plugin %q", name)
	}
	e.plugins = append(e.plugins, p)
	e.index[name] = p
	e.logger.Debug("loaded plugin", log.PluginKey, name)
	return nil
}

// Loaded reports whether the named plugin is in the engine.
func (e *Engine) Loaded(name string) bool {
	_, ok := e.index[name]
	return ok
}

// PluginNames returns the names of the loaded plugins: load order before
// Resolve, call order after.
func (e *Engine) PluginNames() []string {
	names := make([]string, len(e.plugins))
	for i, p := range e.plugins {
		names[i] = p.Name
	}
	return names
}

// Resolve closes over dependencies, checks conflicts and needs, and
// freezes the hook call order. It must be called once, after all explicit
// loads; hooks refuse to run until it succeeds.
func (e *Engine) Resolve() error {
	if err := e.resolve(); err != nil {
		e.resolved = false
		return err
	}
	e.resolved = true
	e.logger.Debug("resolved plugin order", "order", e.PluginNames())
	return nil
}

func (e *Engine) resolve() error {
	// Transitive closure over requires and depends. The slice grows while
	// we walk it, which carries the closure to a fixpoint.
	for i := 0; i < len(e.plugins); i++ {
		p := e.plugins[i]
		for _, dep := range p.Requires {
			if err := e.Load(dep); err != nil {
				return fmt.Errorf("plugin %s requires %s: %w", p.Name, dep, err)
			}
		}
		for _, dep := range p.Depends {
			if err := e.Load(dep); err != nil {
				return fmt.Errorf("plugin %s depends on %s: %w", p.Name, dep, err)
			}
		}
	}

	for _, p := range e.plugins {
		for _, name := range p.Conflicts {
			if e.Loaded(name) {
				return fmt.Errorf("plugin %s conflicts with plugin %s", p.Name, name)
			}
		}
	}

	for _, p := range e.plugins {
		for _, name := range p.Needs {
			if !e.Loaded(name) {
				return fmt.Errorf("plugin %s needs %s which is not loaded", p.Name, name)
			}
		}
	}

	// Ordering edges. Dependencies run before their dependents; after and
	// before edges against plugins that are not loaded impose nothing.
	var edges []tsort.Edge[string]
	for _, p := range e.plugins {
		for _, name := range p.After {
			if e.Loaded(name) {
				edges = append(edges, tsort.Edge[string]{Before: name, After: p.Name})
			}
		}
		for _, name := range p.Before {
			if e.Loaded(name) {
				edges = append(edges, tsort.Edge[string]{Before: p.Name, After: name})
			}
		}
		for _, name := range p.Requires {
			edges = append(edges, tsort.Edge[string]{Before: name, After: p.Name})
		}
		for _, name := range p.Depends {
			edges = append(edges, tsort.Edge[string]{Before: name, After: p.Name})
		}
	}

	order, err := tsort.Sort(e.PluginNames(), edges)
	if err != nil {
		return fmt.Errorf("sorting plugins: %w", err)
	}

	sorted := make([]*Plugin, len(order))
	for i, name := range order {
		sorted[i] = e.index[name]
	}
	e.plugins = sorted
	return nil
}

// CallHook invokes every loaded plugin's handler for the named hook with
// the policy that hook demands. vlock_start runs in call order and stops
// at the first error. vlock_save runs in call order; a failing plugin has
// its save and save_abort hooks disabled for the rest of the session.
// vlock_save_abort and vlock_end run in reverse order with errors logged
// and swallowed, so teardown always completes.
func (e *Engine) CallHook(hook string, ctx *HookContext) error {
	if !e.resolved {
		return ErrNotResolved
	}
	switch hook {
	case HookStart:
		return e.callForward(hook, ctx)
	case HookSave:
		e.callSave(ctx)
		return nil
	case HookSaveAbort:
		e.callReverse(hook, ctx, true)
		return nil
	case HookEnd:
		e.callReverse(hook, ctx, false)
		return nil
	}
	return fmt.Errorf("unknown hook %q", hook)
}

func (e *Engine) callForward(hook string, ctx *HookContext) error {
	for _, p := range e.plugins {
		if p.Hooks[hook] == nil {
			continue
		}
		e.logger.Debug("calling hook", log.PluginKey, p.Name, log.HookKey, hook)
		if err := e.call(p, hook, ctx); err != nil {
			return fmt.Errorf("plugin %s: %s: %w", p.Name, hook, err)
		}
	}
	return nil
}

func (e *Engine) callSave(ctx *HookContext) {
	for _, p := range e.plugins {
		if e.saveDisabled[p.Name] || p.Hooks[HookSave] == nil {
			continue
		}
		e.logger.Debug("calling hook", log.PluginKey, p.Name, log.HookKey, HookSave)
		if err := e.call(p, HookSave, ctx); err != nil {
			e.logger.Warn("disabling plugin save hooks",
				log.PluginKey, p.Name, log.Error(err))
			e.saveDisabled[p.Name] = true
		}
	}
}

func (e *Engine) callReverse(hook string, ctx *HookContext, honorSaveDisabled bool) {
	for i := len(e.plugins) - 1; i >= 0; i-- {
		p := e.plugins[i]
		if honorSaveDisabled && e.saveDisabled[p.Name] {
			continue
		}
		if p.Hooks[hook] == nil {
			continue
		}
		e.logger.Debug("calling hook", log.PluginKey, p.Name, log.HookKey, hook)
		if err := e.call(p, hook, ctx); err != nil {
			e.logger.Warn("hook failed",
				log.PluginKey, p.Name, log.HookKey, hook, log.Error(err))
		}
	}
}

// call runs one handler, converting a panic into an error so a broken
// plugin cannot take the lock down with it.
func (e *Engine) call(p *Plugin, hook string, ctx *HookContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return p.Hooks[hook](ctx)
}
