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
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Plugin)
)

// Register adds p to the built-in plugin table. It is meant to be called
// from init functions and panics on empty or duplicate names.
func Register(p *Plugin) {
	if p == nil || p.Name == "" {
		panic("plugin: Register with empty name")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[p.Name]; exists {
		panic(fmt.Sprintf("plugin: Register called twice for %q", p.Name))
	}
	registry[p.Name] = p
}

// Lookup returns the registered plugin for name.
func Lookup(name string) (*Plugin, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// Names returns all registered plugin names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
