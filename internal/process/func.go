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

package process

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// childEnvKey marks a re-executed binary as a function child. The value is
// the registered function name.
const childEnvKey = "VLOCK_CHILD"

var (
	funcsMu sync.RWMutex
	funcs   = make(map[string]func() int)
)

// RegisterFunc registers fn under name for use as a function child.
// Registration normally happens from init functions; registering the same
// name twice is a programmer error and panics.
func RegisterFunc(name string, fn func() int) {
	if name == "" || fn == nil {
		panic("process: RegisterFunc with empty name or nil func")
	}
	funcsMu.Lock()
	defer funcsMu.Unlock()
	if _, dup := funcs[name]; dup {
		panic(fmt.Sprintf("process: child function %q registered twice", name))
	}
	funcs[name] = fn
}

func funcRegistered(name string) bool {
	funcsMu.RLock()
	defer funcsMu.RUnlock()
	_, ok := funcs[name]
	return ok
}

// RunFunctionChild dispatches to a registered function when this process
// was launched as a function child, and never returns in that case: the
// process exits with the function's return value. In the ordinary parent
// process it returns immediately. Call it first thing in main, before any
// command parsing.
func RunFunctionChild() {
	name := os.Getenv(childEnvKey)
	if name == "" {
		return
	}

	funcsMu.RLock()
	fn, ok := funcs[name]
	funcsMu.RUnlock()
	if !ok {
		fmt.Fprintf(os.Stderr, "vlock: unknown child function %q (registered: %v)\n", name, registeredNames())
		os.Exit(127)
	}
	os.Exit(fn())
}

func registeredNames() []string {
	funcsMu.RLock()
	defer funcsMu.RUnlock()
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
