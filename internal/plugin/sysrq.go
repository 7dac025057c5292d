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
	"os"
	"strings"
)

const sysrqPath = "/proc/sys/kernel/sysrq"

func init() {
	Register(sysrqPlugin(sysrqPath))
}

// sysrqState remembers the kernel's SysRq setting across the lock.
type sysrqState struct {
	path     string
	saved    string
	disabled bool
}

// sysrqPlugin turns the magic SysRq key off while locked, since SAK and
// friends would defeat the lock, and puts the saved setting back on
// unlock. A kernel without the proc entry is left alone.
func sysrqPlugin(path string) *Plugin {
	s := &sysrqState{path: path}
	return &Plugin{
		Name: "sysrq",
		Hooks: map[string]func(*HookContext) error{
			HookStart: s.start,
			HookEnd:   s.end,
		},
	}
}

func (s *sysrqState) start(ctx *HookContext) error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		ctx.Logger.Debug("sysrq not supported by this kernel", "path", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading sysrq setting: %w", err)
	}

	s.saved = strings.TrimSpace(string(data))
	if err := os.WriteFile(s.path, []byte("0\n"), 0o644); err != nil {
		return fmt.Errorf("disabling sysrq: %w", err)
	}
	s.disabled = true
	ctx.Logger.Debug("disabled sysrq", "previous", s.saved)
	return nil
}

func (s *sysrqState) end(ctx *HookContext) error {
	if !s.disabled {
		return nil
	}
	if err := os.WriteFile(s.path, []byte(s.saved+"\n"), 0o644); err != nil {
		return fmt.Errorf("restoring sysrq setting: %w", err)
	}
	s.disabled = false
	return nil
}
