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
)

func init() {
	Register(allPlugin())
}

// allPlugin locks the entire console display: the VT guard is put in
// process mode with the deny switch set, so every switch request is
// refused until the unlock.
func allPlugin() *Plugin {
	return &Plugin{
		Name: "all",
		Hooks: map[string]func(*HookContext) error{
			HookStart: func(ctx *HookContext) error {
				if ctx.Guard == nil {
					return errors.New("no console device to lock")
				}
				ctx.Guard.SetDenySwitch(true)
				if err := ctx.Guard.Acquire(); err != nil {
					return fmt.Errorf("locking console switching: %w", err)
				}
				return nil
			},
			HookEnd: func(ctx *HookContext) error {
				if ctx.Guard == nil {
					return nil
				}
				if err := ctx.Guard.Release(); err != nil {
					return fmt.Errorf("unlocking console switching: %w", err)
				}
				return nil
			},
		},
	}
}
