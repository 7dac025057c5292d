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

package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandFlags(t *testing.T) {
	cmd := NewRootCommand()

	shorthands := make(map[string]string)
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		shorthands[f.Name] = f.Shorthand
	})

	assert.Equal(t, "a", shorthands["all"])
	assert.Equal(t, "n", shorthands["new"])
	assert.Equal(t, "s", shorthands["disable-sysrq"])
	assert.Equal(t, "t", shorthands["timeout"])

	_, ok := shorthands["config"]
	require.True(t, ok, "flag --config should exist")
}

func TestVersionOutput(t *testing.T) {
	SetVersion("2.3.0", "abc123", "2026-01-02")
	defer SetVersion("dev", "unknown", "unknown")

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "vlock version 2.3.0")
	assert.Contains(t, out.String(), "abc123")
	assert.Contains(t, out.String(), "2026-01-02")
}

func TestOptionPlugins(t *testing.T) {
	tests := []struct {
		name string
		opts options
		want []string
	}{
		{name: "none", opts: options{}, want: nil},
		{name: "all", opts: options{all: true}, want: []string{"all"}},
		{name: "new", opts: options{newVT: true}, want: []string{"new"}},
		{name: "sysrq", opts: options{sysrq: true}, want: []string{"sysrq"}},
		{
			name: "everything",
			opts: options{all: true, newVT: true, sysrq: true},
			want: []string{"all", "new", "sysrq"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, optionPlugins(&tt.opts))
		})
	}
}

func TestHandleExitErrorNil(t *testing.T) {
	// Must return rather than exit.
	HandleExitError(nil)
}
