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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "context"))

	inner := New("inner")
	err := Wrap(inner, "outer")
	require.Error(t, err)
	assert.Equal(t, "outer: inner", err.Error())
	assert.ErrorIs(t, err, inner)
}

func TestWrapf(t *testing.T) {
	assert.NoError(t, Wrapf(nil, "loading %s", "x"))

	inner := New("inner")
	err := Wrapf(inner, "loading plugin %q", "all")
	require.Error(t, err)
	assert.Equal(t, `loading plugin "all": inner`, err.Error())
	assert.ErrorIs(t, err, inner)
}

func TestIsAs(t *testing.T) {
	cause := New("cause")
	err := &SetupError{Stage: "signals", Cause: cause}

	assert.True(t, Is(err, cause))

	var se *SetupError
	require.True(t, As(Wrap(err, "outer"), &se))
	assert.Equal(t, "signals", se.Stage)

	assert.Equal(t, cause, Unwrap(err))
}
