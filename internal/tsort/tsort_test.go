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

package tsort

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSort_Empty(t *testing.T) {
	order, err := Sort[string](nil, nil)
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestSort_NoEdgesKeepsInputOrder(t *testing.T) {
	order, err := Sort([]string{"c", "a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestSort_RespectsEdges(t *testing.T) {
	nodes := []string{"net", "fs", "base", "app"}
	edges := []Edge[string]{
		{Before: "base", After: "net"},
		{Before: "base", After: "fs"},
		{Before: "net", After: "app"},
		{Before: "fs", After: "app"},
	}

	order, err := Sort(nodes, edges)
	require.NoError(t, err)
	require.Len(t, order, len(nodes))

	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	for _, e := range edges {
		assert.Less(t, pos[e.Before], pos[e.After], "%v must precede %v", e.Before, e.After)
	}

	// Ties resolve by insertion order: base first, then net before fs.
	assert.Equal(t, []string{"base", "net", "fs", "app"}, order)
}

func TestSort_TieBreakByInsertionOrder(t *testing.T) {
	order, err := Sort([]string{"a", "b", "c", "d"}, []Edge[string]{
		{Before: "d", After: "a"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d", "a"}, order)
}

func TestSort_Deterministic(t *testing.T) {
	nodes := []string{"one", "two", "three", "four", "five"}
	edges := []Edge[string]{
		{Before: "five", After: "one"},
		{Before: "three", After: "two"},
	}

	first, err := Sort(nodes, edges)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := Sort(nodes, edges)
		require.NoError(t, err)
		require.Equal(t, first, again, "iteration %d", i)
	}
}

func TestSort_CycleReportsSurvivingEdges(t *testing.T) {
	nodes := []string{"a", "b", "c"}
	edges := []Edge[string]{
		{Before: "a", After: "b"},
		{Before: "b", After: "c"},
		{Before: "c", After: "b"},
	}

	order, err := Sort(nodes, edges)
	require.Error(t, err)
	assert.Nil(t, order)

	var cycleErr *CycleError[string]
	require.True(t, errors.As(err, &cycleErr))
	// "a" was placed, so only the b/c edges survive, in input order.
	assert.Equal(t, []Edge[string]{
		{Before: "b", After: "c"},
		{Before: "c", After: "b"},
	}, cycleErr.Edges)
	assert.Contains(t, cycleErr.Error(), "b->c")
	assert.Contains(t, cycleErr.Error(), "c->b")
}

func TestSort_SelfEdgeIsACycle(t *testing.T) {
	_, err := Sort([]string{"a"}, []Edge[string]{{Before: "a", After: "a"}})

	var cycleErr *CycleError[string]
	require.True(t, errors.As(err, &cycleErr))
	assert.Equal(t, []Edge[string]{{Before: "a", After: "a"}}, cycleErr.Edges)
}

func TestSort_UnknownNode(t *testing.T) {
	tests := []struct {
		name    string
		edge    Edge[string]
		missing string
	}{
		{name: "unknown before", edge: Edge[string]{Before: "ghost", After: "a"}, missing: "ghost"},
		{name: "unknown after", edge: Edge[string]{Before: "a", After: "ghost"}, missing: "ghost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sort([]string{"a"}, []Edge[string]{tt.edge})

			var unknownErr *UnknownNodeError[string]
			require.True(t, errors.As(err, &unknownErr))
			assert.Equal(t, tt.missing, unknownErr.Node)
		})
	}
}

func TestSort_DuplicateEdgesCountOnce(t *testing.T) {
	order, err := Sort([]string{"a", "b"}, []Edge[string]{
		{Before: "a", After: "b"},
		{Before: "a", After: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestSort_InputsNotMutated(t *testing.T) {
	nodes := []string{"b", "a"}
	edges := []Edge[string]{{Before: "a", After: "b"}}
	nodesCopy := append([]string(nil), nodes...)
	edgesCopy := append([]Edge[string](nil), edges...)

	order, err := Sort(nodes, edges)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, nodesCopy, nodes)
	assert.Equal(t, edgesCopy, edges)
}
