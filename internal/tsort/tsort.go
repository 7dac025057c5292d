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

// Package tsort provides a deterministic topological sort.
//
// Determinism matters here: plugin hook order must be reproducible across
// runs, so ties are always broken by the caller's insertion order rather
// than map iteration order.
package tsort

import (
	"fmt"
	"strings"
)

// Edge orders two nodes: Before must appear before After in the result.
type Edge[T comparable] struct {
	Before T
	After  T
}

// UnknownNodeError reports an edge endpoint that is not in the node set.
type UnknownNodeError[T comparable] struct {
	Edge Edge[T]
	Node T
}

func (e *UnknownNodeError[T]) Error() string {
	return fmt.Sprintf("tsort: edge %v->%v references unknown node %v", e.Edge.Before, e.Edge.After, e.Node)
}

// CycleError reports that no topological order exists. Edges holds the
// surviving edges among the nodes that could not be placed, in input order,
// so callers can show the user exactly which declarations form the cycle.
type CycleError[T comparable] struct {
	Edges []Edge[T]
}

func (e *CycleError[T]) Error() string {
	parts := make([]string, len(e.Edges))
	for i, edge := range e.Edges {
		parts[i] = fmt.Sprintf("%v->%v", edge.Before, edge.After)
	}
	return fmt.Sprintf("tsort: dependency cycle: %s", strings.Join(parts, ", "))
}

// Sort returns the nodes in an order satisfying every edge, using Kahn's
// algorithm. Among nodes that are simultaneously placeable it always picks
// the earliest in the input slice. Nodes must be unique. Neither input
// slice is modified.
//
// An edge naming a node outside nodes fails with UnknownNodeError before
// any sorting happens. Duplicate edges are counted once. If a cycle
// prevents a full ordering, Sort returns a CycleError carrying the edges
// still standing among the unplaced nodes.
func Sort[T comparable](nodes []T, edges []Edge[T]) ([]T, error) {
	index := make(map[T]int, len(nodes))
	for i, n := range nodes {
		index[n] = i
	}

	succ := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	uniq := make([]Edge[T], 0, len(edges))
	seen := make(map[Edge[T]]struct{}, len(edges))
	for _, e := range edges {
		bi, ok := index[e.Before]
		if !ok {
			return nil, &UnknownNodeError[T]{Edge: e, Node: e.Before}
		}
		ai, ok := index[e.After]
		if !ok {
			return nil, &UnknownNodeError[T]{Edge: e, Node: e.After}
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		uniq = append(uniq, e)
		succ[bi] = append(succ[bi], ai)
		indeg[ai]++
	}

	order := make([]T, 0, len(nodes))
	placed := make([]bool, len(nodes))
	for len(order) < len(nodes) {
		next := -1
		for i := range nodes {
			if !placed[i] && indeg[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, &CycleError[T]{Edges: surviving(uniq, index, placed)}
		}
		placed[next] = true
		order = append(order, nodes[next])
		for _, ai := range succ[next] {
			indeg[ai]--
		}
	}
	return order, nil
}

// surviving filters uniq down to the edges whose endpoints are both
// unplaced. Any edge touching a placed node was already consumed by the
// algorithm, so what remains is exactly the cyclic core.
func surviving[T comparable](uniq []Edge[T], index map[T]int, placed []bool) []Edge[T] {
	var out []Edge[T]
	for _, e := range uniq {
		if !placed[index[e.Before]] && !placed[index[e.After]] {
			out = append(out, e)
		}
	}
	return out
}
