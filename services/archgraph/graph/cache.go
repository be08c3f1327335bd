// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"github.com/AleutianAI/archgraph/services/archgraph/classfile"
)

// classIndex is the name-to-node index of one import run.
//
// Description:
//
//	The index is the only place nodes are created. Complete nodes are added
//	up front for every valid record; any other name becomes a stub the first
//	time it is resolved, and later lookups return that same stub. An index is
//	created per Assemble call and handed to the resulting Graph, so two runs
//	never share nodes.
//
// Thread Safety: Not safe for concurrent use. Assembly is single-threaded.
type classIndex struct {
	g *Graph
}

func newClassIndex(g *Graph) *classIndex {
	g.byName = make(map[string]ClassID)
	return &classIndex{g: g}
}

// addComplete creates the complete node for an imported class.
func (ix *classIndex) addComplete(name string) *ClassNode {
	return ix.add(name, false)
}

func (ix *classIndex) add(name string, stub bool) *ClassNode {
	id := ClassID(len(ix.g.nodes))
	n := newNode(ix.g, id, name, stub)
	ix.g.nodes = append(ix.g.nodes, n)
	ix.g.byName[name] = id
	return n
}

func (ix *classIndex) lookup(name string) (*ClassNode, bool) {
	id, ok := ix.g.byName[name]
	if !ok {
		return nil, false
	}
	return ix.g.nodes[id], true
}

// resolve returns the node for name, creating a stub when the name is new.
// Array stubs are linked to their component, which is resolved as well.
func (ix *classIndex) resolve(name string) *ClassNode {
	if n, ok := ix.lookup(name); ok {
		return n
	}
	n := ix.add(name, true)
	if classfile.IsArrayName(name) {
		n.component = ix.resolve(classfile.ComponentName(name)).id
	}
	return n
}

func (ix *classIndex) resolveID(name string) ClassID {
	if name == "" {
		return NoClass
	}
	return ix.resolve(name).id
}

func (ix *classIndex) resolveIDs(names []string) []ClassID {
	if len(names) == 0 {
		return nil
	}
	out := make([]ClassID, len(names))
	for i, name := range names {
		out[i] = ix.resolveID(name)
	}
	return out
}

// outermost returns the top-level class enclosing n, memoizing the answer
// for every class on the walk.
//
// The walk is bounded by the number of nodes; a chain longer than that must
// repeat a class and is reported as a CyclicEnclosureError.
func (ix *classIndex) outermost(n *ClassNode) (*ClassNode, error) {
	if n.outermost != NoClass {
		return ix.g.nodes[n.outermost], nil
	}
	var path []*ClassNode
	seen := make(map[ClassID]bool)
	cur := n
	for cur.enclosing != NoClass {
		if seen[cur.id] || len(path) > len(ix.g.nodes) {
			return nil, &CyclicEnclosureError{Class: n.name, Chain: chainNames(append(path, cur))}
		}
		seen[cur.id] = true
		path = append(path, cur)
		next := ix.g.nodes[cur.enclosing]
		if next.outermost != NoClass {
			cur = ix.g.nodes[next.outermost]
			break
		}
		cur = next
	}
	for _, p := range path {
		p.outermost = cur.id
	}
	n.outermost = cur.id
	return cur, nil
}

func chainNames(nodes []*ClassNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.name
	}
	return out
}

// enclosureCycle walks the enclosing-class chain of start through parent and
// reports whether it returns to start. Chains that end, leave the known set
// or enter a loop not containing start are not cycles of start.
func enclosureCycle(start string, parent func(string) (string, bool)) ([]string, bool) {
	chain := []string{start}
	seen := map[string]bool{start: true}
	cur := start
	for {
		next, ok := parent(cur)
		if !ok {
			return nil, false
		}
		chain = append(chain, next)
		if next == start {
			return chain, true
		}
		if seen[next] {
			return nil, false
		}
		seen[next] = true
		cur = next
	}
}
