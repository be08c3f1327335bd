// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"sort"

	"github.com/AleutianAI/archgraph/services/archgraph/graph"
)

// PackageRows returns one row per distinct package of the graph's nodes.
// Primitive and array nodes have no package.
func PackageRows(g *graph.Graph) []map[string]any {
	seen := make(map[string]bool)
	for _, n := range g.Nodes() {
		if exportable(n) {
			seen[n.PackageName()] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([]map[string]any, len(names))
	for i, name := range names {
		rows[i] = map[string]any{"name": name}
	}
	return rows
}

// ClassRows returns one row per class node, complete and stub, sorted by
// name. Primitive and array nodes are skipped.
func ClassRows(g *graph.Graph) []map[string]any {
	var rows []map[string]any
	for _, n := range g.Nodes() {
		if !exportable(n) {
			continue
		}
		rows = append(rows, map[string]any{
			"name":          n.Name(),
			"simple_name":   n.SimpleName(),
			"package":       n.PackageName(),
			"stub":          n.IsStub(),
			"interface":     n.IsInterface(),
			"modifiers":     n.Modifiers().ClassNames(),
			"major_version": n.MajorVersion(),
			"source_uri":    n.SourceURI(),
			"run_id":        g.RunID,
		})
	}
	return rows
}

// MemberRows returns one row per member of the complete classes.
func MemberRows(g *graph.Graph) []map[string]any {
	var rows []map[string]any
	for _, n := range g.Classes() {
		for _, m := range n.Members() {
			rows = append(rows, map[string]any{
				"owner":      n.Name(),
				"key":        n.Name() + "#" + m.Key().String(),
				"name":       m.Name,
				"kind":       m.Kind.String(),
				"descriptor": m.Descriptor,
				"full_name":  m.FullName(),
				"modifiers":  m.Modifiers.MemberNames(m.Kind),
			})
		}
	}
	return rows
}

// Relations holds the structural relation rows, each {from, to}.
type Relations struct {
	Extends    []map[string]any
	Implements []map[string]any
	EnclosedBy []map[string]any
}

// RelationRows returns the supertype and nesting relations of the complete
// classes.
func RelationRows(g *graph.Graph) Relations {
	var r Relations
	pair := func(from, to *graph.ClassNode) map[string]any {
		return map[string]any{"from": from.Name(), "to": to.Name()}
	}
	for _, n := range g.Classes() {
		if s, ok := n.Superclass(); ok {
			r.Extends = append(r.Extends, pair(n, s))
		}
		for _, i := range n.Interfaces() {
			r.Implements = append(r.Implements, pair(n, i))
		}
		if e, ok := n.EnclosingClass(); ok {
			r.EnclosedBy = append(r.EnclosedBy, pair(n, e))
		}
	}
	return r
}

// AccessRows returns one row per access edge whose endpoints are
// exportable, in graph order.
func AccessRows(g *graph.Graph) []map[string]any {
	var rows []map[string]any
	for _, e := range g.Accesses() {
		if !exportable(e.Origin) || !exportable(e.Target) {
			continue
		}
		declaring := ""
		if e.DeclaringClass != nil {
			declaring = e.DeclaringClass.Name()
		}
		rows = append(rows, map[string]any{
			"origin":          e.Origin.Name(),
			"target":          e.Target.Name(),
			"kind":            e.Kind.String(),
			"origin_member":   e.OriginMember.String(),
			"target_member":   e.TargetMember.String(),
			"line":            e.Line,
			"declaring_class": declaring,
			"description":     e.Description(),
		})
	}
	return rows
}

func exportable(n *graph.ClassNode) bool {
	return !n.IsPrimitive() && !n.IsArray()
}
