// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph assembles class records into a resolved class graph.
//
// # Model
//
// Nodes live in an arena owned by the Graph and are addressed by ClassID.
// Every class name referenced anywhere in an import run maps to exactly one
// node: a complete node for imported classes, a stub for everything else.
// Accesses are edges owned by the graph; the origin node lists its outgoing
// edges and the target node keeps only an index of incoming ones.
//
// # Thread Safety
//
// A Graph is immutable once Assemble returns it. All query methods are safe
// for concurrent use.
package graph

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/archgraph/services/archgraph/classfile"
)

// Graph is the resolved result of one import run.
type Graph struct {
	// RunID identifies the import run that built the graph.
	RunID string

	// Scope describes what was imported, e.g. the requested location URIs.
	Scope string

	// BuiltAtMilli is when assembly finished (Unix milliseconds UTC).
	BuiltAtMilli int64

	nodes    []*ClassNode
	byName   map[string]ClassID
	edges    []*AccessEdge
	failures []Failure
	shadowed int
}

// Class returns the node for a fully-qualified name. Internal names using
// '/' separators and array descriptors ("[I", "[Ljava/lang/String;") are
// accepted.
func (g *Graph) Class(name string) (*ClassNode, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	name, err := classfile.NormalizeClassName(name)
	if err != nil {
		return nil, false
	}
	id, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.nodes[id], true
}

// Node returns the node at id.
func (g *Graph) Node(id ClassID) (*ClassNode, bool) {
	return g.node(id)
}

// Classes returns the complete nodes sorted by name.
func (g *Graph) Classes() []*ClassNode {
	out := make([]*ClassNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		if !n.stub {
			out = append(out, n)
		}
	}
	sortNodes(out)
	return out
}

// Stubs returns the stub nodes sorted by name.
func (g *Graph) Stubs() []*ClassNode {
	var out []*ClassNode
	for _, n := range g.nodes {
		if n.stub {
			out = append(out, n)
		}
	}
	sortNodes(out)
	return out
}

// Nodes returns every node in arena order.
func (g *Graph) Nodes() []*ClassNode {
	out := make([]*ClassNode, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Accesses returns every access edge in assembly order.
func (g *Graph) Accesses() []*AccessEdge {
	out := make([]*AccessEdge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Failures returns the classes that could not be read, extracted or linked.
func (g *Graph) Failures() []Failure {
	out := make([]Failure, len(g.failures))
	copy(out, g.failures)
	return out
}

// NodeCount returns the number of nodes, complete and stub.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of access edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Stats summarizes the graph's contents.
type Stats struct {
	Classes  int `json:"classes"`
	Stubs    int `json:"stubs"`
	Accesses int `json:"accesses"`
	Failures int `json:"failures"`

	// Shadowed counts duplicate class names dropped in favor of the first
	// occurrence.
	Shadowed int `json:"shadowed"`
}

// Stats returns the graph's counts.
func (g *Graph) Stats() Stats {
	s := Stats{Accesses: len(g.edges), Failures: len(g.failures), Shadowed: g.shadowed}
	for _, n := range g.nodes {
		if n.stub {
			s.Stubs++
		} else {
			s.Classes++
		}
	}
	return s
}

func (g *Graph) node(id ClassID) (*ClassNode, bool) {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil, false
	}
	return g.nodes[id], true
}

func (g *Graph) nodesOf(ids []ClassID) []*ClassNode {
	if len(ids) == 0 {
		return nil
	}
	out := make([]*ClassNode, 0, len(ids))
	for _, id := range ids {
		if n, ok := g.node(id); ok {
			out = append(out, n)
		}
	}
	return out
}

func (g *Graph) edgesAt(idx []int) []*AccessEdge {
	if len(idx) == 0 {
		return nil
	}
	out := make([]*AccessEdge, len(idx))
	for i, e := range idx {
		out[i] = g.edges[e]
	}
	return out
}

// walkSupertypes visits start, then its superclasses and interfaces breadth
// first, each at most once, until visit returns false.
func (g *Graph) walkSupertypes(start *ClassNode, visit func(*ClassNode) bool) {
	seen := map[ClassID]bool{start.id: true}
	queue := []*ClassNode{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if !visit(cur) {
			return
		}
		next := make([]ClassID, 0, 1+len(cur.interfaces))
		if cur.superclass != NoClass {
			next = append(next, cur.superclass)
		}
		next = append(next, cur.interfaces...)
		for _, id := range next {
			if !seen[id] {
				seen[id] = true
				queue = append(queue, g.nodes[id])
			}
		}
	}
}

// AccessEdge is one access from a member of the origin class to the target.
type AccessEdge struct {
	Kind classfile.AccessKind

	Origin       *ClassNode
	OriginMember classfile.MemberKey

	// Target is the owner named by the instruction.
	Target *ClassNode

	// TargetMember is empty for class-level accesses.
	TargetMember classfile.MemberKey

	// DeclaringClass is the class that declares TargetMember, found by
	// searching Target and its supertypes. Nil when the member is declared
	// outside the import or the access is class-level.
	DeclaringClass *ClassNode

	// Line is the source line, 0 when unknown.
	Line int
}

// IsResolved reports whether the target member was found in the graph.
func (e *AccessEdge) IsResolved() bool { return e.DeclaringClass != nil }

// Description renders the edge as a sentence, e.g.
// "Method <com.acme.A.run()> calls method <com.acme.B.go(int)> in (A.java:12)".
func (e *AccessEdge) Description() string {
	origin := memberFullName(e.Origin.name, memberKindOf(e.OriginMember.Name), e.OriginMember.Name, descriptorParams(e.OriginMember.Descriptor))
	var target string
	switch e.Kind {
	case classfile.AccessFieldGet, classfile.AccessFieldSet:
		target = e.Target.name + "." + e.TargetMember.Name
	case classfile.AccessMethodCall, classfile.AccessConstructorCall:
		target = memberFullName(e.Target.name, memberKindOf(e.TargetMember.Name), e.TargetMember.Name, descriptorParams(e.TargetMember.Descriptor))
	default:
		target = e.Target.name
	}
	return fmt.Sprintf("%s <%s> %s <%s> in (%s:%d)",
		originLabel(e.OriginMember.Name), origin, accessVerb(e.Kind), target, e.Origin.sourceName(), e.Line)
}

func (n *ClassNode) sourceName() string {
	if n.sourceFile != "" {
		return n.sourceFile
	}
	outer := n.OutermostEnclosingClass()
	return classfile.SimpleNameOf(outer.name) + ".java"
}

func memberKindOf(name string) classfile.MemberKind {
	switch name {
	case classfile.ConstructorName:
		return classfile.MemberConstructor
	case classfile.StaticInitializerName:
		return classfile.MemberStaticInitializer
	default:
		return classfile.MemberMethod
	}
}

func memberFullName(owner string, kind classfile.MemberKind, name string, params []string) string {
	if kind == classfile.MemberField {
		return owner + "." + name
	}
	return owner + "." + name + "(" + strings.Join(params, ", ") + ")"
}

// descriptorParams renders a method descriptor's parameter types.
func descriptorParams(desc string) []string {
	params, _, err := classfile.ParseMethodDescriptor(desc)
	if err != nil {
		return nil
	}
	return params
}

func originLabel(name string) string {
	switch memberKindOf(name) {
	case classfile.MemberConstructor:
		return "Constructor"
	case classfile.MemberStaticInitializer:
		return "Static Initializer"
	default:
		return "Method"
	}
}

func accessVerb(k classfile.AccessKind) string {
	switch k {
	case classfile.AccessMethodCall:
		return "calls method"
	case classfile.AccessConstructorCall:
		return "calls constructor"
	case classfile.AccessFieldGet:
		return "gets field"
	case classfile.AccessFieldSet:
		return "sets field"
	case classfile.AccessInstanceofCheck:
		return "checks instanceof"
	case classfile.AccessCast:
		return "casts"
	case classfile.AccessInstantiation:
		return "instantiates"
	case classfile.AccessClassObject:
		return "references class object"
	default:
		return "accesses"
	}
}
