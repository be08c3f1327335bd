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
	"sort"
	"sync"

	"github.com/AleutianAI/archgraph/services/archgraph/classfile"
)

// ClassID addresses a node in a graph's arena.
type ClassID int32

// NoClass marks an absent class reference.
const NoClass ClassID = -1

const objectName = classfile.ObjectClassName

// ClassNode is one class of a graph, either complete or a stub.
//
// Description:
//
//	A complete node was imported in the run that built the graph; all of its
//	references resolve to other nodes of the same graph. A stub was only
//	named by some reference and carries nothing but its name: it has no
//	supertypes, members, annotations or outgoing accesses.
//
//	Structural facts are set once during assembly. Dependencies and
//	AccessesToSelf are supplementary facts computed on first use.
//
// Thread Safety: Safe for concurrent reads once the graph is returned by the
// Assembler.
type ClassNode struct {
	g    *Graph
	id   ClassID
	name string
	stub bool

	modifiers    classfile.Modifiers
	majorVersion uint16
	sourceFile   string
	sourceURI    string

	superclass        ClassID
	interfaces        []ClassID
	genericSuperclass JavaType
	genericInterfaces []JavaType

	enclosing       ClassID
	enclosingMethod *classfile.MemberKey
	outermost       ClassID

	// component is the element class of an array node.
	component ClassID

	typeParameters []*TypeVariable
	freeVariables  map[string]*TypeVariable
	members        []*Member
	annotations    []Annotation

	// outgoing and incoming index into the graph's edge list.
	outgoing []int
	incoming []int

	depsOnce sync.Once
	deps     []Dependency

	selfOnce sync.Once
	toSelf   []*AccessEdge
}

func newNode(g *Graph, id ClassID, name string, stub bool) *ClassNode {
	return &ClassNode{
		g:          g,
		id:         id,
		name:       name,
		stub:       stub,
		superclass: NoClass,
		enclosing:  NoClass,
		outermost:  NoClass,
		component:  NoClass,
	}
}

// ID returns the node's arena index.
func (n *ClassNode) ID() ClassID { return n.id }

// Name returns the fully-qualified class name.
func (n *ClassNode) Name() string { return n.name }

// Erasure implements JavaType.
func (n *ClassNode) Erasure() *ClassNode { return n }

// SimpleName returns the name without package and enclosing classes.
func (n *ClassNode) SimpleName() string { return classfile.SimpleNameOf(n.name) }

// PackageName returns the package, "" for the default package, arrays and
// primitives.
func (n *ClassNode) PackageName() string { return classfile.PackageOf(n.name) }

// IsStub reports whether the class was referenced but not imported.
func (n *ClassNode) IsStub() bool { return n.stub }

// IsArray reports whether the node is an array class.
func (n *ClassNode) IsArray() bool { return classfile.IsArrayName(n.name) }

// IsPrimitive reports whether the node is a primitive type or void.
func (n *ClassNode) IsPrimitive() bool { return classfile.IsPrimitiveName(n.name) }

// IsInterface reports whether the class is an interface. Always false for stubs.
func (n *ClassNode) IsInterface() bool { return n.modifiers.IsInterface() }

// Modifiers returns the access flags. Zero for stubs.
func (n *ClassNode) Modifiers() classfile.Modifiers { return n.modifiers }

// MajorVersion returns the class file major version, 0 for stubs.
func (n *ClassNode) MajorVersion() uint16 { return n.majorVersion }

// SourceFile returns the SourceFile attribute, e.g. "Outer.java".
func (n *ClassNode) SourceFile() string { return n.sourceFile }

// SourceURI returns the location the class was imported from.
func (n *ClassNode) SourceURI() string { return n.sourceURI }

// Superclass returns the direct superclass.
func (n *ClassNode) Superclass() (*ClassNode, bool) { return n.g.node(n.superclass) }

// Interfaces returns the directly implemented interfaces in order.
func (n *ClassNode) Interfaces() []*ClassNode { return n.g.nodesOf(n.interfaces) }

// GenericSuperclass returns the parameterized superclass, or nil when the
// class has no generic signature.
func (n *ClassNode) GenericSuperclass() JavaType { return n.genericSuperclass }

// GenericInterfaces returns the parameterized interfaces, or nil when the
// class has no generic signature.
func (n *ClassNode) GenericInterfaces() []JavaType { return n.genericInterfaces }

// EnclosingClass returns the directly enclosing class of a nested class.
func (n *ClassNode) EnclosingClass() (*ClassNode, bool) { return n.g.node(n.enclosing) }

// EnclosingMethod returns the method a local or anonymous class is declared in.
func (n *ClassNode) EnclosingMethod() (classfile.MemberKey, bool) {
	if n.enclosingMethod == nil {
		return classfile.MemberKey{}, false
	}
	return *n.enclosingMethod, true
}

// OutermostEnclosingClass returns the top-level class containing n, or n
// itself when it is not nested.
func (n *ClassNode) OutermostEnclosingClass() *ClassNode {
	if o, ok := n.g.node(n.outermost); ok {
		return o
	}
	return n
}

// ComponentType returns the element class of an array node.
func (n *ClassNode) ComponentType() (*ClassNode, bool) { return n.g.node(n.component) }

// TypeParameters returns the class's generic parameters in order.
func (n *ClassNode) TypeParameters() []*TypeVariable { return n.typeParameters }

// Members returns fields then methods in declaration order.
func (n *ClassNode) Members() []*Member { return n.members }

// Fields returns the field members.
func (n *ClassNode) Fields() []*Member { return n.membersOf(classfile.MemberField) }

// Methods returns methods, constructors and the static initializer.
func (n *ClassNode) Methods() []*Member {
	var out []*Member
	for _, m := range n.members {
		if m.Kind != classfile.MemberField {
			out = append(out, m)
		}
	}
	return out
}

func (n *ClassNode) membersOf(kind classfile.MemberKind) []*Member {
	var out []*Member
	for _, m := range n.members {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// Member finds a declared member by name and descriptor.
func (n *ClassNode) Member(key classfile.MemberKey) (*Member, bool) {
	for _, m := range n.members {
		if m.Name == key.Name && m.Descriptor == key.Descriptor {
			return m, true
		}
	}
	return nil, false
}

// Annotations returns the class-level annotations.
func (n *ClassNode) Annotations() []Annotation { return n.annotations }

// IsAnnotatedWith reports whether the class carries an annotation of the
// given type.
func (n *ClassNode) IsAnnotatedWith(typeName string) bool {
	for _, a := range n.annotations {
		if a.Type.Name() == typeName {
			return true
		}
	}
	return false
}

// AccessesFromSelf returns the accesses performed by the class's code, in
// bytecode order.
func (n *ClassNode) AccessesFromSelf() []*AccessEdge { return n.g.edgesAt(n.outgoing) }

// AccessesToSelf returns accesses by any class whose target owner is n.
//
// Computed on first call and cached.
func (n *ClassNode) AccessesToSelf() []*AccessEdge {
	n.selfOnce.Do(func() {
		n.toSelf = n.g.edgesAt(n.incoming)
	})
	return n.toSelf
}

// IsAssignableTo reports whether n is name or has it as a transitive supertype.
func (n *ClassNode) IsAssignableTo(name string) bool {
	found := false
	n.g.walkSupertypes(n, func(c *ClassNode) bool {
		if c.name == name {
			found = true
			return false
		}
		return true
	})
	return found
}

// Dependencies returns every dependency of n on another class: supertypes,
// member signatures, annotations, type parameter bounds and accesses. Array
// targets are reported as their element class; primitives are omitted.
//
// Computed on first call and cached.
func (n *ClassNode) Dependencies() []Dependency {
	n.depsOnce.Do(func() {
		n.deps = n.computeDependencies()
	})
	return n.deps
}

func (n *ClassNode) computeDependencies() []Dependency {
	if n.stub {
		return nil
	}
	var out []Dependency
	add := func(target *ClassNode, kind DependencyKind, member string, line int) {
		target = target.element()
		if target == nil || target == n || target.IsPrimitive() {
			return
		}
		out = append(out, Dependency{Origin: n, Target: target, Kind: kind, Member: member, Line: line})
	}

	if s, ok := n.Superclass(); ok {
		add(s, DependsExtends, "", 0)
	}
	for _, i := range n.Interfaces() {
		add(i, DependsImplements, "", 0)
	}
	for _, a := range n.annotations {
		add(a.Type, DependsAnnotation, "", 0)
	}
	for _, tv := range n.typeParameters {
		for _, b := range tv.bounds {
			add(b.Erasure(), DependsTypeBound, "", 0)
		}
	}
	for _, m := range n.members {
		desc := m.Key().String()
		if m.Kind == classfile.MemberField {
			add(m.Type(), DependsFieldType, desc, 0)
		} else {
			add(m.Type(), DependsReturnType, desc, 0)
		}
		for _, p := range m.Parameters() {
			add(p, DependsParameterType, desc, 0)
		}
		for _, t := range m.Throws() {
			add(t, DependsThrows, desc, 0)
		}
		for _, a := range m.Annotations {
			add(a.Type, DependsAnnotation, desc, 0)
		}
	}
	for _, e := range n.AccessesFromSelf() {
		add(e.Target, DependsAccess, e.OriginMember.String(), e.Line)
	}
	return out
}

// element strips array dimensions.
func (n *ClassNode) element() *ClassNode {
	cur := n
	for cur != nil && cur.component != NoClass {
		cur, _ = cur.g.node(cur.component)
	}
	return cur
}

// Member is a field, method, constructor or static initializer of a class.
type Member struct {
	owner *ClassNode

	Kind       classfile.MemberKind
	Name       string
	Descriptor string

	// Signature is the raw generic signature, empty when absent.
	Signature string

	Modifiers classfile.Modifiers

	Annotations []Annotation

	typ        ClassID
	params     []ClassID
	throws     []ClassID
	typeParams []*TypeVariable

	genericType   JavaType
	genericParams []JavaType
}

// Owner returns the declaring class.
func (m *Member) Owner() *ClassNode { return m.owner }

// Key returns the member's identity within its owner.
func (m *Member) Key() classfile.MemberKey {
	return classfile.MemberKey{Name: m.Name, Descriptor: m.Descriptor}
}

// FullName renders the member as "com.acme.A.run(int, java.lang.String)".
func (m *Member) FullName() string {
	params := m.Parameters()
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.name
	}
	return memberFullName(m.owner.name, m.Kind, m.Name, names)
}

// Type returns the erased field type or method return type.
func (m *Member) Type() *ClassNode {
	n, _ := m.owner.g.node(m.typ)
	return n
}

// Parameters returns the erased parameter types of a method.
func (m *Member) Parameters() []*ClassNode { return m.owner.g.nodesOf(m.params) }

// Throws returns the declared exceptions of a method.
func (m *Member) Throws() []*ClassNode { return m.owner.g.nodesOf(m.throws) }

// TypeParameters returns the generic parameters of a method.
func (m *Member) TypeParameters() []*TypeVariable { return m.typeParams }

// GenericType returns the generic field type or return type, or the erased
// type when the member has no signature.
func (m *Member) GenericType() JavaType {
	if m.genericType != nil {
		return m.genericType
	}
	return m.Type()
}

// GenericParameters returns the generic parameter types, or the erased ones
// when the member has no signature.
func (m *Member) GenericParameters() []JavaType {
	if m.genericParams != nil {
		return m.genericParams
	}
	params := m.Parameters()
	out := make([]JavaType, len(params))
	for i, p := range params {
		out[i] = p
	}
	return out
}

// Annotation is a resolved annotation usage.
type Annotation struct {
	Type    *ClassNode
	Visible bool
	Values  map[string]string
}

// DependencyKind classifies a class dependency.
type DependencyKind string

const (
	DependsExtends       DependencyKind = "extends"
	DependsImplements    DependencyKind = "implements"
	DependsAnnotation    DependencyKind = "annotation"
	DependsTypeBound     DependencyKind = "type_bound"
	DependsFieldType     DependencyKind = "field_type"
	DependsReturnType    DependencyKind = "return_type"
	DependsParameterType DependencyKind = "parameter_type"
	DependsThrows        DependencyKind = "throws"
	DependsAccess        DependencyKind = "access"
)

// Dependency is a use of one class by another.
type Dependency struct {
	Origin *ClassNode
	Target *ClassNode
	Kind   DependencyKind

	// Member is the origin member as name+descriptor, empty for class-level
	// dependencies.
	Member string

	// Line is set for access dependencies with line information.
	Line int
}

// sortNodes orders nodes by name.
func sortNodes(nodes []*ClassNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].name < nodes[j].name })
}
