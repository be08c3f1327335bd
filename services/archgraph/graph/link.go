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
	"log/slog"

	"github.com/AleutianAI/archgraph/services/archgraph/classfile"
)

// linker holds the mutable state of one assembly.
type linker struct {
	ix     *classIndex
	logger *slog.Logger

	// scopes memoizes the type variable scope of each complete class.
	scopes map[ClassID]*typeScope

	// genericArrays get their erasure in finish, once every type variable
	// is erased.
	genericArrays []*GenericArrayType

	object *ClassNode
}

// typeScope is a chain of type variable declarations: a method's, then its
// class's, then the enclosing classes'.
type typeScope struct {
	vars   []*TypeVariable
	parent *typeScope
}

func (s *typeScope) lookup(name string) *TypeVariable {
	for cur := s; cur != nil; cur = cur.parent {
		for _, v := range cur.vars {
			if v.name == name {
				return v
			}
		}
	}
	return nil
}

func (l *linker) objectNode() *ClassNode {
	if l.object == nil {
		l.object = l.ix.resolve(objectName)
	}
	return l.object
}

// declareClass creates the class's type variables without bounds, so that
// bounds anywhere in the run can refer to them.
func (l *linker) declareClass(p *prepared) {
	n := p.node
	n.typeParameters = declare(p.rec.TypeParameters, n, "")
}

func declare(decls []classfile.TypeParameterDecl, owner *ClassNode, member string) []*TypeVariable {
	if len(decls) == 0 {
		return nil
	}
	out := make([]*TypeVariable, len(decls))
	for i, d := range decls {
		out[i] = &TypeVariable{name: d.Name, owner: owner, member: member}
	}
	return out
}

// classScope returns the type variables visible inside n. The walk over
// enclosing classes is bounded by the node count.
func (l *linker) classScope(n *ClassNode) *typeScope {
	if s, ok := l.scopes[n.id]; ok {
		return s
	}
	chain := []*ClassNode{n}
	for cur := n; cur.enclosing != NoClass && len(chain) <= len(l.ix.g.nodes); {
		cur = l.ix.g.nodes[cur.enclosing]
		if cur.stub {
			break
		}
		chain = append(chain, cur)
	}
	var s *typeScope
	for i := len(chain) - 1; i >= 0; i-- {
		s = &typeScope{vars: chain[i].typeParameters, parent: s}
	}
	l.scopes[n.id] = s
	return s
}

// linkClass resolves the class-level references of a complete node.
func (l *linker) linkClass(p *prepared) {
	n, rec := p.node, p.rec
	n.modifiers = rec.Modifiers
	n.majorVersion = rec.MajorVersion
	n.sourceFile = rec.SourceFile
	n.sourceURI = p.in.SourceURI

	n.superclass = l.ix.resolveID(rec.SuperclassName)
	n.interfaces = l.ix.resolveIDs(rec.InterfaceNames)
	n.enclosing = l.ix.resolveID(rec.EnclosingClassName)
	if rec.EnclosingMethod != nil {
		em := *rec.EnclosingMethod
		n.enclosingMethod = &em
	}
	n.annotations = l.annotations(rec.Annotations)

	scope := l.classScope(n)
	l.bindBounds(n.typeParameters, rec.TypeParameters, scope, n)

	if rec.GenericSuperclass != nil {
		n.genericSuperclass = l.resolveType(*rec.GenericSuperclass, scope, n)
	}
	if rec.GenericInterfaces != nil {
		n.genericInterfaces = make([]JavaType, len(rec.GenericInterfaces))
		for i, gi := range rec.GenericInterfaces {
			n.genericInterfaces[i] = l.resolveType(gi, scope, n)
		}
	}
}

func (l *linker) bindBounds(vars []*TypeVariable, decls []classfile.TypeParameterDecl, scope *typeScope, owner *ClassNode) {
	for i, d := range decls {
		bounds := make([]JavaType, len(d.Bounds))
		for j, b := range d.Bounds {
			bounds[j] = l.resolveType(b, scope, owner)
		}
		vars[i].bounds = bounds
	}
}

// eraseAll computes the erasure of each variable. All bounds the variables
// can reach must be bound already.
func (l *linker) eraseAll(vars []*TypeVariable) {
	for _, v := range vars {
		l.erase(v, make(map[*TypeVariable]bool))
	}
}

func (l *linker) erase(v *TypeVariable, visiting map[*TypeVariable]bool) *ClassNode {
	if v.erasure != nil {
		return v.erasure
	}
	if visiting[v] || len(v.bounds) == 0 {
		return l.objectNode()
	}
	visiting[v] = true
	var e *ClassNode
	if bv, ok := v.bounds[0].(*TypeVariable); ok {
		e = l.erase(bv, visiting)
	} else {
		e = v.bounds[0].Erasure()
	}
	v.erasure = e
	return e
}

// resolveType turns a parsed signature into a JavaType of this graph.
func (l *linker) resolveType(sig classfile.TypeSignature, scope *typeScope, owner *ClassNode) JavaType {
	switch sig.Kind {
	case classfile.SigClass:
		raw := l.ix.resolve(sig.Name)
		if len(sig.Args) == 0 {
			return raw
		}
		args := make([]JavaType, len(sig.Args))
		for i, a := range sig.Args {
			args[i] = l.resolveType(a, scope, owner)
		}
		return &ParameterizedType{raw: raw, args: args}

	case classfile.SigArray:
		comp := l.resolveType(*sig.Elem, scope, owner)
		if cn, ok := comp.(*ClassNode); ok {
			return l.ix.resolve(cn.name + "[]")
		}
		ga := &GenericArrayType{component: comp}
		l.genericArrays = append(l.genericArrays, ga)
		return ga

	case classfile.SigTypeVariable:
		if v := scope.lookup(sig.Name); v != nil {
			return v
		}
		return l.freeVariable(owner, sig.Name)

	case classfile.SigWildcard:
		w := &WildcardType{}
		if sig.Elem != nil {
			b := l.resolveType(*sig.Elem, scope, owner)
			if sig.Lower {
				w.lower = []JavaType{b}
			} else {
				w.upper = []JavaType{b}
			}
		}
		if len(w.upper) == 0 {
			w.object = l.objectNode()
		}
		return w

	default:
		return l.ix.resolve(sig.Name)
	}
}

// freeVariable returns the per-class variable for a name with no declaration
// in scope. Its only bound is java.lang.Object.
func (l *linker) freeVariable(owner *ClassNode, name string) *TypeVariable {
	if v, ok := owner.freeVariables[name]; ok {
		return v
	}
	obj := l.objectNode()
	v := &TypeVariable{name: name, bounds: []JavaType{obj}, erasure: obj}
	if owner.freeVariables == nil {
		owner.freeVariables = make(map[string]*TypeVariable)
	}
	owner.freeVariables[name] = v
	return v
}

func (l *linker) annotations(recs []classfile.AnnotationRecord) []Annotation {
	if len(recs) == 0 {
		return nil
	}
	out := make([]Annotation, len(recs))
	for i, a := range recs {
		out[i] = Annotation{Type: l.ix.resolve(a.TypeName), Visible: a.Visible, Values: a.Values}
	}
	return out
}

// linkMembers resolves member types. Method type variables are declared,
// bound and erased per method; they may refer to the class's variables,
// which are erased by now.
func (l *linker) linkMembers(p *prepared) {
	n := p.node
	if len(p.rec.Members) == 0 {
		return
	}
	classScope := l.classScope(n)
	n.members = make([]*Member, len(p.rec.Members))
	for i, mr := range p.rec.Members {
		m := &Member{
			owner:       n,
			Kind:        mr.Kind,
			Name:        mr.Name,
			Descriptor:  mr.Descriptor,
			Signature:   mr.Signature,
			Modifiers:   mr.Modifiers,
			Annotations: l.annotations(mr.Annotations),
			typ:         l.ix.resolveID(mr.TypeName),
			params:      l.ix.resolveIDs(mr.ParameterTypeNames),
			throws:      l.ix.resolveIDs(mr.ThrowsNames),
		}
		sig := p.members[i]
		switch {
		case sig.field != nil:
			m.genericType = l.resolveType(*sig.field, classScope, n)
		case sig.method != nil:
			m.typeParams = declare(sig.method.TypeParameters, n, mr.Name+mr.Descriptor)
			scope := classScope
			if len(m.typeParams) > 0 {
				scope = &typeScope{vars: m.typeParams, parent: classScope}
			}
			l.bindBounds(m.typeParams, sig.method.TypeParameters, scope, n)
			l.eraseAll(m.typeParams)
			m.genericType = l.resolveType(sig.method.Return, scope, n)
			m.genericParams = make([]JavaType, len(sig.method.Parameters))
			for j, ps := range sig.method.Parameters {
				m.genericParams[j] = l.resolveType(ps, scope, n)
			}
		}
		n.members[i] = m
	}
}

// linkAccesses turns the record's accesses into edges owned by the graph.
func (l *linker) linkAccesses(p *prepared) {
	g := l.ix.g
	n := p.node
	for _, acc := range p.rec.Accesses {
		e := &AccessEdge{
			Kind:         acc.Kind,
			Origin:       n,
			OriginMember: acc.Origin,
			Target:       l.ix.resolve(acc.TargetOwner),
			Line:         acc.Line,
		}
		if acc.Kind.TargetsMember() {
			e.TargetMember = acc.Target()
		}
		n.outgoing = append(n.outgoing, len(g.edges))
		g.edges = append(g.edges, e)
	}
}

// finish completes the facts that need the whole graph.
func (l *linker) finish() {
	g := l.ix.g
	for _, ga := range l.genericArrays {
		ga.erasure = l.ix.resolve(ga.component.Erasure().name + "[]")
	}

	for i, e := range g.edges {
		if e.Kind.TargetsMember() {
			e.DeclaringClass = l.declaringClass(e)
		}
		e.Target.incoming = append(e.Target.incoming, i)
	}

	// Resolving above may have appended stubs; walk the final node list.
	for _, n := range g.nodes {
		if _, err := l.ix.outermost(n); err != nil {
			l.logger.Error("enclosing class walk failed after validation",
				slog.String("class", n.name),
				slog.Any("error", err),
			)
			n.outermost = n.id
		}
	}
}

// declaringClass finds the class declaring the edge's target member.
// Constructors are never inherited, so only the target itself is searched.
func (l *linker) declaringClass(e *AccessEdge) *ClassNode {
	if e.Kind == classfile.AccessConstructorCall {
		if _, ok := e.Target.Member(e.TargetMember); ok {
			return e.Target
		}
		return nil
	}
	var found *ClassNode
	l.ix.g.walkSupertypes(e.Target, func(c *ClassNode) bool {
		if _, ok := c.Member(e.TargetMember); ok {
			found = c
			return false
		}
		return true
	})
	return found
}
