// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classfile

import (
	"fmt"
	"strings"
)

// SignatureKind distinguishes the shapes of a TypeSignature.
type SignatureKind int

const (
	// SigClass is a (possibly parameterized) class type.
	SigClass SignatureKind = iota

	// SigTypeVariable is a reference to a type variable by name.
	SigTypeVariable

	// SigArray is an array of Elem.
	SigArray

	// SigPrimitive is a base type such as int.
	SigPrimitive

	// SigWildcard is "?", "? extends Elem" or "? super Elem".
	SigWildcard
)

// TypeSignature is a parsed generic type reference.
//
// Type variables are referenced by name only; binding them to their
// declarations is the assembler's job, since a bound may refer to a variable
// of the same declaration list (T extends Comparable<T>).
type TypeSignature struct {
	Kind SignatureKind `json:"kind"`

	// Name is the canonical class name (SigClass), the variable name
	// (SigTypeVariable) or the primitive name (SigPrimitive).
	Name string `json:"name,omitempty"`

	// Args are the type arguments of a SigClass.
	Args []TypeSignature `json:"args,omitempty"`

	// Elem is the component of a SigArray, or the bound of a SigWildcard
	// (nil for the unbounded wildcard).
	Elem *TypeSignature `json:"elem,omitempty"`

	// Lower marks a "? super" wildcard.
	Lower bool `json:"lower,omitempty"`
}

// ClassSig returns a class type signature with optional arguments.
func ClassSig(name string, args ...TypeSignature) TypeSignature {
	return TypeSignature{Kind: SigClass, Name: name, Args: args}
}

// TypeVarSig returns a type variable reference.
func TypeVarSig(name string) TypeSignature {
	return TypeSignature{Kind: SigTypeVariable, Name: name}
}

// String renders the signature in Java source notation.
func (s TypeSignature) String() string {
	switch s.Kind {
	case SigClass:
		if len(s.Args) == 0 {
			return s.Name
		}
		args := make([]string, len(s.Args))
		for i, a := range s.Args {
			args[i] = a.String()
		}
		return s.Name + "<" + strings.Join(args, ", ") + ">"
	case SigArray:
		return s.Elem.String() + "[]"
	case SigWildcard:
		if s.Elem == nil {
			return "?"
		}
		if s.Lower {
			return "? super " + s.Elem.String()
		}
		return "? extends " + s.Elem.String()
	default:
		return s.Name
	}
}

// ErasureName returns the canonical class name of the signature's erasure,
// or "" for type variables and unbounded wildcards, whose erasure depends on
// declarations the signature does not carry.
func (s TypeSignature) ErasureName() string {
	switch s.Kind {
	case SigClass, SigPrimitive:
		return s.Name
	case SigArray:
		if e := s.Elem.ErasureName(); e != "" {
			return e + "[]"
		}
		return ""
	default:
		return ""
	}
}

func (s TypeSignature) collectClassNames(add func(string)) {
	switch s.Kind {
	case SigClass:
		add(s.Name)
		for _, a := range s.Args {
			a.collectClassNames(add)
		}
	case SigArray, SigWildcard:
		if s.Elem != nil {
			s.Elem.collectClassNames(add)
		}
	}
}

// ClassSignature is the parsed Signature attribute of a class.
type ClassSignature struct {
	TypeParameters []TypeParameterDecl
	Superclass     TypeSignature
	Interfaces     []TypeSignature
}

// MethodSignature is the parsed Signature attribute of a method.
type MethodSignature struct {
	TypeParameters []TypeParameterDecl
	Parameters     []TypeSignature
	Return         TypeSignature
	Throws         []TypeSignature
}

// ParseClassSignature parses a class Signature attribute.
func ParseClassSignature(sig string) (*ClassSignature, error) {
	p := &sigParser{s: sig}
	out := &ClassSignature{}
	var err error
	if out.TypeParameters, err = p.typeParameters(); err != nil {
		return nil, err
	}
	if out.Superclass, err = p.classType(); err != nil {
		return nil, err
	}
	for !p.done() {
		iface, err := p.classType()
		if err != nil {
			return nil, err
		}
		out.Interfaces = append(out.Interfaces, iface)
	}
	return out, nil
}

// ParseMethodSignature parses a method Signature attribute.
func ParseMethodSignature(sig string) (*MethodSignature, error) {
	p := &sigParser{s: sig}
	out := &MethodSignature{}
	var err error
	if out.TypeParameters, err = p.typeParameters(); err != nil {
		return nil, err
	}
	if err := p.expect('('); err != nil {
		return nil, err
	}
	for p.peek() != ')' {
		if p.done() {
			return nil, p.fail("unterminated parameter list")
		}
		t, err := p.javaType()
		if err != nil {
			return nil, err
		}
		out.Parameters = append(out.Parameters, t)
	}
	p.pos++ // ')'
	if p.peek() == 'V' {
		p.pos++
		out.Return = TypeSignature{Kind: SigPrimitive, Name: "void"}
	} else if out.Return, err = p.javaType(); err != nil {
		return nil, err
	}
	for p.peek() == '^' {
		p.pos++
		t, err := p.referenceType()
		if err != nil {
			return nil, err
		}
		out.Throws = append(out.Throws, t)
	}
	if !p.done() {
		return nil, p.fail("trailing data")
	}
	return out, nil
}

// ParseFieldSignature parses a field Signature attribute.
func ParseFieldSignature(sig string) (TypeSignature, error) {
	p := &sigParser{s: sig}
	t, err := p.referenceType()
	if err != nil {
		return TypeSignature{}, err
	}
	if !p.done() {
		return TypeSignature{}, p.fail("trailing data")
	}
	return t, nil
}

type sigParser struct {
	s   string
	pos int
}

func (p *sigParser) done() bool { return p.pos >= len(p.s) }

func (p *sigParser) peek() byte {
	if p.done() {
		return 0
	}
	return p.s[p.pos]
}

func (p *sigParser) fail(reason string) error {
	return fmt.Errorf("%w: %s at %d in %q", ErrBadSignature, reason, p.pos, p.s)
}

func (p *sigParser) expect(c byte) error {
	if p.peek() != c {
		return p.fail(fmt.Sprintf("expected %q", c))
	}
	p.pos++
	return nil
}

// identifier reads up to (not including) any of the terminators.
func (p *sigParser) identifier(terminators string) (string, error) {
	start := p.pos
	for !p.done() && strings.IndexByte(terminators, p.s[p.pos]) < 0 {
		p.pos++
	}
	if p.pos == start {
		return "", p.fail("empty identifier")
	}
	return p.s[start:p.pos], nil
}

func (p *sigParser) typeParameters() ([]TypeParameterDecl, error) {
	if p.peek() != '<' {
		return nil, nil
	}
	p.pos++
	var params []TypeParameterDecl
	for p.peek() != '>' {
		if p.done() {
			return nil, p.fail("unterminated type parameters")
		}
		name, err := p.identifier(":>")
		if err != nil {
			return nil, err
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		decl := TypeParameterDecl{Name: name}
		// Class bound is optional: "T::Ljava/lang/Runnable;" has only an
		// interface bound.
		if c := p.peek(); c == 'L' || c == 'T' || c == '[' {
			b, err := p.referenceType()
			if err != nil {
				return nil, err
			}
			decl.Bounds = append(decl.Bounds, b)
		}
		for p.peek() == ':' {
			p.pos++
			b, err := p.referenceType()
			if err != nil {
				return nil, err
			}
			decl.Bounds = append(decl.Bounds, b)
		}
		if len(decl.Bounds) == 0 {
			decl.Bounds = []TypeSignature{ClassSig(ObjectClassName)}
		}
		params = append(params, decl)
	}
	p.pos++ // '>'
	if len(params) == 0 {
		return nil, p.fail("empty type parameter list")
	}
	return params, nil
}

func (p *sigParser) javaType() (TypeSignature, error) {
	if name, ok := primitiveNames[p.peek()]; ok && p.peek() != 'V' {
		p.pos++
		return TypeSignature{Kind: SigPrimitive, Name: name}, nil
	}
	return p.referenceType()
}

func (p *sigParser) referenceType() (TypeSignature, error) {
	switch p.peek() {
	case 'L':
		return p.classType()
	case 'T':
		p.pos++
		name, err := p.identifier(";")
		if err != nil {
			return TypeSignature{}, err
		}
		if err := p.expect(';'); err != nil {
			return TypeSignature{}, err
		}
		return TypeVarSig(name), nil
	case '[':
		p.pos++
		elem, err := p.javaType()
		if err != nil {
			return TypeSignature{}, err
		}
		return TypeSignature{Kind: SigArray, Elem: &elem}, nil
	default:
		return TypeSignature{}, p.fail("expected reference type")
	}
}

// classType parses "Lpkg/Outer<...>.Inner<...>;". Nested segments are joined
// with '$'; the arguments of the innermost segment are kept.
func (p *sigParser) classType() (TypeSignature, error) {
	if err := p.expect('L'); err != nil {
		return TypeSignature{}, err
	}
	name, err := p.identifier("<.;")
	if err != nil {
		return TypeSignature{}, err
	}
	var args []TypeSignature
	for {
		if p.peek() == '<' {
			if args, err = p.typeArguments(); err != nil {
				return TypeSignature{}, err
			}
		}
		if p.peek() != '.' {
			break
		}
		p.pos++
		inner, err := p.identifier("<.;")
		if err != nil {
			return TypeSignature{}, err
		}
		name += "$" + inner
		args = nil
	}
	if err := p.expect(';'); err != nil {
		return TypeSignature{}, err
	}
	return ClassSig(strings.ReplaceAll(name, "/", "."), args...), nil
}

func (p *sigParser) typeArguments() ([]TypeSignature, error) {
	p.pos++ // '<'
	var args []TypeSignature
	for p.peek() != '>' {
		if p.done() {
			return nil, p.fail("unterminated type arguments")
		}
		switch p.peek() {
		case '*':
			p.pos++
			args = append(args, TypeSignature{Kind: SigWildcard})
		case '+', '-':
			lower := p.peek() == '-'
			p.pos++
			b, err := p.referenceType()
			if err != nil {
				return nil, err
			}
			args = append(args, TypeSignature{Kind: SigWildcard, Elem: &b, Lower: lower})
		default:
			t, err := p.referenceType()
			if err != nil {
				return nil, err
			}
			args = append(args, t)
		}
	}
	p.pos++ // '>'
	if len(args) == 0 {
		return nil, p.fail("empty type arguments")
	}
	return args, nil
}
