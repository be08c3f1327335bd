// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classfiletest assembles small, valid class files for tests.
//
// Names passed to the builders use the internal form ("com/acme/Foo").
package classfiletest

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"
	"strconv"
)

// Opcodes accepted by CodeBuilder.
const (
	OpNop             = 0x00
	OpAconstNull      = 0x01
	OpLdc             = 0x12
	OpLdcW            = 0x13
	OpLdc2W           = 0x14
	OpAload0          = 0x2a
	OpPop             = 0x57
	OpReturn          = 0xb1
	OpGetstatic       = 0xb2
	OpPutstatic       = 0xb3
	OpGetfield        = 0xb4
	OpPutfield        = 0xb5
	OpInvokevirtual   = 0xb6
	OpInvokespecial   = 0xb7
	OpInvokestatic    = 0xb8
	OpInvokeinterface = 0xb9
	OpNew             = 0xbb
	OpAnewarray       = 0xbd
	OpCheckcast       = 0xc0
	OpInstanceof      = 0xc1
	OpMultianewarray  = 0xc5
	OpTableswitch     = 0xaa
	OpLookupswitch    = 0xab
)

// Access flags.
const (
	AccPublic    = 0x0001
	AccPrivate   = 0x0002
	AccProtected = 0x0004
	AccStatic    = 0x0008
	AccFinal     = 0x0010
	AccSuper     = 0x0020
	AccInterface = 0x0200
	AccAbstract  = 0x0400
	AccEnum      = 0x4000
)

type pool struct {
	buf   bytes.Buffer
	next  uint16
	index map[string]uint16
}

func newPool() *pool {
	return &pool{next: 1, index: make(map[string]uint16)}
}

func (p *pool) add(key string, slots uint16, write func(*bytes.Buffer)) uint16 {
	if idx, ok := p.index[key]; ok {
		return idx
	}
	idx := p.next
	write(&p.buf)
	p.next += slots
	p.index[key] = idx
	return idx
}

func (p *pool) utf8(s string) uint16 {
	return p.add("U"+s, 1, func(b *bytes.Buffer) {
		b.WriteByte(1)
		writeU2(b, uint16(len(s)))
		b.WriteString(s)
	})
}

func (p *pool) class(name string) uint16 {
	n := p.utf8(name)
	return p.add("C"+name, 1, func(b *bytes.Buffer) {
		b.WriteByte(7)
		writeU2(b, n)
	})
}

func (p *pool) str(s string) uint16 {
	n := p.utf8(s)
	return p.add("S"+s, 1, func(b *bytes.Buffer) {
		b.WriteByte(8)
		writeU2(b, n)
	})
}

func (p *pool) integer(v int32) uint16 {
	return p.add("I"+strconv.FormatInt(int64(v), 10), 1, func(b *bytes.Buffer) {
		b.WriteByte(3)
		writeU4(b, uint32(v))
	})
}

func (p *pool) long(v int64) uint16 {
	return p.add("J"+strconv.FormatInt(v, 10), 2, func(b *bytes.Buffer) {
		b.WriteByte(5)
		writeU4(b, uint32(uint64(v)>>32))
		writeU4(b, uint32(v))
	})
}

func (p *pool) double(v float64) uint16 {
	bits := math.Float64bits(v)
	return p.add("D"+strconv.FormatUint(bits, 16), 2, func(b *bytes.Buffer) {
		b.WriteByte(6)
		writeU4(b, uint32(bits>>32))
		writeU4(b, uint32(bits))
	})
}

func (p *pool) nameAndType(name, desc string) uint16 {
	n, d := p.utf8(name), p.utf8(desc)
	return p.add("N"+name+" "+desc, 1, func(b *bytes.Buffer) {
		b.WriteByte(12)
		writeU2(b, n)
		writeU2(b, d)
	})
}

func (p *pool) memberRef(tag byte, owner, name, desc string) uint16 {
	c, nt := p.class(owner), p.nameAndType(name, desc)
	return p.add(string(rune(tag))+owner+"."+name+desc, 1, func(b *bytes.Buffer) {
		b.WriteByte(tag)
		writeU2(b, c)
		writeU2(b, nt)
	})
}

// Annotation describes a class or member annotation.
type Annotation struct {
	// Descriptor is the annotation type as a field descriptor, e.g. "Lcom/acme/Marker;".
	Descriptor string
	Visible    bool
	// Strings are string-valued elements.
	Strings map[string]string
	// Classes are class-valued elements, as field descriptors.
	Classes map[string]string
}

type innerClass struct {
	inner, outer, simple string
	flags                uint16
}

// ClassBuilder assembles a class file.
type ClassBuilder struct {
	name       string
	super      string
	interfaces []string
	access     uint16
	major      uint16
	signature  string
	sourceFile string
	inner      []innerClass
	enclosing  *[3]string
	annots     []Annotation
	fields     []*MemberBuilder
	methods    []*MemberBuilder
}

// NewClass starts a public class extending java/lang/Object, version 61.
func NewClass(name string) *ClassBuilder {
	return &ClassBuilder{
		name:   name,
		super:  "java/lang/Object",
		access: AccPublic | AccSuper,
		major:  61,
	}
}

// Super sets the superclass. An empty name omits it (java/lang/Object only).
func (b *ClassBuilder) Super(name string) *ClassBuilder { b.super = name; return b }

// Interfaces appends implemented interfaces.
func (b *ClassBuilder) Interfaces(names ...string) *ClassBuilder {
	b.interfaces = append(b.interfaces, names...)
	return b
}

// Access replaces the header access flags.
func (b *ClassBuilder) Access(flags uint16) *ClassBuilder { b.access = flags; return b }

// Version sets the major version.
func (b *ClassBuilder) Version(major uint16) *ClassBuilder { b.major = major; return b }

// Signature sets the generic class signature.
func (b *ClassBuilder) Signature(sig string) *ClassBuilder { b.signature = sig; return b }

// SourceFile sets the SourceFile attribute.
func (b *ClassBuilder) SourceFile(name string) *ClassBuilder { b.sourceFile = name; return b }

// InnerClass adds an InnerClasses entry. outer may be empty for local and
// anonymous classes.
func (b *ClassBuilder) InnerClass(inner, outer, simple string, flags uint16) *ClassBuilder {
	b.inner = append(b.inner, innerClass{inner: inner, outer: outer, simple: simple, flags: flags})
	return b
}

// EnclosingMethod sets the EnclosingMethod attribute. name may be empty.
func (b *ClassBuilder) EnclosingMethod(owner, name, desc string) *ClassBuilder {
	b.enclosing = &[3]string{owner, name, desc}
	return b
}

// Annotate adds a class annotation.
func (b *ClassBuilder) Annotate(a Annotation) *ClassBuilder {
	b.annots = append(b.annots, a)
	return b
}

// Field adds a field.
func (b *ClassBuilder) Field(access uint16, name, desc string) *MemberBuilder {
	m := &MemberBuilder{access: access, name: name, desc: desc}
	b.fields = append(b.fields, m)
	return m
}

// Method adds a method.
func (b *ClassBuilder) Method(access uint16, name, desc string) *MemberBuilder {
	m := &MemberBuilder{access: access, name: name, desc: desc}
	b.methods = append(b.methods, m)
	return m
}

// MemberBuilder configures a field or method.
type MemberBuilder struct {
	access    uint16
	name      string
	desc      string
	signature string
	throws    []string
	annots    []Annotation
	code      *CodeBuilder
}

// Signature sets the generic member signature.
func (m *MemberBuilder) Signature(sig string) *MemberBuilder { m.signature = sig; return m }

// Throws sets the Exceptions attribute.
func (m *MemberBuilder) Throws(names ...string) *MemberBuilder {
	m.throws = append(m.throws, names...)
	return m
}

// Annotate adds a member annotation.
func (m *MemberBuilder) Annotate(a Annotation) *MemberBuilder {
	m.annots = append(m.annots, a)
	return m
}

// Code attaches a method body built by fn.
func (m *MemberBuilder) Code(fn func(c *CodeBuilder)) *MemberBuilder {
	m.code = &CodeBuilder{}
	fn(m.code)
	return m
}

type op struct {
	emit func(p *pool, b *bytes.Buffer)
	line int
}

// CodeBuilder records instructions. Pool references are resolved when the
// class is written.
type CodeBuilder struct {
	ops      []op
	nextLine int
}

// Line sets the source line for the following instructions.
func (c *CodeBuilder) Line(n int) *CodeBuilder { c.nextLine = n; return c }

func (c *CodeBuilder) add(fn func(p *pool, b *bytes.Buffer)) *CodeBuilder {
	c.ops = append(c.ops, op{emit: fn, line: c.nextLine})
	c.nextLine = 0
	return c
}

// Raw emits bytes as they are.
func (c *CodeBuilder) Raw(bs ...byte) *CodeBuilder {
	return c.add(func(_ *pool, b *bytes.Buffer) { b.Write(bs) })
}

// Invoke emits an invoke instruction.
func (c *CodeBuilder) Invoke(opcode byte, owner, name, desc string) *CodeBuilder {
	return c.add(func(p *pool, b *bytes.Buffer) {
		tag := byte(10)
		if opcode == OpInvokeinterface {
			tag = 11
		}
		b.WriteByte(opcode)
		writeU2(b, p.memberRef(tag, owner, name, desc))
		if opcode == OpInvokeinterface {
			b.WriteByte(1)
			b.WriteByte(0)
		}
	})
}

// FieldAccess emits getfield/putfield/getstatic/putstatic.
func (c *CodeBuilder) FieldAccess(opcode byte, owner, name, desc string) *CodeBuilder {
	return c.add(func(p *pool, b *bytes.Buffer) {
		b.WriteByte(opcode)
		writeU2(b, p.memberRef(9, owner, name, desc))
	})
}

// TypeOp emits new, anewarray, checkcast or instanceof.
func (c *CodeBuilder) TypeOp(opcode byte, class string) *CodeBuilder {
	return c.add(func(p *pool, b *bytes.Buffer) {
		b.WriteByte(opcode)
		writeU2(b, p.class(class))
	})
}

// MultiNewArray emits multianewarray for an array descriptor such as "[[I".
func (c *CodeBuilder) MultiNewArray(desc string, dims byte) *CodeBuilder {
	return c.add(func(p *pool, b *bytes.Buffer) {
		b.WriteByte(OpMultianewarray)
		writeU2(b, p.class(desc))
		b.WriteByte(dims)
	})
}

// LdcClass loads a class literal with ldc_w.
func (c *CodeBuilder) LdcClass(class string) *CodeBuilder {
	return c.add(func(p *pool, b *bytes.Buffer) {
		b.WriteByte(OpLdcW)
		writeU2(b, p.class(class))
	})
}

// LdcString loads a string constant with ldc_w.
func (c *CodeBuilder) LdcString(s string) *CodeBuilder {
	return c.add(func(p *pool, b *bytes.Buffer) {
		b.WriteByte(OpLdcW)
		writeU2(b, p.str(s))
	})
}

// LdcInt loads an int constant with ldc_w.
func (c *CodeBuilder) LdcInt(v int32) *CodeBuilder {
	return c.add(func(p *pool, b *bytes.Buffer) {
		b.WriteByte(OpLdcW)
		writeU2(b, p.integer(v))
	})
}

// LdcLong loads a long constant with ldc2_w.
func (c *CodeBuilder) LdcLong(v int64) *CodeBuilder {
	return c.add(func(p *pool, b *bytes.Buffer) {
		b.WriteByte(OpLdc2W)
		writeU2(b, p.long(v))
	})
}

// LdcDouble loads a double constant with ldc2_w.
func (c *CodeBuilder) LdcDouble(v float64) *CodeBuilder {
	return c.add(func(p *pool, b *bytes.Buffer) {
		b.WriteByte(OpLdc2W)
		writeU2(b, p.double(v))
	})
}

// Bytes writes the class file.
func (b *ClassBuilder) Bytes() []byte {
	p := newPool()
	var body bytes.Buffer

	writeU2(&body, b.access)
	writeU2(&body, p.class(b.name))
	if b.super == "" {
		writeU2(&body, 0)
	} else {
		writeU2(&body, p.class(b.super))
	}
	writeU2(&body, uint16(len(b.interfaces)))
	for _, i := range b.interfaces {
		writeU2(&body, p.class(i))
	}

	for _, group := range [][]*MemberBuilder{b.fields, b.methods} {
		writeU2(&body, uint16(len(group)))
		for _, m := range group {
			m.write(p, &body)
		}
	}

	var attrs []attribute
	if b.sourceFile != "" {
		attrs = append(attrs, attribute{"SourceFile", u2Bytes(p.utf8(b.sourceFile))})
	}
	if b.signature != "" {
		attrs = append(attrs, attribute{"Signature", u2Bytes(p.utf8(b.signature))})
	}
	if len(b.inner) > 0 {
		var ib bytes.Buffer
		writeU2(&ib, uint16(len(b.inner)))
		for _, ic := range b.inner {
			writeU2(&ib, p.class(ic.inner))
			if ic.outer == "" {
				writeU2(&ib, 0)
			} else {
				writeU2(&ib, p.class(ic.outer))
			}
			if ic.simple == "" {
				writeU2(&ib, 0)
			} else {
				writeU2(&ib, p.utf8(ic.simple))
			}
			writeU2(&ib, ic.flags)
		}
		attrs = append(attrs, attribute{"InnerClasses", ib.Bytes()})
	}
	if b.enclosing != nil {
		var eb bytes.Buffer
		writeU2(&eb, p.class(b.enclosing[0]))
		if b.enclosing[1] == "" {
			writeU2(&eb, 0)
		} else {
			writeU2(&eb, p.nameAndType(b.enclosing[1], b.enclosing[2]))
		}
		attrs = append(attrs, attribute{"EnclosingMethod", eb.Bytes()})
	}
	attrs = append(attrs, annotationAttributes(p, b.annots)...)
	writeAttributes(p, &body, attrs)

	var out bytes.Buffer
	writeU4(&out, 0xCAFEBABE)
	writeU2(&out, 0)
	writeU2(&out, b.major)
	writeU2(&out, p.next)
	out.Write(p.buf.Bytes())
	out.Write(body.Bytes())
	return out.Bytes()
}

func (m *MemberBuilder) write(p *pool, out *bytes.Buffer) {
	writeU2(out, m.access)
	writeU2(out, p.utf8(m.name))
	writeU2(out, p.utf8(m.desc))

	var attrs []attribute
	if m.signature != "" {
		attrs = append(attrs, attribute{"Signature", u2Bytes(p.utf8(m.signature))})
	}
	if len(m.throws) > 0 {
		var eb bytes.Buffer
		writeU2(&eb, uint16(len(m.throws)))
		for _, t := range m.throws {
			writeU2(&eb, p.class(t))
		}
		attrs = append(attrs, attribute{"Exceptions", eb.Bytes()})
	}
	if m.code != nil {
		attrs = append(attrs, attribute{"Code", m.code.bytes(p)})
	}
	attrs = append(attrs, annotationAttributes(p, m.annots)...)
	writeAttributes(p, out, attrs)
}

func (c *CodeBuilder) bytes(p *pool) []byte {
	var code bytes.Buffer
	var lines [][2]uint16
	for _, o := range c.ops {
		if o.line > 0 {
			lines = append(lines, [2]uint16{uint16(code.Len()), uint16(o.line)})
		}
		o.emit(p, &code)
	}

	var out bytes.Buffer
	writeU2(&out, 8) // max_stack
	writeU2(&out, 8) // max_locals
	writeU4(&out, uint32(code.Len()))
	out.Write(code.Bytes())
	writeU2(&out, 0) // exception table
	if len(lines) == 0 {
		writeU2(&out, 0)
		return out.Bytes()
	}
	var lt bytes.Buffer
	writeU2(&lt, uint16(len(lines)))
	for _, l := range lines {
		writeU2(&lt, l[0])
		writeU2(&lt, l[1])
	}
	writeAttributes(p, &out, []attribute{{"LineNumberTable", lt.Bytes()}})
	return out.Bytes()
}

type attribute struct {
	name string
	data []byte
}

func writeAttributes(p *pool, out *bytes.Buffer, attrs []attribute) {
	writeU2(out, uint16(len(attrs)))
	for _, a := range attrs {
		writeU2(out, p.utf8(a.name))
		writeU4(out, uint32(len(a.data)))
		out.Write(a.data)
	}
}

func annotationAttributes(p *pool, annots []Annotation) []attribute {
	var visible, invisible []Annotation
	for _, a := range annots {
		if a.Visible {
			visible = append(visible, a)
		} else {
			invisible = append(invisible, a)
		}
	}
	var out []attribute
	if len(visible) > 0 {
		out = append(out, attribute{"RuntimeVisibleAnnotations", annotationBytes(p, visible)})
	}
	if len(invisible) > 0 {
		out = append(out, attribute{"RuntimeInvisibleAnnotations", annotationBytes(p, invisible)})
	}
	return out
}

func annotationBytes(p *pool, annots []Annotation) []byte {
	var b bytes.Buffer
	writeU2(&b, uint16(len(annots)))
	for _, a := range annots {
		writeU2(&b, p.utf8(a.Descriptor))
		writeU2(&b, uint16(len(a.Strings)+len(a.Classes)))
		for _, k := range sortedKeys(a.Strings) {
			writeU2(&b, p.utf8(k))
			b.WriteByte('s')
			writeU2(&b, p.utf8(a.Strings[k]))
		}
		for _, k := range sortedKeys(a.Classes) {
			writeU2(&b, p.utf8(k))
			b.WriteByte('c')
			writeU2(&b, p.utf8(a.Classes[k]))
		}
	}
	return b.Bytes()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeU2(b *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}

func writeU4(b *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}

func u2Bytes(v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return tmp[:]
}
