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

const (
	classMagic = 0xCAFEBABE

	// MinSupportedMajor is JDK 1.1.
	MinSupportedMajor = 45

	// MaxSupportedMajor is JDK 25.
	MaxSupportedMajor = 69
)

// Attribute names read by the parser. Everything else is skipped.
const (
	attrCode                      = "Code"
	attrSignature                 = "Signature"
	attrSourceFile                = "SourceFile"
	attrInnerClasses              = "InnerClasses"
	attrEnclosingMethod           = "EnclosingMethod"
	attrExceptions                = "Exceptions"
	attrLineNumberTable           = "LineNumberTable"
	attrRuntimeVisibleAnnotations = "RuntimeVisibleAnnotations"
	attrRuntimeInvisibleAnnots    = "RuntimeInvisibleAnnotations"
)

// Parse extracts one ClassRecord from raw class file bytes.
//
// Description:
//
//	Equivalent to ParseEntry with an empty entry name.
func Parse(data []byte) (*ClassRecord, error) {
	return ParseEntry("", data)
}

// ParseEntry extracts one ClassRecord from raw class file bytes.
//
// Inputs:
//
//	entry - Identifies the input in error messages (typically the entry URI).
//	data - The complete class file.
//
// Outputs:
//
//	*ClassRecord - The extracted record. Nil on error.
//	error - A *MalformedInputError if the content is corrupt or its version
//	        is unsupported.
//
// Thread Safety: Safe for concurrent use.
func ParseEntry(entry string, data []byte) (*ClassRecord, error) {
	p := &parser{c: &cursor{data: data}}
	rec, err := p.parse()
	if err != nil {
		off := p.errOffset
		if p.c.err != nil {
			off = p.c.errPos
		}
		return nil, &MalformedInputError{Entry: entry, Offset: off, Err: err}
	}
	return rec, nil
}

type parser struct {
	c         *cursor
	pool      constantPool
	thisName  string
	errOffset int
}

// check converts a latched cursor error or err into the parse error.
func (p *parser) check(err error) error {
	if p.c.err != nil {
		return p.c.err
	}
	if err != nil {
		p.errOffset = p.c.pos
	}
	return err
}

func (p *parser) parse() (*ClassRecord, error) {
	c := p.c
	if c.u4() != classMagic {
		if c.err != nil {
			return nil, c.err
		}
		p.errOffset = 0
		return nil, ErrBadMagic
	}
	c.u2() // minor
	major := c.u2()
	if c.err != nil {
		return nil, c.err
	}
	if major < MinSupportedMajor || major > MaxSupportedMajor {
		p.errOffset = 6
		return nil, fmt.Errorf("%w: major version %d", ErrUnsupportedVersion, major)
	}

	p.pool = readConstantPool(c)
	if c.err != nil {
		return nil, c.err
	}

	rec := &ClassRecord{MajorVersion: major}
	rec.Modifiers = Modifiers(c.u2())
	thisIdx := c.u2()
	superIdx := c.u2()
	if err := p.check(nil); err != nil {
		return nil, err
	}

	var err error
	if rec.Name, err = p.pool.className(thisIdx); err != nil {
		return nil, p.check(err)
	}
	p.thisName = rec.Name
	if superIdx != 0 {
		if rec.SuperclassName, err = p.pool.className(superIdx); err != nil {
			return nil, p.check(err)
		}
	}

	ifaceCount := int(c.u2())
	for i := 0; i < ifaceCount; i++ {
		name, err := p.pool.className(c.u2())
		if err := p.check(err); err != nil {
			return nil, err
		}
		rec.InterfaceNames = append(rec.InterfaceNames, name)
	}

	fieldCount := int(c.u2())
	for i := 0; i < fieldCount; i++ {
		m, _, err := p.member(true)
		if err != nil {
			return nil, err
		}
		rec.Members = append(rec.Members, m)
	}

	methodCount := int(c.u2())
	for i := 0; i < methodCount; i++ {
		m, accesses, err := p.member(false)
		if err != nil {
			return nil, err
		}
		rec.Members = append(rec.Members, m)
		rec.Accesses = append(rec.Accesses, accesses...)
	}

	if err := p.classAttributes(rec); err != nil {
		return nil, err
	}
	if err := p.check(nil); err != nil {
		return nil, err
	}
	return rec, nil
}

// attributes iterates attribute_info structures, handing each body to fn as
// its own cursor.
func (p *parser) attributes(fn func(name string, body *cursor) error) error {
	count := int(p.c.u2())
	for i := 0; i < count; i++ {
		nameIdx := p.c.u2()
		length := int(p.c.u4())
		base := p.c.pos
		raw := p.c.bytes(length)
		if err := p.check(nil); err != nil {
			return err
		}
		name, err := p.pool.utf8(nameIdx)
		if err != nil {
			return p.check(err)
		}
		body := &cursor{data: raw}
		err = fn(name, body)
		if body.err != nil {
			p.errOffset = base + body.errPos
			return body.err
		}
		if err != nil {
			p.errOffset = base + body.pos
			return err
		}
	}
	return nil
}

func (p *parser) member(isField bool) (MemberRecord, []AccessRecord, error) {
	c := p.c
	m := MemberRecord{Modifiers: Modifiers(c.u2())}
	nameIdx := c.u2()
	descIdx := c.u2()
	if err := p.check(nil); err != nil {
		return m, nil, err
	}
	var err error
	if m.Name, err = p.pool.utf8(nameIdx); err != nil {
		return m, nil, p.check(err)
	}
	if m.Descriptor, err = p.pool.utf8(descIdx); err != nil {
		return m, nil, p.check(err)
	}

	if isField {
		m.Kind = MemberField
		if m.TypeName, err = FieldDescriptorToName(m.Descriptor); err != nil {
			return m, nil, p.check(err)
		}
	} else {
		switch m.Name {
		case ConstructorName:
			m.Kind = MemberConstructor
		case StaticInitializerName:
			m.Kind = MemberStaticInitializer
		default:
			m.Kind = MemberMethod
		}
		if m.ParameterTypeNames, m.TypeName, err = ParseMethodDescriptor(m.Descriptor); err != nil {
			return m, nil, p.check(err)
		}
	}

	var accesses []AccessRecord
	err = p.attributes(func(name string, body *cursor) error {
		switch name {
		case attrSignature:
			sig, err := p.pool.utf8(body.u2())
			if err != nil {
				return err
			}
			m.Signature = sig
			if isField {
				_, err = ParseFieldSignature(sig)
				return err
			}
			ms, err := ParseMethodSignature(sig)
			if err != nil {
				return err
			}
			m.TypeParameters = ms.TypeParameters
		case attrExceptions:
			n := int(body.u2())
			for i := 0; i < n && body.err == nil; i++ {
				t, err := p.pool.className(body.u2())
				if err != nil {
					return err
				}
				m.ThrowsNames = append(m.ThrowsNames, t)
			}
		case attrRuntimeVisibleAnnotations, attrRuntimeInvisibleAnnots:
			annots, err := p.annotations(body, name == attrRuntimeVisibleAnnotations)
			if err != nil {
				return err
			}
			m.Annotations = append(m.Annotations, annots...)
		case attrCode:
			if isField {
				return nil
			}
			acc, err := p.code(body, m.Key())
			if err != nil {
				return err
			}
			accesses = acc
		}
		return nil
	})
	return m, accesses, err
}

// code reads a Code attribute and scans its instructions for accesses.
func (p *parser) code(body *cursor, origin MemberKey) ([]AccessRecord, error) {
	body.u2() // max_stack
	body.u2() // max_locals
	codeLen := int(body.u4())
	code := body.bytes(codeLen)
	excLen := int(body.u2())
	body.skip(excLen * 8)
	if body.err != nil {
		return nil, body.err
	}

	var lines []lineEntry
	count := int(body.u2())
	for i := 0; i < count && body.err == nil; i++ {
		nameIdx := body.u2()
		length := int(body.u4())
		raw := body.bytes(length)
		if body.err != nil {
			break
		}
		name, err := p.pool.utf8(nameIdx)
		if err != nil {
			return nil, err
		}
		if name == attrLineNumberTable {
			lc := &cursor{data: raw}
			n := int(lc.u2())
			for j := 0; j < n && lc.err == nil; j++ {
				lines = append(lines, lineEntry{startPC: int(lc.u2()), line: int(lc.u2())})
			}
			if lc.err != nil {
				return nil, lc.err
			}
		}
	}
	if body.err != nil {
		return nil, body.err
	}
	return scanCode(p.pool, origin, code, lines)
}

func (p *parser) classAttributes(rec *ClassRecord) error {
	return p.attributes(func(name string, body *cursor) error {
		switch name {
		case attrSourceFile:
			sf, err := p.pool.utf8(body.u2())
			if err != nil {
				return err
			}
			rec.SourceFile = sf
		case attrSignature:
			raw, err := p.pool.utf8(body.u2())
			if err != nil {
				return err
			}
			sig, err := ParseClassSignature(raw)
			if err != nil {
				return err
			}
			rec.TypeParameters = sig.TypeParameters
			sup := sig.Superclass
			rec.GenericSuperclass = &sup
			rec.GenericInterfaces = sig.Interfaces
		case attrInnerClasses:
			return p.innerClasses(body, rec)
		case attrEnclosingMethod:
			owner, err := p.pool.className(body.u2())
			if err != nil {
				return err
			}
			natIdx := body.u2()
			if rec.EnclosingClassName == "" {
				rec.EnclosingClassName = owner
			}
			if natIdx != 0 {
				nat, err := p.pool.get(natIdx, tagNameAndType)
				if err != nil {
					return err
				}
				key := MemberKey{}
				if key.Name, err = p.pool.utf8(nat.a); err != nil {
					return err
				}
				if key.Descriptor, err = p.pool.utf8(nat.b); err != nil {
					return err
				}
				rec.EnclosingMethod = &key
			}
		case attrRuntimeVisibleAnnotations, attrRuntimeInvisibleAnnots:
			annots, err := p.annotations(body, name == attrRuntimeVisibleAnnotations)
			if err != nil {
				return err
			}
			rec.Annotations = append(rec.Annotations, annots...)
		}
		return nil
	})
}

// innerClasses picks out the entry describing the class itself: it names the
// enclosing class and carries the source-level modifiers.
func (p *parser) innerClasses(body *cursor, rec *ClassRecord) error {
	n := int(body.u2())
	for i := 0; i < n && body.err == nil; i++ {
		innerIdx := body.u2()
		outerIdx := body.u2()
		body.u2() // inner_name_index
		flags := Modifiers(body.u2())
		if body.err != nil {
			break
		}
		inner, err := p.pool.className(innerIdx)
		if err != nil {
			return err
		}
		if inner != rec.Name {
			continue
		}
		// ACC_SUPER is a header-only flag; keep it out of the nested flags.
		rec.Modifiers = flags &^ AccSynchronized
		if outerIdx != 0 {
			outer, err := p.pool.className(outerIdx)
			if err != nil {
				return err
			}
			rec.EnclosingClassName = outer
		}
	}
	return nil
}

func (p *parser) annotations(body *cursor, visible bool) ([]AnnotationRecord, error) {
	n := int(body.u2())
	out := make([]AnnotationRecord, 0, n)
	for i := 0; i < n && body.err == nil; i++ {
		a, err := p.annotation(body)
		if err != nil {
			return nil, err
		}
		a.Visible = visible
		out = append(out, a)
	}
	return out, body.err
}

func (p *parser) annotation(body *cursor) (AnnotationRecord, error) {
	desc, err := p.pool.utf8(body.u2())
	if err != nil {
		return AnnotationRecord{}, err
	}
	typeName, err := FieldDescriptorToName(desc)
	if err != nil {
		return AnnotationRecord{}, err
	}
	a := AnnotationRecord{TypeName: typeName}
	pairs := int(body.u2())
	for i := 0; i < pairs && body.err == nil; i++ {
		name, err := p.pool.utf8(body.u2())
		if err != nil {
			return a, err
		}
		v, err := p.elementValue(body)
		if err != nil {
			return a, err
		}
		if a.Values == nil {
			a.Values = make(map[string]string, pairs)
		}
		a.Values[name] = v
	}
	return a, body.err
}

func (p *parser) elementValue(body *cursor) (string, error) {
	tag := body.u1()
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's':
		return p.pool.literal(body.u2(), tag)
	case 'e':
		typeDesc, err := p.pool.utf8(body.u2())
		if err != nil {
			return "", err
		}
		constName, err := p.pool.utf8(body.u2())
		if err != nil {
			return "", err
		}
		typeName, err := FieldDescriptorToName(typeDesc)
		if err != nil {
			return "", err
		}
		return typeName + "." + constName, nil
	case 'c':
		desc, err := p.pool.utf8(body.u2())
		if err != nil {
			return "", err
		}
		if desc == "V" {
			return "void.class", nil
		}
		name, err := FieldDescriptorToName(desc)
		if err != nil {
			return "", err
		}
		return name + ".class", nil
	case '@':
		nested, err := p.annotation(body)
		if err != nil {
			return "", err
		}
		return "@" + nested.TypeName, nil
	case '[':
		n := int(body.u2())
		vals := make([]string, 0, n)
		for i := 0; i < n && body.err == nil; i++ {
			v, err := p.elementValue(body)
			if err != nil {
				return "", err
			}
			vals = append(vals, v)
		}
		return "[" + strings.Join(vals, ", ") + "]", nil
	default:
		if body.err != nil {
			return "", body.err
		}
		return "", fmt.Errorf("%w: unknown element value tag %q", ErrBadConstant, tag)
	}
}
