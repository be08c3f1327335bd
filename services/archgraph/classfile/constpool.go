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
	"math"
	"strconv"
)

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

// constant is one decoded constant pool slot. Index fields hold pool indices;
// value fields hold decoded literals.
type constant struct {
	tag  uint8
	a, b uint16
	str  string
	num  uint64
}

type constantPool []constant

func readConstantPool(c *cursor) constantPool {
	count := int(c.u2())
	pool := make(constantPool, count)
	for i := 1; i < count && c.err == nil; i++ {
		tag := c.u1()
		k := constant{tag: tag}
		switch tag {
		case tagUtf8:
			n := int(c.u2())
			raw := c.bytes(n)
			if c.err != nil {
				break
			}
			s, ok := decodeModifiedUTF8(raw)
			if !ok {
				c.fail(fmt.Errorf("%w: bad modified UTF-8 at slot %d", ErrBadConstant, i))
				break
			}
			k.str = s
		case tagInteger, tagFloat:
			k.num = uint64(c.u4())
		case tagLong, tagDouble:
			hi := uint64(c.u4())
			lo := uint64(c.u4())
			k.num = hi<<32 | lo
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			k.a = c.u2()
		case tagFieldref, tagMethodref, tagInterfaceMethodref, tagNameAndType,
			tagDynamic, tagInvokeDynamic:
			k.a = c.u2()
			k.b = c.u2()
		case tagMethodHandle:
			k.a = uint16(c.u1())
			k.b = c.u2()
		default:
			c.fail(fmt.Errorf("%w: unknown tag %d at slot %d", ErrBadConstant, tag, i))
		}
		pool[i] = k
		if tag == tagLong || tag == tagDouble {
			// 8-byte constants take two slots.
			i++
		}
	}
	return pool
}

func (p constantPool) get(idx uint16, tag uint8) (constant, error) {
	if idx == 0 || int(idx) >= len(p) || p[idx].tag != tag {
		return constant{}, fmt.Errorf("%w: index %d (want tag %d)", ErrBadConstant, idx, tag)
	}
	return p[idx], nil
}

func (p constantPool) utf8(idx uint16) (string, error) {
	k, err := p.get(idx, tagUtf8)
	if err != nil {
		return "", err
	}
	return k.str, nil
}

// className resolves a CONSTANT_Class to its canonical name.
func (p constantPool) className(idx uint16) (string, error) {
	k, err := p.get(idx, tagClass)
	if err != nil {
		return "", err
	}
	raw, err := p.utf8(k.a)
	if err != nil {
		return "", err
	}
	return NormalizeClassName(raw)
}

// memberRef resolves a Fieldref/Methodref/InterfaceMethodref.
func (p constantPool) memberRef(idx uint16) (owner string, key MemberKey, err error) {
	if idx == 0 || int(idx) >= len(p) {
		return "", MemberKey{}, fmt.Errorf("%w: member ref %d", ErrBadConstant, idx)
	}
	k := p[idx]
	switch k.tag {
	case tagFieldref, tagMethodref, tagInterfaceMethodref:
	default:
		return "", MemberKey{}, fmt.Errorf("%w: slot %d is not a member ref", ErrBadConstant, idx)
	}
	if owner, err = p.className(k.a); err != nil {
		return "", MemberKey{}, err
	}
	nat, err := p.get(k.b, tagNameAndType)
	if err != nil {
		return "", MemberKey{}, err
	}
	if key.Name, err = p.utf8(nat.a); err != nil {
		return "", MemberKey{}, err
	}
	if key.Descriptor, err = p.utf8(nat.b); err != nil {
		return "", MemberKey{}, err
	}
	return owner, key, nil
}

// literal renders an Integer/Float/Long/Double/String/Utf8 constant for
// annotation values.
func (p constantPool) literal(idx uint16, tag byte) (string, error) {
	if idx == 0 || int(idx) >= len(p) {
		return "", fmt.Errorf("%w: literal %d", ErrBadConstant, idx)
	}
	k := p[idx]
	switch k.tag {
	case tagUtf8:
		return k.str, nil
	case tagString:
		return p.utf8(k.a)
	case tagInteger:
		v := int32(uint32(k.num))
		switch tag {
		case 'Z':
			return strconv.FormatBool(v != 0), nil
		case 'C':
			return string(rune(v)), nil
		}
		return strconv.FormatInt(int64(v), 10), nil
	case tagFloat:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(k.num))), 'g', -1, 32), nil
	case tagLong:
		return strconv.FormatInt(int64(k.num), 10), nil
	case tagDouble:
		return strconv.FormatFloat(math.Float64frombits(k.num), 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: slot %d is not a literal", ErrBadConstant, idx)
	}
}
