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
	"encoding/binary"
	"fmt"
	"sort"
)

// Opcodes the scanner acts on.
const (
	opLdc             = 0x12
	opLdcW            = 0x13
	opIinc            = 0x84
	opTableswitch     = 0xaa
	opLookupswitch    = 0xab
	opGetstatic       = 0xb2
	opPutstatic       = 0xb3
	opGetfield        = 0xb4
	opPutfield        = 0xb5
	opInvokevirtual   = 0xb6
	opInvokespecial   = 0xb7
	opInvokestatic    = 0xb8
	opInvokeinterface = 0xb9
	opAnewarray       = 0xbd
	opCheckcast       = 0xc0
	opInstanceof      = 0xc1
	opWide            = 0xc4
	opMultianewarray  = 0xc5
	opLastValid       = 0xca
)

// operandLengths holds the fixed operand size of every valid opcode.
// Variable-length instructions (tableswitch, lookupswitch, wide) are -1.
var operandLengths = func() [opLastValid + 1]int8 {
	var t [opLastValid + 1]int8
	set := func(from, to int, n int8) {
		for op := from; op <= to; op++ {
			t[op] = n
		}
	}
	set(0x10, 0x10, 1) // bipush
	set(0x11, 0x11, 2) // sipush
	set(0x12, 0x12, 1) // ldc
	set(0x13, 0x14, 2) // ldc_w, ldc2_w
	set(0x15, 0x19, 1) // xload
	set(0x36, 0x3a, 1) // xstore
	set(0x84, 0x84, 2) // iinc
	set(0x99, 0xa8, 2) // if*, goto, jsr
	set(0xa9, 0xa9, 1) // ret
	set(0xaa, 0xab, -1)
	set(0xb2, 0xb8, 2) // field and invoke
	set(0xb9, 0xba, 4) // invokeinterface, invokedynamic
	set(0xbb, 0xbb, 2) // new
	set(0xbc, 0xbc, 1) // newarray
	set(0xbd, 0xbd, 2) // anewarray
	set(0xc0, 0xc1, 2) // checkcast, instanceof
	set(0xc4, 0xc4, -1)
	set(0xc5, 0xc5, 3) // multianewarray
	set(0xc6, 0xc7, 2) // ifnull, ifnonnull
	set(0xc8, 0xc9, 4) // goto_w, jsr_w
	return t
}()

type lineEntry struct {
	startPC int
	line    int
}

// lineTable maps bytecode offsets to source lines.
type lineTable []lineEntry

func newLineTable(entries []lineEntry) lineTable {
	t := make(lineTable, len(entries))
	copy(t, entries)
	sort.SliceStable(t, func(i, j int) bool { return t[i].startPC < t[j].startPC })
	return t
}

// lineAt returns the line of the entry with the greatest start_pc <= pc, or 0.
func (t lineTable) lineAt(pc int) int {
	i := sort.Search(len(t), func(i int) bool { return t[i].startPC > pc })
	if i == 0 {
		return 0
	}
	return t[i-1].line
}

// scanCode walks a method's code array and returns every class or member
// access in instruction order.
func scanCode(pool constantPool, origin MemberKey, code []byte, lines []lineEntry) ([]AccessRecord, error) {
	table := newLineTable(lines)
	var out []AccessRecord

	classAccess := func(kind AccessKind, pc int, idx uint16) error {
		owner, err := pool.className(idx)
		if err != nil {
			return err
		}
		out = append(out, AccessRecord{Kind: kind, Origin: origin, TargetOwner: owner, Line: table.lineAt(pc)})
		return nil
	}

	for pc := 0; pc < len(code); {
		op := code[pc]
		size, err := instructionSize(code, pc)
		if err != nil {
			return nil, err
		}
		var operand uint16
		if size >= 3 {
			operand = binary.BigEndian.Uint16(code[pc+1:])
		}

		switch op {
		case opGetstatic, opGetfield, opPutstatic, opPutfield,
			opInvokevirtual, opInvokespecial, opInvokestatic, opInvokeinterface:
			owner, key, err := pool.memberRef(operand)
			if err != nil {
				return nil, err
			}
			out = append(out, AccessRecord{
				Kind:             memberAccessKind(op, key.Name),
				Origin:           origin,
				TargetOwner:      owner,
				TargetName:       key.Name,
				TargetDescriptor: key.Descriptor,
				Line:             table.lineAt(pc),
			})
		case opCheckcast:
			err = classAccess(AccessCast, pc, operand)
		case opInstanceof:
			err = classAccess(AccessInstanceofCheck, pc, operand)
		case opAnewarray:
			// The operand is the component type; the instantiated type is the
			// array of it.
			var comp string
			if comp, err = pool.className(operand); err == nil {
				out = append(out, AccessRecord{Kind: AccessInstantiation, Origin: origin, TargetOwner: comp + "[]", Line: table.lineAt(pc)})
			}
		case opMultianewarray:
			err = classAccess(AccessInstantiation, pc, operand)
		case opLdc, opLdcW:
			idx := operand
			if op == opLdc {
				idx = uint16(code[pc+1])
			}
			if int(idx) < len(pool) && pool[idx].tag == tagClass {
				err = classAccess(AccessClassObject, pc, idx)
			}
		}
		if err != nil {
			return nil, err
		}
		pc += size
	}
	return out, nil
}

func memberAccessKind(op byte, name string) AccessKind {
	switch op {
	case opGetstatic, opGetfield:
		return AccessFieldGet
	case opPutstatic, opPutfield:
		return AccessFieldSet
	case opInvokespecial:
		if name == ConstructorName {
			return AccessConstructorCall
		}
	}
	return AccessMethodCall
}

// instructionSize returns the full length (opcode plus operands) of the
// instruction at pc.
func instructionSize(code []byte, pc int) (int, error) {
	op := code[pc]
	if op > opLastValid {
		return 0, fmt.Errorf("%w: opcode 0x%02x at pc %d", ErrBadBytecode, op, pc)
	}
	size := 1 + int(operandLengths[op])
	switch op {
	case opTableswitch:
		base := pc + 1 + padding(pc)
		if base+12 > len(code) {
			return 0, truncatedAt(pc)
		}
		low := int32(binary.BigEndian.Uint32(code[base+4:]))
		high := int32(binary.BigEndian.Uint32(code[base+8:]))
		if high < low {
			return 0, fmt.Errorf("%w: tableswitch bounds at pc %d", ErrBadBytecode, pc)
		}
		size = base - pc + 12 + int(int64(high)-int64(low)+1)*4
	case opLookupswitch:
		base := pc + 1 + padding(pc)
		if base+8 > len(code) {
			return 0, truncatedAt(pc)
		}
		pairs := int32(binary.BigEndian.Uint32(code[base+4:]))
		if pairs < 0 {
			return 0, fmt.Errorf("%w: lookupswitch pairs at pc %d", ErrBadBytecode, pc)
		}
		size = base - pc + 8 + int(pairs)*8
	case opWide:
		if pc+1 >= len(code) {
			return 0, truncatedAt(pc)
		}
		if code[pc+1] == opIinc {
			size = 6
		} else {
			size = 4
		}
	}
	if pc+size > len(code) {
		return 0, truncatedAt(pc)
	}
	return size, nil
}

// padding is the number of bytes that align switch operands to a multiple of
// four from the start of the code array.
func padding(pc int) int {
	return (4 - (pc+1)%4) % 4
}

func truncatedAt(pc int) error {
	return fmt.Errorf("%w: instruction at pc %d runs past end of code", ErrBadBytecode, pc)
}
