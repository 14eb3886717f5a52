// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import "fmt"

// Opcode is one LIR instruction kind (spec.md §3).
type Opcode uint8

const (
	OpNop Opcode = iota
	OpRet
	OpCall
	OpJmp
	OpLabel
	OpComment
	OpStore
	OpMov
	OpAdd
	OpSub
	OpMul
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpCmp
	OpSet
)

var opcodeNames = map[Opcode]string{
	OpNop: "nop", OpRet: "ret", OpCall: "call", OpJmp: "jmp", OpLabel: "label",
	OpComment: "comment", OpStore: "store", OpMov: "mov", OpAdd: "add",
	OpSub: "sub", OpMul: "mul", OpAnd: "and", OpOr: "or", OpXor: "xor",
	OpShl: "shl", OpShr: "shr", OpCmp: "cmp", OpSet: "set",
}

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return "?unknown?"
}

// Size is the size class axis of spec.md §4.1's flag table. SizeNone (-1)
// means "not applicable", matching spec.md §3's "-1 means no flags".
type Size int8

const (
	SizeNone Size = -1
	Byte     Size = iota
	Word
	Dword
	Qword
)

func (s Size) String() string {
	switch s {
	case Byte:
		return "byte"
	case Word:
		return "word"
	case Dword:
		return "dword"
	case Qword:
		return "qword"
	default:
		return ""
	}
}

// Bytes returns the width of the size class in bytes, or 0 for SizeNone.
func (s Size) Bytes() int {
	switch s {
	case Byte:
		return 1
	case Word:
		return 2
	case Dword:
		return 4
	case Qword:
		return 8
	default:
		return 0
	}
}

// Mask returns the bitmask that narrows a pointer-sized value down to this
// size class, per spec.md §4.2's conversion rules.
func (s Size) Mask() uint64 {
	switch s {
	case Byte:
		return 0xFF
	case Word:
		return 0xFFFF
	case Dword:
		return 0xFFFFFFFF
	default:
		return 0xFFFFFFFFFFFFFFFF
	}
}

// Mode is the orthogonal operand-role bitset of spec.md §4.1: whether
// operand1/operand2 are register-direct or register-indirect, and whether
// an operand is an immediate or a label (LabelOperand is also set on the
// label target of a single-operand Call/Jmp). Pulled into its own enumerated
// bitset rather than packed into the same field as Size, per the design
// freedom spec.md §9 grants ("either is acceptable").
type Mode uint16

const (
	DestRegister Mode = 1 << iota
	DestPointer
	SrcRegister
	SrcPointer
	Immediate
	LabelOperand
)

func (m Mode) Has(f Mode) bool { return m&f != 0 }

// Condition is the condition-code axis, used only by Jmp and Set.
// spec.md §3 lists eight signed condition codes; spec.md §9 flags the
// collapse of signed/unsigned comparisons as an open question and
// recommends strict implementations distinguish them (DESIGN.md "Open
// Question decisions"), so the four unsigned counterparts are added here
// rather than reusing the signed codes.
type Condition uint8

const (
	CondNone Condition = iota
	Zero
	NotZero
	Equal
	NotEqual
	Less
	LessOrEqual
	Greater
	GreaterOrEqual
	LessUnsigned
	LessOrEqualUnsigned
	GreaterUnsigned
	GreaterOrEqualUnsigned
)

// RegisterID is one of the six fixed registers of spec.md §3. R0 holds the
// address of the top of the abstract evaluation stack; R3/R4 are the
// lowerer's reserved local/argument frame base registers; R1, R2, R5 are
// scratch (R5 doubles as the Shl shift-count source).
type RegisterID uint8

const (
	R0 RegisterID = iota
	R1
	R2
	R3
	R4
	R5
)

var registerNames = [...]string{"r0", "r1", "r2", "r3", "r4", "r5"}

func (r RegisterID) String() string {
	if int(r) < len(registerNames) {
		return registerNames[r]
	}
	return "?reg?"
}

// Register is a tagged value, not an object with operator overloading
// (spec.md §9's explicit redesign note): a register id, a size view, and
// an optional byte displacement for register-indirect addressing.
type Register struct {
	ID           RegisterID
	Size         Size
	Displacement int32
}

// Reg builds a direct register reference at the given size view.
func Reg(id RegisterID, size Size) Register {
	return Register{ID: id, Size: size}
}

// Disp returns a copy of r with the displacement set to k, realizing
// "reg + k" as a pure constructor rather than an overloaded operator.
func (r Register) Disp(k int32) Register {
	r.Displacement = k
	return r
}

// OperandKind discriminates the Operand union.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandRegister
	OperandImmediate
	OperandLabel
	OperandRaw
)

// Operand is one of: a register reference, a signed/unsigned integer
// immediate, a symbolic label name, or a raw string payload (used by
// Comment and Store), per spec.md §3.
type Operand struct {
	Kind  OperandKind
	Reg   Register
	Imm   int64
	Label string
	Raw   string
}

// RegOperand wraps a register reference as an Operand.
func RegOperand(r Register) Operand { return Operand{Kind: OperandRegister, Reg: r} }

// ImmOperand wraps an integer immediate as an Operand.
func ImmOperand(v int64) Operand { return Operand{Kind: OperandImmediate, Imm: v} }

// LabelOperandOf wraps a symbolic label name as an Operand.
func LabelOperandOf(name string) Operand { return Operand{Kind: OperandLabel, Label: name} }

// RawOperand wraps a raw string payload as an Operand (Comment text or a
// Store byte-list).
func RawOperand(s string) Operand { return Operand{Kind: OperandRaw, Raw: s} }

// Instruction is one ordered LIR record (spec.md §3).
type Instruction struct {
	Op        Opcode
	Size      Size
	Mode      Mode
	Cond      Condition
	Operand1  Operand
	Operand2  Operand
	HasOperand1, HasOperand2 bool
}

func (i Instruction) String() string {
	s := i.Op.String()
	if i.HasOperand1 {
		s += " " + operandString(i.Operand1)
	}
	if i.HasOperand2 {
		s += ", " + operandString(i.Operand2)
	}
	return s
}

func operandString(o Operand) string {
	switch o.Kind {
	case OperandRegister:
		if o.Reg.Displacement != 0 {
			return fmt.Sprintf("[%s+%d]", o.Reg.ID, o.Reg.Displacement)
		}
		return o.Reg.ID.String()
	case OperandImmediate:
		return fmt.Sprintf("%d", o.Imm)
	case OperandLabel:
		return o.Label
	case OperandRaw:
		return o.Raw
	default:
		return ""
	}
}

// PointerSize is 8 for x86-64, the only supported target per spec.md §1/§3:
// all abstract-stack push/pop slots are pointer-sized regardless of the
// logical value width.
const PointerSize = 8
