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

import "testing"

func TestSizeBytesAndMask(t *testing.T) {
	cases := []struct {
		size  Size
		bytes int
		mask  uint64
	}{
		{Byte, 1, 0xFF},
		{Word, 2, 0xFFFF},
		{Dword, 4, 0xFFFFFFFF},
		{Qword, 8, 0xFFFFFFFFFFFFFFFF},
		{SizeNone, 0, 0xFFFFFFFFFFFFFFFF},
	}
	for _, c := range cases {
		if got := c.size.Bytes(); got != c.bytes {
			t.Errorf("%v.Bytes() = %d, want %d", c.size, got, c.bytes)
		}
		if got := c.size.Mask(); got != c.mask {
			t.Errorf("%v.Mask() = %#x, want %#x", c.size, got, c.mask)
		}
	}
}

func TestModeHas(t *testing.T) {
	m := DestPointer | SrcRegister | Immediate
	if !m.Has(DestPointer) {
		t.Error("expected DestPointer set")
	}
	if m.Has(DestRegister) {
		t.Error("did not expect DestRegister set")
	}
	if !m.Has(Immediate) {
		t.Error("expected Immediate set")
	}
	if m.Has(LabelOperand) {
		t.Error("did not expect LabelOperand set")
	}
}

func TestRegisterDisp(t *testing.T) {
	base := Reg(R3, Qword)
	if base.Displacement != 0 {
		t.Fatalf("fresh register should have zero displacement, got %d", base.Displacement)
	}
	withDisp := base.Disp(16)
	if withDisp.Displacement != 16 {
		t.Errorf("Disp(16).Displacement = %d, want 16", withDisp.Displacement)
	}
	if base.Displacement != 0 {
		t.Error("Disp must not mutate the receiver")
	}
}

func TestInstructionString(t *testing.T) {
	ins := Instruction{
		Op: OpMov, Size: Qword, Mode: DestRegister | Immediate,
		Operand1: RegOperand(Reg(R1, Qword)), HasOperand1: true,
		Operand2: ImmOperand(42), HasOperand2: true,
	}
	if got, want := ins.String(), "mov r1, 42"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	ptrIns := Instruction{
		Op: OpMov, Size: Qword, Mode: DestRegister | SrcPointer,
		Operand1: RegOperand(Reg(R1, Qword)), HasOperand1: true,
		Operand2: RegOperand(Reg(R0, Qword).Disp(-8)), HasOperand2: true,
	}
	if got, want := ptrIns.String(), "mov r1, [r0+-8]"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestRegisterIDString(t *testing.T) {
	if got := R0.String(); got != "r0" {
		t.Errorf("R0.String() = %q", got)
	}
	if got := RegisterID(99).String(); got != "?reg?" {
		t.Errorf("out-of-range RegisterID.String() = %q", got)
	}
}
