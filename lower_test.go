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

func hasLabel(unit *CompilationUnit, name string) bool {
	for _, ins := range unit.Instructions {
		if ins.Op == OpLabel && ins.Operand1.Label == name {
			return true
		}
	}
	return false
}

func countOp(unit *CompilationUnit, op Opcode) int {
	n := 0
	for _, ins := range unit.Instructions {
		if ins.Op == op {
			n++
		}
	}
	return n
}

// TestLowerEmptyEntryPoint covers spec.md §8's simplest scenario: an entry
// point whose body is just ret.
func TestLowerEmptyEntryPoint(t *testing.T) {
	mod := &Module{
		AssemblyName: "Empty",
		Types: []Type{{
			Name: "Program",
			Methods: []Method{
				{Name: "Main", FullName: "Empty.Program::Main", IsEntryPoint: true,
					Body: []Instr{{Op: "ret", Offset: 0}}},
			},
		}},
	}
	unit, err := NewCompiler(nil).Lower(mod)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if unit.Name != "Empty" {
		t.Errorf("unit.Name = %q, want Empty", unit.Name)
	}
	if !hasLabel(unit, "Empty_Program__Main") {
		t.Error("expected method label for entry point")
	}
	if countOp(unit, OpRet) != 1 {
		t.Error("expected exactly one ret from the method body")
	}
}

// TestLowerBranch covers a method with a backward branch, checking that a
// label is synthesized at the branch target offset.
func TestLowerBranch(t *testing.T) {
	mod := &Module{
		AssemblyName: "Loopy",
		Types: []Type{{
			Name: "Program",
			Methods: []Method{
				{Name: "Main", FullName: "Loopy.Program::Main", IsEntryPoint: true,
					Locals: []Local{{Name: "i"}},
					Body: []Instr{
						{Op: "ldloc", Offset: 0, Arg0: "i"},
						{Op: "br.true.s", Offset: 5, Arg0: "0"},
						{Op: "ret", Offset: 10},
					}},
			},
		}},
	}
	unit, err := NewCompiler(nil).Lower(mod)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	hash := methodHash("Loopy.Program::Main")
	if !hasLabel(unit, branchLabel(hash, 0)) {
		t.Errorf("expected branch target label %s in output", branchLabel(hash, 0))
	}
}

// TestLowerStringConstant covers ldstr: a UTF-16LE blob must be recorded,
// emitted as a decimal Store payload, and skipped over by a Jmp to the label
// right after the Store.
func TestLowerStringConstant(t *testing.T) {
	mod := &Module{
		AssemblyName: "Strs",
		Types: []Type{{
			Name: "Program",
			Methods: []Method{
				{Name: "Main", FullName: "Strs.Program::Main", IsEntryPoint: true,
					Body: []Instr{
						{Op: "ldstr", Offset: 0, Arg0: "hi"},
						{Op: "ret", Offset: 1},
					}},
			},
		}},
	}
	unit, err := NewCompiler(nil).Lower(mod)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if len(unit.Blobs) != 1 {
		t.Fatalf("expected 1 blob, got %d", len(unit.Blobs))
	}
	// "hi" -> h(0x68,0x00) i(0x69,0x00) = 4 bytes, no trailing terminator
	// (spec.md §8 scenario 4: ldstr "Hi" emits exactly 0x48,0x00,0x49,0x00).
	if len(unit.Blobs[0].Bytes) != 4 {
		t.Errorf("blob length = %d, want 4", len(unit.Blobs[0].Bytes))
	}

	// A Jmp must precede the Store and target the label immediately after it.
	var jmpTarget, storeSeen, sawLabelAfterStore string
	for idx, ins := range unit.Instructions {
		if ins.Op == OpJmp {
			jmpTarget = ins.Operand1.Label
		}
		if ins.Op == OpStore {
			storeSeen = ins.Operand1.Raw
			if idx+1 < len(unit.Instructions) && unit.Instructions[idx+1].Op == OpLabel {
				sawLabelAfterStore = unit.Instructions[idx+1].Operand1.Label
			}
		}
	}
	if storeSeen == "" {
		t.Fatal("expected a Store instruction for the ldstr blob")
	}
	if storeSeen != "104, 0, 105, 0" {
		t.Errorf("Store payload = %q, want decimal byte list %q", storeSeen, "104, 0, 105, 0")
	}
	if jmpTarget == "" || jmpTarget != sawLabelAfterStore {
		t.Errorf("expected Jmp target %q to equal the label right after Store %q", jmpTarget, sawLabelAfterStore)
	}
}

// TestLowerStaticFieldAndPrologue covers a module-level static field with a call into
// a static constructor, per spec.md §4.2's prologue ordering.
func TestLowerStaticFieldAndPrologue(t *testing.T) {
	mod := &Module{
		AssemblyName: "Statics",
		Types: []Type{{
			Name:   "Program",
			Fields: []Field{{Name: "counter", Static: true, InitialValue: 5}},
			Methods: []Method{
				{Name: ".cctor", FullName: "Statics.Program::.cctor", IsStaticCtor: true,
					Body: []Instr{{Op: "ret", Offset: 0}}},
				{Name: "Main", FullName: "Statics.Program::Main", IsEntryPoint: true,
					Body: []Instr{
						{Op: "ldsfld", Offset: 0, Arg0: "Statics.Program.counter"},
						{Op: "ret", Offset: 8},
					}},
			},
		}},
	}
	unit, err := NewCompiler(nil).Lower(mod)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if len(unit.StaticFields) != 1 || unit.StaticFields[0].InitialValue != 5 {
		t.Fatalf("unexpected static fields: %+v", unit.StaticFields)
	}
	if countOp(unit, OpCall) != 2 {
		t.Errorf("expected 2 calls in prologue (cctor + entry point), got %d", countOp(unit, OpCall))
	}
}

// TestLowerCallWithArgs covers spec.md §8 scenario 5: a two-parameter
// callee's arguments must be popped off the caller's abstract stack and
// written into the callee's argument frame at slot indices 1 then 0, in
// that order, immediately before the Call.
func TestLowerCallWithArgs(t *testing.T) {
	mod := &Module{
		AssemblyName: "Calls",
		Types: []Type{{
			Name: "Program",
			Methods: []Method{
				{Name: "Add", FullName: "Calls.Program::Add",
					Params: []Param{{Name: "a"}, {Name: "b"}},
					Body:   []Instr{{Op: "ret", Offset: 0}}},
				{Name: "Main", FullName: "Calls.Program::Main", IsEntryPoint: true,
					Body: []Instr{
						{Op: "ldc.i4", Offset: 0, Arg0: "2"},
						{Op: "ldc.i4", Offset: 5, Arg0: "3"},
						{Op: "call", Offset: 10, Arg0: "Calls.Program::Add"},
						{Op: "ret", Offset: 15},
					}},
			},
		}},
	}
	unit, err := NewCompiler(nil).Lower(mod)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if !hasLabel(unit, "Calls_Program__Add") {
		t.Error("expected Add method label")
	}

	var storeSlots []int32
	callIdx := -1
	for idx, ins := range unit.Instructions {
		if ins.Op == OpMov && ins.Mode.Has(DestPointer) && ins.Operand1.Reg.ID == R4 {
			storeSlots = append(storeSlots, ins.Operand1.Reg.Displacement)
		}
		if ins.Op == OpCall && ins.Operand1.Label == "Calls_Program__Add" {
			callIdx = idx
		}
	}
	if callIdx == -1 {
		t.Fatal("expected a call instruction targeting Add")
	}
	if len(storeSlots) != 2 {
		t.Fatalf("expected 2 argument-frame stores, got %d (%v)", len(storeSlots), storeSlots)
	}
	// Slot N-1 (index 1, displacement 8) is written first, then slot 0.
	if storeSlots[0] != PointerSize || storeSlots[1] != 0 {
		t.Errorf("argument-frame store order = %v, want [%d 0]", storeSlots, PointerSize)
	}
}

func TestSanitize(t *testing.T) {
	if got, want := sanitize("A.B::C"), "A_B__C"; got != want {
		t.Errorf("sanitize = %q, want %q", got, want)
	}
}

func TestMethodHashIsStable(t *testing.T) {
	a := methodHash("Foo.Bar::Baz")
	b := methodHash("Foo.Bar::Baz")
	if a != b {
		t.Error("methodHash must be a pure function of its input")
	}
	if a == methodHash("Foo.Bar::Qux") {
		t.Error("distinct names should not usually collide (best-effort check)")
	}
}
