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

import (
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/asmfmt"
)

// DumpIR writes the flat LIR instruction listing for unit to path, one
// instruction per line, for the --dump-ir debug flag (spec.md §9's
// suggestion that a textual LIR dump pays for itself during development).
func DumpIR(unit *CompilationUnit, path string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "; unit %s, entry %s\n", unit.Name, unit.EntryLabel)
	for _, sf := range unit.StaticFields {
		fmt.Fprintf(&b, "; static %s = %d\n", sf.Symbol, sf.InitialValue)
	}
	for _, blob := range unit.Blobs {
		fmt.Fprintf(&b, "; blob %s (%d bytes)\n", blob.Symbol, len(blob.Bytes))
	}
	for _, ins := range unit.Instructions {
		fmt.Fprintln(&b, ins.String())
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return &IOError{Op: "write IR dump", Path: path, Err: err}
	}
	return nil
}

// goAsmMnemonic renders an LIR opcode using Go assembler (Plan9) dialect
// mnemonics, the dialect asmfmt understands. This has no bearing on the
// actual build (NASM syntax is what gets assembled); it exists solely so
// --dump-goasm gives a reader already fluent in Go's assembler a second,
// more familiar listing of the same program.
func goAsmMnemonic(op Opcode) string {
	switch op {
	case OpMov:
		return "MOVQ"
	case OpAdd:
		return "ADDQ"
	case OpSub:
		return "SUBQ"
	case OpMul:
		return "IMULQ"
	case OpAnd:
		return "ANDQ"
	case OpOr:
		return "ORQ"
	case OpXor:
		return "XORQ"
	case OpShl:
		return "SHLQ"
	case OpShr:
		return "SHRQ"
	case OpCmp:
		return "CMPQ"
	case OpCall:
		return "CALL"
	case OpJmp:
		return "JMP"
	case OpRet:
		return "RET"
	case OpSet:
		return "SETEQ"
	case OpNop:
		return "NOP"
	default:
		return strings.ToUpper(op.String())
	}
}

// dumpGoAsmListing renders unit in Go-assembler-dialect syntax and formats
// it with asmfmt before writing it to path.
func dumpGoAsmListing(unit *CompilationUnit, path string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "// generated listing for %s, not used by the build\n", unit.Name)
	fmt.Fprintf(&b, "TEXT \u00b7%s(SB), $0\n", unit.EntryLabel)
	for _, ins := range unit.Instructions {
		switch ins.Op {
		case OpLabel:
			fmt.Fprintf(&b, "%s:\n", ins.Operand1.Label)
		case OpComment:
			fmt.Fprintf(&b, "\t// %s\n", ins.Operand1.Raw)
		default:
			fmt.Fprintf(&b, "\t%s\n", goAsmMnemonic(ins.Op))
		}
	}

	formatted, err := asmfmt.Format(strings.NewReader(b.String()))
	if err != nil {
		// asmfmt only understands well-formed Go assembler text; a
		// malformed listing still gets written unformatted rather than
		// losing the debug dump entirely.
		formatted = []byte(b.String())
	}
	if err := os.WriteFile(path, formatted, 0o644); err != nil {
		return &IOError{Op: "write goasm dump", Path: path, Err: err}
	}
	return nil
}
