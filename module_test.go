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
	"os"
	"path/filepath"
	"testing"
)

func writeModuleFile(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "module.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const validModuleYAML = `
assemblyName: Sample
types:
  - name: Program
    fields:
      - name: counter
        static: true
        initialValue: 7
    methods:
      - name: Main
        entryPoint: true
        locals:
          - name: x
        body:
          - op: ldc.i4
            offset: 0
            arg0: "1"
          - op: ret
            offset: 5
`

func TestLoadModuleDescription(t *testing.T) {
	t.Run("valid module", func(t *testing.T) {
		path := writeModuleFile(t, validModuleYAML)
		mod, err := LoadModuleDescription(path)
		if err != nil {
			t.Fatalf("LoadModuleDescription: %v", err)
		}
		if mod.AssemblyName != "Sample" {
			t.Errorf("AssemblyName = %q, want Sample", mod.AssemblyName)
		}
		if len(mod.Types) != 1 || mod.Types[0].Methods[0].FullName != "Sample.Program::Main" {
			t.Errorf("unexpected FullName: %+v", mod.Types)
		}
	})

	t.Run("missing assembly name", func(t *testing.T) {
		path := writeModuleFile(t, "types:\n  - name: Program\n    methods: []\n")
		if _, err := LoadModuleDescription(path); err == nil {
			t.Fatal("expected error for missing assemblyName")
		}
	})

	t.Run("no types", func(t *testing.T) {
		path := writeModuleFile(t, "assemblyName: Empty\ntypes: []\n")
		if _, err := LoadModuleDescription(path); err == nil {
			t.Fatal("expected error for empty types")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadModuleDescription(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Fatal("expected error for missing file")
		}
	})
}

func TestModuleEntryPoint(t *testing.T) {
	mod := &Module{
		AssemblyName: "A",
		Types: []Type{{
			Name: "T",
			Methods: []Method{
				{Name: "M1", FullName: "A.T::M1"},
				{Name: "M2", FullName: "A.T::M2", IsEntryPoint: true},
			},
		}},
	}
	entry, err := mod.EntryPoint()
	if err != nil {
		t.Fatalf("EntryPoint: %v", err)
	}
	if entry.Name != "M2" {
		t.Errorf("entry = %q, want M2", entry.Name)
	}
}

func TestModuleEntryPointErrors(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		mod := &Module{Types: []Type{{Methods: []Method{{Name: "M"}}}}}
		if _, err := mod.EntryPoint(); err == nil {
			t.Fatal("expected error for no entry point")
		}
	})
	t.Run("ambiguous", func(t *testing.T) {
		mod := &Module{Types: []Type{{Methods: []Method{
			{Name: "M1", IsEntryPoint: true},
			{Name: "M2", IsEntryPoint: true},
		}}}}
		if _, err := mod.EntryPoint(); err == nil {
			t.Fatal("expected error for ambiguous entry point")
		}
	})
}

func TestModuleStaticConstructorsOrder(t *testing.T) {
	mod := &Module{Types: []Type{
		{Name: "A", Methods: []Method{{Name: "cctor", IsStaticCtor: true}, {Name: "M"}}},
		{Name: "B", Methods: []Method{{Name: "ctor", IsConstructor: true}}},
	}}
	ctors := mod.StaticConstructors()
	if len(ctors) != 2 || ctors[0].Name != "cctor" || ctors[1].Name != "ctor" {
		t.Fatalf("unexpected constructor order: %+v", ctors)
	}
}

func TestModuleStaticFields(t *testing.T) {
	mod := &Module{Types: []Type{{
		Name: "T",
		Fields: []Field{
			{Name: "a", Static: true, InitialValue: 1},
			{Name: "b", Static: false},
		},
	}}}
	refs := mod.StaticFields()
	if len(refs) != 1 || refs[0].Field.Name != "a" {
		t.Fatalf("unexpected static fields: %+v", refs)
	}
	if got := mod.fullFieldName(refs[0]); got != ".T.a" {
		t.Errorf("fullFieldName = %q", got)
	}
}
