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

	"gopkg.in/yaml.v3"
)

// Instr is one bytecode instruction in a method body, as presented by the
// metadata reader: a mnemonic, its byte offset within the method, and up to
// two operands. This is the "flat ordered body of bytecode instructions
// with byte offsets" of spec.md §2.
type Instr struct {
	Op     string `yaml:"op"`
	Offset int    `yaml:"offset"`
	Arg0   string `yaml:"arg0,omitempty"`
	Arg1   string `yaml:"arg1,omitempty"`
}

// Field is a static or instance field declaration.
type Field struct {
	Name   string `yaml:"name"`
	Static bool   `yaml:"static"`
	// InitialValue is the constant initializer for a static field; 0 if
	// absent, per spec.md §4.2 ("Static field slots").
	InitialValue uint64 `yaml:"initialValue"`
}

// Param is a formal parameter of a method.
type Param struct {
	Name string `yaml:"name"`
}

// Local is a local-variable slot declared by a method body.
type Local struct {
	Name string `yaml:"name"`
}

// Method is a single method or constructor body.
type Method struct {
	Name          string  `yaml:"name"`
	IsEntryPoint  bool    `yaml:"entryPoint"`
	IsConstructor bool    `yaml:"constructor"`
	IsStaticCtor  bool    `yaml:"staticConstructor"`
	Params        []Param `yaml:"params"`
	Locals        []Local `yaml:"locals"`
	Body          []Instr `yaml:"body"`

	// FullName is the dotted name used for label sanitization and hashing
	// ("Namespace.Type::Method"). Computed by LoadModuleDescription, not
	// present in the YAML source.
	FullName string `yaml:"-"`
}

// Type is a single class, with its fields and methods in source order.
type Type struct {
	Name    string   `yaml:"name"`
	Fields  []Field  `yaml:"fields"`
	Methods []Method `yaml:"methods"`
}

// Module is the top-level unit the metadata reader hands to the lowerer:
// an assembly name and its ordered list of types. Parsing the real managed
// assembly container format is out of scope (spec.md §1); this struct is
// the contract such a reader is expected to satisfy.
type Module struct {
	AssemblyName string `yaml:"assemblyName"`
	Types        []Type `yaml:"types"`
}

// moduleFile is the on-disk YAML shape; kept distinct from Module so the
// computed FullName fields never round-trip through yaml.
type moduleFile struct {
	AssemblyName string `yaml:"assemblyName"`
	Types        []Type `yaml:"types"`
}

// LoadModuleDescription reads a YAML module description from path and
// returns the Module contract described above. This plays the role the
// teacher's cc.Parse plays for C source: an external format is parsed by a
// library (here yaml.v3) into an AST-like value the rest of the pipeline
// walks, without this module pretending to implement a real CIL metadata
// reader (spec.md §1 lists that as an external collaborator).
func LoadModuleDescription(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "read module description", Path: path, Err: err}
	}

	var mf moduleFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, &InputError{Path: path, Err: fmt.Errorf("parse module description: %w", err)}
	}

	mod := &Module{AssemblyName: mf.AssemblyName, Types: mf.Types}
	if mod.AssemblyName == "" {
		return nil, &InputError{Path: path, Err: fmt.Errorf("module description has no assemblyName")}
	}
	if len(mod.Types) == 0 {
		return nil, &InputError{Path: path, Err: fmt.Errorf("module description declares no types")}
	}

	for ti := range mod.Types {
		t := &mod.Types[ti]
		for mi := range t.Methods {
			m := &t.Methods[mi]
			m.FullName = mod.AssemblyName + "." + t.Name + "::" + m.Name
		}
	}

	return mod, nil
}

// EntryPoint returns the sole entry-point method across the module, or an
// error if there is not exactly one.
func (m *Module) EntryPoint() (*Method, error) {
	var found *Method
	for ti := range m.Types {
		t := &m.Types[ti]
		for mi := range t.Methods {
			meth := &t.Methods[mi]
			if meth.IsEntryPoint {
				if found != nil {
					return nil, fmt.Errorf("module declares more than one entry point: %s and %s", found.FullName, meth.FullName)
				}
				found = meth
			}
		}
	}
	if found == nil {
		return nil, fmt.Errorf("module declares no entry point")
	}
	return found, nil
}

// StaticConstructors returns every constructor/static-constructor method
// in the module, in source order: type order, then method order within a
// type. spec.md §4.2's prologue emission calls each of these before the
// entry point.
func (m *Module) StaticConstructors() []*Method {
	var out []*Method
	for ti := range m.Types {
		t := &m.Types[ti]
		for mi := range t.Methods {
			meth := &t.Methods[mi]
			if meth.IsConstructor || meth.IsStaticCtor {
				out = append(out, meth)
			}
		}
	}
	return out
}

// StaticFields returns every static field in the module, type order then
// field order, each paired with its owning type for full-name sanitization.
func (m *Module) StaticFields() []FieldRef {
	var out []FieldRef
	for ti := range m.Types {
		t := &m.Types[ti]
		for fi := range t.Fields {
			f := &t.Fields[fi]
			if f.Static {
				out = append(out, FieldRef{Type: t, Field: f})
			}
		}
	}
	return out
}

// FieldRef pairs a static field with the type that declares it, so callers
// can build its full sanitized name (assembly.Type.Field).
type FieldRef struct {
	Type  *Type
	Field *Field
}

// fullFieldName returns the dotted name used to derive the field's data-label
// symbol.
func (m *Module) fullFieldName(ref FieldRef) string {
	return m.AssemblyName + "." + ref.Type.Name + "." + ref.Field.Name
}
