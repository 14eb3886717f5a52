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

// Architecture is the only polymorphism point in the pipeline: a backend
// that knows how to turn a CompilationUnit into a bootable executable for
// one target. The four stages mirror spec.md §9's "small interface with
// initialize, compile, assemble, link operations".
type Architecture interface {
	// Name returns the architecture identifier accepted by --arch.
	Name() string

	// PointerSize returns the native word width in bytes. 8 for amd64;
	// other registrations may report 4.
	PointerSize() int

	// Initialize prepares architecture-specific state (toolchain paths,
	// fixed memory layout constants) before Compile is called.
	Initialize(opts BuildOptions) error

	// Compile lowers a CompilationUnit into assembly source text at
	// opts.AssemblyPath. This is the backend half of spec.md §4.3.
	Compile(unit *CompilationUnit, opts BuildOptions) error

	// Assemble invokes the external assembler on the emitted assembly
	// text, producing an object file.
	Assemble(opts BuildOptions) error

	// Link invokes the external linker against the object file, producing
	// either a raw binary or a linked ELF executable per opts.Format.
	Link(opts BuildOptions) error
}

// architectures holds the registered backends, keyed by --arch value.
var architectures = map[string]Architecture{}

// RegisterArchitecture registers a backend under the given name. Backends
// register themselves from an init() in their own file, mirroring the
// teacher's ArchParser registry.
func RegisterArchitecture(name string, a Architecture) {
	architectures[name] = a
}

// GetArchitecture returns the backend registered under name.
func GetArchitecture(name string) (Architecture, error) {
	if a, ok := architectures[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("unsupported architecture: %s (available: %v)", name, ListArchitectures())
}

// ListArchitectures returns the names of all registered backends.
func ListArchitectures() []string {
	names := make([]string, 0, len(architectures))
	for name := range architectures {
		names = append(names, name)
	}
	return names
}
