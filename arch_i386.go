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

// I386Architecture is registered so --arch=i386 is a recognized, listable
// target reporting a 4-byte PointerSize(), without committing to a second
// full code generator. The lowerer does not consult it: lower.go's convert
// masks against the fixed 8-byte PointerSize constant whatever --arch
// selects, so conv.i4/conv.u4 are masked to 32 bits for i386 as well. Its
// Compile always fails; nothing downstream of
// RegisterArchitecture assumes every registered backend is buildable.
type I386Architecture struct{}

func init() {
	RegisterArchitecture("i386", &I386Architecture{})
}

func (a *I386Architecture) Name() string     { return "i386" }
func (a *I386Architecture) PointerSize() int { return 4 }

func (a *I386Architecture) Initialize(opts BuildOptions) error { return nil }

func (a *I386Architecture) Compile(unit *CompilationUnit, opts BuildOptions) error {
	return &ConfigError{Msg: "arch i386: backend not implemented"}
}

func (a *I386Architecture) Assemble(opts BuildOptions) error {
	return &ConfigError{Msg: "arch i386: backend not implemented"}
}

func (a *I386Architecture) Link(opts BuildOptions) error {
	return &ConfigError{Msg: "arch i386: backend not implemented"}
}
