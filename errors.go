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

// ConfigError is an incompatible-flag-combination error (spec.md §7),
// reported before any compilation work starts.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "configuration error: " + e.Msg }

// InputError wraps a failure to parse or validate the module description
// (spec.md §7, "surfaced from the metadata reader"). A module file that
// cannot be read at all is reported as an *IOError instead.
type InputError struct {
	Path string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input error (%s): %v", e.Path, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// ToolError wraps a non-zero exit from an external tool (assembler, linker,
// ISO authoring tool, or bootloader deploy tool).
type ToolError struct {
	Tool     string
	ExitCode int
	Output   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s failed (exit %d): %s", e.Tool, e.ExitCode, e.Output)
}

// IOError wraps a file open/write failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
