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
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// BuildOptions threads every --flag value and every derived intermediate
// path through the pipeline stages and Architecture backend calls.
type BuildOptions struct {
	ModulePath           string
	OutputPath           string
	Format               string // "bin" or "elf"
	Image                string // "none" or "iso"
	Arch                 string
	Assembler            string
	Linker               string
	ISOTool              string
	BootloaderDeployTool string
	LimineDir            string
	Verbose              bool

	AssemblyName  string
	AssemblyPath  string
	ObjectPath    string
	LinkedPath    string
	DumpIRPath    string
	DumpGoAsmPath string
}

var verbose bool

// runCommand runs an external tool and returns its combined output, the
// same shape the teacher's toolchain-invocation helper uses for clang,
// objdump, and friends, reused here for nasm, ld, xorriso, and limine. On a
// non-zero exit the returned error is already a *ToolError carrying the
// tool's real exit code and combined output, so callers need only return
// it (spec.md §7 "Tool error").
func runCommand(name string, arg ...string) (string, error) {
	if verbose {
		fmt.Fprintf(os.Stderr, "running %v\n", append([]string{name}, arg...))
	}
	cmd := exec.Command(name, arg...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		out := string(output)
		if out == "" {
			out = err.Error()
		}
		return "", &ToolError{Tool: name, ExitCode: exitCode, Output: out}
	}
	return string(output), nil
}

// Pipeline runs the five build stages spec.md §9 lays out: load the module
// description, lower it to a CompilationUnit, hand it to the selected
// Architecture backend's Compile/Assemble/Link, and optionally author a
// bootable image around the result.
type Pipeline struct {
	log *zap.SugaredLogger
}

func NewPipeline(log *zap.SugaredLogger) *Pipeline {
	return &Pipeline{log: log}
}

func (p *Pipeline) Run(opts BuildOptions) error {
	if err := validateOptions(opts); err != nil {
		return err
	}

	arch, err := GetArchitecture(opts.Arch)
	if err != nil {
		return &ConfigError{Msg: err.Error()}
	}

	p.log.Infow("loading module description", "path", opts.ModulePath)
	mod, err := LoadModuleDescription(opts.ModulePath)
	if err != nil {
		return err
	}
	opts.AssemblyName = mod.AssemblyName

	p.log.Infow("lowering module", "assembly", mod.AssemblyName, "arch", opts.Arch)
	unit, err := NewCompiler(p.log).Lower(mod)
	if err != nil {
		return err
	}

	if opts.DumpIRPath != "" {
		if err := DumpIR(unit, opts.DumpIRPath); err != nil {
			return err
		}
	}

	if err := arch.Initialize(opts); err != nil {
		return err
	}

	p.log.Infow("compiling to assembly", "path", opts.AssemblyPath)
	if err := arch.Compile(unit, opts); err != nil {
		return err
	}

	p.log.Infow("assembling", "tool", opts.Assembler)
	if err := arch.Assemble(opts); err != nil {
		return err
	}

	p.log.Infow("linking", "tool", opts.Linker, "format", opts.Format)
	if err := arch.Link(opts); err != nil {
		return err
	}

	if opts.Image == "iso" {
		p.log.Infow("authoring boot image", "output", opts.OutputPath)
		if err := BuildImage(opts); err != nil {
			return err
		}
	} else if err := copyFile(opts.LinkedPath, opts.OutputPath); err != nil {
		return err
	}

	p.log.Infow("build complete", "output", opts.OutputPath)
	return nil
}

// validateOptions rejects incompatible flag combinations before any
// compilation work starts (spec.md §7's Configuration error kind).
func validateOptions(opts BuildOptions) error {
	if opts.Format != "bin" && opts.Format != "elf" {
		return &ConfigError{Msg: fmt.Sprintf("unknown --format %q (want bin or elf)", opts.Format)}
	}
	if opts.Image != "none" && opts.Image != "iso" {
		return &ConfigError{Msg: fmt.Sprintf("unknown --image %q (want none or iso)", opts.Image)}
	}
	if opts.Image == "iso" && opts.Format == "bin" {
		return &ConfigError{Msg: "--image=iso requires --format=elf: a bootable ISO needs a linked multiboot2 ELF, not a flat binary"}
	}
	return nil
}

var command = &cobra.Command{
	Use:  "nativecil module.yaml [-o output]",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")
		image, _ := cmd.Flags().GetString("image")
		arch, _ := cmd.Flags().GetString("arch")
		assembler, _ := cmd.Flags().GetString("assembler")
		linker, _ := cmd.Flags().GetString("linker")
		limineDir, _ := cmd.Flags().GetString("limine-dir")
		dumpIR, _ := cmd.Flags().GetString("dump-ir")
		dumpGoAsm, _ := cmd.Flags().GetString("dump-goasm")

		if output == "" {
			output = "kernel.img"
		}
		workDir, err := os.MkdirTemp("", "nativecil-build-*")
		if err != nil {
			return &IOError{Op: "create build directory", Path: workDir, Err: err}
		}

		opts := BuildOptions{
			ModulePath:           args[0],
			OutputPath:           output,
			Format:               format,
			Image:                image,
			Arch:                 arch,
			Assembler:            assembler,
			Linker:               linker,
			LimineDir:            limineDir,
			Verbose:              verbose,
			AssemblyPath:         filepath.Join(workDir, "kernel.asm"),
			ObjectPath:           filepath.Join(workDir, "kernel.o"),
			LinkedPath:           filepath.Join(workDir, "kernel.linked"),
			DumpIRPath:           dumpIR,
			DumpGoAsmPath:        dumpGoAsm,
		}

		log := newLogger(verbose)
		defer log.Sync() //nolint:errcheck

		return NewPipeline(log).Run(opts)
	},
}

func init() {
	command.Flags().StringP("output", "o", "", "output path for the built image or binary (default kernel.img)")
	command.Flags().String("format", "elf", "output format: bin or elf")
	command.Flags().String("image", "none", "boot image kind: none or iso")
	command.Flags().String("arch", "amd64", fmt.Sprintf("target architecture (%v)", ListArchitectures()))
	command.Flags().String("assembler", "nasm", "assembler to invoke")
	command.Flags().String("linker", "ld", "linker to invoke")
	command.Flags().String("limine-dir", "", "directory containing limine-bios.sys/limine-bios-cd.bin (default /usr/share/limine)")
	command.Flags().String("dump-ir", "", "write the lowered LIR listing to this path")
	command.Flags().String("dump-goasm", "", "write a Go-assembler-dialect LIR listing to this path")
	command.Flags().BoolVarP(&verbose, "verbose", "v", false, "if set, increase verbosity level")
}

func main() {
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
