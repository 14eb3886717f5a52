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

func TestValidateOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    BuildOptions
		wantErr bool
	}{
		{"valid elf none", BuildOptions{Format: "elf", Image: "none"}, false},
		{"valid elf iso", BuildOptions{Format: "elf", Image: "iso"}, false},
		{"valid bin none", BuildOptions{Format: "bin", Image: "none"}, false},
		{"bad format", BuildOptions{Format: "pe", Image: "none"}, true},
		{"bad image", BuildOptions{Format: "elf", Image: "dmg"}, true},
		{"bin with iso is incompatible", BuildOptions{Format: "bin", Image: "iso"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateOptions(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateOptions(%+v) error = %v, wantErr %v", tt.opts, err, tt.wantErr)
			}
			if tt.wantErr {
				if _, ok := err.(*ConfigError); !ok {
					t.Errorf("expected *ConfigError, got %T", err)
				}
			}
		})
	}
}

func TestArchitectureRegistry(t *testing.T) {
	amd64, err := GetArchitecture("amd64")
	if err != nil {
		t.Fatalf("GetArchitecture(amd64): %v", err)
	}
	if amd64.PointerSize() != 8 {
		t.Errorf("amd64 PointerSize = %d, want 8", amd64.PointerSize())
	}

	i386, err := GetArchitecture("i386")
	if err != nil {
		t.Fatalf("GetArchitecture(i386): %v", err)
	}
	if i386.PointerSize() != 4 {
		t.Errorf("i386 PointerSize = %d, want 4", i386.PointerSize())
	}
	if err := i386.Compile(nil, BuildOptions{}); err == nil {
		t.Error("expected i386 Compile to report unimplemented")
	}

	if _, err := GetArchitecture("sparc"); err == nil {
		t.Error("expected error for unregistered architecture")
	}
}
