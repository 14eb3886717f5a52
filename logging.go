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

import "go.uber.org/zap"

// newLogger builds the pipeline's structured logger: human-readable
// console output at info level, or debug level under --verbose. This
// replaces the teacher's bare fmt.Fprintln(os.Stderr, ...) diagnostics with
// structured, leveled logging.
func newLogger(verbose bool) *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		// zap's own constructor failing means stderr itself is unusable;
		// fall back to a no-op logger rather than panicking mid-build.
		logger = zap.NewNop()
	}
	return logger.Sugar()
}
