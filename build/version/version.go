// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package version provides information about Corral version and build configuration.
//
// # Go build tags
//
// The following Go build tags (also known as build constraints) affect builds of Corral:
//
//	corral_debug - enables debug build (implied by builds with race detector)
package version

import (
	runtimedebug "runtime/debug"

	"github.com/corraldb/corral/internal/util/debugbuild"
)

// version is set by the linker (-X) for release builds; the default marks a source build.
var version = "v0.1.0-dev"

// Info provides details about the current build.
//
//nolint:vet // for readability
type Info struct {
	Version    string
	Commit     string
	Dirty      bool
	DebugBuild bool
}

// info singleton instance set by init().
var info *Info

// unknown is a placeholder for unknown commit value.
const unknown = "unknown"

// Get returns current build's info.
//
// It returns a shared instance without any synchronization;
// the caller must not modify it.
func Get() *Info {
	return info
}

func init() {
	info = &Info{
		Version:    version,
		Commit:     unknown,
		DebugBuild: debugbuild.Enabled,
	}

	buildInfo, ok := runtimedebug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, s := range buildInfo.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value

		case "vcs.modified":
			info.Dirty = s.Value == "true"

		case "-race":
			if s.Value == "true" {
				info.DebugBuild = true
			}
		}
	}
}
