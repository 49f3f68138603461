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

package testutil

import (
	"bytes"
	"runtime/debug"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	projectNamesM sync.Mutex
	projectNames  = make(map[string][]byte)

	collectionNamesM sync.Mutex
	collectionNames  = make(map[string][]byte)
)

func stack() []byte {
	s := bytes.Split(debug.Stack(), []byte("\n"))
	return bytes.Join(s[7:], []byte("\n"))
}

// sanitize converts a test name to a valid project/collection name.
func sanitize(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "$", "_")
	name = strings.ReplaceAll(name, "#", "_")

	return "t_" + name
}

// ProjectName returns a stable project name for that test.
func ProjectName(tb testing.TB) string {
	tb.Helper()

	name := sanitize(tb.Name())
	require.Less(tb, len(name), 64)

	projectNamesM.Lock()
	defer projectNamesM.Unlock()

	current := stack()
	if another, ok := projectNames[name]; ok {
		tb.Logf("Project name %q already used by another test:\n%s", name, another)
		panic("duplicate project name")
	}
	projectNames[name] = current

	return name
}

// CollectionName returns a stable collection name for that test.
func CollectionName(tb testing.TB) string {
	tb.Helper()

	name := sanitize(tb.Name())
	require.Less(tb, len(name), 64)

	collectionNamesM.Lock()
	defer collectionNamesM.Unlock()

	current := stack()
	if another, ok := collectionNames[name]; ok {
		tb.Logf("Collection name %q already used by another test:\n%s", name, another)
		panic("duplicate collection name")
	}
	collectionNames[name] = current

	return name
}
