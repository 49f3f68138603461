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

package engine

import (
	"time"
)

// Event describes a successful mutation for the activity hook.
type Event struct {
	Timestamp    time.Time
	Action       string // "create", "update", "delete"
	ResourceType string // "collection", "document"
	ResourceID   string
	Project      string
	Collection   string
	Severity     string // "info"
}

// ActivityFunc is called after every successful mutation.
//
// It is best-effort: implementations must invoke it outside of transactions,
// log and swallow its panics, and never fail the operation because of it.
// It may be called from the write queue worker goroutine; it should not block.
type ActivityFunc func(Event)
