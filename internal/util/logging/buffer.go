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

package logging

import (
	"sync"

	"go.uber.org/zap/zapcore"
)

// RecentEntries is a global circular buffer with recent log entries
// used by the debug handler.
var RecentEntries = newCircularBuffer(1024)

// circularBuffer is a thread-safe circular buffer of log entries.
type circularBuffer struct {
	mu      sync.RWMutex
	entries []*zapcore.Entry
	idx     int
	full    bool
}

// newCircularBuffer creates a circular buffer for the given amount of entries.
func newCircularBuffer(size int) *circularBuffer {
	if size < 1 {
		panic("size must be at least 1")
	}

	return &circularBuffer{
		entries: make([]*zapcore.Entry, size),
	}
}

// append adds an entry, evicting the oldest one when full.
func (cb *circularBuffer) append(entry *zapcore.Entry) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.entries[cb.idx] = entry
	cb.idx = (cb.idx + 1) % len(cb.entries)

	if cb.idx == 0 {
		cb.full = true
	}
}

// Get returns entries from oldest to newest.
func (cb *circularBuffer) Get() []*zapcore.Entry {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	var res []*zapcore.Entry

	if cb.full {
		res = append(res, cb.entries[cb.idx:]...)
	}

	return append(res, cb.entries[:cb.idx]...)
}
