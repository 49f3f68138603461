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

// Document represents a single stored record.
//
// Data holds schema-validated fields plus any unknown fields that passed through opaquely.
// Metadata is caller-defined and never validated.
type Document struct {
	ID        string         `json:"_id"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DeepCopy returns a shallow-field, deep-map copy.
func (d *Document) DeepCopy() *Document {
	if d == nil {
		return nil
	}

	res := *d
	res.Data = copyMap(d.Data)
	res.Metadata = copyMap(d.Metadata)

	return &res
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	res := make(map[string]any, len(m))
	for k, v := range m {
		res[k] = v
	}

	return res
}
