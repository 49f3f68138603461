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

// Package metadata provides access to projects and collections information.
package metadata

import (
	"encoding/json"
	"fmt"

	"github.com/corraldb/corral/internal/engine/schema"
	"github.com/corraldb/corral/internal/util/lazyerrors"
)

const (
	// This prefix is reserved by SQLite for internal use,
	// see https://www.sqlite.org/lang_createtable.html.
	reservedTablePrefix = "sqlite_"

	// SQLite table name where collection metadata is stored.
	metadataTableName = "_corral_collections"

	// DefaultColumn is the column name storing the document JSON.
	DefaultColumn = "_corral_json"

	// IDColumn is a SQLite path expression for the _id field.
	IDColumn = DefaultColumn + "->>'$._id'"
)

// DataPath returns a SQLite path expression for the given data field.
func DataPath(field string) string {
	return fmt.Sprintf("%s->>'$.data.%s'", DefaultColumn, field)
}

// Collection represents collection metadata.
type Collection struct {
	Spec      *schema.Collection
	Name      string
	TableName string
}

// deepCopy returns a deep copy.
func (c *Collection) deepCopy() *Collection {
	if c == nil {
		return nil
	}

	return &Collection{
		Spec:      c.Spec.DeepCopy(),
		Name:      c.Name,
		TableName: c.TableName,
	}
}

// marshalSettings returns the collection schema serialized for the metadata table.
func (c *Collection) marshalSettings() (string, error) {
	b, err := json.Marshal(c.Spec)
	if err != nil {
		return "", lazyerrors.Error(err)
	}

	return string(b), nil
}

// unmarshalSettings restores the collection schema from the metadata table.
func (c *Collection) unmarshalSettings(settings string) error {
	var spec schema.Collection
	if err := json.Unmarshal([]byte(settings), &spec); err != nil {
		return lazyerrors.Error(err)
	}

	c.Spec = &spec

	return nil
}
