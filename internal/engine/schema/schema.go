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

// Package schema provides collection schema definitions
// and schema-driven document validation.
package schema

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// FieldType represents a declared type of a collection field.
type FieldType string

// Recognized field types.
const (
	TypeString    FieldType = "string"
	TypeText      FieldType = "text"
	TypeInteger   FieldType = "integer"
	TypeDecimal   FieldType = "decimal"
	TypeBoolean   FieldType = "boolean"
	TypeJSON      FieldType = "json"
	TypeArray     FieldType = "array"
	TypeObject    FieldType = "object"
	TypeDate      FieldType = "date"
	TypeTimestamp FieldType = "timestamp"
	TypeUUID      FieldType = "uuid"
	TypeEmail     FieldType = "email"
	TypePhone     FieldType = "phone"
	TypeUniqueID  FieldType = "uniqueID"
)

// fieldTypes contains all recognized field types.
var fieldTypes = []FieldType{
	TypeString, TypeText, TypeInteger, TypeDecimal, TypeBoolean,
	TypeJSON, TypeArray, TypeObject, TypeDate, TypeTimestamp,
	TypeUUID, TypeEmail, TypePhone, TypeUniqueID,
}

// KnownType returns true if t is a recognized field type.
func KnownType(t FieldType) bool {
	return slices.Contains(fieldTypes, t)
}

// DefaultNow is the sentinel default value for date and timestamp fields
// that is replaced with the current time when a document omits the field.
const DefaultNow = "now"

// Field represents a single typed slot in a collection schema.
//
//nolint:vet // for readability
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Unique   bool      `json:"unique,omitempty"`
	Indexed  bool      `json:"indexed,omitempty"`
	Default  any       `json:"default,omitempty"`

	// Validation is an optional boolean expression evaluated
	// with `value` and `data` variables after coercion.
	Validation string `json:"validation,omitempty"`
}

// Index represents a declarative index over one or more fields.
type Index struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
	Unique bool     `json:"unique,omitempty"`
}

// Collection represents a collection schema.
//
//nolint:vet // for readability
type Collection struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Fields      []Field   `json:"fields"`
	Indexes     []Index   `json:"indexes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Field returns the named field or nil.
func (c *Collection) Field(name string) *Field {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i]
		}
	}

	return nil
}

// UniqueFields returns fields that require per-collection unique values.
func (c *Collection) UniqueFields() []Field {
	var res []Field

	for _, f := range c.Fields {
		if f.Unique {
			res = append(res, f)
		}
	}

	return res
}

// deepCopyFields returns a deep copy of fields, including default values.
func deepCopyFields(fields []Field) []Field {
	res := slices.Clone(fields)

	for i := range res {
		res[i].Default = deepCopyValue(res[i].Default)
	}

	return res
}

// deepCopyValue returns a deep copy of a JSON-shaped value.
func deepCopyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		res := make(map[string]any, len(v))
		for k, e := range v {
			res[k] = deepCopyValue(e)
		}

		return res

	case []any:
		res := make([]any, len(v))
		for i, e := range v {
			res[i] = deepCopyValue(e)
		}

		return res

	default:
		return v
	}
}

// DeepCopy returns a deep copy.
func (c *Collection) DeepCopy() *Collection {
	if c == nil {
		return nil
	}

	res := *c
	res.Fields = deepCopyFields(c.Fields)
	res.Indexes = slices.Clone(c.Indexes)

	for i := range res.Indexes {
		res.Indexes[i].Fields = slices.Clone(c.Indexes[i].Fields)
	}

	return &res
}

// ValidateSpec checks the collection schema itself: field names, type enum
// membership, defaults, validation rules, and index references.
//
// Collection name validation is done by the contract layer before the schema
// reaches this package.
func (c *Collection) ValidateSpec() error {
	seen := make(map[string]struct{}, len(c.Fields))

	for i := range c.Fields {
		f := &c.Fields[i]

		if err := validateFieldName(f.Name); err != nil {
			return err
		}

		if _, dup := seen[f.Name]; dup {
			return &Error{Field: f.Name, Reason: "duplicate field name"}
		}
		seen[f.Name] = struct{}{}

		if !KnownType(f.Type) {
			return &Error{Field: f.Name, Reason: fmt.Sprintf("unknown field type %q", f.Type)}
		}

		if f.Default != nil {
			if _, err := coerceValue(f, f.Default, time.Now()); err != nil {
				return &Error{Field: f.Name, Reason: fmt.Sprintf("invalid default value: %s", err)}
			}
		}

		if f.Validation != "" {
			if err := compileRule(f.Validation); err != nil {
				return &Error{Field: f.Name, Reason: fmt.Sprintf("invalid validation rule: %s", err)}
			}
		}
	}

	for _, idx := range c.Indexes {
		if idx.Name == "" {
			return &Error{Reason: "index name is required"}
		}

		if len(idx.Fields) == 0 {
			return &Error{Reason: fmt.Sprintf("index %q has no fields", idx.Name)}
		}

		for _, fn := range idx.Fields {
			if _, ok := seen[fn]; !ok {
				return &Error{Reason: fmt.Sprintf("index %q references unknown field %q", idx.Name, fn)}
			}
		}
	}

	return nil
}

// validateFieldName checks that a field name is non-empty, contains no spaces,
// and is safe to embed into a JSON path expression.
func validateFieldName(name string) error {
	if name == "" {
		return &Error{Reason: "field name is required"}
	}

	if strings.ContainsAny(name, " \t\n\"'.$\x00") {
		return &Error{Field: name, Reason: "field name contains invalid characters"}
	}

	return nil
}

// MergeAdditive merges patch into c: new fields and indexes are appended,
// description is replaced if non-empty. Existing fields can't be removed or
// retyped.
func (c *Collection) MergeAdditive(patch *Collection) error {
	for i := range patch.Fields {
		f := &patch.Fields[i]

		if existing := c.Field(f.Name); existing != nil {
			if existing.Type != f.Type {
				return &Error{Field: f.Name, Reason: "field type can't be changed"}
			}

			// same name, same type: no-op
			continue
		}

		c.Fields = append(c.Fields, *f)
	}

	for _, idx := range patch.Indexes {
		exists := slices.ContainsFunc(c.Indexes, func(i Index) bool { return i.Name == idx.Name })
		if !exists {
			c.Indexes = append(c.Indexes, idx)
		}
	}

	if patch.Description != "" {
		c.Description = patch.Description
	}

	return c.ValidateSpec()
}
