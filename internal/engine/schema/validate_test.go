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

package schema

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequired(t *testing.T) {
	t.Parallel()

	c := &Collection{
		Name: "tasks",
		Fields: []Field{
			{Name: "title", Type: TypeString, Required: true},
		},
	}
	require.NoError(t, c.ValidateSpec())

	data, err := Validate(c, map[string]any{"title": "X"})
	require.NoError(t, err)
	assert.Equal(t, "X", data["title"])

	_, err = Validate(c, map[string]any{})
	require.Error(t, err)

	var vErr *Error
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "title", vErr.Field)

	_, err = Validate(c, nil)
	require.Error(t, err)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "data is required", vErr.Reason)
}

func TestValidateCoercion(t *testing.T) {
	t.Parallel()

	c := &Collection{
		Name: "all_types",
		Fields: []Field{
			{Name: "i", Type: TypeInteger},
			{Name: "d", Type: TypeDecimal},
			{Name: "b", Type: TypeBoolean},
			{Name: "s", Type: TypeString},
			{Name: "u", Type: TypeUUID},
			{Name: "e", Type: TypeEmail},
			{Name: "p", Type: TypePhone},
			{Name: "ts", Type: TypeTimestamp},
			{Name: "arr", Type: TypeArray},
			{Name: "obj", Type: TypeObject},
		},
	}
	require.NoError(t, c.ValidateSpec())

	id := uuid.NewString()

	data, err := Validate(c, map[string]any{
		"i":   "42",
		"d":   1,
		"b":   "true",
		"s":   "hello",
		"u":   id,
		"e":   "user@example.com",
		"p":   "+1 (555) 123-4567",
		"ts":  "2024-03-01T12:00:00Z",
		"arr": []any{"a", "b"},
		"obj": map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), data["i"])
	assert.Equal(t, float64(1), data["d"])
	assert.Equal(t, true, data["b"])
	assert.Equal(t, "hello", data["s"])
	assert.Equal(t, id, data["u"])

	ts, err := time.Parse(time.RFC3339Nano, data["ts"].(string))
	require.NoError(t, err)
	assert.Equal(t, 2024, ts.Year())
}

func TestValidateCoercionErrors(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		field Field
		value any
	}{
		"FractionalInteger": {Field{Name: "f", Type: TypeInteger}, 3.5},
		"NonNumericInteger": {Field{Name: "f", Type: TypeInteger}, "abc"},
		"BoolForString":     {Field{Name: "f", Type: TypeString}, true},
		"BadBoolean":        {Field{Name: "f", Type: TypeBoolean}, "yes"},
		"BadUUID":           {Field{Name: "f", Type: TypeUUID}, "not-a-uuid"},
		"BadEmail":          {Field{Name: "f", Type: TypeEmail}, "not-an-email"},
		"BadPhone":          {Field{Name: "f", Type: TypePhone}, "call me"},
		"BadTime":           {Field{Name: "f", Type: TypeTimestamp}, "yesterday"},
		"ScalarForArray":    {Field{Name: "f", Type: TypeArray}, "x"},
		"ScalarForObject":   {Field{Name: "f", Type: TypeObject}, 42},
	} {
		tc := tc

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			c := &Collection{Name: "c", Fields: []Field{tc.field}}
			require.NoError(t, c.ValidateSpec())

			_, err := Validate(c, map[string]any{"f": tc.value})

			var vErr *Error
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, "f", vErr.Field)
		})
	}
}

func TestValidateIdempotent(t *testing.T) {
	t.Parallel()

	c := &Collection{
		Name: "idem",
		Fields: []Field{
			{Name: "n", Type: TypeInteger},
			{Name: "w", Type: TypeDecimal},
			{Name: "at", Type: TypeTimestamp, Default: DefaultNow},
			{Name: "key", Type: TypeUniqueID},
		},
	}
	require.NoError(t, c.ValidateSpec())

	once, err := Validate(c, map[string]any{"n": "7", "w": 2})
	require.NoError(t, err)

	twice, err := Validate(c, once)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestValidateDefaults(t *testing.T) {
	t.Parallel()

	c := &Collection{
		Name: "defaults",
		Fields: []Field{
			{Name: "status", Type: TypeString, Required: true, Default: "open"},
			{Name: "created", Type: TypeTimestamp, Default: DefaultNow},
			{Name: "ref", Type: TypeUniqueID},
		},
	}
	require.NoError(t, c.ValidateSpec())

	data, err := Validate(c, map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, "open", data["status"])

	_, err = time.Parse(time.RFC3339Nano, data["created"].(string))
	require.NoError(t, err)

	_, err = uuid.Parse(data["ref"].(string))
	require.NoError(t, err)
}

func TestValidateUnknownFieldsPassThrough(t *testing.T) {
	t.Parallel()

	c := &Collection{
		Name:   "overflow",
		Fields: []Field{{Name: "a", Type: TypeString}},
	}
	require.NoError(t, c.ValidateSpec())

	data, err := Validate(c, map[string]any{"a": "x", "extra": 42})
	require.NoError(t, err)
	assert.Equal(t, 42, data["extra"])
}

func TestValidateRules(t *testing.T) {
	t.Parallel()

	c := &Collection{
		Name: "rules",
		Fields: []Field{
			{Name: "age", Type: TypeInteger, Validation: "value >= 0 && value < 150"},
		},
	}
	require.NoError(t, c.ValidateSpec())

	_, err := Validate(c, map[string]any{"age": 30})
	require.NoError(t, err)

	_, err = Validate(c, map[string]any{"age": -1})
	var vErr *Error
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "age", vErr.Field)

	bad := &Collection{
		Name:   "rules_bad",
		Fields: []Field{{Name: "x", Type: TypeInteger, Validation: "value >="}},
	}
	require.Error(t, bad.ValidateSpec())
}

func TestValidatePatch(t *testing.T) {
	t.Parallel()

	c := &Collection{
		Name: "patches",
		Fields: []Field{
			{Name: "title", Type: TypeString, Required: true},
			{Name: "count", Type: TypeInteger},
		},
	}
	require.NoError(t, c.ValidateSpec())

	// absent required fields are not enforced on patches
	patch, err := ValidatePatch(c, map[string]any{"count": "3"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), patch["count"])

	_, err = ValidatePatch(c, map[string]any{"count": "x"})
	require.Error(t, err)

	// an explicit null for a required field is rejected
	_, err = ValidatePatch(c, map[string]any{"title": nil})
	var vErr *Error
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "title", vErr.Field)

	// an explicit null clears an optional field
	patch, err = ValidatePatch(c, map[string]any{"count": nil})
	require.NoError(t, err)
	v, ok := patch["count"]
	require.True(t, ok)
	assert.Nil(t, v)
}

func TestValidatePatchSkipsRules(t *testing.T) {
	t.Parallel()

	c := &Collection{
		Name: "patches_rules",
		Fields: []Field{
			{Name: "min", Type: TypeInteger, Required: true},
			{Name: "max", Type: TypeInteger, Required: true, Validation: "value > data.min"},
		},
	}
	require.NoError(t, c.ValidateSpec())

	// the rule references an untouched field;
	// only the merged document can evaluate it
	patch, err := ValidatePatch(c, map[string]any{"max": 10})
	require.NoError(t, err)
	assert.Equal(t, int64(10), patch["max"])

	// the merged document still enforces it
	_, err = Validate(c, map[string]any{"min": int64(20), "max": int64(10)})
	var vErr *Error
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "max", vErr.Field)
}
