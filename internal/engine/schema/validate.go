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
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9][0-9 ().-]{4,19}$`)
)

// Validate checks raw document data against the collection schema and returns
// coerced data.
//
// It is a pure function with no side effects; it is safe to call both for the
// optimistic pre-check and for the authoritative re-check inside the write
// queue. Coercion is idempotent: validating already-coerced data returns the
// same result.
//
// Rules are applied in order:
//  1. nil data is rejected;
//  2. defaults are substituted, then required fields are checked;
//  3. values are coerced per the declared type, ambiguous values are rejected;
//  4. unknown keys pass through unchanged;
//  5. per-field validation expressions are evaluated on coerced values.
func Validate(c *Collection, raw map[string]any) (map[string]any, error) {
	if raw == nil {
		return nil, &Error{Reason: "data is required"}
	}

	now := time.Now()

	res := make(map[string]any, len(raw))
	for k, v := range raw {
		res[k] = v
	}

	for i := range c.Fields {
		f := &c.Fields[i]

		v, present := res[f.Name]

		if !present || v == nil {
			switch {
			case f.Default != nil:
				v = must(coerceValue(f, f.Default, now))
				present = true

			case f.Type == TypeUniqueID:
				// generated, never required from the caller
				v = uuid.NewString()
				present = true
			}

			if present {
				res[f.Name] = v
			}
		}

		if !present || v == nil {
			if f.Required {
				return nil, &Error{Field: f.Name, Reason: "field is required"}
			}

			continue
		}

		coerced, err := coerceValue(f, v, now)
		if err != nil {
			return nil, &Error{Field: f.Name, Reason: err.Error()}
		}

		res[f.Name] = coerced

		if f.Validation != "" {
			ok, err := evalRule(f.Validation, coerced, res)
			if err != nil {
				return nil, &Error{Field: f.Name, Reason: fmt.Sprintf("validation rule failed: %s", err)}
			}

			if !ok {
				return nil, &Error{Field: f.Name, Reason: "validation rule failed"}
			}
		}
	}

	return res, nil
}

// ValidatePatch coerces only the fields present in patch.
//
// Absent required fields are not checked because the caller merges the patch
// into existing already-valid data, but an explicit null for a required field
// is rejected. Validation rules are not evaluated here; they may reference
// fields the patch does not touch, so only the full merged document inside
// the write queue worker can evaluate them correctly.
func ValidatePatch(c *Collection, patch map[string]any) (map[string]any, error) {
	if patch == nil {
		return nil, &Error{Reason: "data is required"}
	}

	now := time.Now()

	res := make(map[string]any, len(patch))
	for k, v := range patch {
		res[k] = v
	}

	for i := range c.Fields {
		f := &c.Fields[i]

		v, present := res[f.Name]
		if !present {
			continue
		}

		if v == nil {
			if f.Required {
				return nil, &Error{Field: f.Name, Reason: "field is required"}
			}

			continue
		}

		coerced, err := coerceValue(f, v, now)
		if err != nil {
			return nil, &Error{Field: f.Name, Reason: err.Error()}
		}

		res[f.Name] = coerced
	}

	return res, nil
}

// must returns v, panicking on error. Used for defaults that were already
// validated by ValidateSpec.
func must(v any, err error) any {
	if err != nil {
		panic(err)
	}

	return v
}

// coerceValue converts v to the canonical representation of the field type.
//
// The canonical forms are: string for string-like types, int64 for integer,
// float64 for decimal, bool for boolean, RFC 3339 strings for date and
// timestamp, and unmodified JSON values for json, array, and object. Coercion
// of a canonical value is the identity.
func coerceValue(f *Field, v any, now time.Time) (any, error) {
	switch f.Type {
	case TypeString, TypeText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}

		return s, nil

	case TypeInteger:
		return coerceInteger(v)

	case TypeDecimal:
		return coerceDecimal(v)

	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			switch strings.ToLower(b) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}

		return nil, fmt.Errorf("expected boolean, got %T", v)

	case TypeJSON:
		return v, nil

	case TypeArray:
		if a, ok := v.([]any); ok {
			return a, nil
		}

		return nil, fmt.Errorf("expected array, got %T", v)

	case TypeObject:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}

		return nil, fmt.Errorf("expected object, got %T", v)

	case TypeDate, TypeTimestamp:
		return coerceTime(v, now)

	case TypeUUID:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected UUID string, got %T", v)
		}

		u, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID: %s", err)
		}

		return u.String(), nil

	case TypeEmail:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected email string, got %T", v)
		}

		if !emailRe.MatchString(s) {
			return nil, fmt.Errorf("invalid email address")
		}

		return s, nil

	case TypePhone:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected phone string, got %T", v)
		}

		if !phoneRe.MatchString(s) {
			return nil, fmt.Errorf("invalid phone number")
		}

		return s, nil

	case TypeUniqueID:
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("expected non-empty string, got %T", v)
		}

		return s, nil

	default:
		return nil, fmt.Errorf("unknown field type %q", f.Type)
	}
}

// coerceInteger converts v to int64.
func coerceInteger(v any) (any, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("expected integer, got fractional number %v", n)
		}

		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", n.String())
		}

		return i, nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", n)
		}

		return i, nil
	default:
		return nil, fmt.Errorf("expected integer, got %T", v)
	}
}

// coerceDecimal converts v to float64.
func coerceDecimal(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("expected number, got %q", n.String())
		}

		return f, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil, fmt.Errorf("expected number, got %q", n)
		}

		return f, nil
	default:
		return nil, fmt.Errorf("expected number, got %T", v)
	}
}

// coerceTime converts v to a canonical RFC 3339 UTC string.
//
// The DefaultNow sentinel is replaced with now.
func coerceTime(v any, now time.Time) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil

	case string:
		if t == DefaultNow {
			return now.UTC().Format(time.RFC3339Nano), nil
		}

		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC().Format(time.RFC3339Nano), nil
			}
		}

		return nil, fmt.Errorf("invalid time value %q", t)

	case float64:
		// Unix milliseconds
		return time.UnixMilli(int64(t)).UTC().Format(time.RFC3339Nano), nil

	case int64:
		return time.UnixMilli(t).UTC().Format(time.RFC3339Nano), nil

	default:
		return nil, fmt.Errorf("expected time value, got %T", v)
	}
}
