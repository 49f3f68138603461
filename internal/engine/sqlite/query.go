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

package sqlite

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/corraldb/corral/internal/engine"
	"github.com/corraldb/corral/internal/engine/sqlite/metadata"
)

// fieldNameRe restricts field names that can be embedded into SQLite path expressions.
var fieldNameRe = regexp.MustCompile("^[a-zA-Z_][a-zA-Z0-9_]{0,127}$")

// fieldPath returns a SQLite expression extracting the given field,
// or an error if the field name can't be safely embedded.
//
// The special names _id, created_at and updated_at address
// the document envelope instead of data fields.
func fieldPath(field string) (string, error) {
	switch field {
	case "_id":
		return metadata.IDColumn, nil
	case "created_at", "updated_at":
		return fmt.Sprintf("%s->>'$.%s'", metadata.DefaultColumn, field), nil
	}

	if !fieldNameRe.MatchString(field) {
		return "", engine.NewErrorWithArgument(
			engine.ErrorCodeDocumentIsInvalid,
			fmt.Errorf("invalid field name %q", field),
			field,
		)
	}

	return metadata.DataPath(field), nil
}

// filter operators mapped to SQL comparison operators.
var filterOps = map[string]string{
	"$gt":  ">",
	"$gte": ">=",
	"$lt":  "<",
	"$lte": "<=",
	"$ne":  "!=",
}

// buildWhere builds a WHERE clause (including the keyword, or empty)
// and its arguments for the given filter.
//
// A plain value means equality; an operator object like {"$gt": 5}
// compares with the given operator; {"$in": [...]} matches any of the values.
func buildWhere(filter map[string]any) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}

	// deterministic clause order
	fields := make([]string, 0, len(filter))
	for f := range filter {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var conds []string
	var args []any

	for _, field := range fields {
		path, err := fieldPath(field)
		if err != nil {
			return "", nil, err
		}

		cond, condArgs, err := buildCondition(field, path, filter[field])
		if err != nil {
			return "", nil, err
		}

		conds = append(conds, cond)
		args = append(args, condArgs...)
	}

	return "WHERE " + strings.Join(conds, " AND "), args, nil
}

// buildCondition builds a single field condition.
func buildCondition(field, path string, value any) (string, []any, error) {
	ops, ok := value.(map[string]any)
	if !ok {
		return fmt.Sprintf("%s = ?", path), []any{value}, nil
	}

	var conds []string
	var args []any

	// deterministic clause order
	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)

	for _, op := range names {
		arg := ops[op]

		if sql := filterOps[op]; sql != "" {
			conds = append(conds, fmt.Sprintf("%s %s ?", path, sql))
			args = append(args, arg)

			continue
		}

		if op == "$in" {
			values, ok := arg.([]any)
			if !ok || len(values) == 0 {
				return "", nil, engine.NewErrorWithArgument(
					engine.ErrorCodeDocumentIsInvalid,
					fmt.Errorf("$in for field %q requires a non-empty array", field),
					field,
				)
			}

			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
			conds = append(conds, fmt.Sprintf("%s IN (%s)", path, placeholders))
			args = append(args, values...)

			continue
		}

		return "", nil, engine.NewErrorWithArgument(
			engine.ErrorCodeDocumentIsInvalid,
			fmt.Errorf("unknown filter operator %q for field %q", op, field),
			op,
		)
	}

	return strings.Join(conds, " AND "), args, nil
}

// buildOrderBy builds an ORDER BY clause (including the keyword, or empty).
func buildOrderBy(orderBy []engine.SortSpec) (string, error) {
	if len(orderBy) == 0 {
		return "", nil
	}

	terms := make([]string, len(orderBy))

	for i, s := range orderBy {
		path, err := fieldPath(s.Field)
		if err != nil {
			return "", err
		}

		dir := "ASC"
		if s.Descending {
			dir = "DESC"
		}

		terms[i] = fmt.Sprintf("%s %s", path, dir)
	}

	return "ORDER BY " + strings.Join(terms, ", "), nil
}
