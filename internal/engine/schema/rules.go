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
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// programs caches compiled validation rules by expression text.
var programs sync.Map

// compileRule compiles a validation rule and caches the program.
//
// The rule must evaluate to a boolean. It sees two variables:
// `value` (the coerced field value) and `data` (the whole document data).
func compileRule(rule string) error {
	_, err := getProgram(rule)
	return err
}

// evalRule runs a compiled validation rule against the given value and data.
func evalRule(rule string, value any, data map[string]any) (bool, error) {
	program, err := getProgram(rule)
	if err != nil {
		return false, err
	}

	out, err := expr.Run(program, map[string]any{
		"value": value,
		"data":  data,
	})
	if err != nil {
		return false, err
	}

	ok, isBool := out.(bool)
	if !isBool {
		return false, &Error{Reason: "validation rule must return a boolean"}
	}

	return ok, nil
}

// getProgram returns a cached compiled program for the rule.
func getProgram(rule string) (*vm.Program, error) {
	if p, ok := programs.Load(rule); ok {
		return p.(*vm.Program), nil
	}

	program, err := expr.Compile(rule, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	p, _ := programs.LoadOrStore(rule, program)

	return p.(*vm.Program), nil
}
