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
	"regexp"
	"strings"
)

// projectNameRe validates project names.
var projectNameRe = regexp.MustCompile("^[a-z][a-z0-9_-]{0,63}$")

// collectionNameRe validates collection names.
var collectionNameRe = regexp.MustCompile("^[a-z][a-z0-9_]{0,63}$")

// ReservedPrefix for project and collection names, field names, and internal tables.
const ReservedPrefix = "_corral_"

// validateProjectName checks that project name is valid.
//
// Lowercase latin letters, digits, underscores and dashes only; must start with a letter;
// at most 64 characters; the `_corral_` prefix is reserved.
//
// That validation is quite restrictive because project names become file names on disk.
//
// Implementations can do their own additional validation.
func validateProjectName(name string) error {
	if !projectNameRe.MatchString(name) {
		return NewErrorWithArgument(ErrorCodeProjectNameIsInvalid, nil, name)
	}

	if strings.HasPrefix(name, ReservedPrefix) {
		return NewErrorWithArgument(ErrorCodeProjectNameIsInvalid, nil, name)
	}

	return nil
}

// validateCollectionName checks that collection name is valid.
//
// Lowercase latin letters, digits and underscores only; must start with a letter;
// at most 64 characters; the `_corral_` prefix is reserved.
// Spaces, dashes, uppercase letters and leading digits are all rejected.
//
// Implementations can do their own additional validation.
func validateCollectionName(name string) error {
	if !collectionNameRe.MatchString(name) {
		return NewErrorWithArgument(ErrorCodeCollectionNameIsInvalid, nil, name)
	}

	if strings.HasPrefix(name, ReservedPrefix) {
		return NewErrorWithArgument(ErrorCodeCollectionNameIsInvalid, nil, name)
	}

	return nil
}
