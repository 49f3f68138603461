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

// Package engine provides common interfaces and code for all engine implementations.
//
// # Design principles
//
//  1. Interfaces are relatively high-level.
//     For example, InsertOne validates the document against the collection schema,
//     coerces values, generates the id, and enqueues the write in one call.
//  2. Backend objects are stateful.
//     Project objects are almost stateless but should be Close()'d to avoid handle leaks.
//     Collection objects are fully stateless.
//  3. Contexts are per-operation and should not be stored.
//  4. Errors returned by methods could be nil, *Error, or some other opaque error type.
//     *Error values can't be wrapped or be present anywhere in the error chain.
//     Contracts enforce *Error codes; they are not documented in the code comments
//     but are visible in the contract's code (to avoid duplication).
//  5. All mutations go through the implementation's write queue;
//     reads bypass it and run on a separate read handle.
package engine
