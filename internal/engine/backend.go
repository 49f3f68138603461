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
	"context"

	"github.com/corraldb/corral/internal/util/observability"
	"github.com/corraldb/corral/internal/util/resource"
)

// Backend is a generic interface for engine implementations.
//
// Backend object is expected to be stateful: it owns the write queue and database handles.
// The transport layer can create one Backend or multiple Backends with different directories.
//
// Backend methods can be called by multiple client connections / handlers concurrently.
// They should be thread-safe.
//
// See backendContract and its methods for additional details.
type Backend interface {
	Close()
	Project(string) (Project, error)
	ListProjects(context.Context, *ListProjectsParams) (*ListProjectsResult, error)
	DropProject(context.Context, *DropProjectParams) error
	Quiesced() bool

	// There is no interface method to create a project;
	// creating the first collection creates it.
}

// backendContract implements Backend interface.
type backendContract struct {
	b     Backend
	token *resource.Token
}

// BackendContract wraps Backend and enforces its contract.
//
// All engine implementations should use that function when they create new Backend instances.
// The transport layer should not use that function.
//
// See backendContract and its methods for additional details.
func BackendContract(b Backend) Backend {
	bc := &backendContract{
		b:     b,
		token: resource.NewToken(),
	}
	resource.Track(bc, bc.token)

	return bc
}

// Close stops the write queue and frees all resources associated with the backend.
func (bc *backendContract) Close() {
	bc.b.Close()

	resource.Untrack(bc, bc.token)
}

// Project returns a Project instance for the given name.
//
// The project does not need to exist.
func (bc *backendContract) Project(name string) (Project, error) {
	var res Project

	err := validateProjectName(name)
	if err == nil {
		res, err = bc.b.Project(name)
	}

	checkError(err, ErrorCodeProjectNameIsInvalid)

	return res, err
}

// ListProjectsParams represents the parameters of Backend.ListProjects method.
type ListProjectsParams struct{}

// ListProjectsResult represents the results of Backend.ListProjects method.
type ListProjectsResult struct {
	Projects []ProjectInfo
}

// ProjectInfo represents information about a single project.
type ProjectInfo struct {
	Name string
	Size int64
}

// ListProjects returns a sorted list of existing projects.
func (bc *backendContract) ListProjects(ctx context.Context, params *ListProjectsParams) (*ListProjectsResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := bc.b.ListProjects(ctx, params)
	checkError(err)

	return res, err
}

// DropProjectParams represents the parameters of Backend.DropProject method.
type DropProjectParams struct {
	Name string
}

// DropProject drops existing project with all its collections and documents.
func (bc *backendContract) DropProject(ctx context.Context, params *DropProjectParams) error {
	defer observability.FuncCall(ctx)()

	err := validateProjectName(params.Name)
	if err == nil {
		err = bc.b.DropProject(ctx, params)
	}

	checkError(err, ErrorCodeProjectNameIsInvalid, ErrorCodeProjectDoesNotExist)

	return err
}

// Quiesced reports whether no write is currently being applied.
func (bc *backendContract) Quiesced() bool {
	return bc.b.Quiesced()
}

// check interfaces
var (
	_ Backend = (*backendContract)(nil)
)
