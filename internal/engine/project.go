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

	"github.com/corraldb/corral/internal/engine/schema"
	"github.com/corraldb/corral/internal/util/observability"
	"github.com/corraldb/corral/internal/util/resource"
)

// Project is a generic interface for accessing a single project (tenant).
//
// Project object is expected to be mostly stateless and temporary;
// all state should be in the Backend that created this Project instance.
// The transport layer can create and destroy Project objects on the fly
// (but it should Close() them).
// Creating a Project object does not imply the creation of the project itself.
//
// Project methods should be thread-safe.
//
// See projectContract and its methods for additional details.
type Project interface {
	Close()

	Collection(string) (Collection, error)
	ListCollections(context.Context, *ListCollectionsParams) (*ListCollectionsResult, error)
	GetCollection(context.Context, *GetCollectionParams) (*GetCollectionResult, error)
	CreateCollection(context.Context, *CreateCollectionParams) error
	UpdateCollection(context.Context, *UpdateCollectionParams) error
	DropCollection(context.Context, *DropCollectionParams) error
}

// projectContract implements Project interface.
type projectContract struct {
	p     Project
	token *resource.Token
}

// ProjectContract wraps Project and enforces its contract.
//
// All engine implementations should use that function when they create new Project instances.
// The transport layer should not use that function.
//
// See projectContract and its methods for additional details.
func ProjectContract(p Project) Project {
	pc := &projectContract{
		p:     p,
		token: resource.NewToken(),
	}
	resource.Track(pc, pc.token)

	return pc
}

// Close marks this Project instance as not being used anymore.
// The implementation may decrease a reference counter, release cached handles, etc.
func (pc *projectContract) Close() {
	pc.p.Close()

	resource.Untrack(pc, pc.token)
}

// Collection returns a Collection instance for the given name.
//
// The collection (or project) does not need to exist.
func (pc *projectContract) Collection(name string) (Collection, error) {
	var res Collection

	err := validateCollectionName(name)
	if err == nil {
		res, err = pc.p.Collection(name)
	}

	checkError(err, ErrorCodeCollectionNameIsInvalid)

	return res, err
}

// ListCollectionsParams represents the parameters of Project.ListCollections method.
type ListCollectionsParams struct{}

// ListCollectionsResult represents the results of Project.ListCollections method.
type ListCollectionsResult struct {
	Collections []*schema.Collection
}

// ListCollections returns a sorted list of collections in the project with their schemas.
//
// Project doesn't have to exist; that's not an error.
func (pc *projectContract) ListCollections(ctx context.Context, params *ListCollectionsParams) (*ListCollectionsResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := pc.p.ListCollections(ctx, params)
	checkError(err)

	return res, err
}

// GetCollectionParams represents the parameters of Project.GetCollection method.
type GetCollectionParams struct {
	Name string
}

// GetCollectionResult represents the results of Project.GetCollection method.
type GetCollectionResult struct {
	Collection *schema.Collection
}

// GetCollection returns the schema of an existing collection.
func (pc *projectContract) GetCollection(ctx context.Context, params *GetCollectionParams) (*GetCollectionResult, error) {
	defer observability.FuncCall(ctx)()

	var res *GetCollectionResult

	err := validateCollectionName(params.Name)
	if err == nil {
		res, err = pc.p.GetCollection(ctx, params)
	}

	checkError(err, ErrorCodeCollectionNameIsInvalid, ErrorCodeCollectionDoesNotExist)

	return res, err
}

// CreateCollectionParams represents the parameters of Project.CreateCollection method.
type CreateCollectionParams struct {
	Collection *schema.Collection
}

// CreateCollection creates a new collection with the given schema; it should not already exist.
//
// Project may or may not exist; it is created automatically if needed.
// The schema is validated before anything reaches the write queue.
func (pc *projectContract) CreateCollection(ctx context.Context, params *CreateCollectionParams) error {
	defer observability.FuncCall(ctx)()

	err := validateCollectionName(params.Collection.Name)
	if err == nil {
		err = pc.p.CreateCollection(ctx, params)
	}

	checkError(
		err,
		ErrorCodeCollectionNameIsInvalid,
		ErrorCodeCollectionAlreadyExists,
		ErrorCodeSchemaIsInvalid,
		ErrorCodeQueueFull,
	)

	return err
}

// UpdateCollectionParams represents the parameters of Project.UpdateCollection method.
type UpdateCollectionParams struct {
	// Patch is merged additively into the existing schema:
	// new fields and indexes are added, description is replaced,
	// existing fields can't be removed or retyped.
	Patch *schema.Collection
}

// UpdateCollection updates the schema of an existing collection.
func (pc *projectContract) UpdateCollection(ctx context.Context, params *UpdateCollectionParams) error {
	defer observability.FuncCall(ctx)()

	err := validateCollectionName(params.Patch.Name)
	if err == nil {
		err = pc.p.UpdateCollection(ctx, params)
	}

	checkError(
		err,
		ErrorCodeCollectionNameIsInvalid,
		ErrorCodeCollectionDoesNotExist,
		ErrorCodeSchemaIsInvalid,
		ErrorCodeQueueFull,
	)

	return err
}

// DropCollectionParams represents the parameters of Project.DropCollection method.
type DropCollectionParams struct {
	Name string
}

// DropCollection drops existing collection and all its documents.
func (pc *projectContract) DropCollection(ctx context.Context, params *DropCollectionParams) error {
	defer observability.FuncCall(ctx)()

	err := validateCollectionName(params.Name)
	if err == nil {
		err = pc.p.DropCollection(ctx, params)
	}

	checkError(err, ErrorCodeCollectionNameIsInvalid, ErrorCodeCollectionDoesNotExist, ErrorCodeQueueFull)

	return err
}

// check interfaces
var (
	_ Project = (*projectContract)(nil)
)
