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
	"context"
	"errors"

	"github.com/corraldb/corral/internal/engine"
	"github.com/corraldb/corral/internal/engine/schema"
	"github.com/corraldb/corral/internal/engine/writequeue"
	"github.com/corraldb/corral/internal/util/lazyerrors"
)

// project implements engine.Project interface.
type project struct {
	b    *backend
	name string
}

// newProject creates a new Project.
func newProject(b *backend, name string) engine.Project {
	return engine.ProjectContract(&project{
		b:    b,
		name: name,
	})
}

// Close implements engine.Project interface.
func (p *project) Close() {}

// Collection implements engine.Project interface.
func (p *project) Collection(name string) (engine.Collection, error) {
	return newCollection(p.b, p.name, name), nil
}

// ListCollections implements engine.Project interface.
func (p *project) ListCollections(ctx context.Context, params *engine.ListCollectionsParams) (*engine.ListCollectionsResult, error) {
	list, err := p.b.r.CollectionList(ctx, p.name)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	res := &engine.ListCollectionsResult{
		Collections: make([]*schema.Collection, len(list)),
	}
	for i, c := range list {
		res.Collections[i] = c.Spec
	}

	return res, nil
}

// GetCollection implements engine.Project interface.
func (p *project) GetCollection(ctx context.Context, params *engine.GetCollectionParams) (*engine.GetCollectionResult, error) {
	c := p.b.r.CollectionGet(ctx, p.name, params.Name)
	if c == nil {
		return nil, engine.NewErrorWithArgument(engine.ErrorCodeCollectionDoesNotExist, nil, params.Name)
	}

	return &engine.GetCollectionResult{
		Collection: c.Spec,
	}, nil
}

// validateSpec maps schema validation failures to the public error taxonomy.
func validateSpec(spec *schema.Collection) error {
	if spec == nil {
		return engine.NewError(engine.ErrorCodeSchemaIsInvalid, errors.New("schema is required"))
	}

	if err := spec.ValidateSpec(); err != nil {
		var sErr *schema.Error
		if errors.As(err, &sErr) {
			return engine.NewErrorWithArgument(engine.ErrorCodeSchemaIsInvalid, err, sErr)
		}

		return engine.NewError(engine.ErrorCodeSchemaIsInvalid, err)
	}

	return nil
}

// CreateCollection implements engine.Project interface.
//
// The schema is validated synchronously; only valid schemas reach the write queue.
func (p *project) CreateCollection(ctx context.Context, params *engine.CreateCollectionParams) error {
	spec := params.Collection

	if err := validateSpec(spec); err != nil {
		return err
	}

	_, err := p.b.enqueue(ctx, &writequeue.Op{
		Kind:       "schema",
		Project:    p.name,
		Collection: spec.Name,
		Func: func(ctx context.Context) (any, error) {
			created, err := p.b.r.CollectionCreate(ctx, p.name, spec)
			if err != nil {
				return nil, lazyerrors.Error(err)
			}

			if !created {
				return nil, engine.NewErrorWithArgument(engine.ErrorCodeCollectionAlreadyExists, nil, spec.Name)
			}

			return nil, nil
		},
	})
	if err != nil {
		return err
	}

	p.b.emit(engine.Event{
		Action:       "create",
		ResourceType: "collection",
		ResourceID:   spec.Name,
		Project:      p.name,
		Collection:   spec.Name,
	})

	return nil
}

// UpdateCollection implements engine.Project interface.
func (p *project) UpdateCollection(ctx context.Context, params *engine.UpdateCollectionParams) error {
	patch := params.Patch

	// preview the merge on the cached schema so that schema problems
	// are reported synchronously without occupying the queue
	existing := p.b.r.CollectionGet(ctx, p.name, patch.Name)
	if existing == nil {
		return engine.NewErrorWithArgument(engine.ErrorCodeCollectionDoesNotExist, nil, patch.Name)
	}

	preview := existing.Spec.DeepCopy()
	if err := preview.MergeAdditive(patch); err != nil {
		var sErr *schema.Error
		if errors.As(err, &sErr) {
			return engine.NewErrorWithArgument(engine.ErrorCodeSchemaIsInvalid, err, sErr)
		}

		return engine.NewError(engine.ErrorCodeSchemaIsInvalid, err)
	}

	_, err := p.b.enqueue(ctx, &writequeue.Op{
		Kind:       "schema",
		Project:    p.name,
		Collection: patch.Name,
		Func: func(ctx context.Context) (any, error) {
			updated, err := p.b.r.CollectionUpdate(ctx, p.name, patch)
			if err != nil {
				return nil, lazyerrors.Error(err)
			}

			if !updated {
				return nil, engine.NewErrorWithArgument(engine.ErrorCodeCollectionDoesNotExist, nil, patch.Name)
			}

			return nil, nil
		},
	})
	if err != nil {
		return err
	}

	p.b.emit(engine.Event{
		Action:       "update",
		ResourceType: "collection",
		ResourceID:   patch.Name,
		Project:      p.name,
		Collection:   patch.Name,
	})

	return nil
}

// DropCollection implements engine.Project interface.
func (p *project) DropCollection(ctx context.Context, params *engine.DropCollectionParams) error {
	_, err := p.b.enqueue(ctx, &writequeue.Op{
		Kind:       "schema",
		Project:    p.name,
		Collection: params.Name,
		Func: func(ctx context.Context) (any, error) {
			dropped, err := p.b.r.CollectionDrop(ctx, p.name, params.Name)
			if err != nil {
				return nil, lazyerrors.Error(err)
			}

			if !dropped {
				return nil, engine.NewErrorWithArgument(engine.ErrorCodeCollectionDoesNotExist, nil, params.Name)
			}

			return nil, nil
		},
	})
	if err != nil {
		return err
	}

	p.b.emit(engine.Event{
		Action:       "delete",
		ResourceType: "collection",
		ResourceID:   params.Name,
		Project:      p.name,
		Collection:   params.Name,
	})

	return nil
}

// check interfaces
var (
	_ engine.Project = (*project)(nil)
)
