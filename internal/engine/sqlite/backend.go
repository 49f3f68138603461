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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // register database/sql driver

	"github.com/corraldb/corral/internal/engine"
	"github.com/corraldb/corral/internal/engine/sqlite/metadata"
	"github.com/corraldb/corral/internal/engine/writequeue"
	"github.com/corraldb/corral/internal/util/lazyerrors"
	"github.com/corraldb/corral/internal/util/state"
)

// backend implements engine.Backend interface.
type backend struct {
	r        *metadata.Registry
	q        *writequeue.Queue
	l        *zap.Logger
	activity engine.ActivityFunc

	stop context.CancelFunc
	done chan struct{}
}

// NewBackendParams represents the parameters of NewBackend function.
//
//nolint:vet // for readability
type NewBackendParams struct {
	// Dir is an existing directory for per-project database files.
	Dir string

	L *zap.Logger
	P *state.Provider

	// QueueCapacity bounds the write queue;
	// writequeue.DefaultCapacity is used when not positive.
	QueueCapacity int

	// Activity, if set, is called after every successful mutation.
	Activity engine.ActivityFunc

	// R, if set, gets the backend's prometheus collectors registered.
	R prometheus.Registerer
}

// NewBackend creates a new SQLite-backed engine and starts its write queue worker.
func NewBackend(params *NewBackendParams) (engine.Backend, error) {
	b, err := newBackend(params)
	if err != nil {
		return nil, err
	}

	return engine.BackendContract(b), nil
}

// newBackend is a part of NewBackend that returns the implementation type.
func newBackend(params *NewBackendParams) (*backend, error) {
	r, err := metadata.NewRegistry(params.Dir, params.L.Named("metadata"), params.P)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	q := writequeue.New(params.QueueCapacity, params.L.Named("writequeue"))

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		q.Run(ctx)
		close(done)
	}()

	if params.R != nil {
		params.R.MustRegister(r, q)
	}

	return &backend{
		r:        r,
		q:        q,
		l:        params.L,
		activity: params.Activity,
		stop:     stop,
		done:     done,
	}, nil
}

// Close implements engine.Backend interface.
func (b *backend) Close() {
	b.stop()
	<-b.done

	b.r.Close()
}

// enqueue routes a mutation through the write queue,
// mapping queue admission failure to the public error taxonomy.
func (b *backend) enqueue(ctx context.Context, op *writequeue.Op) (any, error) {
	res, err := b.q.Enqueue(ctx, op)
	if errors.Is(err, writequeue.ErrFull) {
		return nil, engine.NewError(engine.ErrorCodeQueueFull, err)
	}

	return res, err
}

// emit calls the activity hook, logging and swallowing its panics.
func (b *backend) emit(event engine.Event) {
	if b.activity == nil {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			b.l.Error("Activity hook panicked.", zap.Any("panic", p))
		}
	}()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if event.Severity == "" {
		event.Severity = "info"
	}

	b.activity(event)
}

// Project implements engine.Backend interface.
func (b *backend) Project(name string) (engine.Project, error) {
	return newProject(b, name), nil
}

// ListProjects implements engine.Backend interface.
func (b *backend) ListProjects(ctx context.Context, params *engine.ListProjectsParams) (*engine.ListProjectsResult, error) {
	list := b.r.ProjectList(ctx)

	res := &engine.ListProjectsResult{
		Projects: make([]engine.ProjectInfo, len(list)),
	}
	for i, p := range list {
		res.Projects[i] = engine.ProjectInfo{
			Name: p,
			Size: b.r.ProjectSize(p),
		}
	}

	return res, nil
}

// DropProject implements engine.Backend interface.
func (b *backend) DropProject(ctx context.Context, params *engine.DropProjectParams) error {
	_, err := b.enqueue(ctx, &writequeue.Op{
		Kind:    "schema",
		Project: params.Name,
		Func: func(ctx context.Context) (any, error) {
			if dropped := b.r.ProjectDrop(ctx, params.Name); !dropped {
				return nil, engine.NewError(engine.ErrorCodeProjectDoesNotExist, nil)
			}

			return nil, nil
		},
	})
	if err != nil {
		return err
	}

	b.emit(engine.Event{
		Action:       "delete",
		ResourceType: "project",
		ResourceID:   params.Name,
		Project:      params.Name,
	})

	return nil
}

// Quiesced implements engine.Backend interface.
func (b *backend) Quiesced() bool {
	return b.q.Quiesced()
}

// check interfaces
var (
	_ engine.Backend = (*backend)(nil)
)
