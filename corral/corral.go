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

// Package corral provides embeddable Corral implementation.
package corral

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/corraldb/corral/internal/engine"
	"github.com/corraldb/corral/internal/engine/sqlite"
	"github.com/corraldb/corral/internal/util/logging"
	"github.com/corraldb/corral/internal/util/state"
)

// Config represents Corral configuration.
type Config struct {
	// Dir is an existing directory for per-project database files.
	Dir string

	// StateDir is a directory for the instance state file.
	// If empty, state is kept in memory only.
	StateDir string

	// QueueCapacity bounds the write queue.
	// If not positive, a reasonable default is used.
	QueueCapacity int

	// Logger to use.
	// If nil, a global error-level logger is used.
	Logger *zap.Logger

	// Activity, if set, is called after every successful mutation.
	Activity func(Event)

	// MetricsRegisterer, if set, gets the engine's Prometheus collectors registered.
	MetricsRegisterer prometheus.Registerer
}

// Corral represents an instance of embeddable Corral implementation.
type Corral struct {
	config *Config

	b engine.Backend
}

// New creates a new instance of embeddable Corral implementation.
func New(config *Config) (*Corral, error) {
	if config.Dir == "" {
		return nil, errors.New("Dir is empty")
	}

	l := config.Logger
	if l == nil {
		l = logger
	}

	p, err := state.NewProvider(config.StateDir)
	if err != nil {
		return nil, errors.New("failed to construct state provider: " + err.Error())
	}

	b, err := sqlite.NewBackend(&sqlite.NewBackendParams{
		Dir:           config.Dir,
		L:             l,
		P:             p,
		QueueCapacity: config.QueueCapacity,
		Activity:      config.Activity,
		R:             config.MetricsRegisterer,
	})
	if err != nil {
		// Do not expose internal error details.
		// If you need stable error values and/or types for some cases, please create an issue.
		return nil, errors.New(err.Error())
	}

	return &Corral{
		config: config,
		b:      b,
	}, nil
}

// Close waits for queued writes to be applied and releases all resources.
//
// The instance must not be used after Close returns.
func (c *Corral) Close() {
	c.b.Close()
}

// Backend returns the underlying engine of this Corral instance.
func (c *Corral) Backend() Backend {
	return c.b
}

// Project returns a handle for the named project.
//
// The project does not need to exist; it is created when its first collection is created.
func (c *Corral) Project(name string) (Project, error) {
	return c.b.Project(name)
}

// Engine types re-exported for embedding users.
type (
	// Backend is a handle for the whole engine.
	Backend = engine.Backend

	// Project is a handle for a single project.
	Project = engine.Project

	// Collection is a handle for a single collection.
	Collection = engine.Collection

	// Document is a stored document with its envelope.
	Document = engine.Document

	// Event describes a single successful mutation.
	Event = engine.Event

	// Error is an engine error with a code.
	Error = engine.Error

	// ErrorCode is an engine error code.
	ErrorCode = engine.ErrorCode
)

// Engine error codes re-exported for embedding users.
const (
	ErrorCodeProjectNameIsInvalid    = engine.ErrorCodeProjectNameIsInvalid
	ErrorCodeProjectDoesNotExist     = engine.ErrorCodeProjectDoesNotExist
	ErrorCodeCollectionNameIsInvalid = engine.ErrorCodeCollectionNameIsInvalid
	ErrorCodeCollectionDoesNotExist  = engine.ErrorCodeCollectionDoesNotExist
	ErrorCodeCollectionAlreadyExists = engine.ErrorCodeCollectionAlreadyExists
	ErrorCodeSchemaIsInvalid         = engine.ErrorCodeSchemaIsInvalid
	ErrorCodeDocumentIsInvalid       = engine.ErrorCodeDocumentIsInvalid
	ErrorCodeDocumentNotFound        = engine.ErrorCodeDocumentNotFound
	ErrorCodeUniqueKeyViolation      = engine.ErrorCodeUniqueKeyViolation
	ErrorCodeQueueFull               = engine.ErrorCodeQueueFull
)

// ErrorCodeIs returns true if err is an engine error with one of the given codes.
func ErrorCodeIs(err error, code ErrorCode, codes ...ErrorCode) bool {
	return engine.ErrorCodeIs(err, code, codes...)
}

// logger is a global logger used when Config.Logger is not set.
//
// If it is a problem for you, please create an issue.
var logger *zap.Logger

// Initialize the global logger there to avoid creating too many issues for zap users that initialize it in their
// `main()` functions. It is still not a full solution; eventually, we should remove the usage of the global logger.
func init() {
	logging.Setup(zap.ErrorLevel, "console", "")
	logger = zap.L()
}
