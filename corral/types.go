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

package corral

import (
	"github.com/corraldb/corral/internal/engine"
	"github.com/corraldb/corral/internal/engine/schema"
)

// Schema types re-exported for embedding users.
type (
	// CollectionSchema describes a collection's fields and indexes.
	CollectionSchema = schema.Collection

	// Field is a single field of a collection schema.
	Field = schema.Field

	// Index is a single index of a collection schema.
	Index = schema.Index

	// FieldType is the type of a schema field.
	FieldType = schema.FieldType

	// SchemaError describes a single schema or document validation failure.
	SchemaError = schema.Error
)

// Schema field types re-exported for embedding users.
const (
	TypeString    = schema.TypeString
	TypeText      = schema.TypeText
	TypeInteger   = schema.TypeInteger
	TypeDecimal   = schema.TypeDecimal
	TypeBoolean   = schema.TypeBoolean
	TypeJSON      = schema.TypeJSON
	TypeArray     = schema.TypeArray
	TypeObject    = schema.TypeObject
	TypeDate      = schema.TypeDate
	TypeTimestamp = schema.TypeTimestamp
	TypeUUID      = schema.TypeUUID
	TypeEmail     = schema.TypeEmail
	TypePhone     = schema.TypePhone
	TypeUniqueID  = schema.TypeUniqueID
)

// Operation parameters and results re-exported for embedding users.
type (
	ListProjectsParams = engine.ListProjectsParams
	ListProjectsResult = engine.ListProjectsResult
	ProjectInfo        = engine.ProjectInfo
	DropProjectParams  = engine.DropProjectParams

	ListCollectionsParams  = engine.ListCollectionsParams
	ListCollectionsResult  = engine.ListCollectionsResult
	GetCollectionParams    = engine.GetCollectionParams
	GetCollectionResult    = engine.GetCollectionResult
	CreateCollectionParams = engine.CreateCollectionParams
	UpdateCollectionParams = engine.UpdateCollectionParams
	DropCollectionParams   = engine.DropCollectionParams

	InsertOneParams  = engine.InsertOneParams
	InsertOneResult  = engine.InsertOneResult
	InsertRecord     = engine.InsertRecord
	InsertManyParams = engine.InsertManyParams
	InsertManyResult = engine.InsertManyResult
	UpdateOneParams  = engine.UpdateOneParams
	UpdateOneResult  = engine.UpdateOneResult
	UpdateRecord     = engine.UpdateRecord
	UpdateManyParams = engine.UpdateManyParams
	UpdateManyResult = engine.UpdateManyResult
	DeleteOneParams  = engine.DeleteOneParams
	DeleteManyParams = engine.DeleteManyParams
	DeleteManyResult = engine.DeleteManyResult
	BulkRecord       = engine.BulkRecord

	GetParams       = engine.GetParams
	GetResult       = engine.GetResult
	QueryParams     = engine.QueryParams
	QueryResult     = engine.QueryResult
	SortSpec        = engine.SortSpec
	CountParams     = engine.CountParams
	CountResult     = engine.CountResult
	SearchParams    = engine.SearchParams
	SearchResult    = engine.SearchResult
	AggregateParams = engine.AggregateParams
	Aggregation     = engine.Aggregation
	AggregateGroup  = engine.AggregateGroup
	AggregateResult = engine.AggregateResult
)
