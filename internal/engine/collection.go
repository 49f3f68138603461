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
)

// Collection is a generic interface for accessing documents of a single collection.
//
// Collection objects are fully stateless.
//
// All mutating methods are serialized through the implementation's write queue;
// read methods bypass it.
//
// See collectionContract and its methods for additional details.
type Collection interface {
	InsertOne(context.Context, *InsertOneParams) (*InsertOneResult, error)
	InsertMany(context.Context, *InsertManyParams) (*InsertManyResult, error)
	UpdateOne(context.Context, *UpdateOneParams) (*UpdateOneResult, error)
	UpdateMany(context.Context, *UpdateManyParams) (*UpdateManyResult, error)
	DeleteOne(context.Context, *DeleteOneParams) error
	DeleteMany(context.Context, *DeleteManyParams) (*DeleteManyResult, error)

	Get(context.Context, *GetParams) (*GetResult, error)
	Query(context.Context, *QueryParams) (*QueryResult, error)
	Count(context.Context, *CountParams) (*CountResult, error)
	Search(context.Context, *SearchParams) (*SearchResult, error)
	Aggregate(context.Context, *AggregateParams) (*AggregateResult, error)
}

// collectionContract implements Collection interface.
//
// Collection objects are stateless and have no Close, so they are not resource-tracked.
type collectionContract struct {
	c Collection
}

// CollectionContract wraps Collection and enforces its contract.
//
// All engine implementations should use that function when they create new Collection instances.
// The transport layer should not use that function.
//
// See collectionContract and its methods for additional details.
func CollectionContract(c Collection) Collection {
	return &collectionContract{
		c: c,
	}
}

// InsertOneParams represents the parameters of Collection.InsertOne method.
type InsertOneParams struct {
	Data     map[string]any
	Metadata map[string]any
}

// InsertOneResult represents the results of Collection.InsertOne method.
type InsertOneResult struct {
	Document *Document
}

// InsertOne validates the document against the collection schema and inserts it.
//
// The id is generated before the write is enqueued and discarded on conflict.
func (cc *collectionContract) InsertOne(ctx context.Context, params *InsertOneParams) (*InsertOneResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.InsertOne(ctx, params)
	checkError(
		err,
		ErrorCodeCollectionDoesNotExist,
		ErrorCodeDocumentIsInvalid,
		ErrorCodeUniqueKeyViolation,
		ErrorCodeQueueFull,
	)

	return res, err
}

// InsertRecord is a single document of a bulk insert.
type InsertRecord struct {
	Data     map[string]any
	Metadata map[string]any
}

// InsertManyParams represents the parameters of Collection.InsertMany method.
type InsertManyParams struct {
	Records []InsertRecord
}

// BulkRecord is the per-record outcome of a bulk operation.
//
// Index refers to the record's position in the request.
// Err is nil on success; on failure it carries the record's specific error.
type BulkRecord struct {
	Err   error
	ID    string
	Index int
}

// InsertManyResult represents the results of Collection.InsertMany method.
type InsertManyResult struct {
	Records  []BulkRecord
	Inserted int
}

// InsertMany inserts documents as a single queue item with per-record outcomes.
//
// A record's validation or uniqueness failure is reported in its BulkRecord
// and does not fail the other records.
func (cc *collectionContract) InsertMany(ctx context.Context, params *InsertManyParams) (*InsertManyResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.InsertMany(ctx, params)
	checkError(err, ErrorCodeCollectionDoesNotExist, ErrorCodeQueueFull)

	return res, err
}

// UpdateOneParams represents the parameters of Collection.UpdateOne method.
type UpdateOneParams struct {
	Patch    map[string]any
	Metadata map[string]any
	ID       string
}

// UpdateOneResult represents the results of Collection.UpdateOne method.
type UpdateOneResult struct {
	Document *Document
}

// UpdateOne merges the patch into an existing document.
//
// Touched fields are coerced up front; the merged document is validated
// against the full schema before being stored.
// Concurrent updates of the same document resolve last-write-wins in queue order.
func (cc *collectionContract) UpdateOne(ctx context.Context, params *UpdateOneParams) (*UpdateOneResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.UpdateOne(ctx, params)
	checkError(
		err,
		ErrorCodeCollectionDoesNotExist,
		ErrorCodeDocumentNotFound,
		ErrorCodeDocumentIsInvalid,
		ErrorCodeUniqueKeyViolation,
		ErrorCodeQueueFull,
	)

	return res, err
}

// UpdateRecord is a single patch of a bulk update.
type UpdateRecord struct {
	Patch    map[string]any
	Metadata map[string]any
	ID       string
}

// UpdateManyParams represents the parameters of Collection.UpdateMany method.
type UpdateManyParams struct {
	Records []UpdateRecord
}

// UpdateManyResult represents the results of Collection.UpdateMany method.
type UpdateManyResult struct {
	Records []BulkRecord
	Updated int
}

// UpdateMany applies patches as a single queue item with per-record outcomes.
func (cc *collectionContract) UpdateMany(ctx context.Context, params *UpdateManyParams) (*UpdateManyResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.UpdateMany(ctx, params)
	checkError(err, ErrorCodeCollectionDoesNotExist, ErrorCodeQueueFull)

	return res, err
}

// DeleteOneParams represents the parameters of Collection.DeleteOne method.
type DeleteOneParams struct {
	ID string
}

// DeleteOne removes an existing document. The delete is hard.
func (cc *collectionContract) DeleteOne(ctx context.Context, params *DeleteOneParams) error {
	defer observability.FuncCall(ctx)()

	err := cc.c.DeleteOne(ctx, params)
	checkError(
		err,
		ErrorCodeCollectionDoesNotExist,
		ErrorCodeDocumentNotFound,
		ErrorCodeQueueFull,
	)

	return err
}

// DeleteManyParams represents the parameters of Collection.DeleteMany method.
type DeleteManyParams struct {
	IDs []string
}

// DeleteManyResult represents the results of Collection.DeleteMany method.
type DeleteManyResult struct {
	Records []BulkRecord
	Deleted int
}

// DeleteMany removes documents as a single queue item with per-record outcomes.
func (cc *collectionContract) DeleteMany(ctx context.Context, params *DeleteManyParams) (*DeleteManyResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.DeleteMany(ctx, params)
	checkError(err, ErrorCodeCollectionDoesNotExist, ErrorCodeQueueFull)

	return res, err
}

// GetParams represents the parameters of Collection.Get method.
type GetParams struct {
	ID string
}

// GetResult represents the results of Collection.Get method.
type GetResult struct {
	Document *Document
}

// Get returns a single document by id. Reads bypass the write queue.
func (cc *collectionContract) Get(ctx context.Context, params *GetParams) (*GetResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.Get(ctx, params)
	checkError(err, ErrorCodeCollectionDoesNotExist, ErrorCodeDocumentNotFound)

	return res, err
}

// SortSpec is a single orderBy term.
type SortSpec struct {
	Field      string
	Descending bool
}

// QueryParams represents the parameters of Collection.Query method.
type QueryParams struct {
	// Filter maps data field names to either a plain value (equality) or an operator
	// object like {"$gt": 5}. Supported operators: $gt, $gte, $lt, $lte, $ne, $in.
	Filter  map[string]any
	OrderBy []SortSpec
	Limit   int64
	Offset  int64
}

// QueryResult represents the results of Collection.Query method.
type QueryResult struct {
	Documents []*Document
	Total     int64
}

// Query returns documents matching the filter with sorting and pagination.
//
// Total is the number of matching documents before limit/offset.
func (cc *collectionContract) Query(ctx context.Context, params *QueryParams) (*QueryResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.Query(ctx, params)
	checkError(err, ErrorCodeCollectionDoesNotExist, ErrorCodeDocumentIsInvalid)

	return res, err
}

// CountParams represents the parameters of Collection.Count method.
type CountParams struct {
	Filter map[string]any
}

// CountResult represents the results of Collection.Count method.
type CountResult struct {
	Count int64
}

// Count returns the number of documents matching the filter.
func (cc *collectionContract) Count(ctx context.Context, params *CountParams) (*CountResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.Count(ctx, params)
	checkError(err, ErrorCodeCollectionDoesNotExist, ErrorCodeDocumentIsInvalid)

	return res, err
}

// SearchParams represents the parameters of Collection.Search method.
type SearchParams struct {
	Query  string
	Fields []string // empty means all string-like fields
	Limit  int64
}

// SearchResult represents the results of Collection.Search method.
type SearchResult struct {
	Documents []*Document
}

// Search returns documents whose given fields contain the query substring.
func (cc *collectionContract) Search(ctx context.Context, params *SearchParams) (*SearchResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.Search(ctx, params)
	checkError(err, ErrorCodeCollectionDoesNotExist, ErrorCodeDocumentIsInvalid)

	return res, err
}

// Aggregation is a single aggregation term.
type Aggregation struct {
	Op    string // "count", "sum", "avg", "min", "max"
	Field string // unused for "count"
	As    string // result key; defaults to Op or Op_Field
}

// AggregateParams represents the parameters of Collection.Aggregate method.
type AggregateParams struct {
	GroupBy      string
	Aggregations []Aggregation
}

// AggregateGroup is a single group of an aggregation result.
type AggregateGroup struct {
	Values map[string]any
	Key    any
}

// AggregateResult represents the results of Collection.Aggregate method.
type AggregateResult struct {
	Groups      []AggregateGroup
	TotalGroups int64
}

// Aggregate groups documents by a data field and computes aggregations per group.
func (cc *collectionContract) Aggregate(ctx context.Context, params *AggregateParams) (*AggregateResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.Aggregate(ctx, params)
	checkError(err, ErrorCodeCollectionDoesNotExist, ErrorCodeDocumentIsInvalid)

	return res, err
}

// check interfaces
var (
	_ Collection = (*collectionContract)(nil)
)
