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
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corraldb/corral/internal/engine"
	"github.com/corraldb/corral/internal/engine/schema"
	"github.com/corraldb/corral/internal/util/testutil"
)

// insertTask inserts a document and returns it.
func insertTask(t *testing.T, c engine.Collection, data map[string]any) *engine.Document {
	t.Helper()

	res, err := c.InsertOne(testutil.Ctx(t), &engine.InsertOneParams{Data: data})
	require.NoError(t, err)

	return res.Document
}

func TestInsertGetUpdateDelete(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b, _ := testBackend(t, 0)
	c := testCollection(t, b, testutil.ProjectName(t))

	doc := insertTask(t, c, map[string]any{"title": "write tests"})
	require.NotEmpty(t, doc.ID)
	assert.Equal(t, "write tests", doc.Data["title"])
	assert.EqualValues(t, 3, doc.Data["priority"]) // default applied
	assert.Equal(t, false, doc.Data["done"])
	assert.False(t, doc.CreatedAt.IsZero())
	assert.Equal(t, doc.CreatedAt, doc.UpdatedAt)

	got, err := c.Get(ctx, &engine.GetParams{ID: doc.ID})
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.Document.ID)
	assert.Equal(t, "write tests", got.Document.Data["title"])

	upd, err := c.UpdateOne(ctx, &engine.UpdateOneParams{
		ID:    doc.ID,
		Patch: map[string]any{"done": true},
	})
	require.NoError(t, err)
	assert.Equal(t, true, upd.Document.Data["done"])
	assert.Equal(t, "write tests", upd.Document.Data["title"]) // untouched fields survive
	assert.True(t, upd.Document.CreatedAt.Equal(doc.CreatedAt))
	assert.False(t, upd.Document.UpdatedAt.Before(doc.UpdatedAt))

	err = c.DeleteOne(ctx, &engine.DeleteOneParams{ID: doc.ID})
	require.NoError(t, err)

	_, err = c.Get(ctx, &engine.GetParams{ID: doc.ID})
	assert.True(t, engine.ErrorCodeIs(err, engine.ErrorCodeDocumentNotFound))

	err = c.DeleteOne(ctx, &engine.DeleteOneParams{ID: doc.ID})
	assert.True(t, engine.ErrorCodeIs(err, engine.ErrorCodeDocumentNotFound))

	_, err = c.UpdateOne(ctx, &engine.UpdateOneParams{ID: doc.ID, Patch: map[string]any{"done": false}})
	assert.True(t, engine.ErrorCodeIs(err, engine.ErrorCodeDocumentNotFound))
}

func TestMetadata(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b, _ := testBackend(t, 0)
	c := testCollection(t, b, testutil.ProjectName(t))

	res, err := c.InsertOne(ctx, &engine.InsertOneParams{
		Data:     map[string]any{"title": "tagged"},
		Metadata: map[string]any{"source": "import"},
	})
	require.NoError(t, err)
	assert.Equal(t, "import", res.Document.Metadata["source"])

	// nil patch metadata keeps the existing metadata
	upd, err := c.UpdateOne(ctx, &engine.UpdateOneParams{
		ID:    res.Document.ID,
		Patch: map[string]any{"done": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "import", upd.Document.Metadata["source"])

	// non-nil metadata replaces it whole
	upd, err = c.UpdateOne(ctx, &engine.UpdateOneParams{
		ID:       res.Document.ID,
		Patch:    map[string]any{},
		Metadata: map[string]any{"reviewed": true},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"reviewed": true}, upd.Document.Metadata)
}

func TestQuery(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b, _ := testBackend(t, 0)
	c := testCollection(t, b, testutil.ProjectName(t))

	for i := 1; i <= 5; i++ {
		insertTask(t, c, map[string]any{
			"title":    fmt.Sprintf("task %d", i),
			"priority": i,
			"done":     i%2 == 0,
		})
	}

	t.Run("All", func(t *testing.T) {
		res, err := c.Query(ctx, new(engine.QueryParams))
		require.NoError(t, err)
		assert.Len(t, res.Documents, 5)
		assert.EqualValues(t, 5, res.Total)
	})

	t.Run("Equality", func(t *testing.T) {
		res, err := c.Query(ctx, &engine.QueryParams{
			Filter: map[string]any{"done": true},
		})
		require.NoError(t, err)
		assert.Len(t, res.Documents, 2)
	})

	t.Run("Operators", func(t *testing.T) {
		res, err := c.Query(ctx, &engine.QueryParams{
			Filter: map[string]any{"priority": map[string]any{"$gte": 2, "$lt": 5}},
		})
		require.NoError(t, err)
		assert.Len(t, res.Documents, 3)
		assert.EqualValues(t, 3, res.Total)
	})

	t.Run("In", func(t *testing.T) {
		res, err := c.Query(ctx, &engine.QueryParams{
			Filter: map[string]any{"priority": map[string]any{"$in": []any{1, 5}}},
		})
		require.NoError(t, err)
		assert.Len(t, res.Documents, 2)
	})

	t.Run("SortAndPaginate", func(t *testing.T) {
		res, err := c.Query(ctx, &engine.QueryParams{
			OrderBy: []engine.SortSpec{{Field: "priority", Descending: true}},
			Limit:   2,
			Offset:  1,
		})
		require.NoError(t, err)
		require.Len(t, res.Documents, 2)
		assert.EqualValues(t, 5, res.Total) // total ignores limit/offset
		assert.EqualValues(t, 4, res.Documents[0].Data["priority"])
		assert.EqualValues(t, 3, res.Documents[1].Data["priority"])
	})

	t.Run("UnknownOperator", func(t *testing.T) {
		_, err := c.Query(ctx, &engine.QueryParams{
			Filter: map[string]any{"priority": map[string]any{"$regex": "x"}},
		})
		assert.True(t, engine.ErrorCodeIs(err, engine.ErrorCodeDocumentIsInvalid))
	})

	t.Run("BadFieldName", func(t *testing.T) {
		_, err := c.Query(ctx, &engine.QueryParams{
			Filter: map[string]any{"p'; DROP TABLE x--": 1},
		})
		assert.True(t, engine.ErrorCodeIs(err, engine.ErrorCodeDocumentIsInvalid))
	})

	t.Run("Count", func(t *testing.T) {
		res, err := c.Count(ctx, &engine.CountParams{
			Filter: map[string]any{"done": false},
		})
		require.NoError(t, err)
		assert.EqualValues(t, 3, res.Count)
	})
}

func TestSearch(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b, _ := testBackend(t, 0)
	c := testCollection(t, b, testutil.ProjectName(t))

	insertTask(t, c, map[string]any{"title": "Fix the parser"})
	insertTask(t, c, map[string]any{"title": "Write parser tests"})
	insertTask(t, c, map[string]any{"title": "Release notes"})

	res, err := c.Search(ctx, &engine.SearchParams{Query: "parser"})
	require.NoError(t, err)
	assert.Len(t, res.Documents, 2)

	res, err = c.Search(ctx, &engine.SearchParams{Query: "parser", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, res.Documents, 1)

	res, err = c.Search(ctx, &engine.SearchParams{Query: "100%"})
	require.NoError(t, err)
	assert.Empty(t, res.Documents) // LIKE metacharacters are literal

	res, err = c.Search(ctx, &engine.SearchParams{Query: "notes", Fields: []string{"title"}})
	require.NoError(t, err)
	assert.Len(t, res.Documents, 1)
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b, _ := testBackend(t, 0)
	c := testCollection(t, b, testutil.ProjectName(t))

	insertTask(t, c, map[string]any{"title": "a", "priority": 1, "done": true})
	insertTask(t, c, map[string]any{"title": "b", "priority": 2, "done": true})
	insertTask(t, c, map[string]any{"title": "c", "priority": 5, "done": false})

	res, err := c.Aggregate(ctx, &engine.AggregateParams{
		GroupBy: "done",
		Aggregations: []engine.Aggregation{
			{Op: "count"},
			{Op: "sum", Field: "priority"},
			{Op: "max", Field: "priority", As: "top"},
		},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, res.TotalGroups)
	require.Len(t, res.Groups, 2)

	byKey := map[any]map[string]any{}
	for _, g := range res.Groups {
		byKey[g.Key] = g.Values
	}

	require.Contains(t, byKey, int64(1))
	assert.EqualValues(t, 2, byKey[int64(1)]["count"])
	assert.EqualValues(t, 3, byKey[int64(1)]["sum_priority"])
	assert.EqualValues(t, 2, byKey[int64(1)]["top"])

	require.Contains(t, byKey, int64(0))
	assert.EqualValues(t, 1, byKey[int64(0)]["count"])
	assert.EqualValues(t, 5, byKey[int64(0)]["sum_priority"])

	_, err = c.Aggregate(ctx, &engine.AggregateParams{
		GroupBy:      "done",
		Aggregations: []engine.Aggregation{{Op: "median", Field: "priority"}},
	})
	assert.True(t, engine.ErrorCodeIs(err, engine.ErrorCodeDocumentIsInvalid))
}

// uniqueUsersCollection creates a collection with a unique email field.
func uniqueUsersCollection(t *testing.T, b engine.Backend) engine.Collection {
	t.Helper()

	ctx := testutil.Ctx(t)

	p, err := b.Project(testutil.ProjectName(t))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	err = p.CreateCollection(ctx, &engine.CreateCollectionParams{
		Collection: &schema.Collection{
			Name: "users",
			Fields: []schema.Field{
				{Name: "email", Type: schema.TypeEmail, Required: true, Unique: true},
				{Name: "name", Type: schema.TypeString},
			},
		},
	})
	require.NoError(t, err)

	c, err := p.Collection("users")
	require.NoError(t, err)

	return c
}

func TestUnique(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b, _ := testBackend(t, 0)
	c := uniqueUsersCollection(t, b)

	first, err := c.InsertOne(ctx, &engine.InsertOneParams{
		Data: map[string]any{"email": "a@example.com"},
	})
	require.NoError(t, err)

	_, err = c.InsertOne(ctx, &engine.InsertOneParams{
		Data: map[string]any{"email": "a@example.com"},
	})
	assert.True(t, engine.ErrorCodeIs(err, engine.ErrorCodeUniqueKeyViolation))

	second, err := c.InsertOne(ctx, &engine.InsertOneParams{
		Data: map[string]any{"email": "b@example.com"},
	})
	require.NoError(t, err)

	// updating into a taken value conflicts, updating own value does not
	_, err = c.UpdateOne(ctx, &engine.UpdateOneParams{
		ID:    second.Document.ID,
		Patch: map[string]any{"email": "a@example.com"},
	})
	assert.True(t, engine.ErrorCodeIs(err, engine.ErrorCodeUniqueKeyViolation))

	_, err = c.UpdateOne(ctx, &engine.UpdateOneParams{
		ID:    first.Document.ID,
		Patch: map[string]any{"email": "a@example.com", "name": "renamed"},
	})
	require.NoError(t, err)
}

func TestUniqueConcurrent(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b, _ := testBackend(t, 0)
	c := uniqueUsersCollection(t, b)

	const n = 10

	t.Run("SameValue", func(t *testing.T) {
		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup

		for i := 0; i < n; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := c.InsertOne(ctx, &engine.InsertOneParams{
					Data: map[string]any{"email": "race@example.com"},
				})
				switch {
				case err == nil:
					wins.Add(1)
				case engine.ErrorCodeIs(err, engine.ErrorCodeUniqueKeyViolation):
					conflicts.Add(1)
				default:
					assert.NoError(t, err)
				}
			}()
		}

		wg.Wait()

		assert.EqualValues(t, 1, wins.Load())
		assert.EqualValues(t, n-1, conflicts.Load())
	})

	t.Run("DistinctValues", func(t *testing.T) {
		var wg sync.WaitGroup

		for i := 0; i < n; i++ {
			wg.Add(1)

			go func(i int) {
				defer wg.Done()

				_, err := c.InsertOne(ctx, &engine.InsertOneParams{
					Data: map[string]any{"email": fmt.Sprintf("u%d@example.com", i)},
				})
				assert.NoError(t, err)
			}(i)
		}

		wg.Wait()

		res, err := c.Count(ctx, new(engine.CountParams))
		require.NoError(t, err)
		assert.EqualValues(t, n+1, res.Count) // n distinct plus the SameValue winner
	})
}

func TestConcurrentUpdatesLastWriteWins(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b, _ := testBackend(t, 0)
	c := testCollection(t, b, testutil.ProjectName(t))

	doc := insertTask(t, c, map[string]any{"title": "contended"})

	const n = 10

	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			_, err := c.UpdateOne(ctx, &engine.UpdateOneParams{
				ID:    doc.ID,
				Patch: map[string]any{"priority": i + 1},
			})
			assert.NoError(t, err)
		}(i)
	}

	wg.Wait()

	got, err := c.Get(ctx, &engine.GetParams{ID: doc.ID})
	require.NoError(t, err)

	// all updates applied in queue order; the survivor is one of them
	p, ok := got.Document.Data["priority"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, p, float64(1))
	assert.LessOrEqual(t, p, float64(n))
	assert.Equal(t, "contended", got.Document.Data["title"])
}

func TestUpdateRequiredNull(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b, _ := testBackend(t, 0)
	c := testCollection(t, b, testutil.ProjectName(t))

	doc := insertTask(t, c, map[string]any{"title": "keep me"})

	_, err := c.UpdateOne(ctx, &engine.UpdateOneParams{
		ID:    doc.ID,
		Patch: map[string]any{"title": nil},
	})
	require.True(t, engine.ErrorCodeIs(err, engine.ErrorCodeDocumentIsInvalid))

	sErr, ok := engine.ErrorArgument(err).(*schema.Error)
	require.True(t, ok)
	assert.Equal(t, "title", sErr.Field)

	got, err := c.Get(ctx, &engine.GetParams{ID: doc.ID})
	require.NoError(t, err)
	assert.Equal(t, "keep me", got.Document.Data["title"])
}

func TestUpdateRulesOnMergedDocument(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b, _ := testBackend(t, 0)

	p, err := b.Project(testutil.ProjectName(t))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	spec := &schema.Collection{
		Name: "ranges",
		Fields: []schema.Field{
			{Name: "min", Type: schema.TypeInteger, Required: true},
			{Name: "max", Type: schema.TypeInteger, Required: true, Validation: "value > data.min"},
		},
	}
	require.NoError(t, p.CreateCollection(ctx, &engine.CreateCollectionParams{Collection: spec}))

	c, err := p.Collection("ranges")
	require.NoError(t, err)

	res, err := c.InsertOne(ctx, &engine.InsertOneParams{Data: map[string]any{"min": 1, "max": 10}})
	require.NoError(t, err)

	// the rule holds against the untouched max
	_, err = c.UpdateOne(ctx, &engine.UpdateOneParams{
		ID:    res.Document.ID,
		Patch: map[string]any{"min": 5},
	})
	require.NoError(t, err)

	// raising min above the untouched max violates the rule
	_, err = c.UpdateOne(ctx, &engine.UpdateOneParams{
		ID:    res.Document.ID,
		Patch: map[string]any{"min": 50},
	})
	require.True(t, engine.ErrorCodeIs(err, engine.ErrorCodeDocumentIsInvalid))

	got, err := c.Get(ctx, &engine.GetParams{ID: res.Document.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 5, got.Document.Data["min"])
}

func TestBulk(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b, _ := testBackend(t, 0)
	c := uniqueUsersCollection(t, b)

	t.Run("InsertMany", func(t *testing.T) {
		res, err := c.InsertMany(ctx, &engine.InsertManyParams{
			Records: []engine.InsertRecord{
				{Data: map[string]any{"email": "one@example.com"}},
				{Data: map[string]any{"name": "missing email"}},
				{Data: map[string]any{"email": "one@example.com"}}, // in-batch duplicate
				{Data: map[string]any{"email": "two@example.com"}},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Inserted)
		require.Len(t, res.Records, 4)

		assert.NoError(t, res.Records[0].Err)
		assert.NotEmpty(t, res.Records[0].ID)

		assert.True(t, engine.ErrorCodeIs(res.Records[1].Err, engine.ErrorCodeDocumentIsInvalid))
		assert.True(t, engine.ErrorCodeIs(res.Records[2].Err, engine.ErrorCodeUniqueKeyViolation))

		assert.NoError(t, res.Records[3].Err)
		assert.Equal(t, 3, res.Records[3].Index)
	})

	t.Run("UpdateMany", func(t *testing.T) {
		q, err := c.Query(ctx, new(engine.QueryParams))
		require.NoError(t, err)
		require.Len(t, q.Documents, 2)

		res, err := c.UpdateMany(ctx, &engine.UpdateManyParams{
			Records: []engine.UpdateRecord{
				{ID: q.Documents[0].ID, Patch: map[string]any{"name": "updated"}},
				{ID: "no-such-id", Patch: map[string]any{"name": "x"}},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Updated)
		assert.NoError(t, res.Records[0].Err)
		assert.True(t, engine.ErrorCodeIs(res.Records[1].Err, engine.ErrorCodeDocumentNotFound))
	})

	t.Run("DeleteMany", func(t *testing.T) {
		q, err := c.Query(ctx, new(engine.QueryParams))
		require.NoError(t, err)

		ids := []string{"no-such-id"}
		for _, doc := range q.Documents {
			ids = append(ids, doc.ID)
		}

		res, err := c.DeleteMany(ctx, &engine.DeleteManyParams{IDs: ids})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Deleted)
		assert.True(t, engine.ErrorCodeIs(res.Records[0].Err, engine.ErrorCodeDocumentNotFound))

		count, err := c.Count(ctx, new(engine.CountParams))
		require.NoError(t, err)
		assert.Zero(t, count.Count)
	})
}

func TestCollectionDoesNotExist(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b, _ := testBackend(t, 0)

	p, err := b.Project(testutil.ProjectName(t))
	require.NoError(t, err)

	c, err := p.Collection("ghosts")
	require.NoError(t, err)

	_, err = c.InsertOne(ctx, &engine.InsertOneParams{Data: map[string]any{"x": 1}})
	assert.True(t, engine.ErrorCodeIs(err, engine.ErrorCodeCollectionDoesNotExist))

	_, err = c.Query(ctx, new(engine.QueryParams))
	assert.True(t, engine.ErrorCodeIs(err, engine.ErrorCodeCollectionDoesNotExist))
}
