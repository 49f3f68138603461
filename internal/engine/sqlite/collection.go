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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/corraldb/corral/internal/engine"
	"github.com/corraldb/corral/internal/engine/schema"
	"github.com/corraldb/corral/internal/engine/sqlite/metadata"
	"github.com/corraldb/corral/internal/engine/sqlite/metadata/pool"
	"github.com/corraldb/corral/internal/engine/writequeue"
	"github.com/corraldb/corral/internal/util/fsql"
	"github.com/corraldb/corral/internal/util/lazyerrors"
	"github.com/corraldb/corral/internal/util/must"
)

// collection implements engine.Collection interface.
type collection struct {
	b           *backend
	projectName string
	name        string
}

// newCollection creates a new Collection.
func newCollection(b *backend, projectName, name string) engine.Collection {
	return engine.CollectionContract(&collection{
		b:           b,
		projectName: projectName,
		name:        name,
	})
}

// meta returns collection metadata and the project's database handles.
func (c *collection) meta(ctx context.Context) (*metadata.Collection, *pool.DB, error) {
	mc := c.b.r.CollectionGet(ctx, c.projectName, c.name)
	if mc == nil {
		return nil, nil, engine.NewErrorWithArgument(engine.ErrorCodeCollectionDoesNotExist, nil, c.name)
	}

	db := c.b.r.ProjectGetExisting(ctx, c.projectName)
	if db == nil {
		return nil, nil, engine.NewErrorWithArgument(engine.ErrorCodeCollectionDoesNotExist, nil, c.name)
	}

	return mc, db, nil
}

// documentError maps validation failures to the public error taxonomy.
func documentError(err error) error {
	var sErr *schema.Error
	if errors.As(err, &sErr) {
		return engine.NewErrorWithArgument(engine.ErrorCodeDocumentIsInvalid, err, sErr)
	}

	return engine.NewError(engine.ErrorCodeDocumentIsInvalid, err)
}

// checkUnique returns a conflict error if another document holds
// the same value of any unique field or unique index combination.
func (c *collection) checkUnique(ctx context.Context, db *fsql.DB, mc *metadata.Collection, data map[string]any, excludeID string) error {
	for _, f := range mc.Spec.UniqueFields() {
		v, ok := data[f.Name]
		if !ok || v == nil {
			continue
		}

		q := fmt.Sprintf(
			"SELECT 1 FROM %q WHERE %s = ? AND %s != ? LIMIT 1",
			mc.TableName, metadata.DataPath(f.Name), metadata.IDColumn,
		)

		var one int

		err := db.QueryRowContext(ctx, q, v, excludeID).Scan(&one)
		switch {
		case err == nil:
			return engine.NewErrorWithArgument(
				engine.ErrorCodeUniqueKeyViolation,
				fmt.Errorf("duplicate value for unique field %q", f.Name),
				f.Name,
			)
		case errors.Is(err, sql.ErrNoRows):
			// no conflict
		default:
			return lazyerrors.Error(err)
		}
	}

	for _, idx := range mc.Spec.Indexes {
		if !idx.Unique {
			continue
		}

		conds := make([]string, 0, len(idx.Fields))
		args := make([]any, 0, len(idx.Fields)+1)
		missing := false

		for _, f := range idx.Fields {
			v, ok := data[f]
			if !ok || v == nil {
				missing = true
				break
			}

			conds = append(conds, fmt.Sprintf("%s = ?", metadata.DataPath(f)))
			args = append(args, v)
		}

		if missing {
			continue
		}

		args = append(args, excludeID)

		q := fmt.Sprintf(
			"SELECT 1 FROM %q WHERE %s AND %s != ? LIMIT 1",
			mc.TableName, strings.Join(conds, " AND "), metadata.IDColumn,
		)

		var one int

		err := db.QueryRowContext(ctx, q, args...).Scan(&one)
		switch {
		case err == nil:
			return engine.NewErrorWithArgument(
				engine.ErrorCodeUniqueKeyViolation,
				fmt.Errorf("duplicate value for unique index %q", idx.Name),
				idx.Name,
			)
		case errors.Is(err, sql.ErrNoRows):
			// no conflict
		default:
			return lazyerrors.Error(err)
		}
	}

	return nil
}

// insert stores the document, mapping native unique index violations to conflicts.
func (c *collection) insert(ctx context.Context, db *fsql.DB, mc *metadata.Collection, doc *engine.Document) error {
	q := fmt.Sprintf("INSERT INTO %q (%s) VALUES (?)", mc.TableName, metadata.DefaultColumn)

	if _, err := db.ExecContext(ctx, q, string(must.NotFail(json.Marshal(doc)))); err != nil {
		var e *sqlite.Error
		if errors.As(err, &e) && e.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE {
			return engine.NewError(engine.ErrorCodeUniqueKeyViolation, err)
		}

		return lazyerrors.Error(err)
	}

	return nil
}

// get returns a single document by id.
func (c *collection) get(ctx context.Context, db *fsql.DB, mc *metadata.Collection, id string) (*engine.Document, error) {
	q := fmt.Sprintf("SELECT %s FROM %q WHERE %s = ?", metadata.DefaultColumn, mc.TableName, metadata.IDColumn)

	var j string

	err := db.QueryRowContext(ctx, q, id).Scan(&j)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, engine.NewErrorWithArgument(engine.ErrorCodeDocumentNotFound, nil, id)
	case err != nil:
		return nil, lazyerrors.Error(err)
	}

	return unmarshalDocument(j)
}

// unmarshalDocument restores a document from its stored JSON.
func unmarshalDocument(j string) (*engine.Document, error) {
	var doc engine.Document
	if err := json.Unmarshal([]byte(j), &doc); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return &doc, nil
}

// InsertOne implements engine.Collection interface.
func (c *collection) InsertOne(ctx context.Context, params *engine.InsertOneParams) (*engine.InsertOneResult, error) {
	mc, db, err := c.meta(ctx)
	if err != nil {
		return nil, err
	}

	data, err := schema.Validate(mc.Spec, params.Data)
	if err != nil {
		return nil, documentError(err)
	}

	now := time.Now().UTC()
	doc := &engine.Document{
		ID:        uuid.NewString(),
		Data:      data,
		Metadata:  params.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// fail fast before occupying the queue; the worker re-checks
	if err = c.checkUnique(ctx, db.RO(), mc, doc.Data, doc.ID); err != nil {
		return nil, err
	}

	res, err := c.b.enqueue(ctx, &writequeue.Op{
		Kind:       "insert",
		Project:    c.projectName,
		Collection: c.name,
		Func: func(ctx context.Context) (any, error) {
			mc, db, err := c.meta(ctx)
			if err != nil {
				return nil, err
			}

			if err = c.checkUnique(ctx, db.RW(), mc, doc.Data, doc.ID); err != nil {
				return nil, err
			}

			if err = c.insert(ctx, db.RW(), mc, doc); err != nil {
				return nil, err
			}

			c.b.emit(engine.Event{
				Action:       "create",
				ResourceType: "document",
				ResourceID:   doc.ID,
				Project:      c.projectName,
				Collection:   c.name,
			})

			return doc, nil
		},
	})
	if err != nil {
		return nil, err
	}

	return &engine.InsertOneResult{Document: res.(*engine.Document)}, nil
}

// applyPatch returns current data with patch fields replaced.
func applyPatch(current, patch map[string]any) map[string]any {
	res := make(map[string]any, len(current)+len(patch))

	for k, v := range current {
		res[k] = v
	}

	for k, v := range patch {
		res[k] = v
	}

	return res
}

// update is the worker part of UpdateOne and UpdateMany:
// it re-reads the authoritative document state, merges the patch,
// and stores the result. Last write wins in queue order.
func (c *collection) update(ctx context.Context, db *fsql.DB, mc *metadata.Collection, id string, patch, md map[string]any) (*engine.Document, error) {
	doc, err := c.get(ctx, db, mc, id)
	if err != nil {
		return nil, err
	}

	// the merged document must satisfy the full schema,
	// including required fields and rules over untouched fields
	data, err := schema.Validate(mc.Spec, applyPatch(doc.Data, patch))
	if err != nil {
		return nil, documentError(err)
	}

	doc.Data = data
	if md != nil {
		doc.Metadata = md
	}

	if err = c.checkUnique(ctx, db, mc, doc.Data, id); err != nil {
		return nil, err
	}

	doc.UpdatedAt = time.Now().UTC()

	q := fmt.Sprintf("UPDATE %q SET %s = ? WHERE %s = ?", mc.TableName, metadata.DefaultColumn, metadata.IDColumn)
	if _, err = db.ExecContext(ctx, q, string(must.NotFail(json.Marshal(doc))), id); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return doc, nil
}

// UpdateOne implements engine.Collection interface.
func (c *collection) UpdateOne(ctx context.Context, params *engine.UpdateOneParams) (*engine.UpdateOneResult, error) {
	mc, db, err := c.meta(ctx)
	if err != nil {
		return nil, err
	}

	patch, err := schema.ValidatePatch(mc.Spec, params.Patch)
	if err != nil {
		return nil, documentError(err)
	}

	// fail fast before occupying the queue; the worker re-reads
	if _, err = c.get(ctx, db.RO(), mc, params.ID); err != nil {
		return nil, err
	}

	res, err := c.b.enqueue(ctx, &writequeue.Op{
		Kind:       "update",
		Project:    c.projectName,
		Collection: c.name,
		Func: func(ctx context.Context) (any, error) {
			mc, db, err := c.meta(ctx)
			if err != nil {
				return nil, err
			}

			doc, err := c.update(ctx, db.RW(), mc, params.ID, patch, params.Metadata)
			if err != nil {
				return nil, err
			}

			c.b.emit(engine.Event{
				Action:       "update",
				ResourceType: "document",
				ResourceID:   doc.ID,
				Project:      c.projectName,
				Collection:   c.name,
			})

			return doc, nil
		},
	})
	if err != nil {
		return nil, err
	}

	return &engine.UpdateOneResult{Document: res.(*engine.Document)}, nil
}

// DeleteOne implements engine.Collection interface.
func (c *collection) DeleteOne(ctx context.Context, params *engine.DeleteOneParams) error {
	if _, _, err := c.meta(ctx); err != nil {
		return err
	}

	_, err := c.b.enqueue(ctx, &writequeue.Op{
		Kind:       "delete",
		Project:    c.projectName,
		Collection: c.name,
		Func: func(ctx context.Context) (any, error) {
			mc, db, err := c.meta(ctx)
			if err != nil {
				return nil, err
			}

			if err = c.delete(ctx, db.RW(), mc, params.ID); err != nil {
				return nil, err
			}

			c.b.emit(engine.Event{
				Action:       "delete",
				ResourceType: "document",
				ResourceID:   params.ID,
				Project:      c.projectName,
				Collection:   c.name,
			})

			return nil, nil
		},
	})

	return err
}

// delete removes a single document by id. The delete is hard.
func (c *collection) delete(ctx context.Context, db *fsql.DB, mc *metadata.Collection, id string) error {
	q := fmt.Sprintf("DELETE FROM %q WHERE %s = ?", mc.TableName, metadata.IDColumn)

	res, err := db.ExecContext(ctx, q, id)
	if err != nil {
		return lazyerrors.Error(err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return lazyerrors.Error(err)
	}

	if rowsAffected == 0 {
		return engine.NewErrorWithArgument(engine.ErrorCodeDocumentNotFound, nil, id)
	}

	return nil
}

// InsertMany implements engine.Collection interface.
//
// All records travel as a single queue item; each record succeeds or fails
// on its own, and later records see the effects of earlier ones.
func (c *collection) InsertMany(ctx context.Context, params *engine.InsertManyParams) (*engine.InsertManyResult, error) {
	mc, _, err := c.meta(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	records := make([]engine.BulkRecord, len(params.Records))
	docs := make([]*engine.Document, len(params.Records))

	for i, rec := range params.Records {
		records[i].Index = i

		data, err := schema.Validate(mc.Spec, rec.Data)
		if err != nil {
			records[i].Err = documentError(err)
			continue
		}

		docs[i] = &engine.Document{
			ID:        uuid.NewString(),
			Data:      data,
			Metadata:  rec.Metadata,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	res, err := c.b.enqueue(ctx, &writequeue.Op{
		Kind:       "bulk",
		Project:    c.projectName,
		Collection: c.name,
		Func: func(ctx context.Context) (any, error) {
			mc, db, err := c.meta(ctx)
			if err != nil {
				return nil, err
			}

			out := &engine.InsertManyResult{Records: records}

			for i, doc := range docs {
				if records[i].Err != nil {
					continue
				}

				if err := c.checkUnique(ctx, db.RW(), mc, doc.Data, doc.ID); err != nil {
					records[i].Err = err
					continue
				}

				if err := c.insert(ctx, db.RW(), mc, doc); err != nil {
					records[i].Err = err
					continue
				}

				records[i].ID = doc.ID
				out.Inserted++

				c.b.emit(engine.Event{
					Action:       "create",
					ResourceType: "document",
					ResourceID:   doc.ID,
					Project:      c.projectName,
					Collection:   c.name,
				})
			}

			return out, nil
		},
	})
	if err != nil {
		return nil, err
	}

	return res.(*engine.InsertManyResult), nil
}

// UpdateMany implements engine.Collection interface.
func (c *collection) UpdateMany(ctx context.Context, params *engine.UpdateManyParams) (*engine.UpdateManyResult, error) {
	mc, _, err := c.meta(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]engine.BulkRecord, len(params.Records))
	patches := make([]map[string]any, len(params.Records))

	for i, rec := range params.Records {
		records[i].Index = i
		records[i].ID = rec.ID

		patch, err := schema.ValidatePatch(mc.Spec, rec.Patch)
		if err != nil {
			records[i].Err = documentError(err)
			continue
		}

		patches[i] = patch
	}

	res, err := c.b.enqueue(ctx, &writequeue.Op{
		Kind:       "bulk",
		Project:    c.projectName,
		Collection: c.name,
		Func: func(ctx context.Context) (any, error) {
			mc, db, err := c.meta(ctx)
			if err != nil {
				return nil, err
			}

			out := &engine.UpdateManyResult{Records: records}

			for i, rec := range params.Records {
				if records[i].Err != nil {
					continue
				}

				if _, err := c.update(ctx, db.RW(), mc, rec.ID, patches[i], rec.Metadata); err != nil {
					records[i].Err = err
					continue
				}

				out.Updated++

				c.b.emit(engine.Event{
					Action:       "update",
					ResourceType: "document",
					ResourceID:   rec.ID,
					Project:      c.projectName,
					Collection:   c.name,
				})
			}

			return out, nil
		},
	})
	if err != nil {
		return nil, err
	}

	return res.(*engine.UpdateManyResult), nil
}

// DeleteMany implements engine.Collection interface.
func (c *collection) DeleteMany(ctx context.Context, params *engine.DeleteManyParams) (*engine.DeleteManyResult, error) {
	if _, _, err := c.meta(ctx); err != nil {
		return nil, err
	}

	records := make([]engine.BulkRecord, len(params.IDs))
	for i, id := range params.IDs {
		records[i].Index = i
		records[i].ID = id
	}

	res, err := c.b.enqueue(ctx, &writequeue.Op{
		Kind:       "bulk",
		Project:    c.projectName,
		Collection: c.name,
		Func: func(ctx context.Context) (any, error) {
			mc, db, err := c.meta(ctx)
			if err != nil {
				return nil, err
			}

			out := &engine.DeleteManyResult{Records: records}

			for i, id := range params.IDs {
				if err := c.delete(ctx, db.RW(), mc, id); err != nil {
					records[i].Err = err
					continue
				}

				out.Deleted++

				c.b.emit(engine.Event{
					Action:       "delete",
					ResourceType: "document",
					ResourceID:   id,
					Project:      c.projectName,
					Collection:   c.name,
				})
			}

			return out, nil
		},
	})
	if err != nil {
		return nil, err
	}

	return res.(*engine.DeleteManyResult), nil
}

// Get implements engine.Collection interface.
func (c *collection) Get(ctx context.Context, params *engine.GetParams) (*engine.GetResult, error) {
	mc, db, err := c.meta(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := c.get(ctx, db.RO(), mc, params.ID)
	if err != nil {
		return nil, err
	}

	return &engine.GetResult{Document: doc}, nil
}

// Query implements engine.Collection interface.
func (c *collection) Query(ctx context.Context, params *engine.QueryParams) (*engine.QueryResult, error) {
	mc, db, err := c.meta(ctx)
	if err != nil {
		return nil, err
	}

	where, args, err := buildWhere(params.Filter)
	if err != nil {
		return nil, err
	}

	orderBy, err := buildOrderBy(params.OrderBy)
	if err != nil {
		return nil, err
	}

	res := new(engine.QueryResult)

	q := fmt.Sprintf("SELECT COUNT(*) FROM %q %s", mc.TableName, where)
	if err = db.RO().QueryRowContext(ctx, q, args...).Scan(&res.Total); err != nil {
		return nil, lazyerrors.Error(err)
	}

	q = fmt.Sprintf("SELECT %s FROM %q %s %s", metadata.DefaultColumn, mc.TableName, where, orderBy)

	if params.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", params.Limit)

		if params.Offset > 0 {
			q += fmt.Sprintf(" OFFSET %d", params.Offset)
		}
	} else if params.Offset > 0 {
		q += fmt.Sprintf(" LIMIT -1 OFFSET %d", params.Offset)
	}

	res.Documents, err = c.queryDocuments(ctx, db.RO(), q, args...)
	if err != nil {
		return nil, err
	}

	return res, nil
}

// queryDocuments runs the query and scans all returned documents.
func (c *collection) queryDocuments(ctx context.Context, db *fsql.DB, q string, args ...any) ([]*engine.Document, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}
	defer rows.Close()

	var res []*engine.Document

	for rows.Next() {
		var j string
		if err = rows.Scan(&j); err != nil {
			return nil, lazyerrors.Error(err)
		}

		doc, err := unmarshalDocument(j)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		res = append(res, doc)
	}

	if err = rows.Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// Count implements engine.Collection interface.
func (c *collection) Count(ctx context.Context, params *engine.CountParams) (*engine.CountResult, error) {
	mc, db, err := c.meta(ctx)
	if err != nil {
		return nil, err
	}

	where, args, err := buildWhere(params.Filter)
	if err != nil {
		return nil, err
	}

	res := new(engine.CountResult)

	q := fmt.Sprintf("SELECT COUNT(*) FROM %q %s", mc.TableName, where)
	if err = db.RO().QueryRowContext(ctx, q, args...).Scan(&res.Count); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// searchableTypes are field types matched by Search when no fields are given.
var searchableTypes = []schema.FieldType{
	schema.TypeString,
	schema.TypeText,
	schema.TypeEmail,
	schema.TypePhone,
}

// Search implements engine.Collection interface.
func (c *collection) Search(ctx context.Context, params *engine.SearchParams) (*engine.SearchResult, error) {
	mc, db, err := c.meta(ctx)
	if err != nil {
		return nil, err
	}

	fields := params.Fields
	if len(fields) == 0 {
		for _, f := range mc.Spec.Fields {
			for _, t := range searchableTypes {
				if f.Type == t {
					fields = append(fields, f.Name)
					break
				}
			}
		}
	}

	if len(fields) == 0 {
		return &engine.SearchResult{}, nil
	}

	conds := make([]string, len(fields))
	args := make([]any, len(fields))

	for i, f := range fields {
		path, err := fieldPath(f)
		if err != nil {
			return nil, err
		}

		conds[i] = fmt.Sprintf("%s LIKE ? ESCAPE '\\'", path)
		args[i] = "%" + escapeLike(params.Query) + "%"
	}

	q := fmt.Sprintf("SELECT %s FROM %q WHERE %s", metadata.DefaultColumn, mc.TableName, strings.Join(conds, " OR "))

	if params.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", params.Limit)
	}

	docs, err := c.queryDocuments(ctx, db.RO(), q, args...)
	if err != nil {
		return nil, err
	}

	return &engine.SearchResult{Documents: docs}, nil
}

// escapeLike escapes LIKE pattern metacharacters in a literal substring.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// aggregateOps maps aggregation names to SQL.
var aggregateOps = map[string]string{
	"count": "COUNT(*)",
	"sum":   "SUM(%s)",
	"avg":   "AVG(%s)",
	"min":   "MIN(%s)",
	"max":   "MAX(%s)",
}

// Aggregate implements engine.Collection interface.
func (c *collection) Aggregate(ctx context.Context, params *engine.AggregateParams) (*engine.AggregateResult, error) {
	mc, db, err := c.meta(ctx)
	if err != nil {
		return nil, err
	}

	groupPath, err := fieldPath(params.GroupBy)
	if err != nil {
		return nil, err
	}

	aggs := params.Aggregations
	if len(aggs) == 0 {
		aggs = []engine.Aggregation{{Op: "count"}}
	}

	selects := make([]string, 0, len(aggs)+1)
	selects = append(selects, groupPath)

	keys := make([]string, len(aggs))

	for i, a := range aggs {
		tmpl, ok := aggregateOps[a.Op]
		if !ok {
			return nil, engine.NewErrorWithArgument(
				engine.ErrorCodeDocumentIsInvalid,
				fmt.Errorf("unknown aggregation %q", a.Op),
				a.Op,
			)
		}

		expr := tmpl

		if a.Op != "count" {
			path, err := fieldPath(a.Field)
			if err != nil {
				return nil, err
			}

			expr = fmt.Sprintf(tmpl, path)
		}

		keys[i] = a.As
		if keys[i] == "" {
			keys[i] = a.Op
			if a.Field != "" {
				keys[i] += "_" + a.Field
			}
		}

		selects = append(selects, expr)
	}

	q := fmt.Sprintf(
		"SELECT %s FROM %q GROUP BY %s ORDER BY %s",
		strings.Join(selects, ", "), mc.TableName, groupPath, groupPath,
	)

	rows, err := db.RO().QueryContext(ctx, q)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}
	defer rows.Close()

	res := new(engine.AggregateResult)

	for rows.Next() {
		dest := make([]any, len(aggs)+1)
		for i := range dest {
			dest[i] = new(any)
		}

		if err = rows.Scan(dest...); err != nil {
			return nil, lazyerrors.Error(err)
		}

		group := engine.AggregateGroup{
			Key:    *dest[0].(*any),
			Values: make(map[string]any, len(aggs)),
		}

		for i, k := range keys {
			group.Values[k] = *dest[i+1].(*any)
		}

		res.Groups = append(res.Groups, group)
	}

	if err = rows.Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	res.TotalGroups = int64(len(res.Groups))

	return res, nil
}

// check interfaces
var (
	_ engine.Collection = (*collection)(nil)
)
