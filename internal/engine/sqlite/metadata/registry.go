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

package metadata

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"github.com/corraldb/corral/internal/engine/schema"
	"github.com/corraldb/corral/internal/engine/sqlite/metadata/pool"
	"github.com/corraldb/corral/internal/util/lazyerrors"
	"github.com/corraldb/corral/internal/util/must"
	"github.com/corraldb/corral/internal/util/observability"
	"github.com/corraldb/corral/internal/util/state"
)

// Parts of Prometheus metric names.
const (
	namespace = "corral"
	subsystem = "sqlite_metadata"
)

// Registry provides access to projects and collections information.
//
// Schema mutations are expected to be called from the write queue worker only;
// reads are served from the in-memory cache and are safe for concurrent use.
//
// Exported methods are safe for concurrent use. Unexported methods are not.
type Registry struct {
	p *pool.Pool
	l *zap.Logger

	// rw protects colls.
	// Schema reads hit the cache; schema writes happen on the single
	// write queue worker, so the metadata table and the cache can't diverge.
	rw    sync.RWMutex
	colls map[string]map[string]*Collection // project name -> collection name -> collection
}

// NewRegistry creates a registry for SQLite database files in the given directory.
func NewRegistry(dir string, l *zap.Logger, sp *state.Provider) (*Registry, error) {
	p, initDBs, err := pool.New(dir, l, sp)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		p:     p,
		l:     l,
		colls: map[string]map[string]*Collection{},
	}

	for name, db := range initDBs {
		if err = r.initCollections(context.Background(), name, db); err != nil {
			r.Close()
			return nil, lazyerrors.Error(err)
		}
	}

	return r, nil
}

// Close closes the registry.
func (r *Registry) Close() {
	r.p.Close()
}

// initCollections loads collections metadata from the database during initialization.
func (r *Registry) initCollections(ctx context.Context, projectName string, db *pool.DB) error {
	rows, err := db.RO().QueryContext(ctx, fmt.Sprintf("SELECT name, table_name, settings FROM %q", metadataTableName))
	if err != nil {
		return lazyerrors.Error(err)
	}
	defer rows.Close()

	colls := map[string]*Collection{}

	for rows.Next() {
		var c Collection
		var settings string

		if err = rows.Scan(&c.Name, &c.TableName, &settings); err != nil {
			return lazyerrors.Error(err)
		}

		if err = c.unmarshalSettings(settings); err != nil {
			return lazyerrors.Error(err)
		}

		colls[c.Name] = &c
	}

	if err = rows.Err(); err != nil {
		return lazyerrors.Error(err)
	}

	r.rw.Lock()
	r.colls[projectName] = colls
	r.rw.Unlock()

	return nil
}

// ProjectList returns a sorted list of existing projects.
func (r *Registry) ProjectList(ctx context.Context) []string {
	defer observability.FuncCall(ctx)()

	return r.p.List(ctx)
}

// ProjectGetExisting returns a connection pair to existing project database,
// or nil if it doesn't exist.
func (r *Registry) ProjectGetExisting(ctx context.Context, projectName string) *pool.DB {
	defer observability.FuncCall(ctx)()

	return r.p.GetExisting(ctx, projectName)
}

// ProjectSize returns the project database file size in bytes.
func (r *Registry) ProjectSize(projectName string) int64 {
	return r.p.FileSize(projectName)
}

// projectGetOrCreate returns a connection pair to existing project database
// or newly created project database.
//
// It does not hold the lock.
func (r *Registry) projectGetOrCreate(ctx context.Context, projectName string) (*pool.DB, error) {
	defer observability.FuncCall(ctx)()

	db, created, err := r.p.GetOrCreate(ctx, projectName)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if !created {
		return db, nil
	}

	q := fmt.Sprintf(
		"CREATE TABLE %q ("+
			"name TEXT NOT NULL UNIQUE CHECK(name != ''), "+
			"table_name TEXT NOT NULL UNIQUE CHECK(table_name != ''), "+
			"settings TEXT NOT NULL CHECK(settings != '')"+
			") STRICT",
		metadataTableName,
	)
	if _, err = db.RW().ExecContext(ctx, q); err != nil {
		r.projectDrop(ctx, projectName)
		return nil, lazyerrors.Error(err)
	}

	return db, nil
}

// projectDrop drops the project database.
//
// Returned boolean value indicates whether the project was dropped.
//
// It does not hold the lock.
func (r *Registry) projectDrop(ctx context.Context, projectName string) bool {
	defer observability.FuncCall(ctx)()

	delete(r.colls, projectName)

	return r.p.Drop(ctx, projectName)
}

// ProjectDrop drops the project database with all its collections.
//
// Returned boolean value indicates whether the project was dropped.
func (r *Registry) ProjectDrop(ctx context.Context, projectName string) bool {
	defer observability.FuncCall(ctx)()

	r.rw.Lock()
	defer r.rw.Unlock()

	return r.projectDrop(ctx, projectName)
}

// CollectionList returns a sorted list of collections in the project.
//
// If project does not exist, no error is returned.
func (r *Registry) CollectionList(ctx context.Context, projectName string) ([]*Collection, error) {
	defer observability.FuncCall(ctx)()

	if r.p.GetExisting(ctx, projectName) == nil {
		return nil, nil
	}

	r.rw.RLock()

	res := make([]*Collection, 0, len(r.colls[projectName]))
	for _, c := range r.colls[projectName] {
		res = append(res, c.deepCopy())
	}

	r.rw.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })

	return res, nil
}

// CollectionGet returns a deep copy of collection metadata.
//
// If project or collection does not exist, nil is returned.
func (r *Registry) CollectionGet(ctx context.Context, projectName, collectionName string) *Collection {
	defer observability.FuncCall(ctx)()

	r.rw.RLock()
	defer r.rw.RUnlock()

	colls := r.colls[projectName]
	if colls == nil {
		return nil
	}

	return colls[collectionName].deepCopy()
}

// tableName returns the table name for the given collection name.
func tableName(collectionName string) string {
	h := fnv.New32a()
	must.NotFail(h.Write([]byte(collectionName)))
	s := h.Sum32()

	res := fmt.Sprintf("%s_%08x", strings.ToLower(collectionName), s)
	if strings.HasPrefix(res, reservedTablePrefix) {
		res = "_" + res
	}

	return res
}

// CollectionCreate creates a collection in the project with the given schema.
//
// The schema must be already validated by the caller.
// Returned boolean value indicates whether the collection was created.
// If collection already exists, (false, nil) is returned.
//
// It must be called from the write queue worker.
func (r *Registry) CollectionCreate(ctx context.Context, projectName string, spec *schema.Collection) (bool, error) {
	defer observability.FuncCall(ctx)()

	r.rw.Lock()
	defer r.rw.Unlock()

	db, err := r.projectGetOrCreate(ctx, projectName)
	if err != nil {
		return false, lazyerrors.Error(err)
	}

	colls := r.colls[projectName]
	if colls != nil && colls[spec.Name] != nil {
		return false, nil
	}

	now := time.Now().UTC()

	c := &Collection{
		Spec:      spec.DeepCopy(),
		Name:      spec.Name,
		TableName: tableName(spec.Name),
	}
	c.Spec.CreatedAt = now
	c.Spec.UpdatedAt = now

	q := fmt.Sprintf("CREATE TABLE %[1]q (%[2]s TEXT NOT NULL CHECK(%[2]s != '')) STRICT", c.TableName, DefaultColumn)
	if _, err = db.RW().ExecContext(ctx, q); err != nil {
		return false, lazyerrors.Error(err)
	}

	q = fmt.Sprintf("CREATE UNIQUE INDEX %q ON %q (%s)", c.TableName+"_id", c.TableName, IDColumn)
	if _, err = db.RW().ExecContext(ctx, q); err != nil {
		_, _ = db.RW().ExecContext(ctx, fmt.Sprintf("DROP TABLE %q", c.TableName))
		return false, lazyerrors.Error(err)
	}

	if err = r.createFieldIndexes(ctx, db, c, nil); err != nil {
		_, _ = db.RW().ExecContext(ctx, fmt.Sprintf("DROP TABLE %q", c.TableName))
		return false, lazyerrors.Error(err)
	}

	settings, err := c.marshalSettings()
	if err != nil {
		return false, lazyerrors.Error(err)
	}

	q = fmt.Sprintf("INSERT INTO %q (name, table_name, settings) VALUES (?, ?, ?)", metadataTableName)
	if _, err = db.RW().ExecContext(ctx, q, c.Name, c.TableName, settings); err != nil {
		_, _ = db.RW().ExecContext(ctx, fmt.Sprintf("DROP TABLE %q", c.TableName))
		return false, lazyerrors.Error(err)
	}

	if r.colls[projectName] == nil {
		r.colls[projectName] = map[string]*Collection{}
	}
	r.colls[projectName][c.Name] = c

	return true, nil
}

// createFieldIndexes creates native SQLite indexes for indexed and unique fields
// and for declarative multi-field indexes, skipping names in existing.
func (r *Registry) createFieldIndexes(ctx context.Context, db *pool.DB, c *Collection, existing *schema.Collection) error {
	exists := func(name string) bool {
		if existing == nil {
			return false
		}

		for _, f := range existing.Fields {
			if f.Name == name && (f.Indexed || f.Unique) {
				return true
			}
		}

		return false
	}

	for _, f := range c.Spec.Fields {
		if !f.Indexed && !f.Unique {
			continue
		}

		if exists(f.Name) {
			continue
		}

		unique := ""
		if f.Unique {
			unique = "UNIQUE "
		}

		q := fmt.Sprintf(
			"CREATE %sINDEX %q ON %q (%s)",
			unique, c.TableName+"_f_"+f.Name, c.TableName, DataPath(f.Name),
		)
		if _, err := db.RW().ExecContext(ctx, q); err != nil {
			return lazyerrors.Error(err)
		}
	}

	indexExists := func(name string) bool {
		if existing == nil {
			return false
		}

		for _, idx := range existing.Indexes {
			if idx.Name == name {
				return true
			}
		}

		return false
	}

	for _, idx := range c.Spec.Indexes {
		if indexExists(idx.Name) {
			continue
		}

		paths := make([]string, len(idx.Fields))
		for i, f := range idx.Fields {
			paths[i] = DataPath(f)
		}

		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}

		q := fmt.Sprintf(
			"CREATE %sINDEX %q ON %q (%s)",
			unique, c.TableName+"_i_"+idx.Name, c.TableName, strings.Join(paths, ", "),
		)
		if _, err := db.RW().ExecContext(ctx, q); err != nil {
			return lazyerrors.Error(err)
		}
	}

	return nil
}

// CollectionUpdate merges the patch into an existing collection schema and persists it.
//
// The resulting schema must be already validated by the caller via merge preview;
// this method re-merges on the authoritative copy.
// If project or collection does not exist, (false, nil) is returned.
//
// It must be called from the write queue worker.
func (r *Registry) CollectionUpdate(ctx context.Context, projectName string, patch *schema.Collection) (bool, error) {
	defer observability.FuncCall(ctx)()

	r.rw.Lock()
	defer r.rw.Unlock()

	db := r.p.GetExisting(ctx, projectName)
	if db == nil {
		return false, nil
	}

	colls := r.colls[projectName]
	if colls == nil {
		return false, nil
	}

	c := colls[patch.Name]
	if c == nil {
		return false, nil
	}

	updated := c.deepCopy()
	if err := updated.Spec.MergeAdditive(patch); err != nil {
		return false, lazyerrors.Error(err)
	}

	updated.Spec.UpdatedAt = time.Now().UTC()

	if err := r.createFieldIndexes(ctx, db, updated, c.Spec); err != nil {
		return false, lazyerrors.Error(err)
	}

	settings, err := updated.marshalSettings()
	if err != nil {
		return false, lazyerrors.Error(err)
	}

	q := fmt.Sprintf("UPDATE %q SET settings = ? WHERE name = ?", metadataTableName)
	if _, err := db.RW().ExecContext(ctx, q, settings, updated.Name); err != nil {
		return false, lazyerrors.Error(err)
	}

	colls[updated.Name] = updated

	return true, nil
}

// CollectionDrop drops a collection in the project.
//
// Returned boolean value indicates whether the collection was dropped.
// If project or collection did not exist, (false, nil) is returned.
//
// It must be called from the write queue worker.
func (r *Registry) CollectionDrop(ctx context.Context, projectName, collectionName string) (bool, error) {
	defer observability.FuncCall(ctx)()

	r.rw.Lock()
	defer r.rw.Unlock()

	db := r.p.GetExisting(ctx, projectName)
	if db == nil {
		return false, nil
	}

	colls := r.colls[projectName]
	if colls == nil {
		return false, nil
	}

	c := colls[collectionName]
	if c == nil {
		return false, nil
	}

	q := fmt.Sprintf("DELETE FROM %q WHERE name = ?", metadataTableName)
	if _, err := db.RW().ExecContext(ctx, q, collectionName); err != nil {
		return false, lazyerrors.Error(err)
	}

	q = fmt.Sprintf("DROP TABLE %q", c.TableName)
	if _, err := db.RW().ExecContext(ctx, q); err != nil {
		return false, lazyerrors.Error(err)
	}

	delete(r.colls[projectName], collectionName)

	return true, nil
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(r, ch)
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.p.Collect(ch)

	r.rw.RLock()
	defer r.rw.RUnlock()

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "projects"),
			"The current number of projects in the registry.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(len(r.colls)),
	)

	for _, project := range maps.Keys(r.colls) {
		ch <- prometheus.MustNewConstMetric(
			prometheus.NewDesc(
				prometheus.BuildFQName(namespace, subsystem, "collections"),
				"The current number of collections in the registry.",
				[]string{"project"}, nil,
			),
			prometheus.GaugeValue,
			float64(len(r.colls[project])),
			project,
		)
	}
}

// check interfaces
var (
	_ prometheus.Collector = (*Registry)(nil)
)
