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

// Package pool provides access to per-project SQLite databases and their connections.
//
// It should be used only by the metadata package.
//
// Each project maps to a single database file. Two handles are opened per file:
// a write handle limited to one connection, used exclusively by the write queue
// worker, and a pooled read handle for concurrent reads.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	_ "modernc.org/sqlite" // register database/sql driver

	"github.com/corraldb/corral/internal/util/fsql"
	"github.com/corraldb/corral/internal/util/lazyerrors"
	"github.com/corraldb/corral/internal/util/observability"
	"github.com/corraldb/corral/internal/util/resource"
	"github.com/corraldb/corral/internal/util/state"
)

// filenameExtension represents SQLite database filename extension.
const filenameExtension = ".sqlite"

// Parts of Prometheus metric names.
const (
	namespace = "corral"
	subsystem = "sqlite_pool"
)

// DB is a pair of handles to a single project database file.
type DB struct {
	rw *fsql.DB
	ro *fsql.DB
}

// RW returns the write handle.
//
// It is limited to a single connection and must be used
// only by the write queue worker.
func (db *DB) RW() *fsql.DB {
	return db.rw
}

// RO returns the pooled read handle.
func (db *DB) RO() *fsql.DB {
	return db.ro
}

// close closes both handles.
func (db *DB) close() error {
	err := db.rw.Close()
	if e := db.ro.Close(); err == nil {
		err = e
	}

	return err
}

// Pool provides access to per-project SQLite databases and their connections.
//
//nolint:vet // for readability
type Pool struct {
	dir string
	l   *zap.Logger

	rw  sync.RWMutex
	dbs map[string]*DB

	token *resource.Token

	sp *state.Provider
}

// openDB opens existing database file or creates a new one.
//
// All valid project names are valid SQLite database file names,
// so no validation is needed.
func openDB(name, file string, l *zap.Logger, sp *state.Provider) (*DB, error) {
	uri := "file:" + file + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"

	rw, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	rw.SetConnMaxIdleTime(0)
	rw.SetConnMaxLifetime(0)
	rw.SetMaxIdleConns(1)
	rw.SetMaxOpenConns(1)

	if err = rw.Ping(); err != nil {
		_ = rw.Close()
		return nil, lazyerrors.Error(err)
	}

	ro, err := sql.Open("sqlite", uri)
	if err != nil {
		_ = rw.Close()
		return nil, lazyerrors.Error(err)
	}

	ro.SetConnMaxIdleTime(0)
	ro.SetConnMaxLifetime(0)

	if err = ro.Ping(); err != nil {
		_ = rw.Close()
		_ = ro.Close()

		return nil, lazyerrors.Error(err)
	}

	if err := sp.Update(func(s *state.State) {
		if s.StoreVersion != "" {
			return
		}

		row := rw.QueryRowContext(context.Background(), "SELECT sqlite_version()")
		if err := row.Scan(&s.StoreVersion); err != nil {
			l.Error("sqlite.metadata.pool.openDB: failed to query SQLite version", zap.Error(err))
		}
	}); err != nil {
		l.Error("sqlite.metadata.pool.openDB: failed to update state", zap.Error(err))
	}

	return &DB{
		rw: fsql.WrapDB(rw, name+"-rw", l),
		ro: fsql.WrapDB(ro, name+"-ro", l),
	}, nil
}

// New creates a pool for SQLite database files in the given directory.
//
// All existing databases are opened on creation.
//
// The returned map is the initial set of existing databases.
// It should not be modified.
func New(dir string, l *zap.Logger, sp *state.Provider) (*Pool, map[string]*DB, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("%q should be an existing directory: %s", dir, err)
	}

	if !fi.IsDir() {
		return nil, nil, fmt.Errorf("%q should be an existing directory", dir)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*"+filenameExtension))
	if err != nil {
		return nil, nil, lazyerrors.Error(err)
	}

	p := &Pool{
		dir:   dir,
		l:     l,
		dbs:   make(map[string]*DB, len(matches)),
		token: resource.NewToken(),
		sp:    sp,
	}

	resource.Track(p, p.token)

	for _, f := range matches {
		name := p.databaseName(f)

		p.l.Debug("Opening existing database.", zap.String("name", name), zap.String("file", f))

		db, err := openDB(name, f, l, p.sp)
		if err != nil {
			p.Close()
			return nil, nil, lazyerrors.Error(err)
		}

		p.dbs[name] = db
	}

	return p, p.dbs, nil
}

// databaseName returns project name for given database file path.
func (p *Pool) databaseName(databaseFile string) string {
	return strings.TrimSuffix(filepath.Base(databaseFile), filenameExtension)
}

// databaseFile returns database file path for the given project name.
func (p *Pool) databaseFile(name string) string {
	return filepath.Join(p.dir, name+filenameExtension)
}

// Close closes all databases in the pool and frees all resources.
func (p *Pool) Close() {
	p.rw.Lock()
	defer p.rw.Unlock()

	for _, db := range p.dbs {
		_ = db.close()
	}

	p.dbs = nil

	resource.Untrack(p, p.token)
}

// List returns a sorted list of project names in the pool.
func (p *Pool) List(ctx context.Context) []string {
	defer observability.FuncCall(ctx)()

	p.rw.RLock()
	defer p.rw.RUnlock()

	res := maps.Keys(p.dbs)
	slices.Sort(res)

	return res
}

// GetExisting returns an existing database by valid project name, or nil.
func (p *Pool) GetExisting(ctx context.Context, name string) *DB {
	defer observability.FuncCall(ctx)()

	p.rw.RLock()
	defer p.rw.RUnlock()

	return p.dbs[name]
}

// GetOrCreate returns an existing database by valid project name, or creates a new one.
//
// Returned boolean value indicates whether the database was created.
func (p *Pool) GetOrCreate(ctx context.Context, name string) (*DB, bool, error) {
	defer observability.FuncCall(ctx)()

	db := p.GetExisting(ctx, name)
	if db != nil {
		return db, false, nil
	}

	p.rw.Lock()
	defer p.rw.Unlock()

	// it might have been created by a concurrent call
	if db := p.dbs[name]; db != nil {
		return db, false, nil
	}

	file := p.databaseFile(name)

	db, err := openDB(name, file, p.l, p.sp)
	if err != nil {
		return nil, false, lazyerrors.Errorf("%s: %w", file, err)
	}

	p.l.Debug("Database created.", zap.String("name", name), zap.String("file", file))

	p.dbs[name] = db

	return db, true, nil
}

// Drop closes and removes a database by valid project name.
//
// It does nothing if the database does not exist.
//
// Returned boolean value indicates whether the database was removed.
func (p *Pool) Drop(ctx context.Context, name string) bool {
	defer observability.FuncCall(ctx)()

	p.rw.Lock()
	defer p.rw.Unlock()

	db, ok := p.dbs[name]
	if !ok {
		return false
	}

	if err := db.close(); err != nil {
		p.l.Warn("Failed to close database connection.", zap.String("name", name), zap.Error(err))
	}

	delete(p.dbs, name)

	f := p.databaseFile(name)
	if err := os.Remove(f); err != nil {
		p.l.Warn("Failed to remove database file.", zap.String("file", f), zap.String("name", name), zap.Error(err))
	}

	// WAL and shared-memory files may remain
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(f + suffix)
	}

	p.l.Debug("Database dropped.", zap.String("name", name))

	return true
}

// FileSize returns the database file size in bytes for the given project name.
//
// It returns 0 if the database does not exist.
func (p *Pool) FileSize(name string) int64 {
	fi, err := os.Stat(p.databaseFile(name))
	if err != nil {
		return 0
	}

	return fi.Size()
}

// Describe implements prometheus.Collector.
func (p *Pool) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(p, ch)
}

// Collect implements prometheus.Collector.
func (p *Pool) Collect(ch chan<- prometheus.Metric) {
	p.rw.RLock()
	defer p.rw.RUnlock()

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "databases"),
			"The current number of databases in the pool.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(len(p.dbs)),
	)

	for _, db := range p.dbs {
		db.rw.Collect(ch)
		db.ro.Collect(ch)
	}
}

// check interfaces
var (
	_ prometheus.Collector = (*Pool)(nil)
)
