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

package pool

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corraldb/corral/internal/util/state"
	"github.com/corraldb/corral/internal/util/teststress"
	"github.com/corraldb/corral/internal/util/testutil"
)

func TestCreateDrop(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	sp, err := state.NewProvider("")
	require.NoError(t, err)

	p, initDBs, err := New(t.TempDir(), testutil.Logger(t), sp)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	assert.Empty(t, initDBs)

	name := testutil.ProjectName(t)

	db := p.GetExisting(ctx, name)
	require.Nil(t, db)

	db, created, err := p.GetOrCreate(ctx, name)
	require.NoError(t, err)
	require.NotNil(t, db)
	require.True(t, created)

	db2, created, err := p.GetOrCreate(ctx, name)
	require.NoError(t, err)
	require.Same(t, db, db2)
	require.False(t, created)

	require.Equal(t, []string{name}, p.List(ctx))

	// both handles work
	_, err = db.RW().ExecContext(ctx, "CREATE TABLE t (v TEXT)")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.RO().QueryRowContext(ctx, "SELECT count(*) FROM t").Scan(&count))
	assert.Zero(t, count)

	assert.Greater(t, p.FileSize(name), int64(0))

	dropped := p.Drop(ctx, name)
	require.True(t, dropped)

	dropped = p.Drop(ctx, name)
	require.False(t, dropped)

	require.Nil(t, p.GetExisting(ctx, name))
	assert.Zero(t, p.FileSize(name))
}

func TestReopen(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	sp, err := state.NewProvider("")
	require.NoError(t, err)

	dir := t.TempDir()

	p, _, err := New(dir, testutil.Logger(t), sp)
	require.NoError(t, err)

	name := testutil.ProjectName(t)

	_, created, err := p.GetOrCreate(ctx, name)
	require.NoError(t, err)
	require.True(t, created)

	p.Close()

	p, initDBs, err := New(dir, testutil.Logger(t), sp)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	require.Contains(t, initDBs, name)
	assert.NotEmpty(t, sp.Get().StoreVersion)
}

func TestNewBadDir(t *testing.T) {
	t.Parallel()

	sp, err := state.NewProvider("")
	require.NoError(t, err)

	_, _, err = New(filepath.Join(t.TempDir(), "missing"), testutil.Logger(t), sp)
	require.Error(t, err)
}

func TestCreateDropStress(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	sp, err := state.NewProvider("")
	require.NoError(t, err)

	p, _, err := New(t.TempDir(), testutil.Logger(t), sp)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	prefix := testutil.ProjectName(t)

	var i atomic.Int32

	teststress.Stress(t, func(ready chan<- struct{}, start <-chan struct{}) {
		name := fmt.Sprintf("%s_%d", prefix, i.Add(1))

		ready <- struct{}{}
		<-start

		db, created, err := p.GetOrCreate(ctx, name)
		require.NoError(t, err)
		require.NotNil(t, db)
		require.True(t, created)

		_, err = db.RW().ExecContext(ctx, "CREATE TABLE t (v TEXT)")
		require.NoError(t, err)

		dropped := p.Drop(ctx, name)
		require.True(t, dropped)
	})
}
