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
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corraldb/corral/internal/engine/schema"
	"github.com/corraldb/corral/internal/util/state"
	"github.com/corraldb/corral/internal/util/teststress"
	"github.com/corraldb/corral/internal/util/testutil"
)

// testRegistry creates a registry in a temporary directory.
func testRegistry(t *testing.T) (*Registry, string) {
	t.Helper()

	sp, err := state.NewProvider("")
	require.NoError(t, err)

	dir := t.TempDir()

	r, err := NewRegistry(dir, testutil.Logger(t), sp)
	require.NoError(t, err)
	t.Cleanup(r.Close)

	return r, dir
}

// taskSpec returns a valid schema for tests.
func taskSpec(name string) *schema.Collection {
	return &schema.Collection{
		Name: name,
		Fields: []schema.Field{
			{Name: "title", Type: schema.TypeString, Required: true},
			{Name: "done", Type: schema.TypeBoolean, Default: false, Indexed: true},
		},
	}
}

func TestCollectionCreateGetDrop(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	r, _ := testRegistry(t)

	projectName := testutil.ProjectName(t)
	collectionName := testutil.CollectionName(t)

	created, err := r.CollectionCreate(ctx, projectName, taskSpec(collectionName))
	require.NoError(t, err)
	require.True(t, created)

	created, err = r.CollectionCreate(ctx, projectName, taskSpec(collectionName))
	require.NoError(t, err)
	require.False(t, created)

	c := r.CollectionGet(ctx, projectName, collectionName)
	require.NotNil(t, c)
	assert.Equal(t, collectionName, c.Name)
	assert.NotEmpty(t, c.TableName)
	assert.False(t, c.Spec.CreatedAt.IsZero())
	require.Len(t, c.Spec.Fields, 2)

	// returned metadata is a copy
	c.Spec.Fields[0].Name = "mutated"
	assert.Equal(t, "title", r.CollectionGet(ctx, projectName, collectionName).Spec.Fields[0].Name)

	list, err := r.CollectionList(ctx, projectName)
	require.NoError(t, err)
	require.Len(t, list, 1)

	assert.Equal(t, []string{projectName}, r.ProjectList(ctx))
	assert.Greater(t, r.ProjectSize(projectName), int64(0))

	dropped, err := r.CollectionDrop(ctx, projectName, collectionName)
	require.NoError(t, err)
	require.True(t, dropped)

	dropped, err = r.CollectionDrop(ctx, projectName, collectionName)
	require.NoError(t, err)
	require.False(t, dropped)

	require.Nil(t, r.CollectionGet(ctx, projectName, collectionName))
}

func TestCollectionUpdate(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	r, _ := testRegistry(t)

	projectName := testutil.ProjectName(t)
	collectionName := testutil.CollectionName(t)

	created, err := r.CollectionCreate(ctx, projectName, taskSpec(collectionName))
	require.NoError(t, err)
	require.True(t, created)

	updated, err := r.CollectionUpdate(ctx, projectName, &schema.Collection{
		Name:        collectionName,
		Description: "tracked tasks",
		Fields: []schema.Field{
			{Name: "priority", Type: schema.TypeInteger, Default: int64(0)},
		},
	})
	require.NoError(t, err)
	require.True(t, updated)

	c := r.CollectionGet(ctx, projectName, collectionName)
	require.NotNil(t, c)
	assert.Equal(t, "tracked tasks", c.Spec.Description)
	require.Len(t, c.Spec.Fields, 3)
	assert.Equal(t, "priority", c.Spec.Fields[2].Name)

	// retype is rejected
	_, err = r.CollectionUpdate(ctx, projectName, &schema.Collection{
		Name:   collectionName,
		Fields: []schema.Field{{Name: "title", Type: schema.TypeInteger}},
	})
	require.Error(t, err)

	// unknown collection
	updated, err = r.CollectionUpdate(ctx, projectName, &schema.Collection{Name: "missing"})
	require.NoError(t, err)
	require.False(t, updated)
}

func TestRegistryReopen(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	sp, err := state.NewProvider("")
	require.NoError(t, err)

	dir := t.TempDir()

	r, err := NewRegistry(dir, testutil.Logger(t), sp)
	require.NoError(t, err)

	projectName := testutil.ProjectName(t)
	collectionName := testutil.CollectionName(t)

	created, err := r.CollectionCreate(ctx, projectName, taskSpec(collectionName))
	require.NoError(t, err)
	require.True(t, created)

	r.Close()

	r, err = NewRegistry(dir, testutil.Logger(t), sp)
	require.NoError(t, err)
	t.Cleanup(r.Close)

	c := r.CollectionGet(ctx, projectName, collectionName)
	require.NotNil(t, c)
	assert.Equal(t, collectionName, c.Name)
	require.Len(t, c.Spec.Fields, 2)
	assert.Equal(t, schema.TypeString, c.Spec.Fields[0].Type)
	assert.True(t, c.Spec.Fields[0].Required)
}

func TestProjectDrop(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	r, _ := testRegistry(t)

	projectName := testutil.ProjectName(t)

	created, err := r.CollectionCreate(ctx, projectName, taskSpec(testutil.CollectionName(t)))
	require.NoError(t, err)
	require.True(t, created)

	require.True(t, r.ProjectDrop(ctx, projectName))
	require.False(t, r.ProjectDrop(ctx, projectName))

	list, err := r.CollectionList(ctx, projectName)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestCreateSameStress(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	r, _ := testRegistry(t)

	projectName := testutil.ProjectName(t)
	collectionName := testutil.CollectionName(t)

	var createdTotal atomic.Int32

	teststress.Stress(t, func(ready chan<- struct{}, start <-chan struct{}) {
		ready <- struct{}{}
		<-start

		created, err := r.CollectionCreate(ctx, projectName, taskSpec(collectionName))
		require.NoError(t, err)

		if created {
			createdTotal.Add(1)
		}
	})

	require.EqualValues(t, 1, createdTotal.Load())

	list, err := r.CollectionList(ctx, projectName)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestCreateDifferentStress(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	r, _ := testRegistry(t)

	projectName := testutil.ProjectName(t)
	collectionPrefix := testutil.CollectionName(t)

	var i atomic.Int32

	teststress.Stress(t, func(ready chan<- struct{}, start <-chan struct{}) {
		collectionName := fmt.Sprintf("%s_%d", collectionPrefix, i.Add(1))

		ready <- struct{}{}
		<-start

		created, err := r.CollectionCreate(ctx, projectName, taskSpec(collectionName))
		require.NoError(t, err)
		require.True(t, created)

		require.NotNil(t, r.CollectionGet(ctx, projectName, collectionName))
	})

	list, err := r.CollectionList(ctx, projectName)
	require.NoError(t, err)
	require.Len(t, list, int(i.Load()))
}
