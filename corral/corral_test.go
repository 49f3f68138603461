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

package corral_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corraldb/corral/corral"
	"github.com/corraldb/corral/internal/util/testutil"
)

func Example() {
	dir, err := os.MkdirTemp("", "corral-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	c, err := corral.New(&corral.Config{Dir: dir})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()

	p, err := c.Project("demo")
	if err != nil {
		log.Fatal(err)
	}

	err = p.CreateCollection(ctx, &corral.CreateCollectionParams{
		Collection: &corral.CollectionSchema{
			Name: "tasks",
			Fields: []corral.Field{
				{Name: "title", Type: corral.TypeString, Required: true},
			},
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	coll, err := p.Collection("tasks")
	if err != nil {
		log.Fatal(err)
	}

	res, err := coll.InsertOne(ctx, &corral.InsertOneParams{
		Data: map[string]any{"title": "hello"},
	})
	if err != nil {
		log.Fatal(err)
	}

	got, err := coll.Get(ctx, &corral.GetParams{ID: res.Document.ID})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(got.Document.Data["title"])

	// Output: hello
}

func TestEmbedded(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	c, err := corral.New(&corral.Config{
		Dir:    t.TempDir(),
		Logger: testutil.Logger(t),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	p, err := c.Project(testutil.ProjectName(t))
	require.NoError(t, err)

	err = p.CreateCollection(ctx, &corral.CreateCollectionParams{
		Collection: &corral.CollectionSchema{
			Name: "notes",
			Fields: []corral.Field{
				{Name: "body", Type: corral.TypeText, Required: true},
			},
		},
	})
	require.NoError(t, err)

	coll, err := p.Collection("notes")
	require.NoError(t, err)

	_, err = coll.InsertOne(ctx, &corral.InsertOneParams{Data: map[string]any{}})
	assert.True(t, corral.ErrorCodeIs(err, corral.ErrorCodeDocumentIsInvalid))

	res, err := coll.InsertOne(ctx, &corral.InsertOneParams{
		Data: map[string]any{"body": "embedded engines need no server"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Document.ID)

	projects, err := c.Backend().ListProjects(ctx, new(corral.ListProjectsParams))
	require.NoError(t, err)
	require.Len(t, projects.Projects, 1)
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	_, err := corral.New(&corral.Config{})
	assert.EqualError(t, err, "Dir is empty")
}
