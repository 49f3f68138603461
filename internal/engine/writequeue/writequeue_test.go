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

package writequeue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corraldb/corral/internal/util/testutil"
	"github.com/corraldb/corral/internal/util/teststress"
)

// runQueue starts the worker and stops it on test cleanup.
func runQueue(tb testing.TB, q *Queue) {
	tb.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		q.Run(ctx)
		close(done)
	}()

	tb.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestOrder(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	q := New(100, testutil.Logger(t))
	runQueue(t, q)

	var order []int
	for i := 0; i < 10; i++ {
		i := i

		res, err := q.Enqueue(ctx, &Op{
			Kind: "insert",
			Func: func(context.Context) (any, error) {
				order = append(order, i)
				return i, nil
			},
		})
		require.NoError(t, err)
		assert.Equal(t, i, res)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
	assert.EqualValues(t, 10, q.Metrics().TotalProcessed)
}

func TestCapacity(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	q := New(2, testutil.Logger(t))
	runQueue(t, q)

	release := make(chan struct{})
	firstDone := make(chan struct{})

	go func() {
		defer close(firstDone)

		_, err := q.Enqueue(ctx, &Op{
			Kind: "insert",
			Func: func(context.Context) (any, error) {
				<-release
				return nil, nil
			},
		})
		assert.NoError(t, err)
	}()

	// wait for the first op to occupy the worker
	require.Eventually(t, func() bool { return !q.Quiesced() }, time.Second, time.Millisecond)

	secondDone := make(chan struct{})

	go func() {
		defer close(secondDone)

		_, err := q.Enqueue(ctx, &Op{
			Kind: "insert",
			Func: func(context.Context) (any, error) { return nil, nil },
		})
		assert.NoError(t, err)
	}()

	// wait for the second op to be queued
	require.Eventually(t, func() bool { return q.Metrics().QueueSize >= 1 }, time.Second, time.Millisecond)

	// processing + queued == capacity; the third op is rejected without blocking
	_, err := q.Enqueue(ctx, &Op{
		Kind: "insert",
		Func: func(context.Context) (any, error) { return nil, nil },
	})
	require.ErrorIs(t, err, ErrFull)

	close(release)
	<-firstDone
	<-secondDone
}

func TestBurst(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	capacity := 5
	q := New(capacity, testutil.Logger(t))
	runQueue(t, q)

	release := make(chan struct{})
	blocker := make(chan struct{})

	go func() {
		_, _ = q.Enqueue(ctx, &Op{
			Kind: "insert",
			Func: func(context.Context) (any, error) {
				close(blocker)
				<-release
				return nil, nil
			},
		})
	}()

	<-blocker

	// a burst much larger than the remaining capacity
	var wg sync.WaitGroup
	var accepted, rejected atomic.Int64

	burst := 50
	for i := 0; i < burst; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := q.Enqueue(ctx, &Op{
				Kind: "insert",
				Func: func(context.Context) (any, error) { return nil, nil },
			})

			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrFull):
				rejected.Add(1)
			default:
				assert.Fail(t, "unexpected error", "%v", err)
			}
		}()
	}

	close(release)
	wg.Wait()

	assert.GreaterOrEqual(t, rejected.Load(), int64(burst-capacity))
	assert.Equal(t, int64(burst), accepted.Load()+rejected.Load())

	m := q.Metrics()
	assert.EqualValues(t, 0, m.QueueSize)
	assert.Equal(t, accepted.Load()+1, m.TotalProcessed)
}

func TestFailureDoesNotHaltWorker(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	q := New(10, testutil.Logger(t))
	runQueue(t, q)

	expected := errors.New("boom")

	_, err := q.Enqueue(ctx, &Op{
		Kind: "insert",
		Func: func(context.Context) (any, error) { return nil, expected },
	})
	require.ErrorIs(t, err, expected)

	_, err = q.Enqueue(ctx, &Op{
		Kind: "insert",
		Func: func(context.Context) (any, error) { return nil, nil },
	})
	require.NoError(t, err)

	m := q.Metrics()
	assert.EqualValues(t, 2, m.TotalProcessed)
	assert.EqualValues(t, 1, m.TotalErrors)
}

func TestPanicRecovered(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	q := New(10, testutil.Logger(t))
	runQueue(t, q)

	_, err := q.Enqueue(ctx, &Op{
		Kind: "insert",
		Func: func(context.Context) (any, error) { panic("unexpected") },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation panicked")

	_, err = q.Enqueue(ctx, &Op{
		Kind: "insert",
		Func: func(context.Context) (any, error) { return "ok", nil },
	})
	require.NoError(t, err)
}

func TestAbandonedWaitStillApplies(t *testing.T) {
	t.Parallel()

	q := New(10, testutil.Logger(t))
	runQueue(t, q)

	release := make(chan struct{})
	applied := make(chan struct{})

	go func() {
		_, _ = q.Enqueue(testutil.Ctx(t), &Op{
			Kind: "insert",
			Func: func(context.Context) (any, error) {
				<-release
				return nil, nil
			},
		})
	}()

	require.Eventually(t, func() bool { return !q.Quiesced() }, time.Second, time.Millisecond)

	callerCtx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Enqueue(callerCtx, &Op{
		Kind: "insert",
		Func: func(context.Context) (any, error) {
			close(applied)
			return nil, nil
		},
	})
	require.ErrorIs(t, err, context.Canceled)

	close(release)

	select {
	case <-applied:
	case <-time.After(time.Second):
		t.Fatal("abandoned operation was not applied")
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	t.Parallel()

	q := New(10, testutil.Logger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		q.Run(ctx)
		close(done)
	}()

	_, err := q.Enqueue(testutil.Ctx(t), &Op{
		Kind: "insert",
		Func: func(context.Context) (any, error) { return nil, nil },
	})
	require.NoError(t, err)

	cancel()
	<-done

	// the worker is gone; the caller must not wait for it
	start := time.Now()

	_, err = q.Enqueue(context.Background(), &Op{
		Kind: "insert",
		Func: func(context.Context) (any, error) { return nil, nil },
	})
	require.ErrorIs(t, err, ErrStopped)
	assert.Less(t, time.Since(start), time.Second)

	assert.EqualValues(t, 0, q.Metrics().QueueSize)
}

func TestRecentItems(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	q := New(10, testutil.Logger(t))
	runQueue(t, q)

	_, err := q.Enqueue(ctx, &Op{
		Kind:       "insert",
		Project:    "acme",
		Collection: "tasks",
		Func:       func(context.Context) (any, error) { return nil, nil },
	})
	require.NoError(t, err)

	_, _ = q.Enqueue(ctx, &Op{
		Kind:       "delete",
		Project:    "acme",
		Collection: "tasks",
		Func:       func(context.Context) (any, error) { return nil, errors.New("nope") },
	})

	items := q.Metrics().QueueItems
	require.Len(t, items, 2)

	assert.Equal(t, "insert", items[0].Kind)
	assert.False(t, items[0].Failed)
	assert.Equal(t, "delete", items[1].Kind)
	assert.True(t, items[1].Failed)
	assert.Equal(t, "nope", items[1].Error)
	assert.False(t, items[1].Completed.Before(items[1].Started))
}

func TestStress(t *testing.T) {
	t.Parallel()

	q := New(DefaultCapacity, testutil.Logger(t))
	runQueue(t, q)

	var inFlight atomic.Int32
	var overlaps atomic.Int32
	var applied atomic.Int64

	n := 20
	teststress.StressN(t, n, func(ready chan<- struct{}, start <-chan struct{}) {
		ctx := testutil.Ctx(t)

		ready <- struct{}{}
		<-start

		for i := 0; i < 10; i++ {
			_, err := q.Enqueue(ctx, &Op{
				Kind: "insert",
				Func: func(context.Context) (any, error) {
					if inFlight.Add(1) > 1 {
						overlaps.Add(1)
					}

					applied.Add(1)
					inFlight.Add(-1)

					return nil, nil
				},
			})
			assert.NoError(t, err)
		}
	})

	assert.Zero(t, overlaps.Load(), "operations were applied concurrently")
	assert.EqualValues(t, int64(n*10), applied.Load())
	assert.EqualValues(t, int64(n*10), q.Metrics().TotalProcessed)
}
