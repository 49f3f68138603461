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

// Package writequeue provides the bounded FIFO queue that serializes all mutations.
//
// A single worker goroutine applies operations one at a time, so the write
// database handle is never used concurrently. Admission is synchronous:
// when queued plus processing operations would exceed capacity,
// Enqueue fails fast with ErrFull instead of blocking the producer.
package writequeue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/corraldb/corral/internal/util/lazyerrors"
	"github.com/corraldb/corral/internal/util/resource"
)

// DefaultCapacity is the default queue capacity.
const DefaultCapacity = 5000

// recentItems is the size of the completed items window kept for reporting.
const recentItems = 64

// ErrFull is returned by Enqueue when the queue is at capacity.
var ErrFull = errors.New("write queue is full")

// ErrStopped is returned by Enqueue after the worker has stopped.
var ErrStopped = errors.New("write queue is stopped")

// Op is a single mutation to be applied by the worker.
type Op struct {
	// Func applies the mutation. It runs on the worker goroutine
	// with the worker's context, not the producer's.
	Func func(context.Context) (any, error)

	Kind       string // "insert", "update", "delete", "bulk", "schema"
	Project    string
	Collection string
}

// item is an Op in flight.
type item struct {
	op        *Op
	enqueued  time.Time
	started   time.Time
	completed time.Time
	res       any
	err       error
	done      chan struct{}
}

// ItemInfo describes a completed operation for reporting.
type ItemInfo struct {
	Enqueued   time.Time
	Started    time.Time
	Completed  time.Time
	Kind       string
	Project    string
	Collection string
	Error      string
	Failed     bool
}

// Queue serializes mutations through a single worker.
//
// Producers call Enqueue and suspend on the operation's done channel.
// A caller abandoning the wait (context cancellation) does not cancel the
// operation; it is still applied in order.
type Queue struct {
	l     *zap.Logger
	ch    chan *item
	token *resource.Token

	capacity   int64
	size       atomic.Int64 // queued + processing
	processing atomic.Int64 // 0 or 1
	stopped    atomic.Bool  // set before the final drain

	totalProcessed atomic.Int64
	totalErrors    atomic.Int64
	waitNanos      atomic.Int64
	processNanos   atomic.Int64

	rw     sync.RWMutex
	recent []ItemInfo // oldest first, at most recentItems
}

// New creates a queue with the given capacity.
// If capacity is not positive, DefaultCapacity is used.
//
// Run must be called for operations to be applied.
func New(capacity int, l *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	q := &Queue{
		l:        l,
		ch:       make(chan *item, capacity),
		capacity: int64(capacity),
		token:    resource.NewToken(),
	}
	resource.Track(q, q.token)

	return q
}

// Run applies operations until ctx is canceled, then resolves
// the remaining queued operations with ctx's error and returns.
//
// It must be called exactly once, in its own goroutine.
func (q *Queue) Run(ctx context.Context) {
	defer resource.Untrack(q, q.token)

	for {
		select {
		case <-ctx.Done():
			q.stopped.Store(true)
			q.drain(ctx.Err())
			return

		case it := <-q.ch:
			q.process(ctx, it)
		}
	}
}

// drain resolves all still-queued items with the given error.
func (q *Queue) drain(err error) {
	for {
		select {
		case it := <-q.ch:
			it.err = lazyerrors.Error(err)
			it.completed = time.Now()
			q.size.Add(-1)
			q.totalErrors.Add(1)
			close(it.done)

		default:
			return
		}
	}
}

// process applies a single item and resolves its waiter.
//
// A panic in the operation resolves the waiter with an opaque error;
// the worker keeps running.
func (q *Queue) process(ctx context.Context, it *item) {
	q.processing.Store(1)
	it.started = time.Now()

	func() {
		defer func() {
			if p := recover(); p != nil {
				it.err = lazyerrors.Errorf("operation panicked: %v", p)
				q.l.Error("Operation panicked.", zap.Any("panic", p), zap.String("kind", it.op.Kind))
			}
		}()

		it.res, it.err = it.op.Func(ctx)
	}()

	it.completed = time.Now()

	q.processing.Store(0)
	q.size.Add(-1)
	q.totalProcessed.Add(1)
	q.waitNanos.Add(it.started.Sub(it.enqueued).Nanoseconds())
	q.processNanos.Add(it.completed.Sub(it.started).Nanoseconds())

	if it.err != nil {
		q.totalErrors.Add(1)
	}

	q.record(it)

	close(it.done)
}

// record appends the item to the recent completions window.
func (q *Queue) record(it *item) {
	info := ItemInfo{
		Enqueued:   it.enqueued,
		Started:    it.started,
		Completed:  it.completed,
		Kind:       it.op.Kind,
		Project:    it.op.Project,
		Collection: it.op.Collection,
	}
	if it.err != nil {
		info.Failed = true
		info.Error = it.err.Error()
	}

	q.rw.Lock()
	defer q.rw.Unlock()

	q.recent = append(q.recent, info)
	if len(q.recent) > recentItems {
		q.recent = q.recent[len(q.recent)-recentItems:]
	}
}

// Enqueue admits the operation and waits for its result.
//
// It returns ErrFull immediately when the queue is at capacity,
// and ErrStopped once the worker has stopped.
// If ctx is canceled while waiting, Enqueue returns ctx's error,
// but the operation is still applied; there is no way to withdraw it.
func (q *Queue) Enqueue(ctx context.Context, op *Op) (any, error) {
	if q.stopped.Load() {
		return nil, ErrStopped
	}

	if q.size.Add(1) > q.capacity {
		q.size.Add(-1)
		return nil, ErrFull
	}

	it := &item{
		op:       op,
		enqueued: time.Now(),
		done:     make(chan struct{}),
	}

	// the channel has room: size accounting above bounds it
	q.ch <- it

	// the worker could have stopped between the check above and the send;
	// its final drain may already be over, so resolve stragglers here
	if q.stopped.Load() {
		q.drain(ErrStopped)
	}

	select {
	case <-it.done:
		return it.res, it.err

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Quiesced reports whether no operation is currently being applied.
//
// It says nothing about queued operations; combine with Metrics().QueueSize
// for a fully idle check.
func (q *Queue) Quiesced() bool {
	return q.processing.Load() == 0
}

// Metrics is a point-in-time snapshot of queue counters.
//
// Counters are cumulative since the queue was created; they reset only on restart.
type Metrics struct {
	AverageWaitTime    time.Duration
	AverageProcessTime time.Duration
	QueueItems         []ItemInfo
	QueueSize          int64
	Capacity           int64
	ProcessingCount    int64
	TotalProcessed     int64
	TotalErrors        int64
}

// Metrics returns a snapshot of queue counters and the recent completions window.
func (q *Queue) Metrics() *Metrics {
	processing := q.processing.Load()

	m := &Metrics{
		QueueSize:       q.size.Load() - processing,
		Capacity:        q.capacity,
		ProcessingCount: processing,
		TotalProcessed:  q.totalProcessed.Load(),
		TotalErrors:     q.totalErrors.Load(),
	}

	if m.QueueSize < 0 {
		m.QueueSize = 0
	}

	if m.TotalProcessed > 0 {
		m.AverageWaitTime = time.Duration(q.waitNanos.Load() / m.TotalProcessed)
		m.AverageProcessTime = time.Duration(q.processNanos.Load() / m.TotalProcessed)
	}

	q.rw.RLock()
	defer q.rw.RUnlock()

	m.QueueItems = make([]ItemInfo, len(q.recent))
	copy(m.QueueItems, q.recent)

	return m
}
