// Package queue defines the contract for enqueuing and consuming response
// batches.
//
// The in-memory implementation is partitioned: every assessment id hashes
// to exactly one partition, and each partition is drained by exactly one
// consumer, so appends for an assessment always come from a single writer.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultPartitions = 8
	defaultCapacity   = 1024 // per partition
)

// Batch represents the payload type flowing through the queue.
type Batch = model.Batch

// Queue provides non-blocking enqueue and per-partition channel dequeue.
type Queue interface {
	// Enqueue routes a batch to the partition of its assessment.
	// Returns false if that partition is full or the queue is closed.
	Enqueue(ctx context.Context, b Batch) bool

	// Dequeue returns the channel of one partition. The channel is closed
	// when the queue is closed and the partition drained.
	Dequeue(ctx context.Context, partition int) <-chan Batch

	// Partitions returns the number of partitions.
	Partitions() int

	// Len returns the current number of queued batches across partitions.
	Len(ctx context.Context) int

	// Close stops intake. Batches already queued are still delivered.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue with one buffered channel per partition.
type InMemoryQueue struct {
	parts      []chan Batch
	partitions int
	capacity   int
	mu         sync.RWMutex
	closed     bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		partitions: defaultPartitions,
		capacity:   defaultCapacity,
	}

	for _, opt := range opts {
		opt(q)
	}

	q.parts = make([]chan Batch, q.partitions)
	for i := range q.parts {
		q.parts[i] = make(chan Batch, q.capacity)
	}

	metrics.UpdateQueuePartitions(q.partitions)
	metrics.UpdateQueueCapacity(q.partitions * q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// Partition returns the partition index of an assessment id.
func Partition(assessmentID string, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(assessmentID) % uint64(partitions))
}

// Partitions returns the number of partitions.
func (q *InMemoryQueue) Partitions() int { return q.partitions }

// Enqueue adds a batch to its assessment's partition.
func (q *InMemoryQueue) Enqueue(ctx context.Context, b Batch) bool { //nolint:gocritic // hugeParam: Batch is passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordQueueProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	part := q.parts[Partition(b.AssessmentID, q.partitions)]
	select {
	case part <- b:
		metrics.RecordQueueEnqueue()
		q.updateGauges()
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "partition_full")
		return false
	}
}

// Dequeue returns a channel that receives the batches of one partition.
func (q *InMemoryQueue) Dequeue(ctx context.Context, partition int) <-chan Batch {
	out := make(chan Batch)
	if partition < 0 || partition >= q.partitions {
		close(out)
		return out
	}
	go func() {
		defer close(out)
		for b := range q.parts[partition] {
			select {
			case out <- b:
				metrics.RecordQueueDequeue()
				q.updateGauges()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued batches.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return q.updateGauges()
}

func (q *InMemoryQueue) updateGauges() int {
	size := 0
	for _, p := range q.parts {
		size += len(p)
	}
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.partitions*q.capacity))
	return size
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	for _, p := range q.parts {
		close(p)
	}
	q.closed = true

	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
