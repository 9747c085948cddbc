package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/barometer/internal/domain/model"
)

func batch(id, assessment string) model.Batch {
	return model.Batch{
		ID:           id,
		AssessmentID: assessment,
		Responses:    []model.Response{{AssessmentID: assessment, RespondentID: "r1", ItemID: "q1", Value: 3}},
	}
}

func TestPartition_Stable(t *testing.T) {
	for _, id := range []string{"a1", "a2", "assessment-2026-q1", ""} {
		p := Partition(id, 8)
		if p < 0 || p >= 8 {
			t.Fatalf("partition %d out of range for %q", p, id)
		}
		if again := Partition(id, 8); again != p {
			t.Errorf("partition of %q changed from %d to %d", id, p, again)
		}
	}
	if p := Partition("anything", 1); p != 0 {
		t.Errorf("single partition must be 0, got %d", p)
	}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2), WithPartitions(4))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if q.Partitions() != 4 {
		t.Errorf("expected 4 partitions, got %d", q.Partitions())
	}

	if !q.Enqueue(ctx, batch("b1", "a1")) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx, Partition("a1", 4))
	if got.ID != "b1" {
		t.Errorf("expected b1, got %v", got.ID)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_PartitionCapacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2), WithPartitions(1))
	ctx := context.Background()

	if !q.Enqueue(ctx, batch("b1", "a1")) || !q.Enqueue(ctx, batch("b2", "a1")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, batch("b3", "a1")) {
		t.Error("expected enqueue to fail when the partition is full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_SingleWriterOrder(t *testing.T) {
	const partitions = 4
	q := NewInMemoryQueue(WithCapacity(1000), WithPartitions(partitions))
	ctx := context.Background()
	assessments := []string{"a1", "a2", "a3", "a4", "a5", "a6"}
	perAssessment := 50

	for i := 0; i < perAssessment; i++ {
		for _, a := range assessments {
			if !q.Enqueue(ctx, batch(fmt.Sprintf("%s-%03d", a, i), a)) {
				t.Fatalf("enqueue %s %d failed", a, i)
			}
		}
	}
	_ = q.Close()

	var (
		mu   sync.Mutex
		seen = map[string][]string{}
		wg   sync.WaitGroup
	)
	for p := 0; p < partitions; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for b := range q.Dequeue(ctx, p) {
				if Partition(b.AssessmentID, partitions) != p {
					t.Errorf("batch %s delivered on partition %d", b.ID, p)
				}
				mu.Lock()
				seen[b.AssessmentID] = append(seen[b.AssessmentID], b.ID)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	for _, a := range assessments {
		ids := seen[a]
		if len(ids) != perAssessment {
			t.Fatalf("assessment %s: expected %d batches, got %d", a, perAssessment, len(ids))
		}
		for i, id := range ids {
			if want := fmt.Sprintf("%s-%03d", a, i); id != want {
				t.Errorf("assessment %s out of order at %d: got %s want %s", a, i, id, want)
			}
		}
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10), WithPartitions(1))
	ctx := context.Background()

	if !q.Enqueue(ctx, batch("b1", "a1")) || !q.Enqueue(ctx, batch("b2", "a2")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, batch("b3", "a1")) {
		t.Error("expected enqueue to fail after closing")
	}

	// Queued batches are still delivered, then the channel closes.
	ch := q.Dequeue(ctx, 0)
	delivered := 0
	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if delivered != 2 {
					t.Errorf("expected 2 drained batches, got %d", delivered)
				}
				if err := q.Close(); err != nil {
					t.Errorf("expected second close to succeed, got error: %v", err)
				}
				return
			}
			delivered++
		case <-timeout:
			t.Fatal("expected dequeue channel to be closed within timeout")
		}
	}
}

func TestInMemoryQueue_InvalidPartition(t *testing.T) {
	q := NewInMemoryQueue(WithPartitions(2))
	if _, ok := <-q.Dequeue(context.Background(), 5); ok {
		t.Error("expected a closed channel for an unknown partition")
	}
}
