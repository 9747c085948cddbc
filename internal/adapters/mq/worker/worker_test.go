package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	queue "github.com/okian/barometer/internal/adapters/mq/queue"
	worker "github.com/okian/barometer/internal/adapters/mq/worker"
	model "github.com/okian/barometer/internal/domain/model"
	logging "github.com/okian/barometer/pkg/logger"
)

// recorder is a Processor that remembers every batch per assessment and
// fails for assessments listed in fail.
type recorder struct {
	mu      sync.Mutex
	batches map[string][]string
	fail    map[string]error
	active  map[string]int
	overlap bool
}

func newRecorder() *recorder {
	return &recorder{batches: map[string][]string{}, fail: map[string]error{}, active: map[string]int{}}
}

func (r *recorder) Process(_ context.Context, b model.Batch) error {
	r.mu.Lock()
	r.active[b.AssessmentID]++
	if r.active[b.AssessmentID] > 1 {
		r.overlap = true
	}
	err := r.fail[b.AssessmentID]
	r.mu.Unlock()

	time.Sleep(100 * time.Microsecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[b.AssessmentID]--
	if err != nil {
		return err
	}
	r.batches[b.AssessmentID] = append(r.batches[b.AssessmentID], b.ID)
	return nil
}

func (r *recorder) count(assessment string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches[assessment])
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ids := range r.batches {
		n += len(ids)
	}
	return n
}

func batch(id, assessment string) model.Batch {
	return model.Batch{ID: id, AssessmentID: assessment, Responses: []model.Response{{AssessmentID: assessment, RespondentID: "r", ItemID: "q"}}}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	_ = logging.Init()

	convey.Convey("Given a worker on a single partition", t, func() {
		q := queue.NewInMemoryQueue(queue.WithPartitions(1), queue.WithCapacity(16))
		rec := newRecorder()
		w := worker.NewInMemoryWorker(q, 0, rec, worker.WithName("test-worker"))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When batches arrive", func() {
			for i := 0; i < 3; i++ {
				q.Enqueue(ctx, batch(fmt.Sprintf("b%d", i), "a1"))
			}

			convey.Convey("Then each is processed in order", func() {
				convey.So(waitFor(func() bool { return rec.count("a1") == 3 }), convey.ShouldBeTrue)
				rec.mu.Lock()
				convey.So(rec.batches["a1"], convey.ShouldResemble, []string{"b0", "b1", "b2"})
				rec.mu.Unlock()
			})
		})

		convey.Convey("When the processor fails", func() {
			rec.fail["bad"] = errors.New("ledger unavailable")
			q.Enqueue(ctx, batch("b0", "bad"))
			q.Enqueue(ctx, batch("b1", "a1"))

			convey.Convey("Then the worker keeps going", func() {
				convey.So(waitFor(func() bool { return rec.count("a1") == 1 }), convey.ShouldBeTrue)
				convey.So(rec.count("bad"), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When shutting down", func() {
			err := w.Shutdown(context.Background())

			convey.Convey("Then it stops cleanly", func() {
				convey.So(err, convey.ShouldBeNil)
			})
		})
	})

	convey.Convey("Given a worker whose context is cancelled", t, func() {
		q := queue.NewInMemoryQueue(queue.WithPartitions(1))
		w := worker.NewInMemoryWorker(q, 0, newRecorder())
		ctx, cancel := context.WithCancel(context.Background())
		stopped := make(chan struct{})
		go func() {
			w.Run(ctx)
			close(stopped)
		}()
		cancel()

		convey.Convey("Then Run returns", func() {
			select {
			case <-stopped:
				convey.So(true, convey.ShouldBeTrue)
			case <-time.After(time.Second):
				convey.So("worker did not stop", convey.ShouldBeEmpty)
			}
		})
	})
}

func TestPool(t *testing.T) {
	_ = logging.Init()

	convey.Convey("Given a pool over a partitioned queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithPartitions(4), queue.WithCapacity(512))
		rec := newRecorder()
		pool := worker.NewPool(q, rec)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		convey.So(pool.Size(), convey.ShouldEqual, 4)

		convey.Convey("When many assessments submit concurrently", func() {
			assessments := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8"}
			var wg sync.WaitGroup
			for _, a := range assessments {
				wg.Add(1)
				go func(a string) {
					defer wg.Done()
					for i := 0; i < 25; i++ {
						for !q.Enqueue(ctx, batch(fmt.Sprintf("%s-%02d", a, i), a)) {
							time.Sleep(time.Millisecond)
						}
					}
				}(a)
			}
			wg.Wait()

			convey.Convey("Then every batch is processed exactly once", func() {
				convey.So(waitFor(func() bool { return rec.total() == 200 }), convey.ShouldBeTrue)
				convey.So(pool.Processed(), convey.ShouldEqual, 200)
			})

			convey.Convey("Then no assessment ever has two writers at once", func() {
				convey.So(waitFor(func() bool { return rec.total() == 200 }), convey.ShouldBeTrue)
				rec.mu.Lock()
				defer rec.mu.Unlock()
				convey.So(rec.overlap, convey.ShouldBeFalse)
				for _, a := range assessments {
					for i, id := range rec.batches[a] {
						convey.So(id, convey.ShouldEqual, fmt.Sprintf("%s-%02d", a, i))
					}
				}
			})
		})

		convey.Convey("When the pool shuts down with work queued", func() {
			for i := 0; i < 10; i++ {
				q.Enqueue(ctx, batch(fmt.Sprintf("b%d", i), "a1"))
			}
			err := pool.Shutdown(context.Background())

			convey.Convey("Then queued batches are drained and intake is closed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(rec.count("a1"), convey.ShouldEqual, 10)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
				convey.So(q.Enqueue(ctx, batch("late", "a1")), convey.ShouldBeFalse)
			})
		})
	})
}

func TestProcessorFunc(t *testing.T) {
	convey.Convey("Given a function processor", t, func() {
		var got string
		p := worker.ProcessorFunc(func(_ context.Context, b model.Batch) error {
			got = b.ID
			return nil
		})

		convey.Convey("Then Process delegates to it", func() {
			convey.So(p.Process(context.Background(), batch("b9", "a1")), convey.ShouldBeNil)
			convey.So(got, convey.ShouldEqual, "b9")
		})
	})
}

func TestBatchTimeout(t *testing.T) {
	_ = logging.Init()

	convey.Convey("Given a pool with a batch timeout", t, func() {
		q := queue.NewInMemoryQueue(queue.WithPartitions(2), queue.WithCapacity(8))
		deadlines := make(chan bool, 1)
		slow := worker.ProcessorFunc(func(ctx context.Context, _ model.Batch) error {
			_, ok := ctx.Deadline()
			<-ctx.Done()
			deadlines <- ok
			return ctx.Err()
		})
		pool := worker.NewPool(q, slow, worker.WithBatchTimeout(20*time.Millisecond))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		convey.Convey("When a batch outlives it", func() {
			q.Enqueue(ctx, batch("b0", "a1"))

			convey.Convey("Then the processor sees the deadline expire", func() {
				select {
				case ok := <-deadlines:
					convey.So(ok, convey.ShouldBeTrue)
				case <-time.After(time.Second):
					convey.So("batch was never cancelled", convey.ShouldBeEmpty)
				}
			})
		})
	})
}
