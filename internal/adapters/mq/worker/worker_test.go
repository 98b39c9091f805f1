package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	queue "github.com/okian/geofeat/internal/adapters/mq/queue"
	worker "github.com/okian/geofeat/internal/adapters/mq/worker"
	model "github.com/okian/geofeat/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

// mockQueue hands tasks straight to workers.
type mockQueue struct {
	tasks chan queue.Task
	once  sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{tasks: make(chan queue.Task, 64)}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan queue.Task {
	return mq.tasks
}

func (mq *mockQueue) Close() error {
	mq.once.Do(func() { close(mq.tasks) })
	return nil
}

// mockProcessor returns [index] as the vector, failing or panicking on request.
type mockProcessor struct {
	delay  func(i int) time.Duration
	fail   map[int]error
	panics map[int]bool
	calls  atomic.Int64
}

func (mp *mockProcessor) Process(ctx context.Context, t model.Task) (model.FeatureVector, error) {
	mp.calls.Add(1)
	if mp.delay != nil {
		select {
		case <-time.After(mp.delay(t.Index)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if mp.panics[t.Index] {
		panic("boom")
	}
	if err := mp.fail[t.Index]; err != nil {
		return nil, err
	}
	return model.FeatureVector{float64(t.Index)}, nil
}

func submit(q *mockQueue, job *model.Job, n int) {
	for i := 0; i < n; i++ {
		q.tasks <- model.Task{Index: i, Job: job}
	}
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a single worker", t, func() {
		q := newMockQueue()
		proc := &mockProcessor{fail: map[int]error{1: errors.New("tile read")}, panics: map[int]bool{2: true}}
		w := worker.NewInMemoryWorker(q, proc, worker.WithName("w0"))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When a job of four tasks is processed", func() {
			job := model.NewJob(context.Background(), 4)
			submit(q, job, 4)
			convey.So(job.Wait(context.Background()), convey.ShouldBeNil)
			features, errs := job.Results()

			convey.Convey("Then successes land in their slots", func() {
				convey.So(features[0], convey.ShouldResemble, model.FeatureVector{0})
				convey.So(features[3], convey.ShouldResemble, model.FeatureVector{3})
				convey.So(errs[0], convey.ShouldBeNil)
			})

			convey.Convey("Then failures and panics become slot errors", func() {
				convey.So(errs[1], convey.ShouldNotBeNil)
				convey.So(errs[2], convey.ShouldNotBeNil)
				convey.So(errs[2].Error(), convey.ShouldContainSubstring, "panicked")
				convey.So(w.Processed(), convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When the job's request is already cancelled", func() {
			jctx, jcancel := context.WithCancel(context.Background())
			jcancel()
			job := model.NewJob(jctx, 2)
			submit(q, job, 2)

			convey.Convey("Then tasks complete with the context error without processing", func() {
				convey.So(waitDone(job), convey.ShouldBeTrue)
				_, errs := job.Results()
				convey.So(errors.Is(errs[0], context.Canceled), convey.ShouldBeTrue)
				convey.So(proc.calls.Load(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When shut down", func() {
			convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
			convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
		})
	})
}

// waitDone waits on a job whose context may already be cancelled.
func waitDone(job *model.Job) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return job.Wait(ctx) == nil
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a pool of four workers with uneven task latency", t, func() {
		q := newMockQueue()
		proc := &mockProcessor{delay: func(i int) time.Duration {
			// earlier tasks take longer so completion order is reversed
			return time.Duration(20-i) * time.Millisecond
		}}
		pool := worker.NewPool(4, q, proc, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		convey.So(pool.Size(), convey.ShouldEqual, 4)

		convey.Convey("When a job of twenty tasks runs", func() {
			job := model.NewJob(context.Background(), 20)
			submit(q, job, 20)
			convey.So(job.Wait(context.Background()), convey.ShouldBeNil)
			features, _ := job.Results()

			convey.Convey("Then results are index-addressed, not completion-ordered", func() {
				for i, f := range features {
					convey.So(f, convey.ShouldResemble, model.FeatureVector{float64(i)})
				}
				convey.So(pool.Processed(), convey.ShouldEqual, 20)
				convey.So(pool.Busy(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When shut down", func() {
			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)

			convey.Convey("Then the queue is closed and a second stop is harmless", func() {
				_, ok := <-q.tasks
				convey.So(ok, convey.ShouldBeFalse)
				pool.Stop()
			})
		})
	})

	convey.Convey("Given a non-positive worker count", t, func() {
		pool := worker.NewPool(0, newMockQueue(), &mockProcessor{}, nil)
		convey.So(pool.Size(), convey.ShouldEqual, worker.DefaultWorkerCount)
	})
}

func TestWorkerWithRealQueue(t *testing.T) {
	convey.Convey("Given the in-memory queue feeding a pool", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		pool := worker.NewPool(3, q, &mockProcessor{}, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)
		defer pool.Stop()

		convey.Convey("When more tasks than capacity are put", func() {
			job := model.NewJob(context.Background(), 50)
			for i := 0; i < 50; i++ {
				convey.So(q.Put(ctx, model.Task{Index: i, Job: job}), convey.ShouldBeNil)
			}
			convey.So(job.Wait(context.Background()), convey.ShouldBeNil)
			features, errs := job.Results()

			convey.Convey("Then every slot is filled", func() {
				for i := range features {
					convey.So(errs[i], convey.ShouldBeNil)
					convey.So(features[i][0], convey.ShouldEqual, float64(i))
				}
			})
		})
	})
}
