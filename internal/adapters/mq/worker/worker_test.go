package worker_test

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/forecast/internal/adapters/mq/queue"
	"github.com/okian/forecast/internal/adapters/mq/worker"
	"github.com/okian/forecast/internal/domain/model"
	logging "github.com/okian/forecast/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logging.Init(logging.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type mockQueue struct {
	ch chan model.ActivityLog
}

func newMockQueue() *mockQueue {
	return &mockQueue{ch: make(chan model.ActivityLog, 10)}
}

func (q *mockQueue) Dequeue(context.Context) <-chan model.ActivityLog { return q.ch }

func (q *mockQueue) Close() error {
	close(q.ch)
	return nil
}

type recordingProcessor struct {
	mu   sync.Mutex
	seen []string
	fail map[string]error
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{fail: make(map[string]error)}
}

func (p *recordingProcessor) Process(_ context.Context, l model.ActivityLog) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.fail[l.ID]; ok {
		return err
	}
	p.seen = append(p.seen, l.ID)
	return nil
}

func (p *recordingProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a running worker", t, func() {
		q := newMockQueue()
		proc := newRecordingProcessor()
		processed := 0
		var mu sync.Mutex
		w := worker.NewInMemoryWorker(q, proc,
			worker.WithName("test-worker"),
			worker.WithOnProcessed(func() { mu.Lock(); processed++; mu.Unlock() }),
		)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("Logs are handed to the processor", func() {
			q.ch <- model.ActivityLog{ID: "l1", UserID: "u", Category: model.CategoryPredictive}
			q.ch <- model.ActivityLog{ID: "l2", UserID: "u", Category: model.CategoryVolume}

			convey.So(waitFor(func() bool { return len(proc.processed()) == 2 }), convey.ShouldBeTrue)
			convey.So(proc.processed(), convey.ShouldResemble, []string{"l1", "l2"})
			mu.Lock()
			convey.So(processed, convey.ShouldEqual, 2)
			mu.Unlock()
		})

		convey.Convey("A failing log does not stop the worker", func() {
			proc.fail["bad"] = errors.New("boom")
			q.ch <- model.ActivityLog{ID: "bad", UserID: "u"}
			q.ch <- model.ActivityLog{ID: "good", UserID: "u"}

			convey.So(waitFor(func() bool { return len(proc.processed()) == 1 }), convey.ShouldBeTrue)
			convey.So(proc.processed()[0], convey.ShouldEqual, "good")
		})

		convey.Convey("Shutdown stops the loop", func() {
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool over a real queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		proc := newRecordingProcessor()
		pool := worker.NewPool(4, q, proc)
		convey.So(pool.Size(), convey.ShouldEqual, 4)

		ctx := context.Background()
		pool.Start(ctx)

		for i := 0; i < 50; i++ {
			convey.So(q.Enqueue(ctx, model.ActivityLog{ID: string(rune('A' + i)), UserID: "u"}), convey.ShouldBeNil)
		}

		convey.Convey("Shutdown drains the queue before returning", func() {
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)
			convey.So(len(proc.processed()), convey.ShouldEqual, 50)
			convey.So(q.IsClosed(), convey.ShouldBeTrue)
		})
	})
}

func TestProcessorFunc(t *testing.T) {
	convey.Convey("ProcessorFunc adapts a function", t, func() {
		var got string
		p := worker.ProcessorFunc(func(_ context.Context, l model.ActivityLog) error {
			got = l.ID
			return nil
		})
		convey.So(p.Process(context.Background(), model.ActivityLog{ID: "x"}), convey.ShouldBeNil)
		convey.So(got, convey.ShouldEqual, "x")
	})
}
