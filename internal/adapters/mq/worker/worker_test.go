package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/prefstudy/internal/adapters/mq/queue"
	worker "github.com/okian/prefstudy/internal/adapters/mq/worker"
	model "github.com/okian/prefstudy/internal/domain/model"
	logging "github.com/okian/prefstudy/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	jobs chan queue.Job
}

func newMockQueue() *mockQueue {
	return &mockQueue{jobs: make(chan queue.Job, 10)}
}

func (mq *mockQueue) Dequeue(context.Context) <-chan queue.Job { return mq.jobs }

// mockApplier records applied decisions per session and can fail on chosen
// winners.
type mockApplier struct {
	mu      sync.Mutex
	applied map[string][]int
	fail    map[string]error
	delay   time.Duration
}

func newMockApplier() *mockApplier {
	return &mockApplier{applied: make(map[string][]int), fail: make(map[string]error)}
}

func (m *mockApplier) Apply(_ context.Context, d model.Decision) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fail[d.WinnerID]; ok {
		return err
	}
	m.applied[d.SessionID] = append(m.applied[d.SessionID], d.Sequence)
	return nil
}

func (m *mockApplier) rounds(session string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.applied[session]...)
}

func decision(session string, round int, winner string) model.Decision {
	return model.Decision{SessionID: session, Sequence: round, WinnerID: winner, LoserIDs: []string{"b", "c", "d"}}
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker reading a queue", t, func() {
		_ = logging.Init()

		q := newMockQueue()
		applier := newMockApplier()
		w := worker.NewInMemoryWorker(q, applier, worker.WithName("worker-test"))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When jobs are queued", func() {
			results := make(chan error, 2)
			for r := 1; r <= 2; r++ {
				q.jobs <- queue.Job{Decision: decision("s1", r, "a"), Done: func(err error) { results <- err }}
			}

			convey.Convey("Then each is applied and acknowledged", func() {
				convey.So(<-results, convey.ShouldBeNil)
				convey.So(<-results, convey.ShouldBeNil)
				convey.So(applier.rounds("s1"), convey.ShouldResemble, []int{1, 2})
			})
		})

		convey.Convey("When applying fails", func() {
			applier.fail["bad"] = errors.New("rating store unavailable")
			result := make(chan error, 1)
			q.jobs <- queue.Job{Decision: decision("s1", 1, "bad"), Done: func(err error) { result <- err }}

			convey.Convey("Then the failure is reported through the job", func() {
				err := <-result
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "s1:1")
			})
		})

		convey.Convey("When the queue is closed", func() {
			close(q.jobs)

			convey.Convey("Then the worker stops", func() {
				select {
				case <-w.Done():
				case <-time.After(time.Second):
					t.Fatal("worker did not stop")
				}
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of four workers", t, func() {
		_ = logging.Init()

		applier := newMockApplier()
		applier.delay = time.Millisecond
		pool := worker.NewPool(4, 64, applier)
		ctx := context.Background()
		pool.Start(ctx)

		convey.So(pool.Size(), convey.ShouldEqual, 4)
		convey.So(pool.Cap(), convey.ShouldEqual, 256)

		convey.Convey("When many sessions submit interleaved decisions", func() {
			const sessions, rounds = 8, 20
			var wg sync.WaitGroup
			for s := 0; s < sessions; s++ {
				wg.Add(1)
				go func(s int) {
					defer wg.Done()
					id := fmt.Sprintf("session-%d", s)
					for r := 1; r <= rounds; r++ {
						for !pool.Submit(ctx, queue.Job{Decision: decision(id, r, "a")}) {
							time.Sleep(time.Millisecond)
						}
					}
				}(s)
			}
			wg.Wait()
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)

			convey.Convey("Then every session's decisions are applied in event order", func() {
				want := make([]int, rounds)
				for i := range want {
					want[i] = i + 1
				}
				for s := 0; s < sessions; s++ {
					convey.So(applier.rounds(fmt.Sprintf("session-%d", s)), convey.ShouldResemble, want)
				}
			})
		})

		convey.Convey("When shut down", func() {
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)

			convey.Convey("Then further submissions are refused", func() {
				convey.So(pool.Submit(ctx, queue.Job{Decision: decision("s", 1, "a")}), convey.ShouldBeFalse)
				convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)
			})
		})
	})
}

func TestPoolBackpressure(t *testing.T) {
	convey.Convey("Given a pool whose single worker is blocked", t, func() {
		_ = logging.Init()

		release := make(chan struct{})
		blocking := &blockingApplier{release: release}
		pool := worker.NewPool(1, 1, blocking)
		ctx := context.Background()
		pool.Start(ctx)

		convey.Convey("When more jobs arrive than the queue holds", func() {
			accepted := 0
			for r := 1; r <= 5; r++ {
				if pool.Submit(ctx, queue.Job{Decision: decision("s1", r, "a")}) {
					accepted++
				}
			}
			close(release)
			_ = pool.Shutdown(ctx)

			convey.Convey("Then the overflow is rejected", func() {
				convey.So(accepted, convey.ShouldBeLessThan, 5)
				convey.So(accepted, convey.ShouldBeGreaterThanOrEqualTo, 1)
			})
		})
	})
}

type blockingApplier struct {
	release chan struct{}
}

func (b *blockingApplier) Apply(ctx context.Context, _ model.Decision) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}
