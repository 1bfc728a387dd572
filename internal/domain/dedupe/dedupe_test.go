package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/okian/prefstudy/internal/domain/dedupe"
	"github.com/okian/prefstudy/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a deduper with default options", t, func() {
		d := dedupe.NewInMemoryDeduper()
		key := model.DecisionKey("session-1", 1)

		Convey("When a round is recorded for the first time", func() {
			seen := d.SeenAndRecord(ctx, key)

			Convey("Then it is new", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the same round is submitted again", func() {
			d.SeenAndRecord(ctx, key)
			seen := d.SeenAndRecord(ctx, key)

			Convey("Then it is reported as seen", func() {
				So(seen, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the same round of another session is submitted", func() {
			d.SeenAndRecord(ctx, key)
			seen := d.SeenAndRecord(ctx, model.DecisionKey("session-2", 1))

			Convey("Then it is new", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 2)
			})
		})

		Convey("When a recorded round is unrecorded", func() {
			d.SeenAndRecord(ctx, key)
			d.Unrecord(ctx, key)

			Convey("Then it can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, key), ShouldBeFalse)
			})
		})

		Convey("When an unknown key is unrecorded", func() {
			d.Unrecord(ctx, "missing")

			Convey("Then nothing changes", func() {
				So(d.Size(), ShouldEqual, 0)
			})
		})
	})
}

func TestBoundedEviction(t *testing.T) {
	ctx := context.Background()

	Convey("Given a deduper bounded to three keys", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		for i := 1; i <= 4; i++ {
			So(d.SeenAndRecord(ctx, fmt.Sprintf("k%d", i)), ShouldBeFalse)
		}

		Convey("Then the size stays at the bound", func() {
			So(d.Size(), ShouldEqual, 3)
		})

		Convey("Then the oldest key was evicted", func() {
			So(d.SeenAndRecord(ctx, "k1"), ShouldBeFalse)
		})

		Convey("Then the newest keys are still remembered", func() {
			So(d.SeenAndRecord(ctx, "k4"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "k3"), ShouldBeTrue)
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		for i := 0; i < 1000; i++ {
			d.SeenAndRecord(ctx, fmt.Sprintf("k%d", i))
		}

		Convey("Then nothing is evicted", func() {
			So(d.Size(), ShouldEqual, 1000)
			So(d.SeenAndRecord(ctx, "k0"), ShouldBeTrue)
		})
	})
}

func TestConcurrentSubmissions(t *testing.T) {
	Convey("Given many goroutines submitting the same round", t, func() {
		d := dedupe.NewInMemoryDeduper()
		var fresh atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !d.SeenAndRecord(context.Background(), "s:7") {
					fresh.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one is accepted", func() {
			So(fresh.Load(), ShouldEqual, 1)
		})
	})
}
