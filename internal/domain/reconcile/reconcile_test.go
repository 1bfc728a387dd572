package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/prefstudy/internal/domain/ledger"
	"github.com/okian/prefstudy/internal/domain/model"
	"github.com/okian/prefstudy/internal/domain/reconcile"
	"github.com/okian/prefstudy/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeStore struct {
	mu        sync.Mutex
	ranked    []model.Item
	rankErr   error
	insertErr error
	inserted  []model.RankingRow
}

func (f *fakeStore) InsertRanking(_ context.Context, row model.RankingRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, row)
	return nil
}

func (f *fakeStore) RankedItems(context.Context) ([]model.Item, error) {
	if f.rankErr != nil {
		return nil, f.rankErr
	}
	return f.ranked, nil
}

func catalog() []model.Item {
	return []model.Item{
		{ID: "a", Filename: "image_10.png"},
		{ID: "b", Filename: "image_2.png"},
		{ID: "c", Filename: "Image_1.png"},
		{ID: "d", Filename: "image_9.png"},
	}
}

func finishedLedger() *ledger.Ledger {
	l := ledger.New()
	l.Seed(catalog())
	// personal order: d, b, a, c
	_ = l.Apply("d", []string{"a", "b", "c"}, 32)
	_ = l.Apply("b", []string{"a", "c"}, 32)
	_ = l.Apply("a", []string{"c"}, 32)
	return l
}

func intp(v int) *int { return &v }

func newReconciler(st reconcile.Store) *reconcile.Reconciler {
	_ = logger.Init()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return reconcile.New(st, reconcile.WithClock(func() time.Time { return fixed }))
}

func TestReconcile(t *testing.T) {
	Convey("Given a finished ledger and a global ranking", t, func() {
		l := finishedLedger()
		store := &fakeStore{ranked: []model.Item{
			{ID: "c", Filename: "image_1.png"}, // case differs from the catalog
			{ID: "a", Filename: "image_10.png"},
			{ID: "d", Filename: "image_9.png"},
			{ID: "b", Filename: "image_2.png"},
		}}
		r := newReconciler(store)

		Convey("When reconciled", func() {
			res := r.Reconcile(context.Background(), "s1", "alice", l)

			Convey("Then rows are ordered by personal rank", func() {
				So(res.Partial, ShouldBeFalse)
				So(res.Rows, ShouldHaveLength, 4)
				names := make([]string, len(res.Rows))
				for i, row := range res.Rows {
					names[i] = row.Filename
					So(row.PersonalRank, ShouldEqual, i+1)
				}
				So(names, ShouldResemble, []string{"image_9.png", "image_2.png", "image_10.png", "Image_1.png"})
			})

			Convey("Then global ranks match case-insensitively and difference is global minus personal", func() {
				want := map[string][2]int{
					"image_9.png":  {3, 2},
					"image_2.png":  {4, 2},
					"image_10.png": {2, -1},
					"Image_1.png":  {1, -3},
				}
				for _, row := range res.Rows {
					So(row.GlobalRank, ShouldNotBeNil)
					So(*row.GlobalRank, ShouldEqual, want[row.Filename][0])
					So(*row.Difference, ShouldEqual, want[row.Filename][1])
				}
			})

			Convey("Then the ranking row uses natural slot order", func() {
				// slots: Image_1, image_2, image_9, image_10
				So(res.Ranking.Ranks, ShouldResemble, []*int{intp(4), intp(2), intp(1), intp(3)})
				So(res.Ranking.Participant, ShouldEqual, "alice")
				So(store.inserted, ShouldHaveLength, 1)
				So(store.inserted[0].Ranks, ShouldResemble, res.Ranking.Ranks)
			})

			Convey("Then a second run yields identical rows", func() {
				again := r.Reconcile(context.Background(), "s1", "alice", l)
				So(again.Rows, ShouldResemble, res.Rows)
				So(again.Ranking, ShouldResemble, res.Ranking)
			})
		})
	})
}

func TestReconcileStoreFailures(t *testing.T) {
	Convey("Given a store whose ranking read fails", t, func() {
		l := finishedLedger()
		store := &fakeStore{rankErr: errors.New("connection refused")}
		r := newReconciler(store)

		Convey("When reconciled", func() {
			res := r.Reconcile(context.Background(), "s1", "alice", l)

			Convey("Then rows are complete on the personal side with null global data", func() {
				So(res.Partial, ShouldBeTrue)
				So(res.Rows, ShouldHaveLength, 4)
				for i, row := range res.Rows {
					So(row.PersonalRank, ShouldEqual, i+1)
					So(row.GlobalRank, ShouldBeNil)
					So(row.Difference, ShouldBeNil)
				}
			})

			Convey("Then the ranking row is still persisted", func() {
				So(store.inserted, ShouldHaveLength, 1)
			})
		})
	})

	Convey("Given a store whose insert fails", t, func() {
		l := finishedLedger()
		store := &fakeStore{
			insertErr: errors.New("timeout"),
			ranked:    catalog(),
		}
		r := newReconciler(store)

		Convey("When reconciled", func() {
			res := r.Reconcile(context.Background(), "s1", "alice", l)

			Convey("Then the comparison still carries global ranks", func() {
				So(res.Partial, ShouldBeTrue)
				for _, row := range res.Rows {
					So(row.GlobalRank, ShouldNotBeNil)
				}
			})
		})
	})

	Convey("Given a global table missing one filename", t, func() {
		l := finishedLedger()
		store := &fakeStore{ranked: []model.Item{
			{ID: "a", Filename: "image_10.png"},
			{ID: "b", Filename: "image_2.png"},
		}}
		r := newReconciler(store)
		res := r.Reconcile(context.Background(), "s1", "alice", l)

		Convey("Then only unmatched rows have null global data", func() {
			for _, row := range res.Rows {
				switch row.Filename {
				case "image_10.png", "image_2.png":
					So(row.GlobalRank, ShouldNotBeNil)
				default:
					So(row.GlobalRank, ShouldBeNil)
				}
			}
		})
	})
}
