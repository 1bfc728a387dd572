package natsort_test

import (
	"testing"

	"github.com/okian/prefstudy/internal/domain/natsort"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSort(t *testing.T) {
	Convey("Given numbered filenames", t, func() {
		names := []string{"image_1", "image_2", "image_10", "image_9"}

		Convey("When sorted naturally", func() {
			natsort.Sort(names)

			Convey("Then numbers compare by value", func() {
				So(names, ShouldResemble, []string{"image_1", "image_2", "image_9", "image_10"})
			})
		})
	})

	Convey("Given names differing only by case", t, func() {
		names := []string{"B.png", "a.png", "C.png"}
		natsort.Sort(names)

		Convey("Then text compares case-insensitively", func() {
			So(names, ShouldResemble, []string{"a.png", "B.png", "C.png"})
		})
	})

	Convey("Given names whose keys are equal", t, func() {
		names := []string{"IMG_01.png", "img_1.png", "Img_001.png"}
		natsort.Sort(names)

		Convey("Then their input order is kept", func() {
			So(names, ShouldResemble, []string{"IMG_01.png", "img_1.png", "Img_001.png"})
		})
	})
}

func TestCompare(t *testing.T) {
	Convey("Given pairs of names", t, func() {
		cases := []struct {
			a, b string
			want int
		}{
			{"image_2.png", "image_10.png", -1},
			{"image_10.png", "image_2.png", 1},
			{"photo.png", "photo.png", 0},
			{"a", "a1", -1},                 // shorter key first
			{"1a", "a", -1},                 // empty text run before "a"
			{"x99999999999999999999", "x100000000000000000000", -1},
			{"x007", "x7", 0},
			{"Z", "a", 1},
		}

		Convey("Then each compares as expected", func() {
			for _, c := range cases {
				So(natsort.Compare(c.a, c.b), ShouldEqual, c.want)
				So(natsort.Less(c.a, c.b), ShouldEqual, c.want < 0)
			}
		})
	})
}
