package catalog_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/lunchvote/internal/domain/catalog"
	"github.com/okian/lunchvote/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func ids(options []model.Option) []int {
	out := make([]int, len(options))
	for i, o := range options {
		out[i] = o.ID
	}
	return out
}

func sampleOptions(n int) []model.Option {
	out := make([]model.Option, n)
	for i := range out {
		out[i] = model.Option{ID: i + 1, Name: "option", PriceTier: i%4 + 1}
	}
	return out
}

func TestOrder(t *testing.T) {
	Convey("Given a catalog of options", t, func() {
		options := sampleOptions(10)

		Convey("When ordering twice with the same seed", func() {
			first := catalog.Order(1_700_000_000_000, options)
			second := catalog.Order(1_700_000_000_000, options)

			Convey("Then both orders are identical", func() {
				So(ids(first), ShouldResemble, ids(second))
			})

			Convey("And the result is a permutation of the input", func() {
				So(ids(first), ShouldHaveLength, 10)
				So(ids(first), ShouldContain, 1)
				So(ids(first), ShouldContain, 10)
			})

			Convey("And the input is not mutated", func() {
				So(ids(options), ShouldResemble, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
			})
		})

		Convey("When ordering across many seeds", func() {
			distinct := map[string]bool{}
			for day := int64(0); day < 30; day++ {
				order := catalog.Order(day*86_400_000, options)
				distinct[formatIDs(ids(order))] = true
			}

			Convey("Then the order changes from day to day", func() {
				So(len(distinct), ShouldBeGreaterThan, 1)
			})
		})

		Convey("When the catalog is empty", func() {
			Convey("Then the order is empty", func() {
				So(catalog.Order(42, nil), ShouldBeEmpty)
			})
		})
	})
}

func formatIDs(xs []int) string {
	b := make([]byte, 0, len(xs)*3)
	for _, x := range xs {
		b = append(b, byte('a'+x))
	}
	return string(b)
}

func TestStartOfDay(t *testing.T) {
	Convey("Given the reference timezone", t, func() {
		loc, err := catalog.LoadLocation("")
		So(err, ShouldBeNil)
		So(loc.String(), ShouldEqual, catalog.DefaultTimezone)

		Convey("When an instant is late in the evening in New York", func() {
			// 2024-03-05 23:30 EST is already 2024-03-06 in UTC.
			instant := time.Date(2024, 3, 6, 4, 30, 0, 0, time.UTC)
			start := catalog.StartOfDay(instant, loc)

			Convey("Then the boundary is New York midnight of March 5th", func() {
				So(start.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, loc)), ShouldBeTrue)
				So(start.Equal(time.Date(2024, 3, 5, 5, 0, 0, 0, time.UTC)), ShouldBeTrue)
			})

			Convey("And every instant of that day shares the seed", func() {
				morning := time.Date(2024, 3, 5, 8, 0, 0, 0, loc)
				So(catalog.Seed(catalog.StartOfDay(morning, loc)), ShouldEqual, catalog.Seed(start))
			})
		})
	})

	Convey("Given an unknown timezone", t, func() {
		_, err := catalog.LoadLocation("Mars/Olympus_Mons")

		Convey("Then loading fails with ErrInvalidTimezone", func() {
			So(errors.Is(err, catalog.ErrInvalidTimezone), ShouldBeTrue)
		})
	})
}

func TestCatalog(t *testing.T) {
	Convey("Given the default options", t, func() {
		Convey("When building a catalog with a price filter", func() {
			cat, err := catalog.New(catalog.DefaultOptions, catalog.WithFilter("price <= 2"))

			Convey("Then only cheap options remain", func() {
				So(err, ShouldBeNil)
				So(cat.Len(), ShouldEqual, 2)
				_, ok := cat.Lookup(3)
				So(ok, ShouldBeFalse)
				o, ok := cat.Lookup(1)
				So(ok, ShouldBeTrue)
				So(o.Name, ShouldEqual, "First option")
			})
		})

		Convey("When the filter does not compile", func() {
			_, err := catalog.New(catalog.DefaultOptions, catalog.WithFilter("price <=="))

			Convey("Then ErrInvalidFilter is returned", func() {
				So(errors.Is(err, catalog.ErrInvalidFilter), ShouldBeTrue)
			})
		})

		Convey("When the filter is not boolean", func() {
			_, err := catalog.New(catalog.DefaultOptions, catalog.WithFilter("price + 1"))

			Convey("Then ErrInvalidFilter is returned", func() {
				So(errors.Is(err, catalog.ErrInvalidFilter), ShouldBeTrue)
			})
		})

		Convey("When two options share an id", func() {
			dup := append(catalog.Order(0, catalog.DefaultOptions), model.Option{ID: 1, Name: "again"})
			_, err := catalog.New(dup)

			Convey("Then ErrInvalidOption is returned", func() {
				So(errors.Is(err, catalog.ErrInvalidOption), ShouldBeTrue)
			})
		})

		Convey("When ordering a day", func() {
			loc, _ := catalog.LoadLocation("")
			cat, err := catalog.New(catalog.DefaultOptions, catalog.WithLocation(loc))
			So(err, ShouldBeNil)
			morning := time.Date(2024, 3, 5, 9, 0, 0, 0, loc)
			evening := time.Date(2024, 3, 5, 21, 0, 0, 0, loc)

			startA, orderA := cat.Daily(morning)
			startB, orderB := cat.Daily(evening)

			Convey("Then the whole day shares a boundary and an order", func() {
				So(startA.Equal(startB), ShouldBeTrue)
				So(ids(orderA), ShouldResemble, ids(orderB))
			})
		})
	})
}
