package timing_test

import (
	"math"
	"testing"

	"github.com/okian/forecast/internal/domain/timing"
	. "github.com/smartystreets/goconvey/convey"
)

func f(v float64) *float64 { return &v }

func TestResolve(t *testing.T) {
	Convey("Given explicit delay and hold", t, func() {
		r := timing.Resolve(timing.Input{Delay: f(30), Hold: f(60), Text: "5-10"})

		Convey("Then they take precedence over the text", func() {
			So(r, ShouldResemble, timing.Resolved{Delay: 30, Hold: 60, Total: 90})
		})
	})

	Convey("Given only a range definition", t, func() {
		Convey("When written low to high", func() {
			r := timing.Resolve(timing.Input{Text: "30-90"})
			So(r, ShouldResemble, timing.Resolved{Delay: 30, Hold: 60, Total: 90})
		})

		Convey("When written high to low with an en dash", func() {
			r := timing.Resolve(timing.Input{Text: "90–30 days"})
			So(r, ShouldResemble, timing.Resolved{Delay: 30, Hold: 60, Total: 90})
		})

		Convey("When expressed in weeks", func() {
			r := timing.Resolve(timing.Input{Text: "2-4 weeks"})
			So(r, ShouldResemble, timing.Resolved{Delay: 14, Hold: 14, Total: 28})
		})
	})

	Convey("Given a single number", t, func() {
		r := timing.Resolve(timing.Input{Text: "45"})

		Convey("Then it is a hold with no delay", func() {
			So(r, ShouldResemble, timing.Resolved{Delay: 0, Hold: 45, Total: 45})
		})
	})

	Convey("Given an explicit delay and total but no hold", t, func() {
		r := timing.Resolve(timing.Input{Delay: f(20), Total: f(120)})

		Convey("Then hold falls back to total minus delay", func() {
			So(r, ShouldResemble, timing.Resolved{Delay: 20, Hold: 100, Total: 120})
		})
	})

	Convey("Given a total smaller than the resolved delay", t, func() {
		r := timing.Resolve(timing.Input{Delay: f(50), Total: f(30)})

		Convey("Then hold is clamped and total covers delay+hold", func() {
			So(r, ShouldResemble, timing.Resolved{Delay: 50, Hold: 0, Total: 50})
		})
	})

	Convey("Given nothing resolvable", t, func() {
		r := timing.Resolve(timing.Input{Text: "soon"})

		Convey("Then everything defaults to zero", func() {
			So(r, ShouldResemble, timing.Resolved{})
		})
	})

	Convey("Given malformed numbers", t, func() {
		r := timing.Resolve(timing.Input{Delay: f(-3), Hold: f(math.NaN())})

		Convey("Then they clamp to zero rather than going negative", func() {
			So(r, ShouldResemble, timing.Resolved{})
		})
	})
}

func TestResolveIdempotent(t *testing.T) {
	Convey("Given already-resolved values", t, func() {
		inputs := []timing.Input{
			{Text: "30-90"},
			{Text: "45"},
			{Delay: f(20), Total: f(120)},
			{Delay: f(7), Hold: f(14), Total: f(60)},
		}

		Convey("Then re-resolving does not change them", func() {
			for _, in := range inputs {
				first := timing.Resolve(in)
				d, h, tot := float64(first.Delay), float64(first.Hold), float64(first.Total)
				second := timing.Resolve(timing.Input{Delay: &d, Hold: &h, Total: &tot, Text: in.Text})
				So(second, ShouldResemble, first)
			}
		})
	})
}
