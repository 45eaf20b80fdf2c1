package model_test

import (
	"testing"
	"time"

	model "github.com/okian/forecast/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestParseCategory(t *testing.T) {
	convey.Convey("Given category names", t, func() {
		convey.Convey("When the name is known", func() {
			c, err := model.ParseCategory("predictive_value")

			convey.Convey("Then it should parse", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(c, convey.ShouldEqual, model.CategoryPredictive)
			})
		})

		convey.Convey("When the name is unknown", func() {
			_, err := model.ParseCategory("bonus")

			convey.Convey("Then it should be rejected", func() {
				convey.So(err, convey.ShouldEqual, model.ErrUnknownCategory)
			})
		})
	})
}

func TestCategoryEarnsPoints(t *testing.T) {
	convey.Convey("Given each category", t, func() {
		convey.So(model.CategoryGrossPoint.EarnsPoints(), convey.ShouldBeTrue)
		convey.So(model.CategoryVolume.EarnsPoints(), convey.ShouldBeTrue)
		convey.So(model.CategoryCustom.EarnsPoints(), convey.ShouldBeTrue)
		convey.So(model.CategoryPredictive.EarnsPoints(), convey.ShouldBeFalse)
		convey.So(model.CategoryRealized.EarnsPoints(), convey.ShouldBeFalse)
		convey.So(model.CategoryAnchor.EarnsPoints(), convey.ShouldBeFalse)
	})
}

func TestActivityLogPayoffEvent(t *testing.T) {
	convey.Convey("Given a processed predictive log", t, func() {
		ts := time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)
		log := model.ActivityLog{
			ID:        "log-1",
			UserID:    "agent-1",
			KPIID:     "calls",
			Category:  model.CategoryPredictive,
			Timestamp: ts,
			Effects: model.Effects{
				PredictiveMagnitude: 250,
				DelayDays:           30,
				HoldDays:            60,
				DecayDays:           180,
			},
		}

		convey.Convey("When converting to a payoff event", func() {
			ev := log.PayoffEvent()

			convey.Convey("Then the frozen timing is carried over", func() {
				convey.So(ev.KPIID, convey.ShouldEqual, "calls")
				convey.So(ev.Timestamp, convey.ShouldEqual, ts)
				convey.So(ev.Magnitude, convey.ShouldEqual, 250)
				convey.So(ev.DelayDays, convey.ShouldEqual, 30)
				convey.So(ev.HoldDays, convey.ShouldEqual, 60)
				convey.So(ev.DecayDays, convey.ShouldEqual, 180)
			})
		})
	})
}

func TestNewCalibrationState(t *testing.T) {
	convey.Convey("Given a fresh calibration pair", t, func() {
		s := model.NewCalibrationState("agent-1", "calls")

		convey.Convey("Then it starts neutral", func() {
			convey.So(s.Multiplier, convey.ShouldEqual, 1.0)
			convey.So(s.SampleSize, convey.ShouldEqual, 0)
			convey.So(s.RollingErrorRatio, convey.ShouldBeNil)
			convey.So(s.RollingAbsPctError, convey.ShouldBeNil)
		})
	})
}
